package source

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// NormalizeBaseURL trims whitespace and trailing slashes, defaults the
// scheme to https and lowercases scheme and host.
func NormalizeBaseURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	s = strings.TrimRight(s, "/")
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return s
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return strings.TrimRight(u.String(), "/")
}

// AbsoluteURL resolves ref against base. Protocol-relative refs get https.
func AbsoluteURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return ""
	case strings.HasPrefix(ref, "//"):
		return "https:" + ref
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return ref
	}
	return NormalizeBaseURL(base) + "/" + strings.TrimLeft(ref, "/")
}

// BuildTags ANDs search tokens, the site's extra tags and the rating tag.
// Duplicates are dropped, first occurrence wins.
func BuildTags(search, extra, ratingTag string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(tok string) {
		if tok == "" || seen[tok] {
			return
		}
		seen[tok] = true
		out = append(out, tok)
	}
	for _, tok := range strings.Fields(search) {
		add(tok)
	}
	for _, tok := range strings.Fields(extra) {
		add(tok)
	}
	add(ratingTag)
	return out
}

// RatingTag maps a site rating setting to the site type's filter token.
func RatingTag(t SiteType, rating string) string {
	rating = strings.ToLower(strings.TrimSpace(rating))
	if rating == "" || rating == "all" {
		return ""
	}
	switch t {
	case Danbooru:
		switch rating {
		case "safe":
			return "rating:g"
		case "sensitive":
			return "rating:s"
		case "questionable":
			return "rating:q"
		case "explicit":
			return "rating:e"
		}
	case Gelbooru:
		if rating == "safe" {
			return "rating:general"
		}
		return "rating:" + rating
	case Moebooru, E621:
		switch rating {
		case "safe", "sensitive":
			return "rating:s"
		case "questionable":
			return "rating:q"
		case "explicit":
			return "rating:e"
		}
	case Philomena:
		if rating == "sensitive" {
			return "suggestive"
		}
		return rating
	}
	return ""
}

// ratingName expands single-letter ratings into the long form used on posts.
func ratingName(r string) string {
	switch strings.ToLower(strings.TrimSpace(r)) {
	case "g", "general":
		return "general"
	case "s", "safe":
		return "safe"
	case "sensitive":
		return "sensitive"
	case "q", "questionable":
		return "questionable"
	case "e", "explicit":
		return "explicit"
	}
	return strings.ToLower(strings.TrimSpace(r))
}

// millisThreshold separates unix seconds from unix milliseconds.
const millisThreshold = 1e12

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000-07:00",
	"2006-01-02 15:04:05 -0700",
	time.RubyDate,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime accepts unix seconds, unix milliseconds, numeric strings and
// common API date formats. Anything else yields nil.
func ParseTime(v any) *time.Time {
	switch x := v.(type) {
	case nil:
		return nil
	case int64:
		return unixTime(float64(x))
	case int:
		return unixTime(float64(x))
	case float64:
		return unixTime(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil
		}
		return unixTime(f)
	case string:
		return parseTimeString(x)
	}
	return nil
}

func parseTimeString(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return unixTime(f)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func unixTime(f float64) *time.Time {
	if f <= 0 {
		return nil
	}
	var t time.Time
	if f >= millisThreshold {
		t = time.UnixMilli(int64(f)).UTC()
	} else {
		t = time.Unix(int64(f), 0).UTC()
	}
	return &t
}

// flexTime decodes any timestamp representation ParseTime understands.
type flexTime struct {
	t *time.Time
}

func (f *flexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		f.t = nil
		return nil
	}
	// Moebooru sometimes nests {"json_class":"Time","s":...,"n":...}.
	if data[0] == '{' {
		var nested struct {
			S int64 `json:"s"`
		}
		if err := json.Unmarshal(data, &nested); err != nil {
			f.t = nil
			return nil
		}
		f.t = unixTime(float64(nested.S))
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			f.t = nil
			return nil
		}
		f.t = parseTimeString(s)
		return nil
	}
	f.t = ParseTime(json.Number(data))
	return nil
}

// flexInt decodes numbers that some APIs send as strings.
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(data) == 0 || string(data) == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = flexInt(f)
	return nil
}

// flexID decodes ids sent as numbers or strings.
type flexID string

func (id *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	if string(data) == "null" {
		*id = ""
		return nil
	}
	*id = flexID(data)
	return nil
}

func intPtr(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}

func firstString(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// pageNumber reads a one-based page cursor.
func pageNumber(c Cursor) int {
	n, err := strconv.Atoi(strings.TrimSpace(string(c)))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func nextPage(page int) Cursor {
	return Cursor(strconv.Itoa(page + 1))
}

func limitOf(req Request) int {
	if req.Limit <= 0 {
		return DefaultLimit
	}
	return req.Limit
}

// viewable reports whether a post has a reachable full-size asset.
func viewable(p Post) bool {
	return p.ID != "" && p.FileURL != ""
}

// fillURLs applies the preview, sample and file fallback chain.
func fillURLs(p *Post) {
	if p.SampleURL == "" {
		p.SampleURL = p.FileURL
	}
	if p.PreviewURL == "" {
		p.PreviewURL = p.SampleURL
	}
	if p.FileURL == "" {
		p.FileURL = p.SampleURL
	}
}
