// Package privacy scrubs credentials out of text before it reaches logs or errors.
package privacy

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// credentialParams are query parameters booru APIs accept as credentials.
var credentialParams = []string{"api_key", "key", "login", "user_id", "password_hash", "token", "access_token"}

var (
	bearerRe = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/=-]+`)
	urlRe    = regexp.MustCompile(`https?://[^\s"'<>]*[^\s"'<>.,:;)]`)
)

// Compile compiles a list of regex pattern strings into compiled regexps.
// Returns an error if any pattern is invalid.
func Compile(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile redact pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Apply replaces all matches of the compiled patterns in text with [REDACTED].
func Apply(text string, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		text = re.ReplaceAllString(text, redactedPlaceholder)
	}
	return text
}

// RedactURL masks credential query parameters and userinfo in raw.
// Unparseable input is returned with bearer tokens masked only.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return RedactToken(raw)
	}
	if u.User != nil {
		u.User = url.User(redactedPlaceholder)
	}
	q := u.Query()
	changed := false
	for _, name := range credentialParams {
		if q.Has(name) {
			q.Set(name, redactedPlaceholder)
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	out := u.String()
	// url.String escapes the placeholder brackets.
	out = strings.ReplaceAll(out, url.QueryEscape(redactedPlaceholder), redactedPlaceholder)
	out = strings.ReplaceAll(out, url.PathEscape(redactedPlaceholder), redactedPlaceholder)
	return out
}

// RedactToken masks bearer tokens in text.
func RedactToken(text string) string {
	return bearerRe.ReplaceAllString(text, "${1}"+redactedPlaceholder)
}

// RedactURLs applies RedactURL to every http(s) URL embedded in text.
func RedactURLs(text string) string {
	return urlRe.ReplaceAllStringFunc(text, RedactURL)
}
