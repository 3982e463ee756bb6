// Package transport performs the HTTP calls made by source adapters and the sync client.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ppiankov/boorupan/internal/privacy"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "boorupan/1.0 (+https://github.com/ppiankov/boorupan)"
	maxErrorBody     = 512
)

// Client is the set of calls adapters and the sync client depend on.
type Client interface {
	GetJSON(ctx context.Context, rawURL string, out any) error
	GetText(ctx context.Context, rawURL string) (string, error)
	PostForm(ctx context.Context, rawURL string, form url.Values, out any) error
	PostJSON(ctx context.Context, rawURL string, body, out any) error
	PutJSON(ctx context.Context, rawURL string, body, out any) error
	Delete(ctx context.Context, rawURL string) error
	Stream(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Option configures an HTTP client.
type Option func(*HTTP)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTP) { h.client = c }
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(h *HTTP) {
		if d > 0 {
			h.client.Timeout = d
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(h *HTTP) { h.userAgent = ua }
}

// WithRateLimit limits requests per host. Zero or negative disables limiting.
func WithRateLimit(perSecond float64) Option {
	return func(h *HTTP) {
		if perSecond <= 0 {
			h.limit = rate.Inf
			return
		}
		h.limit = rate.Limit(perSecond)
	}
}

// WithBearer attaches "Authorization: Bearer <token>" using the token
// returned by fn at request time. An empty token sends no header.
func WithBearer(fn func() string) Option {
	return func(h *HTTP) { h.token = fn }
}

// HTTP implements Client over net/http.
type HTTP struct {
	client    *http.Client
	userAgent string
	token     func() string
	limit     rate.Limit

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates an HTTP client. Defaults: 30s timeout, no rate limit.
func New(opts ...Option) *HTTP {
	h := &HTTP{
		client:    &http.Client{Timeout: DefaultTimeout},
		userAgent: DefaultUserAgent,
		limit:     rate.Inf,
		limiters:  make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTP) GetJSON(ctx context.Context, rawURL string, out any) error {
	return h.doJSON(ctx, http.MethodGet, rawURL, nil, "", out)
}

func (h *HTTP) GetText(ctx context.Context, rawURL string) (string, error) {
	resp, err := h.do(ctx, http.MethodGet, rawURL, nil, "")
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", privacy.RedactURL(rawURL), err)
	}
	return string(data), nil
}

func (h *HTTP) PostForm(ctx context.Context, rawURL string, form url.Values, out any) error {
	return h.doJSON(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", out)
}

func (h *HTTP) PostJSON(ctx context.Context, rawURL string, body, out any) error {
	return h.sendJSON(ctx, http.MethodPost, rawURL, body, out)
}

func (h *HTTP) PutJSON(ctx context.Context, rawURL string, body, out any) error {
	return h.sendJSON(ctx, http.MethodPut, rawURL, body, out)
}

func (h *HTTP) Delete(ctx context.Context, rawURL string) error {
	return h.doJSON(ctx, http.MethodDelete, rawURL, nil, "", nil)
}

// Stream opens a long-lived GET. The request is not bound by the client
// timeout; cancel ctx or close the body to end it.
func (h *HTTP) Stream(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := h.newRequest(ctx, http.MethodGet, rawURL, nil, "")
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	streaming := &http.Client{Transport: h.client.Transport}
	resp, err := streaming.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", privacy.RedactURL(rawURL), err)
	}
	if err := checkStatus(resp, http.MethodGet, rawURL); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (h *HTTP) sendJSON(ctx context.Context, method, rawURL string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return h.doJSON(ctx, method, rawURL, bytes.NewReader(data), "application/json", out)
}

func (h *HTTP) doJSON(ctx context.Context, method, rawURL string, body io.Reader, contentType string, out any) error {
	resp, err := h.do(ctx, method, rawURL, body, contentType)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", privacy.RedactURL(rawURL), err)
	}
	return nil
}

func (h *HTTP) do(ctx context.Context, method, rawURL string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := h.newRequest(ctx, method, rawURL, body, contentType)
	if err != nil {
		return nil, err
	}
	if err := h.limiter(req.URL.Host).Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, privacy.RedactURL(rawURL), unwrapURLError(err))
	}
	if err := checkStatus(resp, method, rawURL); err != nil {
		return nil, err
	}
	return resp, nil
}

func (h *HTTP) newRequest(ctx context.Context, method, rawURL string, body io.Reader, contentType string) (*http.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", h.userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if h.token != nil {
		if tok := h.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	return req, nil
}

func (h *HTTP) limiter(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(h.limit, 1)
		h.limiters[host] = l
	}
	return l
}

func checkStatus(resp *http.Response, method, rawURL string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer func() { _ = resp.Body.Close() }()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Method: method,
		URL:    privacy.RedactURL(rawURL),
		Code:   resp.StatusCode,
		Body:   strings.TrimSpace(string(snippet)),
	}
}

// unwrapURLError drops the *url.Error wrapper, whose message repeats the
// unredacted URL.
func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
