// Package gemini is a minimal client for the Gemini generateContent REST
// endpoint. It sends one request and decodes one response. There is no
// retry, streaming or multi-turn support.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/moodcaption/internal/httpkit"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

const (
	// maxResponseBytes caps how much of a success body is read.
	maxResponseBytes = 1 << 20
	// maxErrorBodyBytes caps how much of an error body is kept for logs.
	maxErrorBodyBytes = 4096
	// traceExcerptBytes is how much of a payload is written to trace logs.
	traceExcerptBytes = 500
)

// ErrMissingAPIKey is returned when GenerateContent is called on a
// client without a key.
var ErrMissingAPIKey = errors.New("gemini: API key not set")

// ErrTransport marks failures below HTTP: dial errors, resets, and
// timeouts. It is joined with the underlying cause.
var ErrTransport = errors.New("gemini: transport failure")

// ErrDecode marks a 2xx response whose body is not a valid response
// document.
var ErrDecode = errors.New("gemini: malformed response")

// StatusError is returned when the endpoint answers with a non-2xx
// status. Body holds at most a few KiB of the response for diagnostics;
// it is meant for operator logs, not end users.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini API error %d: %s", e.StatusCode, e.Body)
}

// IsRateLimited reports whether err looks like a rate or quota rejection:
// HTTP 429, or an error body naming one of the usual quota markers.
func IsRateLimited(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	if se.StatusCode == http.StatusTooManyRequests {
		return true
	}
	body := strings.ToLower(se.Body)
	for _, marker := range []string{"rate limit", "rate_limit", "quota", "too many requests", "requests per minute", "resource_exhausted"} {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

// Config configures a Client.
type Config struct {
	// Endpoint is the model resource URL without the ":generateContent"
	// suffix, e.g. https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash.
	Endpoint string
	APIKey   string
	// Timeout bounds each call. Zero means httpkit.DefaultTimeout.
	Timeout time.Duration
	// Transport replaces the default network transport. The User-Agent
	// header is still applied on top of it.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// Client calls generateContent on a single model endpoint.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client.
func NewClient(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = httpkit.DefaultTimeout
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   strings.TrimSpace(cfg.APIKey),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithTransport(cfg.Transport),
		),
		logger:     logger.With("provider", "gemini"),
	}
}

// Configured reports whether the client has an API key.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// generateURL returns the full call URL including the key parameter.
func (c *Client) generateURL() string {
	return c.endpoint + ":generateContent?key=" + url.QueryEscape(c.apiKey)
}

// GenerateContent sends req and decodes the response. Errors are:
//   - [ErrMissingAPIKey] when the client has no key
//   - *[StatusError] for a non-2xx answer
//   - [ErrTransport] joined with the cause for network failures and timeouts
//   - [ErrDecode] joined with the cause when the body is not valid JSON
func (c *Client) GenerateContent(ctx context.Context, req *Request) (*Response, error) {
	if !c.Configured() {
		return nil, ErrMissingAPIKey
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	callURL := c.generateURL()
	c.logger.Debug("sending generateContent request", "url", httpkit.RedactURL(callURL, "key"))
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, callURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, scrubURLError(err))
	}

	c.logger.Debug("response received", "status", resp.StatusCode, "elapsed", time.Since(start).Round(time.Millisecond))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := httpkit.ReadErrorBody(resp.Body, maxErrorBodyBytes)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrTransport, scrubURLError(err))
	}
	c.logger.Log(ctx, LevelTrace, "response payload", "json", excerpt(body, traceExcerptBytes))

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return &out, nil
}

// scrubURLError removes the request URL, which carries the API key, from
// *url.Error values before they reach logs. The underlying cause stays
// reachable through errors.Is/As.
func scrubURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}

// excerpt returns at most n bytes of b, cut back to a rune boundary.
func excerpt(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}
	return string(b[:n]) + "..."
}
