package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func newTestClient(t *testing.T, srv *httptest.Server, key string) *Client {
	t.Helper()
	return NewClient(Config{
		Endpoint: srv.URL + "/v1beta/models/test-model",
		APIKey:   key,
		Timeout:  2 * time.Second,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestGenerateContent_Success(t *testing.T) {
	var gotPath, gotKey string
	var gotBody Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Golden hour glow"}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "test-key")
	resp, err := c.GenerateContent(context.Background(), NewTextRequest("hello", GenerationConfig{Temperature: 0.7, MaxOutputTokens: 150}))
	if err != nil {
		t.Fatalf("GenerateContent error: %v", err)
	}

	if gotPath != "/v1beta/models/test-model:generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("key = %q, want test-key", gotKey)
	}
	if len(gotBody.Contents) != 1 || gotBody.Contents[0].Parts[0].Text != "hello" {
		t.Errorf("request contents = %+v", gotBody.Contents)
	}
	if gotBody.GenerationConfig == nil || gotBody.GenerationConfig.Temperature != 0.7 || gotBody.GenerationConfig.MaxOutputTokens != 150 {
		t.Errorf("generationConfig = %+v", gotBody.GenerationConfig)
	}

	if len(resp.Candidates) != 1 || resp.Candidates[0].Content == nil {
		t.Fatalf("candidates = %+v", resp.Candidates)
	}
	if got := resp.Candidates[0].Content.Parts[0].Text; got != "Golden hour glow" {
		t.Errorf("text = %q", got)
	}
}

func TestNewTextRequest_WireShape(t *testing.T) {
	b, err := json.Marshal(NewTextRequest("p", GenerationConfig{Temperature: 0.7, MaxOutputTokens: 150}))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"contents":[{"parts":[{"text":"p"}]}],"generationConfig":{"temperature":0.7,"maxOutputTokens":150}}`
	if string(b) != want {
		t.Errorf("wire body =\n%s\nwant\n%s", b, want)
	}
}

func TestGenerateContent_MissingKey(t *testing.T) {
	c := NewClient(Config{Endpoint: "http://127.0.0.1:1/models/x"})
	if c.Configured() {
		t.Fatal("client without key should not be configured")
	}
	_, err := c.GenerateContent(context.Background(), NewTextRequest("x", GenerationConfig{}))
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
}

func TestGenerateContent_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, "k").GenerateContent(context.Background(), NewTextRequest("x", GenerationConfig{}))

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", se.StatusCode)
	}
	if !strings.Contains(se.Body, "RESOURCE_EXHAUSTED") {
		t.Errorf("body = %q", se.Body)
	}
	if !IsRateLimited(err) {
		t.Error("IsRateLimited should be true for 429")
	}
}

func TestGenerateContent_DecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, "k").GenerateContent(context.Background(), NewTextRequest("x", GenerationConfig{}))
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
}

func TestGenerateContent_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(Config{
		Endpoint: srv.URL + "/m",
		APIKey:   "supersecretkey123",
		Timeout:  30 * time.Millisecond,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	_, err := c.GenerateContent(context.Background(), NewTextRequest("x", GenerationConfig{}))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
	if strings.Contains(err.Error(), "supersecretkey123") {
		t.Errorf("transport error leaks the API key: %v", err)
	}
}

// failingTransport records the request it was handed and refuses it.
// http.Client wraps the error in a *url.Error that quotes the full URL.
type failingTransport struct{ seen *http.Request }

func (f *failingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.seen = req
	return nil, errors.New("connection refused")
}

func TestGenerateContent_CustomTransport(t *testing.T) {
	ft := &failingTransport{}
	c := NewClient(Config{
		Endpoint:  "http://gemini.invalid/v1beta/models/m",
		APIKey:    "supersecretkey123",
		Transport: ft,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	_, err := c.GenerateContent(context.Background(), NewTextRequest("x", GenerationConfig{}))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
	if strings.Contains(err.Error(), "supersecretkey123") {
		t.Errorf("transport error leaks the API key: %v", err)
	}
	if ft.seen == nil {
		t.Fatal("custom transport was not used")
	}
	if ua := ft.seen.Header.Get("User-Agent"); !strings.HasPrefix(ua, "moodcaption/") {
		t.Errorf("User-Agent = %q, want moodcaption/ prefix", ua)
	}
}

func TestGenerateContent_LogsRedactedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var logs bytes.Buffer
	c := NewClient(Config{
		Endpoint: srv.URL + "/m",
		APIKey:   "supersecretkey123",
		Logger:   slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: LevelTrace})),
	})
	if _, err := c.GenerateContent(context.Background(), NewTextRequest("x", GenerationConfig{})); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(logs.String(), "supersecretkey123") {
		t.Errorf("logs leak the API key:\n%s", logs.String())
	}
	if !strings.Contains(logs.String(), "response payload") {
		t.Errorf("trace logs should include the response payload:\n%s", logs.String())
	}
}

func TestResponse_TolerantDecode(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty object", `{}`},
		{"null candidates", `{"candidates":null}`},
		{"null content", `{"candidates":[{"content":null}]}`},
		{"missing parts", `{"candidates":[{"content":{}}]}`},
		{"part without text", `{"candidates":[{"content":{"parts":[{}]}}]}`},
		{"numeric text", `{"candidates":[{"content":{"parts":[{"text":123}]}}]}`},
		{"string candidates", `{"candidates":"none"}`},
		{"wrong-typed metadata", `{"usageMetadata":[1],"promptFeedback":5,"modelVersion":2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Response
			if err := json.Unmarshal([]byte(tt.body), &r); err != nil {
				t.Errorf("Unmarshal(%s) error: %v", tt.body, err)
			}
		})
	}
}

func TestGenerateContent_KeepsWellFormedCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Golden hour, golden mood"}]}},{"content":{"parts":[{"text":123}]}},"junk"]}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv, "k").GenerateContent(context.Background(), NewTextRequest("x", GenerationConfig{}))
	if err != nil {
		t.Fatalf("GenerateContent error: %v", err)
	}
	if len(resp.Candidates) != 2 {
		t.Fatalf("candidates = %d, want 2 (non-object dropped)", len(resp.Candidates))
	}
	if got := resp.Candidates[0].Content.Parts[0].Text; got != "Golden hour, golden mood" {
		t.Errorf("first text = %q", got)
	}
	if got := resp.Candidates[1].Content.Parts[0].Text; got != "" {
		t.Errorf("numeric text decoded as %q, want empty", got)
	}
}

func TestResponse_MetadataDecoded(t *testing.T) {
	var r Response
	body := `{"candidates":[{"content":{"role":"model","parts":[{"text":"hi"}]},"finishReason":"STOP"}],"promptFeedback":{"blockReason":"OTHER"},"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":4,"totalTokenCount":7},"modelVersion":"gemini-2.0-flash"}`
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		t.Fatal(err)
	}
	c := r.Candidates[0]
	if c.FinishReason != "STOP" || c.Content.Role != "model" || c.Content.Parts[0].Text != "hi" {
		t.Errorf("candidate = %+v", c)
	}
	if r.PromptFeedback == nil || r.PromptFeedback.BlockReason != "OTHER" {
		t.Errorf("promptFeedback = %+v", r.PromptFeedback)
	}
	if r.UsageMetadata == nil || r.UsageMetadata.TotalTokenCount != 7 {
		t.Errorf("usageMetadata = %+v", r.UsageMetadata)
	}
	if r.ModelVersion != "gemini-2.0-flash" {
		t.Errorf("modelVersion = %q", r.ModelVersion)
	}
}

func TestExcerpt_RuneBoundary(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc..."},
		{"aé", 2, "a..."},
		{"日本語", 4, "日..."},
	}
	for _, tt := range tests {
		got := excerpt([]byte(tt.in), tt.n)
		if got != tt.want {
			t.Errorf("excerpt(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("excerpt(%q, %d) produced invalid UTF-8", tt.in, tt.n)
		}
	}
}

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"429", &StatusError{StatusCode: 429}, true},
		{"403 quota body", &StatusError{StatusCode: 403, Body: "Quota exceeded for project"}, true},
		{"400 plain", &StatusError{StatusCode: 400, Body: "bad request"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRateLimited(tt.err); got != tt.want {
				t.Errorf("IsRateLimited(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
