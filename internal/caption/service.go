// Package caption turns a description and a mood into exactly one short
// caption. It owns the request path (prompt, throttle, upstream call,
// extraction) and the single point where a failed attempt is replaced
// by a mock caption.
package caption

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/nugget/moodcaption/internal/gemini"
	"github.com/nugget/moodcaption/internal/httpkit"
	"github.com/nugget/moodcaption/internal/throttle"
)

// MissingKeyMessage is rendered in place of a caption when no API key
// is set and mock fallback is disabled.
const MissingKeyMessage = "Error: API_KEY not set. Please add it to your environment or .env file."

// maxLoggedBody bounds how much of an upstream error body is logged.
const maxLoggedBody = 500

// Request is one form submission.
type Request struct {
	// ID correlates log lines for this request. Optional.
	ID          string
	Description string
	Mood        string
}

// Backend performs the upstream call. *gemini.Client implements it.
type Backend interface {
	Configured() bool
	GenerateContent(ctx context.Context, req *gemini.Request) (*gemini.Response, error)
}

// Config configures a Service.
type Config struct {
	Backend Backend
	// Throttle is shared by every request in the process.
	Throttle *throttle.Throttle
	// MockFallback substitutes a mock caption when no key is configured.
	// Other failures always fall back to a mock caption.
	MockFallback bool
	Generation   gemini.GenerationConfig
	Logger       *slog.Logger
}

// Service generates captions.
type Service struct {
	backend      Backend
	throttle     *throttle.Throttle
	mockFallback bool
	generation   gemini.GenerationConfig
	logger       *slog.Logger
}

// NewService creates a Service. A nil Throttle gets a private one with
// the default interval.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	th := cfg.Throttle
	if th == nil {
		th = throttle.New(throttle.DefaultInterval, throttle.WithLogger(logger))
	}
	gen := cfg.Generation
	if gen.MaxOutputTokens == 0 {
		gen.MaxOutputTokens = 150
	}
	return &Service{
		backend:      cfg.Backend,
		throttle:     th,
		mockFallback: cfg.MockFallback,
		generation:   gen,
		logger:       logger,
	}
}

// Generate runs one request to completion. It always returns a caption;
// failures are reported through Outcome.Reason and Outcome.Err, never as
// a panic or a missing result.
func (s *Service) Generate(ctx context.Context, req Request) (out Outcome) {
	log := s.logger
	if req.ID != "" {
		log = log.With("request_id", req.ID)
	}

	defer func() {
		if r := recover(); r != nil {
			out = s.fallback(log, req, fmt.Errorf("%w: panic: %v", ErrUnexpected, r))
		}
	}()

	text, err := s.attempt(ctx, log, req)
	if err != nil {
		return s.fallback(log, req, err)
	}

	log.Debug("caption state", "state", StateSucceeded)
	log.Info("caption generated", "length", len(text))
	return Outcome{Caption: text, State: StateSucceeded}
}

// attempt walks PromptBuilt → Throttled → Requested and returns the
// extracted caption or the error that ends the attempt.
func (s *Service) attempt(ctx context.Context, log *slog.Logger, req Request) (string, error) {
	prompt := BuildPrompt(req.Description, req.Mood)
	log.Debug("caption state", "state", StatePromptBuilt)
	log.Log(ctx, gemini.LevelTrace, "prompt", "text", prompt)

	if s.backend == nil || !s.backend.Configured() {
		return "", ErrMissingAPIKey
	}

	started, err := s.throttle.Wait(ctx)
	if err != nil {
		return "", fmt.Errorf("throttle wait: %w", err)
	}
	log.Debug("caption state", "state", StateThrottled, "call_start", started)

	resp, err := s.backend.GenerateContent(ctx, gemini.NewTextRequest(prompt, s.generation))
	if err != nil {
		return "", err
	}
	log.Debug("caption state", "state", StateRequested, "candidates", len(resp.Candidates))

	text, ok := Extract(resp)
	if !ok {
		return "", ErrNoCaption
	}
	return text, nil
}

// fallback is the only place a caption is substituted.
func (s *Service) fallback(log *slog.Logger, req Request, err error) Outcome {
	reason := classify(err)
	out := Outcome{State: StateFallenBack, Reason: reason, Err: err}

	switch reason {
	case ReasonMissingKey:
		if !s.mockFallback {
			log.Warn("API key not set and mock fallback disabled")
			out.Caption = MissingKeyMessage
			return out
		}
		log.Info("API key not set, using mock caption")
	case ReasonUpstream:
		var attrs []any
		if se, ok := asStatusError(err); ok {
			attrs = append(attrs, "status", se.StatusCode, "body", truncate(se.Body, maxLoggedBody))
		}
		attrs = append(attrs, "rate_limited", gemini.IsRateLimited(err))
		log.Error("upstream API error, using mock caption", attrs...)
	case ReasonNetwork:
		log.Warn("upstream unreachable, using mock caption", "timeout", httpkit.IsTimeout(err), "error", err)
	case ReasonNoCaption:
		log.Warn("no usable caption in response, using mock caption")
	default:
		log.Warn("caption request failed, using mock caption", "reason", reason, "error", err)
	}

	log.Debug("caption state", "state", StateFallenBack, "reason", reason)
	out.Caption = Mock(req.Description, req.Mood)
	return out
}

// truncate returns at most n bytes of s, cut back to a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
