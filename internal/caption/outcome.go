package caption

import (
	"context"
	"errors"

	"github.com/nugget/moodcaption/internal/gemini"
)

// State names a step of one caption request. Requests move
// Idle → PromptBuilt → Throttled → Requested and end in either
// Succeeded or FallenBack.
type State string

const (
	StateIdle        State = "idle"
	StatePromptBuilt State = "prompt_built"
	StateThrottled   State = "throttled"
	StateRequested   State = "requested"
	StateSucceeded   State = "succeeded"
	StateFallenBack  State = "fallen_back"
)

// Reason explains why a request fell back.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonMissingKey Reason = "missing_key"
	ReasonNetwork    Reason = "network"
	ReasonUpstream   Reason = "upstream"
	ReasonNoCaption  Reason = "no_caption"
	ReasonUnexpected Reason = "unexpected"
)

var (
	// ErrMissingAPIKey means no API key is configured.
	ErrMissingAPIKey = errors.New("caption: API key not set")

	// ErrNoCaption means the upstream answered but no line qualified.
	ErrNoCaption = errors.New("caption: no usable line in response")

	// ErrUnexpected marks failures outside the known taxonomy, such as
	// a recovered panic.
	ErrUnexpected = errors.New("caption: unexpected failure")
)

// Outcome is the terminal result of one request: exactly one caption,
// plus how it was produced.
type Outcome struct {
	Caption string
	State   State
	Reason  Reason
	// Err is the cause of a fallback, for operator logs only.
	Err error
}

// FellBack reports whether the caption was substituted.
func (o Outcome) FellBack() bool {
	return o.State == StateFallenBack
}

// classify maps an error from the request path onto a fallback Reason.
func classify(err error) Reason {
	_, upstream := asStatusError(err)
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrMissingAPIKey), errors.Is(err, gemini.ErrMissingAPIKey):
		return ReasonMissingKey
	case upstream:
		return ReasonUpstream
	case errors.Is(err, gemini.ErrTransport),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return ReasonNetwork
	case errors.Is(err, ErrNoCaption):
		return ReasonNoCaption
	default:
		return ReasonUnexpected
	}
}

func asStatusError(err error) (*gemini.StatusError, bool) {
	var se *gemini.StatusError
	ok := errors.As(err, &se)
	return se, ok
}
