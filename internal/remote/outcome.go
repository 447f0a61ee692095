package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited means the service asked us to slow down (HTTP 429).
	ErrRateLimited = errors.New("rate limited")

	// ErrAuthExpired means the session credential was rejected (HTTP 401).
	ErrAuthExpired = errors.New("auth expired")

	// ErrTransient covers a network error, timeout or any other 4xx/5xx.
	ErrTransient = errors.New("transient failure")

	// ErrFatal means the request can never succeed as built.
	ErrFatal = errors.New("fatal failure")
)

// Kind is the transport-level classification of one call.
type Kind int

const (
	KindOK Kind = iota
	KindRateLimited
	KindAuthExpired
	KindRetryable
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindRateLimited:
		return "rate_limited"
	case KindAuthExpired:
		return "auth_expired"
	case KindRetryable:
		return "retryable"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the tagged result of exactly one remote call.
type Outcome struct {
	Kind       Kind
	StatusCode int
	Payload    map[string]any
	Reason     string
}

// OK builds a successful outcome.
func OK(payload map[string]any) Outcome {
	if payload == nil {
		payload = map[string]any{}
	}
	return Outcome{Kind: KindOK, StatusCode: 200, Payload: payload}
}

// RateLimited builds a rate-limited outcome.
func RateLimited() Outcome {
	return Outcome{Kind: KindRateLimited, StatusCode: 429, Reason: "too many requests"}
}

// AuthExpired builds an auth-expired outcome.
func AuthExpired(reason string) Outcome {
	return Outcome{Kind: KindAuthExpired, StatusCode: 401, Reason: reason}
}

// Retryable builds a retryable failure.
func Retryable(reason string) Outcome {
	return Outcome{Kind: KindRetryable, Reason: reason}
}

// Fatal builds a non-retryable failure.
func Fatal(reason string) Outcome {
	return Outcome{Kind: KindFatal, Reason: reason}
}

// IsOK reports whether the call succeeded at transport level.
func (o Outcome) IsOK() bool {
	return o.Kind == KindOK
}

// Err converts a failed outcome into an error wrapping the matching sentinel.
// Returns nil for KindOK.
func (o Outcome) Err() error {
	var base error
	switch o.Kind {
	case KindOK:
		return nil
	case KindRateLimited:
		base = ErrRateLimited
	case KindAuthExpired:
		base = ErrAuthExpired
	case KindRetryable:
		base = ErrTransient
	default:
		base = ErrFatal
	}
	if o.Reason == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, o.Reason)
}

// Bool reads a boolean payload field.
func (o Outcome) Bool(key string) bool {
	v, ok := o.Payload[key].(bool)
	return ok && v
}

// Int reads a numeric payload field. JSON numbers decode as float64.
func (o Outcome) Int(key string) (int64, bool) {
	switch n := o.Payload[key].(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

// Text reads a string payload field.
func (o Outcome) Text(key string) string {
	s, _ := o.Payload[key].(string)
	return s
}
