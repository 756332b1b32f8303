package weather

import "fmt"

// Kind classifies a failed lookup.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindMalformed
	KindUpstream
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindMalformed:
		return "malformed"
	case KindUpstream:
		return "upstream"
	case KindTimeout:
		return "timeout"
	}
	return "unknown"
}

// Error is returned by every failed Fetch.
type Error struct {
	Kind   Kind
	City   string
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("weather: %s for %q", e.Kind, e.City)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Code is used as err_code in handler logs.
func (e *Error) Code() string { return "weather_" + e.Kind.String() }

// Retryable reports whether asking the user for another city can succeed.
// Upstream and timeout failures are not fixed by different input.
func (e *Error) Retryable() bool {
	return e.Kind == KindNotFound || e.Kind == KindMalformed
}
