package types

import "errors"

// Kind classifies the structural errors the core components return. The
// HTTP boundary translates kinds into status codes; nothing is retried.
type Kind string

const (
	KindInvalidInput           Kind = "invalid_input"
	KindUnauthorized           Kind = "unauthorized"
	KindInsufficientCollateral Kind = "insufficient_collateral"
	KindForbidden              Kind = "forbidden"
	KindNotFound               Kind = "not_found"
	KindConflict               Kind = "conflict"
	KindSelfMatch              Kind = "self_match"
	KindTooEarly               Kind = "too_early"
	KindTooLate                Kind = "too_late"
)

// Error carries a kind plus a human-readable message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// E builds a kinded error.
func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// KindOf extracts the kind from err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
