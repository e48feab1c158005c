package types

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure so the dispatcher can pick the right wire
// event without inspecting message strings.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindUnauthorized
	KindRuleViolation
	KindRateLimit
	KindConflict
	KindTransient
	KindFatal
)

// Error is a classified domain error. Event optionally overrides the wire
// event used to deliver it (e.g. GAME_NOT_FOUND instead of plain ERROR).
type Error struct {
	Kind  Kind
	Event string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// EventOf returns the overriding wire event for err, if any.
func EventOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Event
	}
	return ""
}

func ValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func NotFoundError(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func UnauthorizedError(format string, args ...any) *Error {
	return &Error{Kind: KindUnauthorized, Event: EventUnauthorized, Msg: fmt.Sprintf(format, args...)}
}

func RuleViolationError(format string, args ...any) *Error {
	return &Error{Kind: KindRuleViolation, Msg: fmt.Sprintf(format, args...)}
}

func RateLimitError(format string, args ...any) *Error {
	return &Error{Kind: KindRateLimit, Msg: fmt.Sprintf(format, args...)}
}

func ConflictError(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// TransientError wraps a store or oracle failure the caller may retry.
func TransientError(msg string, err error) *Error {
	return &Error{Kind: KindTransient, Msg: msg, Err: err}
}

// WithEvent returns a copy of the error delivered on a specific wire event.
func (e *Error) WithEvent(event string) *Error {
	clone := *e
	clone.Event = event
	return &clone
}
