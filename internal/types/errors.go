package types

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match on these with errors.Is; every error surfaced by
// the cache, connection and booster packages carries exactly one of them.
var (
	// ErrNotFound indicates data is unavailable: unknown dataset name, missing
	// or corrupt cache entry, absent booster configuration.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument indicates malformed caller input. Never retryable.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNetwork indicates a transport-level failure talking to the CDN.
	ErrNetwork = errors.New("network error")

	// ErrIO indicates a local filesystem failure.
	ErrIO = errors.New("io error")

	// ErrDecode indicates a malformed JSON payload.
	ErrDecode = errors.New("decode error")

	// ErrQuery indicates the embedded engine rejected a query.
	ErrQuery = errors.New("query error")
)

// Error is a typed, human-readable failure. Kind is one of the sentinels
// above; Err is the underlying cause, if any.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

// Unwrap exposes both the kind and the cause, so errors.Is matches either.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NotFound builds an ErrNotFound error with a formatted message.
func NotFound(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Msg: fmt.Sprintf(format, args...)}
}

// InvalidArgument builds an ErrInvalidArgument error with a formatted message.
func InvalidArgument(format string, args ...any) error {
	return &Error{Kind: ErrInvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and a message to cause. Returns nil for a nil cause.
func Wrap(kind error, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// Retryable reports whether repeating the failed call could succeed.
// NotFound covers staleness and self-healed corrupt files; Network covers
// transient CDN failures. InvalidArgument and Query never are.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrQuery) {
		return false
	}
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNetwork)
}
