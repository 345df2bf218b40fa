package engine

import "fmt"

// Kind classifies failures at the engine boundary.
type Kind int

const (
	// KindGuestRuntime is any guest-raised failure not covered by a more
	// specific kind. Carries the guest error text.
	KindGuestRuntime Kind = iota
	// KindClosedEngine means the operation arrived after Close.
	KindClosedEngine
	// KindNotCallable means the call target is absent or not a function.
	KindNotCallable
	// KindUnsupportedType means a value at the boundary has no mapping.
	KindUnsupportedType
	// KindResourceLimit is the instruction-budget sentinel, kept separate
	// from KindGuestRuntime so callers can retry with backoff instead of
	// treating the script as broken.
	KindResourceLimit
	// KindWorkerUnavailable means the worker process died or never started.
	KindWorkerUnavailable
)

var kindLabels = map[Kind]string{
	KindGuestRuntime:      "guest_runtime",
	KindClosedEngine:      "closed_engine",
	KindNotCallable:       "not_callable",
	KindUnsupportedType:   "unsupported_type",
	KindResourceLimit:     "resource_limit",
	KindWorkerUnavailable: "worker_unavailable",
}

func (k Kind) String() string {
	if s, ok := kindLabels[k]; ok {
		return s
	}
	return "guest_runtime"
}

// KindFromString maps a wire label back to a Kind. Unknown labels fall
// back to KindGuestRuntime.
func KindFromString(s string) Kind {
	for k, label := range kindLabels {
		if label == s {
			return k
		}
	}
	return KindGuestRuntime
}

// Error is the classified result of a failed engine operation.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds a classified error.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ErrClosed is returned by Execute and Call after Close.
var ErrClosed = &Error{Kind: KindClosedEngine, Message: "engine is closed"}

// KindOf extracts the Kind from an error, defaulting to KindGuestRuntime
// for anything that is not an *Error.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindGuestRuntime
}
