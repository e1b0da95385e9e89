package shot

import "errors"

// Kind classifies a capture failure. All kinds are terminal.
type Kind string

const (
	KindNoActiveTab    Kind = "NoActiveTab"
	KindRestrictedPage Kind = "RestrictedPage"
	KindGeometry       Kind = "GeometryError"
	KindCapture        Kind = "CaptureError"
	KindEncode         Kind = "EncodeError"
	KindInjection      Kind = "InjectionError"
	KindBusy           Kind = "Busy"
	KindPersist        Kind = "PersistError"
	KindInvalidRequest Kind = "InvalidRequest"
)

// Error is a classified capture failure. Message is what the user sees.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so the sentinels below work
// with errors.Is regardless of the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

var (
	ErrNoActiveTab   = &Error{Kind: KindNoActiveTab, Message: "No active tab found"}
	ErrRestrictedURL = &Error{Kind: KindRestrictedPage, Message: "Restricted URL"}
	ErrBusy          = &Error{Kind: KindBusy, Message: "Capture already in progress"}
)

// Wrap classifies err under kind with a user-facing message.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
