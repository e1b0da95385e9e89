// Package notify delivers user-facing capture notifications.
//
// Notifications are fire-and-forget. A notification with an ID replaces any
// earlier one carrying the same ID, which is how full-page progress is
// shown as a single updating message. Clear withdraws it.
package notify

import (
	"context"
	"time"
)

// Kind tells sinks how to present a notification.
type Kind string

const (
	KindProgress Kind = "progress"
	KindError    Kind = "error"
	KindInfo     Kind = "info"
)

// Notification is one user-facing message.
type Notification struct {
	ID        string    `json:"id,omitempty"`
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Progress  int       `json:"progress,omitempty"`
	Silent    bool      `json:"silent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier is implemented by every sink.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
	Clear(ctx context.Context, id string) error
}

// Progress builds the in-place progress notification for a capture run.
func Progress(id, message string, pct int) Notification {
	return Notification{
		ID:        id,
		Kind:      KindProgress,
		Title:     "Capturing page",
		Message:   message,
		Progress:  pct,
		Silent:    true,
		Timestamp: time.Now().UTC(),
	}
}

// Failure builds an error notification.
func Failure(title, message string) Notification {
	return Notification{
		Kind:      KindError,
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Info builds a plain notification.
func Info(title, message string) Notification {
	return Notification{
		Kind:      KindInfo,
		Title:     title,
		Message:   message,
		Silent:    true,
		Timestamp: time.Now().UTC(),
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }
func (Nop) Clear(context.Context, string) error         { return nil }
