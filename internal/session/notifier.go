package session

import (
	"context"
	"time"
)

// Session event names emitted through the Notifier capability.
const (
	EventLoggedIn      = "session.logged_in"
	EventLoggedOut     = "session.logged_out"
	EventRenewalFailed = "session.renewal_failed"
)

// Event is a session lifecycle notification.
type Event struct {
	Type   string         `json:"type"`
	At     time.Time      `json:"at"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Notifier is the narrow contract through which the session layer reports
// lifecycle events to optional collaborators (push transports, dashboards).
// Implementations must not block for long; delivery is best-effort.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// Nop discards every event. It is the default when no transport is wired.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}
