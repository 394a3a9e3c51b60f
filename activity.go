package brix

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventSessionEstablished ActivityEventType = "session.established"
	ActivityEventSessionRefreshed   ActivityEventType = "session.refreshed"
	ActivityEventSessionEnded       ActivityEventType = "session.ended"
	ActivityEventProfileResolved    ActivityEventType = "profile.resolved"
	ActivityEventProfileMissing     ActivityEventType = "profile.missing"
	ActivityEventProfileError       ActivityEventType = "profile.error"
	ActivityEventLoginFailure       ActivityEventType = "auth.login.failure"
	ActivityEventRegisterPending    ActivityEventType = "auth.register.pending"
)

// ActivityEvent captures audit-friendly information about an engine action.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
// Sinks run best-effort; errors are logged, never propagated.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
