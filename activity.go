package identity

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventAccountCreated        ActivityEventType = "account.created"
	ActivityEventAccountUpdated        ActivityEventType = "account.updated"
	ActivityEventAccountDeleted        ActivityEventType = "account.deleted"
	ActivityEventPasswordResetRequest  ActivityEventType = "account.password.reset.requested"
	ActivityEventPasswordResetSuccess  ActivityEventType = "account.password.reset"
	ActivityEventPasswordChanged       ActivityEventType = "account.password.changed"
	ActivityEventEmailChangeRequested  ActivityEventType = "account.email.change.requested"
	ActivityEventEmailChangeConfirmed  ActivityEventType = "account.email.change.confirmed"
	ActivityEventLoginSuccess          ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure          ActivityEventType = "auth.login.failure"
	ActivityEventSessionRenewed        ActivityEventType = "auth.session.renewed"
	ActivityEventSessionRevoked        ActivityEventType = "auth.session.revoked"
)

// ActorRef identifies who triggered an event.
type ActorRef struct {
	ID   string
	Type string
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	AccountID  string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
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

func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil {
		normalizeLogger(logger).Warn("activity sink record error: %v", err)
	}
}
