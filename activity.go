package sitegate

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventAdminLoginSuccess   ActivityEventType = "admin.login.success"
	ActivityEventAdminLoginFailure   ActivityEventType = "admin.login.failure"
	ActivityEventAdminRefresh        ActivityEventType = "admin.refresh.success"
	ActivityEventAdminRefreshFailure ActivityEventType = "admin.refresh.failure"
	ActivityEventAdminLogout         ActivityEventType = "admin.logout"
	ActivityEventUserCreated         ActivityEventType = "user.created"
	ActivityEventUserResolved        ActivityEventType = "user.resolved"
	ActivityEventUserSignInFailure   ActivityEventType = "user.signin.failure"
)

// ActorRef identifies who/what triggered an event.
type ActorRef struct {
	ID   string
	Type string
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	UserID     string
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

// emitActivity records best effort: sink errors are logged, never returned.
func emitActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil {
		NormalizeLogger(logger).Warn("activity sink record error", "event", event.EventType, "error", err)
	}
}
