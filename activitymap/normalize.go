// Package activitymap turns sitegate activity events into flat records for
// log pipelines and audit feeds.
package activitymap

import (
	"context"
	"strings"
	"time"

	sitegate "github.com/goliatone/go-sitegate"
)

// MetadataKeyActorType stores sitegate.ActorRef.Type when the event did not
// set it explicitly.
const MetadataKeyActorType = "actor_type"

const (
	realmAdmin = "admin"
	realmUser  = "user"

	defaultActorID = "anonymous"
)

// Normalized is a transport agnostic activity record.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	Realm      string         `json:"realm"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Fields flattens the record into key/value pairs for sitegate.Logger.
func (n Normalized) Fields() []any {
	fields := []any{
		"verb", n.Verb,
		"realm", n.Realm,
		"actor_id", n.ActorID,
	}
	if n.ObjectID != "" {
		fields = append(fields, "object_type", n.ObjectType, "object_id", n.ObjectID)
	}
	for k, v := range n.Metadata {
		fields = append(fields, "meta_"+k, v)
	}
	return fields
}

type Option func(*normalizeOptions)

type normalizeOptions struct {
	actorFallback string
	now           func() time.Time
}

// WithActorFallback sets the actor id used when the event carries none.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

// WithClock sets the time used for events without OccurredAt.
func WithClock(now func() time.Time) Option {
	return func(opts *normalizeOptions) {
		if now != nil {
			opts.now = now
		}
	}
}

// Normalize converts an event. The realm is the first segment of the event
// type ("admin.login.success" belongs to the admin realm).
func Normalize(event sitegate.ActivityEvent, opts ...Option) Normalized {
	options := normalizeOptions{actorFallback: defaultActorID, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	verb := string(event.EventType)
	realm := realmOf(verb)

	actorID := firstNonEmpty(
		strings.TrimSpace(event.Actor.ID),
		strings.TrimSpace(event.UserID),
	)
	if actorID == "" && realm == realmAdmin {
		actorID = realmAdmin
	}
	if actorID == "" {
		actorID = options.actorFallback
	}

	out := Normalized{
		ActorID:    actorID,
		Verb:       verb,
		Realm:      realm,
		Metadata:   normalizeMetadata(event),
		OccurredAt: event.OccurredAt,
	}

	if userID := strings.TrimSpace(event.UserID); userID != "" {
		out.ObjectType = "user"
		out.ObjectID = userID
	}

	if out.OccurredAt.IsZero() {
		out.OccurredAt = options.now().UTC()
	}

	return out
}

// LogSink returns an ActivitySink that writes every event to logger at info
// level. It never fails.
func LogSink(logger sitegate.Logger, opts ...Option) sitegate.ActivitySink {
	logger = sitegate.NormalizeLogger(logger)
	return sitegate.ActivitySinkFunc(func(_ context.Context, event sitegate.ActivityEvent) error {
		logger.Info("activity", Normalize(event, opts...).Fields()...)
		return nil
	})
}

func realmOf(verb string) string {
	head, _, _ := strings.Cut(verb, ".")
	switch head {
	case realmAdmin:
		return realmAdmin
	case realmUser:
		return realmUser
	default:
		return head
	}
}

func normalizeMetadata(event sitegate.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)

	if actorType := strings.TrimSpace(event.Actor.Type); actorType != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[MetadataKeyActorType]; !exists {
			metadata[MetadataKeyActorType] = actorType
		}
	}

	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
