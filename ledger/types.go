package ledger

import (
	"context"
	"time"

	sitegate "github.com/goliatone/go-sitegate"
)

// InteractionType is the fixed interaction taxonomy.
type InteractionType string

const (
	Like   InteractionType = "LIKE"
	Unlike InteractionType = "UNLIKE"
	View   InteractionType = "VIEW"
	Share  InteractionType = "SHARE"
)

// Valid reports whether t is one of the four known types
func (t InteractionType) Valid() bool {
	switch t {
	case Like, Unlike, View, Share:
		return true
	}
	return false
}

// IsLikeEvent reports whether t takes part in like state
func (t InteractionType) IsLikeEvent() bool {
	return t == Like || t == Unlike
}

// SubjectKind is the kind of content an interaction targets.
type SubjectKind string

const (
	SubjectPost SubjectKind = "post"
	SubjectNote SubjectKind = "note"
)

func (k SubjectKind) Valid() bool {
	return k == SubjectPost || k == SubjectNote
}

// Subject identifies a post or a note.
type Subject struct {
	Kind SubjectKind `json:"kind"`
	ID   string      `json:"id"`
}

func (s Subject) String() string {
	return string(s.Kind) + ":" + s.ID
}

// Validate checks kind and id
func (s Subject) Validate() error {
	violations := map[string]string{}
	if !s.Kind.Valid() {
		violations["subject.kind"] = "subject kind must be post or note"
	}
	if s.ID == "" {
		violations["subject.id"] = "subject id is required"
	}
	if len(violations) > 0 {
		return sitegate.NewValidationError(violations)
	}
	return nil
}

// Interaction is an append only log entry. ID grows with insertion order
// and breaks ties between equal CreatedAt values.
type Interaction struct {
	ID        int64           `json:"id"`
	Type      InteractionType `json:"type"`
	Subject   Subject         `json:"subject"`
	Actor     sitegate.Actor  `json:"actor"`
	CreatedAt time.Time       `json:"created_at"`
}

// Before orders interactions by (CreatedAt, ID)
func (i Interaction) Before(o Interaction) bool {
	if !i.CreatedAt.Equal(o.CreatedAt) {
		return i.CreatedAt.Before(o.CreatedAt)
	}
	return i.ID < o.ID
}

// Counter names a column of the content aggregate.
type Counter string

const (
	CounterLikes    Counter = "like_count"
	CounterViews    Counter = "view_count"
	CounterShares   Counter = "share_count"
	CounterComments Counter = "comment_count"
)

// Valid reports whether c is a known counter column
func (c Counter) Valid() bool {
	switch c {
	case CounterLikes, CounterViews, CounterShares, CounterComments:
		return true
	}
	return false
}

// CounterFor returns the counter bumped by VIEW and SHARE events
func CounterFor(t InteractionType) (Counter, bool) {
	switch t {
	case View:
		return CounterViews, true
	case Share:
		return CounterShares, true
	case Like, Unlike:
		return CounterLikes, true
	}
	return "", false
}

// Aggregate holds the running counters of a subject. CommentCount is owned
// by the content store and only carried through.
type Aggregate struct {
	Subject      Subject `json:"subject"`
	LikeCount    int64   `json:"like_count"`
	ViewCount    int64   `json:"view_count"`
	ShareCount   int64   `json:"share_count"`
	CommentCount int64   `json:"comment_count"`
}

// Bookmark is unique per (subject, actor).
type Bookmark struct {
	ID        string         `json:"id"`
	Subject   Subject        `json:"subject"`
	Actor     sitegate.Actor `json:"actor"`
	CreatedAt time.Time      `json:"created_at"`
}

// InteractionFilter selects log entries. Empty Types matches all types and
// a zero Actor matches every actor.
type InteractionFilter struct {
	Subject Subject
	Actor   sitegate.Actor
	Types   []InteractionType
}

// Store is the interaction log and aggregate collaborator.
type Store interface {
	// AppendInteraction persists in and fills its ID and CreatedAt.
	AppendInteraction(ctx context.Context, in *Interaction) error
	// QueryInteractions returns matches ordered by (created_at, id) ascending.
	QueryInteractions(ctx context.Context, filter InteractionFilter) ([]Interaction, error)
	IncrementCounter(ctx context.Context, subject Subject, counter Counter, delta int64) error
	GetAggregate(ctx context.Context, subject Subject) (Aggregate, error)
	// CounterSnapshot reads the whole log of subject and its aggregate as
	// of the same instant.
	CounterSnapshot(ctx context.Context, subject Subject) ([]Interaction, Aggregate, error)
	// AdjustCounters adds the like, view and share values of delta to the
	// stored counters. comment_count is left untouched.
	AdjustCounters(ctx context.Context, delta Aggregate) error
	// SetCommentCount stores the comment total published by the content store.
	SetCommentCount(ctx context.Context, subject Subject, count int64) error
	// Subjects lists every subject that has at least one interaction.
	Subjects(ctx context.Context) ([]Subject, error)
}

// BookmarkStore persists bookmarks.
type BookmarkStore interface {
	// InsertBookmark stores b unless (subject, actor) already exists, in
	// which case the stored row is returned and created is false.
	InsertBookmark(ctx context.Context, b *Bookmark) (stored *Bookmark, created bool, err error)
	DeleteBookmark(ctx context.Context, id string) (deleted bool, err error)
	GetBookmark(ctx context.Context, id string) (*Bookmark, error)
	// ListBookmarks is ordered by created_at descending.
	ListBookmarks(ctx context.Context, actor sitegate.Actor) ([]Bookmark, error)
}
