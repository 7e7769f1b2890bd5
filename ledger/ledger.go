// Package ledger records guest and user interactions with posts and notes,
// derives like state from the append only log and keeps the content
// aggregate counters in step with it.
package ledger

import (
	"context"
	"time"

	sitegate "github.com/goliatone/go-sitegate"
	"github.com/goliatone/go-sitegate/cache"
)

// RepairQueue receives subjects whose counters may have drifted.
type RepairQueue interface {
	Enqueue(subject Subject)
}

// Receipt describes the effect of a Record call.
type Receipt struct {
	Interaction Interaction
	// Liked is the like state after the event. Only set for LIKE/UNLIKE.
	Liked bool
	// LikeChanged is false for a LIKE on an already liked subject and an
	// UNLIKE on a subject that was not liked.
	LikeChanged  bool
	CounterDelta int64
}

// SubjectState is what a caller sees for a subject.
type SubjectState struct {
	Aggregate Aggregate `json:"aggregate"`
	Liked     bool      `json:"liked"`
}

// Ledger is safe for concurrent use. It keeps no per request state:
// correctness is defined by the persisted log.
type Ledger struct {
	store    Store
	cache    cache.Cache
	registry *cache.Registry
	repairs  RepairQueue
	now      func() time.Time
	logger   sitegate.Logger
}

// New creates a ledger over store. Reads are uncached until WithCache.
func New(store Store) *Ledger {
	return &Ledger{
		store:    store,
		cache:    cache.Nop{},
		registry: cache.NewRegistry(),
		now:      time.Now,
		logger:   sitegate.DefaultLogger(),
	}
}

func (l *Ledger) WithCache(c cache.Cache) *Ledger {
	if c != nil {
		l.cache = c
	}
	return l
}

func (l *Ledger) WithRegistry(r *cache.Registry) *Ledger {
	if r != nil {
		l.registry = r
	}
	return l
}

// WithRepairQueue sets where subjects go after a failed counter update.
func (l *Ledger) WithRepairQueue(q RepairQueue) *Ledger {
	l.repairs = q
	return l
}

func (l *Ledger) WithLogger(logger sitegate.Logger) *Ledger {
	l.logger = sitegate.NormalizeLogger(logger)
	return l
}

func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	if now != nil {
		l.now = now
	}
	return l
}

// Record appends an interaction and adjusts the aggregate.
//
// VIEW and SHARE always add one. LIKE and UNLIKE only move like_count when
// the event flips the state left by its predecessor in the log; repeats
// are still logged. If the append fails nothing else happens. If the
// counter update fails the subject is queued for repair and the call still
// succeeds. If cache invalidation fails the call fails.
func (l *Ledger) Record(ctx context.Context, t InteractionType, subject Subject, actor sitegate.Actor) (Receipt, error) {
	if err := validateRecord(t, subject, actor); err != nil {
		return Receipt{}, err
	}

	in := Interaction{
		Type:      t,
		Subject:   subject,
		Actor:     actor,
		CreatedAt: l.now().UTC(),
	}

	if err := l.store.AppendInteraction(ctx, &in); err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{Interaction: in}

	switch t {
	case View, Share:
		receipt.CounterDelta = 1
	case Like, Unlike:
		prev, err := l.likedBefore(ctx, in)
		if err != nil {
			l.logger.Warn("like state lookup failed, counter left for repair",
				"subject", subject.String(), "error", err)
			l.repair(subject)
			break
		}
		receipt.Liked = t == Like
		receipt.LikeChanged = prev != receipt.Liked
		if receipt.LikeChanged {
			receipt.CounterDelta = 1
			if t == Unlike {
				receipt.CounterDelta = -1
			}
		}
	}

	if receipt.CounterDelta != 0 {
		counter, _ := CounterFor(t)
		if err := l.store.IncrementCounter(ctx, subject, counter, receipt.CounterDelta); err != nil {
			l.logger.Warn("counter update failed after append, queued for repair",
				"subject", subject.String(), "counter", string(counter), "error", err)
			l.repair(subject)
		}
	}

	if err := l.invalidate(ctx, interactionOperation(subject.Kind)); err != nil {
		return receipt, err
	}

	return receipt, nil
}

// IsLiked returns the latest-wins like state of actor on subject.
func (l *Ledger) IsLiked(ctx context.Context, subject Subject, actor sitegate.Actor) (bool, error) {
	if err := subject.Validate(); err != nil {
		return false, err
	}
	if err := actor.Validate(); err != nil {
		return false, err
	}

	key := "liked:" + subject.String() + ":" + actor.String()
	return cache.Get(ctx, l.cache, key, []cache.Tag{interactionTag(subject.Kind)}, func(ctx context.Context) (bool, error) {
		events, err := l.store.QueryInteractions(ctx, InteractionFilter{
			Subject: subject,
			Actor:   actor,
			Types:   []InteractionType{Like, Unlike},
		})
		if err != nil {
			return false, err
		}
		return LatestWins(events), nil
	})
}

// Counts returns the aggregate counters of subject.
func (l *Ledger) Counts(ctx context.Context, subject Subject) (Aggregate, error) {
	if err := subject.Validate(); err != nil {
		return Aggregate{}, err
	}

	key := "counts:" + subject.String()
	return cache.Get(ctx, l.cache, key, []cache.Tag{aggregateTag(subject.Kind)}, func(ctx context.Context) (Aggregate, error) {
		return l.store.GetAggregate(ctx, subject)
	})
}

// SetCommentCount publishes the comment total of subject. Cached counts
// are invalidated afterwards and a failed invalidation fails the call.
func (l *Ledger) SetCommentCount(ctx context.Context, subject Subject, count int64) error {
	if err := subject.Validate(); err != nil {
		return err
	}
	if count < 0 {
		return sitegate.NewValidationError(map[string]string{
			"count": "comment count must not be negative",
		})
	}

	if err := l.store.SetCommentCount(ctx, subject, count); err != nil {
		return err
	}
	return l.invalidate(ctx, commentOperation(subject.Kind))
}

// State combines Counts and, when an actor is known, IsLiked.
func (l *Ledger) State(ctx context.Context, subject Subject, actor *sitegate.Actor) (SubjectState, error) {
	agg, err := l.Counts(ctx, subject)
	if err != nil {
		return SubjectState{}, err
	}

	state := SubjectState{Aggregate: agg}
	if actor == nil {
		return state, nil
	}

	state.Liked, err = l.IsLiked(ctx, subject, *actor)
	if err != nil {
		return SubjectState{}, err
	}
	return state, nil
}

// likedBefore is the like state left by the events that precede in.
func (l *Ledger) likedBefore(ctx context.Context, in Interaction) (bool, error) {
	events, err := l.store.QueryInteractions(ctx, InteractionFilter{
		Subject: in.Subject,
		Actor:   in.Actor,
		Types:   []InteractionType{Like, Unlike},
	})
	if err != nil {
		return false, err
	}

	earlier := events[:0:0]
	for _, e := range events {
		if e.ID != in.ID && e.Before(in) {
			earlier = append(earlier, e)
		}
	}
	return LatestWins(earlier), nil
}

func (l *Ledger) invalidate(ctx context.Context, op cache.Operation) error {
	tags, err := l.registry.TagsAffectedBy(op)
	if err != nil {
		return err
	}
	return l.cache.InvalidateTags(ctx, tags...)
}

func (l *Ledger) repair(subject Subject) {
	if l.repairs != nil {
		l.repairs.Enqueue(subject)
	}
}

// LatestWins is the like state defined by events: true when the most
// recent LIKE/UNLIKE, ordered by (CreatedAt, ID), is a LIKE. Other event
// types are ignored.
func LatestWins(events []Interaction) bool {
	var (
		latest Interaction
		found  bool
	)
	for _, e := range events {
		if !e.Type.IsLikeEvent() {
			continue
		}
		if !found || latest.Before(e) {
			latest = e
			found = true
		}
	}
	return found && latest.Type == Like
}

// DesiredLikeType is the event a toggle should record given the current state.
func DesiredLikeType(liked bool) InteractionType {
	if liked {
		return Unlike
	}
	return Like
}

func validateRecord(t InteractionType, subject Subject, actor sitegate.Actor) error {
	violations := map[string]string{}
	if !t.Valid() {
		violations["type"] = "interaction type must be one of LIKE, UNLIKE, VIEW, SHARE"
	}
	for rule, msg := range sitegate.Violations(subject.Validate()) {
		violations[rule] = msg
	}
	for rule, msg := range sitegate.Violations(actor.Validate()) {
		violations[rule] = msg
	}
	if len(violations) > 0 {
		return sitegate.NewValidationError(violations)
	}
	return nil
}

func interactionOperation(kind SubjectKind) cache.Operation {
	if kind == SubjectNote {
		return cache.OpRecordNoteInteraction
	}
	return cache.OpRecordPostInteraction
}

func reconcileOperation(kind SubjectKind) cache.Operation {
	if kind == SubjectNote {
		return cache.OpReconcileNote
	}
	return cache.OpReconcilePost
}

func commentOperation(kind SubjectKind) cache.Operation {
	if kind == SubjectNote {
		return cache.OpCountNoteComments
	}
	return cache.OpCountPostComments
}

func interactionTag(kind SubjectKind) cache.Tag {
	if kind == SubjectNote {
		return cache.TagNoteInteractions
	}
	return cache.TagPostInteractions
}

func aggregateTag(kind SubjectKind) cache.Tag {
	if kind == SubjectNote {
		return cache.TagNotes
	}
	return cache.TagPosts
}
