package ledger

import (
	"context"
	"sync"
	"time"

	sitegate "github.com/goliatone/go-sitegate"
)

// ReconcileResult reports one subject's counters before and after replay.
type ReconcileResult struct {
	Subject Subject   `json:"subject"`
	Before  Aggregate `json:"before"`
	After   Aggregate `json:"after"`
	Drift   bool      `json:"drift"`
}

// Replay derives the interaction counters of a subject from its log.
// like_count is the number of actors whose latest LIKE/UNLIKE is a LIKE.
func Replay(subject Subject, events []Interaction) Aggregate {
	agg := Aggregate{Subject: subject}
	byActor := map[sitegate.Actor][]Interaction{}

	for _, e := range events {
		switch e.Type {
		case View:
			agg.ViewCount++
		case Share:
			agg.ShareCount++
		case Like, Unlike:
			byActor[e.Actor] = append(byActor[e.Actor], e)
		}
	}

	for _, actorEvents := range byActor {
		if LatestWins(actorEvents) {
			agg.LikeCount++
		}
	}

	return agg
}

// Reconcile replays the log of subject and corrects drifted counters.
// Drift is logged as an invariant violation, never returned to callers.
// The correction is applied as a relative adjustment against a snapshot,
// so interactions recorded while the replay runs are kept.
func (l *Ledger) Reconcile(ctx context.Context, subject Subject) (ReconcileResult, error) {
	if err := subject.Validate(); err != nil {
		return ReconcileResult{}, err
	}

	events, current, err := l.store.CounterSnapshot(ctx, subject)
	if err != nil {
		return ReconcileResult{}, err
	}
	current.Subject = subject

	computed := Replay(subject, events)
	computed.CommentCount = current.CommentCount

	result := ReconcileResult{Subject: subject, Before: current, After: computed}
	if current.LikeCount == computed.LikeCount &&
		current.ViewCount == computed.ViewCount &&
		current.ShareCount == computed.ShareCount {
		return result, nil
	}

	result.Drift = true
	violation := sitegate.InvariantViolation("counter drift detected", map[string]any{
		"subject":       subject.String(),
		"like_count":    []int64{current.LikeCount, computed.LikeCount},
		"view_count":    []int64{current.ViewCount, computed.ViewCount},
		"share_count":   []int64{current.ShareCount, computed.ShareCount},
		"log_length":    len(events),
		"reconciled_at": l.now().UTC(),
	})
	l.logger.Error("ledger invariant violation", "subject", subject.String(), "error", violation)

	delta := Aggregate{
		Subject:    subject,
		LikeCount:  computed.LikeCount - current.LikeCount,
		ViewCount:  computed.ViewCount - current.ViewCount,
		ShareCount: computed.ShareCount - current.ShareCount,
	}
	if err := l.store.AdjustCounters(ctx, delta); err != nil {
		return result, err
	}

	if err := l.invalidate(ctx, reconcileOperation(subject.Kind)); err != nil {
		return result, err
	}

	return result, nil
}

// ReconcileAll reconciles every subject with at least one interaction. It
// keeps going past per subject failures and returns the first error.
func (l *Ledger) ReconcileAll(ctx context.Context) ([]ReconcileResult, error) {
	subjects, err := l.store.Subjects(ctx)
	if err != nil {
		return nil, err
	}

	var (
		results  = make([]ReconcileResult, 0, len(subjects))
		firstErr error
	)
	for _, subject := range subjects {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := l.Reconcile(ctx, subject)
		if err != nil {
			l.logger.Error("reconcile failed", "subject", subject.String(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		results = append(results, res)
	}
	return results, firstErr
}

// ReconcilerConfig controls the repair worker.
type ReconcilerConfig struct {
	// Buffer is the repair queue capacity
	Buffer int
	// Interval between full passes. Zero disables them.
	Interval time.Duration
}

// Reconciler drains subjects queued by Record after a failed counter update
// and optionally runs periodic full passes.
type Reconciler struct {
	ledger  *Ledger
	cfg     ReconcilerConfig
	queue   chan Subject
	mu      sync.Mutex
	pending map[Subject]struct{}
	logger  sitegate.Logger
}

var _ RepairQueue = (*Reconciler)(nil)

// NewReconciler creates a worker for l. Call l.WithRepairQueue with the
// result to connect them.
func NewReconciler(l *Ledger, cfg ReconcilerConfig) *Reconciler {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	return &Reconciler{
		ledger:  l,
		cfg:     cfg,
		queue:   make(chan Subject, cfg.Buffer),
		pending: map[Subject]struct{}{},
		logger:  l.logger,
	}
}

func (r *Reconciler) WithLogger(logger sitegate.Logger) *Reconciler {
	r.logger = sitegate.NormalizeLogger(logger)
	return r
}

// Enqueue schedules subject for repair without blocking. Subjects already
// waiting are not queued twice. When the queue is full the subject is
// dropped and left to the next full pass.
func (r *Reconciler) Enqueue(subject Subject) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pending[subject]; ok {
		return
	}

	select {
	case r.queue <- subject:
		r.pending[subject] = struct{}{}
	default:
		r.logger.Warn("repair queue full, dropping subject", "subject", subject.String())
	}
}

// Pending returns the number of queued subjects
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Run processes the queue until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("reconciler starting", "interval", r.cfg.Interval)

	var tick <-chan time.Time
	if r.cfg.Interval > 0 {
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopping")
			return ctx.Err()
		case subject := <-r.queue:
			r.handle(ctx, subject)
		case <-tick:
			if _, err := r.ledger.ReconcileAll(ctx); err != nil {
				r.logger.Error("reconcile pass failed", "error", err)
			}
		}
	}
}

// Drain processes queued subjects until the queue is empty.
func (r *Reconciler) Drain(ctx context.Context) {
	for {
		select {
		case subject := <-r.queue:
			r.handle(ctx, subject)
		default:
			return
		}
	}
}

func (r *Reconciler) handle(ctx context.Context, subject Subject) {
	r.mu.Lock()
	delete(r.pending, subject)
	r.mu.Unlock()

	if _, err := r.ledger.Reconcile(ctx, subject); err != nil {
		r.logger.Error("subject repair failed", "subject", subject.String(), "error", err)
	}
}
