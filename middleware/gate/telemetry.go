package gate

import (
	"context"
	"sync/atomic"
	"time"

	goerrors "github.com/goliatone/go-errors"
	sitegate "github.com/goliatone/go-sitegate"
)

const DefaultTelemetryBuffer = 1024

// ErrTelemetryQueueFull is returned by VisitQueue.RecordVisit when the
// visit was dropped.
var ErrTelemetryQueueFull = goerrors.New("telemetry queue full", goerrors.CategoryRateLimit).
	WithTextCode("TELEMETRY_QUEUE_FULL")

// VisitQueueConfig controls a VisitQueue.
type VisitQueueConfig struct {
	// Buffer is the number of visits held while the writer catches up
	Buffer int
	// Timeout bounds each write to the underlying recorder
	Timeout time.Duration
	Logger  sitegate.Logger
}

type visit struct {
	ip        string
	path      string
	userAgent string
}

// VisitQueue hands visits to a background writer so requests never wait on
// the telemetry store. Visits that arrive while the buffer is full are
// dropped.
type VisitQueue struct {
	next    VisitRecorder
	cfg     VisitQueueConfig
	visits  chan visit
	dropped atomic.Int64
}

var _ VisitRecorder = (*VisitQueue)(nil)

// NewVisitQueue creates a queue in front of next. Nothing is written until
// Run or Flush is called.
func NewVisitQueue(next VisitRecorder, cfg VisitQueueConfig) *VisitQueue {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultTelemetryBuffer
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTelemetryTimeout
	}
	cfg.Logger = sitegate.NormalizeLogger(cfg.Logger)

	return &VisitQueue{
		next:   next,
		cfg:    cfg,
		visits: make(chan visit, cfg.Buffer),
	}
}

// RecordVisit implements VisitRecorder. It only enqueues, the arguments
// must not alias request buffers.
func (q *VisitQueue) RecordVisit(_ context.Context, ip, path, userAgent string) error {
	select {
	case q.visits <- visit{ip: ip, path: path, userAgent: userAgent}:
		return nil
	default:
		q.dropped.Add(1)
		return ErrTelemetryQueueFull
	}
}

// Pending returns the number of visits waiting to be written
func (q *VisitQueue) Pending() int {
	return len(q.visits)
}

// Dropped returns the number of visits lost to a full buffer
func (q *VisitQueue) Dropped() int64 {
	return q.dropped.Load()
}

// Run writes queued visits until ctx is canceled, then flushes what is
// left.
func (q *VisitQueue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			q.Flush(context.WithoutCancel(ctx))
			return ctx.Err()
		case v := <-q.visits:
			q.write(ctx, v)
		}
	}
}

// Flush writes every queued visit without waiting for new ones.
func (q *VisitQueue) Flush(ctx context.Context) {
	for {
		select {
		case v := <-q.visits:
			q.write(ctx, v)
		default:
			return
		}
	}
}

func (q *VisitQueue) write(ctx context.Context, v visit) {
	ctx, cancel := context.WithTimeout(ctx, q.cfg.Timeout)
	defer cancel()

	if err := q.next.RecordVisit(ctx, v.ip, v.path, v.userAgent); err != nil {
		q.cfg.Logger.Warn("telemetry write failed", "path", v.path, "error", err)
	}
}
