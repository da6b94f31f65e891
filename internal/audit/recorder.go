// Package audit persists decisions and position lifecycle events off the
// decision path. Recording never blocks. Decision events are dropped when their
// buffer is full and counted in metrics; position open and close events are
// queued without bound and retried until written, because the open positions
// in storage restore the budget ledger after a restart.
package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"multipair-engine/internal/domain"
	"multipair-engine/internal/observability"
	"multipair-engine/internal/storage"
)

// Event kinds, used as the metrics label.
const (
	KindDecision       = "decision"
	KindPositionOpened = "position_opened"
	KindPositionClosed = "position_closed"
)

type event struct {
	kind      string
	decision  *domain.Decision
	position  *domain.Position
	sessionID string
	tradeID   string
	closedAt  time.Time
}

// lifecycleQueue is an unbounded FIFO of position events.
type lifecycleQueue struct {
	mu    sync.Mutex
	items []event
	ready chan struct{}
}

func newLifecycleQueue() *lifecycleQueue {
	return &lifecycleQueue{ready: make(chan struct{}, 1)}
}

func (q *lifecycleQueue) push(e event) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *lifecycleQueue) peek() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return event{}, false
	}
	return q.items[0], true
}

func (q *lifecycleQueue) pop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[0] = event{}
	q.items = q.items[1:]
}

func (q *lifecycleQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Options contains configuration for creating a Recorder.
type Options struct {
	Decisions    storage.DecisionStore // optional
	Positions    storage.PositionStore // optional
	Backend      string                // metrics database label. Default: "memory"
	BufferSize   int                   // decision buffer. Default: 1024
	FlushTimeout time.Duration         // Default: 5s, bounds the drain after cancellation
	RetryDelay   time.Duration         // Default: 1s, wait before retrying a failed position write
	Logger       logrus.FieldLogger
	Metrics      *observability.Metrics
}

// Recorder writes audit events to storage from a single goroutine.
type Recorder struct {
	decisions    storage.DecisionStore
	positions    storage.PositionStore
	backend      string
	events       chan event
	lifecycle    *lifecycleQueue
	flushTimeout time.Duration
	retryDelay   time.Duration
	logger       logrus.FieldLogger
	metrics      *observability.Metrics
}

// NewRecorder creates a Recorder. Call Run to start writing.
func NewRecorder(opts Options) *Recorder {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1024
	}
	if opts.Backend == "" {
		opts.Backend = "memory"
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 5 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Recorder{
		decisions:    opts.Decisions,
		positions:    opts.Positions,
		backend:      opts.Backend,
		events:       make(chan event, opts.BufferSize),
		lifecycle:    newLifecycleQueue(),
		flushTimeout: opts.FlushTimeout,
		retryDelay:   opts.RetryDelay,
		logger:       logger.WithField("component", "audit"),
		metrics:      opts.Metrics,
	}
}

// RecordDecision queues d, and its position when d opened one.
func (r *Recorder) RecordDecision(d *domain.Decision) {
	if d == nil {
		return
	}
	r.enqueue(event{kind: KindDecision, decision: d})
	if d.Executed() && d.Position != nil && r.positions != nil {
		p := *d.Position
		r.lifecycle.push(event{kind: KindPositionOpened, position: &p, sessionID: d.SessionID})
	}
}

// RecordClose queues the closing of a position.
func (r *Recorder) RecordClose(tradeID string, closedAt time.Time) {
	if r.positions == nil {
		return
	}
	r.lifecycle.push(event{kind: KindPositionClosed, tradeID: tradeID, closedAt: closedAt})
}

func (r *Recorder) enqueue(e event) {
	select {
	case r.events <- e:
	default:
		r.metrics.RecordAuditDropped()
		r.logger.WithField("kind", e.kind).Warn("audit buffer full, dropping event")
	}
}

// Run writes queued events until ctx is cancelled, then drains what is left
// within the flush timeout.
func (r *Recorder) Run(ctx context.Context) error {
	var retry <-chan time.Time

	for {
		select {
		case e := <-r.events:
			r.write(ctx, e)
		case <-r.lifecycle.ready:
		case <-retry:
			retry = nil
		case <-ctx.Done():
			r.drain()
			return ctx.Err()
		}

		if retry == nil && !r.flushLifecycle(ctx) {
			retry = time.After(r.retryDelay)
		}
	}
}

// flushLifecycle writes position events in order. It stops at the first
// failure, leaving that event at the head of the queue, and reports whether
// the queue was emptied.
func (r *Recorder) flushLifecycle(ctx context.Context) bool {
	for {
		e, ok := r.lifecycle.peek()
		if !ok {
			return true
		}
		if err := r.write(ctx, e); err != nil {
			return false
		}
		r.lifecycle.pop()
	}
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), r.flushTimeout)
	defer cancel()

	for done := false; !done; {
		select {
		case e := <-r.events:
			r.write(ctx, e)
		default:
			done = true
		}
	}

	for !r.flushLifecycle(ctx) {
		select {
		case <-ctx.Done():
			r.logger.WithField("pending", r.lifecycle.len()).Error("position events not persisted before shutdown")
			return
		case <-time.After(r.retryDelay):
		}
	}
}

func (r *Recorder) write(ctx context.Context, e event) error {
	start := time.Now()
	var err error

	switch e.kind {
	case KindDecision:
		if r.decisions == nil {
			return nil
		}
		err = r.decisions.Insert(ctx, e.decision)
	case KindPositionOpened:
		err = r.positions.Open(ctx, e.position, e.sessionID)
		if errors.Is(err, storage.ErrDuplicateKey) {
			// Written by an earlier attempt whose result was lost
			err = nil
		}
	case KindPositionClosed:
		err = r.positions.Close(ctx, e.tradeID, e.closedAt)
		if errors.Is(err, storage.ErrNotFound) {
			// Positions opened before persistence was enabled
			r.logger.WithField("trade_id", e.tradeID).Debug("close for unknown position")
			err = nil
		}
	}

	r.metrics.RecordDBQuery(r.backend, e.kind, time.Since(start).Seconds(), err)
	if err != nil {
		r.logger.WithError(err).WithField("kind", e.kind).Error("audit write failed")
		return err
	}
	r.metrics.RecordAuditWritten(e.kind)
	return nil
}

// Pending returns the number of queued events.
func (r *Recorder) Pending() int {
	return len(r.events) + r.lifecycle.len()
}
