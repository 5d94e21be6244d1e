package gateway

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wispbill/wispbill/internal/ratelimit"
	"go.uber.org/zap"
)

var (
	ErrQueueClosed   = errors.New("gateway_queue_closed")
	ErrItemNotFound  = errors.New("gateway_queue_item_not_found")
	ErrItemNotFailed = errors.New("gateway_queue_item_not_failed")
)

// ItemStatus tracks a queued gateway call through its lifecycle.
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "PENDING"
	ItemStatusProcessing ItemStatus = "PROCESSING"
	ItemStatusCompleted  ItemStatus = "COMPLETED"
	ItemStatusFailed     ItemStatus = "FAILED"
)

// Item is the introspectable view of one queued call.
type Item struct {
	ID         uuid.UUID  `json:"id"`
	Label      string     `json:"label"`
	Status     ItemStatus `json:"status"`
	Attempts   int        `json:"attempts"`
	LastError  string     `json:"last_error,omitempty"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Stats summarizes queue state for operational monitoring.
type Stats struct {
	Pending     int    `json:"pending"`
	Processing  int    `json:"processing"`
	Completed   int    `json:"completed"`
	Failed      int    `json:"failed"`
	FailedItems []Item `json:"failed_items,omitempty"`
}

type entry struct {
	item Item
	run  func(ctx context.Context) error
}

type task struct {
	entry *entry
	done  chan error
}

// Queue serializes outbound gateway work through a single worker, pacing
// dispatches with the token bucket. Failed items are retained with their
// closure so an operator can retry them after the gateway recovers.
type Queue struct {
	log     *zap.Logger
	limiter *ratelimit.TokenBucket
	rate    float64
	burst   int

	tasks chan *task

	mu      sync.Mutex
	entries map[uuid.UUID]*entry
	closed  bool

	wg sync.WaitGroup
}

// NewQueue builds the queue. limiter may be nil; pacing is then skipped.
func NewQueue(log *zap.Logger, limiter *ratelimit.TokenBucket, rate float64, burst, depth int) *Queue {
	if depth <= 0 {
		depth = 64
	}
	return &Queue{
		log:     log.Named("gateway.queue"),
		limiter: limiter,
		rate:    rate,
		burst:   burst,
		tasks:   make(chan *task, depth),
		entries: make(map[uuid.UUID]*entry),
	}
}

// Start launches the worker goroutine.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.worker()
}

// Stop closes intake and waits for the worker to drain in-flight work.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	q.wg.Wait()
}

// Do enqueues fn and blocks until the worker has executed it. The returned
// error is fn's own; a failed item stays retained for Retry.
func (q *Queue) Do(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	e := &entry{
		item: Item{
			ID:         uuid.New(),
			Label:      label,
			Status:     ItemStatusPending,
			EnqueuedAt: time.Now().UTC(),
		},
		run: fn,
	}

	t := &task{entry: e, done: make(chan error, 1)}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.entries[e.item.ID] = e
	q.mu.Unlock()

	select {
	case q.tasks <- t:
	case <-ctx.Done():
		q.drop(e.item.ID)
		return ctx.Err()
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		// The worker still finishes the call; only the caller stops waiting.
		return ctx.Err()
	}
}

// Retry re-dispatches a failed item and blocks for its outcome.
func (q *Queue) Retry(ctx context.Context, id uuid.UUID) error {
	q.mu.Lock()
	e, ok := q.entries[id]
	if !ok {
		q.mu.Unlock()
		return ErrItemNotFound
	}
	if e.item.Status != ItemStatusFailed {
		q.mu.Unlock()
		return ErrItemNotFailed
	}
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	e.item.Status = ItemStatusPending
	e.item.FinishedAt = nil
	q.mu.Unlock()

	t := &task{entry: e, done: make(chan error, 1)}
	select {
	case q.tasks <- t:
	case <-ctx.Done():
		q.markFailed(e, ctx.Err())
		return ctx.Err()
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of queue state.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var stats Stats
	for _, e := range q.entries {
		switch e.item.Status {
		case ItemStatusPending:
			stats.Pending++
		case ItemStatusProcessing:
			stats.Processing++
		case ItemStatusCompleted:
			stats.Completed++
		case ItemStatusFailed:
			stats.Failed++
			stats.FailedItems = append(stats.FailedItems, e.item)
		}
	}
	sort.Slice(stats.FailedItems, func(i, j int) bool {
		return stats.FailedItems[i].EnqueuedAt.Before(stats.FailedItems[j].EnqueuedAt)
	})
	return stats
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for t := range q.tasks {
		q.throttle()

		q.mu.Lock()
		t.entry.item.Status = ItemStatusProcessing
		t.entry.item.Attempts++
		q.mu.Unlock()

		err := t.entry.run(context.Background())

		now := time.Now().UTC()
		q.mu.Lock()
		t.entry.item.FinishedAt = &now
		if err != nil {
			t.entry.item.Status = ItemStatusFailed
			t.entry.item.LastError = err.Error()
		} else {
			t.entry.item.Status = ItemStatusCompleted
			t.entry.item.LastError = ""
		}
		q.mu.Unlock()

		if err != nil {
			q.log.Warn("gateway call failed",
				zap.String("item_id", t.entry.item.ID.String()),
				zap.String("label", t.entry.item.Label),
				zap.Error(err),
			)
		}
		t.done <- err
	}
}

func (q *Queue) throttle() {
	for {
		res, err := q.limiter.Allow(context.Background(), "gateway:invoice", q.rate, q.burst)
		if err != nil {
			q.log.Warn("rate limiter unavailable, proceeding unthrottled", zap.Error(err))
			return
		}
		if res.Allowed {
			return
		}
		wait := res.RetryAfter
		if wait <= 0 {
			wait = 100 * time.Millisecond
		}
		time.Sleep(wait)
	}
}

func (q *Queue) drop(id uuid.UUID) {
	q.mu.Lock()
	delete(q.entries, id)
	q.mu.Unlock()
}

func (q *Queue) markFailed(e *entry, err error) {
	now := time.Now().UTC()
	q.mu.Lock()
	e.item.Status = ItemStatusFailed
	e.item.LastError = err.Error()
	e.item.FinishedAt = &now
	q.mu.Unlock()
}
