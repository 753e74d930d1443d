// Package queue implements the Queue Coordinator of spec §4.B: three
// independently-configured priority queues (download/dub/mux), each with
// bounded concurrency, exponential backoff retry, idempotent (re)enqueue,
// and dead-letter retention. The durable handle is store.Store's
// queue_jobs table; the in-memory priority heap plus a semaphore channel
// (grounded on manager.go's bulkStart) drive dispatch ordering and
// concurrency bounds.
package queue

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/videopipe/orchestrator/jobid"
	"github.com/videopipe/orchestrator/store"
)

// Config is one queue's fixed parameters (spec §4.B's table).
type Config struct {
	Concurrency int
	MaxAttempts int
	BackoffBase time.Duration
	Timeout     time.Duration
}

// DispatchFunc sends payload for jobID to a worker. It should return
// promptly; long-running work happens out of band and is reported back
// via events, not via this call's return value.
type DispatchFunc func(ctx context.Context, jobID jobid.ID, payload json.RawMessage) error

// entry is one heap element: priority desc, then FIFO (seq asc) within
// equal priority, matching spec §4.B's ordering rule.
type entry struct {
	jobID    jobid.ID
	payload  json.RawMessage
	priority int
	seq      uint64
	index    int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// inflight tracks one entry currently occupying a semaphore slot: either
// handed off to a worker (awaiting its completion report) or timing out.
// The slot and this record are released together, exactly once, by finish.
type inflight struct {
	entry  *entry
	cancel context.CancelFunc
}

// Coordinator manages one logical queue.
type Coordinator struct {
	name     store.QueueName
	cfg      Config
	st       store.Store
	dispatch DispatchFunc
	log      *slog.Logger

	mu       sync.Mutex
	waiting  entryHeap
	byID     map[jobid.ID]*entry
	inFlight map[jobid.ID]*inflight
	attempts map[jobid.ID]int
	seq      uint64
	sem      chan struct{}

	wakeCh chan struct{}
}

// New constructs a Coordinator for the named queue.
func New(name store.QueueName, cfg Config, st store.Store, dispatch DispatchFunc, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	c := &Coordinator{
		name:     name,
		cfg:      cfg,
		st:       st,
		dispatch: dispatch,
		log:      log,
		byID:     make(map[jobid.ID]*entry),
		inFlight: make(map[jobid.ID]*inflight),
		attempts: make(map[jobid.ID]int),
		sem:      make(chan struct{}, cfg.Concurrency),
		wakeCh:   make(chan struct{}, 1),
	}
	heap.Init(&c.waiting)
	return c
}

func (c *Coordinator) wake() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

// Enqueue inserts payload for jobID with priority. It is idempotent: a
// prior non-terminal entry for the same jobID in this queue is removed
// first (spec §4.B).
func (c *Coordinator) Enqueue(ctx context.Context, jobID jobid.ID, payload json.RawMessage, priority int) error {
	c.mu.Lock()
	if old, ok := c.byID[jobID]; ok && old.index >= 0 {
		heap.Remove(&c.waiting, old.index)
		delete(c.byID, jobID)
	}
	c.seq++
	e := &entry{jobID: jobID, payload: payload, priority: priority, seq: c.seq}
	heap.Push(&c.waiting, e)
	c.byID[jobID] = e
	c.mu.Unlock()

	rec := store.QueueJobRecord{
		JobID:     jobID,
		Queue:     c.name,
		Payload:   payload,
		Priority:  priority,
		State:     store.QueueStateWaiting,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		RunAt:     time.Now(),
	}
	if err := c.st.UpsertQueueJob(ctx, rec); err != nil {
		return fmt.Errorf("enqueue %s/%s: %w", c.name, jobID, err)
	}
	c.wake()
	return nil
}

// Remove is a best-effort removal; it succeeds whether or not the entry
// exists (spec §4.B).
func (c *Coordinator) Remove(ctx context.Context, jobID jobid.ID) error {
	c.mu.Lock()
	if e, ok := c.byID[jobID]; ok {
		if e.index >= 0 {
			heap.Remove(&c.waiting, e.index)
		}
		delete(c.byID, jobID)
	}
	c.mu.Unlock()
	c.finish(jobID)
	return c.st.RemoveQueueJob(ctx, c.name, jobID)
}

// Stats returns counts by state (spec §4.B).
func (c *Coordinator) Stats(ctx context.Context) (map[store.QueueJobState]int, error) {
	return c.st.QueueStats(ctx, c.name)
}

// Run drives dispatch until ctx is canceled. Call it in its own
// goroutine; it blocks.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c.sem <- struct{}{}:
		}

		c.mu.Lock()
		var e *entry
		if c.waiting.Len() > 0 {
			e = heap.Pop(&c.waiting).(*entry)
			delete(c.byID, e.jobID)
		}
		c.mu.Unlock()

		if e == nil {
			<-c.sem
			select {
			case <-ctx.Done():
				return
			case <-c.wakeCh:
				continue
			case <-time.After(500 * time.Millisecond):
				continue
			}
		}

		go c.runOne(ctx, e)
	}
}

func (c *Coordinator) runOne(ctx context.Context, e *entry) {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)

	c.mu.Lock()
	c.inFlight[e.jobID] = &inflight{entry: e, cancel: cancel}
	c.mu.Unlock()

	_ = c.st.SetQueueJobState(ctx, c.name, e.jobID, store.QueueStateActive)

	if err := c.dispatch(dctx, e.jobID, e.payload); err != nil {
		c.log.Warn("dispatch failed", "queue", c.name, "job", e.jobID, "error", err)
		c.finish(e.jobID)
		c.HandleFailure(ctx, e, true)
		return
	}

	// Dispatch only confirms the worker accepted the hand-off; the
	// semaphore slot and inFlight bookkeeping stay held — keeping this
	// entry counted against cfg.Concurrency — until the worker reports
	// completion via MarkSuccess/Fail or dctx's deadline fires.
	go func() {
		<-dctx.Done()
		if dctx.Err() == context.DeadlineExceeded {
			c.log.Warn("dispatch timed out awaiting worker completion", "queue", c.name, "job", e.jobID)
			c.Fail(context.Background(), e.jobID, true)
		}
	}()
}

// finish releases the semaphore slot and inFlight bookkeeping held by
// jobID, if any. Safe to call more than once; only the first call (per
// acquisition) has an effect, so MarkSuccess, Fail and Remove can all
// call it without coordinating who "owns" the release.
func (c *Coordinator) finish(jobID jobid.ID) {
	c.mu.Lock()
	inf, ok := c.inFlight[jobID]
	if ok {
		delete(c.inFlight, jobID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	inf.cancel()
	<-c.sem
}

// MarkSuccess records a completed entry (spec §4.B: retained 24h then
// reaped) and releases the concurrency slot it was holding.
func (c *Coordinator) MarkSuccess(ctx context.Context, jobID jobid.ID) error {
	c.finish(jobID)
	return c.st.SetQueueJobState(ctx, c.name, jobID, store.QueueStateCompleted)
}

// Fail reports that jobID's in-flight attempt ended in error — reported
// asynchronously by the worker (an error-channel event) rather than by
// the synchronous dispatch() call — and applies the retry/backoff policy
// via HandleFailure. A jobID with no live inFlight entry (e.g. a stale or
// duplicate report after the entry already finished) is ignored.
func (c *Coordinator) Fail(ctx context.Context, jobID jobid.ID, transient bool) {
	c.mu.Lock()
	inf, ok := c.inFlight[jobID]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.finish(jobID)
	c.HandleFailure(ctx, inf.entry, transient)
}

// HandleFailure applies §4.B's retry policy: transient errors are
// re-dispatched after `base * 2^(attempt-1)` ms; after the last attempt,
// or for a non-transient error, the entry moves to failed. Callers must
// have already released this entry's semaphore slot (via finish) before
// calling HandleFailure, since a successful retry re-enqueues the entry
// for a future dispatch rather than keeping it in flight.
func (c *Coordinator) HandleFailure(ctx context.Context, e *entry, transient bool) {
	c.mu.Lock()
	c.attempts[e.jobID]++
	attempt := c.attempts[e.jobID]
	c.mu.Unlock()

	if !transient || attempt >= c.cfg.MaxAttempts {
		_ = c.st.SetQueueJobState(ctx, c.name, e.jobID, store.QueueStateFailed)
		return
	}

	delay := c.cfg.BackoffBase * time.Duration(1<<uint(attempt-1))
	_ = c.st.SetQueueJobState(ctx, c.name, e.jobID, store.QueueStateDelayed)
	time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.seq++
		e.seq = c.seq
		heap.Push(&c.waiting, e)
		c.byID[e.jobID] = e
		c.mu.Unlock()
		_ = c.st.SetQueueJobState(context.Background(), c.name, e.jobID, store.QueueStateWaiting)
		c.wake()
	})
}

// Reconcile re-enqueues queue_jobs rows left `active` with no live
// worker claim, per spec §4.B's restart default; it never fails a row.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	rows, err := c.st.ListQueueJobs(ctx, c.name, store.QueueStateActive)
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", c.name, err)
	}
	c.mu.Lock()
	for _, r := range rows {
		if _, live := c.inFlight[r.JobID]; live {
			continue
		}
		c.seq++
		e := &entry{jobID: r.JobID, payload: r.Payload, priority: r.Priority, seq: c.seq}
		heap.Push(&c.waiting, e)
		c.byID[r.JobID] = e
	}
	c.mu.Unlock()
	if len(rows) > 0 {
		c.wake()
	}
	return nil
}

// Reap deletes retained completed/failed entries past their retention
// window (spec §4.B: 24h completed, 7 days failed).
func (c *Coordinator) Reap(ctx context.Context, completedRetention, failedRetention time.Duration) error {
	now := time.Now()
	return c.st.ReapQueueJobs(ctx, now.Add(-completedRetention), now.Add(-failedRetention))
}

// Shutdown cancels in-flight dispatches. No drain error is collected into
// the multierror it returns, so the result is always nil.
func (c *Coordinator) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var merr *multierror.Error
	for id, inf := range c.inFlight {
		inf.cancel()
		delete(c.inFlight, id)
	}
	return merr.ErrorOrNil()
}
