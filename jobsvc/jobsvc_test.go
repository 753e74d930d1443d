package jobsvc

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/videopipe/orchestrator/eventbus"
	"github.com/videopipe/orchestrator/fsops"
	"github.com/videopipe/orchestrator/job"
	"github.com/videopipe/orchestrator/jobid"
	"github.com/videopipe/orchestrator/queue"
	"github.com/videopipe/orchestrator/store"
)

// memStore is a minimal in-memory store.Store sufficient to exercise
// jobsvc's operations without a live database.
type memStore struct {
	store.Store

	mu         sync.Mutex
	jobs       map[jobid.ID]*store.JobRecord
	media      map[jobid.ID]*store.Media
	events     map[jobid.ID][]*store.JobEvent
	queueJobs  map[string]*store.QueueJobRecord
	retryCount map[jobid.ID]int
}

func newMemStore() *memStore {
	return &memStore{
		jobs:       make(map[jobid.ID]*store.JobRecord),
		media:      make(map[jobid.ID]*store.Media),
		events:     make(map[jobid.ID][]*store.JobEvent),
		queueJobs:  make(map[string]*store.QueueJobRecord),
		retryCount: make(map[jobid.ID]int),
	}
}

func (m *memStore) CreateJobAtomic(ctx context.Context, rec store.JobRecord) (*store.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := rec
	m.jobs[rec.ID] = &cp
	m.media[rec.ID] = &store.Media{JobID: rec.ID}
	return &cp, nil
}

func (m *memStore) GetJob(ctx context.Context, id jobid.ID) (*store.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) UpdateJobStatus(ctx context.Context, id jobid.ID, newStatus job.Status, errOrNil *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.jobs[id]
	r.Status = newStatus
	if errOrNil != nil {
		r.Error = *errOrNil
	}
	return nil
}

func (m *memStore) UpdateJobPriority(ctx context.Context, id jobid.ID, priority int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Priority = priority
	return nil
}

func (m *memStore) IncrementRetryCount(ctx context.Context, id jobid.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryCount[id]++
	m.jobs[id].RetryCount = m.retryCount[id]
	return nil
}

func (m *memStore) DeleteJob(ctx context.Context, id jobid.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	delete(m.media, id)
	delete(m.events, id)
	return nil
}

func (m *memStore) GetMedia(ctx context.Context, jobID jobid.ID) (*store.Media, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.media[jobID], nil
}

func (m *memStore) UpdateMedia(ctx context.Context, jobID jobid.ID, upd store.MediaUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	med := m.media[jobID]
	if upd.VideoPath != nil {
		med.VideoPath = upd.VideoPath
	}
	if upd.AudioDubbedPath != nil {
		med.AudioDubbedPath = upd.AudioDubbedPath
	}
	return nil
}

func (m *memStore) AppendEvent(ctx context.Context, jobID jobid.ID, kind store.EventKind, payload []byte) (*store.JobEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &store.JobEvent{JobID: jobID, Kind: kind, Payload: payload, CreatedAt: time.Now()}
	m.events[jobID] = append(m.events[jobID], e)
	return e, nil
}

func (m *memStore) ListEvents(ctx context.Context, jobID jobid.ID, limit, offset int) ([]*store.JobEvent, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.events[jobID]
	if offset >= len(all) {
		return nil, len(all), nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func queueKey(q store.QueueName, id jobid.ID) string { return string(q) + "/" + string(id) }

func (m *memStore) UpsertQueueJob(ctx context.Context, rec store.QueueJobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := rec
	m.queueJobs[queueKey(rec.Queue, rec.JobID)] = &cp
	return nil
}

func (m *memStore) GetQueueJob(ctx context.Context, q store.QueueName, id jobid.ID) (*store.QueueJobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queueJobs[queueKey(q, id)], nil
}

func (m *memStore) RemoveQueueJob(ctx context.Context, q store.QueueName, id jobid.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queueJobs, queueKey(q, id))
	return nil
}

func (m *memStore) SetQueueJobState(ctx context.Context, q store.QueueName, id jobid.ID, state store.QueueJobState) error {
	return nil
}

func (m *memStore) ListQueueJobs(ctx context.Context, q store.QueueName, state store.QueueJobState) ([]*store.QueueJobRecord, error) {
	return nil, nil
}

func (m *memStore) QueueStats(ctx context.Context, q store.QueueName) (map[store.QueueJobState]int, error) {
	return nil, nil
}

func (m *memStore) ReapQueueJobs(ctx context.Context, completedBefore, failedBefore time.Time) error {
	return nil
}

func newTestService(t *testing.T) (*Service, *memStore, jobid.ID) {
	t.Helper()
	st := newMemStore()
	bus := eventbus.New(8)
	t.Cleanup(bus.Stop)
	layout := fsops.New(t.TempDir())

	queues := map[store.QueueName]*queue.Coordinator{
		store.QueueDownload: queue.New(store.QueueDownload, queue.Config{Concurrency: 1, MaxAttempts: 3, BackoffBase: time.Millisecond, Timeout: time.Second}, st, noopDispatch, slog.Default()),
		store.QueueDub:      queue.New(store.QueueDub, queue.Config{Concurrency: 1, MaxAttempts: 3, BackoffBase: time.Millisecond, Timeout: time.Second}, st, noopDispatch, slog.Default()),
		store.QueueMux:      queue.New(store.QueueMux, queue.Config{Concurrency: 1, MaxAttempts: 3, BackoffBase: time.Millisecond, Timeout: time.Second}, st, noopDispatch, slog.Default()),
	}
	svc := New(st, bus, layout, queues, 0)
	return svc, st, ""
}

func noopDispatch(ctx context.Context, jobID jobid.ID, payload json.RawMessage) error { return nil }

func TestCreateJobEnqueuesDownload(t *testing.T) {
	svc, st, _ := newTestService(t)
	rec, err := svc.CreateJob(context.Background(), CreateRequest{URL: "https://example.test/v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != job.StatusQueued {
		t.Errorf("expected queued status, got %v", rec.Status)
	}
	if _, ok := st.queueJobs[queueKey(store.QueueDownload, rec.ID)]; !ok {
		t.Error("expected a download queue entry")
	}
}

func TestCreateJobRejectsBadURL(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.CreateJob(context.Background(), CreateRequest{URL: "not-a-url"})
	svcErr, ok := err.(*Error)
	if !ok || svcErr.Code != CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCancelTransitionsAndCleansUp(t *testing.T) {
	svc, st, _ := newTestService(t)
	rec, err := svc.CreateJob(context.Background(), CreateRequest{URL: "https://example.test/v1"})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	updated, err := svc.Control(context.Background(), rec.ID, ActionCancel, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != job.StatusCanceled {
		t.Errorf("expected canceled, got %v", updated.Status)
	}
	if _, ok := st.queueJobs[queueKey(store.QueueDownload, rec.ID)]; ok {
		t.Error("expected queue entry removed on cancel")
	}
}

func TestDoubleCancelIsNoOp(t *testing.T) {
	svc, _, _ := newTestService(t)
	rec, _ := svc.CreateJob(context.Background(), CreateRequest{URL: "https://example.test/v1"})
	if _, err := svc.Control(context.Background(), rec.ID, ActionCancel, nil); err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}
	second, err := svc.Control(context.Background(), rec.ID, ActionCancel, nil)
	if err != nil {
		t.Fatalf("expected no-op second cancel, got error: %v", err)
	}
	if second.Status != job.StatusCanceled {
		t.Errorf("expected still canceled, got %v", second.Status)
	}
}

func TestRetryRequiresTerminalState(t *testing.T) {
	svc, _, _ := newTestService(t)
	rec, _ := svc.CreateJob(context.Background(), CreateRequest{URL: "https://example.test/v1"})
	_, err := svc.Retry(context.Background(), rec.ID)
	svcErr, ok := err.(*Error)
	if !ok || svcErr.Code != CodeInvalidState {
		t.Fatalf("expected invalid_state error, got %v", err)
	}
}

func TestRetryFromFailedIncrementsRetryCount(t *testing.T) {
	svc, st, _ := newTestService(t)
	rec, _ := svc.CreateJob(context.Background(), CreateRequest{URL: "https://example.test/v1"})
	st.jobs[rec.ID].Status = job.StatusFailed

	updated, err := svc.Retry(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != job.StatusQueued {
		t.Errorf("expected queued, got %v", updated.Status)
	}
	if updated.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", updated.RetryCount)
	}
}

func TestResumeRejectsWhenNoStageCompleted(t *testing.T) {
	svc, st, _ := newTestService(t)
	rec, _ := svc.CreateJob(context.Background(), CreateRequest{URL: "https://example.test/v1"})
	st.jobs[rec.ID].Status = job.StatusFailed

	_, err := svc.Resume(context.Background(), rec.ID)
	svcErr, ok := err.(*Error)
	if !ok || svcErr.Code != CodeCannotResume {
		t.Fatalf("expected cannot_resume error, got %v", err)
	}
}

func TestDeleteCleansFilesystemAndRemovesJob(t *testing.T) {
	svc, st, _ := newTestService(t)
	rec, _ := svc.CreateJob(context.Background(), CreateRequest{URL: "https://example.test/v1"})

	if err := svc.Delete(context.Background(), rec.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := st.jobs[rec.ID]; ok {
		t.Error("expected job row removed")
	}
	if _, err := os.Stat(svc.layout.IncompleteDir(rec.ID)); !os.IsNotExist(err) {
		t.Error("expected incomplete dir removed")
	}
}
