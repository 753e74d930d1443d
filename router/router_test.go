package router

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/videopipe/orchestrator/auth"
	"github.com/videopipe/orchestrator/config"
	"github.com/videopipe/orchestrator/eventbus"
	"github.com/videopipe/orchestrator/fsops"
	"github.com/videopipe/orchestrator/job"
	"github.com/videopipe/orchestrator/jobid"
	"github.com/videopipe/orchestrator/jobsvc"
	"github.com/videopipe/orchestrator/queue"
	"github.com/videopipe/orchestrator/store"
	"github.com/videopipe/orchestrator/subscription"
)

// fakeStore is a minimal in-memory store.Store sufficient to exercise the
// Control API end to end without a live database.
type fakeStore struct {
	store.Store

	mu        sync.Mutex
	jobs      map[jobid.ID]*store.JobRecord
	media     map[jobid.ID]*store.Media
	events    map[jobid.ID][]*store.JobEvent
	queueJobs map[string]*store.QueueJobRecord
	users     map[int64]*store.User
	byName    map[string]int64
	nextUser  int64
	sessions  map[uuid.UUID]*store.Session
	cfg       map[string]any
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:      make(map[jobid.ID]*store.JobRecord),
		media:     make(map[jobid.ID]*store.Media),
		events:    make(map[jobid.ID][]*store.JobEvent),
		queueJobs: make(map[string]*store.QueueJobRecord),
		users:     make(map[int64]*store.User),
		byName:    make(map[string]int64),
		sessions:  make(map[uuid.UUID]*store.Session),
	}
}

func qKey(q store.QueueName, id jobid.ID) string { return string(q) + "/" + string(id) }

func (f *fakeStore) CreateJobAtomic(ctx context.Context, rec store.JobRecord) (*store.JobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := rec
	f.jobs[rec.ID] = &cp
	f.media[rec.ID] = &store.Media{JobID: rec.ID}
	return &cp, nil
}

func (f *fakeStore) GetJob(ctx context.Context, id jobid.ID) (*store.JobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) ListJobs(ctx context.Context, filter store.ListJobsFilter) ([]*store.JobRecord, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.JobRecord
	for _, r := range f.jobs {
		out = append(out, r)
	}
	return out, len(out), nil
}

func (f *fakeStore) UpdateJobStatus(ctx context.Context, id jobid.ID, newStatus job.Status, errOrNil *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.jobs[id]
	r.Status = newStatus
	if errOrNil != nil {
		r.Error = *errOrNil
	}
	return nil
}

func (f *fakeStore) UpdateJobPriority(ctx context.Context, id jobid.ID, priority int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[id].Priority = priority
	return nil
}

func (f *fakeStore) IncrementRetryCount(ctx context.Context, id jobid.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[id].RetryCount++
	return nil
}

func (f *fakeStore) DeleteJob(ctx context.Context, id jobid.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, id)
	delete(f.media, id)
	delete(f.events, id)
	return nil
}

func (f *fakeStore) GetMedia(ctx context.Context, jobID jobid.ID) (*store.Media, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.media[jobID], nil
}

func (f *fakeStore) UpdateMedia(ctx context.Context, jobID jobid.ID, upd store.MediaUpdate) error {
	return nil
}

func (f *fakeStore) AppendEvent(ctx context.Context, jobID jobid.ID, kind store.EventKind, payload []byte) (*store.JobEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := &store.JobEvent{JobID: jobID, Kind: kind, Payload: payload, CreatedAt: time.Now()}
	f.events[jobID] = append(f.events[jobID], e)
	return e, nil
}

func (f *fakeStore) ListEvents(ctx context.Context, jobID jobid.ID, limit, offset int) ([]*store.JobEvent, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.events[jobID]
	if offset >= len(all) {
		return nil, len(all), nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (f *fakeStore) CreateUser(ctx context.Context, username, passwordHash, role string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextUser++
	u := &store.User{ID: f.nextUser, Username: username, PasswordHash: passwordHash, Role: role}
	f.users[u.ID] = u
	f.byName[username] = u.ID
	return u, nil
}

func (f *fakeStore) GetUser(ctx context.Context, id int64) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id], nil
}

func (f *fakeStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byName[username]
	if !ok {
		return nil, nil
	}
	return f.users[id], nil
}

func (f *fakeStore) ListUsers(ctx context.Context) ([]*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.User
	for _, u := range f.users {
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeStore) CountUsers(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users), nil
}

func (f *fakeStore) CreateSession(ctx context.Context, userID int64, refreshToken string, expiresAt time.Time) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &store.Session{ID: uuid.New(), UserID: userID, RefreshToken: refreshToken, ExpiresAt: expiresAt}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeStore) GetSessionByRefreshToken(ctx context.Context, refreshToken string) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.RefreshToken == refreshToken {
			return s, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return nil
}

func (f *fakeStore) UpsertQueueJob(ctx context.Context, rec store.QueueJobRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := rec
	f.queueJobs[qKey(rec.Queue, rec.JobID)] = &cp
	return nil
}

func (f *fakeStore) GetQueueJob(ctx context.Context, q store.QueueName, id jobid.ID) (*store.QueueJobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queueJobs[qKey(q, id)], nil
}

func (f *fakeStore) RemoveQueueJob(ctx context.Context, q store.QueueName, id jobid.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.queueJobs, qKey(q, id))
	return nil
}

func (f *fakeStore) SetQueueJobState(ctx context.Context, q store.QueueName, id jobid.ID, state store.QueueJobState) error {
	return nil
}

func (f *fakeStore) ListQueueJobs(ctx context.Context, q store.QueueName, state store.QueueJobState) ([]*store.QueueJobRecord, error) {
	return nil, nil
}

func (f *fakeStore) QueueStats(ctx context.Context, q store.QueueName) (map[store.QueueJobState]int, error) {
	return nil, nil
}

func (f *fakeStore) ReapQueueJobs(ctx context.Context, completedBefore, failedBefore time.Time) error {
	return nil
}

func (f *fakeStore) GetConfig(ctx context.Context) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg, nil
}

func (f *fakeStore) SetConfig(ctx context.Context, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = data
	return nil
}

func noopDispatch(ctx context.Context, jobID jobid.ID, payload json.RawMessage) error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *fakeStore) {
	t.Helper()
	st := newFakeStore()
	bus := eventbus.New(8)
	t.Cleanup(bus.Stop)
	layout := fsops.New(t.TempDir())

	queues := map[store.QueueName]*queue.Coordinator{
		store.QueueDownload: queue.New(store.QueueDownload, queue.Config{Concurrency: 1, MaxAttempts: 3, BackoffBase: time.Millisecond, Timeout: time.Second}, st, noopDispatch, slog.Default()),
		store.QueueDub:      queue.New(store.QueueDub, queue.Config{Concurrency: 1, MaxAttempts: 3, BackoffBase: time.Millisecond, Timeout: time.Second}, st, noopDispatch, slog.Default()),
		store.QueueMux:      queue.New(store.QueueMux, queue.Config{Concurrency: 1, MaxAttempts: 3, BackoffBase: time.Millisecond, Timeout: time.Second}, st, noopDispatch, slog.Default()),
	}
	svc := jobsvc.New(st, bus, layout, queues, 0)

	cfg, err := config.Load(context.Background(), st)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}

	hash, _ := auth.HashPassword("admin")
	if _, err := st.CreateUser(context.Background(), "admin", hash, "admin"); err != nil {
		t.Fatalf("seed admin: %v", err)
	}

	gw := subscription.New()
	h := New(Deps{
		Store:     st,
		JobSvc:    svc,
		Gateway:   gw,
		Config:    cfg,
		JWTSecret: []byte("test-secret"),
		Layout:    layout,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, st
}

func TestHealthzReportsOK(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/healthz")
	if err != nil {
		t.Fatalf("GET /api/healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestLoginSucceedsAndFails(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/auth/login", "application/json", bytes.NewBufferString(`{"username":"admin","password":"admin"}`))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if body["token"] == "" || body["token"] == nil {
		t.Error("expected a non-empty token")
	}

	badResp, err := http.Post(srv.URL+"/api/auth/login", "application/json", bytes.NewBufferString(`{"username":"admin","password":"wrong"}`))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer badResp.Body.Close()
	if badResp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", badResp.StatusCode)
	}
}

func TestCreateJobRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/api/jobs", "application/json", bytes.NewBufferString(`{"url":"https://example.test/v1"}`))
	if err != nil {
		t.Fatalf("POST /api/jobs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", resp.StatusCode)
	}
}

func TestCreateJobValidatesURL(t *testing.T) {
	srv, _ := newTestServer(t)
	tok := loginToken(t, srv.URL)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/jobs", bytes.NewBufferString(`{"url":"not-a-url"}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /api/jobs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if body["code"] != "validation" {
		t.Errorf("expected validation code, got %v", body["code"])
	}
}

func TestCreateAndCancelJob(t *testing.T) {
	srv, _ := newTestServer(t)
	tok := loginToken(t, srv.URL)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/jobs", bytes.NewBufferString(`{"url":"https://example.test/v1","priority":3}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var rec store.JobRecord
	json.NewDecoder(resp.Body).Decode(&rec)

	cancelReq, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/jobs/"+string(rec.ID)+"/cancel", nil)
	cancelReq.Header.Set("Authorization", "Bearer "+tok)
	cancelResp, err := http.DefaultClient.Do(cancelReq)
	if err != nil {
		t.Fatalf("cancel job: %v", err)
	}
	defer cancelResp.Body.Close()
	if cancelResp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", cancelResp.StatusCode)
	}
	var canceled store.JobRecord
	json.NewDecoder(cancelResp.Body).Decode(&canceled)
	if canceled.Status != job.StatusCanceled {
		t.Errorf("expected canceled, got %v", canceled.Status)
	}
}

func loginToken(t *testing.T, baseURL string) string {
	t.Helper()
	resp, err := http.Post(baseURL+"/api/auth/login", "application/json", bytes.NewBufferString(`{"username":"admin","password":"admin"}`))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	tok, _ := body["token"].(string)
	if tok == "" {
		t.Fatal("no token returned")
	}
	return tok
}
