// Package jobsvc implements the Job Service of spec §4.D: the Control
// API's sole path into job creation, control, retry, resume, and
// delete. It owns the state machine transitions, the disk-space
// backpressure check, and wiring jobs onto the Queue Coordinator,
// grounded on manager.go's create/cancel/delete orchestration (there:
// a DVR source's lifecycle; here: a download/dub/mux job's).
package jobsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"syscall"

	"github.com/videopipe/orchestrator/eventbus"
	"github.com/videopipe/orchestrator/fsops"
	"github.com/videopipe/orchestrator/job"
	"github.com/videopipe/orchestrator/jobid"
	"github.com/videopipe/orchestrator/queue"
	"github.com/videopipe/orchestrator/resume"
	"github.com/videopipe/orchestrator/store"
	"github.com/videopipe/orchestrator/worker"
)

// Error codes from spec §7's taxonomy. The Control API maps these
// directly onto HTTP status + {error, code} bodies.
const (
	CodeValidation        = "validation"
	CodeNotFound          = "not_found"
	CodeInvalidState      = "invalid_state"
	CodeCannotResume       = "cannot_resume"
	CodeInsufficientSpace = "insufficient_space"
	CodeInternal          = "internal"
)

// Error is a Job Service error carrying the taxonomy code the Control
// API needs to pick an HTTP status (spec §7).
type Error struct {
	Code    string
	Message string
	Details any
}

func (e *Error) Error() string { return e.Message }

func newErr(code, msg string, details any) *Error {
	return &Error{Code: code, Message: msg, Details: details}
}

// CreateRequest is the validated input to CreateJob (spec §6.1 POST
// /jobs).
type CreateRequest struct {
	URL     string
	Options job.Options
	Priority int
}

// Action is a control() verb (spec §4.D).
type Action string

const (
	ActionCancel     Action = "cancel"
	ActionPrioritize Action = "prioritize"
	ActionPause      Action = "pause"
	ActionResume     Action = "resume"
)

// Service implements spec §4.D's operations.
type Service struct {
	st      store.Store
	bus     *eventbus.Bus
	layout  fsops.Layout
	queues  map[store.QueueName]*queue.Coordinator

	minFreeSpaceGB int64
}

// New constructs a Service. queues must contain an entry for
// store.QueueDownload, store.QueueDub, and store.QueueMux.
func New(st store.Store, bus *eventbus.Bus, layout fsops.Layout, queues map[store.QueueName]*queue.Coordinator, minFreeSpaceGB int64) *Service {
	return &Service{st: st, bus: bus, layout: layout, queues: queues, minFreeSpaceGB: minFreeSpaceGB}
}

// CreateJob validates req, checks disk-space backpressure, and
// atomically creates the job + media row + started event, then enqueues
// the initial download payload (spec §4.D).
func (s *Service) CreateJob(ctx context.Context, req CreateRequest) (*store.JobRecord, error) {
	u, err := url.ParseRequestURI(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, newErr(CodeValidation, "invalid url", map[string]string{"field": "url"})
	}
	if req.Priority < 0 || req.Priority > 10 {
		return nil, newErr(CodeValidation, "priority must be 0-10", map[string]string{"field": "priority"})
	}
	if req.Options.RequestedDubbing && req.Options.TargetLang == "" {
		return nil, newErr(CodeValidation, "targetLang required when requestedDubbing", map[string]string{"field": "targetLang"})
	}

	if ok, free := s.hasFreeSpace(); !ok {
		return nil, newErr(CodeInsufficientSpace, "insufficient disk space", map[string]any{"freeBytes": free})
	}

	j := job.New(req.URL, req.Options, req.Priority)
	rec := store.JobRecord{
		ID:        j.ID,
		URL:       j.URL,
		Options:   j.Options,
		Priority:  j.Priority,
		Status:    j.Status,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	created, err := s.st.CreateJobAtomic(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	startedPayload, _ := json.Marshal(map[string]string{"url": req.URL})
	if _, err := s.st.AppendEvent(ctx, created.ID, store.EventStarted, startedPayload); err != nil {
		return nil, fmt.Errorf("append started event: %w", err)
	}

	tempDir, err := s.layout.EnsureIncomplete(created.ID)
	if err != nil {
		return nil, fmt.Errorf("create incomplete dir: %w", err)
	}

	dl := worker.DownloadParams{
		JobID:             created.ID,
		URL:               req.URL,
		FormatPreset:      req.Options.FormatPreset,
		OutputContainer:   req.Options.OutputContainer,
		RequestedDubbing:  req.Options.RequestedDubbing,
		TargetLang:        req.Options.TargetLang,
		DownloadSubtitles: req.Options.DownloadSubtitles,
		TempDir:           tempDir,
		FinalPath:         s.layout.CompleteDir(created.ID),
	}
	payload, err := json.Marshal(dl)
	if err != nil {
		return nil, fmt.Errorf("marshal download payload: %w", err)
	}
	if err := s.queues[store.QueueDownload].Enqueue(ctx, created.ID, payload, created.Priority); err != nil {
		return nil, fmt.Errorf("enqueue download: %w", err)
	}

	return created, nil
}

// hasFreeSpace checks the media root's free space against the
// configured minimum (spec §4.D's disk-space backpressure).
func (s *Service) hasFreeSpace() (bool, uint64) {
	if s.minFreeSpaceGB <= 0 {
		return true, 0
	}
	var stat syscall.Statfs_t
	if err := syscall.Statfs(s.layout.Root, &stat); err != nil {
		return true, 0
	}
	free := stat.Bavail * uint64(stat.Bsize)
	minBytes := uint64(s.minFreeSpaceGB) * 1 << 30
	return free >= minBytes, free
}

// Control implements cancel/prioritize/pause/resume (spec §4.D).
// "resume" here is the control-verb alias the route table keeps for the
// reserved pause/resume pair, not the Resume Planner operation, which is
// Service.Resume below.
func (s *Service) Control(ctx context.Context, id jobid.ID, action Action, priority *int) (*store.JobRecord, error) {
	rec, err := s.st.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if rec == nil {
		return nil, newErr(CodeNotFound, "job not found", nil)
	}

	switch action {
	case ActionCancel:
		return s.cancel(ctx, rec)
	case ActionPrioritize:
		return s.prioritize(ctx, rec, priority)
	case ActionPause, ActionResume:
		return nil, newErr(CodeInvalidState, "pause/resume control actions are not implemented", nil)
	default:
		return nil, newErr(CodeValidation, "unknown control action", map[string]string{"action": string(action)})
	}
}

func (s *Service) cancel(ctx context.Context, rec *store.JobRecord) (*store.JobRecord, error) {
	if rec.Status.IsTerminal() {
		// Double-cancel is a no-op that returns the existing state (spec §8).
		if rec.Status == job.StatusCanceled {
			return rec, nil
		}
		return nil, newErr(CodeInvalidState, "job is already terminal", map[string]string{"status": string(rec.Status)})
	}

	statePayload, _ := json.Marshal(eventbus.StatePayload{From: string(rec.Status), To: string(job.StatusCanceled)})
	if err := s.st.UpdateJobStatus(ctx, rec.ID, job.StatusCanceled, nil); err != nil {
		return nil, fmt.Errorf("cancel: update status: %w", err)
	}
	if _, err := s.st.AppendEvent(ctx, rec.ID, store.EventStateChange, statePayload); err != nil {
		return nil, fmt.Errorf("cancel: append event: %w", err)
	}
	s.bus.Publish(eventbus.Event{JobID: rec.ID, Channel: eventbus.ChannelState, Payload: statePayload})

	for _, q := range s.queues {
		_ = q.Remove(ctx, rec.ID)
	}
	if err := s.layout.CleanupIncomplete(rec.ID); err != nil {
		return nil, fmt.Errorf("cancel: cleanup incomplete dir: %w", err)
	}

	return s.st.GetJob(ctx, rec.ID)
}

func (s *Service) prioritize(ctx context.Context, rec *store.JobRecord, priority *int) (*store.JobRecord, error) {
	if priority == nil {
		return nil, newErr(CodeValidation, "priority required", nil)
	}
	p := *priority
	if p < 0 {
		p = 0
	}
	if p > 10 {
		p = 10
	}
	if err := s.st.UpdateJobPriority(ctx, rec.ID, p); err != nil {
		return nil, fmt.Errorf("prioritize: %w", err)
	}

	var queueName store.QueueName
	switch rec.Status {
	case job.StatusQueued:
		queueName = store.QueueDownload
	case job.StatusDownloaded:
		queueName = store.QueueDub
	case job.StatusDubbed:
		queueName = store.QueueMux
	}
	if queueName != "" {
		if qj, err := s.st.GetQueueJob(ctx, queueName, rec.ID); err == nil && qj != nil {
			_ = s.queues[queueName].Enqueue(ctx, rec.ID, qj.Payload, p)
		}
	}

	return s.st.GetJob(ctx, rec.ID)
}

// Retry resets a failed or canceled job to queued and re-enqueues the
// download payload from the beginning (spec §4.D).
func (s *Service) Retry(ctx context.Context, id jobid.ID) (*store.JobRecord, error) {
	rec, err := s.st.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if rec == nil {
		return nil, newErr(CodeNotFound, "job not found", nil)
	}
	if rec.Status != job.StatusFailed && rec.Status != job.StatusCanceled {
		return nil, newErr(CodeInvalidState, "retry requires failed or canceled", map[string]string{"status": string(rec.Status)})
	}

	if err := s.st.UpdateJobStatus(ctx, id, job.StatusQueued, nil); err != nil {
		return nil, fmt.Errorf("retry: update status: %w", err)
	}
	if err := s.st.IncrementRetryCount(ctx, id); err != nil {
		return nil, fmt.Errorf("retry: increment retry count: %w", err)
	}
	retryPayload, _ := json.Marshal(resume.RetryEventPayload{PreviousStatus: rec.Status})
	if _, err := s.st.AppendEvent(ctx, id, store.EventRetry, retryPayload); err != nil {
		return nil, fmt.Errorf("retry: append event: %w", err)
	}

	tempDir, err := s.layout.EnsureIncomplete(id)
	if err != nil {
		return nil, fmt.Errorf("retry: ensure incomplete dir: %w", err)
	}
	dl := worker.DownloadParams{
		JobID:             id,
		URL:               rec.URL,
		FormatPreset:      rec.Options.FormatPreset,
		OutputContainer:   rec.Options.OutputContainer,
		RequestedDubbing:  rec.Options.RequestedDubbing,
		TargetLang:        rec.Options.TargetLang,
		DownloadSubtitles: rec.Options.DownloadSubtitles,
		TempDir:           tempDir,
		FinalPath:         s.layout.CompleteDir(id),
	}
	payload, _ := json.Marshal(dl)
	if err := s.queues[store.QueueDownload].Enqueue(ctx, id, payload, rec.Priority); err != nil {
		return nil, fmt.Errorf("retry: enqueue download: %w", err)
	}

	return s.st.GetJob(ctx, id)
}

// ResumeResult is returned by Resume on success (spec §6.1: `{resumedFrom}`).
type ResumeResult struct {
	Job        *store.JobRecord
	ResumedFrom resume.Stage
}

// Resume restores a failed job to the furthest recoverable stage, per
// the Resume Planner's decision table (spec §4.D).
func (s *Service) Resume(ctx context.Context, id jobid.ID) (*ResumeResult, error) {
	rec, err := s.st.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if rec == nil {
		return nil, newErr(CodeNotFound, "job not found", nil)
	}
	if rec.Status != job.StatusFailed {
		return nil, newErr(CodeInvalidState, "resume requires failed", map[string]string{"status": string(rec.Status)})
	}

	plan, diag, err := resume.Plan(ctx, s.st, s.layout, id)
	if errors.Is(err, resume.ErrCannotResume) {
		return nil, newErr(CodeCannotResume, "job cannot be resumed", diag)
	}
	if err != nil {
		return nil, fmt.Errorf("resume: plan: %w", err)
	}

	if err := s.st.UpdateJobStatus(ctx, id, plan.NewStatus, nil); err != nil {
		return nil, fmt.Errorf("resume: update status: %w", err)
	}
	retryPayload, _ := json.Marshal(resume.RetryEventPayload{PreviousStatus: rec.Status, ResumeFrom: plan.ResumeFrom})
	if _, err := s.st.AppendEvent(ctx, id, store.EventRetry, retryPayload); err != nil {
		return nil, fmt.Errorf("resume: append event: %w", err)
	}

	media, err := s.st.GetMedia(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resume: get media: %w", err)
	}

	var queueName store.QueueName
	var payload []byte
	switch plan.ResumeFrom {
	case resume.StageDubbing:
		queueName = store.QueueDub
		videoPath := ""
		if media != nil && media.VideoPath != nil {
			videoPath = *media.VideoPath
		}
		dub := worker.DubParams{
			JobID:           id,
			SourceURL:       rec.URL,
			VideoPath:       videoPath,
			TargetLang:      rec.Options.TargetLang,
			UseLivelyVoice:  rec.Options.UseLivelyVoice,
			TempDir:         s.layout.IncompleteDir(id),
			OutputContainer: rec.Options.OutputContainer,
			FinalPath:       s.layout.CompleteDir(id),
		}
		payload, err = json.Marshal(dub)
	case resume.StageMuxing:
		queueName = store.QueueMux
		var videoPath, audioPath string
		if media != nil {
			if media.VideoPath != nil {
				videoPath = *media.VideoPath
			}
			if media.AudioDubbedPath != nil {
				audioPath = *media.AudioDubbedPath
			}
		}
		mux := worker.MuxParams{
			JobID:           id,
			VideoPath:       videoPath,
			DubbedAudioPath: audioPath,
			TargetLang:      rec.Options.TargetLang,
			OutputContainer: rec.Options.OutputContainer,
			TempDir:         s.layout.IncompleteDir(id),
			FinalPath:       s.layout.CompleteDir(id),
		}
		payload, err = json.Marshal(mux)
	}
	if err != nil {
		return nil, fmt.Errorf("resume: marshal payload: %w", err)
	}
	if err := s.queues[queueName].Enqueue(ctx, id, payload, rec.Priority); err != nil {
		return nil, fmt.Errorf("resume: enqueue: %w", err)
	}

	updated, err := s.st.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resume: reload job: %w", err)
	}
	return &ResumeResult{Job: updated, ResumedFrom: plan.ResumeFrom}, nil
}

// Delete always succeeds: it cleans up the filesystem first, then lets
// the store cascade-delete media/events (spec §4.D/§4.G).
func (s *Service) Delete(ctx context.Context, id jobid.ID) error {
	rec, err := s.st.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if rec == nil {
		return newErr(CodeNotFound, "job not found", nil)
	}

	if err := s.layout.CleanupAll(id); err != nil {
		return fmt.Errorf("delete: cleanup filesystem: %w", err)
	}
	for _, q := range s.queues {
		_ = q.Remove(ctx, id)
	}
	return s.st.DeleteJob(ctx, id)
}
