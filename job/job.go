// Package job implements the nine-state job state machine: legal
// transitions, atomic state mutation, and the invariants that tie a
// terminal state to a completion timestamp.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/videopipe/orchestrator/jobid"
)

// Status is one of the nine defined job states.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusDownloaded  Status = "downloaded"
	StatusDubbing     Status = "dubbing"
	StatusDubbed      Status = "dubbed"
	StatusMuxing      Status = "muxing"
	StatusComplete    Status = "complete"
	StatusFailed      Status = "failed"
	StatusCanceled    Status = "canceled"
)

// ErrInvalidTransition is returned by TransitionTo when (from, to) is not
// in the legal transition table.
var ErrInvalidTransition = errors.New("job: invalid state transition")

// validTransitions is the legal-transition table from spec §4.D. Both
// downloaded→dubbing and downloaded→muxing are listed; the table does not
// consult RequestedDubbing, and nothing in this package checks it on that
// edge.
var validTransitions = map[Status][]Status{
	StatusQueued:      {StatusDownloading, StatusCanceled, StatusFailed},
	StatusDownloading: {StatusDownloaded, StatusFailed, StatusCanceled},
	StatusDownloaded:  {StatusDubbing, StatusMuxing, StatusFailed, StatusCanceled},
	StatusDubbing:     {StatusDubbed, StatusFailed, StatusCanceled},
	StatusDubbed:      {StatusMuxing, StatusFailed, StatusCanceled},
	StatusMuxing:      {StatusComplete, StatusFailed, StatusCanceled},
	StatusComplete:    {},
	StatusFailed:      {},
	StatusCanceled:    {},
}

// canTransition reports whether (from, to) is a legal edge in the table.
func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s is one of complete/failed/canceled.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCanceled
}

// Options bundles the per-job option set from spec §3.
type Options struct {
	RequestedDubbing  bool   `json:"requestedDubbing"`
	TargetLang        string `json:"targetLang,omitempty"`
	UseLivelyVoice    bool   `json:"useLivelyVoice"`
	FormatPreset      string `json:"formatPreset,omitempty"`
	OutputContainer   string `json:"outputContainer,omitempty"`
	DownloadSubtitles bool   `json:"downloadSubtitles"`
}

// Job is the primary entity of spec §3. All mutating methods are
// mutex-guarded; Clone returns a safe-to-read-without-locking snapshot.
type Job struct {
	mu sync.RWMutex

	ID          jobid.ID  `json:"id"`
	URL         string    `json:"url"`
	Options     Options   `json:"options"`
	Priority    int       `json:"priority"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	RetryCount  int       `json:"retryCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// New constructs a fresh job in the queued state with the given URL,
// options and priority (clamped to 0-10).
func New(url string, opts Options, priority int) *Job {
	if priority < 0 {
		priority = 0
	}
	if priority > 10 {
		priority = 10
	}
	now := time.Now()
	return &Job{
		ID:        jobid.New(),
		URL:       url,
		Options:   opts,
		Priority:  priority,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo validates and applies (from, to). On success it updates
// UpdatedAt, and sets CompletedAt iff `to` is terminal. errMsg is recorded
// on the job iff `to` is StatusFailed; any other transition clears Error.
func (j *Job) TransitionTo(to Status, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.Status, to) {
		return ErrInvalidTransition
	}
	j.Status = to
	j.UpdatedAt = time.Now()
	if to == StatusFailed {
		j.Error = errMsg
	} else {
		j.Error = ""
	}
	if to.IsTerminal() {
		now := j.UpdatedAt
		j.CompletedAt = &now
	}
	return nil
}

// Retry resets the job to queued from failed or canceled, clears the
// error, and increments RetryCount. It is illegal from any other state.
func (j *Job) Retry() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.Status != StatusFailed && j.Status != StatusCanceled {
		return ErrInvalidTransition
	}
	j.Status = StatusQueued
	j.Error = ""
	j.CompletedAt = nil
	j.RetryCount++
	j.UpdatedAt = time.Now()
	return nil
}

// ResumeTo restores the job directly to a non-terminal status (bypassing
// the normal edge table, since resume re-enters the machine from a
// terminal state by design) and clears the error/completion markers. Only
// the Resume Planner should call this.
func (j *Job) ResumeTo(to Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.Status != StatusFailed {
		return ErrInvalidTransition
	}
	if to != StatusDownloaded && to != StatusDubbed {
		return ErrInvalidTransition
	}
	j.Status = to
	j.Error = ""
	j.CompletedAt = nil
	j.UpdatedAt = time.Now()
	return nil
}

// SetPriority updates the priority in place (used by control:prioritize).
func (j *Job) SetPriority(p int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if p < 0 {
		p = 0
	}
	if p > 10 {
		p = 10
	}
	j.Priority = p
	j.UpdatedAt = time.Now()
}

// GetStatus returns the current status under a read lock.
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// Clone returns a deep copy safe for concurrent reads without holding the
// original's lock across an API boundary.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	cp := *j
	cp.mu = sync.RWMutex{}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
