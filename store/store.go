// Package store defines the persistence abstraction for the job
// orchestration core: durable Jobs, Media, append-only Job Events, Users
// and Sessions, plus the durable handle backing the Queue Coordinator.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/videopipe/orchestrator/job"
	"github.com/videopipe/orchestrator/jobid"
)

// EventKind classifies a Job Event row.
type EventKind string

const (
	EventProgress    EventKind = "progress"
	EventStateChange EventKind = "state_change"
	EventLog         EventKind = "log"
	EventError       EventKind = "error"
	EventStarted     EventKind = "started"
	EventFinished    EventKind = "finished"
	EventRetry       EventKind = "retry"
)

// JobRecord is the persisted row shape for a Job.
type JobRecord struct {
	ID          jobid.ID
	URL         string
	Options     job.Options
	Priority    int
	Status      job.Status
	Error       string
	RetryCount  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Media is at most one per job (spec §3).
type Media struct {
	JobID           jobid.ID
	VideoPath       *string
	AudioOriginal   *string
	AudioDubbedPath *string
	AudioMixedPath  *string
	TempDir         *string
	DurationSeconds *float64
	Resolution      *string
	FPS             *float64
	VideoCodec      *string
	AudioCodec      *string
	FileSizeBytes   *int64
	SourceID        *string
	SourceTitle     *string
	SourceUploader  *string
	SourceUploadDate *string
	SourceDescription *string
	SourceThumbnailURL *string
}

// MediaUpdate is a partial update applied by metadata events; nil fields
// are left untouched.
type MediaUpdate struct {
	VideoPath          *string
	AudioOriginal      *string
	AudioDubbedPath    *string
	AudioMixedPath     *string
	TempDir            *string
	DurationSeconds    *float64
	Resolution         *string
	FPS                *float64
	VideoCodec         *string
	AudioCodec         *string
	FileSizeBytes      *int64
	SourceID           *string
	SourceTitle        *string
	SourceUploader     *string
	SourceUploadDate   *string
	SourceDescription  *string
	SourceThumbnailURL *string
}

// JobEvent is an append-only audit log row.
type JobEvent struct {
	ID        int64
	JobID     jobid.ID
	Kind      EventKind
	Payload   []byte // opaque JSON
	CreatedAt time.Time
}

// User is an authentication principal.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserUpdate is a partial user update; nil fields are left untouched.
type UserUpdate struct {
	Username     *string
	PasswordHash *string
	Role         *string
}

// Session is an authentication handle (spec §3).
type Session struct {
	ID           uuid.UUID
	UserID       int64
	RefreshToken string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// QueueName identifies one of the three logical queues.
type QueueName string

const (
	QueueDownload QueueName = "download"
	QueueDub      QueueName = "dub"
	QueueMux      QueueName = "mux"
)

// QueueJobState mirrors the BullMQ-style lifecycle named in spec §3/§4.B.
type QueueJobState string

const (
	QueueStateWaiting   QueueJobState = "waiting"
	QueueStateActive    QueueJobState = "active"
	QueueStateCompleted QueueJobState = "completed"
	QueueStateFailed    QueueJobState = "failed"
	QueueStateDelayed   QueueJobState = "delayed"
)

// QueueJobRecord is the durable handle for a Queue Job (spec §3).
type QueueJobRecord struct {
	JobID     jobid.ID
	Queue     QueueName
	Payload   []byte // opaque JSON, typed per queue (download/dub/mux params)
	Priority  int
	State     QueueJobState
	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
	RunAt     time.Time // next eligible dispatch time, for delayed entries
}

// ListJobsFilter narrows ListJobs.
type ListJobsFilter struct {
	Status *job.Status
	Search string // substring match on URL or id
	Limit  int
	Offset int
}

// Store is the persistence abstraction. All methods are context-aware.
// Implementations must provide single-writer/concurrent-reader semantics
// and must not retry internally; callers decide.
type Store interface {
	// ---- jobs ----
	CreateJobAtomic(ctx context.Context, rec JobRecord) (*JobRecord, error)
	GetJob(ctx context.Context, id jobid.ID) (*JobRecord, error)
	ListJobs(ctx context.Context, filter ListJobsFilter) ([]*JobRecord, int, error)
	UpdateJobStatus(ctx context.Context, id jobid.ID, newStatus job.Status, errOrNil *string) error
	UpdateJobPriority(ctx context.Context, id jobid.ID, priority int) error
	IncrementRetryCount(ctx context.Context, id jobid.ID) error
	DeleteJob(ctx context.Context, id jobid.ID) error

	// ---- media ----
	GetMedia(ctx context.Context, jobID jobid.ID) (*Media, error)
	UpdateMedia(ctx context.Context, jobID jobid.ID, upd MediaUpdate) error

	// ---- events ----
	AppendEvent(ctx context.Context, jobID jobid.ID, kind EventKind, payload []byte) (*JobEvent, error)
	ListEvents(ctx context.Context, jobID jobid.ID, limit, offset int) ([]*JobEvent, int, error)

	// ---- users ----
	CreateUser(ctx context.Context, username, passwordHash, role string) (*User, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	UpdateUser(ctx context.Context, id int64, fields UserUpdate) (*User, error)
	DeleteUser(ctx context.Context, id int64) error
	CountUsers(ctx context.Context) (int, error)

	// ---- sessions ----
	CreateSession(ctx context.Context, userID int64, refreshToken string, expiresAt time.Time) (*Session, error)
	GetSessionByRefreshToken(ctx context.Context, refreshToken string) (*Session, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
	DeleteExpiredSessions(ctx context.Context) error

	// ---- queue jobs (durable handle for the Queue Coordinator) ----
	UpsertQueueJob(ctx context.Context, rec QueueJobRecord) error
	GetQueueJob(ctx context.Context, queue QueueName, jobID jobid.ID) (*QueueJobRecord, error)
	RemoveQueueJob(ctx context.Context, queue QueueName, jobID jobid.ID) error
	SetQueueJobState(ctx context.Context, queue QueueName, jobID jobid.ID, state QueueJobState) error
	ListQueueJobs(ctx context.Context, queue QueueName, state QueueJobState) ([]*QueueJobRecord, error)
	QueueStats(ctx context.Context, queue QueueName) (map[QueueJobState]int, error)
	ReapQueueJobs(ctx context.Context, completedBefore, failedBefore time.Time) error

	// ---- config ----
	GetConfig(ctx context.Context) (map[string]any, error)
	SetConfig(ctx context.Context, data map[string]any) error

	// ---- lifecycle ----
	Close() error
}
