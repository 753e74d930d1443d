// Package postgres implements store.Store on PostgreSQL via pgx/v5, with
// schema migrations applied through golang-migrate from an embedded
// migrations directory.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/videopipe/orchestrator/auth"
	"github.com/videopipe/orchestrator/job"
	"github.com/videopipe/orchestrator/jobid"
	"github.com/videopipe/orchestrator/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB is a store.Store backed by a pgx connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, pings it, and applies pending migrations.
func Open(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if err := runMigrations(dsn); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &DB{pool: pool}, nil
}

// RunMigrations applies pending migrations against dsn without opening a
// long-lived pool; used by the standalone initdb binary.
func RunMigrations(dsn string) error {
	return runMigrations(dsn)
}

func runMigrations(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, toMigrateURL(dsn))
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// toMigrateURL rewrites a standard postgres DSN to the scheme
// golang-migrate's pgx/v5 driver expects.
func toMigrateURL(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "postgres://"):
		return "pgx5://" + strings.TrimPrefix(dsn, "postgres://")
	case strings.HasPrefix(dsn, "postgresql://"):
		return "pgx5://" + strings.TrimPrefix(dsn, "postgresql://")
	default:
		return dsn
	}
}

func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

// ---- admin seeding ----

// SeedAdminUser creates the initial admin user iff no users exist yet.
func (db *DB) SeedAdminUser(ctx context.Context, username, password string) error {
	n, err := db.CountUsers(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	_, err = db.CreateUser(ctx, username, hash, "admin")
	return err
}

// ---- jobs ----

func (db *DB) CreateJobAtomic(ctx context.Context, rec store.JobRecord) (*store.JobRecord, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	optsJSON, err := json.Marshal(rec.Options)
	if err != nil {
		return nil, fmt.Errorf("marshal options: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, url, options, priority, status, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(rec.ID), rec.URL, optsJSON, rec.Priority, string(rec.Status), rec.RetryCount, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	_, err = tx.Exec(ctx, `INSERT INTO media (job_id) VALUES ($1)`, string(rec.ID))
	if err != nil {
		return nil, fmt.Errorf("insert media: %w", err)
	}

	if _, err := appendEventTx(ctx, tx, rec.ID, store.EventStarted, nil); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	out := rec
	return &out, nil
}

func (db *DB) GetJob(ctx context.Context, id jobid.ID) (*store.JobRecord, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT id, url, options, priority, status, error, retry_count, created_at, updated_at, completed_at
		FROM jobs WHERE id = $1`, string(id))
	return scanJobRow(row)
}

func scanJobRow(row pgx.Row) (*store.JobRecord, error) {
	var (
		rec       store.JobRecord
		idStr     string
		status    string
		errVal    *string
		optsJSON  []byte
		completed *time.Time
	)
	err := row.Scan(&idStr, &rec.URL, &optsJSON, &rec.Priority, &status, &errVal, &rec.RetryCount, &rec.CreatedAt, &rec.UpdatedAt, &completed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	rec.ID = jobid.ID(idStr)
	rec.Status = job.Status(status)
	rec.CompletedAt = completed
	if errVal != nil {
		rec.Error = *errVal
	}
	if len(optsJSON) > 0 {
		_ = json.Unmarshal(optsJSON, &rec.Options)
	}
	return &rec, nil
}

func (db *DB) ListJobs(ctx context.Context, filter store.ListJobsFilter) ([]*store.JobRecord, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	args := []any{}
	n := 0
	arg := func(v any) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}
	if filter.Status != nil {
		clauses = append(clauses, "status = "+arg(string(*filter.Status)))
	}
	if filter.Search != "" {
		ph := arg("%" + filter.Search + "%")
		clauses = append(clauses, fmt.Sprintf("(url ILIKE %s OR id ILIKE %s)", ph, ph))
	}
	where := strings.Join(clauses, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM jobs WHERE " + where
	if err := db.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limitPH := arg(limit)
	offsetPH := arg(filter.Offset)
	query := fmt.Sprintf(`
		SELECT id, url, options, priority, status, error, retry_count, created_at, updated_at, completed_at
		FROM jobs WHERE %s
		ORDER BY priority DESC, created_at ASC
		LIMIT %s OFFSET %s`, where, limitPH, offsetPH)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*store.JobRecord
	for rows.Next() {
		rec, err := scanJobRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

func (db *DB) UpdateJobStatus(ctx context.Context, id jobid.ID, newStatus job.Status, errOrNil *string) error {
	var completedExpr string
	if newStatus == job.StatusComplete || newStatus == job.StatusFailed || newStatus == job.StatusCanceled {
		completedExpr = "completed_at = COALESCE(completed_at, now()),"
	}
	errExpr := "$2"
	if newStatus == job.StatusFailed {
		// A failed transition with no message keeps the stored error.
		errExpr = "COALESCE($2, error)"
	}
	query := fmt.Sprintf(`
		UPDATE jobs SET status = $1, error = %s, %s updated_at = now()
		WHERE id = $3`, errExpr, completedExpr)
	_, err := db.pool.Exec(ctx, query, string(newStatus), errOrNil, string(id))
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

func (db *DB) UpdateJobPriority(ctx context.Context, id jobid.ID, priority int) error {
	_, err := db.pool.Exec(ctx, `UPDATE jobs SET priority = $1, updated_at = now() WHERE id = $2`, priority, string(id))
	return err
}

func (db *DB) IncrementRetryCount(ctx context.Context, id jobid.ID) error {
	_, err := db.pool.Exec(ctx, `UPDATE jobs SET retry_count = retry_count + 1, updated_at = now() WHERE id = $1`, string(id))
	return err
}

func (db *DB) DeleteJob(ctx context.Context, id jobid.ID) error {
	_, err := db.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, string(id))
	return err
}

// ---- media ----

func (db *DB) GetMedia(ctx context.Context, jobID jobid.ID) (*store.Media, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT job_id, video_path, audio_original, audio_dubbed_path, audio_mixed_path, temp_dir,
		       duration_seconds, resolution, fps, video_codec, audio_codec, file_size_bytes,
		       source_id, source_title, source_uploader, source_upload_date, source_description, source_thumbnail_url
		FROM media WHERE job_id = $1`, string(jobID))
	var m store.Media
	var idStr string
	err := row.Scan(&idStr, &m.VideoPath, &m.AudioOriginal, &m.AudioDubbedPath, &m.AudioMixedPath, &m.TempDir,
		&m.DurationSeconds, &m.Resolution, &m.FPS, &m.VideoCodec, &m.AudioCodec, &m.FileSizeBytes,
		&m.SourceID, &m.SourceTitle, &m.SourceUploader, &m.SourceUploadDate, &m.SourceDescription, &m.SourceThumbnailURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan media: %w", err)
	}
	m.JobID = jobID
	return &m, nil
}

func (db *DB) UpdateMedia(ctx context.Context, jobID jobid.ID, upd store.MediaUpdate) error {
	sets := []string{}
	args := []any{}
	n := 0
	add := func(col string, v any) {
		n++
		sets = append(sets, fmt.Sprintf("%s = $%d", col, n))
		args = append(args, v)
	}
	if upd.VideoPath != nil {
		add("video_path", *upd.VideoPath)
	}
	if upd.AudioOriginal != nil {
		add("audio_original", *upd.AudioOriginal)
	}
	if upd.AudioDubbedPath != nil {
		add("audio_dubbed_path", *upd.AudioDubbedPath)
	}
	if upd.AudioMixedPath != nil {
		add("audio_mixed_path", *upd.AudioMixedPath)
	}
	if upd.TempDir != nil {
		add("temp_dir", *upd.TempDir)
	}
	if upd.DurationSeconds != nil {
		add("duration_seconds", *upd.DurationSeconds)
	}
	if upd.Resolution != nil {
		add("resolution", *upd.Resolution)
	}
	if upd.FPS != nil {
		add("fps", *upd.FPS)
	}
	if upd.VideoCodec != nil {
		add("video_codec", *upd.VideoCodec)
	}
	if upd.AudioCodec != nil {
		add("audio_codec", *upd.AudioCodec)
	}
	if upd.FileSizeBytes != nil {
		add("file_size_bytes", *upd.FileSizeBytes)
	}
	if upd.SourceID != nil {
		add("source_id", *upd.SourceID)
	}
	if upd.SourceTitle != nil {
		add("source_title", *upd.SourceTitle)
	}
	if upd.SourceUploader != nil {
		add("source_uploader", *upd.SourceUploader)
	}
	if upd.SourceUploadDate != nil {
		add("source_upload_date", *upd.SourceUploadDate)
	}
	if upd.SourceDescription != nil {
		add("source_description", *upd.SourceDescription)
	}
	if upd.SourceThumbnailURL != nil {
		add("source_thumbnail_url", *upd.SourceThumbnailURL)
	}
	if len(sets) == 0 {
		return nil
	}
	n++
	args = append(args, string(jobID))
	query := fmt.Sprintf("UPDATE media SET %s WHERE job_id = $%d", strings.Join(sets, ", "), n)
	_, err := db.pool.Exec(ctx, query, args...)
	return err
}

// ---- events ----

func appendEventTx(ctx context.Context, tx pgx.Tx, jobID jobid.ID, kind store.EventKind, payload []byte) (*store.JobEvent, error) {
	var ev store.JobEvent
	err := tx.QueryRow(ctx, `
		INSERT INTO job_events (job_id, kind, payload, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id, created_at`, string(jobID), string(kind), payload).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}
	ev.JobID = jobID
	ev.Kind = kind
	ev.Payload = payload
	return &ev, nil
}

func (db *DB) AppendEvent(ctx context.Context, jobID jobid.ID, kind store.EventKind, payload []byte) (*store.JobEvent, error) {
	var ev store.JobEvent
	err := db.pool.QueryRow(ctx, `
		INSERT INTO job_events (job_id, kind, payload, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id, created_at`, string(jobID), string(kind), payload).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}
	ev.JobID = jobID
	ev.Kind = kind
	ev.Payload = payload
	return &ev, nil
}

func (db *DB) ListEvents(ctx context.Context, jobID jobid.ID, limit, offset int) ([]*store.JobEvent, int, error) {
	if limit <= 0 {
		limit = 50
	}
	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM job_events WHERE job_id = $1`, string(jobID)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}
	rows, err := db.pool.Query(ctx, `
		SELECT id, job_id, kind, payload, created_at FROM job_events
		WHERE job_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, string(jobID), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	var out []*store.JobEvent
	for rows.Next() {
		var ev store.JobEvent
		var idStr, kind string
		if err := rows.Scan(&ev.ID, &idStr, &kind, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan event: %w", err)
		}
		ev.JobID = jobid.ID(idStr)
		ev.Kind = store.EventKind(kind)
		out = append(out, &ev)
	}
	return out, total, rows.Err()
}

// ---- users ----

func (db *DB) CreateUser(ctx context.Context, username, passwordHash, role string) (*store.User, error) {
	var u store.User
	err := db.pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING id, username, password_hash, role, created_at, updated_at`,
		username, passwordHash, role).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &u, nil
}

func (db *DB) GetUser(ctx context.Context, id int64) (*store.User, error) {
	return scanUser(db.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, role, created_at, updated_at FROM users WHERE id = $1`, id))
}

func (db *DB) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return scanUser(db.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, role, created_at, updated_at FROM users WHERE username = $1`, username))
}

func scanUser(row pgx.Row) (*store.User, error) {
	var u store.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (db *DB) ListUsers(ctx context.Context) ([]*store.User, error) {
	rows, err := db.pool.Query(ctx, `SELECT id, username, password_hash, role, created_at, updated_at FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	var out []*store.User
	for rows.Next() {
		var u store.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (db *DB) UpdateUser(ctx context.Context, id int64, fields store.UserUpdate) (*store.User, error) {
	sets := []string{}
	args := []any{}
	n := 0
	add := func(col string, v any) {
		n++
		sets = append(sets, fmt.Sprintf("%s = $%d", col, n))
		args = append(args, v)
	}
	if fields.Username != nil {
		add("username", *fields.Username)
	}
	if fields.PasswordHash != nil {
		add("password_hash", *fields.PasswordHash)
	}
	if fields.Role != nil {
		add("role", *fields.Role)
	}
	if len(sets) == 0 {
		return db.GetUser(ctx, id)
	}
	sets = append(sets, "updated_at = now()")
	n++
	args = append(args, id)
	query := fmt.Sprintf("UPDATE users SET %s WHERE id = $%d", strings.Join(sets, ", "), n)
	if _, err := db.pool.Exec(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return db.GetUser(ctx, id)
}

func (db *DB) DeleteUser(ctx context.Context, id int64) error {
	_, err := db.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	return err
}

func (db *DB) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// ---- sessions ----

func (db *DB) CreateSession(ctx context.Context, userID int64, refreshToken string, expiresAt time.Time) (*store.Session, error) {
	var s store.Session
	err := db.pool.QueryRow(ctx, `
		INSERT INTO sessions (id, user_id, refresh_token, expires_at, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, now())
		RETURNING id, user_id, refresh_token, expires_at, created_at`,
		userID, refreshToken, expiresAt).Scan(&s.ID, &s.UserID, &s.RefreshToken, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &s, nil
}

func (db *DB) GetSessionByRefreshToken(ctx context.Context, refreshToken string) (*store.Session, error) {
	var s store.Session
	err := db.pool.QueryRow(ctx, `
		SELECT id, user_id, refresh_token, expires_at, created_at FROM sessions WHERE refresh_token = $1`,
		refreshToken).Scan(&s.ID, &s.UserID, &s.RefreshToken, &s.ExpiresAt, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

func (db *DB) DeleteSession(ctx context.Context, id uuid.UUID) error {
	_, err := db.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

func (db *DB) DeleteExpiredSessions(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < now()`)
	return err
}

// ---- queue jobs ----

func (db *DB) UpsertQueueJob(ctx context.Context, rec store.QueueJobRecord) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO queue_jobs (job_id, queue, payload, priority, state, attempts, created_at, updated_at, run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (job_id, queue) DO UPDATE SET
			payload = EXCLUDED.payload, priority = EXCLUDED.priority, state = EXCLUDED.state,
			attempts = EXCLUDED.attempts, updated_at = EXCLUDED.updated_at, run_at = EXCLUDED.run_at`,
		string(rec.JobID), string(rec.Queue), rec.Payload, rec.Priority, string(rec.State), rec.Attempts, rec.CreatedAt, rec.UpdatedAt, rec.RunAt)
	return err
}

func (db *DB) GetQueueJob(ctx context.Context, queue store.QueueName, jobID jobid.ID) (*store.QueueJobRecord, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT job_id, queue, payload, priority, state, attempts, created_at, updated_at, run_at
		FROM queue_jobs WHERE queue = $1 AND job_id = $2`, string(queue), string(jobID))
	return scanQueueJob(row)
}

func scanQueueJob(row pgx.Row) (*store.QueueJobRecord, error) {
	var rec store.QueueJobRecord
	var idStr, queue, state string
	err := row.Scan(&idStr, &queue, &rec.Payload, &rec.Priority, &state, &rec.Attempts, &rec.CreatedAt, &rec.UpdatedAt, &rec.RunAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan queue job: %w", err)
	}
	rec.JobID = jobid.ID(idStr)
	rec.Queue = store.QueueName(queue)
	rec.State = store.QueueJobState(state)
	return &rec, nil
}

func (db *DB) RemoveQueueJob(ctx context.Context, queue store.QueueName, jobID jobid.ID) error {
	_, err := db.pool.Exec(ctx, `DELETE FROM queue_jobs WHERE queue = $1 AND job_id = $2`, string(queue), string(jobID))
	return err
}

func (db *DB) SetQueueJobState(ctx context.Context, queue store.QueueName, jobID jobid.ID, state store.QueueJobState) error {
	_, err := db.pool.Exec(ctx, `UPDATE queue_jobs SET state = $1, updated_at = now() WHERE queue = $2 AND job_id = $3`,
		string(state), string(queue), string(jobID))
	return err
}

func (db *DB) ListQueueJobs(ctx context.Context, queue store.QueueName, state store.QueueJobState) ([]*store.QueueJobRecord, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT job_id, queue, payload, priority, state, attempts, created_at, updated_at, run_at
		FROM queue_jobs WHERE queue = $1 AND state = $2
		ORDER BY priority DESC, created_at ASC`, string(queue), string(state))
	if err != nil {
		return nil, fmt.Errorf("list queue jobs: %w", err)
	}
	defer rows.Close()
	var out []*store.QueueJobRecord
	for rows.Next() {
		rec, err := scanQueueJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (db *DB) QueueStats(ctx context.Context, queue store.QueueName) (map[store.QueueJobState]int, error) {
	rows, err := db.pool.Query(ctx, `SELECT state, COUNT(*) FROM queue_jobs WHERE queue = $1 GROUP BY state`, string(queue))
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()
	out := map[store.QueueJobState]int{}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		out[store.QueueJobState(state)] = n
	}
	return out, rows.Err()
}

func (db *DB) ReapQueueJobs(ctx context.Context, completedBefore, failedBefore time.Time) error {
	_, err := db.pool.Exec(ctx, `
		DELETE FROM queue_jobs
		WHERE (state = 'completed' AND updated_at < $1) OR (state = 'failed' AND updated_at < $2)`,
		completedBefore, failedBefore)
	return err
}

// ---- config ----

func (db *DB) GetConfig(ctx context.Context) (map[string]any, error) {
	var raw []byte
	err := db.pool.QueryRow(ctx, `SELECT data FROM app_config WHERE id = 1`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return data, nil
}

func (db *DB) SetConfig(ctx context.Context, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = db.pool.Exec(ctx, `
		INSERT INTO app_config (id, data) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`, raw)
	return err
}
