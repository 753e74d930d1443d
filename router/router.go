// Package router registers all HTTP endpoints using vanilla net/http (Go 1.22+ mux).
package router

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/videopipe/orchestrator/auth"
	"github.com/videopipe/orchestrator/config"
	"github.com/videopipe/orchestrator/fsops"
	"github.com/videopipe/orchestrator/job"
	"github.com/videopipe/orchestrator/jobid"
	"github.com/videopipe/orchestrator/jobsvc"
	"github.com/videopipe/orchestrator/middleware"
	"github.com/videopipe/orchestrator/store"
	"github.com/videopipe/orchestrator/subscription"
	"github.com/videopipe/orchestrator/vot"
	"github.com/videopipe/orchestrator/worker"
	"github.com/videopipe/orchestrator/ytdlp"
)

// startTime anchors the uptime reported by healthz to process start —
// package init happens a few milliseconds after the process actually
// starts, which healthz doesn't need to account for.
var startTime = time.Now()

const refreshCookie = "refresh_token"
const accessCookie = "access_token"
const sessionTTL = 24 * time.Hour

// WorkerRegistrar is how the router hands a freshly-upgraded worker
// connection off to whatever owns dispatch for that queue (the process's
// Queue Coordinators); cmd/server supplies the concrete implementation.
type WorkerRegistrar interface {
	Register(queue store.QueueName, conn *worker.Conn)
}

// Deps holds all dependencies for the router.
type Deps struct {
	Store     store.Store
	JobSvc    *jobsvc.Service
	Gateway   *subscription.Gateway
	Config    *config.Global
	JWTSecret []byte
	Layout    fsops.Layout  // media root for healthz's filesystem probe
	VOT       *vot.Client   // nil → healthz reports it unconfigured
	Ytdlp     *ytdlp.Client // nil → healthz reports it unconfigured
	Workers   WorkerRegistrar
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// New builds and returns the application HTTP handler.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()

	requireAuth := middleware.RequireAuth(d.JWTSecret)
	requireAdmin := middleware.RequireAdmin()
	requireWorker := middleware.RequireWorkerAuth(d.JWTSecret)

	// ---- auth (no auth required) ----
	mux.HandleFunc("POST /api/auth/login", login(d))
	mux.HandleFunc("POST /api/auth/refresh", refreshToken(d))

	// ---- auth (requires valid JWT) ----
	mux.Handle("POST /api/auth/logout", requireAuth(http.HandlerFunc(logout(d))))
	mux.Handle("GET /api/auth/me", requireAuth(http.HandlerFunc(getMe(d))))

	// ---- jobs (spec §6.1) ----
	mux.Handle("POST /api/jobs", requireAuth(http.HandlerFunc(createJob(d))))
	mux.Handle("GET /api/jobs", requireAuth(http.HandlerFunc(listJobs(d))))
	mux.Handle("GET /api/jobs/{id}", requireAuth(http.HandlerFunc(getJob(d))))
	mux.Handle("POST /api/jobs/{id}/cancel", requireAuth(http.HandlerFunc(cancelJob(d))))
	mux.Handle("POST /api/jobs/{id}/retry", requireAuth(http.HandlerFunc(retryJob(d))))
	mux.Handle("POST /api/jobs/{id}/resume", requireAuth(http.HandlerFunc(resumeJob(d))))
	mux.Handle("POST /api/jobs/{id}/control", requireAuth(http.HandlerFunc(controlJob(d))))
	mux.Handle("DELETE /api/jobs/{id}", requireAuth(http.HandlerFunc(deleteJob(d))))
	mux.Handle("GET /api/jobs/{id}/logs", requireAuth(http.HandlerFunc(jobLogs(d))))

	// ---- real-time subscription (spec §6.2) ----
	mux.Handle("GET /ws", requireAuth(http.HandlerFunc(subscribeWS(d))))

	// ---- worker duplex dispatch (spec §6.3) ----
	mux.Handle("GET /ws/worker/{queue}", requireWorker(http.HandlerFunc(workerWS(d))))

	// ---- admin: config ----
	mux.Handle("GET /api/config", requireAuth(requireAdmin(http.HandlerFunc(getConfig(d)))))
	mux.Handle("PUT /api/config", requireAuth(requireAdmin(http.HandlerFunc(putConfig(d)))))

	// ---- admin: users ----
	mux.Handle("GET /api/users", requireAuth(requireAdmin(http.HandlerFunc(listUsers(d)))))
	mux.Handle("POST /api/users", requireAuth(requireAdmin(http.HandlerFunc(createUser(d)))))
	mux.Handle("GET /api/users/{id}", requireAuth(requireAdmin(http.HandlerFunc(getUser(d)))))
	mux.Handle("PUT /api/users/{id}", requireAuth(requireAdmin(http.HandlerFunc(updateUser(d)))))
	mux.Handle("DELETE /api/users/{id}", requireAuth(requireAdmin(http.HandlerFunc(deleteUser(d)))))

	// ---- system ----
	mux.HandleFunc("GET /api/healthz", healthz(d))

	return mux
}

// ---- response helpers ----

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, msg string, details any) {
	body := map[string]any{"error": msg, "code": errCode}
	if details != nil {
		body["details"] = details
	}
	writeJSON(w, code, body)
}

// writeSvcErr maps a *jobsvc.Error onto its spec §7 HTTP status.
func writeSvcErr(w http.ResponseWriter, err error) {
	var svcErr *jobsvc.Error
	if !errors.As(err, &svcErr) {
		writeError(w, http.StatusInternalServerError, jobsvc.CodeInternal, err.Error(), nil)
		return
	}
	status := http.StatusInternalServerError
	switch svcErr.Code {
	case jobsvc.CodeValidation:
		status = http.StatusBadRequest
	case jobsvc.CodeNotFound:
		status = http.StatusNotFound
	case jobsvc.CodeInvalidState:
		status = http.StatusBadRequest
	case jobsvc.CodeCannotResume:
		status = http.StatusBadRequest
	case jobsvc.CodeInsufficientSpace:
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, svcErr.Code, svcErr.Message, svcErr.Details)
}

// ---- auth handlers ----

func login(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, jobsvc.CodeValidation, "invalid JSON", nil)
			return
		}
		if body.Username == "" || body.Password == "" {
			writeError(w, http.StatusBadRequest, jobsvc.CodeValidation, "username and password are required", nil)
			return
		}

		u, err := d.Store.GetUserByUsername(r.Context(), body.Username)
		if err != nil {
			writeError(w, http.StatusInternalServerError, jobsvc.CodeInternal, "internal error", nil)
			return
		}
		if u == nil || !auth.CheckPassword(u.PasswordHash, body.Password) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials", nil)
			return
		}

		refreshTok, err := auth.GenerateRefreshToken()
		if err != nil {
			writeError(w, http.StatusInternalServerError, jobsvc.CodeInternal, "internal error", nil)
			return
		}
		sess, err := d.Store.CreateSession(r.Context(), u.ID, refreshTok, time.Now().Add(sessionTTL))
		if err != nil {
			writeError(w, http.StatusInternalServerError, jobsvc.CodeInternal, "internal error", nil)
			return
		}
		token, err := auth.IssueAccessToken(d.JWTSecret, u.ID, sess.ID, u.Role)
		if err != nil {
			writeError(w, http.StatusInternalServerError, jobsvc.CodeInternal, "internal error", nil)
			return
		}

		setRefreshCookie(w, refreshTok)
		setAccessCookie(w, token)
		writeJSON(w, http.StatusOK, map[string]any{
			"token": token,
			"user":  map[string]any{"id": u.ID, "username": u.Username, "role": u.Role},
		})
	}
}

func refreshToken(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(refreshCookie)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "session_expired", "missing refresh token", nil)
			return
		}

		sess, err := d.Store.GetSessionByRefreshToken(r.Context(), cookie.Value)
		if err != nil {
			writeError(w, http.StatusInternalServerError, jobsvc.CodeInternal, "internal error", nil)
			return
		}
		if sess == nil || sess.ExpiresAt.Before(time.Now()) {
			writeError(w, http.StatusUnauthorized, "session_expired", "invalid or expired refresh token", nil)
			return
		}

		u, err := d.Store.GetUser(r.Context(), sess.UserID)
		if err != nil || u == nil {
			writeError(w, http.StatusInternalServerError, jobsvc.CodeInternal, "internal error", nil)
			return
		}

		_ = d.Store.DeleteSession(r.Context(), sess.ID)

		newRefreshTok, err := auth.GenerateRefreshToken()
		if err != nil {
			writeError(w, http.StatusInternalServerError, jobsvc.CodeInternal, "internal error", nil)
			return
		}
		newSess, err := d.Store.CreateSession(r.Context(), u.ID, newRefreshTok, time.Now().Add(sessionTTL))
		if err != nil {
			writeError(w, http.StatusInternalServerError, jobsvc.CodeInternal, "internal error", nil)
			return
		}
		token, err := auth.IssueAccessToken(d.JWTSecret, u.ID, newSess.ID, u.Role)
		if err != nil {
			writeError(w, http.StatusInternalServerError, jobsvc.CodeInternal, "internal error", nil)
			return
		}

		setRefreshCookie(w, newRefreshTok)
		setAccessCookie(w, token)
		writeJSON(w, http.StatusOK, map[string]any{"token": token})
	}
}

func logout(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessID := middleware.ContextSessionID(r)
		if sessID != (uuid.UUID{}) {
			_ = d.Store.DeleteSession(r.Context(), sessID)
		}
		clearRefreshCookie(w)
		clearAccessCookie(w)
		w.WriteHeader(http.StatusNoContent)
	}
}

var cookieSecure = true

func setAccessCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name: accessCookie, Value: value, Path: "/", HttpOnly: true,
		Secure: cookieSecure, SameSite: http.SameSiteStrictMode, MaxAge: int(sessionTTL.Seconds()),
	})
}

func clearAccessCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: accessCookie, Path: "/", HttpOnly: true, MaxAge: -1})
}

func setRefreshCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name: refreshCookie, Value: value, Path: "/api/auth/refresh", HttpOnly: true,
		Secure: true, SameSite: http.SameSiteStrictMode, MaxAge: int(sessionTTL.Seconds()),
	})
}

func clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: refreshCookie, Path: "/api/auth/refresh", HttpOnly: true, MaxAge: -1})
}

func getMe(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.ContextUserID(r)
		u, err := d.Store.GetUser(r.Context(), userID)
		if err != nil || u == nil {
			writeError(w, http.StatusInternalServerError, jobsvc.CodeInternal, "internal error", nil)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

// ---- job handlers (spec §6.1) ----

func createJob(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			URL               string `json:"url"`
			RequestedDubbing  bool   `json:"requestedDubbing"`
			TargetLang        string `json:"targetLang"`
			UseLivelyVoice    bool   `json:"useLivelyVoice"`
			FormatPreset      string `json:"formatPreset"`
			OutputContainer   string `json:"outputContainer"`
			DownloadSubtitles bool   `json:"downloadSubtitles"`
			Priority          int    `json:"priority"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, jobsvc.CodeValidation, "invalid JSON", nil)
			return
		}
		rec, err := d.JobSvc.CreateJob(r.Context(), jobsvc.CreateRequest{
			URL: body.URL,
			Options: job.Options{
				RequestedDubbing:  body.RequestedDubbing,
				TargetLang:        body.TargetLang,
				UseLivelyVoice:    body.UseLivelyVoice,
				FormatPreset:      body.FormatPreset,
				OutputContainer:   body.OutputContainer,
				DownloadSubtitles: body.DownloadSubtitles,
			},
			Priority: body.Priority,
		})
		if err != nil {
			writeSvcErr(w, err)
			return
		}
		d.Gateway.Broadcast("job_added", rec)
		writeJSON(w, http.StatusCreated, rec)
	}
}

func listJobs(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.ListJobsFilter{
			Search: q.Get("search"),
			Limit:  atoiDefault(q.Get("limit"), 50),
			Offset: atoiDefault(q.Get("offset"), 0),
		}
		if s := q.Get("status"); s != "" {
			st := job.Status(s)
			filter.Status = &st
		}
		jobs, total, err := d.Store.ListJobs(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, jobsvc.CodeInternal, err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"jobs": jobs, "total": total, "limit": filter.Limit, "offset": filter.Offset,
		})
	}
}

func getJob(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := jobid.ID(r.PathValue("id"))
		rec, err := d.Store.GetJob(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, jobsvc.CodeInternal, err.Error(), nil)
			return
		}
		if rec == nil {
			writeError(w, http.StatusNotFound, jobsvc.CodeNotFound, "job not found", nil)
			return
		}
		media, _ := d.Store.GetMedia(r.Context(), id)
		events, total, _ := d.Store.ListEvents(r.Context(), id, 20, 0)
		writeJSON(w, http.StatusOK, map[string]any{
			"job": rec, "media": media, "events": events, "eventsTotal": total,
		})
	}
}

func cancelJob(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := jobid.ID(r.PathValue("id"))
		rec, err := d.JobSvc.Control(r.Context(), id, jobsvc.ActionCancel, nil)
		if err != nil {
			writeSvcErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func retryJob(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := jobid.ID(r.PathValue("id"))
		rec, err := d.JobSvc.Retry(r.Context(), id)
		if err != nil {
			writeSvcErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func resumeJob(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := jobid.ID(r.PathValue("id"))
		result, err := d.JobSvc.Resume(r.Context(), id)
		if err != nil {
			writeSvcErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"job": result.Job, "resumedFrom": result.ResumedFrom,
		})
	}
}

func controlJob(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Action   string `json:"action"`
			Priority *int   `json:"priority"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, jobsvc.CodeValidation, "invalid JSON", nil)
			return
		}
		id := jobid.ID(r.PathValue("id"))
		rec, err := d.JobSvc.Control(r.Context(), id, jobsvc.Action(body.Action), body.Priority)
		if err != nil {
			writeSvcErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func deleteJob(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := jobid.ID(r.PathValue("id"))
		if err := d.JobSvc.Delete(r.Context(), id); err != nil {
			writeSvcErr(w, err)
			return
		}
		d.Gateway.Broadcast("job_removed", map[string]any{"id": id})
		w.WriteHeader(http.StatusNoContent)
	}
}

func jobLogs(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := jobid.ID(r.PathValue("id"))
		q := r.URL.Query()
		limit := atoiDefault(q.Get("limit"), 50)
		offset := atoiDefault(q.Get("offset"), 0)
		events, total, err := d.Store.ListEvents(r.Context(), id, limit, offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, jobsvc.CodeInternal, err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"events": events, "total": total, "limit": limit, "offset": offset,
		})
	}
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// ---- real-time subscription (spec §6.2) ----

type clientMessage struct {
	Action string      `json:"action"`
	JobIDs []jobid.ID  `json:"jobIds"`
}

func subscribeWS(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		clientID := subscription.ClientID(uuid.New().String())
		var writeMu sync.Mutex
		d.Gateway.Connect(clientID, func(msg any) {
			writeMu.Lock()
			defer writeMu.Unlock()
			_ = conn.WriteJSON(msg)
		})
		defer d.Gateway.Disconnect(clientID)

		for {
			var msg clientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Action {
			case "subscribe":
				d.Gateway.Subscribe(clientID, msg.JobIDs)
			case "unsubscribe":
				d.Gateway.Unsubscribe(clientID, msg.JobIDs)
			}
		}
	}
}

// ---- worker duplex dispatch (spec §6.3) ----

func workerWS(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queueName := store.QueueName(r.PathValue("queue"))
		switch queueName {
		case store.QueueDownload, store.QueueDub, store.QueueMux:
		default:
			writeError(w, http.StatusBadRequest, jobsvc.CodeValidation, "unknown queue", nil)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := worker.NewConn(ws)
		if d.Workers != nil {
			d.Workers.Register(queueName, conn)
		}
	}
}

// ---- admin: config ----

func getConfig(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Config.Get())
	}
}

func putConfig(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cfg config.Data
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, jobsvc.CodeValidation, "invalid JSON", nil)
			return
		}
		if err := d.Config.Set(r.Context(), cfg); err != nil {
			writeError(w, http.StatusInternalServerError, jobsvc.CodeInternal, err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, d.Config.Get())
	}
}

// ---- admin: users ----

func listUsers(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := d.Store.ListUsers(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, jobsvc.CodeInternal, err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}

func createUser(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
			Role     string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, jobsvc.CodeValidation, "invalid JSON", nil)
			return
		}
		if body.Username == "" || body.Password == "" {
			writeError(w, http.StatusBadRequest, jobsvc.CodeValidation, "username and password are required", nil)
			return
		}
		if body.Role == "" {
			body.Role = "user"
		}
		hash, err := auth.HashPassword(body.Password)
		if err != nil {
			writeError(w, http.StatusInternalServerError, jobsvc.CodeInternal, "internal error", nil)
			return
		}
		u, err := d.Store.CreateUser(r.Context(), body.Username, hash, body.Role)
		if err != nil {
			writeError(w, http.StatusConflict, "validation", "username already exists", nil)
			return
		}
		writeJSON(w, http.StatusCreated, u)
	}
}

func getUser(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, jobsvc.CodeValidation, "invalid user id", nil)
			return
		}
		u, err := d.Store.GetUser(r.Context(), id)
		if err != nil || u == nil {
			writeError(w, http.StatusNotFound, jobsvc.CodeNotFound, "user not found", nil)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

func updateUser(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, jobsvc.CodeValidation, "invalid user id", nil)
			return
		}
		var body struct {
			Username *string `json:"username"`
			Password *string `json:"password"`
			Role     *string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, jobsvc.CodeValidation, "invalid JSON", nil)
			return
		}
		fields := store.UserUpdate{Username: body.Username, Role: body.Role}
		if body.Password != nil {
			hash, err := auth.HashPassword(*body.Password)
			if err != nil {
				writeError(w, http.StatusInternalServerError, jobsvc.CodeInternal, "internal error", nil)
				return
			}
			fields.PasswordHash = &hash
		}
		u, err := d.Store.UpdateUser(r.Context(), id, fields)
		if err != nil || u == nil {
			writeError(w, http.StatusNotFound, jobsvc.CodeNotFound, "user not found", nil)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

func deleteUser(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, jobsvc.CodeValidation, "invalid user id", nil)
			return
		}
		if err := d.Store.DeleteUser(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, jobsvc.CodeInternal, err.Error(), nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ---- system ----

func healthz(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		deps := map[string]any{}

		dbStatus := "ok"
		if _, err := d.Store.GetConfig(ctx); err != nil {
			dbStatus = "unhealthy"
		}
		deps["db"] = dbStatus

		queueStatus := "ok"
		for _, q := range []store.QueueName{store.QueueDownload, store.QueueDub, store.QueueMux} {
			if _, err := d.Store.QueueStats(ctx, q); err != nil {
				queueStatus = "unhealthy"
				break
			}
		}
		deps["queue"] = queueStatus

		fsStatus := "ok"
		if d.Layout.Root == "" || !d.Layout.Exists(d.Layout.Root) {
			fsStatus = "unhealthy"
		}
		deps["filesystem"] = fsStatus

		var wg sync.WaitGroup
		var votStatus, ytdlpStatus string

		wg.Add(2)
		go func() {
			defer wg.Done()
			if d.VOT == nil {
				votStatus = "not_configured"
				return
			}
			if pi, _ := d.VOT.GetPoolInfo(ctx); pi == nil {
				votStatus = "unreachable"
				return
			}
			votStatus = "ok"
		}()
		go func() {
			defer wg.Done()
			if d.Ytdlp == nil {
				ytdlpStatus = "not_configured"
				return
			}
			if pi, _ := d.Ytdlp.GetPoolInfo(ctx); pi == nil {
				ytdlpStatus = "unreachable"
				return
			}
			ytdlpStatus = "ok"
		}()
		wg.Wait()
		deps["vot"] = votStatus
		deps["ytdlp"] = ytdlpStatus

		status := "ok"
		if dbStatus != "ok" || queueStatus != "ok" || fsStatus != "ok" {
			status = "unhealthy"
		} else if votStatus == "unreachable" || ytdlpStatus == "unreachable" {
			status = "degraded"
		}

		code := http.StatusOK
		if status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"status":       status,
			"uptime":       time.Since(startTime).Seconds(),
			"timestamp":    time.Now(),
			"dependencies": deps,
		})
	}
}
