// Command server is the job orchestration core's API and dispatch process.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/videopipe/orchestrator/aggregator"
	"github.com/videopipe/orchestrator/auth"
	"github.com/videopipe/orchestrator/config"
	"github.com/videopipe/orchestrator/eventbus"
	"github.com/videopipe/orchestrator/fsops"
	"github.com/videopipe/orchestrator/job"
	"github.com/videopipe/orchestrator/jobid"
	"github.com/videopipe/orchestrator/jobsvc"
	"github.com/videopipe/orchestrator/queue"
	"github.com/videopipe/orchestrator/router"
	"github.com/videopipe/orchestrator/store"
	"github.com/videopipe/orchestrator/store/postgres"
	"github.com/videopipe/orchestrator/subscription"
	"github.com/videopipe/orchestrator/vot"
	"github.com/videopipe/orchestrator/worker"
	"github.com/videopipe/orchestrator/ytdlp"
)

var version = "dev"

func main() {
	port := env("BACKEND_PORT", "8080")

	dbDSN := os.Getenv("DB_DSN")
	if dbDSN == "" {
		log.Fatal("DB_DSN environment variable is required")
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	mediaRoot := env("MEDIA_ROOT", "/data/media")

	fmt.Printf("orchestrator %s\n", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Open(ctx, dbDSN)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	appEnv := env("APP_ENV", "dev")
	adminUser := env("ADMIN_USERNAME", "admin")
	adminPass := os.Getenv("ADMIN_PASSWORD")
	if appEnv == "production" && (os.Getenv("ADMIN_USERNAME") == "" || adminPass == "") {
		log.Fatal("ADMIN_USERNAME and ADMIN_PASSWORD are required when APP_ENV=production")
	}
	if adminPass != "" {
		if err := db.SeedAdminUser(ctx, adminUser, adminPass); err != nil {
			log.Fatalf("seed admin user: %v", err)
		}
		log.Printf("seeded admin user: %s", adminUser)
	} else {
		log.Println("ADMIN_PASSWORD not set; skipping admin user seeding")
	}

	cfg, err := config.Load(ctx, db)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	data := cfg.Get()

	layout := fsops.New(mediaRoot)
	bus := eventbus.New(256)
	defer bus.Stop()

	gateway := subscription.New()
	logger := slog.Default()
	pool := newWorkerPool(bus)

	queues := map[store.QueueName]*queue.Coordinator{
		store.QueueDownload: queue.New(store.QueueDownload, queue.Config{
			Concurrency: data.DownloadConcurrency, MaxAttempts: 3,
			BackoffBase: 1 * time.Second, Timeout: 1 * time.Hour,
		}, db, pool.dispatchFunc(store.QueueDownload, "download"), logger),
		store.QueueDub: queue.New(store.QueueDub, queue.Config{
			Concurrency: data.DubbingConcurrency, MaxAttempts: 3,
			BackoffBase: 2 * time.Second, Timeout: 30 * time.Minute,
		}, db, pool.dispatchFunc(store.QueueDub, "dub"), logger),
		store.QueueMux: queue.New(store.QueueMux, queue.Config{
			Concurrency: data.MuxingConcurrency, MaxAttempts: 3,
			BackoffBase: 2 * time.Second, Timeout: 30 * time.Minute,
		}, db, pool.dispatchFunc(store.QueueMux, "mux"), logger),
	}
	pool.queues = queues
	for name, q := range queues {
		if err := q.Reconcile(ctx); err != nil {
			log.Printf("reconcile %s: %v", name, err)
		}
		go q.Run(ctx)
	}

	agg := aggregator.New(bus, db, gateway, logger)
	agg.Start()
	defer agg.Stop()

	svc := jobsvc.New(db, bus, layout, queues, data.MinFreeSpaceGB)

	for _, q := range []store.QueueName{store.QueueDownload, store.QueueDub, store.QueueMux} {
		tok, err := auth.IssueWorkerToken([]byte(jwtSecret), string(q))
		if err != nil {
			log.Fatalf("issue worker token for %s: %v", q, err)
		}
		log.Printf("worker token (%s): %s", q, tok)
	}

	var votClient *vot.Client
	if data.VOTURL != "" {
		votClient = vot.NewClient(data.VOTURL)
	}
	var ytdlpClient *ytdlp.Client
	if data.YtdlpHealthURL != "" {
		ytdlpClient = ytdlp.NewClient(data.YtdlpHealthURL)
	}

	// Periodic reap + expired-session cleanup, grounded on the teacher's
	// hourly session-sweep ticker.
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.DeleteExpiredSessions(ctx); err != nil {
					log.Printf("delete expired sessions: %v", err)
				}
				for name, q := range queues {
					if err := q.Reap(ctx, 24*time.Hour, 7*24*time.Hour); err != nil {
						log.Printf("reap %s: %v", name, err)
					}
				}
			}
		}
	}()

	srv := &http.Server{
		Addr: ":" + port,
		Handler: router.New(router.Deps{
			Store:     db,
			JobSvc:    svc,
			Gateway:   gateway,
			Config:    cfg,
			JWTSecret: []byte(jwtSecret),
			Layout:    layout,
			VOT:       votClient,
			Ytdlp:     ytdlpClient,
			Workers:   pool,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()

	<-sigCh
	log.Println("shutting down…")
	cancel()
	for name, q := range queues {
		if err := q.Shutdown(); err != nil {
			log.Printf("shutdown %s: %v", name, err)
		}
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// terminalFor names, per queue stage, which new job status means the
// queue entry succeeded versus failed, so the worker pool's sink can
// retire the queue_jobs row without waiting on a separate completion
// message.
var terminalFor = map[store.QueueName]struct{ success, failure string }{
	store.QueueDownload: {success: string(job.StatusDownloaded), failure: string(job.StatusFailed)},
	store.QueueDub:      {success: string(job.StatusDubbed), failure: string(job.StatusFailed)},
	store.QueueMux:      {success: string(job.StatusComplete), failure: string(job.StatusFailed)},
}

// workerPool tracks the single live connection (if any) serving each
// queue and routes dispatch calls to it, grounded on manager.go's
// single-overseer-connection-per-task pattern. It also republishes
// worker-reported envelopes onto the Event Bus and retires queue_jobs
// rows once a worker's state_change reaches that stage's terminal
// status.
type workerPool struct {
	bus *eventbus.Bus

	mu     sync.RWMutex
	conns  map[store.QueueName]*worker.Conn
	queues map[store.QueueName]*queue.Coordinator
}

func newWorkerPool(bus *eventbus.Bus) *workerPool {
	return &workerPool{bus: bus, conns: make(map[store.QueueName]*worker.Conn)}
}

func (p *workerPool) Register(q store.QueueName, conn *worker.Conn) {
	p.mu.Lock()
	p.conns[q] = conn
	p.mu.Unlock()

	go func() {
		_ = conn.Serve(context.Background(), func(ctx context.Context, env worker.Envelope) {
			p.onEnvelope(ctx, q, env)
		})
		p.mu.Lock()
		if p.conns[q] == conn {
			delete(p.conns, q)
		}
		p.mu.Unlock()
	}()
}

func (p *workerPool) onEnvelope(ctx context.Context, q store.QueueName, env worker.Envelope) {
	p.bus.Publish(eventbus.Event{
		JobID:     env.JobID,
		Channel:   eventbus.Channel(env.Kind),
		Timestamp: env.Timestamp,
		Payload:   env.Payload,
	})

	p.mu.RLock()
	coord := p.queues[q]
	p.mu.RUnlock()
	if coord == nil {
		return
	}

	switch eventbus.Channel(env.Kind) {
	case eventbus.ChannelError:
		var ep eventbus.ErrorPayload
		if err := json.Unmarshal(env.Payload, &ep); err != nil {
			return
		}
		// A worker's own reported failure drives the same retry/backoff
		// policy a synchronous dispatch error would (queue.Coordinator.Fail),
		// rather than being a dead end once published to the bus.
		coord.Fail(ctx, env.JobID, ep.Retryable)

	case eventbus.ChannelState:
		var sp eventbus.StatePayload
		if err := json.Unmarshal(env.Payload, &sp); err != nil {
			return
		}
		terms, ok := terminalFor[q]
		if !ok {
			return
		}
		switch sp.To {
		case terms.success:
			_ = coord.MarkSuccess(ctx, env.JobID)
		case terms.failure:
			_ = coord.Remove(ctx, env.JobID)
		}
	}
}

func (p *workerPool) dispatchFunc(q store.QueueName, action string) queue.DispatchFunc {
	return func(ctx context.Context, jobID jobid.ID, payload json.RawMessage) error {
		p.mu.RLock()
		conn := p.conns[q]
		p.mu.RUnlock()
		if conn == nil {
			return fmt.Errorf("no worker connected for queue %s", q)
		}
		return conn.Dispatch(ctx, action, payload)
	}
}
