// Command drainq runs the resilient job queue as a service: a chi HTTP
// surface for manual triggers and operator tooling, plus a cron timer
// driving scheduled runs. Concurrency across instances is mediated
// entirely by the shared store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/okapilabs/drainq/pkg/breaker"
	"github.com/okapilabs/drainq/pkg/config"
	"github.com/okapilabs/drainq/pkg/core"
	"github.com/okapilabs/drainq/pkg/notify"
	"github.com/okapilabs/drainq/pkg/policy"
	"github.com/okapilabs/drainq/pkg/scheduler"
	"github.com/okapilabs/drainq/pkg/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("drainq exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := openDB(cfg.DatabaseDSN)
	if err != nil {
		return err
	}

	store := storage.NewGormStore(db)
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	manager := breaker.NewManager(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Timeout:          cfg.BreakerTimeout,
		WindowSize:       cfg.BreakerWindow,
	}, breaker.WithLogger(logger))

	// The real chat-messaging API is an external collaborator; the binary
	// ships a log-only gateway for local runs and smoke tests.
	gateway := &logGateway{logger: logger}

	sched, err := scheduler.New(store, scheduler.Family{
		Name:        cfg.Family,
		MaxAttempts: cfg.MaxAttempts,
		BatchSize:   cfg.BatchSize,
		Backoff:     policy.Backoff{Base: cfg.BackoffBase, Cap: cfg.BackoffCap},
		Handler: notify.Handler(gateway, manager.Get(notify.DependencyName), policy.RetryConfig{
			MaxAttempts:       cfg.SendMaxAttempts,
			InitialBackoff:    cfg.SendInitialBackoff,
			MaxBackoff:        cfg.SendMaxBackoff,
			BackoffMultiplier: 2.0,
			JitterFraction:    0.1,
		}, logger),
	},
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(core.NewSlogMetrics(logger)),
		scheduler.WithLeaseTTL(cfg.LeaseTTL),
	)
	if err != nil {
		return err
	}

	timer := cron.New()
	if _, err := timer.AddFunc(cfg.TimerSpec, func() {
		if _, err := sched.RunOnce(ctx, "timer"); err != nil && !benignRunError(err) {
			logger.Error("timer run failed", "error", err)
		}
	}); err != nil {
		return err
	}
	if _, err := timer.AddFunc("@every 5m", func() {
		n, err := store.RequeueStale(ctx, cfg.Family, cfg.StaleAfter)
		if err != nil {
			logger.Error("stale requeue failed", "family", cfg.Family, "error", err)
			return
		}
		if n > 0 {
			logger.Warn("stale jobs requeued", "family", cfg.Family, "count", n)
		}
	}); err != nil {
		return err
	}
	timer.Start()
	defer timer.Stop()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router(sched, store, manager, cfg.Family, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("drainq listening", "addr", cfg.Addr, "family", cfg.Family)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openDB(dsn string) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return gorm.Open(postgres.Open(dsn), gormCfg)
	}
	return gorm.Open(sqlite.Open(dsn), gormCfg)
}

func router(sched *scheduler.Scheduler, store *storage.GormStore, manager *breaker.Manager, family string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"breakers": manager.AllMetrics(),
		})
	})

	r.Post("/v1/runs", func(w http.ResponseWriter, req *http.Request) {
		summary, err := sched.RunOnce(req.Context(), "manual")
		switch {
		case errors.Is(err, core.ErrLeaseHeld), errors.Is(err, core.ErrRunInProgress):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		case err != nil:
			logger.Error("manual run failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "run failed"})
		default:
			writeJSON(w, http.StatusOK, summary)
		}
	})

	r.Get("/v1/queue/depth", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"family": family,
			"due":    store.CountDue(req.Context(), family),
		})
	})

	r.Get("/v1/breakers", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, manager.AllMetrics())
	})

	r.Post("/v1/breakers/reset", func(w http.ResponseWriter, _ *http.Request) {
		manager.ResetAll()
		writeJSON(w, http.StatusOK, manager.AllMetrics())
	})

	// Producer convenience endpoint for smoke tests and manual queueing.
	r.Post("/v1/notifications", func(w http.ResponseWriter, req *http.Request) {
		var envelope notify.Envelope
		if err := json.NewDecoder(req.Body).Decode(&envelope); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		id, err := notify.Enqueue(req.Context(), store, family, &envelope)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func benignRunError(err error) bool {
	return errors.Is(err, core.ErrLeaseHeld) || errors.Is(err, core.ErrRunInProgress)
}

// logGateway is a stand-in delivery API that records sends instead of
// calling a provider.
type logGateway struct {
	logger *slog.Logger
}

func (g *logGateway) Send(_ context.Context, destination string, _ []byte) (string, error) {
	id := uuid.New().String()
	g.logger.Info("gateway send (log-only)",
		"to", notify.MaskDestination(destination),
		"delivery_id", id)
	return id, nil
}
