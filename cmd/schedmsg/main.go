package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/hrkit/schedmsg/internal/api"
	"github.com/hrkit/schedmsg/internal/cache"
	"github.com/hrkit/schedmsg/internal/client"
	"github.com/hrkit/schedmsg/internal/config"
	"github.com/hrkit/schedmsg/internal/dispatch"
	"github.com/hrkit/schedmsg/internal/metrics"
	"github.com/hrkit/schedmsg/internal/retry"
	"github.com/hrkit/schedmsg/internal/scheduler"
	"github.com/hrkit/schedmsg/internal/service"
	"github.com/hrkit/schedmsg/internal/store"
)

func main() {
	_ = godotenv.Load()
	setupLogger()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal(err)
	}

	slog.Info("schedmsg starting",
		"addr", cfg.Server.Address,
		"site", cfg.Site.Code,
		"interval", cfg.Scheduler.Interval.String(),
		"batch", cfg.Scheduler.BatchSize,
		"redis", cfg.Redis.Enabled,
	)

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("ping postgres: %v", err)
	}

	st := store.NewPostgresStore(db, cfg.Site.Code)

	var receipts cache.ReceiptCache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		receipts = cache.NewRedisCache(rdb, cfg.Redis.TTL)
	}

	reg := prometheus.NewRegistry()
	mets := metrics.New(reg)

	policy, err := retry.NewPolicy(st, cfg.Scheduler.MaxRetries)
	if err != nil {
		log.Fatalf("retry policy: %v", err)
	}

	dispatcher, err := dispatch.New(dispatch.Config{
		Store:     st,
		Messaging: client.NewMessagingClient(cfg.Messaging.URL),
		Policy:    policy,
		Receipts:  receipts,
		Metrics:   mets,
	})
	if err != nil {
		log.Fatalf("dispatcher: %v", err)
	}

	tick, err := scheduler.NewTick(scheduler.TickConfig{
		Store:      st,
		Dispatcher: dispatcher,
		BatchSize:  cfg.Scheduler.BatchSize,
		Metrics:    mets,
	})
	if err != nil {
		log.Fatalf("tick: %v", err)
	}

	poller, err := scheduler.New(cfg.Scheduler.Interval, tick.Run)
	if err != nil {
		log.Fatalf("poller: %v", err)
	}

	svc, err := service.New(service.Config{
		Store:      st,
		Poller:     poller,
		ContentMax: cfg.Messaging.ContentMax,
	})
	if err != nil {
		log.Fatalf("service: %v", err)
	}

	svc.Start()
	defer svc.Stop()

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: loggingMiddleware(api.Router(api.NewHandler(svc), reg)),
	}

	go func() {
		slog.Info("http server listening", "addr", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
}

func setupLogger() {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	}

	var handler slog.Handler
	if os.Getenv("LOG_FORMAT") == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
