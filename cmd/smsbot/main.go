package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/cohort-sms/internal/api"
	"github.com/LeventeLantos/cohort-sms/internal/cache"
	"github.com/LeventeLantos/cohort-sms/internal/client"
	"github.com/LeventeLantos/cohort-sms/internal/command"
	"github.com/LeventeLantos/cohort-sms/internal/config"
	"github.com/LeventeLantos/cohort-sms/internal/logger"
	"github.com/LeventeLantos/cohort-sms/internal/repo"
	"github.com/LeventeLantos/cohort-sms/internal/scheduler"
	"github.com/LeventeLantos/cohort-sms/internal/service"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal(err)
	}

	lg, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatal(err)
	}
	slog.SetDefault(lg)

	if err := run(cfg, lg); err != nil {
		lg.Error("smsbot exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, lg *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode, err := repo.ParseDeleteMode(cfg.Database.DeleteMode)
	if err != nil {
		return err
	}

	store, err := repo.Open(ctx, cfg.Database.URL, mode)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	twilio := client.NewTwilioClient(cfg.Twilio.BaseURL, cfg.Twilio.AccountSID, cfg.Twilio.AuthToken)
	broadcaster := service.NewBroadcaster(twilio, cfg.Twilio.FromNumber, cfg.Twilio.ContentMax, cfg.Twilio.Concurrency).
		WithHooks(
			func(ctx context.Context, to, sid string) {
				lg.Info("message sent", "to", to, "message_sid", sid)
			},
			func(ctx context.Context, to string, err error) {
				lg.Error("message delivery failed", "to", to, "error", err)
			},
		)

	var dedupe cache.DeliveryDeduper = cache.NoopDeduper{}
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		if err := rdb.Ping(ctx).Err(); err != nil {
			lg.Warn("redis unreachable, inbound dedupe will fail open", "addr", cfg.Redis.Address, "error", err)
		}
		dedupe = cache.NewRedisDeduper(rdb, cfg.Redis.TTL)
	}

	interp := command.New(&cfg.Bot, store, broadcaster, command.WithLogger(lg.With("component", "interpreter")))

	var purge *scheduler.Scheduler
	if cfg.Purge.Enabled() {
		job := service.NewPurgeJob(store, cfg.Purge.Retention, time.Now, lg)
		purge, err = scheduler.New("purge", cfg.Purge.Interval, job, lg)
		if err != nil {
			return err
		}
		purge.Start()
		defer purge.Stop()
	}

	h := api.NewHandler(interp, broadcaster, dedupe, purge, lg)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(h)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	lg.Info("smsbot starting",
		"addr", cfg.Server.Address,
		"delete_mode", string(mode),
		"redis", cfg.Redis.Enabled,
		"purge", cfg.Purge.Enabled(),
		"admin_auth", cfg.Bot.AdminAuthEnabled,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
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
