package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/railtrans/expo/internal/config"
	"github.com/railtrans/expo/internal/db"
	"github.com/railtrans/expo/internal/email"
	"github.com/railtrans/expo/internal/events"
	"github.com/railtrans/expo/internal/notifications"
	"github.com/railtrans/expo/internal/observability"
	"github.com/railtrans/expo/internal/queue/tasks"
	"github.com/railtrans/expo/internal/queue/worker"
	"github.com/railtrans/expo/internal/repo/postgres"
)

func main() {
	cfg := config.Load()
	log := observability.NewLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	pool, err := db.NewPool(cfg.DBURL, db.PoolOptions{MaxConns: int32(cfg.WorkerConcurrency + 2)})
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}

	defer pool.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	jobsRepo := postgres.NewJobsRepo(pool, prom)
	registrantsRepo := postgres.NewRegistrantsRepo(pool, jobsRepo, prom)
	configsRepo := postgres.NewConfigsRepo(pool, prom)

	var mailer notifications.Notifier = notifications.NewLogNotifier(log)
	if cfg.SMTPHost != "" {
		mailer = notifications.NewSMTPNotifier(notifications.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
	}
	mailer = notifications.NewProtectedNotifier(mailer, notifications.ProtectedNotifierConfig{
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		Cooldown:         time.Minute,
		HalfOpenMaxCalls: 1,
		Name:             "worker-mail",
		Log:              log,
	})

	host, _ := os.Hostname()
	workerID := host + "-" + strconv.Itoa(os.Getpid())

	w := worker.New(worker.Config{
		PollInterval:  time.Duration(cfg.WorkerPollIntervalMS) * time.Millisecond,
		WorkerID:      workerID,
		Concurrency:   cfg.WorkerConcurrency,
		ShutdownGrace: time.Duration(cfg.WorkerShutdownGraceMS) * time.Millisecond,
		LockTTL:       time.Duration(cfg.WorkerLockTTLSeconds) * time.Second,
		JobTimeout:    time.Duration(cfg.WorkerJobTimeoutSec) * time.Second,
	}, jobsRepo, log, prom)

	t := &tasks.Tasks{
		Registrants: registrantsRepo,
		Deliveries:  postgres.NewEmailDeliveriesRepo(pool, prom),
		Mailer:      mailer,
		Details:     email.NewResolver(log, email.ConfigSource{Configs: configsRepo}),
		PublicBase:  cfg.PublicBaseURL,
		Log:         log,
		Prom:        prom,
	}
	t.Register(w)

	health := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WorkerHealthPort),
		Handler:           w.HealthHandler(reg, map[string]worker.Pinger{"postgres": pool}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := health.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("health server failed", "err", err)
		}
	}()

	if cfg.AMQPURL != "" {
		go func() {
			err := events.Consume(ctx, cfg.AMQPURL, cfg.AMQPExchange, "railtrans.worker.audit", []string{"#"},
				func(ctx context.Context, env events.Envelope) error {
					log.InfoContext(ctx, "event.received", "type", env.Type, "occurred_at", env.OccurredAt)
					return nil
				}, log)
			if err != nil {
				log.Warn("event audit consumer stopped", "err", err)
			}
		}()
	}

	log.Info("worker has started", "worker_id", workerID, "concurrency", cfg.WorkerConcurrency)

	if err := w.Run(ctx); err != nil {
		log.Error("worker stopped with error", "err", err)
	}

	shutdownCtx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()
	_ = health.Shutdown(shutdownCtx)

	log.Info("worker shutdown complete")
}
