package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/railtrans/expo/internal/config"
	"github.com/railtrans/expo/internal/db"
	"github.com/railtrans/expo/internal/events"
	httpx "github.com/railtrans/expo/internal/http"
	"github.com/railtrans/expo/internal/notifications"
	"github.com/railtrans/expo/internal/observability"
	"github.com/railtrans/expo/internal/queue/redisclient"
)

func main() {
	// Load the config set up
	cfg := config.Load()

	// start up the observability logger
	log := observability.NewLogger(cfg.Env)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "err", err)
		os.Exit(1)
	}

	if cfg.OTLPEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName:   "railtrans-api",
			Endpoint:      cfg.OTLPEndpoint,
			Environment:   cfg.Env,
			SamplePercent: cfg.OTLPSamplePercent,
		})
		if err != nil {
			log.Warn("tracing disabled", "err", err)
		} else {
			defer func() {
				ctx, cancel := config.WithTimeout(5 * time.Second)
				defer cancel()
				_ = shutdownTracer(ctx)
			}()
		}
	}

	pool, err := db.NewPool(cfg.DBURL, db.PoolOptions{MaxConns: int32(cfg.DBMaxConns), MaxConnLifetime: time.Hour})
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	migrateCtx, cancelMigrate := config.WithTimeout(30 * time.Second)
	if err := db.Migrate(migrateCtx, pool); err != nil {
		cancelMigrate()
		log.Error("migrate failed", "err", err)
		os.Exit(1)
	}
	if created, err := db.EnsureAdminUser(migrateCtx, pool, cfg); err != nil {
		log.Error("seed admin failed", "err", err)
	} else if created {
		log.Info("admin user created", "email", cfg.AdminEmail)
	}
	cancelMigrate()

	var rdb *redisclient.Client
	if cfg.RedisAddr != "" {
		rdb = redisclient.New(redisclient.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		pingCtx, cancel := config.WithTimeout(2 * time.Second)
		if err := rdb.Ping(pingCtx); err != nil {
			log.Warn("redis unavailable, using in-process otp store", "addr", cfg.RedisAddr, "err", err)
			_ = rdb.Close()
			rdb = nil
		}
		cancel()
	}
	if rdb != nil {
		defer rdb.Close()
	}

	publisher := newPublisher(cfg, log)
	if c, ok := publisher.Next.(interface{ Close() error }); ok {
		defer c.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	// set up routers with the log
	router := httpx.NewRouter(httpx.Deps{
		Log:       log,
		Config:    cfg,
		Pool:      pool,
		Redis:     rdb,
		Publisher: publisher,
		Notifier:  newNotifier(cfg, log),
		Prom:      prom,
		Gatherer:  reg,
	})

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env)
		err := srv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("server shutting down")

	shutdownCh := make(chan struct{})

	go func() {
		defer close(shutdownCh)

		ctx, cancel := config.WithTimeout(10 * time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("graceful shutdown failed", "err", err)
		}
	}()

	select {
	case <-shutdownCh:
		log.Info("shutdown complete")

	case <-time.After(12 * time.Second):
		log.Error("shutdown timed out")
	}
}

// newPublisher dials the broker when one is configured. Publishing never blocks a request.
func newPublisher(cfg config.Config, log *slog.Logger) events.Logged {
	if cfg.AMQPURL == "" {
		return events.Logged{Next: events.Noop{}, Log: log}
	}

	p, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, log)
	if err != nil {
		log.Warn("amqp unavailable, events disabled", "err", err)
		return events.Logged{Next: events.Noop{}, Log: log}
	}
	return events.Logged{Next: p, Log: log}
}

// newNotifier sends OTP mail inline, so it gets the circuit breaker.
func newNotifier(cfg config.Config, log *slog.Logger) notifications.Notifier {
	var inner notifications.Notifier = notifications.NewLogNotifier(log)
	if cfg.SMTPHost != "" {
		inner = notifications.NewSMTPNotifier(notifications.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
	}

	return notifications.NewProtectedNotifier(inner, notifications.ProtectedNotifierConfig{
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMaxCalls: 1,
		Name:             "otp-mail",
		Log:              log,
	})
}
