// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"course-payments/internal/config"
	"course-payments/internal/domain/ports/adapter"
	"course-payments/internal/domain/ports/repository"
	"course-payments/internal/infra/api"
	pg "course-payments/internal/infra/db/postgres"
	"course-payments/internal/infra/events"
	"course-payments/internal/infra/logging"
	"course-payments/internal/infra/metrics"
	"course-payments/internal/infra/payment"
	red "course-payments/internal/infra/redis"
	"course-payments/internal/infra/sched"
	"course-payments/internal/infra/worker"
	"course-payments/internal/usecase"
)

// set via -ldflags at build time
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	dev := flag.Bool("dev", false, "development mode (console logs, unredacted ids)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *dev)
	if err != nil {
		// logger is not configured yet
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()
	go func() {
		t := time.NewTicker(15 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s := pool.Stat()
				metrics.SetDBPoolStats(s.TotalConns(), s.IdleConns(), s.AcquiredConns())
			}
		}
	}()

	paymentRepo := pg.NewPaymentRepo(pool)
	courseRepo := pg.NewCourseRepo(pool)
	txManager := pg.NewTxManager(pool)

	// ---- Redis (optional) ----
	var (
		locker  adapter.Locker
		limiter api.RateLimiter
	)
	var coursePort repository.CourseRepository = courseRepo
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connect failed")
		}
		defer rc.Close()
		locker = red.NewLocker(rc)
		limiter = red.NewRateLimiter(rc)
		coursePort = pg.NewCourseRepoCacheDecorator(courseRepo, rc, cfg.Redis.TTL, logger)
		logger.Info().Msg("redis enabled: checkout locks, course cache, rate limiting")
	} else {
		logger.Warn().Msg("redis disabled: concurrent checkout protection relies on the database only")
	}

	// ---- Stripe ----
	gateway := payment.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, nil)

	// ---- Events ----
	var sink adapter.EventPublisher = events.NoopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := events.NewSyncProducer(cfg.Kafka.Brokers)
		if err != nil {
			logger.Fatal().Err(err).Msg("kafka producer failed")
		}
		defer producer.Close()
		sink = events.NewKafkaPublisher(producer, cfg.Kafka.Topic, logger)
	}
	// own context so queued events drain after the app context is cancelled
	poolCtx, cancelPool := context.WithCancel(context.Background())
	defer cancelPool()
	workers := worker.NewPool(cfg.Kafka.Workers, logger)
	workers.Start(poolCtx)
	publisher := events.NewAsyncPublisher(sink, workers, logger)

	// ---- Use case ----
	payUC := usecase.NewPaymentUseCase(
		paymentRepo, coursePort, gateway, txManager, locker, publisher,
		usecase.CheckoutOptions{
			Currency:  cfg.Stripe.Currency,
			ClientURL: cfg.Stripe.ClientURL,
			LockTTL:   cfg.Redis.LockTTL,
			Dev:       cfg.Runtime.Dev,
		},
		logger,
	)

	// ---- Reconciler ----
	reconciler := sched.NewPaymentReconciler(payUC, paymentRepo, cfg.Scheduler.ReconcileInterval, cfg.Scheduler.StaleAfter, logger)
	go func() { _ = reconciler.Run(ctx) }()

	// ---- HTTP ----
	server := api.NewServer(payUC, api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.CookieName), limiter, api.Options{
		Port:               cfg.Server.Port,
		RequestTimeout:     cfg.Server.RequestTimeout,
		ShutdownTimeout:    cfg.Server.ShutdownTimeout,
		CheckoutRateLimit:  cfg.Server.CheckoutRateLimit,
		CheckoutRateWindow: cfg.Server.CheckoutRateWindow,
		RateKey:            red.UserActionKey,
	}, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		logger.Info().Msg("shutdown requested")
	case <-ctx.Done():
	}
	shutdown(logger, server, workers, cancelPool, cancel)
}

type httpServer interface {
	Shutdown(ctx context.Context) error
}

type stopper interface {
	Stop()
}

// shutdown stops intake first, then drains queued events, then cancels the
// background loops.
func shutdown(logger *zerolog.Logger, server httpServer, workers stopper, cancelPool, cancel context.CancelFunc) {
	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	workers.Stop()
	cancelPool()
	cancel()
	logger.Info().Msg("shutdown complete")
}
