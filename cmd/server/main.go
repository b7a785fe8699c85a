package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"fitgate/internal/admission"
	admissionmetrics "fitgate/internal/admission/metrics"
	"fitgate/internal/audit"
	"fitgate/internal/guest/resolver"
	"fitgate/internal/guest/store"
	memstore "fitgate/internal/guest/store/memory"
	pgstore "fitgate/internal/guest/store/postgres"
	"fitgate/internal/jwttoken"
	"fitgate/internal/maintenance"
	"fitgate/internal/platform/config"
	"fitgate/internal/platform/httpserver"
	"fitgate/internal/platform/kafka"
	"fitgate/internal/platform/logger"
	"fitgate/internal/platform/metrics"
	"fitgate/internal/platform/postgres"
	"fitgate/internal/platform/redis"
	"fitgate/internal/ratelimit"
	"fitgate/internal/ratelimit/bucket"
	"fitgate/internal/review"
	"fitgate/internal/risk"
	httptransport "fitgate/internal/transport/http"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Identity store: Postgres when configured, in-process otherwise.
	var identityStore store.Store = memstore.New()
	db, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
		pg := pgstore.New(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Error("schema setup failed", "error", err)
			os.Exit(1)
		}
		identityStore = pg
		log.Info("using postgres identity store")
	} else {
		log.Warn("no POSTGRES_DSN set, using in-memory identity store")
	}

	// Per-IP limiter: shared Redis counters when configured.
	var ipBuckets ratelimit.BucketStore = bucket.NewInMemoryStore()
	redisClient, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		ipBuckets = bucket.NewRedisStore(redisClient.Client)
		log.Info("using redis rate limit buckets")
	}

	// Audit: always captured in memory, mirrored to Kafka when brokers exist.
	auditOpts := []audit.Option{audit.WithLogger(log)}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, log)
		if err != nil {
			log.Error("kafka producer setup failed", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		auditOpts = append(auditOpts, audit.WithKafkaMirror(audit.NewKafkaSink(producer, cfg.AuditTopic, log)))
		log.Info("mirroring audit events to kafka", "topic", cfg.AuditTopic)
	}
	auditor := audit.NewPublisher(audit.NewInMemoryStore(), auditOpts...)

	policy := cfg.Admission
	jwtService := jwttoken.NewService(cfg.JWTSigningKey, "fitgate", "fitgate-api")

	identityResolver, err := resolver.New(identityStore, jwtService,
		policy.GuestUsageLimit, policy.KnownIPCap, resolver.WithLogger(log))
	if err != nil {
		log.Error("resolver setup failed", "error", err)
		os.Exit(1)
	}

	engine, err := risk.New(identityStore, policy.HighRiskThreshold, policy.BurstRiskSignal,
		risk.WithLogger(log))
	if err != nil {
		log.Error("risk engine setup failed", "error", err)
		os.Exit(1)
	}

	admitter, err := admission.New(identityStore, engine, policy,
		admission.WithLogger(log),
		admission.WithMetrics(admissionmetrics.New()),
		admission.WithAuditPublisher(auditor))
	if err != nil {
		log.Error("admission setup failed", "error", err)
		os.Exit(1)
	}

	reviews, err := review.New(admitter, review.NewHeuristicScorer(), review.WithLogger(log))
	if err != nil {
		log.Error("review service setup failed", "error", err)
		os.Exit(1)
	}

	ipLimiter := ratelimit.NewMiddleware(
		ratelimit.NewLimiter(ipBuckets, policy.IPRequestLimit, policy.IPWindow), log)

	handler := httptransport.NewHandler(reviews, identityStore, auditor, log)
	router := httptransport.NewRouter(handler, identityResolver, ipLimiter, metrics.New(), cfg.AdminToken, log)
	srv := httpserver.New(cfg.Addr, router)

	sweeper := maintenance.NewSweeper(identityStore, policy.SweepInterval, log)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("starting fitgate", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		err := sweeper.Run(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("fitgate stopped")
}
