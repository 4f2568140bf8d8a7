// Command authorityd is the thin HTTP admin shell around the authority
// engine (spec.md §6): mandate issuance/validation/delegation/revocation,
// ledger queries and export, principal/policy administration, and a health
// endpoint, plus the background ledger materializer and snapshot scheduler
// that run alongside it in the same process.
//
// Wiring follows the teacher's cmd/gateway/main.go shape: load config, build
// collaborators bottom-up, assemble the engine, start the HTTP server, and
// shut everything down cooperatively on SIGINT/SIGTERM.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/garudex-labs/caracal/internal/authority/cache"
	"github.com/garudex-labs/caracal/internal/authority/engine"
	"github.com/garudex-labs/caracal/internal/authority/eventbus"
	"github.com/garudex-labs/caracal/internal/authority/ledger"
	"github.com/garudex-labs/caracal/internal/authority/metrics"
	"github.com/garudex-labs/caracal/internal/authority/resilience"
	"github.com/garudex-labs/caracal/internal/authority/store"
	"github.com/garudex-labs/caracal/internal/platform/config"
	"github.com/garudex-labs/caracal/internal/platform/database"
	"github.com/garudex-labs/caracal/internal/platform/logging"
)

// server holds every collaborator the HTTP handlers close over.
type server struct {
	engine  *engine.Engine
	store   *store.Store
	metrics *metrics.Registry
	bus     *eventbus.Producer

	redisClient redis.Cmdable

	principalKeyMaster []byte

	log *logging.Logger
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "authorityd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.NewFromEnv("authorityd")

	if err := database.Migrate(cfg.PostgresDSN); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	st, err := store.Open(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	mandateCache := cache.New(redisClient, cfg.RevocationStaleness, cfg.CacheTimeout, log)

	producer, err := eventbus.NewProducerWithLogger(cfg.KafkaBrokers, log)
	if err != nil {
		return fmt.Errorf("dial kafka: %w", err)
	}
	defer producer.Close()

	storeBreaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:             "store",
		MaxFailures:      cfg.CircuitBreakerMaxFailures,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
		HalfOpenMax:      cfg.CircuitBreakerHalfOpenMax,
		Log:              log,
	})
	cacheBreaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:             "cache",
		MaxFailures:      cfg.CircuitBreakerMaxFailures,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
		HalfOpenMax:      cfg.CircuitBreakerHalfOpenMax,
		Log:              log,
	})
	busBreaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:             "bus",
		MaxFailures:      cfg.CircuitBreakerMaxFailures,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
		HalfOpenMax:      cfg.CircuitBreakerHalfOpenMax,
		Log:              log,
	})

	limiter := resilience.NewRateLimiter(redisClient, cfg.IssueRateLimitPerMinute, cfg.IssueRateLimitPerHour, cfg.CacheTimeout, log)

	reg := metrics.New("authorityd")

	signingKeySeed, err := hex.DecodeString(cfg.SystemSigningKeyHex)
	if err != nil || len(signingKeySeed) != ed25519.SeedSize {
		return fmt.Errorf("AUTHORITY_SYSTEM_SIGNING_KEY must be a hex-encoded %d-byte seed", ed25519.SeedSize)
	}
	signingKey := ed25519.NewKeyFromSeed(signingKeySeed)

	var principalKeyMaster []byte
	if cfg.PrincipalKeyMasterHex != "" {
		principalKeyMaster, err = mustHexDecode(cfg.PrincipalKeyMasterHex)
		if err != nil {
			return fmt.Errorf("AUTHORITY_PRINCIPAL_KEY_MASTER is not valid hex: %w", err)
		}
	}

	eng := engine.New(engine.Config{
		Store:               st,
		Cache:                mandateCache,
		Bus:                  producer,
		Limiter:              limiter,
		StoreBreaker:         storeBreaker,
		CacheBreaker:         cacheBreaker,
		BusBreaker:           busBreaker,
		RevocationStaleness:  cfg.RevocationStaleness,
		Log:                  log,
	})

	materializer := ledger.New(ledger.Config{
		Store:              st,
		SigningKey:         signingKey,
		SigningPrincipalID: "authority-system",
		Metrics:            reg,
		MaxEvents:          cfg.MerkleBatchMaxEvents,
		MaxAge:             cfg.MerkleBatchMaxAge,
		Log:                log,
	})

	snapshotScheduler, err := ledger.NewSnapshotScheduler(ledger.SnapshotConfig{
		Store:     st,
		Spec:      cfg.SnapshotCron,
		Retention: cfg.SnapshotRetention,
		Log:       log,
	})
	if err != nil {
		return fmt.Errorf("build snapshot scheduler: %w", err)
	}

	partitionScheduler, err := store.NewPartitionScheduler(store.PartitionSchedulerConfig{
		Store: st,
		Spec:  cfg.PartitionCron,
		Log:   log,
	})
	if err != nil {
		return fmt.Errorf("build partition scheduler: %w", err)
	}

	// Create this month's and the next horizon's partitions before anything
	// starts writing ledger events (migration comment: "on every startup and
	// on a daily tick"); the daily half is Start below.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = partitionScheduler.Ensure(startupCtx)
	startupCancel()
	if err != nil {
		return fmt.Errorf("ensure ledger partitions: %w", err)
	}

	policyChangeConsumer, err := eventbus.NewConsumer(
		cfg.KafkaBrokers,
		cfg.ConsumerGroupID,
		[]eventbus.Topic{eventbus.TopicPolicyChanged},
		policyChangeHandler(eng),
		producer,
		log,
	)
	if err != nil {
		return fmt.Errorf("dial kafka consumer: %w", err)
	}
	policyChangeConsumer.SetMetrics(reg)
	defer policyChangeConsumer.Close()

	srv := &server{
		engine:             eng,
		store:              st,
		metrics:            reg,
		bus:                producer,
		redisClient:        redisClient,
		principalKeyMaster: principalKeyMaster,
		log:                log,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	materializerDone := make(chan error, 1)
	go func() {
		materializerDone <- materializer.Run(rootCtx, 1*time.Second)
	}()

	go producer.RunRequeueLoop(rootCtx, cfg.RequeueInterval)

	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- policyChangeConsumer.Run(rootCtx)
	}()

	go reportBreakerStates(rootCtx, reg, storeBreaker, cacheBreaker, busBreaker)

	if err := snapshotScheduler.Start(); err != nil {
		return fmt.Errorf("start snapshot scheduler: %w", err)
	}
	if err := partitionScheduler.Start(); err != nil {
		return fmt.Errorf("start partition scheduler: %w", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("authorityd listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-rootCtx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.WithField("error", err.Error()).Error("http server failed")
		}
	}

	snapshotScheduler.Stop()
	partitionScheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithField("error", err.Error()).Error("http server shutdown error")
	}

	<-materializerDone
	if err := <-consumerDone; err != nil {
		log.WithField("error", err.Error()).Error("policy change consumer exited with error")
	}

	return nil
}

// policyChangeHandler adapts eng.InvalidateCacheForSubject into an
// eventbus.HandlerFunc for the policy-changed topic: it only ever drops
// this instance's cache entries, never re-publishes, so a broadcast never
// loops back onto itself (spec.md §4.C; NotifyPolicyChanged is the
// publish-and-invalidate half, called from handleCreatePolicy instead).
func policyChangeHandler(eng *engine.Engine) eventbus.HandlerFunc {
	return func(ctx context.Context, env eventbus.Envelope) error {
		if env.Kind != eventbus.KindPolicyChanged {
			return nil
		}
		return eng.InvalidateCacheForSubject(ctx, env.PrincipalID)
	}
}

// reportBreakerStates polls each breaker's current state into reg every
// interval until ctx is cancelled, the only place the previously-dead
// authority_circuit_breaker_state gauge gets set.
func reportBreakerStates(ctx context.Context, reg *metrics.Registry, storeBreaker, cacheBreaker, busBreaker *resilience.Breaker) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.SetBreakerState("store", int(storeBreaker.State()))
			reg.SetBreakerState("cache", int(cacheBreaker.State()))
			reg.SetBreakerState("bus", int(busBreaker.State()))
		}
	}
}
