package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"entpool/internal/catalog"
	"entpool/internal/consumer"
	"entpool/internal/entitlement"
	"entpool/internal/events"
	"entpool/internal/manifest"
	"entpool/internal/platform/config"
	"entpool/internal/platform/httpserver"
	"entpool/internal/platform/logger"
	"entpool/internal/platform/metrics"
	platformredis "entpool/internal/platform/redis"
	"entpool/internal/pool"
	"entpool/internal/revocation"
	"entpool/internal/subscription"
	httptransport "entpool/internal/transport/http"
)

// main wires stores, services, and the HTTP router, and keeps the server
// lifecycle small. Business logic lives in the internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		subStore      subscription.Store      = subscription.NewInMemoryStore()
		poolStore     pool.Store              = pool.NewInMemoryStore()
		entStore      entitlement.Store       = entitlement.NewInMemoryStore()
		consumerStore consumer.Store          = consumer.NewInMemoryStore()
		recordStore   manifest.RecordStore    = manifest.NewInMemoryRecordStore()
		serialStore   entitlement.SerialStore = entitlement.NewInMemorySerialStore()
	)

	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		pgx, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Error("pgx pool failed", "error", err)
			os.Exit(1)
		}
		defer pgx.Close()

		subStore = subscription.NewPostgres(db)
		poolStore = pool.NewPostgres(db)
		entStore = entitlement.NewPostgres(db)
		recordStore = manifest.NewPostgresRecordStore(db)
		consumerStore = consumer.NewPostgres(pgx)
		log.Info("using postgres stores")
	}

	if cfg.RedisURL != "" {
		rdb, err := platformredis.New(cfg.RedisURL)
		if err != nil {
			log.Error("redis connect failed", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		serialStore = entitlement.NewRedisSerialStore(rdb.Client)
		log.Info("using redis serial store")
	}

	inbox := events.NewInbox(1024)
	var sink events.Publisher = events.NewLogPublisher(log)
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Error("kafka connect failed", "error", err)
			os.Exit(1)
		}
		defer kafka.Close()
		sink = kafka
		log.Info("publishing events to kafka", "topic", cfg.KafkaTopic)
	}
	worker := events.NewWorker(inbox, sink, log)
	go func() {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("event worker stopped", "error", err)
		}
	}()

	m := metrics.New()
	catalogStore := catalog.NewInMemoryStore()

	ca := entitlement.NewSigningAuthority([]byte(cfg.CertSigningKey), serialStore)
	coordinator, err := revocation.New(entStore, poolStore, consumerStore, ca, inbox,
		revocation.WithLogger(log), revocation.WithMetrics(m))
	if err != nil {
		log.Error("revocation coordinator init failed", "error", err)
		os.Exit(1)
	}
	engine, err := pool.New(poolStore, subStore, catalogStore, coordinator, inbox, pool.WithLogger(log))
	if err != nil {
		log.Error("pool engine init failed", "error", err)
		os.Exit(1)
	}
	ledger, err := entitlement.New(entStore, poolStore, consumerStore, catalogStore, ca, engine, coordinator, inbox,
		entitlement.WithLogger(log), entitlement.WithMetrics(m))
	if err != nil {
		log.Error("entitlement ledger init failed", "error", err)
		os.Exit(1)
	}
	consumers, err := consumer.New(consumerStore, inbox, consumer.WithLogger(log))
	if err != nil {
		log.Error("consumer service init failed", "error", err)
		os.Exit(1)
	}
	subs, err := subscription.NewService(subStore, engine, coordinator, subscription.WithLogger(log))
	if err != nil {
		log.Error("subscription service init failed", "error", err)
		os.Exit(1)
	}
	reconciler, err := manifest.New(subStore, engine, coordinator, recordStore,
		manifest.WithLogger(log), manifest.WithMetrics(m))
	if err != nil {
		log.Error("manifest reconciler init failed", "error", err)
		os.Exit(1)
	}

	router := httptransport.NewRouter(httptransport.Services{
		Subscriptions: subs,
		Pools:         engine,
		Ledger:        ledger,
		Consumers:     consumers,
		Unregistrar:   coordinator,
		Imports:       reconciler,
		Serials:       serialStore,
		Catalog:       catalogStore,
	})
	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting entpool", "addr", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
