package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"gridpass/internal/eventstore"
	memorystore "gridpass/internal/eventstore/memory"
	postgresstore "gridpass/internal/eventstore/postgres"
	"gridpass/internal/notification"
	notifykafka "gridpass/internal/notification/kafka"
	"gridpass/internal/outbox"
	"gridpass/internal/permission"
	"gridpass/internal/permission/cache"
	"gridpass/internal/permission/service"
	"gridpass/internal/platform/config"
	"gridpass/internal/platform/httpserver"
	"gridpass/internal/platform/logger"
	"gridpass/internal/platform/metrics"
	platformredis "gridpass/internal/platform/redis"
	"gridpass/internal/polling"
	"gridpass/internal/registry"
	"gridpass/internal/timeframe"
	httptransport "gridpass/internal/transport/http"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Lifecycle rules live in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	m := metrics.New(prometheus.DefaultRegisterer)
	projector := permission.NewProjector(log)

	var store eventstore.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Error("open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := postgresstore.EnsureSchema(context.Background(), db); err != nil {
			log.Error("ensure schema", "error", err)
			os.Exit(1)
		}
		store = postgresstore.New(db)
	} else {
		log.Warn("no database configured, using in-memory event store")
		store = memorystore.New()
	}

	bus := outbox.NewBus(log, m)
	ob := outbox.New(store, bus, m, log)

	var opts []service.Option
	if cfg.RedisURL != "" {
		redisClient, err := platformredis.New(cfg.RedisURL)
		if err != nil {
			log.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		opts = append(opts, service.WithCache(cache.NewRedis(redisClient, cfg.ProjectionCacheTTL, log)))
	}

	svc := service.New(store, ob, projector, registry.Default(), m, log, opts...)
	timeframes := timeframe.NewService(store)

	var sink notification.Sink
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink, err := notifykafka.New(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Error("connect kafka", "error", err)
			os.Exit(1)
		}
		defer kafkaSink.Close()
		sink = kafkaSink
	} else {
		sink = notification.NewLogSink(log)
	}

	relay := notification.NewRelay(store, projector, sink, m, log)
	trigger := polling.NewTrigger(svc, timeframes, log)
	bus.Subscribe("status-notifications", outbox.HandlerFunc(relay.Handle))
	bus.Subscribe("polling-trigger", outbox.HandlerFunc(trigger.Handle))

	sweeper := polling.NewSweeper(store, projector, svc, cfg.AckDeadline, cfg.SweepInterval, log)
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go func() {
		if err := sweeper.Run(sweepCtx); err != nil && sweepCtx.Err() == nil {
			log.Error("sweeper stopped", "error", err)
		}
	}()

	handler := httptransport.NewHandler(svc, timeframes, log)
	router := httptransport.NewRouter(handler, prometheus.DefaultGatherer, log)
	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting gridpass", "addr", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	stopSweeper()
	// Drain subscriber queues before exiting so accepted commits are
	// delivered.
	bus.Close()
}
