// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
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

	"vanscontrol/internal/directory"
	"vanscontrol/internal/hub"
	hubmetrics "vanscontrol/internal/hub/metrics"
	"vanscontrol/internal/ingest"
	ingesthandler "vanscontrol/internal/ingest/handler"
	ingestmetrics "vanscontrol/internal/ingest/metrics"
	jwtauth "vanscontrol/internal/jwt_token"
	"vanscontrol/internal/platform/config"
	"vanscontrol/internal/platform/httpserver"
	"vanscontrol/internal/platform/kafka"
	"vanscontrol/internal/platform/logger"
	"vanscontrol/internal/platform/postgres"
	redisplatform "vanscontrol/internal/platform/redis"
	"vanscontrol/internal/presence"
	"vanscontrol/internal/ridelog"
	httptransport "vanscontrol/internal/transport/http"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	db, err := postgres.Open(cfg.PostgresURL)
	if err != nil {
		log.Error("postgres unavailable", "error", err)
		os.Exit(1)
	}

	var (
		rideLog  ridelog.Store
		children directory.ChildStore
	)
	if db != nil {
		rideLog = ridelog.NewPostgresStore(db)
		children = directory.NewPostgresChildStore(db)
		defer db.Close()
	} else {
		log.Warn("no POSTGRES_URL configured, using in-memory stores")
		rideLog = ridelog.NewInMemoryStore()
		children = directory.NewInMemoryChildStore()
	}

	redisClient, err := redisplatform.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		children = directory.NewCachedChildStore(redisClient.Client, children, config.ChildCacheTTL, log)
		defer redisClient.Close()
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, log)
	if err != nil {
		log.Error("kafka unavailable", "error", err)
		os.Exit(1)
	}

	tokens := jwtauth.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	source := presence.New(rideLog, children, log)

	hubM := hubmetrics.New()
	h := hub.New(hub.NewRegistry(), source, log, hubM)

	var publisher ingest.EventPublisher
	if producer != nil {
		publisher = producer
		defer producer.Close()
	}
	ingestService := ingest.New(rideLog, children, h, publisher, log, ingestmetrics.New())
	h.SetExitRecorder(ingestService)

	handlers := []httptransport.Registrar{
		hub.NewHandler(h, tokens, log, hubM),
		ingesthandler.New(ingestService, log),
	}
	checks := map[string]httptransport.HealthChecker{}
	if db != nil {
		checks["postgres"] = pingChecker{db: db}
	}
	if redisClient != nil {
		checks["redis"] = redisClient
	}

	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handlers, checks))

	log.Info("starting vanscontrol", "addr", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
		os.Exit(1)
	}
}

type pingChecker struct {
	db *sql.DB
}

func (p pingChecker) Health(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
