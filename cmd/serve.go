package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CDeX-Labs/TypeSprint-Socket-Service/config"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/auth"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/handlers"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/hub"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/kafka"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/leaderboard"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/logger"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/metrics"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/presence"
	redisclient "github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/redis"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/stats"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/store"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/pkg/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket and REST server",
		Args:  cobra.NoArgs,
		RunE:  runServeCmd,
	}
}

func runServeCmd(_ *cobra.Command, _ []string) error {
	cfg := config.InitConfig(devMode)
	log := logger.New(cfg.App.LogLevel, devMode || !cfg.IsProduction())
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}()

	checks := map[string]handlers.Check{}
	var boardOpts []leaderboard.Option
	presenceOpts := []presence.Option{
		presence.WithMetrics(m),
		presence.WithPreviewSize(cfg.Presence.PreviewSize),
		presence.WithLeaderboardLimit(cfg.Leaderboard.Limit),
	}

	if cfg.Redis.Enabled {
		rc, err := redisclient.NewClient(redisclient.Options{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, m, log)
		if err != nil {
			return err
		}
		defer rc.Close()
		checks["redis"] = rc.Ping

		pubsub := redisclient.NewPubSub(rc, "", log)
		boardOpts = append(boardOpts, leaderboard.WithCache(leaderboard.NewRedisCache(rc, cfg.Leaderboard.CacheTTL, log)))
		presenceOpts = append(presenceOpts,
			presence.WithFanout(pubsub),
			presence.WithTracker(presence.NewTracker(rc, pubsub.InstanceID(), log)),
		)
	}

	var producer *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, m, log)
		presenceOpts = append(presenceOpts, presence.WithPublisher(producer))
	}

	boardOpts = append(boardOpts, leaderboard.WithMetrics(m))
	board := leaderboard.NewAggregator(st, log, boardOpts...)

	h := hub.NewHub(m, log)
	svc := presence.NewService(h, stats.NewRecorder(st, log), board, log, presenceOpts...)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start presence: %w", err)
	}

	var consumer *kafka.Consumer
	if len(cfg.Kafka.Brokers) > 0 {
		consumer = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID,
			[]string{events.TopicLeaderboardRefresh, events.TopicSystemMessage}, m, log)
		kafka.NewHandlers(svc, log).RegisterAll(consumer)
		consumer.Start(ctx)
	}

	verifier := auth.NewVerifier(auth.NewJWTValidator(cfg.Auth.JWTSecret), st)
	ws := auth.AuthMiddleware(verifier, m)(handlers.NewWebSocketHandler(h, svc, cfg.App.ClientURL, log))

	router := handlers.NewRouter(handlers.RouterDeps{
		Hub:          h,
		Board:        board,
		Presence:     svc,
		WebSocket:    ws,
		Gatherer:     reg,
		Checks:       checks,
		ClientURL:    cfg.App.ClientURL,
		DefaultLimit: cfg.Leaderboard.Limit,
		Production:   cfg.IsProduction(),
	}, log)

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.App.Port).Str("store", cfg.Store.Driver).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("Server failed")
		}
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown")
	}
	h.Shutdown()
	svc.Stop()
	shutdownKafka(consumer, producer, log)
	return nil
}

func shutdownKafka(consumer *kafka.Consumer, producer *kafka.Producer, log zerolog.Logger) {
	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop Kafka consumer")
		}
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Kafka producer")
		}
	}
}

func openStore(cfg *config.AppConfig) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		s, err := store.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		return s, nil
	case "postgres":
		db := cfg.Store.Database
		s, err := store.OpenPostgres(store.PostgresDSN(db.Host, db.Port, db.User, db.Password, db.Name))
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		return s, nil
	default:
		return store.NewMemory(), nil
	}
}
