package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"live-leaderboard-service/internal/app"
	"live-leaderboard-service/internal/config"
	"live-leaderboard-service/internal/domain"
	"live-leaderboard-service/internal/hub"
	"live-leaderboard-service/internal/infra/memory"
	pgloader "live-leaderboard-service/internal/infra/postgres"
	redisinfra "live-leaderboard-service/internal/infra/redis"
	transport "live-leaderboard-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the leaderboard server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.EvaluationLoader
	switch {
	case pool != nil:
		loader = pgloader.NewEvaluationLoader(pool)
	case cfg.Catalog.File != "":
		evaluations, err := config.LoadEvaluations(cfg.Catalog.File)
		if err != nil {
			return err
		}
		loader = memory.NewStaticEvaluationLoader(evaluations)
	default:
		loader = memory.NewStaticEvaluationLoader(sampleEvaluations())
	}

	catalogTTL := config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute)
	var catalog app.CatalogRepository
	var hubs app.HubRepository
	if redisClient != nil {
		catalog = redisinfra.NewCatalogRepository(redisClient, loader, catalogTTL)
		hubs = redisinfra.NewHubStore(redisClient, redisTTL)
	} else {
		catalog = memory.NewCatalogRepository(loader, catalogTTL)
		hubs = memory.NewHubStore()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []app.ServiceOption{
		app.WithLogger(logger),
		app.WithMetrics(hub.NewPrometheusMetrics(reg)),
		app.WithRefreshInterval(config.TTLDuration(cfg.Leaderboard.RefreshInterval, redisTTL/2)),
		app.WithIdleTimeout(config.TTLDuration(cfg.Leaderboard.IdleTimeout, 30*time.Minute)),
	}
	var mirror *redisinfra.SnapshotMirror
	if redisClient != nil {
		mirror = redisinfra.NewSnapshotMirror(redisClient, config.TTLDuration(cfg.Leaderboard.MirrorTTL, time.Hour), logger)
		opts = append(opts, app.WithSnapshotObserver(mirror), app.WithSnapshotSource(mirror))
	}
	service := app.NewLeaderboardService(hubs, catalog, opts...)
	if err := service.Start(); err != nil {
		return err
	}
	defer service.Stop()

	wsOpts := transport.DefaultWSOptions()
	if cfg.Leaderboard.SendBuffer > 0 {
		wsOpts.SendBuffer = cfg.Leaderboard.SendBuffer
	}
	if cfg.Leaderboard.InboundRate > 0 {
		wsOpts.InboundRate = cfg.Leaderboard.InboundRate
	}
	if cfg.Leaderboard.InboundBurst > 0 {
		wsOpts.InboundBurst = cfg.Leaderboard.InboundBurst
	}
	wsOpts.WriteWait = config.TTLDuration(cfg.Leaderboard.WriteWait, wsOpts.WriteWait)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      transport.NewRouter(service, transport.NewWSHandler(service, logger, wsOpts), reg, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	shutdownTimeout := config.TTLDuration(cfg.Server.ShutdownTimeout, 5*time.Second)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting leaderboard service", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if mirror != nil {
		g.Go(func() error { return mirror.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// sampleEvaluations is served when neither Postgres nor a catalog file is configured.
func sampleEvaluations() map[string]domain.Evaluation {
	return map[string]domain.Evaluation{
		"eval-1": {
			ID:        "eval-1",
			Title:     "Arithmetic warm-up",
			TimeLimit: 5 * time.Minute,
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5"},
					},
					Points: 10,
				},
				{
					ID:     "q2",
					Prompt: "What is 6 * 7?",
					Options: []domain.Option{
						{ID: "o1", Text: "42", Correct: true},
						{ID: "o2", Text: "36"},
						{ID: "o3", Text: "48"},
					},
					Points: 10,
				},
				{
					ID:     "q3",
					Prompt: "What is 81 / 9?",
					Options: []domain.Option{
						{ID: "o1", Text: "8"},
						{ID: "o2", Text: "7"},
						{ID: "o3", Text: "9", Correct: true},
					},
					Points: 10,
				},
			},
		},
	}
}
