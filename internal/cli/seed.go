package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"live-leaderboard-service/internal/config"
	pgloader "live-leaderboard-service/internal/infra/postgres"
	redisinfra "live-leaderboard-service/internal/infra/redis"
)

// NewSeedCmd loads evaluations from a YAML file into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Store the evaluations of a YAML file in Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if file == "" {
				file = cfg.Catalog.File
			}
			if file == "" {
				return fmt.Errorf("no evaluations file: pass --file or set catalog.file")
			}
			evaluations, err := config.LoadEvaluations(file)
			if err != nil {
				return err
			}

			if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
				return err
			}
			pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
			if err != nil {
				return err
			}
			defer pool.Close()
			loader := pgloader.NewEvaluationLoader(pool)

			// Cached copies would hide the new content until their TTL ran out.
			var cache *redisinfra.CatalogRepository
			if cfg.Redis.Addr != "" {
				client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
				defer client.Close()
				cache = redisinfra.NewCatalogRepository(client, loader, config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute))
			}

			ids := make([]string, 0, len(evaluations))
			for id := range evaluations {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				if err := loader.SaveEvaluation(ctx, evaluations[id]); err != nil {
					return err
				}
				if cache != nil {
					if err := cache.Invalidate(ctx, id); err != nil {
						logger.Warn("invalidate cached evaluation", zap.String("evaluation_id", id), zap.Error(err))
					}
				}
				logger.Info("evaluation stored", zap.String("evaluation_id", id), zap.Int("questions", len(evaluations[id].Questions)))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML evaluations file (defaults to catalog.file)")
	return cmd
}
