package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/ssmspro2025/tms-sub000/internal/app"
	"github.com/ssmspro2025/tms-sub000/internal/platform/cache"
	"github.com/ssmspro2025/tms-sub000/internal/platform/db"
	"github.com/ssmspro2025/tms-sub000/internal/rbac"
)

var rootCmd = &cobra.Command{
	Use:   "financectl",
	Short: "Operate the school finance reconciliation engine",
	Long: `financectl runs reconciliation operations against the finance database:
schema migrations, monthly invoice generation, payment entry, status refresh
and period exports. Configuration is read from the environment (and .env).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(migrateCmd, generateCmd, payCmd, refreshStatusCmd, exportCmd)
}

// operatorCaps grants the CLI operator every capability.
var operatorCaps = rbac.Defaults(rbac.RoleAdmin)

type runtime struct {
	cfg      *app.Config
	logger   *slog.Logger
	pool     *pgxpool.Pool
	services *app.Services
	closers  []func()
}

func loadConfig() (*app.Config, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func openRuntime(ctx context.Context, withServices bool) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: app.NewLogger(cfg)}
	rt.pool, err = db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, rt.pool.Close)
	if !withServices {
		return rt, nil
	}
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		rt.logger.Warn("redis unavailable, cache invalidation skipped", slog.Any("error", err))
		redisClient = nil
	} else {
		rt.closers = append(rt.closers, func() { _ = redisClient.Close() })
	}
	rt.services, err = app.NewServices(cfg, rt.logger, rt.pool, redisClient, nil)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

func parseID(raw, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --%s %q: %w", name, raw, err)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
