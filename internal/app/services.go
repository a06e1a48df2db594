package app

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/ssmspro2025/tms-sub000/internal/fees"
	"github.com/ssmspro2025/tms-sub000/internal/finance"
	"github.com/ssmspro2025/tms-sub000/internal/observability"
	"github.com/ssmspro2025/tms-sub000/internal/shared"
)

// Services bundles the engines shared by the server, worker and CLI.
type Services struct {
	Finance     *finance.Service
	Fees        *fees.Service
	Idempotency *shared.IdempotencyStore
}

// NewServices wires repositories, cache and metrics into the engines. A nil
// redis client disables the summary cache.
func NewServices(cfg *Config, logger *slog.Logger, pool *pgxpool.Pool, redisClient *redis.Client, registerer prometheus.Registerer) (*Services, error) {
	chart, err := finance.LoadChart(cfg.LedgerAccountsFile)
	if err != nil {
		return nil, fmt.Errorf("load ledger accounts: %w", err)
	}
	idempotency := shared.NewIdempotencyStore(pool)
	financeCfg := finance.ServiceConfig{
		Chart:       chart,
		Idempotency: idempotency,
		Metrics:     observability.NewFinanceMetrics(registerer),
	}
	if redisClient != nil {
		financeCfg.Cache = finance.NewCache(redisClient, cfg.SummaryCacheTTL, logger)
	}
	return &Services{
		Finance:     finance.NewService(finance.NewRepository(pool), logger, financeCfg),
		Fees:        fees.NewService(fees.NewRepository(pool)),
		Idempotency: idempotency,
	}, nil
}
