package app

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	financehttp "github.com/ssmspro2025/tms-sub000/internal/finance/http"
	"github.com/ssmspro2025/tms-sub000/internal/observability"
	"github.com/ssmspro2025/tms-sub000/internal/rbac"
)

func testConfig() *Config {
	return &Config{
		PGDSN:                 "postgres://localhost/tms",
		InvoiceSchedule:       "0 2 1 * *",
		StatusRefreshSchedule: "30 0 * * *",
		DefaultDueInDays:      10,
		RateLimitPerMinute:    100,
		ExportLimitPerMinute:  5,
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, testConfig().Validate())

	cfg := testConfig()
	cfg.InvoiceSchedule = "every month"
	require.ErrorContains(t, cfg.Validate(), "INVOICE_SCHEDULE")

	cfg = testConfig()
	cfg.DefaultLateFeePerDay = decimal.NewFromInt(-1)
	require.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.PGDSN = " "
	require.Error(t, cfg.Validate())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://env/tms")
	t.Setenv("DEFAULT_LATE_FEE_PER_DAY", "12.50")
	t.Setenv("LOG_LEVEL", "debug")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "postgres://env/tms", cfg.PGDSN)
	require.True(t, cfg.DefaultLateFeePerDay.Equal(decimal.RequireFromString("12.5")))
	require.Equal(t, slog.LevelDebug, parseLevel(cfg))
	require.False(t, cfg.IsProduction())
}

func newTestRouter(ready func(*http.Request) error) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := rbac.Middleware{Service: rbac.NewService(nil), Logger: logger}
	return NewRouter(RouterParams{
		Logger:         logger,
		Config:         testConfig(),
		RBACMiddleware: mw,
		FinanceHandler: financehttp.NewHandler(logger, nil, mw, financehttp.Config{}),
		Metrics:        observability.NewMetrics(),
		Ready:          ready,
	})
}

func TestHealthz(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = httptest.NewRecorder()
	newTestRouter(func(*http.Request) error { return errors.New("db down") }).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestAPIRequiresRole(t *testing.T) {
	router := newTestRouter(nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/finance/summary", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/finance/invoices/generate", nil)
	req.Header.Set(rbac.HeaderRole, "teacher")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(nil)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "tms_http_requests_total")
}

func TestTestModeFollowsEnvironment(t *testing.T) {
	t.Cleanup(RefreshTestMode)
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(testModeEnv, "0")
	require.True(t, InTestMode())
	RefreshTestMode()
	require.False(t, InTestMode())
}
