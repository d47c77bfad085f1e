package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Benchmark key under which the portfolio's own value series is cached.
const SeriesKeyPortfolio = "PORTFOLIO"

// TimeSeriesPoint is one daily valuation. Series are ordered by date
// ascending, one point per trading day in range.
type TimeSeriesPoint struct {
	Date  time.Time       `json:"date"`
	Value decimal.Decimal `json:"value"`
}

// IndexCacheRow is a persisted series point, unique on (user_id, benchmark, date).
type IndexCacheRow struct {
	ID        int             `json:"id"`
	UserID    string          `json:"user_id"`
	Benchmark string          `json:"benchmark"`
	Date      time.Time       `json:"date"`
	Value     decimal.Decimal `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
}

// SeriesSlice is the result of a cache read. Data may be partial; IsStale
// tells the caller a rebuild is needed. Reads never block on recomputation.
type SeriesSlice struct {
	Data        []TimeSeriesPoint `json:"data"`
	IsStale     bool              `json:"is_stale"`
	CoverageEnd *time.Time        `json:"coverage_end,omitempty"`
}

// SeriesStats summarizes cached coverage for one (user, benchmark) key.
type SeriesStats struct {
	Benchmark string     `json:"benchmark"`
	Points    int        `json:"points"`
	FirstDate *time.Time `json:"first_date,omitempty"`
	LastDate  *time.Time `json:"last_date,omitempty"`
}

// PerformanceMetrics compares the portfolio series against the benchmark
// simulation. All percentage fields are zero-guarded.
type PerformanceMetrics struct {
	StartValue             decimal.Decimal `json:"start_value"`
	EndValue               decimal.Decimal `json:"end_value"`
	ReturnPct              decimal.Decimal `json:"return_pct"`
	BenchmarkStartValue    decimal.Decimal `json:"benchmark_start_value"`
	BenchmarkEndValue      decimal.Decimal `json:"benchmark_end_value"`
	BenchmarkReturnPct     decimal.Decimal `json:"benchmark_return_pct"`
	OutperformancePct      decimal.Decimal `json:"outperformance_pct"`
	AbsoluteOutperformance decimal.Decimal `json:"absolute_outperformance"`
}
