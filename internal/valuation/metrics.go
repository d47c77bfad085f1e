package valuation

import (
	"github.com/foliotrack/valuation-service/internal/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// GainLossPercent computes gain/basis as a percentage with divide-by-zero
// guards: zero basis yields 0% for zero gain and +/-100% otherwise.
func GainLossPercent(gain, basis decimal.Decimal) decimal.Decimal {
	if basis.IsZero() {
		if gain.IsZero() {
			return decimal.Zero
		}
		if gain.IsNegative() {
			return hundred.Neg()
		}
		return hundred
	}
	return gain.Div(basis).Mul(hundred)
}

func seriesReturn(series []models.TimeSeriesPoint) (start, end, pct decimal.Decimal) {
	if len(series) == 0 {
		return decimal.Zero, decimal.Zero, decimal.Zero
	}
	start = series[0].Value
	end = series[len(series)-1].Value
	pct = GainLossPercent(end.Sub(start), start)
	return start, end, pct
}

// ComputeMetrics derives performance numbers from the portfolio and benchmark
// series: start/end values, percentage returns, and both relative and
// absolute outperformance.
func ComputeMetrics(portfolio, benchmark []models.TimeSeriesPoint) models.PerformanceMetrics {
	pStart, pEnd, pPct := seriesReturn(portfolio)
	bStart, bEnd, bPct := seriesReturn(benchmark)

	return models.PerformanceMetrics{
		StartValue:             pStart,
		EndValue:               pEnd,
		ReturnPct:              pPct,
		BenchmarkStartValue:    bStart,
		BenchmarkEndValue:      bEnd,
		BenchmarkReturnPct:     bPct,
		OutperformancePct:      pPct.Sub(bPct),
		AbsoluteOutperformance: pEnd.Sub(bEnd),
	}
}
