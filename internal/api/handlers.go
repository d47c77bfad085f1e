package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/foliotrack/valuation-service/internal/cache"
	"github.com/foliotrack/valuation-service/internal/database"
	"github.com/foliotrack/valuation-service/internal/models"
	"github.com/foliotrack/valuation-service/internal/rebuild"
	"github.com/foliotrack/valuation-service/internal/valuation"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

var symbolPattern = regexp.MustCompile(`^[A-Z][A-Z0-9.\-]{0,9}$`)

// periodStarts maps the supported period names to their lookback from today.
var periodStarts = map[string]func(time.Time) time.Time{
	"1m":  func(t time.Time) time.Time { return t.AddDate(0, -1, 0) },
	"3m":  func(t time.Time) time.Time { return t.AddDate(0, -3, 0) },
	"6m":  func(t time.Time) time.Time { return t.AddDate(0, -6, 0) },
	"1y":  func(t time.Time) time.Time { return t.AddDate(-1, 0, 0) },
	"2y":  func(t time.Time) time.Time { return t.AddDate(-2, 0, 0) },
	"5y":  func(t time.Time) time.Time { return t.AddDate(-5, 0, 0) },
	"all": func(t time.Time) time.Time { return t.AddDate(-30, 0, 0) },
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	db          *database.DB
	coordinator *rebuild.Coordinator
	cache       *cache.TTLCache
}

// NewHandler creates a new Handler
func NewHandler(db *database.DB, coordinator *rebuild.Coordinator, c *cache.TTLCache) *Handler {
	return &Handler{
		db:          db,
		coordinator: coordinator,
		cache:       c,
	}
}

// performanceResponse is the payload for GET /users/{userId}/performance.
type performanceResponse struct {
	PortfolioSeries []models.TimeSeriesPoint  `json:"portfolio_series"`
	BenchmarkSeries []models.TimeSeriesPoint  `json:"benchmark_series"`
	Metadata        performanceMetadata       `json:"metadata"`
	Metrics         models.PerformanceMetrics `json:"metrics"`
}

type performanceMetadata struct {
	Stale       bool       `json:"stale"`
	CacheStatus string     `json:"cache_status"`
	CoverageEnd *time.Time `json:"coverage_end,omitempty"`
}

// GetHistoricalPerformance handles GET /users/{userId}/performance.
// It always answers from the cache: stale or partial data comes back
// immediately with the stale flag set while a rebuild is scheduled in the
// background. It never blocks on recomputation.
func (h *Handler) GetHistoricalPerformance(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	period := r.URL.Query().Get("period")
	if period == "" {
		period = "1y"
	}
	startOf, ok := periodStarts[period]
	if !ok {
		http.Error(w, fmt.Sprintf("invalid period: %s", period), http.StatusBadRequest)
		return
	}

	benchmark := r.URL.Query().Get("benchmark")
	if benchmark == "" {
		benchmark = "SPY"
	}
	if !symbolPattern.MatchString(benchmark) || benchmark == models.SeriesKeyPortfolio {
		http.Error(w, fmt.Sprintf("invalid benchmark: %s", benchmark), http.StatusBadRequest)
		return
	}

	end := time.Now().Truncate(24 * time.Hour)
	start := startOf(end)

	portfolio, err := h.db.ReadSlice(userID, models.SeriesKeyPortfolio, start, end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	bench, err := h.db.ReadSlice(userID, benchmark, start, end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	stale := portfolio.IsStale || bench.IsStale
	if stale {
		h.coordinator.Schedule(userID, []string{benchmark})
	}

	resp := performanceResponse{
		PortfolioSeries: portfolio.Data,
		BenchmarkSeries: bench.Data,
		Metadata: performanceMetadata{
			Stale:       stale,
			CacheStatus: cacheStatus(portfolio),
			CoverageEnd: portfolio.CoverageEnd,
		},
		Metrics: valuation.ComputeMetrics(portfolio.Data, bench.Data),
	}

	respondJSON(w, http.StatusOK, resp)
}

func cacheStatus(slice *models.SeriesSlice) string {
	switch {
	case len(slice.Data) == 0:
		return "empty"
	case slice.IsStale:
		return "partial"
	default:
		return "fresh"
	}
}

// InvalidateCache handles POST /users/{userId}/cache/invalidate. It deletes
// the cached series and schedules rebuilds without waiting for them.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	var req struct {
		Benchmarks []string `json:"benchmarks"`
	}
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	for _, b := range req.Benchmarks {
		if !symbolPattern.MatchString(b) {
			http.Error(w, fmt.Sprintf("invalid benchmark: %s", b), http.StatusBadRequest)
			return
		}
	}

	if err := h.coordinator.Invalidate(userID, req.Benchmarks); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// GetCacheStats handles GET /users/{userId}/cache/stats.
func (h *Handler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	key := "cache-stats:" + userID
	value, err := h.cache.GetOrLoad(key, cache.TTLCacheStats, func() (any, error) {
		return h.db.GetSeriesStats(userID)
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"series":    value,
		"ttl_cache": h.cache.Metrics(),
		"rebuilds":  h.coordinator.Metrics(),
	})
}

// holdingResponse is one row of GET /users/{userId}/holdings.
type holdingResponse struct {
	models.HoldingState
	CurrentPrice  decimal.Decimal `json:"current_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
	GainLossPct   decimal.Decimal `json:"gain_loss_pct"`
}

// GetHoldings handles GET /users/{userId}/holdings: current FIFO holdings
// with open-lot detail, priced at the latest close.
func (h *Handler) GetHoldings(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	txs, err := h.db.GetTransactionsByUser(userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	holdings, err := valuation.ComputeHoldings(txs, time.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	var resp []holdingResponse
	for _, holding := range holdings {
		row := holdingResponse{HoldingState: *holding}
		if holding.Quantity.IsPositive() {
			price, ok := h.latestQuote(holding.Symbol)
			if ok {
				row.CurrentPrice = price
				row.MarketValue = holding.Quantity.Mul(price)
				row.UnrealizedPnl = row.MarketValue.Sub(holding.CostBasis)
				row.GainLossPct = valuation.GainLossPercent(row.UnrealizedPnl, holding.CostBasis)
			}
		}
		resp = append(resp, row)
	}

	respondJSON(w, http.StatusOK, resp)
}

// latestQuote serves the most recent close through the TTL cache.
func (h *Handler) latestQuote(symbol string) (decimal.Decimal, bool) {
	value, err := h.cache.GetOrLoad("quote:"+symbol, cache.TTLQuote, func() (any, error) {
		price, _, err := h.db.GetLatestClose(symbol)
		if err != nil {
			return nil, err
		}
		return price, nil
	})
	if err != nil {
		return decimal.Zero, false
	}
	return value.(decimal.Decimal), true
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
