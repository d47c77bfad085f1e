package valuation

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/foliotrack/valuation-service/internal/models"
	"github.com/shopspring/decimal"
)

// Calendar decides whether a date is a trading day. Holiday calendars come
// from an injected implementation; the default only excludes weekends.
type Calendar interface {
	IsTradingDay(date time.Time) bool
}

// WeekdayCalendar treats every Monday-Friday as a trading day.
type WeekdayCalendar struct{}

func (WeekdayCalendar) IsTradingDay(date time.Time) bool {
	wd := date.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// PriceProvider supplies daily close prices. Implementations tolerate missing
// days; the series builder always prices with the most recent close on or
// before the valuation date.
type PriceProvider interface {
	GetPrices(ctx context.Context, symbol string, start, end time.Time) ([]models.PriceDataDaily, error)
}

// priceLookback is how far before the preload window's anchor prices are
// fetched so that the first trading days can still be priced from an earlier
// close.
const priceLookback = 30 * 24 * time.Hour

// priceIndex holds preloaded per-symbol closes sorted by date ascending.
type priceIndex struct {
	bySymbol map[string][]models.PriceDataDaily
}

func (idx *priceIndex) closeOnOrBefore(symbol string, date time.Time) (decimal.Decimal, bool) {
	prices := idx.bySymbol[symbol]
	// First price strictly after date; the one before it is our close.
	i := sort.Search(len(prices), func(i int) bool {
		return prices[i].Date.After(date)
	})
	if i == 0 {
		return decimal.Zero, false
	}
	return prices[i-1].Close, true
}

// SeriesBuilder reconstructs daily portfolio and benchmark value series from
// the transaction ledger. Each call builds its own local state; builders are
// safe for concurrent use.
type SeriesBuilder struct {
	prices   PriceProvider
	calendar Calendar
}

func NewSeriesBuilder(prices PriceProvider, calendar Calendar) *SeriesBuilder {
	return &SeriesBuilder{prices: prices, calendar: calendar}
}

func (sb *SeriesBuilder) loadPrices(ctx context.Context, symbols []string, from, end time.Time) (*priceIndex, error) {
	idx := &priceIndex{bySymbol: make(map[string][]models.PriceDataDaily, len(symbols))}
	for _, symbol := range symbols {
		prices, err := sb.prices.GetPrices(ctx, symbol, from, end)
		if err != nil {
			return nil, fmt.Errorf("failed to load prices for %s: %w", symbol, err)
		}
		sort.Slice(prices, func(i, j int) bool { return prices[i].Date.Before(prices[j].Date) })
		idx.bySymbol[symbol] = prices
	}
	return idx, nil
}

// preloadFrom anchors the price window on whichever comes first, the series
// start or the earliest transaction. Cash flows and positions can predate the
// requested range by years and still need a close on or before their date.
func preloadFrom(txs []models.Transaction, start time.Time) time.Time {
	anchor := start
	for _, t := range txs {
		if t.Date.Before(anchor) {
			anchor = t.Date
		}
	}
	return anchor.Add(-priceLookback)
}

func symbolsOf(txs []models.Transaction) []string {
	seen := make(map[string]bool)
	var symbols []string
	for _, t := range txs {
		if !seen[t.Symbol] {
			seen[t.Symbol] = true
			symbols = append(symbols, t.Symbol)
		}
	}
	return symbols
}

// BuildPortfolioSeries values the real holdings for every trading day in
// [start, end]. Unpriced holdings are valued at zero and logged; zero-value
// days are kept so the series always has one point per trading day.
func (sb *SeriesBuilder) BuildPortfolioSeries(ctx context.Context, txs []models.Transaction, start, end time.Time) ([]models.TimeSeriesPoint, error) {
	idx, err := sb.loadPrices(ctx, symbolsOf(txs), preloadFrom(txs, start), end)
	if err != nil {
		return nil, err
	}

	sorted := sortTransactions(txs)
	b := newBook()
	next := 0

	var series []models.TimeSeriesPoint
	for date := start; !date.After(end); date = date.AddDate(0, 0, 1) {
		if !sb.calendar.IsTradingDay(date) {
			continue
		}

		// Advance the FIFO book through every transaction on or before date.
		for next < len(sorted) && !sorted[next].Date.After(date) {
			if err := b.apply(&sorted[next]); err != nil {
				return nil, err
			}
			next++
		}

		total := decimal.Zero
		for symbol, h := range b.holdings {
			if h.Quantity.IsZero() {
				continue
			}
			price, ok := idx.closeOnOrBefore(symbol, date)
			if !ok {
				log.Printf("No price for %s on or before %s, valuing at 0", symbol, date.Format("2006-01-02"))
				continue
			}
			total = total.Add(h.Quantity.Mul(price))
		}

		series = append(series, models.TimeSeriesPoint{Date: date, Value: total})
	}

	return series, nil
}

// BuildBenchmarkSeries simulates a parallel account in which every cash flow
// implied by the real ledger (buy = cash out, sell and dividend = cash in) is
// applied to the benchmark instrument instead, through the same FIFO book.
// Simulated sales are clamped to the units held; the hypothetical account must
// not abort a whole series over price drift.
func (sb *SeriesBuilder) BuildBenchmarkSeries(ctx context.Context, txs []models.Transaction, benchmark string, start, end time.Time) ([]models.TimeSeriesPoint, error) {
	idx, err := sb.loadPrices(ctx, []string{benchmark}, preloadFrom(txs, start), end)
	if err != nil {
		return nil, err
	}

	sorted := sortTransactions(txs)
	b := newBook()
	next := 0

	var series []models.TimeSeriesPoint
	for date := start; !date.After(end); date = date.AddDate(0, 0, 1) {
		if !sb.calendar.IsTradingDay(date) {
			continue
		}

		for next < len(sorted) && !sorted[next].Date.After(date) {
			sb.applyBenchmarkFlow(b, idx, benchmark, &sorted[next])
			next++
		}

		value := decimal.Zero
		if h, ok := b.holdings[benchmark]; ok && h.Quantity.IsPositive() {
			price, priced := idx.closeOnOrBefore(benchmark, date)
			if priced {
				value = h.Quantity.Mul(price)
			} else {
				log.Printf("No benchmark price for %s on or before %s, valuing at 0", benchmark, date.Format("2006-01-02"))
			}
		}

		series = append(series, models.TimeSeriesPoint{Date: date, Value: value})
	}

	return series, nil
}

// applyBenchmarkFlow converts one real transaction into a synthetic benchmark
// trade at the benchmark's price on the transaction date.
func (sb *SeriesBuilder) applyBenchmarkFlow(b *book, idx *priceIndex, benchmark string, t *models.Transaction) {
	cash := t.Amount()
	if !cash.IsPositive() {
		return
	}

	price, ok := idx.closeOnOrBefore(benchmark, t.Date)
	if !ok || !price.IsPositive() {
		log.Printf("No benchmark price for %s on or before %s, skipping cash flow of %s",
			benchmark, t.Date.Format("2006-01-02"), cash)
		return
	}
	units := cash.Div(price)

	synthetic := models.Transaction{
		Symbol: benchmark,
		Price:  price,
		Date:   t.Date,
	}

	switch t.Type {
	case models.TransactionTypeBuy:
		synthetic.Type = models.TransactionTypeBuy
		synthetic.Quantity = units
	case models.TransactionTypeSell, models.TransactionTypeDividend:
		held := decimal.Zero
		if h, ok := b.holdings[benchmark]; ok {
			held = h.Quantity
		}
		if units.GreaterThan(held) {
			log.Printf("Benchmark withdrawal of %s units exceeds held %s on %s, clamping",
				units, held, t.Date.Format("2006-01-02"))
			units = held
		}
		if !units.IsPositive() {
			return
		}
		synthetic.Type = models.TransactionTypeSell
		synthetic.Quantity = units
	default:
		return
	}

	// The book never rejects these: buys always apply and sells are clamped.
	if err := b.apply(&synthetic); err != nil {
		log.Printf("Benchmark simulation error on %s: %v", t.Date.Format("2006-01-02"), err)
	}
}
