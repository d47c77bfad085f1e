package valuation

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/foliotrack/valuation-service/internal/models"
	"github.com/shopspring/decimal"
)

// ErrInsufficientQuantity is returned when a SELL exceeds the open quantity
// for its symbol. Oversells are surfaced, never clamped.
var ErrInsufficientQuantity = errors.New("insufficient quantity")

// book tracks per-symbol FIFO state while replaying a ledger. It is local to
// a single computation and never shared across goroutines.
type book struct {
	holdings map[string]*models.HoldingState
}

func newBook() *book {
	return &book{holdings: make(map[string]*models.HoldingState)}
}

func (b *book) holding(symbol string) *models.HoldingState {
	h, ok := b.holdings[symbol]
	if !ok {
		h = &models.HoldingState{
			Symbol:            symbol,
			Quantity:          decimal.Zero,
			CostBasis:         decimal.Zero,
			RealizedPnl:       decimal.Zero,
			DividendsReceived: decimal.Zero,
		}
		b.holdings[symbol] = h
	}
	return h
}

// apply replays a single transaction against the book.
func (b *book) apply(t *models.Transaction) error {
	h := b.holding(t.Symbol)

	switch t.Type {
	case models.TransactionTypeBuy:
		h.OpenLots = append(h.OpenLots, models.Lot{
			QuantityRemaining: t.Quantity,
			UnitCost:          t.Price,
			AcquiredDate:      t.Date,
		})
		h.Quantity = h.Quantity.Add(t.Quantity)
		h.CostBasis = h.CostBasis.Add(t.Quantity.Mul(t.Price))

	case models.TransactionTypeSell:
		if t.Quantity.GreaterThan(h.Quantity) {
			return fmt.Errorf("sell %s of %s on %s exceeds held %s: %w",
				t.Quantity, t.Symbol, t.Date.Format("2006-01-02"), h.Quantity, ErrInsufficientQuantity)
		}
		remaining := t.Quantity
		for remaining.IsPositive() {
			lot := &h.OpenLots[0]
			consumed := decimal.Min(remaining, lot.QuantityRemaining)

			// Realized P&L and cost-basis reduction both come from the
			// consumed lot's own unit cost, never from an averaged
			// cost-per-share over the remaining position.
			h.RealizedPnl = h.RealizedPnl.Add(consumed.Mul(t.Price.Sub(lot.UnitCost)))
			h.CostBasis = h.CostBasis.Sub(consumed.Mul(lot.UnitCost))

			lot.QuantityRemaining = lot.QuantityRemaining.Sub(consumed)
			remaining = remaining.Sub(consumed)
			if lot.QuantityRemaining.IsZero() {
				h.OpenLots = h.OpenLots[1:]
			}
		}
		h.Quantity = h.Quantity.Sub(t.Quantity)

	case models.TransactionTypeDividend:
		h.DividendsReceived = h.DividendsReceived.Add(t.Amount())

	default:
		return fmt.Errorf("unknown transaction type %q for %s", t.Type, t.Symbol)
	}

	return nil
}

// sortTransactions orders a copy of the ledger by date, stable so that
// same-day entries keep their insertion order.
func sortTransactions(txs []models.Transaction) []models.Transaction {
	sorted := make([]models.Transaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})
	return sorted
}

// ComputeHoldings replays all transactions up to and including asOf and
// returns the FIFO holding state per symbol. Symbols that were fully sold out
// are still present so realized P&L and dividend history survive.
//
// The computation is pure: it builds its own local state from the immutable
// ledger, so concurrent callers need no locking.
func ComputeHoldings(txs []models.Transaction, asOf time.Time) (map[string]*models.HoldingState, error) {
	b := newBook()
	for _, t := range sortTransactions(txs) {
		if t.Date.After(asOf) {
			break
		}
		if err := b.apply(&t); err != nil {
			return nil, err
		}
	}
	return b.holdings, nil
}
