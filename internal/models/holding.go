package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot is an open FIFO purchase record. Created by a BUY, consumed in
// acquisition order by subsequent SELLs, gone once QuantityRemaining hits zero.
type Lot struct {
	QuantityRemaining decimal.Decimal `json:"quantity_remaining"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	AcquiredDate      time.Time       `json:"acquired_date"`
}

// HoldingState is the derived per-symbol position as of a date. It is never
// persisted; it is recomputed by replaying the ledger against the lot queue.
// A fully sold-out symbol keeps its realized P&L and dividend history.
type HoldingState struct {
	Symbol            string          `json:"symbol"`
	Quantity          decimal.Decimal `json:"quantity"`
	CostBasis         decimal.Decimal `json:"cost_basis"`
	RealizedPnl       decimal.Decimal `json:"realized_pnl"`
	DividendsReceived decimal.Decimal `json:"dividends_received"`
	OpenLots          []Lot           `json:"open_lots,omitempty"`
}
