package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction type constants
const (
	TransactionTypeBuy      = "BUY"
	TransactionTypeSell     = "SELL"
	TransactionTypeDividend = "DIVIDEND"
)

// Transaction represents an immutable ledger entry owned by a user.
// Quantity and Price are always non-negative; direction is encoded by Type.
type Transaction struct {
	ID         int             `json:"id"`
	UserID     string          `json:"user_id"`
	Symbol     string          `json:"symbol"`
	Type       string          `json:"type"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"currency"`
	Date       time.Time       `json:"date"`
	OrderID    string          `json:"order_id,omitempty"`
	Source     string          `json:"source,omitempty"`
	ExecutedAt time.Time       `json:"executed_at"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Amount returns the cash moved by the transaction: quantity*price for
// BUY/SELL, the dividend amount (stored in Price with Quantity 1, or
// quantity*price when per-share) for DIVIDEND.
func (t *Transaction) Amount() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}
