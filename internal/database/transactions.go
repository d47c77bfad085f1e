package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/foliotrack/valuation-service/internal/models"
)

// CreateTransaction inserts a new ledger entry. Entries are immutable once
// written; corrections happen through compensating entries.
func (db *DB) CreateTransaction(t *models.Transaction) error {
	query := `
		INSERT INTO transactions (
			user_id, symbol, type, quantity, price, currency, date,
			order_id, source, executed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	now := time.Now()
	executedAt := t.ExecutedAt
	if executedAt.IsZero() {
		executedAt = now
	}

	err := db.conn.QueryRow(query,
		t.UserID, t.Symbol, t.Type, t.Quantity, t.Price, t.Currency, t.Date,
		nullString(t.OrderID), nullString(t.Source), executedAt, now,
	).Scan(&t.ID)

	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	t.ExecutedAt = executedAt
	t.CreatedAt = now
	return nil
}

// TransactionExistsByOrderID checks whether a ledger entry with the given
// order_id and source was already ingested (consumer idempotency).
func (db *DB) TransactionExistsByOrderID(orderID, source string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM transactions WHERE order_id = $1 AND source = $2)`
	var exists bool
	err := db.conn.QueryRow(query, orderID, source).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check transaction existence: %w", err)
	}
	return exists, nil
}

// GetTransactionsByUser retrieves a user's full ledger ordered by date
// ascending, ties broken by insertion order.
func (db *DB) GetTransactionsByUser(userID string) ([]models.Transaction, error) {
	query := `
		SELECT id, user_id, symbol, type, quantity, price, currency, date,
		       order_id, source, executed_at, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY date ASC, id ASC
	`
	rows, err := db.conn.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var t models.Transaction
		var orderID, source sql.NullString

		err := rows.Scan(
			&t.ID, &t.UserID, &t.Symbol, &t.Type, &t.Quantity, &t.Price, &t.Currency, &t.Date,
			&orderID, &source, &t.ExecutedAt, &t.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		if orderID.Valid {
			t.OrderID = orderID.String
		}
		if source.Valid {
			t.Source = source.String
		}
		txs = append(txs, t)
	}

	return txs, nil
}

// GetTransactionDateBounds returns the first and last ledger dates for a
// user. ok is false when the ledger is empty.
func (db *DB) GetTransactionDateBounds(userID string) (first, last time.Time, ok bool, err error) {
	query := `SELECT MIN(date), MAX(date) FROM transactions WHERE user_id = $1`
	var minDate, maxDate sql.NullTime
	if err = db.conn.QueryRow(query, userID).Scan(&minDate, &maxDate); err != nil {
		err = fmt.Errorf("failed to get transaction date bounds: %w", err)
		return
	}
	if !minDate.Valid || !maxDate.Valid {
		return
	}
	return minDate.Time, maxDate.Time, true, nil
}

// GetLatestTransactionTime returns when the user's ledger last changed,
// used by the rebuild freshness check.
func (db *DB) GetLatestTransactionTime(userID string) (time.Time, bool, error) {
	query := `SELECT MAX(created_at) FROM transactions WHERE user_id = $1`
	var latest sql.NullTime
	if err := db.conn.QueryRow(query, userID).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get latest transaction time: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return latest.Time, true, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
