package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/foliotrack/valuation-service/internal/models"
	"github.com/shopspring/decimal"
)

// UpsertPriceDataBatch inserts or refreshes daily bars in a single
// transaction, keyed on (symbol, date).
func (db *DB) UpsertPriceDataBatch(prices []*models.PriceDataDaily) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO price_data_daily (symbol, date, open, high, low, close, volume, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, date) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, p := range prices {
		_, err := stmt.Exec(p.Symbol, p.Date, p.Open, p.High, p.Low, p.Close, p.Volume, now)
		if err != nil {
			return fmt.Errorf("failed to upsert price data for %s: %w", p.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetPrices retrieves daily bars for a symbol within [start, end], ordered by
// date ascending. Missing days are simply absent; callers price with the most
// recent bar on or before their target date.
func (db *DB) GetPrices(ctx context.Context, symbol string, start, end time.Time) ([]models.PriceDataDaily, error) {
	query := `
		SELECT id, symbol, date, open, high, low, close, volume, created_at
		FROM price_data_daily
		WHERE symbol = $1 AND date >= $2 AND date <= $3
		ORDER BY date ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query price data: %w", err)
	}
	defer rows.Close()

	var prices []models.PriceDataDaily
	for rows.Next() {
		var p models.PriceDataDaily
		err := rows.Scan(&p.ID, &p.Symbol, &p.Date, &p.Open, &p.High, &p.Low, &p.Close, &p.Volume, &p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan price data: %w", err)
		}
		prices = append(prices, p)
	}

	return prices, nil
}

// GetLatestClose returns the most recent close for a symbol.
func (db *DB) GetLatestClose(symbol string) (decimal.Decimal, time.Time, error) {
	query := `
		SELECT close, date
		FROM price_data_daily
		WHERE symbol = $1
		ORDER BY date DESC
		LIMIT 1
	`
	var close decimal.Decimal
	var date time.Time
	err := db.conn.QueryRow(query, symbol).Scan(&close, &date)
	if err == sql.ErrNoRows {
		return decimal.Zero, time.Time{}, fmt.Errorf("no price data found for %s", symbol)
	}
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("failed to get latest close: %w", err)
	}
	return close, date, nil
}

// DeletePriceDataOlderThan removes bars older than the given date.
func (db *DB) DeletePriceDataOlderThan(date time.Time) (int64, error) {
	query := `DELETE FROM price_data_daily WHERE date < $1`
	result, err := db.conn.Exec(query, date)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old price data: %w", err)
	}
	return result.RowsAffected()
}
