package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/foliotrack/valuation-service/internal/models"
	"github.com/lib/pq"
)

// ReadSlice returns the cached series for (user, benchmark) within
// [start, end]. It never computes anything: when the latest cached date does
// not reach end, whatever is cached comes back immediately with IsStale set so
// the caller can serve it and schedule a rebuild.
func (db *DB) ReadSlice(userID, benchmark string, start, end time.Time) (*models.SeriesSlice, error) {
	var latest sql.NullTime
	err := db.conn.QueryRow(
		`SELECT MAX(date) FROM index_cache WHERE user_id = $1 AND benchmark = $2`,
		userID, benchmark,
	).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("failed to check series coverage: %w", err)
	}

	slice := &models.SeriesSlice{IsStale: true}
	if latest.Valid {
		coverage := latest.Time
		slice.CoverageEnd = &coverage
		slice.IsStale = coverage.Before(end)
	}

	rows, err := db.conn.Query(`
		SELECT date, value
		FROM index_cache
		WHERE user_id = $1 AND benchmark = $2 AND date >= $3 AND date <= $4
		ORDER BY date ASC
	`, userID, benchmark, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to read series slice: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.TimeSeriesPoint
		if err := rows.Scan(&p.Date, &p.Value); err != nil {
			return nil, fmt.Errorf("failed to scan series point: %w", err)
		}
		slice.Data = append(slice.Data, p)
	}

	return slice, nil
}

// WriteBulk upserts a full series for (user, benchmark) as one database
// transaction, so readers of that key never observe a half-written range.
func (db *DB) WriteBulk(userID, benchmark string, points []models.TimeSeriesPoint) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO index_cache (user_id, benchmark, date, value, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, benchmark, date) DO UPDATE SET
			value = EXCLUDED.value,
			created_at = EXCLUDED.created_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, p := range points {
		if _, err := stmt.Exec(userID, benchmark, p.Date, p.Value, now); err != nil {
			return fmt.Errorf("failed to upsert series point for %s on %s: %w",
				benchmark, p.Date.Format("2006-01-02"), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit series write: %w", err)
	}
	return nil
}

// InvalidateSeries deletes cached rows for the user. With no benchmarks given
// it wipes every series the user has, including the portfolio series.
func (db *DB) InvalidateSeries(userID string, benchmarks []string) (int64, error) {
	var result sql.Result
	var err error
	if len(benchmarks) == 0 {
		result, err = db.conn.Exec(`DELETE FROM index_cache WHERE user_id = $1`, userID)
	} else {
		result, err = db.conn.Exec(
			`DELETE FROM index_cache WHERE user_id = $1 AND benchmark = ANY($2)`,
			userID, pq.Array(benchmarks),
		)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate series cache: %w", err)
	}
	return result.RowsAffected()
}

// GetLatestCacheTime returns when the cached series for (user, benchmark) was
// last written, for the rebuild freshness check.
func (db *DB) GetLatestCacheTime(userID, benchmark string) (time.Time, bool, error) {
	var latest sql.NullTime
	err := db.conn.QueryRow(
		`SELECT MAX(created_at) FROM index_cache WHERE user_id = $1 AND benchmark = $2`,
		userID, benchmark,
	).Scan(&latest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get latest cache time: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return latest.Time, true, nil
}

// GetSeriesStats reports per-benchmark cache coverage for a user.
func (db *DB) GetSeriesStats(userID string) ([]models.SeriesStats, error) {
	rows, err := db.conn.Query(`
		SELECT benchmark, COUNT(*), MIN(date), MAX(date)
		FROM index_cache
		WHERE user_id = $1
		GROUP BY benchmark
		ORDER BY benchmark
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query series stats: %w", err)
	}
	defer rows.Close()

	var stats []models.SeriesStats
	for rows.Next() {
		var s models.SeriesStats
		var first, last sql.NullTime
		if err := rows.Scan(&s.Benchmark, &s.Points, &first, &last); err != nil {
			return nil, fmt.Errorf("failed to scan series stats: %w", err)
		}
		if first.Valid {
			s.FirstDate = &first.Time
		}
		if last.Valid {
			s.LastDate = &last.Time
		}
		stats = append(stats, s)
	}

	return stats, nil
}
