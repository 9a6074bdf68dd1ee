package db

import (
	"fmt"
	"time"

	"crypto-risk/internal/engine"
	"crypto-risk/internal/logger"
)

const dateLayout = "2006-01-02"

// CacheMode selects how GetPrices treats the cache.
type CacheMode int

const (
	// CacheFresh returns entries younger than the TTL only.
	CacheFresh CacheMode = iota
	// CacheStale returns any cached entry regardless of age (offline runs).
	CacheStale
)

// GetPrices returns the cached daily closes for symbol, oldest first, limited
// to the last days+1 observations (enough for `days` returns). ok is false
// when nothing usable is cached. In CacheFresh mode an entry older than ttl,
// or one fetched for a shorter look-back, is not usable.
func (d *DB) GetPrices(symbol string, days int, ttl time.Duration, mode CacheMode) ([]engine.PricePoint, bool) {
	var updatedAt string
	var cachedDays int
	err := d.sql.QueryRow(
		"SELECT updated_at, days FROM price_meta WHERE symbol=?", symbol,
	).Scan(&updatedAt, &cachedDays)
	if err != nil {
		return nil, false
	}

	if mode == CacheFresh {
		t, err := time.Parse(time.RFC3339, updatedAt)
		if err != nil || time.Since(t) > ttl {
			return nil, false
		}
		if cachedDays < days {
			return nil, false
		}
	}

	rows, err := d.sql.Query(
		"SELECT date, price FROM price_history WHERE symbol=? ORDER BY date DESC LIMIT ?",
		symbol, days+1,
	)
	if err != nil {
		return nil, false
	}
	defer rows.Close()

	var points []engine.PricePoint
	for rows.Next() {
		var date string
		var p engine.PricePoint
		if err := rows.Scan(&date, &p.Price); err != nil {
			continue
		}
		if p.Date, err = time.Parse(dateLayout, date); err != nil {
			continue
		}
		points = append(points, p)
	}
	if len(points) == 0 {
		return nil, false
	}
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, true
}

// SetPrices replaces the cached history for symbol and stamps it with the
// current time. days records the look-back the series was fetched for.
func (d *DB) SetPrices(symbol string, days int, points []engine.PricePoint) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM price_history WHERE symbol=?", symbol); err != nil {
		return fmt.Errorf("clear %s: %w", symbol, err)
	}

	stmt, err := tx.Prepare("INSERT OR REPLACE INTO price_history (symbol, date, price) VALUES (?,?,?)")
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.Exec(symbol, p.Date.UTC().Format(dateLayout), p.Price); err != nil {
			return fmt.Errorf("insert %s %s: %w", symbol, p.Date.Format(dateLayout), err)
		}
	}

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO price_meta (symbol, days, updated_at) VALUES (?,?,?)",
		symbol, days, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("update meta %s: %w", symbol, err)
	}

	return tx.Commit()
}

// PriceUpdatedAt returns when symbol was last written to the cache.
func (d *DB) PriceUpdatedAt(symbol string) (time.Time, bool) {
	var updatedAt string
	if err := d.sql.QueryRow("SELECT updated_at FROM price_meta WHERE symbol=?", symbol).Scan(&updatedAt); err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// CachedSymbols lists every symbol with cached prices.
func (d *DB) CachedSymbols() ([]string, error) {
	rows, err := d.sql.Query("SELECT symbol FROM price_meta ORDER BY symbol")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CleanupOldPrices removes price rows older than keepDays and meta entries
// that have not been refreshed in as long. Returns the number of price rows
// deleted.
func (d *DB) CleanupOldPrices(keepDays int) (int64, error) {
	cutoffDate := time.Now().UTC().AddDate(0, 0, -keepDays).Format(dateLayout)
	cutoffMeta := time.Now().UTC().AddDate(0, 0, -keepDays).Format(time.RFC3339)

	res, err := d.sql.Exec("DELETE FROM price_history WHERE date < ?", cutoffDate)
	if err != nil {
		return 0, fmt.Errorf("delete old prices: %w", err)
	}
	n, _ := res.RowsAffected()

	if _, err := d.sql.Exec("DELETE FROM price_meta WHERE updated_at < ?", cutoffMeta); err != nil {
		return n, fmt.Errorf("delete stale meta: %w", err)
	}

	// orphans: meta removed but rows remain
	res, err = d.sql.Exec(`
		DELETE FROM price_history
		WHERE symbol NOT IN (SELECT symbol FROM price_meta)
	`)
	if err != nil {
		return n, fmt.Errorf("delete orphaned prices: %w", err)
	}
	orphans, _ := res.RowsAffected()
	n += orphans

	if n > 0 {
		logger.Info("DB", fmt.Sprintf("CleanupOldPrices: removed %d rows", n))
	}
	return n, nil
}
