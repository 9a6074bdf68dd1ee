package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// RunRecord is one analyze/optimize/visualize invocation.
type RunRecord struct {
	ID             int64           `json:"id"`
	Timestamp      string          `json:"timestamp"`
	Command        string          `json:"command"`
	Portfolio      string          `json:"portfolio"`
	Assets         int             `json:"assets"`
	Objective      string          `json:"objective,omitempty"`
	ExpectedReturn float64         `json:"expected_return"`
	Volatility     float64         `json:"volatility"`
	Sharpe         float64         `json:"sharpe"`
	DurationMs     int64           `json:"duration_ms"`
	Params         json.RawMessage `json:"params"`
	Result         json.RawMessage `json:"result,omitempty"`
}

// MarshalJSON encodes NaN figures as null.
func (r RunRecord) MarshalJSON() ([]byte, error) {
	type plain RunRecord
	return json.Marshal(struct {
		plain
		ExpectedReturn *float64 `json:"expected_return"`
		Volatility     *float64 `json:"volatility"`
		Sharpe         *float64 `json:"sharpe"`
	}{plain(r), finite(r.ExpectedReturn), finite(r.Volatility), finite(r.Sharpe)})
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// InsertRun stores a run and returns its ID. NaN figures are stored as NULL.
// params and result are marshalled to JSON.
func (d *DB) InsertRun(r RunRecord, params, result any) (int64, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("marshal params: %w", err)
	}
	var resultJSON []byte
	if result != nil {
		if resultJSON, err = json.Marshal(result); err != nil {
			return 0, fmt.Errorf("marshal result: %w", err)
		}
	}
	ts := r.Timestamp
	if ts == "" {
		ts = time.Now().UTC().Format(time.RFC3339)
	}
	res, err := d.sql.Exec(
		`INSERT INTO run_history (timestamp, command, portfolio, assets, objective,
		 expected_return, volatility, sharpe, duration_ms, params_json, result_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts, r.Command, r.Portfolio, r.Assets, nullString(r.Objective),
		nullFloat(r.ExpectedReturn), nullFloat(r.Volatility), nullFloat(r.Sharpe),
		r.DurationMs, string(paramsJSON), nullString(string(resultJSON)),
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return res.LastInsertId()
}

const runColumns = `id, timestamp, command, portfolio, assets, COALESCE(objective, ''),
	expected_return, volatility, sharpe, duration_ms,
	COALESCE(params_json, '{}'), COALESCE(result_json, '')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (RunRecord, error) {
	var r RunRecord
	var ret, vol, sharpe sql.NullFloat64
	var params, result string
	if err := s.Scan(&r.ID, &r.Timestamp, &r.Command, &r.Portfolio, &r.Assets, &r.Objective,
		&ret, &vol, &sharpe, &r.DurationMs, &params, &result); err != nil {
		return r, err
	}
	r.ExpectedReturn = fromNull(ret)
	r.Volatility = fromNull(vol)
	r.Sharpe = fromNull(sharpe)
	r.Params = json.RawMessage(params)
	if result != "" {
		r.Result = json.RawMessage(result)
	}
	return r, nil
}

// GetRuns returns the last N runs (newest first).
func (d *DB) GetRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.sql.Query(
		"SELECT "+runColumns+" FROM run_history ORDER BY id DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	records := []RunRecord{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetRunByID returns a single run, or nil when absent.
func (d *DB) GetRunByID(id int64) (*RunRecord, error) {
	r, err := scanRun(d.sql.QueryRow("SELECT "+runColumns+" FROM run_history WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run %d: %w", id, err)
	}
	return &r, nil
}

// ClearRuns deletes runs older than the given number of days.
func (d *DB) ClearRuns(olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays).Format(time.RFC3339)
	res, err := d.sql.Exec("DELETE FROM run_history WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
