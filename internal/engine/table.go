package engine

import (
	"math"
	"sort"
	"time"
)

// Symbol identifies an asset column, e.g. "BTC".
type Symbol string

// PricePoint is one closing price observation.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Price float64   `json:"price"`
}

// PriceSeries is the close history of a single asset, oldest first.
type PriceSeries struct {
	Symbol Symbol       `json:"symbol"`
	Points []PricePoint `json:"points"`
}

// Table is a rectangular, column-major table of per-period values (prices or
// returns) sharing a single row index. Dates is optional; when nil the rows
// are indexed by position only. NaN marks a missing observation.
type Table struct {
	Dates   []time.Time
	Symbols []Symbol
	Columns [][]float64
}

// NewTable validates shape and builds a table. Columns are not copied.
func NewTable(dates []time.Time, symbols []Symbol, columns [][]float64) (*Table, error) {
	if len(symbols) == 0 {
		return nil, invalidInput("table has no columns")
	}
	if len(columns) != len(symbols) {
		return nil, invalidInput("%d symbols but %d columns", len(symbols), len(columns))
	}
	seen := make(map[Symbol]bool, len(symbols))
	for _, s := range symbols {
		if s == "" {
			return nil, invalidInput("empty column name")
		}
		if seen[s] {
			return nil, invalidInput("duplicate column %q", s)
		}
		seen[s] = true
	}
	rows := len(columns[0])
	if rows == 0 {
		return nil, invalidInput("table has no rows")
	}
	for i, col := range columns {
		if len(col) != rows {
			return nil, invalidInput("column %q has %d rows, want %d", symbols[i], len(col), rows)
		}
	}
	if dates != nil {
		if len(dates) != rows {
			return nil, invalidInput("%d dates for %d rows", len(dates), rows)
		}
		for i := 1; i < len(dates); i++ {
			if !dates[i].After(dates[i-1]) {
				return nil, invalidInput("dates not strictly increasing at row %d", i)
			}
		}
	}
	return &Table{Dates: dates, Symbols: symbols, Columns: columns}, nil
}

// Rows returns the number of rows.
func (t *Table) Rows() int {
	if t == nil || len(t.Columns) == 0 {
		return 0
	}
	return len(t.Columns[0])
}

// Index returns the column position of sym, or -1.
func (t *Table) Index(sym Symbol) int {
	for i, s := range t.Symbols {
		if s == sym {
			return i
		}
	}
	return -1
}

// Column returns the values of sym, or nil when absent.
func (t *Table) Column(sym Symbol) []float64 {
	if i := t.Index(sym); i >= 0 {
		return t.Columns[i]
	}
	return nil
}

// validate re-checks a table that may have been built by hand.
func (t *Table) validate() error {
	if t == nil {
		return invalidInput("nil table")
	}
	_, err := NewTable(t.Dates, t.Symbols, t.Columns)
	return err
}

// AlignPrices inner-joins price series on date. Only dates present in every
// series with a finite, positive price are kept, in ascending order.
func AlignPrices(series ...PriceSeries) (*Table, error) {
	if len(series) == 0 {
		return nil, invalidInput("no price series")
	}

	// Count how many series carry a usable price per day.
	type key = int64
	counts := make(map[key]int)
	byDay := make([]map[key]float64, len(series))
	for i, s := range series {
		byDay[i] = make(map[key]float64, len(s.Points))
		for _, p := range s.Points {
			if math.IsNaN(p.Price) || math.IsInf(p.Price, 0) || p.Price <= 0 {
				continue
			}
			k := p.Date.UTC().Truncate(24 * time.Hour).Unix()
			if _, dup := byDay[i][k]; !dup {
				counts[k]++
			}
			byDay[i][k] = p.Price
		}
	}

	var days []key
	for k, c := range counts {
		if c == len(series) {
			days = append(days, k)
		}
	}
	if len(days) < 2 {
		return nil, invalidInput("not enough data points after alignment: %d", len(days))
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	dates := make([]time.Time, len(days))
	for i, k := range days {
		dates[i] = time.Unix(k, 0).UTC()
	}
	symbols := make([]Symbol, len(series))
	columns := make([][]float64, len(series))
	for i, s := range series {
		symbols[i] = s.Symbol
		col := make([]float64, len(days))
		for r, k := range days {
			col[r] = byDay[i][k]
		}
		columns[i] = col
	}
	return NewTable(dates, symbols, columns)
}
