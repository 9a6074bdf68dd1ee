package engine

import (
	"math"
	"time"
)

// ToReturns converts a price table into simple per-period returns,
// r[t] = p[t]/p[t-1] - 1. The first row is dropped, as is any later row
// that is NaN in every column. A NaN price yields NaN returns on both
// sides of it.
func ToReturns(prices *Table) (*Table, error) {
	if err := prices.validate(); err != nil {
		return nil, err
	}
	rows := prices.Rows()
	if rows < 2 {
		return nil, invalidInput("need at least 2 price rows, got %d", rows)
	}

	n := len(prices.Symbols)
	raw := make([][]float64, n)
	for c, col := range prices.Columns {
		r := make([]float64, rows-1)
		for i := 1; i < rows; i++ {
			r[i-1] = col[i]/col[i-1] - 1
		}
		raw[c] = r
	}

	keep := make([]int, 0, rows-1)
	for i := 0; i < rows-1; i++ {
		for c := 0; c < n; c++ {
			if !math.IsNaN(raw[c][i]) {
				keep = append(keep, i)
				break
			}
		}
	}
	if len(keep) == 0 {
		return nil, invalidInput("no finite returns")
	}

	columns := make([][]float64, n)
	for c := range columns {
		if len(keep) == rows-1 {
			columns[c] = raw[c]
			continue
		}
		col := make([]float64, len(keep))
		for j, i := range keep {
			col[j] = raw[c][i]
		}
		columns[c] = col
	}

	var dates []time.Time
	if prices.Dates != nil {
		dates = make([]time.Time, len(keep))
		for j, i := range keep {
			dates[j] = prices.Dates[i+1]
		}
	}
	symbols := append([]Symbol(nil), prices.Symbols...)
	return &Table{Dates: dates, Symbols: symbols, Columns: columns}, nil
}
