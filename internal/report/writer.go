// Package report exports analysis results as CSV, JSON, PNG charts and a
// static HTML page.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"crypto-risk/internal/engine"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts "csv" or "json".
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatJSON:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown format %q (want csv or json)", s)
}

// Num converts a float to a JSON-safe pointer: nil for NaN and ±Inf.
func Num(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Round rounds to the given number of decimals, passing NaN through.
func Round(v float64, decimals int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

func cell(v float64, decimals int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(Round(v, decimals), 'f', -1, 64)
}

// Writer writes result files into Dir using Format.
type Writer struct {
	Dir    string
	Format Format
}

func (w Writer) path(base string) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return filepath.Join(w.Dir, base+"."+string(w.Format)), nil
}

// Metrics writes metrics.{csv,json}.
func (w Writer) Metrics(metrics []engine.AssetMetrics) (string, error) {
	path, err := w.path("metrics")
	if err != nil {
		return "", err
	}
	if w.Format == FormatCSV {
		return path, WriteMetricsCSV(path, metrics)
	}
	return path, WriteMetricsJSON(path, metrics)
}

// Allocation writes <name>.{csv,json} with one weight per symbol.
func (w Writer) Allocation(name string, weights engine.Weights) (string, error) {
	path, err := w.path(name)
	if err != nil {
		return "", err
	}
	if w.Format == FormatCSV {
		return path, WriteAllocationCSV(path, weights)
	}
	return path, WriteAllocationJSON(path, weights)
}

// Correlation writes correlation.{csv,json}.
func (w Writer) Correlation(m *engine.Matrix) (string, error) {
	path, err := w.path("correlation")
	if err != nil {
		return "", err
	}
	if w.Format == FormatCSV {
		return path, WriteMatrixCSV(path, m, 3)
	}
	return path, WriteMatrixJSON(path, m, 3)
}

// Frontier writes frontier.{csv,json}.
func (w Writer) Frontier(points []engine.FrontierPoint) (string, error) {
	path, err := w.path("frontier")
	if err != nil {
		return "", err
	}
	if w.Format == FormatCSV {
		return path, WriteFrontierCSV(path, points)
	}
	return path, WriteFrontierJSON(path, points)
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return f.Close()
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// WriteMetricsCSV writes asset,vol_ann,sharpe,VaR rounded to 4 decimals.
func WriteMetricsCSV(path string, metrics []engine.AssetMetrics) error {
	rows := make([][]string, 0, len(metrics))
	for _, m := range metrics {
		rows = append(rows, []string{string(m.Symbol), cell(m.Volatility, 4), cell(m.Sharpe, 4), cell(m.VaR, 4)})
	}
	return writeCSV(path, []string{"asset", "vol_ann", "sharpe", "VaR"}, rows)
}

// MetricsRecord is one row of metrics.json.
type MetricsRecord struct {
	Asset      string   `json:"asset"`
	Volatility *float64 `json:"vol_ann"`
	Sharpe     *float64 `json:"sharpe"`
	VaR        *float64 `json:"VaR"`
}

// MetricsRecords converts metrics to JSON records with NaN as null.
func MetricsRecords(metrics []engine.AssetMetrics) []MetricsRecord {
	out := make([]MetricsRecord, 0, len(metrics))
	for _, m := range metrics {
		out = append(out, MetricsRecord{
			Asset:      string(m.Symbol),
			Volatility: Num(Round(m.Volatility, 4)),
			Sharpe:     Num(Round(m.Sharpe, 4)),
			VaR:        Num(Round(m.VaR, 4)),
		})
	}
	return out
}

// WriteMetricsJSON writes a list of metric records.
func WriteMetricsJSON(path string, metrics []engine.AssetMetrics) error {
	return writeJSON(path, MetricsRecords(metrics))
}

// SortedSymbols returns the weight keys ordered by descending weight, then name.
func SortedSymbols(w engine.Weights) []engine.Symbol {
	syms := make([]engine.Symbol, 0, len(w))
	for s := range w {
		syms = append(syms, s)
	}
	sort.Slice(syms, func(i, j int) bool {
		if w[syms[i]] != w[syms[j]] {
			return w[syms[i]] > w[syms[j]]
		}
		return syms[i] < syms[j]
	})
	return syms
}

// WriteAllocationCSV writes asset,weight rows, heaviest first.
func WriteAllocationCSV(path string, w engine.Weights) error {
	rows := make([][]string, 0, len(w))
	for _, s := range SortedSymbols(w) {
		rows = append(rows, []string{string(s), strconv.FormatFloat(w[s], 'f', -1, 64)})
	}
	return writeCSV(path, []string{"asset", "weight"}, rows)
}

// WriteAllocationJSON writes a symbol → weight object.
func WriteAllocationJSON(path string, w engine.Weights) error {
	out := make(map[string]*float64, len(w))
	for s, v := range w {
		out[string(s)] = Num(v)
	}
	return writeJSON(path, out)
}

// WriteMatrixCSV writes a labelled square matrix with a leading index column.
func WriteMatrixCSV(path string, m *engine.Matrix, decimals int) error {
	header := make([]string, 0, len(m.Symbols)+1)
	header = append(header, "")
	for _, s := range m.Symbols {
		header = append(header, string(s))
	}
	rows := make([][]string, 0, len(m.Symbols))
	for i, s := range m.Symbols {
		row := make([]string, 0, len(m.Symbols)+1)
		row = append(row, string(s))
		for _, v := range m.Values[i] {
			row = append(row, cell(v, decimals))
		}
		rows = append(rows, row)
	}
	return writeCSV(path, header, rows)
}

// MatrixSplit is the {columns, index, data} layout of a labelled matrix.
type MatrixSplit struct {
	Columns []string     `json:"columns"`
	Index   []string     `json:"index"`
	Data    [][]*float64 `json:"data"`
}

// SplitMatrix converts m to its split layout, NaN as null.
func SplitMatrix(m *engine.Matrix, decimals int) MatrixSplit {
	labels := make([]string, len(m.Symbols))
	for i, s := range m.Symbols {
		labels[i] = string(s)
	}
	data := make([][]*float64, len(m.Values))
	for i, row := range m.Values {
		data[i] = make([]*float64, len(row))
		for j, v := range row {
			data[i][j] = Num(Round(v, decimals))
		}
	}
	return MatrixSplit{Columns: labels, Index: labels, Data: data}
}

// WriteMatrixJSON writes the split layout.
func WriteMatrixJSON(path string, m *engine.Matrix, decimals int) error {
	return writeJSON(path, SplitMatrix(m, decimals))
}

// WriteFrontierCSV writes target_return,volatility rows.
func WriteFrontierCSV(path string, points []engine.FrontierPoint) error {
	rows := make([][]string, 0, len(points))
	for _, p := range points {
		rows = append(rows, []string{
			strconv.FormatFloat(p.TargetReturn, 'f', -1, 64),
			strconv.FormatFloat(p.Volatility, 'f', -1, 64),
		})
	}
	return writeCSV(path, []string{"target_return", "volatility"}, rows)
}

// WriteFrontierJSON writes frontier records.
func WriteFrontierJSON(path string, points []engine.FrontierPoint) error {
	if points == nil {
		points = []engine.FrontierPoint{}
	}
	return writeJSON(path, points)
}
