package cli

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"crypto-risk/internal/db"
	"crypto-risk/internal/engine"
	"crypto-risk/internal/report"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			MarginTop(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6")).
			Padding(0, 1)

	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
	lossStyle   = numberStyle.Foreground(lipgloss.Color("#EF4444"))
	gainStyle   = numberStyle.Foreground(lipgloss.Color("#10B981"))
)

// renderTable draws a bordered table whose first column is a label and the
// rest are right-aligned. Cells starting with "-" are drawn red, and
// colorSign also paints positive percentages green.
func renderTable(title string, headers []string, rows [][]string, colorSign bool) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 0:
				return cellStyle
			}
			if row < 0 || row >= len(rows) || col >= len(rows[row]) {
				return numberStyle
			}
			v := rows[row][col]
			switch {
			case strings.HasPrefix(v, "-"):
				return lossStyle
			case colorSign && strings.HasSuffix(v, "%") && v != "0.00%":
				return gainStyle
			}
			return numberStyle
		})
	return titleStyle.Render(title) + "\n" + t.Render() + "\n"
}

func fixed(v float64, decimals int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return fmt.Sprintf("%.*f", decimals, v)
}

func percent(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", v*100)
}

func printMetrics(w io.Writer, metrics []engine.AssetMetrics) {
	rows := make([][]string, 0, len(metrics))
	for _, m := range metrics {
		rows = append(rows, []string{string(m.Symbol), fixed(m.Volatility, 4), fixed(m.Sharpe, 4), fixed(m.VaR, 4)})
	}
	fmt.Fprint(w, renderTable("Metrics (per asset)", []string{"asset", "vol_ann", "sharpe", "VaR"}, rows, false))
}

func printAllocation(w io.Writer, title string, weights engine.Weights) {
	rows := make([][]string, 0, len(weights))
	for _, s := range report.SortedSymbols(weights) {
		rows = append(rows, []string{string(s), percent(weights[s])})
	}
	fmt.Fprint(w, renderTable(title, []string{"asset", "weight"}, rows, false))
}

func printCorrelation(w io.Writer, m *engine.Matrix) {
	headers := []string{""}
	rows := make([][]string, 0, len(m.Symbols))
	for i, s := range m.Symbols {
		headers = append(headers, string(s))
		row := []string{string(s)}
		for _, v := range m.Values[i] {
			row = append(row, fixed(v, 3))
		}
		rows = append(rows, row)
	}
	fmt.Fprint(w, renderTable("Correlation", headers, rows, false))
}

func printFrontier(w io.Writer, points []engine.FrontierPoint) {
	rows := make([][]string, 0, len(points))
	for _, p := range points {
		rows = append(rows, []string{percent(p.TargetReturn), percent(p.Volatility)})
	}
	fmt.Fprint(w, renderTable("Efficient frontier", []string{"target_return", "volatility"}, rows, false))
}

func printRuns(w io.Writer, runs []db.RunRecord) {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		objective := r.Objective
		if objective == "" {
			objective = "-"
		}
		rows = append(rows, []string{
			fmt.Sprint(r.ID), r.Timestamp, r.Command, r.Portfolio, fmt.Sprint(r.Assets), objective,
			percent(r.ExpectedReturn), percent(r.Volatility), fixed(r.Sharpe, 2), fmt.Sprintf("%dms", r.DurationMs),
		})
	}
	headers := []string{"id", "time", "command", "portfolio", "assets", "objective", "return", "vol", "sharpe", "took"}
	fmt.Fprint(w, renderTable(fmt.Sprintf("Recent runs (%d)", len(runs)), headers, rows, true))
}
