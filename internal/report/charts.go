package report

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/vicanso/go-charts/v2"

	"crypto-risk/internal/engine"
)

// ChartOptions controls rendering of every PNG.
type ChartOptions struct {
	Theme  string
	Width  int
	Height int
}

func (o ChartOptions) common(title string) []charts.OptionFunc {
	theme := charts.ThemeLight
	if o.Theme == charts.ThemeDark {
		theme = charts.ThemeDark
	}
	w, h := o.Width, o.Height
	if w <= 0 {
		w = 900
	}
	if h <= 0 {
		h = 600
	}
	return []charts.OptionFunc{
		charts.TitleTextOptionFunc(title),
		charts.ThemeOptionFunc(theme),
		charts.WidthOptionFunc(w),
		charts.HeightOptionFunc(h),
	}
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func savePNG(path string, p *charts.Painter, err error) error {
	if err != nil {
		return fmt.Errorf("render %s: %w", filepath.Base(path), err)
	}
	buf, err := p.Bytes()
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0o644)
}

// RiskBarsPNG compares annualized volatility and VaR loss per asset.
func RiskBarsPNG(path string, metrics []engine.AssetMetrics, o ChartOptions) error {
	if len(metrics) == 0 {
		return errors.New("risk bars: no assets")
	}
	labels := make([]string, len(metrics))
	vols := make([]float64, len(metrics))
	losses := make([]float64, len(metrics))
	for i, m := range metrics {
		labels[i] = string(m.Symbol)
		vols[i] = Round(finite(m.Volatility)*100, 2)
		losses[i] = Round(math.Abs(finite(m.VaR))*100, 2)
	}
	opts := append(o.common("Annualized volatility vs VaR loss (%)"),
		charts.XAxisOptionFunc(charts.XAxisOption{Data: labels}),
		charts.LegendOptionFunc(charts.LegendOption{
			Data: []string{"volatility", "VaR loss"},
			Top:  charts.PositionTop,
		}),
	)
	p, err := charts.BarRender([][]float64{vols, losses}, opts...)
	return savePNG(path, p, err)
}

// AllocationPNG draws a pie of absolute weights; short positions are labelled.
func AllocationPNG(path string, w engine.Weights, o ChartOptions) error {
	var values []float64
	var labels []string
	for _, s := range SortedSymbols(w) {
		v := finite(w[s])
		if math.Abs(v) < 1e-6 {
			continue
		}
		label := fmt.Sprintf("%s %.1f%%", s, v*100)
		if v < 0 {
			label += " (short)"
		}
		values = append(values, math.Abs(v))
		labels = append(labels, label)
	}
	if len(values) == 0 {
		return errors.New("allocation: every weight is zero")
	}
	opts := append(o.common("Allocation"),
		charts.LegendOptionFunc(charts.LegendOption{Data: labels, Top: charts.PositionTop}),
	)
	p, err := charts.PieRender(values, opts...)
	return savePNG(path, p, err)
}

// FrontierPNG plots expected return against volatility, both in percent.
func FrontierPNG(path string, points []engine.FrontierPoint, o ChartOptions) error {
	if len(points) < 2 {
		return errors.New("frontier: need at least two points")
	}
	x := make([]string, len(points))
	y := make([]float64, len(points))
	yMin, yMax := math.Inf(1), math.Inf(-1)
	for i, p := range points {
		x[i] = fmt.Sprintf("%.1f", p.Volatility*100)
		y[i] = Round(p.TargetReturn*100, 2)
		yMin = math.Min(yMin, y[i])
		yMax = math.Max(yMax, y[i])
	}
	pad := (yMax - yMin) * 0.05
	if pad == 0 {
		pad = math.Max(math.Abs(yMax)*0.05, 1)
	}
	yMin -= pad
	yMax += pad
	opts := append(o.common("Efficient frontier (return % vs volatility %)"),
		charts.XAxisOptionFunc(charts.XAxisOption{Data: x, BoundaryGap: charts.FalseFlag()}),
		charts.YAxisOptionFunc(charts.YAxisOption{Min: &yMin, Max: &yMax, DivideCount: 5}),
	)
	p, err := charts.LineRender([][]float64{y}, opts...)
	return savePNG(path, p, err)
}

// CorrelationPNG draws one bar group per asset showing its correlation with
// every other asset. NaN entries are drawn as zero.
func CorrelationPNG(path string, m *engine.Matrix, o ChartOptions) error {
	n := len(m.Symbols)
	if n < 2 {
		return errors.New("correlation: need at least two assets")
	}
	labels := make([]string, n)
	for i, s := range m.Symbols {
		labels[i] = string(s)
	}
	series := make([][]float64, n)
	for j := 0; j < n; j++ {
		series[j] = make([]float64, n)
		for i := 0; i < n; i++ {
			series[j][i] = Round(finite(m.Values[i][j]), 3)
		}
	}
	yMin, yMax := -1.0, 1.0
	opts := append(o.common("Correlation ("+strings.Join(labels, ", ")+")"),
		charts.XAxisOptionFunc(charts.XAxisOption{Data: labels}),
		charts.YAxisOptionFunc(charts.YAxisOption{Min: &yMin, Max: &yMax, DivideCount: 4}),
		charts.LegendOptionFunc(charts.LegendOption{Data: labels, Top: charts.PositionTop}),
	)
	p, err := charts.BarRender(series, opts...)
	return savePNG(path, p, err)
}
