package report

import (
	"fmt"
	"html/template"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"crypto-risk/internal/engine"
)

// Chart file names written by the visualize command.
const (
	RiskBarsFile    = "risk_bars.png"
	AllocationFile  = "allocation.png"
	FrontierFile    = "frontier.png"
	CorrelationFile = "correlation.png"
	ReportFile      = "report.html"
)

// Params are the run settings echoed in the report.
type Params struct {
	Days         int
	RiskFreeRate float64
	Confidence   float64
}

// Data is everything the HTML report shows.
type Data struct {
	AppName         string
	PortfolioName   string
	TotalValue      float64
	PortfolioReturn float64
	PortfolioVol    float64
	PortfolioSharpe float64
	Params          Params
	Metrics         []engine.AssetMetrics
	Weights         engine.Weights
	Correlation     *engine.Matrix
	Frontier        []engine.FrontierPoint
	// Images maps a chart file name (e.g. RiskBarsFile) to whether it exists.
	Images    map[string]bool
	Generated time.Time
}

func pct(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", v*100)
}

func ratio(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", v)
}

func money(v float64) string {
	s := fmt.Sprintf("%.2f", math.Abs(v))
	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	out := b.String() + "." + frac
	if v < 0 {
		out = "-" + out
	}
	return out
}

func joinAssets(assets []string) string {
	switch len(assets) {
	case 0:
		return "n/a"
	case 1:
		return assets[0]
	}
	return assets[0] + " and " + assets[1]
}

// Interpret builds the plain-language bullet list shown in the report.
func Interpret(d Data) []string {
	var items []string

	summary := fmt.Sprintf("Baseline portfolio (current weights) has an annualized expected return of %s and volatility of %s.",
		pct(d.PortfolioReturn), pct(d.PortfolioVol))
	if !math.IsNaN(d.PortfolioSharpe) {
		summary += fmt.Sprintf(" Portfolio Sharpe ratio is %s.", ratio(d.PortfolioSharpe))
	}
	items = append(items, summary)

	items = append(items, describeVolatility(d.Metrics))
	items = append(items, describeSharpe(d.Metrics))
	items = append(items, describeVaR(d.Metrics, d.Params.Confidence))
	items = append(items, describeWeights(d.Weights))
	items = append(items, describeCorrelation(d.Correlation))
	items = append(items, describeFrontier(d.Frontier, d.PortfolioReturn, d.PortfolioVol)...)
	items = append(items, "Thresholds are relative to this dataset and should be treated as context-specific.")
	return items
}

type named struct {
	sym string
	v   float64
}

func finiteValues(metrics []engine.AssetMetrics, pick func(engine.AssetMetrics) float64) []named {
	var out []named
	for _, m := range metrics {
		if v := pick(m); !math.IsNaN(v) {
			out = append(out, named{string(m.Symbol), v})
		}
	}
	return out
}

func describeVolatility(metrics []engine.AssetMetrics) string {
	vals := finiteValues(metrics, func(m engine.AssetMetrics) float64 { return m.Volatility })
	if len(vals) == 0 {
		return "Volatility metrics could not be computed for the assets."
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i].v < vals[j].v })
	xs := make([]float64, len(vals))
	for i, n := range vals {
		xs[i] = n.v
	}
	q25 := engine.Quantile(xs, 0.25)
	q75 := engine.Quantile(xs, 0.75)
	median := engine.Quantile(xs, 0.5)
	var high, low []string
	for i := len(vals) - 1; i >= 0; i-- {
		if vals[i].v >= q75 {
			high = append(high, vals[i].sym)
		}
	}
	for _, n := range vals {
		if n.v <= q25 {
			low = append(low, n.sym)
		}
	}
	return fmt.Sprintf("Asset volatility ranges from %s to %s, with a median of %s. "+
		"Assets above the 75th percentile (>= %s) are relatively high-volatility (e.g. %s), "+
		"while those below the 25th percentile (<= %s) are relatively low-volatility (e.g. %s).",
		pct(xs[0]), pct(xs[len(xs)-1]), pct(median), pct(q75), joinAssets(high), pct(q25), joinAssets(low))
}

func describeSharpe(metrics []engine.AssetMetrics) string {
	vals := finiteValues(metrics, func(m engine.AssetMetrics) float64 { return m.Sharpe })
	if len(vals) == 0 {
		return "Sharpe ratios could not be computed for the assets."
	}
	best, worst := vals[0], vals[0]
	neg, strong := 0, 0
	for _, n := range vals {
		if n.v > best.v {
			best = n
		}
		if n.v < worst.v {
			worst = n
		}
		if n.v < 0 {
			neg++
		}
		if n.v >= 2 {
			strong++
		}
	}
	return fmt.Sprintf("Sharpe ratios range from %s (%s) to %s (%s). "+
		"Negative Sharpe values (%d asset(s)) indicate returns that did not compensate risk over the sample. "+
		"A Sharpe >= 2 is often considered strong; %d asset(s) meet that threshold.",
		ratio(worst.v), worst.sym, ratio(best.v), best.sym, neg, strong)
}

func describeVaR(metrics []engine.AssetMetrics, confidence float64) string {
	vals := finiteValues(metrics, func(m engine.AssetMetrics) float64 { return m.VaR })
	if len(vals) == 0 {
		return "VaR could not be computed for the assets."
	}
	best, worst := vals[0], vals[0]
	for _, n := range vals {
		if n.v > best.v {
			best = n
		}
		if n.v < worst.v {
			worst = n
		}
	}
	return fmt.Sprintf("VaR at %.0f%% confidence estimates the worst expected loss over the period. "+
		"The most negative VaR is %s (%s), while the least negative is %s (%s).",
		confidence*100, pct(worst.v), worst.sym, pct(best.v), best.sym)
}

func describeWeights(w engine.Weights) string {
	if len(w) == 0 {
		return "Portfolio weights are not available."
	}
	syms := SortedSymbols(w)
	top := syms[0]
	maxW := w[top]
	zero := 0
	for _, v := range w {
		if v <= 0 {
			zero++
		}
	}
	level := "fairly diversified"
	switch {
	case maxW >= 0.4:
		level = "highly concentrated"
	case maxW >= 0.25:
		level = "moderately concentrated"
	}
	msg := fmt.Sprintf("Allocation is %s. The largest weight is %s in %s.", level, pct(maxW), top)
	if zero > 0 {
		msg += fmt.Sprintf(" %d asset(s) have zero weight.", zero)
	}
	return msg
}

func describeCorrelation(m *engine.Matrix) string {
	if m == nil || len(m.Symbols) < 2 {
		return "Correlation needs at least two assets to interpret."
	}
	var off []float64
	for i := range m.Values {
		for j, v := range m.Values[i] {
			if i != j && !math.IsNaN(v) {
				off = append(off, v)
			}
		}
	}
	if len(off) == 0 {
		return "Correlation metrics could not be computed for the assets."
	}
	mean := stat.Mean(off, nil)
	level := "low"
	switch {
	case mean >= 0.7:
		level = "high"
	case mean >= 0.4:
		level = "moderate"
	}
	return fmt.Sprintf("Average pairwise correlation is %s, which is %s. Higher correlation means less diversification benefit.",
		ratio(mean), level)
}

func describeFrontier(points []engine.FrontierPoint, ret, vol float64) []string {
	if len(points) == 0 {
		return []string{"Efficient frontier could not be computed; no optimization comparison available."}
	}
	minRet, maxRet := math.Inf(1), math.Inf(-1)
	minVol, maxVol := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		minRet = math.Min(minRet, p.TargetReturn)
		maxRet = math.Max(maxRet, p.TargetReturn)
		minVol = math.Min(minVol, p.Volatility)
		maxVol = math.Max(maxVol, p.Volatility)
	}
	items := []string{fmt.Sprintf("Efficient frontier spans expected returns from %s to %s and volatility from %s to %s under the current constraints.",
		pct(minRet), pct(maxRet), pct(minVol), pct(maxVol))}
	if !math.IsNaN(vol) {
		if minVol < vol {
			items = append(items, fmt.Sprintf("Current volatility is %s; the frontier indicates a lower-risk allocation is feasible.", pct(vol)))
		} else {
			items = append(items, fmt.Sprintf("Current volatility is %s and already near the low end of the frontier range.", pct(vol)))
		}
	}
	if !math.IsNaN(ret) {
		switch {
		case ret < minRet:
			items = append(items, "Current expected return is below the frontier range, suggesting potential improvement under the same constraints.")
		case ret < maxRet:
			items = append(items, "Higher expected returns appear feasible on the frontier, typically with higher volatility.")
		default:
			items = append(items, "Current expected return is above the frontier range; this can happen with short samples or estimation noise.")
		}
	}
	return items
}

var reportTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"pct":   pct,
	"ratio": ratio,
	"money": money,
	"num":   func(v float64, d int) string { return cell(v, d) },
}).Parse(reportHTML))

type weightRow struct {
	Symbol engine.Symbol
	Weight float64
}

type corrRow struct {
	Symbol engine.Symbol
	Values []float64
}

type figure struct {
	File  string
	Title string
}

// WriteHTML renders the static report to path.
func WriteHTML(path string, d Data) error {
	if d.Generated.IsZero() {
		d.Generated = time.Now().UTC()
	}
	weights := make([]weightRow, 0, len(d.Weights))
	for _, s := range SortedSymbols(d.Weights) {
		weights = append(weights, weightRow{s, d.Weights[s]})
	}
	var corr []corrRow
	var corrCols []engine.Symbol
	if d.Correlation != nil {
		corrCols = d.Correlation.Symbols
		for i, s := range d.Correlation.Symbols {
			corr = append(corr, corrRow{s, d.Correlation.Values[i]})
		}
	}
	var figures []figure
	for _, f := range []figure{
		{RiskBarsFile, "Risk bars"},
		{CorrelationFile, "Correlation"},
		{AllocationFile, "Allocation pie"},
		{FrontierFile, "Efficient frontier"},
	} {
		if d.Images[f.File] {
			figures = append(figures, f)
		}
	}

	view := struct {
		Data
		Interpretation []string
		WeightRows     []weightRow
		CorrCols       []engine.Symbol
		CorrRows       []corrRow
		Figures        []figure
		GeneratedISO   string
	}{
		Data:           d,
		Interpretation: Interpret(d),
		WeightRows:     weights,
		CorrCols:       corrCols,
		CorrRows:       corr,
		Figures:        figures,
		GeneratedISO:   d.Generated.Format(time.RFC3339),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := reportTmpl.Execute(f, view); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return f.Close()
}

const reportHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>{{.AppName}} - Report</title>
  <style>
    body { font-family: Arial, sans-serif; margin: 24px; }
    h1, h2, h3 { color: #222; }
    .table { border-collapse: collapse; margin: 8px 0 20px 0; }
    .table th, .table td { border: 1px solid #ddd; padding: 6px 10px; text-align: right; }
    .table th:first-child, .table td:first-child { text-align: left; }
    .summary { margin-bottom: 20px; }
    img { max-width: 900px; width: 100%; height: auto; margin-bottom: 16px; }
    .glossary li { margin-bottom: 6px; }
    .note { color: #555; font-size: 0.95em; }
  </style>
</head>
<body>
  <h1>{{.AppName}} - Report</h1>
  <div class="summary">
    <p><strong>Portfolio:</strong> {{.PortfolioName}}</p>
    <p><strong>Total value:</strong> {{money .TotalValue}}</p>
    <p><strong>Expected return (annualized):</strong> {{pct .PortfolioReturn}}</p>
    <p><strong>Portfolio volatility (annualized):</strong> {{pct .PortfolioVol}}</p>
    <p><strong>Portfolio Sharpe:</strong> {{ratio .PortfolioSharpe}}</p>
    <p><strong>Generated:</strong> {{.GeneratedISO}}</p>
  </div>

  <h2>Run Parameters</h2>
  <table class="table">
    <tr><th>param</th><th>value</th></tr>
    <tr><td>Days</td><td>{{.Params.Days}}</td></tr>
    <tr><td>Risk-free rate</td><td>{{.Params.RiskFreeRate}}</td></tr>
    <tr><td>Confidence</td><td>{{.Params.Confidence}}</td></tr>
  </table>

  <h2>Interpretation (auto-generated)</h2>
  {{if .Interpretation}}<ul>{{range .Interpretation}}<li>{{.}}</li>{{end}}</ul>{{else}}<p class="note">No interpretation available.</p>{{end}}

  <h2>Metrics (per asset)</h2>
  <table class="table">
    <tr><th>asset</th><th>vol_ann</th><th>sharpe</th><th>VaR</th></tr>
    {{range .Metrics}}<tr><td>{{.Symbol}}</td><td>{{num .Volatility 4}}</td><td>{{num .Sharpe 4}}</td><td>{{num .VaR 4}}</td></tr>
    {{end}}
  </table>

  <h2>Allocation</h2>
  <table class="table">
    <tr><th>asset</th><th>weight</th></tr>
    {{range .WeightRows}}<tr><td>{{.Symbol}}</td><td>{{pct .Weight}}</td></tr>
    {{end}}
  </table>

  <h2>Correlation</h2>
  <table class="table">
    <tr><th></th>{{range .CorrCols}}<th>{{.}}</th>{{end}}</tr>
    {{range .CorrRows}}<tr><td>{{.Symbol}}</td>{{range .Values}}<td>{{num . 3}}</td>{{end}}</tr>
    {{end}}
  </table>

  <h2>Efficient Frontier</h2>
  <table class="table">
    <tr><th>target_return</th><th>volatility</th></tr>
    {{range .Frontier}}<tr><td>{{num .TargetReturn 4}}</td><td>{{num .Volatility 4}}</td></tr>
    {{end}}
  </table>

  <h2>How to read the figures</h2>
  <ul>
    <li>Risk bars compare annualized volatility and VaR loss by asset.</li>
    <li>Correlation bars show how each asset co-moves with the others (higher means more correlated).</li>
    <li>Allocation pie shows the current portfolio weights.</li>
    <li>Efficient frontier shows the best risk/return trade-offs under constraints.</li>
  </ul>

  <h2>Figures</h2>
  {{range .Figures}}<h3>{{.Title}}</h3>
  <img src="{{.File}}" alt="{{.Title}}" />
  {{end}}

  <h2>Glossary</h2>
  <ul class="glossary">
    <li><strong>Volatility:</strong> how much prices fluctuate over time.</li>
    <li><strong>Sharpe:</strong> return adjusted for risk (higher is better).</li>
    <li><strong>VaR:</strong> worst expected loss at a given confidence level.</li>
    <li><strong>Correlation:</strong> how assets move together.</li>
    <li><strong>Efficient frontier:</strong> best risk/return trade-offs under constraints.</li>
  </ul>
  <p class="note">Historical data is not a guarantee of future performance.</p>
</body>
</html>
`
