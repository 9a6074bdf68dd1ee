package engine

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Matrix is a labelled square matrix over asset symbols.
type Matrix struct {
	Symbols []Symbol    `json:"symbols"`
	Values  [][]float64 `json:"values"`
}

// At returns the entry for (a, b), or NaN when either symbol is absent.
func (m *Matrix) At(a, b Symbol) float64 {
	i, j := -1, -1
	for k, s := range m.Symbols {
		if s == a {
			i = k
		}
		if s == b {
			j = k
		}
	}
	if i < 0 || j < 0 {
		return math.NaN()
	}
	return m.Values[i][j]
}

// SymDense copies the values into a gonum symmetric matrix scaled by f.
func (m *Matrix) SymDense(f float64) *mat.SymDense {
	n := len(m.Symbols)
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, m.Values[i][j]*f)
		}
	}
	return s
}

func newMatrix(symbols []Symbol) *Matrix {
	n := len(symbols)
	vals := make([][]float64, n)
	for i := range vals {
		vals[i] = make([]float64, n)
	}
	return &Matrix{Symbols: append([]Symbol(nil), symbols...), Values: vals}
}

// MetricsParams controls the per-asset risk summary.
type MetricsParams struct {
	RiskFreeRate   float64
	Confidence     float64
	PeriodsPerYear int
}

// AnnualizedVolatility is the sample standard deviation (n-1) of the
// non-NaN returns scaled by sqrt(periodsPerYear). NaN with fewer than two
// observations.
func AnnualizedVolatility(returns []float64, periodsPerYear int) (float64, error) {
	if periodsPerYear <= 0 {
		return 0, invalidParameter("periods per year must be positive, got %d", periodsPerYear)
	}
	x := dropNaN(returns)
	if len(x) < 2 {
		return math.NaN(), nil
	}
	return sampleStdDev(x) * math.Sqrt(float64(periodsPerYear)), nil
}

// SharpeRatio is the annualized mean excess return over its standard
// deviation. The annual risk-free rate is spread evenly across periods.
// NaN with fewer than two observations or zero dispersion.
func SharpeRatio(returns []float64, riskFreeRate float64, periodsPerYear int) (float64, error) {
	if periodsPerYear <= 0 {
		return 0, invalidParameter("periods per year must be positive, got %d", periodsPerYear)
	}
	x := dropNaN(returns)
	if len(x) < 2 {
		return math.NaN(), nil
	}
	rfPeriod := riskFreeRate / float64(periodsPerYear)
	excess := make([]float64, len(x))
	for i, r := range x {
		excess[i] = r - rfPeriod
	}
	sd := sampleStdDev(excess)
	if sd == 0 {
		return math.NaN(), nil
	}
	return stat.Mean(excess, nil) / sd * math.Sqrt(float64(periodsPerYear)), nil
}

// HistoricalVaR is the empirical (1-confidence) quantile of the returns,
// interpolated linearly between order statistics. NaN when no
// observations remain after dropping NaN.
func HistoricalVaR(returns []float64, confidence float64) (float64, error) {
	if !(confidence > 0 && confidence < 1) {
		return 0, invalidParameter("confidence must be in (0, 1), got %v", confidence)
	}
	x := dropNaN(returns)
	if len(x) == 0 {
		return math.NaN(), nil
	}
	sort.Float64s(x)
	return Quantile(x, 1-confidence), nil
}

// CovarianceMatrix is the per-period sample covariance of every column
// pair, each computed over the rows where both columns are present.
func CovarianceMatrix(t *Table) (*Matrix, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	n := len(t.Symbols)
	m := newMatrix(t.Symbols)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			x, y := pairwiseComplete(t.Columns[i], t.Columns[j])
			v := math.NaN()
			switch {
			case len(x) < 2:
			case isConstant(x) || isConstant(y):
				v = 0
			default:
				v = stat.Covariance(x, y, nil)
			}
			m.Values[i][j] = v
			m.Values[j][i] = v
		}
	}
	return m, nil
}

// CorrelationMatrix is the Pearson correlation of every column pair over
// the rows where both are present. The diagonal is exactly 1 for columns
// with at least two observations and non-zero variance, NaN otherwise.
func CorrelationMatrix(t *Table) (*Matrix, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	n := len(t.Symbols)
	m := newMatrix(t.Symbols)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			x, y := pairwiseComplete(t.Columns[i], t.Columns[j])
			v := math.NaN()
			switch {
			case len(x) < 2 || isConstant(x) || isConstant(y):
			case i == j:
				v = 1
			default:
				v = math.Max(-1, math.Min(1, stat.Correlation(x, y, nil)))
			}
			m.Values[i][j] = v
			m.Values[j][i] = v
		}
	}
	return m, nil
}

// PortfolioVolatility is sqrt(wᵀ·Cov·w·periodsPerYear) with w ordered like
// the table columns. Weights are not required to sum to 1.
func PortfolioVolatility(t *Table, w Weights, periodsPerYear int) (float64, error) {
	if periodsPerYear <= 0 {
		return 0, invalidParameter("periods per year must be positive, got %d", periodsPerYear)
	}
	cov, err := CovarianceMatrix(t)
	if err != nil {
		return 0, err
	}
	v, err := w.Vector(t.Symbols)
	if err != nil {
		return 0, err
	}
	variance := quadForm(cov.Values, v) * float64(periodsPerYear)
	return sqrtVariance(variance), nil
}

// PortfolioReturn is the annualized expected return wᵀ·μ.
func PortfolioReturn(t *Table, w Weights, periodsPerYear int) (float64, error) {
	mu, err := AnnualizedMeans(t, periodsPerYear)
	if err != nil {
		return 0, err
	}
	v, err := w.Vector(t.Symbols)
	if err != nil {
		return 0, err
	}
	return dotProduct(v, mu), nil
}

// AnnualizedMeans returns the mean of each column's non-NaN values times
// periodsPerYear, ordered like the columns.
func AnnualizedMeans(t *Table, periodsPerYear int) ([]float64, error) {
	if periodsPerYear <= 0 {
		return nil, invalidParameter("periods per year must be positive, got %d", periodsPerYear)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	mu := make([]float64, len(t.Columns))
	for i, col := range t.Columns {
		x := dropNaN(col)
		if len(x) == 0 {
			mu[i] = math.NaN()
			continue
		}
		mu[i] = stat.Mean(x, nil) * float64(periodsPerYear)
	}
	return mu, nil
}

// AnnualizedCovariance is CovarianceMatrix scaled by periodsPerYear.
func AnnualizedCovariance(t *Table, periodsPerYear int) (*mat.SymDense, error) {
	if periodsPerYear <= 0 {
		return nil, invalidParameter("periods per year must be positive, got %d", periodsPerYear)
	}
	cov, err := CovarianceMatrix(t)
	if err != nil {
		return nil, err
	}
	return cov.SymDense(float64(periodsPerYear)), nil
}

// ComputeAssetMetrics builds the per-asset volatility, Sharpe and VaR table
// in column order.
func ComputeAssetMetrics(t *Table, p MetricsParams) ([]AssetMetrics, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	out := make([]AssetMetrics, 0, len(t.Symbols))
	for i, sym := range t.Symbols {
		col := t.Columns[i]
		vol, err := AnnualizedVolatility(col, p.PeriodsPerYear)
		if err != nil {
			return nil, err
		}
		sharpe, err := SharpeRatio(col, p.RiskFreeRate, p.PeriodsPerYear)
		if err != nil {
			return nil, err
		}
		v, err := HistoricalVaR(col, p.Confidence)
		if err != nil {
			return nil, err
		}
		out = append(out, AssetMetrics{Symbol: sym, Volatility: vol, Sharpe: sharpe, VaR: v})
	}
	return out, nil
}

// Quantile returns the q-quantile (q in 0..1) of an ascending slice,
// interpolating linearly at position q·(n-1).
func Quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := q * float64(len(sorted)-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))
	if lower == upper || upper >= len(sorted) {
		return sorted[lower]
	}
	frac := idx - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*frac
}

// sampleStdDev is the n-1 standard deviation; exactly 0 for constant input.
func sampleStdDev(x []float64) float64 {
	if len(x) < 2 {
		return math.NaN()
	}
	if isConstant(x) {
		return 0
	}
	return stat.StdDev(x, nil)
}

func isConstant(x []float64) bool {
	for _, v := range x[1:] {
		if v != x[0] {
			return false
		}
	}
	return true
}

func dropNaN(x []float64) []float64 {
	out := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func pairwiseComplete(a, b []float64) (x, y []float64) {
	x = make([]float64, 0, len(a))
	y = make([]float64, 0, len(b))
	for i := range a {
		if math.IsNaN(a[i]) || math.IsNaN(b[i]) {
			continue
		}
		x = append(x, a[i])
		y = append(y, b[i])
	}
	return x, y
}

// sqrtVariance tolerates round-off just below zero.
func sqrtVariance(v float64) float64 {
	if v < 0 && v > -1e-14 {
		return 0
	}
	return math.Sqrt(v)
}
