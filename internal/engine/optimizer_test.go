package engine

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// syntheticReturns builds a reproducible table of n assets with increasing
// drift and volatility.
func syntheticReturns(t *testing.T, n, rows int) *Table {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	symbols := make([]Symbol, n)
	cols := make([][]float64, n)
	for i := range cols {
		symbols[i] = Symbol(string(rune('A' + i)))
		col := make([]float64, rows)
		for r := range col {
			col[r] = 0.001*float64(i+1) + 0.01*float64(i+1)*rng.NormFloat64()
		}
		cols[i] = col
	}
	tbl, err := NewTable(nil, symbols, cols)
	require.NoError(t, err)
	return tbl
}

func assertFeasible(t *testing.T, res OptimizationResult, symbols []Symbol, bounds Bounds) {
	t.Helper()
	require.Len(t, res.Weights, len(symbols))
	assert.InDelta(t, 1.0, res.Weights.Sum(), 1e-6, "weights must sum to 1")
	for i, s := range symbols {
		w := res.Weights[s]
		lo, hi := 0.0, 1.0
		if bounds != nil {
			lo, hi = bounds[i].Lower, bounds[i].Upper
		}
		assert.GreaterOrEqual(t, w, lo-1e-9, "%s below lower bound", s)
		assert.LessOrEqual(t, w, hi+1e-9, "%s above upper bound", s)
	}
}

// --- MinVariance ---

func TestMinVariance_Sample(t *testing.T) {
	tbl := sampleReturns(t)
	opt := NewOptimizer(nil)

	res, err := opt.MinVariance(tbl, nil, 0)
	require.NoError(t, err)
	assertFeasible(t, res, tbl.Symbols, nil)
	assert.Equal(t, ObjectiveMinVariance, res.Objective)

	mu, err := AnnualizedMeans(tbl, 365)
	require.NoError(t, err)
	want := res.Weights["A"]*mu[0] + res.Weights["B"]*mu[1]
	assert.False(t, math.IsNaN(res.ExpectedReturn) || math.IsInf(res.ExpectedReturn, 0))
	assert.InDelta(t, want, res.ExpectedReturn, 1e-12)

	// Closed form for two assets: w_A = (σB² − σAB) / (σA² + σB² − 2σAB).
	cov, err := CovarianceMatrix(tbl)
	require.NoError(t, err)
	sA, sB, sAB := cov.At("A", "A"), cov.At("B", "B"), cov.At("A", "B")
	assert.InDelta(t, (sB-sAB)/(sA+sB-2*sAB), res.Weights["A"], 1e-6)
}

func TestMinVariance_DeterministicAssetTakesAll(t *testing.T) {
	tbl, err := NewTable(nil, []Symbol{"A", "B"}, [][]float64{
		{0.01, 0.01, 0.01, 0.01, 0.01},
		{0.05, -0.04, 0.03, -0.02, 0.06},
	})
	require.NoError(t, err)

	res, err := NewOptimizer(nil).MinVariance(tbl, nil, 0)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Weights["A"], 1e-6)
	assert.InDelta(t, 0.0, res.Weights["B"], 1e-6)
	assert.InDelta(t, 0.0, res.Volatility, 1e-6)
}

func TestMinVariance_RespectsCaps(t *testing.T) {
	tbl := syntheticReturns(t, 5, 120)
	bounds := LongOnlyBounds(5, 0.3)
	res, err := NewOptimizer(nil).MinVariance(tbl, bounds, 0.02)
	require.NoError(t, err)
	assertFeasible(t, res, tbl.Symbols, bounds)
	// The lowest-volatility asset wants more than 30% and is capped.
	assert.InDelta(t, 0.3, res.Weights["A"], 1e-6)
}

func TestMinVariance_ShortSelling(t *testing.T) {
	tbl := syntheticReturns(t, 4, 90)
	bounds := ShortAllowedBounds(4, 0.8)
	res, err := NewOptimizer(nil).MinVariance(tbl, bounds, 0)
	require.NoError(t, err)
	assertFeasible(t, res, tbl.Symbols, bounds)

	long, err := NewOptimizer(nil).MinVariance(tbl, LongOnlyBounds(4, 0.8), 0)
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Volatility, long.Volatility+1e-9, "a wider box cannot raise the minimum")
}

func TestMinVariance_NotWorseThanAnyGridPoint(t *testing.T) {
	tbl := sampleReturns(t)
	res, err := NewOptimizer(nil).MinVariance(tbl, nil, 0)
	require.NoError(t, err)
	for k := 0; k <= 100; k++ {
		a := float64(k) / 100
		vol, err := PortfolioVolatility(tbl, Weights{"A": a, "B": 1 - a}, 365)
		require.NoError(t, err)
		if vol < res.Volatility-1e-9 {
			t.Fatalf("grid weight %v has vol %v < optimum %v", a, vol, res.Volatility)
		}
	}
}

// --- MaxSharpe ---

func TestMaxSharpe_Sample(t *testing.T) {
	tbl := sampleReturns(t)
	res, err := NewOptimizer(nil).MaxSharpe(tbl, nil, 0.02)
	require.NoError(t, err)
	assertFeasible(t, res, tbl.Symbols, nil)
	assert.Equal(t, ObjectiveMaxSharpe, res.Objective)
	assert.InDelta(t, (res.ExpectedReturn-0.02)/res.Volatility, res.Sharpe, 1e-12)

	best := math.Inf(-1)
	for k := 0; k <= 1000; k++ {
		a := float64(k) / 1000
		w := Weights{"A": a, "B": 1 - a}
		vol, err := PortfolioVolatility(tbl, w, 365)
		require.NoError(t, err)
		ret, err := PortfolioReturn(tbl, w, 365)
		require.NoError(t, err)
		best = math.Max(best, (ret-0.02)/vol)
	}
	assert.GreaterOrEqual(t, res.Sharpe, best-1e-6)
}

func TestMaxSharpe_RespectsBounds(t *testing.T) {
	tbl := syntheticReturns(t, 4, 200)
	bounds := LongOnlyBounds(4, 0.4)
	res, err := NewOptimizer(nil).MaxSharpe(tbl, bounds, 0.02)
	require.NoError(t, err)
	assertFeasible(t, res, tbl.Symbols, bounds)

	minVar, err := NewOptimizer(nil).MinVariance(tbl, bounds, 0.02)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Sharpe, minVar.Sharpe-1e-9)
}

func TestMaxSharpe_AllConstantFails(t *testing.T) {
	tbl, err := NewTable(nil, []Symbol{"A", "B"}, [][]float64{{0.01, 0.01, 0.01}, {0.02, 0.02, 0.02}})
	require.NoError(t, err)
	_, err = NewOptimizer(nil).MaxSharpe(tbl, nil, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOptimizationFailed)
}

// --- Round trip ---

func TestPortfolioVolatility_RoundTrip(t *testing.T) {
	opt := NewOptimizer(nil)
	tables := map[string]*Table{
		"sample":    sampleReturns(t),
		"synthetic": syntheticReturns(t, 5, 150),
	}
	for name, tbl := range tables {
		t.Run(name, func(t *testing.T) {
			for _, solve := range []func() (OptimizationResult, error){
				func() (OptimizationResult, error) { return opt.MinVariance(tbl, nil, 0.02) },
				func() (OptimizationResult, error) { return opt.MaxSharpe(tbl, nil, 0.02) },
			} {
				res, err := solve()
				require.NoError(t, err)
				vol, err := PortfolioVolatility(tbl, res.Weights, 365)
				require.NoError(t, err)
				assert.InDelta(t, res.Volatility, vol, 1e-6, "%s", res.Objective)
			}
		})
	}
}

// --- TargetReturn ---

func TestTargetReturn_HitsTarget(t *testing.T) {
	tbl := syntheticReturns(t, 4, 120)
	opt := NewOptimizer(nil)
	lo, hi, err := opt.ReturnRange(tbl, nil)
	require.NoError(t, err)
	require.Less(t, lo, hi)

	for _, f := range []float64{0, 0.25, 0.5, 0.9, 1} {
		target := lo + f*(hi-lo)
		res, err := opt.TargetReturn(tbl, target, nil, 0.02)
		require.NoError(t, err, "target %v", target)
		assertFeasible(t, res, tbl.Symbols, nil)
		assert.InDelta(t, target, res.ExpectedReturn, 1e-6)
	}
}

func TestTargetReturn_Infeasible(t *testing.T) {
	tbl := sampleReturns(t)
	_, err := NewOptimizer(nil).TargetReturn(tbl, 100, nil, 0.02)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOptimizationFailed))

	var oe *OptimizationError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, ObjectiveTargetReturn, oe.Objective)
	assert.Contains(t, err.Error(), "target return")
}

func TestTargetReturn_NonFiniteTarget(t *testing.T) {
	_, err := NewOptimizer(nil).TargetReturn(sampleReturns(t), math.NaN(), nil, 0)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

// --- Validation ---

func TestOptimizer_InvalidBounds(t *testing.T) {
	tbl := sampleReturns(t)
	tests := []struct {
		name   string
		bounds Bounds
	}{
		{"wrong length", Bounds{{0, 1}}},
		{"lower above upper", Bounds{{0.6, 0.4}, {0, 1}}},
		{"caps too tight", LongOnlyBounds(2, 0.4)},
		{"floors too high", Bounds{{0.6, 1}, {0.6, 1}}},
		{"infinite", Bounds{{0, math.Inf(1)}, {0, 1}}},
	}
	opt := NewOptimizer(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := opt.MinVariance(tbl, tt.bounds, 0)
			assert.ErrorIs(t, err, ErrInvalidParameter)
			_, err = opt.EfficientFrontier(tbl, 5, tt.bounds)
			assert.ErrorIs(t, err, ErrInvalidParameter)
		})
	}
}

func TestOptimizer_InvalidInput(t *testing.T) {
	opt := NewOptimizer(nil)
	_, err := opt.MinVariance(nil, nil, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	one, err := NewTable(nil, []Symbol{"A", "B"}, [][]float64{{0.01}, {0.02}})
	require.NoError(t, err)
	_, err = opt.MaxSharpe(one, nil, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewOptimizer(nil, WithPeriodsPerYear(0)).MinVariance(sampleReturns(t), nil, 0)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestOptimizer_IterationCapSurfacesFailure(t *testing.T) {
	tbl := syntheticReturns(t, 4, 60)
	_, err := NewOptimizer(nil, WithMaxIterations(1), WithTolerance(1e-300)).MinVariance(tbl, nil, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOptimizationFailed)
	assert.Contains(t, err.Error(), "iteration limit")
}

// --- EfficientFrontier ---

func TestEfficientFrontier_Sample(t *testing.T) {
	points, err := NewOptimizer(nil).EfficientFrontier(sampleReturns(t), 5, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(points), 5)
	for _, p := range points {
		assert.GreaterOrEqual(t, p.Volatility, 0.0)
		assert.False(t, math.IsNaN(p.TargetReturn))
	}
	// Long-only over two assets spans exactly the two annualized means.
	require.Len(t, points, 5)
	assert.InDelta(t, 0.803, points[0].TargetReturn, 1e-9)
	assert.InDelta(t, 3.65, points[4].TargetReturn, 1e-9)
	assert.InDelta(t, 0.05301414905475707, points[0].Volatility, 1e-9)
	assert.InDelta(t, 0.30207614933986426, points[4].Volatility, 1e-9)
}

func TestEfficientFrontier_Ordered(t *testing.T) {
	points, err := NewOptimizer(nil).EfficientFrontier(syntheticReturns(t, 4, 150), DefaultFrontierPoints, LongOnlyBounds(4, 0.5))
	require.NoError(t, err)
	require.NotEmpty(t, points)
	for i := 1; i < len(points); i++ {
		assert.Greater(t, points[i].TargetReturn, points[i-1].TargetReturn)
	}
}

func TestEfficientFrontier_SinglePoint(t *testing.T) {
	points, err := NewOptimizer(nil).EfficientFrontier(sampleReturns(t), 1, nil)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.InDelta(t, 0.803, points[0].TargetReturn, 1e-9)
}

func TestEfficientFrontier_InvalidPoints(t *testing.T) {
	_, err := NewOptimizer(nil).EfficientFrontier(sampleReturns(t), 0, nil)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestEfficientFrontier_SkipsFailedTargets(t *testing.T) {
	// One iteration cannot solve interior targets; the frontier drops them
	// instead of failing.
	opt := NewOptimizer(nil, WithMaxIterations(1), WithTolerance(1e-300))
	points, err := opt.EfficientFrontier(syntheticReturns(t, 3, 60), 5, nil)
	require.NoError(t, err)
	assert.Less(t, len(points), 5)
}

// --- Concurrency ---

func TestOptimizer_ConcurrentCalls(t *testing.T) {
	tbl := syntheticReturns(t, 4, 100)
	opt := NewOptimizer(nil)
	want, err := opt.MinVariance(tbl, nil, 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := opt.MinVariance(tbl, nil, 0)
			if err != nil {
				errs <- err
				return
			}
			if math.Abs(got.Volatility-want.Volatility) > 1e-12 {
				errs <- errors.New("concurrent solve diverged")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestParseObjective(t *testing.T) {
	tests := []struct {
		in   string
		want Objective
	}{
		{"min-vol", ObjectiveMinVariance},
		{"min_variance", ObjectiveMinVariance},
		{"Max-Sharpe", ObjectiveMaxSharpe},
		{" target_return ", ObjectiveTargetReturn},
	}
	for _, tt := range tests {
		got, err := ParseObjective(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
	_, err := ParseObjective("max-return")
	assert.True(t, errors.Is(err, ErrInvalidParameter))
}

func TestOptimize_Dispatch(t *testing.T) {
	tbl := syntheticReturns(t, 3, 200)
	opt := NewOptimizer(nil)

	minVar, err := opt.Optimize(tbl, ObjectiveMinVariance, 0, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, ObjectiveMinVariance, minVar.Objective)

	sharpe, err := opt.Optimize(tbl, ObjectiveMaxSharpe, 0, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, ObjectiveMaxSharpe, sharpe.Objective)

	lo, hi, err := opt.ReturnRange(tbl, nil)
	require.NoError(t, err)
	target := (lo + hi) / 2
	res, err := opt.Optimize(tbl, ObjectiveTargetReturn, target, nil, 0)
	require.NoError(t, err)
	assert.InDelta(t, target, res.ExpectedReturn, 1e-6)

	_, err = opt.Optimize(tbl, Objective("nope"), 0, nil, 0)
	assert.True(t, errors.Is(err, ErrInvalidParameter))
}

// --- Large correlated baskets ---

// correlatedReturns builds n assets driven by one common factor with
// pairwise correlation near corr. Each column is re-centred on its own
// positive drift so every asset beats a small risk-free rate.
func correlatedReturns(t *testing.T, n, rows int, corr float64, seed int64) *Table {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	factor := make([]float64, rows)
	for r := range factor {
		factor[r] = rng.NormFloat64()
	}
	symbols := make([]Symbol, n)
	cols := make([][]float64, n)
	for i := range cols {
		symbols[i] = Symbol(fmt.Sprintf("C%02d", i))
		z := make([]float64, rows)
		mean := 0.0
		for r := range z {
			z[r] = math.Sqrt(corr)*factor[r] + math.Sqrt(1-corr)*rng.NormFloat64()
			mean += z[r]
		}
		mean /= float64(rows)
		vol := 0.01 + 0.001*float64(i)
		drift := 0.0005 + 0.0001*float64(i)
		for r := range z {
			z[r] = vol*(z[r]-mean) + drift
		}
		cols[i] = z
	}
	tbl, err := NewTable(nil, symbols, cols)
	require.NoError(t, err)
	return tbl
}

func requireWithinBounds(t *testing.T, res OptimizationResult, symbols []Symbol, bounds Bounds) {
	t.Helper()
	require.Len(t, res.Weights, len(symbols))
	assert.InDelta(t, 1.0, res.Weights.Sum(), 1e-6, "weights must sum to 1")
	for i, s := range symbols {
		assert.GreaterOrEqual(t, res.Weights[s], bounds[i].Lower-1e-6, "%s below lower bound", s)
		assert.LessOrEqual(t, res.Weights[s], bounds[i].Upper+1e-6, "%s above upper bound", s)
	}
}

func TestOptimizer_TwentyCorrelatedAssets(t *testing.T) {
	const n, rows, rf = 20, 60, 0.02
	tests := []struct {
		name   string
		corr   float64
		bounds Bounds
		seeds  []int64
	}{
		{"long only corr 0.9", 0.9, DefaultBounds(n), []int64{1, 2}},
		{"capped corr 0.99", 0.99, LongOnlyBounds(n, 0.2), []int64{1, 2, 3}},
		{"short corr 0.9", 0.9, ShortAllowedBounds(n, 1), []int64{1, 2}},
		{"short corr 0.99", 0.99, ShortAllowedBounds(n, 1), []int64{1, 2, 3, 4, 5}},
	}
	for _, tt := range tests {
		for _, seed := range tt.seeds {
			t.Run(fmt.Sprintf("%s seed %d", tt.name, seed), func(t *testing.T) {
				tbl := correlatedReturns(t, n, rows, tt.corr, seed)
				opt := NewOptimizer(nil)

				uniform := make(Weights, n)
				for _, s := range tbl.Symbols {
					uniform[s] = 1.0 / n
				}
				uniVol, err := PortfolioVolatility(tbl, uniform, DefaultPeriodsPerYear)
				require.NoError(t, err)
				uniRet, err := PortfolioReturn(tbl, uniform, DefaultPeriodsPerYear)
				require.NoError(t, err)

				minVar, err := opt.MinVariance(tbl, tt.bounds, rf)
				require.NoError(t, err)
				requireWithinBounds(t, minVar, tbl.Symbols, tt.bounds)
				assert.LessOrEqual(t, minVar.Volatility, uniVol+1e-9)

				maxSharpe, err := opt.MaxSharpe(tbl, tt.bounds, rf)
				require.NoError(t, err)
				requireWithinBounds(t, maxSharpe, tbl.Symbols, tt.bounds)
				assert.GreaterOrEqual(t, maxSharpe.Sharpe, (uniRet-rf)/uniVol-1e-6)
				assert.GreaterOrEqual(t, maxSharpe.Sharpe, minVar.Sharpe-1e-6)

				lo, hi, err := opt.ReturnRange(tbl, tt.bounds)
				require.NoError(t, err)
				for _, f := range []float64{0.5, 0.75} {
					target := lo + f*(hi-lo)
					res, err := opt.TargetReturn(tbl, target, tt.bounds, rf)
					require.NoError(t, err, "target at %.0f%% of the range", f*100)
					requireWithinBounds(t, res, tbl.Symbols, tt.bounds)
					assert.InDelta(t, target, res.ExpectedReturn, 1e-6)
					assert.GreaterOrEqual(t, res.Volatility, minVar.Volatility-1e-9)
				}

				for _, res := range []OptimizationResult{minVar, maxSharpe} {
					vol, err := PortfolioVolatility(tbl, res.Weights, DefaultPeriodsPerYear)
					require.NoError(t, err)
					assert.InDelta(t, res.Volatility, vol, 1e-9)
				}
			})
		}
	}
}

// --- Covariance repair ---

func TestNearestPSD(t *testing.T) {
	indefinite := mat.NewSymDense(3, []float64{
		0.8, 1, -1,
		1, 0.8, 1,
		-1, 1, 0.8,
	})
	fixed, minEig, repaired := nearestPSD(indefinite)
	require.True(t, repaired)
	assert.Less(t, minEig, 0.0)

	var es mat.EigenSym
	require.True(t, es.Factorize(fixed, false))
	for _, v := range es.Values(nil) {
		assert.GreaterOrEqual(t, v, -1e-12)
	}
	assert.InDelta(t, fixed.At(0, 1), fixed.At(1, 0), 0)

	psd := mat.NewSymDense(2, []float64{1, 0.5, 0.5, 4})
	same, _, repaired := nearestPSD(psd)
	assert.False(t, repaired)
	assert.Same(t, psd, same)
}

func TestMinVariance_RaggedIndefiniteCovariance(t *testing.T) {
	// Each pair overlaps on a different block of rows: A~B and B~C move
	// together while A~C move opposite, which no PSD matrix allows.
	nan := math.NaN()
	tbl, err := NewTable(nil, []Symbol{"A", "B", "C"}, [][]float64{
		{0.01, 0.02, 0.03, nan, nan, nan, 0.01, 0.02, 0.03},
		{0.01, 0.02, 0.03, 0.01, 0.02, 0.03, nan, nan, nan},
		{nan, nan, nan, 0.01, 0.02, 0.03, 0.03, 0.02, 0.01},
	})
	require.NoError(t, err)

	log, hook := logtest.NewNullLogger()
	res, err := NewOptimizer(log).MinVariance(tbl, nil, 0)
	require.NoError(t, err)
	assertFeasible(t, res, tbl.Symbols, nil)
	assert.False(t, math.IsNaN(res.Volatility), "repaired covariance keeps the variance non-negative")
	assert.GreaterOrEqual(t, res.Volatility, 0.0)

	warned := false
	for _, e := range hook.AllEntries() {
		if e.Message == "covariance is not positive semidefinite, clipping negative eigenvalues" {
			warned = true
		}
	}
	assert.True(t, warned)
}

// --- Solver helpers ---

func TestBBStep(t *testing.T) {
	// Quadratic with curvature 4 along s: y = 4s, so the step is 1/4.
	a, ok := bbStep([]float64{1, 1}, []float64{0, 0}, []float64{4, 4}, []float64{0, 0})
	require.True(t, ok)
	assert.InDelta(t, 0.25, a, 1e-15)

	_, ok = bbStep([]float64{1, 0}, []float64{0, 0}, []float64{-1, 0}, []float64{0, 0})
	assert.False(t, ok, "negative curvature")
	_, ok = bbStep([]float64{1, 1}, []float64{1, 1}, []float64{2, 2}, []float64{0, 0})
	assert.False(t, ok, "no movement")
}

func TestWeights_ValidateSum(t *testing.T) {
	assert.NoError(t, Weights{"A": 0.6, "B": 0.4}.ValidateSum(1e-9))
	assert.NoError(t, Weights{"A": 0.6, "B": 0.3995}.ValidateSum(1e-3))

	err := Weights{"A": 0.5, "B": 0.3}.ValidateSum(1e-3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "0.80000000")
}

// --- Return range fallback ---

func TestEfficientFrontier_FallsBackToMeanRange(t *testing.T) {
	orig := solveExtremeReturn
	t.Cleanup(func() { solveExtremeReturn = orig })
	solveExtremeReturn = func(mu, lower, upper []float64, maximize bool) (float64, error) {
		return 0, errors.New("simplex breakdown")
	}

	tbl := syntheticReturns(t, 3, 120)
	log, hook := logtest.NewNullLogger()
	opt := NewOptimizer(log)

	_, _, err := opt.ReturnRange(tbl, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOptimizationFailed)

	points, err := opt.EfficientFrontier(tbl, 6, nil)
	require.NoError(t, err)
	require.NotEmpty(t, points)

	mu, err := AnnualizedMeans(tbl, DefaultPeriodsPerYear)
	require.NoError(t, err)
	lo, hi := floatsMin(mu), floatsMax(mu)
	for _, p := range points {
		assert.GreaterOrEqual(t, p.TargetReturn, lo-1e-6)
		assert.LessOrEqual(t, p.TargetReturn, hi+1e-6)
	}
	assert.Greater(t, points[len(points)-1].TargetReturn, points[0].TargetReturn)

	warned := false
	for _, e := range hook.AllEntries() {
		if e.Message == "return range LP failed, falling back to per-asset mean range" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func floatsMin(x []float64) float64 {
	m := math.Inf(1)
	for _, v := range x {
		m = math.Min(m, v)
	}
	return m
}

func floatsMax(x []float64) float64 {
	m := math.Inf(-1)
	for _, v := range x {
		m = math.Max(m, v)
	}
	return m
}
