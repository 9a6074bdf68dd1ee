package engine

import (
	"fmt"
	"math"
	"strings"
)

// DefaultPeriodsPerYear annualizes daily crypto returns (markets never close).
const DefaultPeriodsPerYear = 365

// Weights maps each asset to its portfolio fraction.
type Weights map[Symbol]float64

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	s := 0.0
	for _, v := range w {
		s += v
	}
	return s
}

// Vector orders the weights like symbols. It fails with ErrMissingWeight on
// the first symbol without a weight.
func (w Weights) Vector(symbols []Symbol) ([]float64, error) {
	out := make([]float64, len(symbols))
	for i, s := range symbols {
		v, ok := w[s]
		if !ok {
			return nil, fmt.Errorf("%w: no weight for %q", ErrMissingWeight, s)
		}
		out[i] = v
	}
	return out, nil
}

// ValidateSum checks that the weights add up to 1 within tol.
func (w Weights) ValidateSum(tol float64) error {
	if s := w.Sum(); math.Abs(s-1) > tol {
		return invalidInput("weights sum to %.8f, want 1", s)
	}
	return nil
}

func weightsFromVector(symbols []Symbol, v []float64) Weights {
	w := make(Weights, len(symbols))
	for i, s := range symbols {
		w[s] = v[i]
	}
	return w
}

// Bound is the allowed weight interval for one asset.
type Bound struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Bounds holds one Bound per asset, ordered like the table columns.
type Bounds []Bound

// DefaultBounds is the long-only [0,1] box.
func DefaultBounds(n int) Bounds {
	return LongOnlyBounds(n, 1)
}

// LongOnlyBounds caps every asset at maxWeight with no shorting.
func LongOnlyBounds(n int, maxWeight float64) Bounds {
	b := make(Bounds, n)
	for i := range b {
		b[i] = Bound{Lower: 0, Upper: maxWeight}
	}
	return b
}

// ShortAllowedBounds permits weights in [-maxWeight, maxWeight].
func ShortAllowedBounds(n int, maxWeight float64) Bounds {
	b := make(Bounds, n)
	for i := range b {
		b[i] = Bound{Lower: -maxWeight, Upper: maxWeight}
	}
	return b
}

// check verifies that the box intersects the budget hyperplane Σw = 1.
func (b Bounds) check(n int) error {
	if len(b) != n {
		return invalidParameter("%d bounds for %d assets", len(b), n)
	}
	lo, hi := 0.0, 0.0
	for i, bd := range b {
		if math.IsNaN(bd.Lower) || math.IsNaN(bd.Upper) || bd.Lower > bd.Upper {
			return invalidParameter("bound %d: lower %v > upper %v", i, bd.Lower, bd.Upper)
		}
		lo += bd.Lower
		hi += bd.Upper
	}
	if lo > 1+1e-12 || hi < 1-1e-12 {
		return invalidParameter("bounds cannot sum to 1 (lower sum %.4f, upper sum %.4f)", lo, hi)
	}
	return nil
}

func (b Bounds) split() (lower, upper []float64) {
	lower = make([]float64, len(b))
	upper = make([]float64, len(b))
	for i, bd := range b {
		lower[i] = bd.Lower
		upper[i] = bd.Upper
	}
	return lower, upper
}

// Objective names an optimization problem.
type Objective string

const (
	ObjectiveMinVariance  Objective = "min_variance"
	ObjectiveMaxSharpe    Objective = "max_sharpe"
	ObjectiveTargetReturn Objective = "target_return"
)

// ParseObjective maps a mode name such as "min-vol", "max-sharpe" or
// "target-return" (dashes or underscores) to an Objective.
func ParseObjective(s string) (Objective, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-") {
	case "min-vol", "min-variance":
		return ObjectiveMinVariance, nil
	case "max-sharpe":
		return ObjectiveMaxSharpe, nil
	case "target-return":
		return ObjectiveTargetReturn, nil
	}
	return "", invalidParameter("unknown optimization mode %q", s)
}

// OptimizationResult is the solved allocation with its annualized
// statistics. Sharpe is NaN when Volatility is zero.
type OptimizationResult struct {
	Objective      Objective `json:"objective"`
	Weights        Weights   `json:"weights"`
	ExpectedReturn float64   `json:"expected_return"`
	Volatility     float64   `json:"volatility"`
	Sharpe         float64   `json:"sharpe"`
}

// FrontierPoint is one solved target-return portfolio on the efficient frontier.
type FrontierPoint struct {
	TargetReturn float64 `json:"target_return"`
	Volatility   float64 `json:"volatility"`
}

// AssetMetrics is the per-asset risk summary.
type AssetMetrics struct {
	Symbol     Symbol  `json:"asset"`
	Volatility float64 `json:"vol_ann"`
	Sharpe     float64 `json:"sharpe"`
	VaR        float64 `json:"var"`
}
