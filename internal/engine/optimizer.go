package engine

import (
	"fmt"
	"io"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// defaultTolerance bounds the per-iteration weight change at convergence.
	defaultTolerance = 1e-10
	// defaultMaxIterations caps a single solve. Well-conditioned baskets
	// finish in a few hundred iterations; 20 assets correlated at 0.99 with
	// shorting allowed can need tens of thousands.
	defaultMaxIterations = 50000
	// DefaultFrontierPoints is the frontier resolution when none is given.
	DefaultFrontierPoints = 20
)

// Optimizer solves mean-variance allocation problems on a returns table.
// It holds configuration only; every call is an independent solve and the
// Optimizer is safe for concurrent use.
type Optimizer struct {
	log            logrus.FieldLogger
	periodsPerYear int
	settings       solverSettings
}

// OptimizerOption customizes an Optimizer.
type OptimizerOption func(*Optimizer)

// WithPeriodsPerYear sets the annualization factor (default 365).
func WithPeriodsPerYear(n int) OptimizerOption {
	return func(o *Optimizer) { o.periodsPerYear = n }
}

// WithTolerance sets the convergence tolerance on the weights.
func WithTolerance(tol float64) OptimizerOption {
	return func(o *Optimizer) { o.settings.tol = tol }
}

// WithMaxIterations caps the solver iterations per problem.
func WithMaxIterations(n int) OptimizerOption {
	return func(o *Optimizer) { o.settings.maxIter = n }
}

// NewOptimizer returns an Optimizer logging through log. A nil log discards
// output.
func NewOptimizer(log logrus.FieldLogger, opts ...OptimizerOption) *Optimizer {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	o := &Optimizer{
		log:            log.WithField("component", "optimizer"),
		periodsPerYear: DefaultPeriodsPerYear,
		settings:       solverSettings{tol: defaultTolerance, maxIter: defaultMaxIterations},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// inputs are the annualized statistics and bounds shared by every objective.
type inputs struct {
	symbols []Symbol
	mu      []float64
	sigma   *mat.SymDense
	lower   []float64
	upper   []float64
}

func (o *Optimizer) prepare(returns *Table, bounds Bounds) (*inputs, error) {
	if o.periodsPerYear <= 0 {
		return nil, invalidParameter("periods per year must be positive, got %d", o.periodsPerYear)
	}
	if o.settings.tol <= 0 || o.settings.maxIter <= 0 {
		return nil, invalidParameter("solver tolerance and iteration cap must be positive")
	}
	if err := returns.validate(); err != nil {
		return nil, err
	}
	n := len(returns.Symbols)
	if bounds == nil {
		bounds = DefaultBounds(n)
	}
	if err := bounds.check(n); err != nil {
		return nil, err
	}
	for i, b := range bounds {
		if math.IsInf(b.Lower, 0) || math.IsInf(b.Upper, 0) {
			return nil, invalidParameter("bound %d must be finite", i)
		}
	}

	mu, err := AnnualizedMeans(returns, o.periodsPerYear)
	if err != nil {
		return nil, err
	}
	sigma, err := AnnualizedCovariance(returns, o.periodsPerYear)
	if err != nil {
		return nil, err
	}
	if !allFinite(mu) || !symFinite(sigma) {
		return nil, invalidInput("returns need at least 2 overlapping observations per asset pair")
	}
	if fixed, minEig, repaired := nearestPSD(sigma); repaired {
		o.log.WithField("min_eigenvalue", minEig).
			Warn("covariance is not positive semidefinite, clipping negative eigenvalues")
		sigma = fixed
	}
	lower, upper := bounds.split()
	return &inputs{symbols: returns.Symbols, mu: mu, sigma: sigma, lower: lower, upper: upper}, nil
}

func (in *inputs) problem() *problem {
	return &problem{sigma: in.sigma, mu: in.mu, lower: in.lower, upper: in.upper}
}

func (in *inputs) result(obj Objective, w []float64, rf float64) OptimizationResult {
	ret := dotProduct(in.mu, w)
	vol := sqrtVariance(portfolioVariance(w, in.sigma))
	sharpe := math.NaN()
	if vol > 0 {
		sharpe = (ret - rf) / vol
	}
	return OptimizationResult{
		Objective:      obj,
		Weights:        weightsFromVector(in.symbols, w),
		ExpectedReturn: ret,
		Volatility:     vol,
		Sharpe:         sharpe,
	}
}

// MinVariance finds the allocation with the lowest annualized variance.
// The reported Sharpe subtracts riskFreeRate like every other objective.
func (o *Optimizer) MinVariance(returns *Table, bounds Bounds, riskFreeRate float64) (OptimizationResult, error) {
	in, err := o.prepare(returns, bounds)
	if err != nil {
		return OptimizationResult{}, err
	}
	w, iters, err := minimizeVariance(in.problem(), o.settings)
	if err != nil {
		return OptimizationResult{}, &OptimizationError{Objective: ObjectiveMinVariance, Message: err.Error()}
	}
	o.log.WithFields(logrus.Fields{"objective": ObjectiveMinVariance, "iterations": iters}).Debug("solved")
	return in.result(ObjectiveMinVariance, w, riskFreeRate), nil
}

// MaxSharpe finds the allocation with the highest (μᵀw − rf)/σ.
func (o *Optimizer) MaxSharpe(returns *Table, bounds Bounds, riskFreeRate float64) (OptimizationResult, error) {
	in, err := o.prepare(returns, bounds)
	if err != nil {
		return OptimizationResult{}, err
	}
	w, iters, err := maximizeSharpe(in.problem(), riskFreeRate, o.settings)
	if err != nil {
		return OptimizationResult{}, &OptimizationError{Objective: ObjectiveMaxSharpe, Message: err.Error()}
	}
	o.log.WithFields(logrus.Fields{"objective": ObjectiveMaxSharpe, "iterations": iters}).Debug("solved")
	return in.result(ObjectiveMaxSharpe, w, riskFreeRate), nil
}

// TargetReturn finds the lowest-variance allocation whose annualized
// expected return equals target. A target out of reach under the bounds is
// an OptimizationError.
func (o *Optimizer) TargetReturn(returns *Table, target float64, bounds Bounds, riskFreeRate float64) (OptimizationResult, error) {
	if math.IsNaN(target) || math.IsInf(target, 0) {
		return OptimizationResult{}, invalidParameter("target return must be finite, got %v", target)
	}
	in, err := o.prepare(returns, bounds)
	if err != nil {
		return OptimizationResult{}, err
	}
	return o.solveTarget(in, target, riskFreeRate)
}

func (o *Optimizer) solveTarget(in *inputs, target, rf float64) (OptimizationResult, error) {
	p := in.problem()
	p.hasTarget = true
	p.target = target
	w, iters, err := minimizeVariance(p, o.settings)
	if err != nil {
		return OptimizationResult{}, &OptimizationError{
			Objective: ObjectiveTargetReturn,
			Message:   fmt.Sprintf("target return %.6f: %v", target, err),
		}
	}
	o.log.WithFields(logrus.Fields{"objective": ObjectiveTargetReturn, "target": target, "iterations": iters}).Debug("solved")
	return in.result(ObjectiveTargetReturn, w, rf), nil
}

// Optimize runs the solver for obj. target is read only by
// ObjectiveTargetReturn.
func (o *Optimizer) Optimize(returns *Table, obj Objective, target float64, bounds Bounds, riskFreeRate float64) (OptimizationResult, error) {
	switch obj {
	case ObjectiveMinVariance:
		return o.MinVariance(returns, bounds, riskFreeRate)
	case ObjectiveMaxSharpe:
		return o.MaxSharpe(returns, bounds, riskFreeRate)
	case ObjectiveTargetReturn:
		return o.TargetReturn(returns, target, bounds, riskFreeRate)
	}
	return OptimizationResult{}, invalidParameter("unknown objective %q", obj)
}

// ReturnRange returns the lowest and highest annualized expected return any
// allocation within bounds can reach.
func (o *Optimizer) ReturnRange(returns *Table, bounds Bounds) (lo, hi float64, err error) {
	in, err := o.prepare(returns, bounds)
	if err != nil {
		return 0, 0, err
	}
	return o.returnRange(in)
}

// solveExtremeReturn is the LP behind returnRange. Once Bounds.check has
// passed the LP is feasible and bounded, so a failure here means a numerical
// breakdown inside the simplex solver.
var solveExtremeReturn = extremeReturn

func (o *Optimizer) returnRange(in *inputs) (float64, float64, error) {
	lo, err := solveExtremeReturn(in.mu, in.lower, in.upper, false)
	if err != nil {
		return 0, 0, &OptimizationError{Objective: "min_return", Message: err.Error()}
	}
	hi, err := solveExtremeReturn(in.mu, in.lower, in.upper, true)
	if err != nil {
		return 0, 0, &OptimizationError{Objective: "max_return", Message: err.Error()}
	}
	return lo, hi, nil
}

// EfficientFrontier solves TargetReturn at numPoints evenly spaced targets
// across the reachable return range. Targets that fail to solve are skipped,
// so the result may hold fewer than numPoints rows, or none.
func (o *Optimizer) EfficientFrontier(returns *Table, numPoints int, bounds Bounds) ([]FrontierPoint, error) {
	if numPoints < 1 {
		return nil, invalidParameter("frontier needs at least 1 point, got %d", numPoints)
	}
	in, err := o.prepare(returns, bounds)
	if err != nil {
		return nil, err
	}

	lo, hi, err := o.returnRange(in)
	if err != nil {
		// Rarely reached; see solveExtremeReturn.
		lo, hi = floats.Min(in.mu), floats.Max(in.mu)
		o.log.WithError(err).WithFields(logrus.Fields{"min": lo, "max": hi}).
			Warn("return range LP failed, falling back to per-asset mean range")
	}
	if lo > hi {
		lo, hi = hi, lo
	}

	targets := make([]float64, numPoints)
	if numPoints == 1 {
		targets[0] = lo
	} else {
		floats.Span(targets, lo, hi)
	}

	points := make([]FrontierPoint, 0, numPoints)
	for _, target := range targets {
		res, err := o.solveTarget(in, target, 0)
		if err != nil {
			o.log.WithError(err).WithField("target", target).Debug("frontier point skipped")
			continue
		}
		points = append(points, FrontierPoint{TargetReturn: res.ExpectedReturn, Volatility: res.Volatility})
	}
	o.log.WithFields(logrus.Fields{"requested": numPoints, "solved": len(points)}).Info("efficient frontier computed")
	return points, nil
}
