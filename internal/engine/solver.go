package engine

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// problem is one constrained allocation problem over n assets:
// l ≤ w ≤ u, Σw = 1 and, when hasTarget, μᵀw = target.
type problem struct {
	sigma     *mat.SymDense
	mu        []float64
	lower     []float64
	upper     []float64
	hasTarget bool
	target    float64
}

// project maps v onto the feasible set of the problem.
func (p *problem) project(v []float64) ([]float64, bool) {
	if p.hasTarget {
		return projectBoxSumTarget(v, p.lower, p.upper, p.mu, p.target)
	}
	return projectBoxSum(v, p.lower, p.upper, 1)
}

type solverSettings struct {
	tol     float64
	maxIter int
}

// stagnationWindow is how many iterations without measurable objective
// progress count as convergence.
const stagnationWindow = 100

// minimizeVariance solves min wᵀΣw over the feasible set by accelerated
// projected gradient (FISTA) with function-value restarts. The gradient 2Σw
// is Lipschitz with constant 2·λ_max(Σ), which fixes the step.
func minimizeVariance(p *problem, s solverSettings) ([]float64, int, error) {
	x, ok := p.project(uniform(len(p.mu)))
	if !ok {
		return nil, 0, fmt.Errorf("constraints are infeasible")
	}

	lipschitz := 2 * maxEigenvalue(p.sigma)
	if lipschitz <= 0 || math.IsNaN(lipschitz) {
		// Zero covariance: every feasible point has zero variance.
		return x, 0, nil
	}
	step := 1 / lipschitz

	n := len(x)
	y := append([]float64(nil), x...)
	fx := portfolioVariance(x, p.sigma)
	tk := 1.0
	best, bestIter := fx, 0
	trial := make([]float64, n)

	for iter := 1; iter <= s.maxIter; iter++ {
		g := symMulVec(p.sigma, y)
		for i := range trial {
			trial[i] = y[i] - step*2*g[i]
		}
		xNew, ok := p.project(trial)
		if !ok {
			return nil, iter, fmt.Errorf("constraints are infeasible")
		}
		fNew := portfolioVariance(xNew, p.sigma)

		// Momentum overshot: restart from the last iterate.
		if fNew > fx && tk > 1 {
			copy(y, x)
			tk = 1
			continue
		}

		diff := maxAbsDiff(xNew, x)
		tNew := (1 + math.Sqrt(1+4*tk*tk)) / 2
		beta := (tk - 1) / tNew
		for i := range y {
			y[i] = xNew[i] + beta*(xNew[i]-x[i])
		}
		x, fx, tk = xNew, fNew, tNew

		if diff < s.tol {
			return x, iter, nil
		}
		if fx < best-1e-15*(1+math.Abs(best)) {
			best, bestIter = fx, iter
		} else if iter-bestIter >= stagnationWindow {
			return x, iter, nil
		}
	}
	return nil, s.maxIter, fmt.Errorf("iteration limit reached (%d)", s.maxIter)
}

// negSharpe is the max-Sharpe objective in minimization form. Zero
// volatility is treated as the worst possible value.
func negSharpe(w []float64, p *problem, rf float64) float64 {
	vol := math.Sqrt(portfolioVariance(w, p.sigma))
	if vol == 0 || math.IsNaN(vol) {
		return math.Inf(1)
	}
	return -(dotProduct(p.mu, w) - rf) / vol
}

func negSharpeGrad(w []float64, p *problem, rf float64) []float64 {
	sw := symMulVec(p.sigma, w)
	q := dotProduct(w, sw)
	vol := math.Sqrt(q)
	excess := dotProduct(p.mu, w) - rf
	g := make([]float64, len(w))
	for i := range g {
		g[i] = -p.mu[i]/vol + excess*sw[i]/(q*vol)
	}
	return g
}

// maximizeSharpe minimizes the negative Sharpe ratio by projected gradient
// with Armijo backtracking. Each trial step starts from the Barzilai–Borwein
// estimate of the local curvature, which keeps highly correlated baskets
// from crawling. The start is the uniform allocation, or the best feasible
// vertex when the uniform allocation carries no risk.
func maximizeSharpe(p *problem, rf float64, s solverSettings) ([]float64, int, error) {
	n := len(p.mu)
	x, ok := p.project(uniform(n))
	if !ok {
		return nil, 0, fmt.Errorf("constraints are infeasible")
	}
	fx := negSharpe(x, p, rf)
	if math.IsInf(fx, 1) {
		for i := 0; i < n; i++ {
			e := make([]float64, n)
			e[i] = 1
			if c, ok := p.project(e); ok {
				if fc := negSharpe(c, p, rf); fc < fx {
					x, fx = c, fc
				}
			}
		}
		if math.IsInf(fx, 1) {
			return nil, 0, fmt.Errorf("every candidate allocation has zero volatility")
		}
	}

	alpha := 1.0
	best, bestIter := fx, 0
	trial := make([]float64, n)
	var xPrev, gPrev []float64

	for iter := 1; iter <= s.maxIter; iter++ {
		g := negSharpeGrad(x, p, rf)
		if xPrev != nil {
			if a, ok := bbStep(x, xPrev, g, gPrev); ok {
				alpha = a
			} else {
				alpha = math.Min(alpha*2, maxStep)
			}
		}

		var (
			xNew     []float64
			fNew     float64
			accepted bool
		)
		for bt := 0; bt < 60; bt++ {
			for i := range trial {
				trial[i] = x[i] - alpha*g[i]
			}
			cand, ok := p.project(trial)
			if !ok {
				return nil, iter, fmt.Errorf("constraints are infeasible")
			}
			fc := negSharpe(cand, p, rf)
			// Sufficient decrease for a projected step.
			lin, sq := 0.0, 0.0
			for i := range cand {
				d := cand[i] - x[i]
				lin += g[i] * d
				sq += d * d
			}
			if fc <= fx+lin+sq/(2*alpha) {
				xNew, fNew, accepted = cand, fc, true
				break
			}
			alpha /= 2
		}
		if !accepted {
			// No step makes progress: x is stationary to working precision.
			return x, iter, nil
		}

		diff := maxAbsDiff(xNew, x)
		xPrev, gPrev = x, g
		x, fx = xNew, fNew

		if diff < s.tol {
			return x, iter, nil
		}
		if fx < best-1e-15*(1+math.Abs(best)) {
			best, bestIter = fx, iter
		} else if iter-bestIter >= stagnationWindow {
			return x, iter, nil
		}
	}
	return nil, s.maxIter, fmt.Errorf("iteration limit reached (%d)", s.maxIter)
}

const (
	minStep = 1e-12
	maxStep = 1e6
)

// bbStep is the Barzilai–Borwein step sᵀs / sᵀy for s = x − xPrev and
// y = g − gPrev, clamped to [minStep, maxStep]. ok is false when the
// curvature along s is not positive.
func bbStep(x, xPrev, g, gPrev []float64) (float64, bool) {
	ss, sy := 0.0, 0.0
	for i := range x {
		d := x[i] - xPrev[i]
		ss += d * d
		sy += d * (g[i] - gPrev[i])
	}
	if ss == 0 || !(sy > 0) {
		return 0, false
	}
	return math.Min(math.Max(ss/sy, minStep), maxStep), true
}
