package engine

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

const simplexTol = 1e-10

// extremeReturn solves the linear program max (or min) μᵀw subject to
// Σw = 1 and l ≤ w ≤ u. It is put in standard form with x = w − l ≥ 0 and
// one slack per asset for the upper bound:
//
//	Σx = 1 − Σl,  x_i + s_i = u_i − l_i,  x, s ≥ 0.
func extremeReturn(mu, lower, upper []float64, maximize bool) (float64, error) {
	n := len(mu)
	rows, cols := n+1, 2*n

	a := mat.NewDense(rows, cols, nil)
	b := make([]float64, rows)
	c := make([]float64, cols)

	budget := 1.0
	for i := 0; i < n; i++ {
		budget -= lower[i]
		a.Set(0, i, 1)
		a.Set(i+1, i, 1)
		a.Set(i+1, n+i, 1)
		b[i+1] = upper[i] - lower[i]
		if maximize {
			c[i] = -mu[i]
		} else {
			c[i] = mu[i]
		}
	}
	b[0] = budget

	_, x, err := lp.Simplex(c, a, b, simplexTol, nil)
	if err != nil {
		return 0, err
	}
	ret := 0.0
	for i := 0; i < n; i++ {
		ret += mu[i] * (x[i] + lower[i])
	}
	return ret, nil
}
