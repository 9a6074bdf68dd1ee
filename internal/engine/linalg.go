package engine

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

func dotProduct(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// quadForm computes vᵀ·M·v for a dense row-major matrix.
func quadForm(m [][]float64, v []float64) float64 {
	q := 0.0
	for i := range v {
		for j := range v {
			q += v[i] * v[j] * m[i][j]
		}
	}
	return q
}

// symMulVec returns Σ·w as a plain slice.
func symMulVec(sigma *mat.SymDense, w []float64) []float64 {
	out := mat.NewVecDense(len(w), nil)
	out.MulVec(sigma, mat.NewVecDense(len(w), w))
	return out.RawVector().Data
}

func portfolioVariance(w []float64, sigma *mat.SymDense) float64 {
	return dotProduct(w, symMulVec(sigma, w))
}

// maxEigenvalue returns λ_max of a symmetric matrix, falling back to the
// trace (an upper bound for PSD matrices) when the factorization fails.
func maxEigenvalue(sigma *mat.SymDense) float64 {
	var es mat.EigenSym
	if es.Factorize(sigma, false) {
		vals := es.Values(nil)
		if len(vals) > 0 {
			return vals[len(vals)-1]
		}
	}
	return mat.Trace(sigma)
}

// nearestPSD clips the negative eigenvalues of sigma to zero and rebuilds
// the matrix. Pairwise-complete covariances of ragged tables can be
// indefinite, which would make the variance objective non-convex. repaired
// is false, and sigma is returned as is, when no eigenvalue falls below
// -1e-12·max(1, λ_max) or the factorization fails.
func nearestPSD(sigma *mat.SymDense) (out *mat.SymDense, minEig float64, repaired bool) {
	var es mat.EigenSym
	if !es.Factorize(sigma, true) {
		return sigma, math.NaN(), false
	}
	vals := es.Values(nil)
	if len(vals) == 0 {
		return sigma, math.NaN(), false
	}
	minEig = vals[0]
	if minEig >= -1e-12*math.Max(1, vals[len(vals)-1]) {
		return sigma, minEig, false
	}
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	n := len(vals)
	out = mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := 0.0
			for k, lambda := range vals {
				if lambda > 0 {
					v += lambda * vecs.At(i, k) * vecs.At(j, k)
				}
			}
			out.SetSym(i, j, v)
		}
	}
	return out, minEig, true
}

func allFinite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func symFinite(sigma *mat.SymDense) bool {
	n := sigma.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := sigma.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

func maxAbsDiff(a, b []float64) float64 {
	d := 0.0
	for i := range a {
		if x := math.Abs(a[i] - b[i]); x > d {
			d = x
		}
	}
	return d
}

func uniform(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1.0 / float64(n)
	}
	return w
}
