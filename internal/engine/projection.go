package engine

import (
	"math"
	"sort"
)

// projectBoxSum projects v onto {w : l ≤ w ≤ u, Σw = total}. The solution is
// w_i = clip(v_i − λ, l_i, u_i) for the λ that meets the budget; Σw is
// piecewise linear in λ with kinks at v_i − u_i and v_i − l_i, so λ is found
// exactly by locating the bracketing kinks. With l = 0 and u = +∞ this is the
// classic probability-simplex projection. Returns false when the box cannot
// meet the budget.
func projectBoxSum(v, lower, upper []float64, total float64) ([]float64, bool) {
	n := len(v)
	if n == 0 {
		return nil, false
	}
	loSum, hiSum := 0.0, 0.0
	for i := range v {
		loSum += lower[i]
		hiSum += upper[i]
	}
	slack := 1e-12 * math.Max(1, math.Abs(total))
	if total < loSum-slack || total > hiSum+slack {
		return nil, false
	}

	sumAt := func(lambda float64) float64 {
		s := 0.0
		for i := range v {
			s += clip(v[i]-lambda, lower[i], upper[i])
		}
		return s
	}

	kinks := make([]float64, 0, 2*n)
	for i := range v {
		kinks = append(kinks, v[i]-upper[i], v[i]-lower[i])
	}
	sort.Float64s(kinks)

	// Largest kink whose budget is still ≥ total.
	k := sort.Search(len(kinks), func(i int) bool { return sumAt(kinks[i]) < total }) - 1
	var lambda float64
	switch {
	case k < 0:
		lambda = kinks[0]
	case k >= len(kinks)-1:
		lambda = kinks[len(kinks)-1]
	default:
		a, b := kinks[k], kinks[k+1]
		ga, gb := sumAt(a), sumAt(b)
		lambda = a
		if ga != gb {
			lambda = a + (ga-total)/(ga-gb)*(b-a)
		}
	}

	w := make([]float64, n)
	for i := range v {
		w[i] = clip(v[i]-lambda, lower[i], upper[i])
	}
	return w, true
}

// projectBoxSumTarget projects v onto {l ≤ w ≤ u, Σw = 1, μᵀw = target}.
// The multiplier ν of the return constraint enters as w(ν) = P(v − ν·μ),
// where P is projectBoxSum; μᵀw(ν) is non-increasing in ν, so ν is
// bracketed by doubling and refined by bisection. The two bracketing points
// are blended so that μᵀw hits the target exactly. Returns false when the
// target is out of reach.
func projectBoxSumTarget(v, lower, upper, mu []float64, target float64) ([]float64, bool) {
	feasTol := 1e-9 * math.Max(1, math.Abs(target))
	shifted := make([]float64, len(v))
	eval := func(nu float64) ([]float64, float64, bool) {
		for i := range v {
			shifted[i] = v[i] - nu*mu[i]
		}
		w, ok := projectBoxSum(shifted, lower, upper, 1)
		if !ok {
			return nil, 0, false
		}
		return w, dotProduct(mu, w) - target, true
	}

	w0, h0, ok := eval(0)
	if !ok {
		return nil, false
	}
	if h0 == 0 {
		return w0, true
	}

	// Bracket: hLo ≥ 0 at nuLo, hHi ≤ 0 at nuHi.
	var (
		nuLo, nuHi float64
		wLo, wHi   []float64
		hLo, hHi   float64
	)
	const maxDoublings = 200
	if h0 > 0 {
		nuLo, wLo, hLo = 0, w0, h0
		step := 1.0
		for i := 0; ; i++ {
			w, h, _ := eval(step)
			if h <= 0 {
				nuHi, wHi, hHi = step, w, h
				break
			}
			nuLo, wLo, hLo = step, w, h
			if i == maxDoublings {
				return wLo, hLo <= feasTol
			}
			step *= 2
		}
	} else {
		nuHi, wHi, hHi = 0, w0, h0
		step := -1.0
		for i := 0; ; i++ {
			w, h, _ := eval(step)
			if h >= 0 {
				nuLo, wLo, hLo = step, w, h
				break
			}
			nuHi, wHi, hHi = step, w, h
			if i == maxDoublings {
				return wHi, hHi >= -feasTol
			}
			step *= 2
		}
	}

	for iter := 0; iter < 200; iter++ {
		mid := 0.5 * (nuLo + nuHi)
		if mid <= nuLo || mid >= nuHi {
			break
		}
		w, h, _ := eval(mid)
		if h == 0 {
			return w, true
		}
		if h > 0 {
			nuLo, wLo, hLo = mid, w, h
		} else {
			nuHi, wHi, hHi = mid, w, h
		}
	}

	alpha := 1.0
	if hLo != hHi {
		alpha = -hHi / (hLo - hHi)
	}
	w := make([]float64, len(v))
	for i := range w {
		w[i] = alpha*wLo[i] + (1-alpha)*wHi[i]
	}
	return w, true
}

func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
