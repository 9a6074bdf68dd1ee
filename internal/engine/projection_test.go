package engine

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func unitBox(n int) (lower, upper []float64) {
	lower = make([]float64, n)
	upper = make([]float64, n)
	for i := range upper {
		upper[i] = 1
	}
	return lower, upper
}

func assertOnBudget(t *testing.T, w, lower, upper []float64) {
	t.Helper()
	sum := 0.0
	for i, v := range w {
		sum += v
		if v < lower[i]-1e-12 || v > upper[i]+1e-12 {
			t.Errorf("w[%d] = %v outside [%v, %v]", i, v, lower[i], upper[i])
		}
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("sum = %v, want 1", sum)
	}
}

// --- projectBoxSum tests ---

func TestProjectBoxSum_AlreadyFeasible(t *testing.T) {
	lo, hi := unitBox(3)
	w, ok := projectBoxSum([]float64{0.3, 0.5, 0.2}, lo, hi, 1)
	if !ok {
		t.Fatal("expected feasible projection")
	}
	want := []float64{0.3, 0.5, 0.2}
	for i := range want {
		if math.Abs(w[i]-want[i]) > 1e-12 {
			t.Errorf("w[%d] = %v, want %v", i, w[i], want[i])
		}
	}
}

func TestProjectBoxSum_WithNegatives(t *testing.T) {
	// Sort desc: [0.6, 0.5, -0.1], threshold (1.1-1)/2 = 0.05.
	lo, hi := unitBox(3)
	w, ok := projectBoxSum([]float64{0.6, -0.1, 0.5}, lo, hi, 1)
	if !ok {
		t.Fatal("expected feasible projection")
	}
	want := []float64{0.55, 0, 0.45}
	for i := range want {
		if math.Abs(w[i]-want[i]) > 1e-12 {
			t.Errorf("w[%d] = %v, want %v", i, w[i], want[i])
		}
	}
}

func TestProjectBoxSum_AllNegative(t *testing.T) {
	lo, hi := unitBox(3)
	w, ok := projectBoxSum([]float64{-0.3, -0.5, -0.2}, lo, hi, 1)
	if !ok {
		t.Fatal("expected feasible projection")
	}
	assertOnBudget(t, w, lo, hi)
	// Shift by a common constant keeps the differences.
	if math.Abs((w[2]-w[0])-0.1) > 1e-12 || math.Abs((w[0]-w[1])-0.2) > 1e-12 {
		t.Errorf("projection did not shift uniformly: %v", w)
	}
}

func TestProjectBoxSum_UpperCaps(t *testing.T) {
	lower := []float64{0, 0, 0, 0}
	upper := []float64{0.3, 0.3, 0.3, 0.3}
	w, ok := projectBoxSum([]float64{5, 4, 0, -1}, lower, upper, 1)
	if !ok {
		t.Fatal("expected feasible projection")
	}
	assertOnBudget(t, w, lower, upper)
	// Two assets pinned at the cap, remaining 0.4 split 0.3 / 0.1 by the shift.
	want := []float64{0.3, 0.3, 0.3, 0.1}
	for i := range want {
		if math.Abs(w[i]-want[i]) > 1e-12 {
			t.Errorf("w[%d] = %v, want %v", i, w[i], want[i])
		}
	}
}

func TestProjectBoxSum_ShortBounds(t *testing.T) {
	lower := []float64{-0.5, -0.5, -0.5}
	upper := []float64{0.8, 0.8, 0.8}
	w, ok := projectBoxSum([]float64{2, -3, 0.1}, lower, upper, 1)
	if !ok {
		t.Fatal("expected feasible projection")
	}
	assertOnBudget(t, w, lower, upper)
	if w[1] != -0.5 {
		t.Errorf("w[1] = %v, want lower bound -0.5", w[1])
	}
}

func TestProjectBoxSum_Infeasible(t *testing.T) {
	lower := []float64{0, 0}
	upper := []float64{0.3, 0.3}
	if _, ok := projectBoxSum([]float64{0.5, 0.5}, lower, upper, 1); ok {
		t.Error("caps summing to 0.6 cannot hold a full budget")
	}
	if _, ok := projectBoxSum(nil, nil, nil, 1); ok {
		t.Error("empty vector should not project")
	}
}

// --- projectBoxSumTarget tests ---

func TestProjectBoxSumTarget_HitsTarget(t *testing.T) {
	mu := []float64{0.1, 0.2, 0.4}
	lo, hi := unitBox(3)
	for _, target := range []float64{0.1, 0.15, 0.25, 0.33, 0.4} {
		w, ok := projectBoxSumTarget([]float64{1.0 / 3, 1.0 / 3, 1.0 / 3}, lo, hi, mu, target)
		if !ok {
			t.Fatalf("target %v: expected feasible projection", target)
		}
		assertOnBudget(t, w, lo, hi)
		if got := dotProduct(mu, w); math.Abs(got-target) > 1e-9 {
			t.Errorf("target %v: μᵀw = %v", target, got)
		}
	}
}

func TestProjectBoxSumTarget_Infeasible(t *testing.T) {
	mu := []float64{0.1, 0.2, 0.4}
	lo, hi := unitBox(3)
	for _, target := range []float64{0.05, 0.41, 3} {
		if _, ok := projectBoxSumTarget([]float64{0.2, 0.3, 0.5}, lo, hi, mu, target); ok {
			t.Errorf("target %v should be out of reach", target)
		}
	}
}

func TestProjectBoxSumTarget_ConstantMeans(t *testing.T) {
	mu := []float64{0.2, 0.2}
	lo, hi := unitBox(2)
	if _, ok := projectBoxSumTarget([]float64{0.7, 0.3}, lo, hi, mu, 0.2); !ok {
		t.Error("any allocation reaches 0.2 when every mean is 0.2")
	}
	if _, ok := projectBoxSumTarget([]float64{0.7, 0.3}, lo, hi, mu, 0.3); ok {
		t.Error("0.3 is out of reach when every mean is 0.2")
	}
}

// --- solver tests ---

func TestMinimizeVariance_TwoAssets(t *testing.T) {
	// Unconstrained optimum w0 = (4 - 0.5) / (1 + 4 - 2·0.5) = 0.875.
	sigma := mat.NewSymDense(2, []float64{1, 0.5, 0.5, 4})
	lo, hi := unitBox(2)
	p := &problem{sigma: sigma, mu: []float64{0, 0}, lower: lo, upper: hi}
	w, _, err := minimizeVariance(p, solverSettings{tol: 1e-12, maxIter: 5000})
	if err != nil {
		t.Fatalf("minimizeVariance: %v", err)
	}
	if math.Abs(w[0]-0.875) > 1e-8 || math.Abs(w[1]-0.125) > 1e-8 {
		t.Errorf("w = %v, want [0.875 0.125]", w)
	}
}

func TestMinimizeVariance_IterationLimit(t *testing.T) {
	sigma := mat.NewSymDense(3, []float64{
		1, 0.2, 0.1,
		0.2, 2, 0.3,
		0.1, 0.3, 3,
	})
	lo, hi := unitBox(3)
	p := &problem{sigma: sigma, mu: []float64{0, 0, 0}, lower: lo, upper: hi}
	if _, _, err := minimizeVariance(p, solverSettings{tol: 1e-300, maxIter: 1}); err == nil {
		t.Error("expected iteration limit error with a single iteration")
	}
}

func TestMaximizeSharpe_Diagonal(t *testing.T) {
	// Uncorrelated assets: the tangency weights are ∝ Σ⁻¹μ = [1, 5/4],
	// normalized to [4/9, 5/9].
	sigma := mat.NewSymDense(2, []float64{1, 0, 0, 4})
	lo, hi := unitBox(2)
	p := &problem{sigma: sigma, mu: []float64{1, 5}, lower: lo, upper: hi}
	w, _, err := maximizeSharpe(p, 0, solverSettings{tol: 1e-12, maxIter: 5000})
	if err != nil {
		t.Fatalf("maximizeSharpe: %v", err)
	}
	if math.Abs(w[0]-4.0/9) > 1e-6 || math.Abs(w[1]-5.0/9) > 1e-6 {
		t.Errorf("w = %v, want [4/9 5/9]", w)
	}
}

func TestMaximizeSharpe_AllRiskless(t *testing.T) {
	sigma := mat.NewSymDense(2, nil)
	lo, hi := unitBox(2)
	p := &problem{sigma: sigma, mu: []float64{0.1, 0.2}, lower: lo, upper: hi}
	if _, _, err := maximizeSharpe(p, 0, solverSettings{tol: 1e-10, maxIter: 100}); err == nil {
		t.Error("expected failure when no allocation carries risk")
	}
}

func TestExtremeReturn(t *testing.T) {
	mu := []float64{0.1, -0.2, 0.7, 0.5}
	lower := []float64{0, 0, 0, 0}
	upper := []float64{0.4, 0.4, 0.4, 0.4}

	hi, err := extremeReturn(mu, lower, upper, true)
	if err != nil {
		t.Fatalf("max LP: %v", err)
	}
	// 0.4·0.7 + 0.4·0.5 + 0.2·0.1
	if math.Abs(hi-0.5) > 1e-9 {
		t.Errorf("max return = %v, want 0.5", hi)
	}

	lo, err := extremeReturn(mu, lower, upper, false)
	if err != nil {
		t.Fatalf("min LP: %v", err)
	}
	// 0.4·(-0.2) + 0.4·0.1 + 0.2·0.5
	if math.Abs(lo-0.06) > 1e-9 {
		t.Errorf("min return = %v, want 0.06", lo)
	}
}
