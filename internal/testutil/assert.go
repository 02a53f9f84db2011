package testutil

import (
	"math"
	"testing"
)

// AssertProbabilities checks that probs holds n finite values in [0, 1] that
// sum to 1 within tol.
func AssertProbabilities(tb testing.TB, probs []float32, n int, tol float64) {
	tb.Helper()

	if len(probs) != n {
		tb.Fatalf("got %d probabilities, want %d", len(probs), n)
	}

	var sum float64
	for i, p := range probs {
		v := float64(p)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			tb.Fatalf("probability[%d] = %v; want finite", i, p)
		}
		if v < 0 || v > 1 {
			tb.Fatalf("probability[%d] = %v; want within [0, 1]", i, p)
		}
		sum += v
	}

	if math.Abs(sum-1) > tol {
		tb.Fatalf("probabilities sum to %v; want 1 ± %v", sum, tol)
	}
}
