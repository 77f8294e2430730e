package mcpi

import (
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Estimate converts a global inside count over n samples to an estimate
// of pi. With no samples there is nothing to estimate and the result is 0.
func Estimate(global uint64, n int64) float64 {
	if n <= 0 {
		return 0
	}
	return 4.0 * float64(global) / float64(n)
}

// Confidence returns the standard error of the estimate and the
// half-width of its 95% normal confidence interval.
func Confidence(global uint64, n int64) (stderr, halfWidth float64) {
	if n <= 0 {
		return 0, 0
	}
	p := float64(global) / float64(n)
	stderr = 4 * math.Sqrt(p*(1-p)/float64(n))
	return stderr, distuv.UnitNormal.Quantile(0.975) * stderr
}

// Report writes the estimate line. Only Root writes anything.
func Report(w io.Writer, res Result) error {
	if !res.IsRoot() {
		return nil
	}
	_, err := fmt.Fprintf(w, "Estimated value of pi: %.7f\n", res.Pi)
	return err
}
