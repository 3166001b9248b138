package engine

import (
	"github.com/montanaflynn/stats"
)

// chiSquared1Median is the median of a chi-squared distribution with one
// degree of freedom: the expected median of t^2 under the null.
const chiSquared1Median = 0.45493642311957

// inflationFactor is the genomic-control lambda: the observed median of the
// squared test statistics over their null expectation. Values far above 1
// indicate the approximation (or the phenotype) is producing systematically
// inflated statistics.
func inflationFactor(squaredT []float64) (float64, error) {
	if len(squaredT) == 0 {
		return 0, nil
	}
	med, err := stats.Median(squaredT)
	if err != nil {
		return 0, err
	}
	return med / chiSquared1Median, nil
}
