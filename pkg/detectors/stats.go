package detectors

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// RowwiseEuclidean returns the per-row Euclidean distance between two
// row-aligned matrices of equal shape. It is O(rows), never the full
// pairwise distance matrix.
func RowwiseEuclidean(a, b *mat.Dense) ([]float64, error) {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		return nil, &InputShapeError{Reason: "row-aligned matrices differ in shape", Want: ar * ac, Got: br * bc}
	}

	dist := make([]float64, ar)
	for i := 0; i < ar; i++ {
		var sum float64
		for j := 0; j < ac; j++ {
			d := a.At(i, j) - b.At(i, j)
			sum += d * d
		}
		dist[i] = math.Sqrt(sum)
	}
	return dist, nil
}

// ThresholdByContamination derives a score threshold from the expected
// outlier fraction and assigns binary labels (1 = outlier). The threshold
// is the (1-contamination) empirical quantile of the scores.
func ThresholdByContamination(scores []float64, contamination float64) (float64, []int, error) {
	if contamination <= 0 || contamination >= 1 {
		return 0, nil, &ConfigurationError{Field: "contamination", Reason: "must be in (0, 1)"}
	}
	if len(scores) == 0 {
		return 0, nil, &InputShapeError{Reason: "empty score vector"}
	}

	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)

	threshold := stat.Quantile(1-contamination, stat.Empirical, sorted, nil)

	labels := make([]int, len(scores))
	for i, s := range scores {
		if s > threshold {
			labels[i] = 1
		}
	}
	return threshold, labels, nil
}
