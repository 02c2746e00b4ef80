package detectors

import (
	"fmt"
	"math"
)

// ValidateMatrix checks that data is a non-empty rectangular matrix of
// finite values and returns its dimensions. Malformed input is reported
// as an *InputShapeError.
func ValidateMatrix(data [][]float64) (nSamples, nFeatures int, err error) {
	if len(data) == 0 {
		return 0, 0, &InputShapeError{Reason: "empty input matrix"}
	}

	nSamples = len(data)
	nFeatures = len(data[0])
	if nFeatures == 0 {
		return 0, 0, &InputShapeError{Reason: "rows have no features"}
	}

	for i, row := range data {
		if len(row) != nFeatures {
			return 0, 0, &InputShapeError{
				Reason: "ragged input matrix",
				Want:   nFeatures,
				Got:    len(row),
			}
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, 0, &InputShapeError{Reason: fmt.Sprintf("non-finite value at row %d", i)}
			}
		}
	}

	return nSamples, nFeatures, nil
}

// ValidateVector checks a single sample against an expected feature count.
func ValidateVector(sample []float64, nFeatures int) error {
	if len(sample) != nFeatures {
		return &InputShapeError{Reason: "feature count mismatch", Want: nFeatures, Got: len(sample)}
	}
	for _, v := range sample {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &InputShapeError{Reason: "non-finite value in sample"}
		}
	}
	return nil
}
