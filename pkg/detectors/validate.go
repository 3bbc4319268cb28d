package detectors

import (
	"math"

	"github.com/cockroachdb/errors"
)

// CheckParameter verifies that value lies inside [low, high]. includeLeft and
// includeRight control whether each bound is part of the allowed range. Use
// math.Inf(1) as high for an unbounded range.
func CheckParameter(value, low, high float64, name string, includeLeft, includeRight bool) error {
	if math.IsNaN(value) {
		return errors.Wrapf(ErrInvalidParameter, "%s is NaN", name)
	}
	if low > high {
		return errors.Wrapf(ErrInvalidParameter, "lower bound %v of %s is above upper bound %v", low, name, high)
	}

	left, right := "(", ")"
	if includeLeft {
		left = "["
	}
	if includeRight {
		right = "]"
	}

	lowOK := value > low || (includeLeft && value == low)
	highOK := value < high || (includeRight && value == high)
	if !lowOK || !highOK {
		return errors.WithHintf(
			errors.Wrapf(ErrInvalidParameter, "%s is set to %v", name, value),
			"%s must be in %s%v, %v%s", name, left, low, high, right,
		)
	}
	return nil
}

// CheckArray verifies that data is a non-empty rectangular matrix of finite
// values and returns its number of columns.
func CheckArray(data [][]float64) (int, error) {
	if len(data) == 0 {
		return 0, errors.Wrap(ErrMalformedInput, "empty data")
	}

	nFeatures := len(data[0])
	if nFeatures == 0 {
		return 0, errors.Wrap(ErrMalformedInput, "empty feature vectors")
	}

	for i, row := range data {
		if len(row) != nFeatures {
			return 0, errors.Wrapf(ErrMalformedInput, "row %d has %d features, expected %d", i, len(row), nFeatures)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, errors.Wrapf(ErrMalformedInput, "non-finite value at row %d, column %d", i, j)
			}
		}
	}
	return nFeatures, nil
}

// CheckFeatures runs CheckArray and additionally requires exactly nFeatures
// columns, the width seen during Fit.
func CheckFeatures(data [][]float64, nFeatures int) error {
	got, err := CheckArray(data)
	if err != nil {
		return err
	}
	if got != nFeatures {
		return errors.Wrapf(ErrMalformedInput, "data has %d features, model was fitted with %d", got, nFeatures)
	}
	return nil
}
