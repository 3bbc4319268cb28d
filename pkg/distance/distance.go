// Package distance provides the metrics used to measure how far a sample lies
// from a cluster center.
package distance

import (
	"math"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/cblof/pkg/detectors"
)

// Metric measures the distance between two vectors of equal length.
type Metric interface {
	Distance(a, b []float64) float64
}

// Names accepted by Parse.
const (
	NameEuclidean   = "euclidean"
	NameMahalanobis = "mahalanobis"
)

// Euclidean is the L2 distance.
type Euclidean struct{}

func (Euclidean) Distance(a, b []float64) float64 {
	return floats.Distance(a, b, 2)
}

// Mahalanobis is the distance under the inverse covariance of a training set.
type Mahalanobis struct {
	// Precision is the inverse covariance matrix, row-major, dims x dims.
	Precision []float64
	Dims      int
}

// FitMahalanobis estimates the covariance of data and inverts it. Data whose
// covariance cannot be inverted, such as a constant column, is reported as
// detectors.ErrMalformedInput.
func FitMahalanobis(data [][]float64) (*Mahalanobis, error) {
	if len(data) < 2 {
		return nil, errors.Wrapf(detectors.ErrMalformedInput, "mahalanobis needs at least 2 samples, got %d", len(data))
	}
	dims := len(data[0])

	flat := make([]float64, 0, len(data)*dims)
	for _, row := range data {
		flat = append(flat, row...)
	}
	x := mat.NewDense(len(data), dims, flat)

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, x, nil)

	var chol mat.Cholesky
	if ok := chol.Factorize(&cov); !ok {
		return nil, errors.Wrapf(detectors.ErrMalformedInput, "covariance matrix of %d features is singular", dims)
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, errors.Wrapf(detectors.ErrMalformedInput, "invert covariance matrix: %v", err)
	}

	precision := make([]float64, dims*dims)
	for i := 0; i < dims; i++ {
		for j := 0; j < dims; j++ {
			precision[i*dims+j] = inv.At(i, j)
		}
	}
	return &Mahalanobis{Precision: precision, Dims: dims}, nil
}

func (m *Mahalanobis) Distance(a, b []float64) float64 {
	diff := make([]float64, len(a))
	floats.SubTo(diff, a, b)

	d := mat.NewVecDense(len(diff), diff)
	p := mat.NewDense(m.Dims, m.Dims, m.Precision)

	var pd mat.VecDense
	pd.MulVec(p, d)
	q := mat.Dot(d, &pd)
	if q < 0 {
		// rounding on nearly singular covariances
		q = 0
	}
	return math.Sqrt(q)
}

// Parse returns the metric registered under name, fitting it on data when
// the metric depends on the training set.
func Parse(name string, data [][]float64) (Metric, error) {
	switch name {
	case "", NameEuclidean:
		return Euclidean{}, nil
	case NameMahalanobis:
		return FitMahalanobis(data)
	default:
		return nil, errors.WithHintf(
			errors.Wrapf(detectors.ErrInvalidParameter, "unknown metric %q", name),
			"metric must be %q or %q", NameEuclidean, NameMahalanobis,
		)
	}
}

// Nearest returns the index of the center closest to sample and its distance.
// It returns -1 when centers is empty.
func Nearest(m Metric, sample []float64, centers [][]float64) (int, float64) {
	best, bestDist := -1, math.Inf(1)
	for i, c := range centers {
		if d := m.Distance(sample, c); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}
