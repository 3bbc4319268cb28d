// Package cluster defines the clustering capability consumed by the
// cluster-based detectors, and the contract check every implementation must
// pass before it is used.
package cluster

import (
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/hed1ad/cblof/pkg/detectors"
)

// Clusterer partitions samples into groups with one center per group.
type Clusterer interface {
	// Fit partitions data. It may be called more than once; each call
	// replaces the previous result.
	Fit(data [][]float64) error

	// Predict assigns every sample to one of the fitted clusters.
	Predict(data [][]float64) ([]int, error)

	// Labels returns the cluster index of every sample of the last Fit.
	Labels() []int

	// Centers returns one center per cluster. Labels and Predict index into it.
	Centers() [][]float64
}

// Seeder is implemented by clusterers whose result depends on a random seed.
type Seeder interface {
	SetSeed(seed int64)
}

// Parallel is implemented by clusterers that can spread work over goroutines.
type Parallel interface {
	SetWorkers(n int)
}

// Check fits c on data and verifies the structural contract: one label per
// sample, labels index into Centers, centers have the input width, and
// Predict agrees with Labels on the training data. Clusterers that implement
// Seeder are fitted twice with the same seed and must return identical
// labels. Contract violations wrap detectors.ErrInvalidEstimator; errors
// returned by Fit itself are passed through with context.
//
// On success c is left fitted on data.
func Check(c Clusterer, data [][]float64, seed int64) error {
	if c == nil {
		return detectors.ErrMissingEstimator
	}
	if len(data) == 0 {
		return errors.Wrap(detectors.ErrMalformedInput, "no samples to cluster")
	}

	first, err := checkFit(c, data, seed)
	if err != nil {
		return err
	}

	if _, ok := c.(Seeder); ok {
		second, err := checkFit(c, data, seed)
		if err != nil {
			return err
		}
		if !slices.Equal(first, second) {
			return errors.Wrap(detectors.ErrInvalidEstimator, "labels differ between two fits with the same seed")
		}
	}
	return nil
}

func checkFit(c Clusterer, data [][]float64, seed int64) ([]int, error) {
	if s, ok := c.(Seeder); ok {
		s.SetSeed(seed)
	}
	if err := c.Fit(data); err != nil {
		return nil, errors.Wrap(err, "fit clustering algorithm")
	}
	if err := Validate(c, len(data), len(data[0])); err != nil {
		return nil, err
	}
	labels := c.Labels()

	predicted, err := c.Predict(data)
	if err != nil {
		return nil, errors.Wrapf(detectors.ErrInvalidEstimator, "predict on training data failed: %v", err)
	}
	if !slices.Equal(labels, predicted) {
		return nil, errors.Wrap(detectors.ErrInvalidEstimator, "predict disagrees with fitted labels")
	}
	return labels, nil
}

// Validate checks the shape of a fitted clusterer against nSamples rows of
// nFeatures columns.
func Validate(c Clusterer, nSamples, nFeatures int) error {
	centers := c.Centers()
	if len(centers) == 0 {
		return errors.Wrap(detectors.ErrInvalidEstimator, "no cluster centers")
	}
	for i, center := range centers {
		if len(center) != nFeatures {
			return errors.Wrapf(detectors.ErrInvalidEstimator, "center %d has %d features, expected %d", i, len(center), nFeatures)
		}
	}

	labels := c.Labels()
	if len(labels) != nSamples {
		return errors.Wrapf(detectors.ErrInvalidEstimator, "got %d labels for %d samples", len(labels), nSamples)
	}
	return ValidateLabels(labels, len(centers))
}

// ValidateLabels checks that every label indexes one of k clusters.
func ValidateLabels(labels []int, k int) error {
	for i, l := range labels {
		if l < 0 || l >= k {
			return errors.Wrapf(detectors.ErrInvalidEstimator, "sample %d has label %d outside [0, %d)", i, l, k)
		}
	}
	return nil
}

// Sizes counts the members of each of k clusters.
func Sizes(labels []int, k int) []int {
	sizes := make([]int, k)
	for _, l := range labels {
		sizes[l]++
	}
	return sizes
}
