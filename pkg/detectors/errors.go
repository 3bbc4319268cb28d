package detectors

import "github.com/cockroachdb/errors"

// Sentinel errors shared by all detectors. Match them with errors.Is.
var (
	// ErrInvalidParameter reports a hyperparameter outside its allowed range.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrMissingEstimator reports that no clustering algorithm is configured.
	ErrMissingEstimator = errors.New("clustering algorithm cannot be nil")
	// ErrInvalidEstimator reports a clustering algorithm that breaks its contract.
	ErrInvalidEstimator = errors.New("invalid clustering estimator")
	// ErrNotFitted is returned when scoring is requested before Fit.
	ErrNotFitted = errors.New("model not trained")
	// ErrMalformedInput reports an empty, ragged, non-finite or mis-shaped matrix.
	ErrMalformedInput = errors.New("malformed input")
	// ErrClusterSeparation is returned when alpha and beta cannot split the
	// clusters into large and small groups.
	ErrClusterSeparation = errors.New("could not form valid cluster separation")
)
