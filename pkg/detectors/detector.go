// Package detectors provides unsupervised anomaly detection algorithms and the
// fit, threshold and label lifecycle they share.
package detectors

import "context"

// Detector is the common interface for all anomaly detection algorithms.
type Detector interface {
	// Fit trains the detector on historical data.
	// data is a 2D slice where each row is a sample and each column is a feature.
	// Fit also derives the contamination threshold and training labels.
	Fit(data [][]float64) error

	// DecisionFunction returns raw anomaly scores for the given samples.
	// Higher values indicate anomalies.
	DecisionFunction(data [][]float64) ([]float64, error)

	// Predict returns binary labels: 1 for outliers, 0 for inliers.
	Predict(data [][]float64) ([]int, error)

	// PredictProba returns outlier probabilities in [0, 1], scaled linearly
	// against the range of the training scores.
	PredictProba(data [][]float64) ([]float64, error)

	// Evaluate labels scores returned by DecisionFunction and scales them to
	// probabilities, so callers needing all three outputs score data once.
	Evaluate(scores []float64) (labels []int, proba []float64, err error)

	// DecisionScores returns the anomaly scores of the training data.
	DecisionScores() []float64

	// Labels returns the binary labels of the training data.
	Labels() []int

	// Threshold returns the score above which a sample is an outlier.
	Threshold() float64

	// Save serializes the trained model to bytes.
	Save() ([]byte, error)

	// Load deserializes a trained model from bytes.
	Load(data []byte) error
}

// StreamDetector extends Detector with streaming capabilities.
type StreamDetector interface {
	Detector

	// PredictStream processes samples from a channel and outputs scores.
	PredictStream(ctx context.Context, input <-chan []float64, output chan<- Score) error
}

// Score represents an anomaly detection result.
type Score struct {
	// Value is the raw anomaly score.
	Value float64
	// IsAnomaly indicates if the score exceeds the threshold.
	IsAnomaly bool
	// Features contains the original input features.
	Features []float64
	// Metadata contains additional information.
	Metadata map[string]any
}

// Config holds common configuration for detectors.
type Config struct {
	// Contamination is the expected proportion of anomalies in training data.
	Contamination float64
	// RandomSeed for reproducibility.
	RandomSeed int64
	// Workers is forwarded to algorithms that can parallelize fitting.
	Workers int
}

// DefaultConfig returns sensible defaults for detector configuration.
func DefaultConfig() Config {
	return Config{
		Contamination: 0.1,
		RandomSeed:    42,
		Workers:       1,
	}
}
