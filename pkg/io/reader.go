// Package io provides input/output utilities for data ingestion and for
// emitting detection results.
package io

import "context"

// Reader is the interface for reading data from various sources.
type Reader interface {
	// Read returns the complete dataset.
	Read() ([][]float64, error)

	// Stream returns a channel of samples for real-time processing.
	Stream(ctx context.Context) (<-chan []float64, error)

	// Close releases resources.
	Close() error
}

// FeatureExtractor extracts numerical features from raw data.
type FeatureExtractor interface {
	// Extract converts raw input to feature vector.
	Extract(data any) ([]float64, error)

	// FeatureNames returns the names of extracted features.
	FeatureNames() []string
}

// Writer is the interface for writing detection results.
type Writer interface {
	// Write outputs a single result.
	Write(result Result) error

	// WriteAll outputs multiple results.
	WriteAll(results []Result) error

	// Close releases resources.
	Close() error
}

// Result represents an anomaly detection result.
type Result struct {
	Timestamp   int64          `json:"timestamp"`
	Index       int            `json:"index"`
	Score       float64        `json:"score"`
	Probability float64        `json:"probability"`
	IsAnomaly   bool           `json:"is_anomaly"`
	Features    []float64      `json:"features,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewResults zips per-sample scores, labels and probabilities into results
// stamped with ts. features may be nil to omit the inputs.
func NewResults(ts int64, scores []float64, labels []int, proba []float64, features [][]float64) []Result {
	results := make([]Result, len(scores))
	for i, s := range scores {
		results[i] = Result{
			Timestamp: ts,
			Index:     i,
			Score:     s,
		}
		if i < len(labels) {
			results[i].IsAnomaly = labels[i] == 1
		}
		if i < len(proba) {
			results[i].Probability = proba[i]
		}
		if i < len(features) {
			results[i].Features = features[i]
		}
	}
	return results
}
