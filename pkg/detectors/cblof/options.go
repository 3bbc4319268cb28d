package cblof

import (
	"go.uber.org/zap"

	"github.com/hed1ad/cblof/pkg/cluster"
	"github.com/hed1ad/cblof/pkg/cluster/kmeans"
	"github.com/hed1ad/cblof/pkg/detectors"
)

// Option configures a CBLOF.
type Option func(*CBLOF)

// WithAlpha sets the share of samples that the large clusters must cover.
// It must lie in (0, 1) and is checked by Fit.
func WithAlpha(alpha float64) Option {
	return func(c *CBLOF) {
		c.alpha = alpha
	}
}

// WithBeta sets the minimum size ratio between the smallest large cluster
// and the largest small cluster. It must be positive and is checked by Fit.
func WithBeta(beta float64) Option {
	return func(c *CBLOF) {
		c.beta = beta
	}
}

// WithContamination sets the expected proportion of anomalies.
func WithContamination(contamination float64) Option {
	return func(c *CBLOF) {
		c.contamination = contamination
	}
}

// WithClusterer sets the clustering algorithm. It takes precedence over the
// default mini-batch k-means.
func WithClusterer(cl cluster.Clusterer) Option {
	return func(c *CBLOF) {
		c.clusterer = cl
	}
}

// WithDefaultClusterer replaces the factory used when no clusterer is set.
// A nil factory leaves the detector without a default.
func WithDefaultClusterer(factory func(nClusters int) cluster.Clusterer) Option {
	return func(c *CBLOF) {
		c.newDefault = factory
	}
}

// WithClusters sets the number of clusters of the default clusterer.
func WithClusters(n int) Option {
	return func(c *CBLOF) {
		c.nClusters = n
	}
}

// WithWorkers sets the worker count forwarded to the clusterer.
func WithWorkers(n int) Option {
	return func(c *CBLOF) {
		c.workers = n
	}
}

// WithSeed sets the random seed forwarded to the clusterer.
func WithSeed(seed int64) Option {
	return func(c *CBLOF) {
		c.seed = seed
	}
}

// WithMetric selects the distance metric by name, see distance.Parse.
func WithMetric(name string) Option {
	return func(c *CBLOF) {
		c.metricName = name
	}
}

// WithWeights multiplies every score by the size of the sample's cluster.
// Outliers close to small clusters may then go undetected.
func WithWeights(use bool) Option {
	return func(c *CBLOF) {
		c.useWeights = use
	}
}

// WithConfig applies the shared detector configuration.
func WithConfig(cfg detectors.Config) Option {
	return func(c *CBLOF) {
		c.contamination = cfg.Contamination
		c.seed = cfg.RandomSeed
		c.workers = cfg.Workers
	}
}

// WithLogger sets the logger used for fit summaries.
func WithLogger(l *zap.Logger) Option {
	return func(c *CBLOF) {
		if l != nil {
			c.logger = l
		}
	}
}

func defaultClusterer(nClusters int) cluster.Clusterer {
	return kmeans.New(kmeans.WithClusters(nClusters))
}
