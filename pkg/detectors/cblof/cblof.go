// Package cblof implements the Clustering-Based Local Outlier Factor.
//
// CBLOF clusters the training data, splits the clusters into large and small
// ones using alpha and beta, and scores every sample by its distance to a
// large cluster center: its own center when it belongs to a large cluster,
// the nearest large center otherwise.
package cblof

import (
	"context"
	"math"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/hed1ad/cblof/pkg/cluster"
	"github.com/hed1ad/cblof/pkg/detectors"
	"github.com/hed1ad/cblof/pkg/distance"
)

// CBLOF scores samples by their distance to the large clusters of a fitted
// clustering.
type CBLOF struct {
	mu sync.RWMutex

	// Configuration
	alpha         float64
	beta          float64
	contamination float64
	nClusters     int
	workers       int
	seed          int64
	metricName    string
	useWeights    bool
	clusterer     cluster.Clusterer
	newDefault    func(nClusters int) cluster.Clusterer
	logger        *zap.Logger

	// Trained model
	estimator    cluster.Clusterer
	metric       distance.Metric
	centers      [][]float64
	labels       []int
	sizes        []int
	large        []int
	small        []int
	isLarge      []bool
	largeCenters [][]float64
	nFeatures    int
	base         detectors.Base
	trained      bool
}

var _ detectors.StreamDetector = (*CBLOF)(nil)

// New creates a new CBLOF with the given options. Parameters are validated
// by Fit, not here.
func New(opts ...Option) *CBLOF {
	cfg := detectors.DefaultConfig()
	c := &CBLOF{
		alpha:         0.9,
		beta:          5,
		contamination: cfg.Contamination,
		nClusters:     8,
		workers:       cfg.Workers,
		seed:          cfg.RandomSeed,
		metricName:    distance.NameEuclidean,
		newDefault:    defaultClusterer,
		logger:        zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Fit clusters data, splits the clusters into large and small ones and
// derives the training scores, threshold and labels. The clusterer is fitted
// and checked against its contract on data itself.
func (c *CBLOF) Fit(data [][]float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	nFeatures, err := detectors.CheckArray(data)
	if err != nil {
		return err
	}
	if err := detectors.ValidateContamination(c.contamination); err != nil {
		return err
	}

	est, err := c.validateEstimator()
	if err != nil {
		return err
	}

	metric, err := distance.Parse(c.metricName, data)
	if err != nil {
		return err
	}

	if err := cluster.Check(est, data, c.seed); err != nil {
		return err
	}

	centers := est.Centers()
	labels := est.Labels()
	sizes := cluster.Sizes(labels, len(centers))

	large, small, err := splitClusters(sizes, len(data), c.alpha, c.beta)
	if err != nil {
		return err
	}

	c.estimator = est
	c.metric = metric
	c.centers = centers
	c.labels = labels
	c.sizes = sizes
	c.nFeatures = nFeatures
	c.setSplit(large, small)

	base := detectors.NewBase(c.contamination)
	if err := base.ProcessDecisionScores(c.decision(data, labels)); err != nil {
		return err
	}
	c.base = base
	c.trained = true

	c.logger.Debug("cblof fitted",
		zap.Int("samples", len(data)),
		zap.Int("features", nFeatures),
		zap.Int("clusters", len(centers)),
		zap.Ints("large_clusters", large),
		zap.Float64("threshold", base.Threshold()),
	)
	return nil
}

// validateEstimator checks alpha and beta and returns the clusterer to fit,
// configured with the detector's workers.
func (c *CBLOF) validateEstimator() (cluster.Clusterer, error) {
	if err := detectors.CheckParameter(c.alpha, 0, 1, "alpha", false, false); err != nil {
		return nil, err
	}
	if err := detectors.CheckParameter(c.beta, 0, math.Inf(1), "beta", false, false); err != nil {
		return nil, err
	}

	est := c.clusterer
	if est == nil && c.newDefault != nil {
		est = c.newDefault(c.nClusters)
	}
	if est == nil {
		return nil, detectors.ErrMissingEstimator
	}

	if p, ok := est.(cluster.Parallel); ok && c.workers > 0 {
		p.SetWorkers(c.workers)
	}
	return est, nil
}

// splitClusters orders clusters by size and returns the large and small ones.
// The boundary is the first position i where the top i clusters hold at
// least alpha of the samples and the i-th cluster is at least beta times
// the (i+1)-th. When no position satisfies both, the first one satisfying
// alpha wins, then the first one satisfying beta.
func splitClusters(sizes []int, nSamples int, alpha, beta float64) (large, small []int, err error) {
	order := make([]int, len(sizes))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return sizes[b] - sizes[a]
	})

	var alphaList, betaList []int
	covered := 0
	for i := 1; i < len(order); i++ {
		covered += sizes[order[i-1]]
		if float64(covered) >= float64(nSamples)*alpha {
			alphaList = append(alphaList, i)
		}
		if float64(sizes[order[i-1]]) >= beta*float64(sizes[order[i]]) {
			betaList = append(betaList, i)
		}
	}

	boundary := -1
	for _, i := range alphaList {
		if slices.Contains(betaList, i) {
			boundary = i
			break
		}
	}
	if boundary < 0 && len(alphaList) > 0 {
		boundary = alphaList[0]
	}
	if boundary < 0 && len(betaList) > 0 {
		boundary = betaList[0]
	}
	if boundary < 0 {
		return nil, nil, errors.WithHint(
			errors.Wrapf(detectors.ErrClusterSeparation, "cluster sizes %v", sizes),
			"change the number of clusters or the clustering algorithm",
		)
	}

	return slices.Clone(order[:boundary]), slices.Clone(order[boundary:]), nil
}

func (c *CBLOF) setSplit(large, small []int) {
	c.large = large
	c.small = small
	c.isLarge = make([]bool, len(c.centers))
	c.largeCenters = make([][]float64, 0, len(large))
	for _, l := range large {
		c.isLarge[l] = true
		c.largeCenters = append(c.largeCenters, c.centers[l])
	}
}

// decision scores samples already assigned to clusters.
func (c *CBLOF) decision(data [][]float64, labels []int) []float64 {
	scores := make([]float64, len(data))
	for i, sample := range data {
		scores[i] = c.scoreOne(sample, labels[i])
	}
	return scores
}

func (c *CBLOF) scoreOne(sample []float64, label int) float64 {
	var score float64
	if c.isLarge[label] {
		score = c.metric.Distance(sample, c.centers[label])
	} else {
		_, score = distance.Nearest(c.metric, sample, c.largeCenters)
	}
	if c.useWeights {
		score *= float64(c.sizes[label])
	}
	return score
}

// assign maps samples to clusters with the fitted clusterer, or by nearest
// center for a model restored with Load.
func (c *CBLOF) assign(data [][]float64) ([]int, error) {
	if c.estimator == nil {
		labels := make([]int, len(data))
		for i, sample := range data {
			labels[i], _ = distance.Nearest(distance.Euclidean{}, sample, c.centers)
		}
		return labels, nil
	}

	labels, err := c.estimator.Predict(data)
	if err != nil {
		return nil, errors.Wrap(err, "assign samples to clusters")
	}
	if len(labels) != len(data) {
		return nil, errors.Wrapf(detectors.ErrInvalidEstimator, "got %d labels for %d samples", len(labels), len(data))
	}
	if err := cluster.ValidateLabels(labels, len(c.centers)); err != nil {
		return nil, err
	}
	return labels, nil
}

// DecisionFunction returns the anomaly score of every sample. Fit must have
// been called, and data must have as many columns as the training data.
func (c *CBLOF) DecisionFunction(data [][]float64) ([]float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.decisionFunction(data)
}

func (c *CBLOF) decisionFunction(data [][]float64) ([]float64, error) {
	if !c.trained {
		return nil, detectors.ErrNotFitted
	}
	if err := detectors.CheckFeatures(data, c.nFeatures); err != nil {
		return nil, err
	}

	labels, err := c.assign(data)
	if err != nil {
		return nil, err
	}
	return c.decision(data, labels), nil
}

// Predict returns 1 for samples scoring above the threshold and 0 otherwise.
func (c *CBLOF) Predict(data [][]float64) ([]int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	scores, err := c.decisionFunction(data)
	if err != nil {
		return nil, err
	}
	return c.base.LabelScores(scores), nil
}

// PredictProba returns outlier probabilities scaled on the training scores.
func (c *CBLOF) PredictProba(data [][]float64) ([]float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	scores, err := c.decisionFunction(data)
	if err != nil {
		return nil, err
	}
	return c.base.ProbaScores(scores), nil
}

// Evaluate applies the threshold and probability scaling to scores already
// computed by DecisionFunction.
func (c *CBLOF) Evaluate(scores []float64) ([]int, []float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.trained {
		return nil, nil, detectors.ErrNotFitted
	}
	return c.base.LabelScores(scores), c.base.ProbaScores(scores), nil
}

// PredictStream scores samples from input until it is closed or ctx is done.
// Samples that cannot be scored are skipped.
func (c *CBLOF) PredictStream(ctx context.Context, input <-chan []float64, output chan<- detectors.Score) error {
	c.mu.RLock()
	if !c.trained {
		c.mu.RUnlock()
		return detectors.ErrNotFitted
	}
	c.mu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample, ok := <-input:
			if !ok {
				return nil
			}

			scores, err := c.DecisionFunction([][]float64{sample})
			if err != nil {
				c.logger.Debug("skipping sample", zap.Error(err))
				continue
			}

			select {
			case output <- detectors.Score{
				Value:     scores[0],
				IsAnomaly: scores[0] > c.Threshold(),
				Features:  sample,
			}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// DecisionScores returns the scores of the training data.
func (c *CBLOF) DecisionScores() []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.base.DecisionScores()
}

// Labels returns the binary labels of the training data.
func (c *CBLOF) Labels() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.base.Labels()
}

// Threshold returns the current anomaly threshold.
func (c *CBLOF) Threshold() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.base.Threshold()
}

// SetThreshold updates the anomaly threshold.
func (c *CBLOF) SetThreshold(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base.SetThreshold(t)
}

// ClusterLabels returns the cluster of every training sample.
func (c *CBLOF) ClusterLabels() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.labels)
}

// ClusterSizes returns the number of training samples in each cluster.
func (c *CBLOF) ClusterSizes() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.sizes)
}

// ClusterCenters returns a copy of the cluster centers.
func (c *CBLOF) ClusterCenters() [][]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	centers := make([][]float64, len(c.centers))
	for i, center := range c.centers {
		centers[i] = slices.Clone(center)
	}
	return centers
}

// LargeClusters returns the indices of the large clusters, largest first.
func (c *CBLOF) LargeClusters() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.large)
}

// SmallClusters returns the indices of the small clusters, largest first.
func (c *CBLOF) SmallClusters() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.small)
}
