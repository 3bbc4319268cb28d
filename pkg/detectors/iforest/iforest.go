// Package iforest implements the Isolation Forest algorithm for anomaly detection.
package iforest

import (
	"bytes"
	"context"
	"encoding/gob"
	"math"
	"math/rand"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/hed1ad/cblof/pkg/detectors"
)

// IsolationForest scores samples by how quickly random axis-aligned splits
// isolate them.
type IsolationForest struct {
	mu sync.RWMutex

	// Configuration
	nTrees        int
	sampleSize    int
	contamination float64
	seed          int64

	// Trained model
	trees         []*iTree
	avgPathLength float64
	nFeatures     int
	base          detectors.Base
	trained       bool
}

var _ detectors.StreamDetector = (*IsolationForest)(nil)

// iTree represents a single isolation tree.
type iTree struct {
	Root *node
}

// node is a node in the isolation tree. Fields are exported for gob.
type node struct {
	SplitFeature int
	SplitValue   float64
	Left         *node
	Right        *node
	// Size is the number of samples that reached this leaf.
	Size int
}

// Option configures an IsolationForest.
type Option func(*IsolationForest)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *IsolationForest) {
		f.nTrees = n
	}
}

// WithSampleSize sets the subsample size for each tree.
func WithSampleSize(n int) Option {
	return func(f *IsolationForest) {
		f.sampleSize = n
	}
}

// WithContamination sets the expected proportion of anomalies.
func WithContamination(c float64) Option {
	return func(f *IsolationForest) {
		f.contamination = c
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(f *IsolationForest) {
		f.seed = seed
	}
}

// WithConfig applies the shared detector configuration.
func WithConfig(cfg detectors.Config) Option {
	return func(f *IsolationForest) {
		f.contamination = cfg.Contamination
		f.seed = cfg.RandomSeed
	}
}

// New creates a new IsolationForest with the given options.
func New(opts ...Option) *IsolationForest {
	cfg := detectors.DefaultConfig()
	f := &IsolationForest{
		nTrees:        100,
		sampleSize:    256,
		contamination: cfg.Contamination,
		seed:          cfg.RandomSeed,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fit trains the Isolation Forest on the provided data.
func (f *IsolationForest) Fit(data [][]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	nFeatures, err := detectors.CheckArray(data)
	if err != nil {
		return err
	}
	if f.nTrees < 1 || f.sampleSize < 1 {
		return errors.Wrapf(detectors.ErrInvalidParameter, "n_trees=%d sample_size=%d", f.nTrees, f.sampleSize)
	}
	if err := detectors.ValidateContamination(f.contamination); err != nil {
		return err
	}

	nSamples := len(data)
	sampleSize := min(f.sampleSize, nSamples)
	maxDepth := int(math.Ceil(math.Log2(float64(sampleSize))))
	rng := rand.New(rand.NewSource(f.seed))

	trees := make([]*iTree, f.nTrees)
	for i := range trees {
		// Sample without replacement
		indices := rng.Perm(nSamples)[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, idx := range indices {
			sample[j] = data[idx]
		}
		trees[i] = &iTree{Root: buildNode(rng, sample, nFeatures, 0, maxDepth)}
	}

	f.trees = trees
	f.avgPathLength = averagePathLength(float64(sampleSize))
	f.nFeatures = nFeatures

	base := detectors.NewBase(f.contamination)
	if err := base.ProcessDecisionScores(f.decision(data)); err != nil {
		return err
	}
	f.base = base
	f.trained = true
	return nil
}

func buildNode(rng *rand.Rand, data [][]float64, nFeatures, depth, maxDepth int) *node {
	n := len(data)

	// Terminal conditions
	if depth >= maxDepth || n <= 1 {
		return &node{Size: n}
	}

	feature := rng.Intn(nFeatures)

	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		minVal = math.Min(minVal, row[feature])
		maxVal = math.Max(maxVal, row[feature])
	}

	// Constant feature: nothing left to isolate on this axis
	if minVal == maxVal {
		return &node{Size: n}
	}

	splitValue := minVal + rng.Float64()*(maxVal-minVal)

	var leftData, rightData [][]float64
	for _, row := range data {
		if row[feature] < splitValue {
			leftData = append(leftData, row)
		} else {
			rightData = append(rightData, row)
		}
	}

	return &node{
		SplitFeature: feature,
		SplitValue:   splitValue,
		Left:         buildNode(rng, leftData, nFeatures, depth+1, maxDepth),
		Right:        buildNode(rng, rightData, nFeatures, depth+1, maxDepth),
	}
}

// DecisionFunction returns anomaly scores in (0, 1]; higher is more anomalous.
func (f *IsolationForest) DecisionFunction(data [][]float64) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.decisionFunction(data)
}

func (f *IsolationForest) decisionFunction(data [][]float64) ([]float64, error) {
	if !f.trained {
		return nil, detectors.ErrNotFitted
	}
	if err := detectors.CheckFeatures(data, f.nFeatures); err != nil {
		return nil, err
	}
	return f.decision(data), nil
}

func (f *IsolationForest) decision(data [][]float64) []float64 {
	scores := make([]float64, len(data))
	for i, sample := range data {
		scores[i] = f.scoreOne(sample)
	}
	return scores
}

// scoreOne computes 2^(-E[h(x)] / c(n)).
func (f *IsolationForest) scoreOne(sample []float64) float64 {
	var totalPath float64
	for _, tree := range f.trees {
		totalPath += pathLength(sample, tree.Root, 0)
	}
	avgPath := totalPath / float64(len(f.trees))

	if f.avgPathLength == 0 {
		return 1
	}
	return math.Pow(2, -avgPath/f.avgPathLength)
}

// Predict returns 1 for samples scoring above the threshold and 0 otherwise.
func (f *IsolationForest) Predict(data [][]float64) ([]int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	scores, err := f.decisionFunction(data)
	if err != nil {
		return nil, err
	}
	return f.base.LabelScores(scores), nil
}

// PredictProba returns outlier probabilities scaled on the training scores.
func (f *IsolationForest) PredictProba(data [][]float64) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	scores, err := f.decisionFunction(data)
	if err != nil {
		return nil, err
	}
	return f.base.ProbaScores(scores), nil
}

// Evaluate applies the threshold and probability scaling to scores already
// computed by DecisionFunction.
func (f *IsolationForest) Evaluate(scores []float64) ([]int, []float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, nil, detectors.ErrNotFitted
	}
	return f.base.LabelScores(scores), f.base.ProbaScores(scores), nil
}

// pathLength calculates the path length for a sample in a tree.
func pathLength(sample []float64, n *node, currentDepth int) float64 {
	if n.Left == nil && n.Right == nil {
		// Leaf node: add expected path length for remaining isolation
		return float64(currentDepth) + averagePathLength(float64(n.Size))
	}

	if sample[n.SplitFeature] < n.SplitValue {
		return pathLength(sample, n.Left, currentDepth+1)
	}
	return pathLength(sample, n.Right, currentDepth+1)
}

// averagePathLength returns the average path length of unsuccessful search in BST.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	// c(n) = 2*H(n-1) - 2*(n-1)/n, with H(i) ~ ln(i) + Euler-Mascheroni
	return 2*(math.Log(n-1)+0.5772156649) - 2*(n-1)/n
}

// PredictStream processes samples from a channel.
func (f *IsolationForest) PredictStream(ctx context.Context, input <-chan []float64, output chan<- detectors.Score) error {
	f.mu.RLock()
	if !f.trained {
		f.mu.RUnlock()
		return detectors.ErrNotFitted
	}
	f.mu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample, ok := <-input:
			if !ok {
				return nil
			}

			scores, err := f.DecisionFunction([][]float64{sample})
			if err != nil {
				continue
			}

			select {
			case output <- detectors.Score{
				Value:     scores[0],
				IsAnomaly: scores[0] > f.Threshold(),
				Features:  sample,
			}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// snapshot is the gob form of a trained forest.
type snapshot struct {
	NTrees        int
	SampleSize    int
	AvgPathLength float64
	NFeatures     int
	Trees         []*iTree
	Base          detectors.BaseState
}

// Save serializes the trained model.
func (f *IsolationForest) Save() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, detectors.ErrNotFitted
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(snapshot{
		NTrees:        f.nTrees,
		SampleSize:    f.sampleSize,
		AvgPathLength: f.avgPathLength,
		NFeatures:     f.nFeatures,
		Trees:         f.trees,
		Base:          f.base.State(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode isolation forest")
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained model.
func (f *IsolationForest) Load(data []byte) error {
	var s snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return errors.Wrap(err, "decode isolation forest")
	}
	if len(s.Trees) == 0 {
		return errors.Wrap(detectors.ErrMalformedInput, "isolation forest without trees")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nTrees = s.NTrees
	f.sampleSize = s.SampleSize
	f.contamination = s.Base.Contamination
	f.avgPathLength = s.AvgPathLength
	f.nFeatures = s.NFeatures
	f.trees = s.Trees
	f.base.Restore(s.Base)
	f.trained = true
	return nil
}

// DecisionScores returns the scores of the training data.
func (f *IsolationForest) DecisionScores() []float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.base.DecisionScores()
}

// Labels returns the binary labels of the training data.
func (f *IsolationForest) Labels() []int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.base.Labels()
}

// Threshold returns the current anomaly threshold.
func (f *IsolationForest) Threshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.base.Threshold()
}

// SetThreshold updates the anomaly threshold.
func (f *IsolationForest) SetThreshold(t float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.base.SetThreshold(t)
}
