package cblof

import (
	"bytes"
	"context"
	"encoding/gob"
	"math"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/cblof/pkg/cluster"
	"github.com/hed1ad/cblof/pkg/detectors"
	"github.com/hed1ad/cblof/pkg/distance"
)

// fixedCenters assigns every sample to the nearest of a fixed set of centers.
type fixedCenters struct {
	centers [][]float64
	labels  []int
}

func (f *fixedCenters) Fit(data [][]float64) error {
	f.labels, _ = f.Predict(data)
	return nil
}

func (f *fixedCenters) Predict(data [][]float64) ([]int, error) {
	labels := make([]int, len(data))
	for i, row := range data {
		labels[i], _ = distance.Nearest(distance.Euclidean{}, row, f.centers)
	}
	return labels, nil
}

func (f *fixedCenters) Labels() []int        { return slices.Clone(f.labels) }
func (f *fixedCenters) Centers() [][]float64 { return f.centers }

// brokenLabels reports one label fewer than it was given samples.
type brokenLabels struct{ fixedCenters }

func (b *brokenLabels) Labels() []int { return b.labels[1:] }

func TestNewCBLOF(t *testing.T) {
	tests := []struct {
		name      string
		opts      []Option
		wantAlpha float64
		wantBeta  float64
	}{
		{
			name:      "default configuration",
			wantAlpha: 0.9,
			wantBeta:  5,
		},
		{
			name:      "custom alpha and beta",
			opts:      []Option{WithAlpha(0.8), WithBeta(3)},
			wantAlpha: 0.8,
			wantBeta:  3,
		},
		{
			name:      "invalid values are accepted until fit",
			opts:      []Option{WithAlpha(2), WithBeta(-1)},
			wantAlpha: 2,
			wantBeta:  -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.opts...)
			assert.Equal(t, tt.wantAlpha, c.alpha)
			assert.Equal(t, tt.wantBeta, c.beta)
			assert.Equal(t, 0.1, c.contamination)
			assert.False(t, c.trained)
		})
	}
}

func TestFitInvalidParameters(t *testing.T) {
	data := twoBlobsWithOutliers(rand.New(rand.NewSource(1)))

	tests := []struct {
		name string
		opts []Option
	}{
		{name: "alpha zero", opts: []Option{WithAlpha(0)}},
		{name: "alpha one", opts: []Option{WithAlpha(1)}},
		{name: "alpha negative", opts: []Option{WithAlpha(-0.3)}},
		{name: "alpha above one", opts: []Option{WithAlpha(1.7)}},
		{name: "alpha NaN", opts: []Option{WithAlpha(math.NaN())}},
		{name: "beta zero", opts: []Option{WithBeta(0)}},
		{name: "beta negative", opts: []Option{WithBeta(-2)}},
		{name: "contamination zero", opts: []Option{WithContamination(0)}},
		{name: "contamination above half", opts: []Option{WithContamination(0.6)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.opts...)
			err := c.Fit(data)
			assert.ErrorIs(t, err, detectors.ErrInvalidParameter)
			assert.False(t, c.trained)
		})
	}
}

func TestFitEstimatorErrors(t *testing.T) {
	data := twoBlobsWithOutliers(rand.New(rand.NewSource(1)))

	t.Run("no clusterer and no default", func(t *testing.T) {
		c := New(WithDefaultClusterer(nil))
		assert.ErrorIs(t, c.Fit(data), detectors.ErrMissingEstimator)
	})

	t.Run("clusterer breaks contract", func(t *testing.T) {
		c := New(WithClusterer(&brokenLabels{fixedCenters{centers: [][]float64{{0, 0}, {10, 10}}}}))
		assert.ErrorIs(t, c.Fit(data), detectors.ErrInvalidEstimator)
	})

	t.Run("clusters cannot be separated", func(t *testing.T) {
		c := New(WithClusterer(&fixedCenters{centers: [][]float64{{0, 0}}}))
		assert.ErrorIs(t, c.Fit(data), detectors.ErrClusterSeparation)
	})
}

// countingFits records how often it was fitted.
type countingFits struct {
	fixedCenters
	fits int
}

func (c *countingFits) Fit(data [][]float64) error {
	c.fits++
	return c.fixedCenters.Fit(data)
}

func TestFitMetricErrors(t *testing.T) {
	data := twoBlobsWithOutliers(rand.New(rand.NewSource(1)))

	t.Run("unknown metric is rejected before clustering", func(t *testing.T) {
		est := &countingFits{fixedCenters: fixedCenters{centers: [][]float64{{0, 0}, {10, 10}}}}
		c := New(WithClusterer(est), WithMetric("cosine"))

		assert.ErrorIs(t, c.Fit(data), detectors.ErrInvalidParameter)
		assert.Zero(t, est.fits)
	})

	t.Run("singular covariance", func(t *testing.T) {
		flat := make([][]float64, 50)
		for i := range flat {
			flat[i] = []float64{float64(i), 3}
		}
		c := New(WithClusters(2), WithMetric(distance.NameMahalanobis))
		assert.ErrorIs(t, c.Fit(flat), detectors.ErrMalformedInput)
	})
}

func TestFitManyClusters(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	data := make([][]float64, 2000)
	for i := range data {
		data[i] = []float64{rng.NormFloat64(), rng.NormFloat64()}
	}

	c := New(WithClusters(80), WithSeed(42))
	require.NoError(t, c.Fit(data))

	assert.Len(t, c.ClusterCenters(), 80)
	assert.Len(t, c.DecisionScores(), len(data))
	assert.Equal(t, 80, len(c.LargeClusters())+len(c.SmallClusters()))
}

func TestFitMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		data [][]float64
	}{
		{name: "empty data", data: [][]float64{}},
		{name: "ragged rows", data: [][]float64{{1, 2}, {3}}},
		{name: "NaN value", data: [][]float64{{1, 2}, {math.NaN(), 4}}},
		{name: "infinite value", data: [][]float64{{1, 2}, {3, math.Inf(-1)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, New().Fit(tt.data), detectors.ErrMalformedInput)
		})
	}
}

func TestFitWithFixedClusters(t *testing.T) {
	var data [][]float64
	for i := 0; i < 5; i++ {
		data = append(data, []float64{0, 0}, []float64{1, 0})
		data = append(data, []float64{10, 0}, []float64{10, 1})
	}
	data = append(data, []float64{5, 20})

	centers := [][]float64{{0, 0}, {10, 0}, {5, 20}}

	c := New(WithClusterer(&fixedCenters{centers: centers}))
	require.NoError(t, c.Fit(data))

	assert.Equal(t, []int{10, 10, 1}, c.ClusterSizes())
	assert.Equal(t, []int{0, 1}, c.LargeClusters())
	assert.Equal(t, []int{2}, c.SmallClusters())

	scores := c.DecisionScores()
	require.Len(t, scores, len(data))
	assert.InDelta(t, 0.0, scores[0], 1e-12)
	assert.InDelta(t, 1.0, scores[1], 1e-12)
	assert.InDelta(t, 1.0, scores[3], 1e-12)
	// the lone sample owns a small cluster and is measured against the
	// nearest large center
	assert.InDelta(t, math.Sqrt(425), scores[20], 1e-12)

	t.Run("weighted by cluster size", func(t *testing.T) {
		w := New(WithClusterer(&fixedCenters{centers: centers}), WithWeights(true))
		require.NoError(t, w.Fit(data))

		scores := w.DecisionScores()
		assert.InDelta(t, 10.0, scores[1], 1e-12)
		assert.InDelta(t, math.Sqrt(425), scores[20], 1e-12)
	})
}

func TestSplitClusters(t *testing.T) {
	tests := []struct {
		name      string
		sizes     []int
		alpha     float64
		beta      float64
		wantLarge []int
		wantSmall []int
		wantErr   bool
	}{
		{
			name:      "alpha only",
			sizes:     []int{50, 30, 15, 5},
			alpha:     0.9,
			beta:      5,
			wantLarge: []int{0, 1, 2},
			wantSmall: []int{3},
		},
		{
			name:      "unsorted sizes",
			sizes:     []int{5, 50, 30, 15},
			alpha:     0.9,
			beta:      5,
			wantLarge: []int{1, 2, 3},
			wantSmall: []int{0},
		},
		{
			name:      "beta only",
			sizes:     []int{60, 10, 10, 10, 10},
			alpha:     0.95,
			beta:      5,
			wantLarge: []int{0},
			wantSmall: []int{1, 2, 3, 4},
		},
		{
			name:      "alpha and beta agree",
			sizes:     []int{45, 45, 5, 5},
			alpha:     0.9,
			beta:      5,
			wantLarge: []int{0, 1},
			wantSmall: []int{2, 3},
		},
		{
			name:    "no valid separation",
			sizes:   []int{40, 40, 20},
			alpha:   0.9,
			beta:    5,
			wantErr: true,
		},
		{
			name:    "single cluster",
			sizes:   []int{100},
			alpha:   0.9,
			beta:    5,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := 0
			for _, s := range tt.sizes {
				n += s
			}

			large, small, err := splitClusters(tt.sizes, n, tt.alpha, tt.beta)
			if tt.wantErr {
				assert.ErrorIs(t, err, detectors.ErrClusterSeparation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLarge, large)
			assert.Equal(t, tt.wantSmall, small)
		})
	}
}

func TestFitScores(t *testing.T) {
	data := twoBlobsWithOutliers(rand.New(rand.NewSource(7)))

	for _, metric := range []string{distance.NameEuclidean, distance.NameMahalanobis} {
		t.Run(metric, func(t *testing.T) {
			c := New(WithSeed(42), WithMetric(metric))
			require.NoError(t, c.Fit(data))

			scores := c.DecisionScores()
			require.Len(t, scores, len(data))
			for _, s := range scores {
				assert.False(t, math.IsNaN(s) || math.IsInf(s, 0))
				assert.GreaterOrEqual(t, s, 0.0)
			}
			assert.Len(t, c.Labels(), len(data))
			assert.Len(t, c.ClusterLabels(), len(data))
		})
	}
}

func TestOutliersScoreHigher(t *testing.T) {
	data := twoBlobsWithOutliers(rand.New(rand.NewSource(3)))
	nInliers := len(data) - len(farPoints)

	c := New(WithSeed(42), WithContamination(0.02))
	require.NoError(t, c.Fit(data))

	scores := c.DecisionScores()
	maxInlier := slices.Max(scores[:nInliers])
	minOutlier := slices.Min(scores[nInliers:])
	assert.Greater(t, minOutlier, maxInlier)

	labels := c.Labels()
	for i := nInliers; i < len(data); i++ {
		assert.Equal(t, 1, labels[i], "outlier %d not labelled", i)
	}

	t.Run("unseen samples", func(t *testing.T) {
		test := [][]float64{{0.1, -0.2}, {9.8, 10.1}, {-45, 5}, {60, -60}}
		scores, err := c.DecisionFunction(test)
		require.NoError(t, err)
		assert.Greater(t, min(scores[2], scores[3]), max(scores[0], scores[1]))

		labels, err := c.Predict(test)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 0, 1, 1}, labels)

		proba, err := c.PredictProba(test)
		require.NoError(t, err)
		for _, p := range proba {
			assert.GreaterOrEqual(t, p, 0.0)
			assert.LessOrEqual(t, p, 1.0)
		}
		assert.Equal(t, 1.0, proba[3])
	})
}

func TestDecisionFunction(t *testing.T) {
	data := twoBlobsWithOutliers(rand.New(rand.NewSource(5)))

	t.Run("before fit", func(t *testing.T) {
		c := New()
		_, err := c.DecisionFunction(data)
		assert.ErrorIs(t, err, detectors.ErrNotFitted)
		_, err = c.Predict(data)
		assert.ErrorIs(t, err, detectors.ErrNotFitted)
		_, _, err = c.Evaluate([]float64{1})
		assert.ErrorIs(t, err, detectors.ErrNotFitted)
	})

	c := New(WithSeed(1))
	require.NoError(t, c.Fit(data))

	t.Run("mismatched columns", func(t *testing.T) {
		_, err := c.DecisionFunction([][]float64{{1, 2, 3}})
		assert.ErrorIs(t, err, detectors.ErrMalformedInput)
	})

	t.Run("non-finite input", func(t *testing.T) {
		_, err := c.DecisionFunction([][]float64{{1, math.NaN()}})
		assert.ErrorIs(t, err, detectors.ErrMalformedInput)
	})

	t.Run("training data reproduces training scores", func(t *testing.T) {
		scores, err := c.DecisionFunction(data)
		require.NoError(t, err)
		assert.InDeltaSlice(t, c.DecisionScores(), scores, 1e-9)
	})

	t.Run("evaluate matches predict", func(t *testing.T) {
		test := [][]float64{{0.2, 0.1}, {10, 9.5}, {-40, 40}}
		scores, err := c.DecisionFunction(test)
		require.NoError(t, err)

		labels, proba, err := c.Evaluate(scores)
		require.NoError(t, err)

		wantLabels, err := c.Predict(test)
		require.NoError(t, err)
		wantProba, err := c.PredictProba(test)
		require.NoError(t, err)
		assert.Equal(t, wantLabels, labels)
		assert.Equal(t, wantProba, proba)
	})
}

func TestPredictStream(t *testing.T) {
	c := New(WithSeed(42))
	require.NoError(t, c.Fit(twoBlobsWithOutliers(rand.New(rand.NewSource(2)))))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	input := make(chan []float64, 10)
	output := make(chan detectors.Score, 10)

	go func() {
		defer close(output)
		err := c.PredictStream(ctx, input, output)
		assert.NoError(t, err)
	}()

	testSamples := [][]float64{
		{0.1, 0.1},
		{80, -80}, // anomaly
		{1, 2, 3}, // wrong width, skipped
		{10, 10},
	}
	for _, sample := range testSamples {
		input <- sample
	}
	close(input)

	results := make([]detectors.Score, 0, len(testSamples))
	for score := range output {
		results = append(results, score)
	}

	require.Len(t, results, 3)
	assert.False(t, results[0].IsAnomaly)
	assert.True(t, results[1].IsAnomaly)
	assert.False(t, results[2].IsAnomaly)
}

func TestPredictStreamNotFitted(t *testing.T) {
	err := New().PredictStream(context.Background(), make(chan []float64), make(chan detectors.Score))
	assert.ErrorIs(t, err, detectors.ErrNotFitted)
}

func TestSaveLoad(t *testing.T) {
	data := twoBlobsWithOutliers(rand.New(rand.NewSource(4)))
	test := twoBlobsWithOutliers(rand.New(rand.NewSource(40)))

	for _, metric := range []string{distance.NameEuclidean, distance.NameMahalanobis} {
		t.Run(metric, func(t *testing.T) {
			original := New(WithSeed(42), WithMetric(metric), WithContamination(0.05))
			require.NoError(t, original.Fit(data))

			originalScores, err := original.DecisionFunction(test)
			require.NoError(t, err)

			blob, err := original.Save()
			require.NoError(t, err)
			assert.NotEmpty(t, blob)

			loaded := New()
			require.NoError(t, loaded.Load(blob))

			loadedScores, err := loaded.DecisionFunction(test)
			require.NoError(t, err)
			assert.InDeltaSlice(t, originalScores, loadedScores, 1e-9)
			assert.Equal(t, original.Threshold(), loaded.Threshold())
			assert.Equal(t, original.Labels(), loaded.Labels())
			assert.Equal(t, original.LargeClusters(), loaded.LargeClusters())
		})
	}

	t.Run("save before fit", func(t *testing.T) {
		_, err := New().Save()
		assert.ErrorIs(t, err, detectors.ErrNotFitted)
	})

	t.Run("load garbage", func(t *testing.T) {
		assert.Error(t, New().Load([]byte("not a model")))
	})
}

func TestLoadRejectsInconsistentModel(t *testing.T) {
	c := New(WithSeed(42), WithClusterer(&fixedCenters{centers: [][]float64{{0, 0}, {10, 10}, {30, -25}}}))
	require.NoError(t, c.Fit(twoBlobsWithOutliers(rand.New(rand.NewSource(4)))))
	blob, err := c.Save()
	require.NoError(t, err)

	decode := func(t *testing.T) snapshot {
		var s snapshot
		require.NoError(t, gob.NewDecoder(bytes.NewReader(blob)).Decode(&s))
		return s
	}

	tests := []struct {
		name   string
		mutate func(*snapshot)
	}{
		{name: "large index out of range", mutate: func(s *snapshot) { s.Large = []int{7} }},
		{name: "negative small index", mutate: func(s *snapshot) { s.Small = []int{-1} }},
		{name: "cluster listed twice", mutate: func(s *snapshot) { s.Small = append(s.Small, s.Large[0]) }},
		{name: "cluster missing", mutate: func(s *snapshot) { s.Small = nil }},
		{name: "no large clusters", mutate: func(s *snapshot) { s.Large = nil }},
		{name: "center width", mutate: func(s *snapshot) { s.Centers[1] = []float64{10} }},
		{name: "sizes length", mutate: func(s *snapshot) { s.Sizes = s.Sizes[:1] }},
		{name: "label out of range", mutate: func(s *snapshot) { s.Labels[0] = 3 }},
		{name: "no features", mutate: func(s *snapshot) { s.NFeatures = 0 }},
		{name: "mahalanobis without precision", mutate: func(s *snapshot) { s.MetricName = distance.NameMahalanobis }},
		{name: "unknown metric", mutate: func(s *snapshot) { s.MetricName = "cosine" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := decode(t)
			tt.mutate(&s)

			var buf bytes.Buffer
			require.NoError(t, gob.NewEncoder(&buf).Encode(s))

			loaded := New()
			assert.ErrorIs(t, loaded.Load(buf.Bytes()), detectors.ErrMalformedInput)
			assert.False(t, loaded.trained)
		})
	}

	t.Run("unmodified model loads", func(t *testing.T) {
		s := decode(t)
		var buf bytes.Buffer
		require.NoError(t, gob.NewEncoder(&buf).Encode(s))
		assert.NoError(t, New().Load(buf.Bytes()))
	})
}

func TestThreshold(t *testing.T) {
	c := New(WithSeed(42))
	require.NoError(t, c.Fit(twoBlobsWithOutliers(rand.New(rand.NewSource(8)))))

	c.SetThreshold(1e9)
	assert.Equal(t, 1e9, c.Threshold())

	labels, err := c.Predict([][]float64{{100, 100}})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, labels)
}

func TestSeedAndWorkersAreForwarded(t *testing.T) {
	data := twoBlobsWithOutliers(rand.New(rand.NewSource(6)))

	a := New(WithSeed(9), WithWorkers(1))
	b := New(WithSeed(9), WithWorkers(4))
	require.NoError(t, a.Fit(data))
	require.NoError(t, b.Fit(data))

	assert.Equal(t, a.DecisionScores(), b.DecisionScores())
}

func TestImplementsDetector(t *testing.T) {
	var d detectors.Detector = New()
	_, ok := d.(detectors.StreamDetector)
	assert.True(t, ok)

	var _ cluster.Clusterer = &fixedCenters{}
}

func BenchmarkFit(b *testing.B) {
	data := twoBlobsWithOutliers(rand.New(rand.NewSource(1)))
	c := New()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Fit(data)
	}
}

func BenchmarkDecisionFunction(b *testing.B) {
	data := twoBlobsWithOutliers(rand.New(rand.NewSource(1)))
	c := New()
	c.Fit(data)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.DecisionFunction(data)
	}
}

// farPoints sit far away from both blobs and from each other.
var farPoints = [][]float64{
	{30, -25},
	{-28, 32},
	{35, 38},
	{-30, -35},
}

// twoBlobsWithOutliers returns 100 points around (0, 0), 100 points around
// (10, 10), then farPoints.
func twoBlobsWithOutliers(rng *rand.Rand) [][]float64 {
	data := make([][]float64, 0, 200+len(farPoints))
	for _, c := range [][]float64{{0, 0}, {10, 10}} {
		for i := 0; i < 100; i++ {
			data = append(data, []float64{
				c[0] + 0.5*rng.NormFloat64(),
				c[1] + 0.5*rng.NormFloat64(),
			})
		}
	}
	for _, p := range farPoints {
		data = append(data, slices.Clone(p))
	}
	return data
}
