// Package kmeans implements mini-batch k-means, the default clustering
// algorithm of the cluster-based detectors.
package kmeans

import (
	"math"
	"math/rand"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/hed1ad/cblof/pkg/detectors"
	"github.com/hed1ad/cblof/pkg/distance"
)

// KMeans clusters samples by repeatedly moving centers towards random
// mini-batches of the data.
type KMeans struct {
	mu sync.RWMutex

	// Configuration
	nClusters int
	batchSize int
	maxIter   int
	tol       float64
	seed      int64
	workers   int

	// Fitted state
	centers [][]float64
	labels  []int
	nIter   int
	trained bool
}

// Option configures a KMeans.
type Option func(*KMeans)

// WithClusters sets the number of clusters.
func WithClusters(k int) Option {
	return func(km *KMeans) {
		km.nClusters = k
	}
}

// WithBatchSize sets the number of samples drawn per iteration.
func WithBatchSize(n int) Option {
	return func(km *KMeans) {
		km.batchSize = n
	}
}

// WithMaxIter caps the number of mini-batch iterations.
func WithMaxIter(n int) Option {
	return func(km *KMeans) {
		km.maxIter = n
	}
}

// WithTol sets the mean squared center shift below which fitting stops early.
func WithTol(tol float64) Option {
	return func(km *KMeans) {
		km.tol = tol
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(km *KMeans) {
		km.seed = seed
	}
}

// WithWorkers sets how many goroutines assign samples to centers.
func WithWorkers(n int) Option {
	return func(km *KMeans) {
		km.workers = n
	}
}

// New creates a new KMeans with the given options.
func New(opts ...Option) *KMeans {
	km := &KMeans{
		nClusters: 8,
		batchSize: 1024,
		maxIter:   100,
		tol:       1e-6,
		seed:      42,
		workers:   1,
	}

	for _, opt := range opts {
		opt(km)
	}

	return km
}

// SetSeed implements cluster.Seeder.
func (km *KMeans) SetSeed(seed int64) {
	km.mu.Lock()
	defer km.mu.Unlock()
	km.seed = seed
}

// SetWorkers implements cluster.Parallel.
func (km *KMeans) SetWorkers(n int) {
	km.mu.Lock()
	defer km.mu.Unlock()
	km.workers = n
}

// Fit clusters data into the configured number of clusters.
func (km *KMeans) Fit(data [][]float64) error {
	km.mu.Lock()
	defer km.mu.Unlock()

	if _, err := detectors.CheckArray(data); err != nil {
		return err
	}
	if km.nClusters < 1 {
		return errors.Wrapf(detectors.ErrInvalidParameter, "n_clusters must be positive, got %d", km.nClusters)
	}
	if km.batchSize < 1 || km.maxIter < 0 {
		return errors.Wrapf(detectors.ErrInvalidParameter, "batch_size=%d max_iter=%d", km.batchSize, km.maxIter)
	}

	nSamples := len(data)
	if nSamples < km.nClusters {
		return errors.Wrapf(detectors.ErrInvalidParameter, "n_samples=%d should be >= n_clusters=%d", nSamples, km.nClusters)
	}

	rng := rand.New(rand.NewSource(km.seed))
	centers := initPlusPlus(data, km.nClusters, rng)
	counts := make([]float64, km.nClusters)

	batchSize := min(km.batchSize, nSamples)
	batch := make([][]float64, batchSize)
	previous := make([][]float64, km.nClusters)

	iter := 0
	for ; iter < km.maxIter; iter++ {
		for j, idx := range rng.Perm(nSamples)[:batchSize] {
			batch[j] = data[idx]
		}
		for c := range centers {
			previous[c] = slices.Clone(centers[c])
		}

		assigned, err := km.assign(batch, centers)
		if err != nil {
			return err
		}

		// Per-center learning rate 1/count turns each center into the
		// running mean of every sample it has absorbed.
		for j, c := range assigned {
			counts[c]++
			eta := 1 / counts[c]
			for f, v := range batch[j] {
				centers[c][f] += eta * (v - centers[c][f])
			}
		}

		var shift float64
		for c := range centers {
			d := floats.Distance(previous[c], centers[c], 2)
			shift += d * d
		}
		if shift/float64(km.nClusters) <= km.tol {
			iter++
			break
		}
	}

	labels, err := km.assign(data, centers)
	if err != nil {
		return err
	}

	km.centers = centers
	km.labels = labels
	km.nIter = iter
	km.trained = true
	return nil
}

// Predict assigns each sample to its nearest fitted center.
func (km *KMeans) Predict(data [][]float64) ([]int, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()

	if !km.trained {
		return nil, detectors.ErrNotFitted
	}
	if err := detectors.CheckFeatures(data, len(km.centers[0])); err != nil {
		return nil, err
	}
	return km.assign(data, km.centers)
}

// Labels returns the cluster of every sample seen by the last Fit.
func (km *KMeans) Labels() []int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return slices.Clone(km.labels)
}

// Centers returns a copy of the fitted centers.
func (km *KMeans) Centers() [][]float64 {
	km.mu.RLock()
	defer km.mu.RUnlock()

	centers := make([][]float64, len(km.centers))
	for i, c := range km.centers {
		centers[i] = slices.Clone(c)
	}
	return centers
}

// Iterations returns the number of mini-batch steps the last Fit ran.
func (km *KMeans) Iterations() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.nIter
}

// assign labels each sample with its nearest center, splitting the rows
// across km.workers goroutines.
func (km *KMeans) assign(data, centers [][]float64) ([]int, error) {
	labels := make([]int, len(data))

	workers := max(km.workers, 1)
	chunk := (len(data) + workers - 1) / workers

	var g errgroup.Group
	g.SetLimit(workers)
	for start := 0; start < len(data); start += chunk {
		end := min(start+chunk, len(data))
		g.Go(func() error {
			for i := start; i < end; i++ {
				labels[i], _ = distance.Nearest(distance.Euclidean{}, data[i], centers)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return labels, nil
}

// initPlusPlus picks k initial centers with k-means++ seeding: each new
// center is drawn with probability proportional to its squared distance
// from the closest center already chosen.
func initPlusPlus(data [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(data)
	centers := make([][]float64, 0, k)
	centers = append(centers, slices.Clone(data[rng.Intn(n)]))

	closest := make([]float64, n)
	for i := range closest {
		closest[i] = math.Inf(1)
	}

	for len(centers) < k {
		last := centers[len(centers)-1]
		var total float64
		for i, point := range data {
			d := floats.Distance(point, last, 2)
			closest[i] = math.Min(closest[i], d*d)
			total += closest[i]
		}

		next := rng.Intn(n)
		if total > 0 {
			r := rng.Float64() * total
			var sum float64
			for i, d := range closest {
				sum += d
				if sum >= r && d > 0 {
					next = i
					break
				}
			}
		}
		centers = append(centers, slices.Clone(data[next]))
	}
	return centers
}
