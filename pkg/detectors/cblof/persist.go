package cblof

import (
	"bytes"
	"encoding/gob"
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/hed1ad/cblof/pkg/detectors"
	"github.com/hed1ad/cblof/pkg/distance"
)

// snapshot is the gob form of a trained CBLOF. The clusterer itself is not
// stored; a loaded model assigns samples to the nearest center.
type snapshot struct {
	Alpha      float64
	Beta       float64
	UseWeights bool
	MetricName string
	Precision  []float64
	Centers    [][]float64
	Labels     []int
	Sizes      []int
	Large      []int
	Small      []int
	NFeatures  int
	Base       detectors.BaseState
}

// Save serializes the trained model.
func (c *CBLOF) Save() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.trained {
		return nil, detectors.ErrNotFitted
	}

	s := snapshot{
		Alpha:      c.alpha,
		Beta:       c.beta,
		UseWeights: c.useWeights,
		MetricName: c.metricName,
		Centers:    c.centers,
		Labels:     c.labels,
		Sizes:      c.sizes,
		Large:      c.large,
		Small:      c.small,
		NFeatures:  c.nFeatures,
		Base:       c.base.State(),
	}
	if m, ok := c.metric.(*distance.Mahalanobis); ok {
		s.Precision = m.Precision
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, errors.Wrap(err, "encode cblof model")
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained model.
func (c *CBLOF) Load(data []byte) error {
	var s snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return errors.Wrap(err, "decode cblof model")
	}
	if err := s.validate(); err != nil {
		return errors.Wrap(err, "invalid cblof model")
	}

	var metric distance.Metric = distance.Euclidean{}
	if s.MetricName == distance.NameMahalanobis {
		metric = &distance.Mahalanobis{Precision: s.Precision, Dims: s.NFeatures}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.alpha = s.Alpha
	c.beta = s.Beta
	c.useWeights = s.UseWeights
	c.metricName = s.MetricName
	c.contamination = s.Base.Contamination
	c.estimator = nil
	c.metric = metric
	c.centers = s.Centers
	c.sizes = s.Sizes
	c.labels = s.Labels
	c.nFeatures = s.NFeatures
	c.setSplit(s.Large, s.Small)
	c.base.Restore(s.Base)
	c.trained = true
	return nil
}

// validate checks that every index and width in s is consistent, so that a
// loaded model can never index outside its centers.
func (s *snapshot) validate() error {
	k := len(s.Centers)
	if k == 0 || s.NFeatures < 1 {
		return errors.Wrapf(detectors.ErrMalformedInput, "%d centers of %d features", k, s.NFeatures)
	}
	for i, center := range s.Centers {
		if len(center) != s.NFeatures {
			return errors.Wrapf(detectors.ErrMalformedInput, "center %d has %d features, expected %d", i, len(center), s.NFeatures)
		}
	}
	if len(s.Sizes) != k {
		return errors.Wrapf(detectors.ErrMalformedInput, "%d cluster sizes for %d centers", len(s.Sizes), k)
	}
	if len(s.Large) == 0 {
		return errors.Wrap(detectors.ErrMalformedInput, "no large clusters")
	}

	seen := make([]bool, k)
	for _, l := range append(slices.Clone(s.Large), s.Small...) {
		if l < 0 || l >= k {
			return errors.Wrapf(detectors.ErrMalformedInput, "cluster %d outside [0, %d)", l, k)
		}
		if seen[l] {
			return errors.Wrapf(detectors.ErrMalformedInput, "cluster %d listed twice", l)
		}
		seen[l] = true
	}
	if i := slices.Index(seen, false); i >= 0 {
		return errors.Wrapf(detectors.ErrMalformedInput, "cluster %d is neither large nor small", i)
	}

	for i, l := range s.Labels {
		if l < 0 || l >= k {
			return errors.Wrapf(detectors.ErrMalformedInput, "sample %d has label %d outside [0, %d)", i, l, k)
		}
	}

	switch s.MetricName {
	case "", distance.NameEuclidean:
	case distance.NameMahalanobis:
		if len(s.Precision) != s.NFeatures*s.NFeatures {
			return errors.Wrap(detectors.ErrMalformedInput, "mahalanobis model without precision matrix")
		}
	default:
		return errors.Wrapf(detectors.ErrMalformedInput, "unknown metric %q", s.MetricName)
	}
	return nil
}
