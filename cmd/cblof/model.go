package main

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/hed1ad/cblof/internal/config"
	"github.com/hed1ad/cblof/pkg/detectors"
	"github.com/hed1ad/cblof/pkg/detectors/cblof"
	"github.com/hed1ad/cblof/pkg/detectors/iforest"
	gio "github.com/hed1ad/cblof/pkg/io"
	"github.com/hed1ad/cblof/pkg/io/csv"
	"github.com/hed1ad/cblof/pkg/io/pcap"
)

// modelFile is the on-disk envelope naming the algorithm of a saved model.
type modelFile struct {
	Algorithm string
	Model     []byte
}

func newDetector(cfg config.DetectorConfig, log *zap.Logger) (detectors.StreamDetector, error) {
	switch cfg.Algorithm {
	case config.AlgorithmCBLOF:
		return cblof.New(
			cblof.WithConfig(cfg.Shared()),
			cblof.WithAlpha(cfg.Alpha),
			cblof.WithBeta(cfg.Beta),
			cblof.WithClusters(cfg.Clusters),
			cblof.WithMetric(cfg.Metric),
			cblof.WithWeights(cfg.Weights),
			cblof.WithLogger(log),
		), nil
	case config.AlgorithmIForest:
		return iforest.New(
			iforest.WithConfig(cfg.Shared()),
			iforest.WithTrees(cfg.Trees),
		), nil
	default:
		return nil, errors.Newf("unknown algorithm %q", cfg.Algorithm)
	}
}

func saveModel(path, algorithm string, det detectors.Detector) error {
	data, err := det.Save()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(modelFile{Algorithm: algorithm, Model: data}); err != nil {
		return errors.Wrap(err, "encode model file")
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "write model %s", path)
	}
	return nil
}

func loadModel(path string, log *zap.Logger) (detectors.StreamDetector, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", errors.Wrapf(err, "read model %s", path)
	}

	var mf modelFile
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&mf); err != nil {
		return nil, "", errors.WithHint(
			errors.Wrapf(err, "decode model %s", path),
			"model files are written by the fit command",
		)
	}

	var det detectors.StreamDetector
	switch mf.Algorithm {
	case config.AlgorithmCBLOF:
		det = cblof.New(cblof.WithLogger(log))
	case config.AlgorithmIForest:
		det = iforest.New()
	default:
		return nil, "", errors.Newf("model %s has unknown algorithm %q", path, mf.Algorithm)
	}
	if err := det.Load(mf.Model); err != nil {
		return nil, "", errors.Wrapf(err, "load %s model", mf.Algorithm)
	}
	return det, mf.Algorithm, nil
}

// openInput opens a feature source. Files ending in .pcap are read as packet
// captures, anything else as CSV.
func openInput(path string, header, strict bool) (gio.Reader, error) {
	if strings.EqualFold(filepath.Ext(path), ".pcap") {
		return pcap.NewFileReader(path)
	}
	return csv.NewReader(path, csv.WithHeader(header), csv.WithStrict(strict))
}

// readInput loads the whole feature matrix of path, see openInput.
func readInput(path string, header, strict bool) ([][]float64, error) {
	r, err := openInput(path, header, strict)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Read()
}
