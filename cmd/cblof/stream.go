package main

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/cblof/pkg/detectors"
	gio "github.com/hed1ad/cblof/pkg/io"
	"github.com/hed1ad/cblof/pkg/io/jsonl"
)

// runStream scores samples from src one at a time as they arrive and writes
// each result as soon as it is scored. It returns when src is exhausted or
// ctx is done.
func runStream(ctx context.Context, a *app, opts *scoreOptions, det detectors.StreamDetector, src gio.Reader) error {
	defer src.Close()

	w, err := jsonl.Create(opts.output)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	samples, err := src.Stream(ctx)
	if err != nil {
		_ = w.Close()
		return err
	}
	scores := make(chan detectors.Score)

	g.Go(func() error {
		defer close(scores)
		return det.PredictStream(ctx, samples, scores)
	})

	var written, flagged int
	g.Go(func() error {
		for s := range scores {
			_, proba, err := det.Evaluate([]float64{s.Value})
			if err != nil {
				return err
			}

			result := gio.Result{
				Timestamp:   time.Now().Unix(),
				Index:       written,
				Score:       s.Value,
				Probability: proba[0],
				IsAnomaly:   s.IsAnomaly,
			}
			if opts.features {
				result.Features = s.Features
			}
			if err := w.Write(result); err != nil {
				return err
			}

			written++
			if s.IsAnomaly {
				flagged++
			}
		}
		return nil
	})

	err = g.Wait()
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	a.log.Info("stream finished",
		zap.Int("samples", written),
		zap.Int("outliers", flagged),
	)
	return nil
}
