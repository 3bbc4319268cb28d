package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	gio "github.com/hed1ad/cblof/pkg/io"
)

func newDetectCmd(a *app) *cobra.Command {
	opts := &scoreOptions{}

	cmd := &cobra.Command{
		Use:   "detect <input>",
		Short: "Fit a detector and label its training data",
		Long: `Fit a detector on the input and emit the training scores and labels
as JSON Lines without saving a model.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetect(a, opts, args[0])
		},
	}
	addOutputFlags(cmd, opts)
	addDetectorFlags(cmd)

	return cmd
}

func runDetect(a *app, opts *scoreOptions, input string) error {
	data, err := readInput(input, opts.header, opts.strict)
	if err != nil {
		return err
	}

	det, err := newDetector(a.cfg.Detector, a.log)
	if err != nil {
		return err
	}
	if err := det.Fit(data); err != nil {
		return err
	}

	proba, err := det.PredictProba(data)
	if err != nil {
		return err
	}

	results := gio.NewResults(time.Now().Unix(), det.DecisionScores(), det.Labels(), proba, featuresIf(opts.features, data))
	if err := writeResults(opts.output, results); err != nil {
		return err
	}

	a.log.Info("detected",
		zap.String("algorithm", a.cfg.Detector.Algorithm),
		zap.Int("samples", len(data)),
		zap.Int("outliers", countAnomalies(results)),
		zap.Float64("threshold", det.Threshold()),
	)
	return nil
}
