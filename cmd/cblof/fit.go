package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type fitOptions struct {
	model  string
	header bool
	strict bool
}

func newFitCmd(a *app) *cobra.Command {
	opts := &fitOptions{}

	cmd := &cobra.Command{
		Use:   "fit <input>",
		Short: "Fit a detector and save the model",
		Long: `Fit a detector on a CSV file or packet capture and write the fitted
model to disk. The model keeps the training threshold so that score can
label new data the same way.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFit(a, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.model, "model", "m", "model.bin", "Output model file")
	cmd.Flags().BoolVar(&opts.header, "header", false, "CSV input has a header row")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Fail on malformed CSV rows instead of skipping them")
	addDetectorFlags(cmd)

	return cmd
}

func runFit(a *app, opts *fitOptions, input string) error {
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

	if err := saveModel(opts.model, a.cfg.Detector.Algorithm, det); err != nil {
		return err
	}

	a.log.Info("model saved",
		zap.String("algorithm", a.cfg.Detector.Algorithm),
		zap.String("path", opts.model),
		zap.Int("samples", len(data)),
		zap.Int("outliers", countOutliers(det.Labels())),
		zap.Float64("threshold", det.Threshold()),
	)
	return nil
}

func countOutliers(labels []int) int {
	n := 0
	for _, l := range labels {
		n += l
	}
	return n
}
