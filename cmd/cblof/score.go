package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	gio "github.com/hed1ad/cblof/pkg/io"
	"github.com/hed1ad/cblof/pkg/io/jsonl"
)

type scoreOptions struct {
	output   string
	header   bool
	strict   bool
	features bool
	stream   bool
	iface    string
}

func addOutputFlags(cmd *cobra.Command, opts *scoreOptions) {
	cmd.Flags().StringVarP(&opts.output, "output", "o", "-", "JSONL output file, - for stdout")
	cmd.Flags().BoolVar(&opts.header, "header", false, "CSV input has a header row")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Fail on malformed CSV rows instead of skipping them")
	cmd.Flags().BoolVar(&opts.features, "features", false, "Include input features in results")
}

func newScoreCmd(a *app) *cobra.Command {
	opts := &scoreOptions{}

	cmd := &cobra.Command{
		Use:   "score <model> [input]",
		Short: "Score data with a saved model",
		Long: `Score a CSV file or packet capture with a model written by fit.
Each sample becomes one JSON line holding its score, its outlier
probability and whether it exceeds the training threshold.

With --stream samples are scored one by one as they are read. With --iface
packets are captured live from a network interface and streamed until
interrupted; this needs a binary built with -tags libpcap.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case opts.iface != "" && len(args) == 2:
				return errors.New("give either an input file or --iface, not both")
			case opts.iface != "":
				return runLive(cmd.Context(), a, opts, args[0])
			case len(args) != 2:
				return errors.New("score needs an input file or --iface")
			case opts.stream:
				return runStreamFile(cmd.Context(), a, opts, args[0], args[1])
			default:
				return runScore(a, opts, args[0], args[1])
			}
		},
	}
	addOutputFlags(cmd, opts)
	cmd.Flags().BoolVar(&opts.stream, "stream", false, "Score samples one by one as they are read")
	cmd.Flags().StringVar(&opts.iface, "iface", "", "Capture and score packets live from this interface")

	return cmd
}

func runScore(a *app, opts *scoreOptions, modelPath, input string) error {
	det, algorithm, err := loadModel(modelPath, a.log)
	if err != nil {
		return err
	}

	data, err := readInput(input, opts.header, opts.strict)
	if err != nil {
		return err
	}

	scores, err := det.DecisionFunction(data)
	if err != nil {
		return err
	}
	labels, proba, err := det.Evaluate(scores)
	if err != nil {
		return err
	}

	results := gio.NewResults(time.Now().Unix(), scores, labels, proba, featuresIf(opts.features, data))
	if err := writeResults(opts.output, results); err != nil {
		return err
	}

	a.log.Info("scored",
		zap.String("algorithm", algorithm),
		zap.Int("samples", len(data)),
		zap.Int("outliers", countAnomalies(results)),
	)
	return nil
}

func runStreamFile(ctx context.Context, a *app, opts *scoreOptions, modelPath, input string) error {
	det, _, err := loadModel(modelPath, a.log)
	if err != nil {
		return err
	}
	src, err := openInput(input, opts.header, opts.strict)
	if err != nil {
		return err
	}
	return runStream(ctx, a, opts, det, src)
}

func runLive(ctx context.Context, a *app, opts *scoreOptions, modelPath string) error {
	det, _, err := loadModel(modelPath, a.log)
	if err != nil {
		return err
	}
	src, err := openLive(opts.iface)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.log.Info("capturing", zap.String("iface", opts.iface))
	return runStream(ctx, a, opts, det, src)
}

func featuresIf(include bool, data [][]float64) [][]float64 {
	if !include {
		return nil
	}
	return data
}

func writeResults(output string, results []gio.Result) error {
	w, err := jsonl.Create(output)
	if err != nil {
		return err
	}
	if err := w.WriteAll(results); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func countAnomalies(results []gio.Result) int {
	n := 0
	for _, r := range results {
		if r.IsAnomaly {
			n++
		}
	}
	return n
}
