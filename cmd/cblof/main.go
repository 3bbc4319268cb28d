// Command cblof fits and applies clustering-based outlier detectors to
// tabular and packet data.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hed1ad/cblof/internal/config"
	"github.com/hed1ad/cblof/internal/logger"
)

// app carries state resolved before any subcommand runs.
type app struct {
	configPath string
	cfg        *config.Config
	log        *zap.Logger
}

// flagKeys maps command line flags to configuration keys. Only flags the
// invoked command defines are bound.
var flagKeys = map[string]string{
	"log-level":     "log.level",
	"log-json":      "log.json",
	"algorithm":     "detector.algorithm",
	"alpha":         "detector.alpha",
	"beta":          "detector.beta",
	"contamination": "detector.contamination",
	"clusters":      "detector.clusters",
	"workers":       "detector.workers",
	"seed":          "detector.seed",
	"metric":        "detector.metric",
	"weights":       "detector.weights",
	"trees":         "detector.trees",
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "cblof",
		Short: "Clustering-based local outlier detection",
		Long: `cblof - Clustering-based local outlier detection.

Fits a CBLOF (or isolation forest) detector on numeric CSV rows or packet
captures, stores the fitted model and scores new data as JSON Lines.

Configuration sources (in order of precedence):
1. Command line flags
2. Environment variables (CBLOF_* prefix, e.g. CBLOF_DETECTOR_ALPHA)
3. Config file given with --config (TOML)
4. Default values

Examples:
  cblof fit train.csv -m model.bin --header
  cblof score model.bin traffic.pcap -o scores.jsonl
  cblof detect data.csv --algorithm iforest`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "TOML config file")
	root.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	root.PersistentFlags().Bool("log-json", false, "Emit JSON logs")

	root.AddCommand(newFitCmd(a))
	root.AddCommand(newScoreCmd(a))
	root.AddCommand(newDetectCmd(a))

	return root
}

func (a *app) init(cmd *cobra.Command) error {
	v, err := config.New(a.configPath)
	if err != nil {
		return err
	}
	if err := bindFlags(cmd, v); err != nil {
		return err
	}

	cfg, err := config.LoadWithViper(v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	log, err := logger.New(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		return err
	}
	a.log = log.Named("cblof")
	return nil
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for name, key := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return err
		}
	}
	return nil
}

// addDetectorFlags registers estimator flags on commands that fit a model.
// Defaults are placeholders; unset flags defer to config and environment.
func addDetectorFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("algorithm", config.AlgorithmCBLOF, "Detector: cblof or iforest")
	f.Float64("alpha", 0.9, "Share of samples the large clusters must hold, in (0, 1)")
	f.Float64("beta", 5, "Size ratio separating large from small clusters, > 0")
	f.Float64("contamination", 0.1, "Expected share of outliers, in (0, 0.5]")
	f.Int("clusters", 8, "Number of clusters for the default k-means clusterer")
	f.Int("workers", 1, "Parallel workers for cluster assignment")
	f.Int64("seed", 42, "Random seed")
	f.String("metric", "euclidean", "Distance metric: euclidean or mahalanobis")
	f.Bool("weights", false, "Weight scores by cluster size")
	f.Int("trees", 100, "Number of trees for iforest")
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
