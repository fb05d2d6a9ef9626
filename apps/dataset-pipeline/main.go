// Command dataset-pipeline repairs, partitions and label-encodes a
// multimodal training file, once from the CLI or on request over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/goldfish-inc/oceanid/dataset-prep/internal/config"
	"github.com/goldfish-inc/oceanid/dataset-prep/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Run flags
	sourceFlag     string
	formatFlag     string
	outFlag        string
	trainFlag      float64
	validationFlag float64

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dataset-pipeline",
	Short: "Prepare multimodal training splits",
	Long: `dataset-pipeline reads a raw ImageID/Labels/Caption file, repairs rows
whose field count does not match the header, splits the records positionally
into train/validation/test, and binarizes the label sets against the
universe seen in training.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		applyFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err = logging.New(cfg.Log.Level, cfg.Log.Format, verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once and write the outputs",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := runOnce(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d records (train=%d validation=%d test=%d), %d labels, %d repaired rows\n",
			res.RunID, res.Dataset.Len(),
			len(res.Partitions.Train), len(res.Partitions.Validation), len(res.Partitions.Test),
			res.Encoder.Len(), res.Stats.Repaired())
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve run requests over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), cfg, logger)
	},
}

// applyFlags lets explicitly set flags win over file and environment.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("source") {
		cfg.Source = sourceFlag
	}
	if flags.Changed("format") {
		cfg.Format = formatFlag
	}
	if flags.Changed("out") {
		cfg.Output.Dir = outFlag
	}
	if flags.Changed("train") {
		cfg.Split.Train = trainFlag
	}
	if flags.Changed("validation") {
		cfg.Split.Validation = validationFlag
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	runCmd.Flags().StringVarP(&sourceFlag, "source", "s", "", "Input file: local path, s3://bucket/key or http(s) URL")
	runCmd.Flags().StringVar(&formatFlag, "format", "", "Input format (csv, tsv, xlsx); detected from the name when empty")
	runCmd.Flags().StringVarP(&outFlag, "out", "o", "", "Local output directory")
	runCmd.Flags().Float64Var(&trainFlag, "train", 0, "Train ratio")
	runCmd.Flags().Float64Var(&validationFlag, "validation", 0, "Validation ratio")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
