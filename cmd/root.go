package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"burstrank/internal/config"
	"burstrank/internal/logging"
	"burstrank/internal/pipeline"
	"burstrank/internal/progress"
	"burstrank/internal/vision/opencv"
)

const exitInterrupted = 130

// exitError carries the process exit code out of RunE once the failure has
// already been logged.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

type rootOptions struct {
	configPath string
	feature    bool
	strategy   string
	exclude    bool
	diff       float64
	maxRank    int
	threads    int
	maxImages  int

	simResize  string
	simCrop    int
	simBlur    []int
	minContour float64
	delta      float64
	pairWindow float64

	blurMode   string
	blurCrop   int
	blurResize string

	verbose   bool
	logFormat string
	dryRun    bool
	summary   bool
}

func newRootCmd() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "burstrank <directory>",
		Short: "Group burst photos and rate them by sharpness",
		Long: `burstrank finds photos taken in quick succession that show the same scene,
scores how sharp each one is and writes a star rating to an XMP sidecar next
to every photo worth keeping.

The sharpest frame of each burst gets the highest rating; the least sharp gets
none. Sidecars already present are updated in place.

Example usage:
  burstrank ./photos                 # Rate bursts with default settings
  burstrank -f ./photos              # Compare frames by ORB features
  burstrank --dry-run --summary .    # Show groups and ranks without writing
  burstrank config init              # Write a sample config file`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoot(cmd, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "Path to config file (default ~/.config/burstrank/config.toml)")
	f.BoolVarP(&opts.feature, "feature", "f", false, "Compare frames by feature matching (same as --strategy feature)")
	f.StringVar(&opts.strategy, "strategy", config.DefaultStrategy, "Comparison strategy: structural, feature or perceptual")
	f.BoolVarP(&opts.exclude, "exclude", "e", false, "Skip images that already have a sidecar")
	f.Float64VarP(&opts.diff, "diff", "d", 0, "Similarity threshold (default depends on strategy)")
	f.IntVarP(&opts.maxRank, "max-rank", "m", config.DefaultMaxRank, "Rating given to the sharpest frame (1-5)")
	f.IntVarP(&opts.threads, "threads", "t", 0, "Number of parallel workers (default: number of CPUs)")
	f.IntVar(&opts.maxImages, "max-images", config.DefaultMaxImages, "Maximum number of images per run")

	f.StringVar(&opts.simResize, "similarity-resize", "", "Comparison buffer size, e.g. 144x196 or quarter")
	f.IntVar(&opts.simCrop, "similarity-crop", config.DefaultSimilarityCrop, "Percent cropped from the comparison buffer")
	f.IntSliceVar(&opts.simBlur, "similarity-blur", []int{5}, "Gaussian blur radii applied before comparing")
	f.Float64Var(&opts.minContour, "min-contour", config.DefaultMinContour, "Smallest changed region that counts as a difference")
	f.Float64Var(&opts.delta, "delta", config.DefaultDelta, "Pixel difference treated as a change")
	f.Float64Var(&opts.pairWindow, "pair-window", config.DefaultPairWindowSeconds, "Seconds within which a RAW and JPEG of one frame are collapsed")

	f.StringVar(&opts.blurMode, "blur-mode", config.DefaultBlurAlgorithm, "Sharpness measure: sum_modified_laplacian, laplacian or sobel")
	f.IntVar(&opts.blurCrop, "blur-crop", config.DefaultBlurCrop, "Percent cropped before measuring sharpness")
	f.StringVar(&opts.blurResize, "blur-resize", config.DefaultBlurResize, "Size the image is scaled to before measuring sharpness")

	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Log debug output")
	f.StringVar(&opts.logFormat, "log-format", "console", "Log format: console or json")
	f.BoolVar(&opts.dryRun, "dry-run", false, "Compute ranks without writing sidecars")
	f.BoolVar(&opts.summary, "summary", false, "Print a table of every group after the run")

	cmd.AddCommand(newConfigCmd())
	return cmd, opts
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	cmd, _ := newRootCmd()
	if err := cmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runRoot(cmd *cobra.Command, opts *rootOptions, dir string) error {
	cfg, cfgPath, found, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, opts, cfg); err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return err
	}
	if found {
		logger.Debug("config loaded", "path", cfgPath)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := pipeline.NewRunner(cfg, opencv.New(nil),
		pipeline.WithLogger(logger),
		pipeline.WithProgress(progress.ForTerminal()),
		pipeline.WithDryRun(opts.dryRun),
	)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := runner.Run(ctx, dir)
	if err != nil {
		return logOutcome(ctx, logger, err, time.Since(start))
	}

	if opts.summary {
		fmt.Fprintln(cmd.OutOrStdout(), renderSummary(res))
	}
	logger.Info("run complete",
		"images", len(res.Images),
		"groups", len(res.Groups),
		"written", res.Stats.Written,
		"skipped", res.Stats.Skipped,
		"failed", res.Stats.Failed,
		"elapsed", res.Elapsed.Round(time.Millisecond),
	)
	return nil
}

func logOutcome(ctx context.Context, logger *slog.Logger, err error, elapsed time.Duration) error {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		logger.Warn("run interrupted", "elapsed", elapsed.Round(time.Millisecond))
		return &exitError{code: exitInterrupted, err: err}
	}
	logger.Error("run failed", "error", err)
	return &exitError{code: 1, err: err}
}

// applyFlags overrides cfg with every flag the user set explicitly
func applyFlags(cmd *cobra.Command, opts *rootOptions, cfg *config.Config) error {
	f := cmd.Flags()

	if f.Changed("threads") {
		cfg.Workers = opts.threads
	}
	if f.Changed("max-images") {
		cfg.MaxImages = opts.maxImages
	}
	if f.Changed("exclude") {
		cfg.ExcludeRated = opts.exclude
	}
	if f.Changed("max-rank") {
		cfg.MaxRank = opts.maxRank
	}

	strategy := ""
	if f.Changed("strategy") {
		strategy = strings.ToLower(strings.TrimSpace(opts.strategy))
	}
	if f.Changed("feature") && opts.feature {
		strategy = "feature"
	}
	if strategy != "" && strategy != cfg.Similarity.Strategy {
		cfg.Similarity.Strategy = strategy
		// Threshold and buffer size mean different things per strategy.
		cfg.Similarity.Threshold = 0
		cfg.Similarity.Resize = ""
	}

	if f.Changed("diff") {
		cfg.Similarity.Threshold = opts.diff
	}
	if f.Changed("similarity-resize") {
		cfg.Similarity.Resize = opts.simResize
	}
	if f.Changed("similarity-crop") {
		cfg.Similarity.Crop = opts.simCrop
	}
	if f.Changed("similarity-blur") {
		cfg.Similarity.BlurRadii = opts.simBlur
	}
	if f.Changed("min-contour") {
		cfg.Similarity.MinContour = opts.minContour
	}
	if f.Changed("delta") {
		cfg.Similarity.Delta = opts.delta
	}
	if f.Changed("pair-window") {
		cfg.Similarity.PairWindowSeconds = opts.pairWindow
	}

	if f.Changed("blur-mode") {
		cfg.Blur.Algorithm = opts.blurMode
	}
	if f.Changed("blur-crop") {
		cfg.Blur.Crop = opts.blurCrop
	}
	if f.Changed("blur-resize") {
		cfg.Blur.Resize = opts.blurResize
	}

	if opts.verbose {
		cfg.Logging.Level = "debug"
	}
	if f.Changed("log-format") {
		cfg.Logging.Format = opts.logFormat
	}

	cfg.Normalize()
	return cfg.Validate()
}
