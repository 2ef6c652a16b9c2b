// Package pipeline runs the ingest, group, score and rank phases over one
// directory.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"burstrank/internal/blur"
	"burstrank/internal/config"
	"burstrank/internal/exifmeta"
	"burstrank/internal/logging"
	"burstrank/internal/match"
	"burstrank/internal/models"
	"burstrank/internal/pool"
	"burstrank/internal/progress"
	"burstrank/internal/rank"
	"burstrank/internal/scan"
	"burstrank/internal/vision"
	"burstrank/internal/xmp"
)

var (
	ErrNotDirectory = errors.New("not a directory")
	ErrLocked       = errors.New("another run holds the directory lock")
)

// PhaseTiming records how long one phase took
type PhaseTiming struct {
	Phase   string
	Elapsed time.Duration
}

// Result summarizes a completed run
type Result struct {
	Dir     string
	Images  []*models.Image
	Groups  [][]*models.Image
	// Focus is the sharpness measure the scores were computed with
	Focus   blur.Algorithm
	Stats   rank.Stats
	Phases  []PhaseTiming
	Elapsed time.Duration
}

// Runner executes a run with a fixed configuration
type Runner struct {
	cfg      *config.Config
	lib      vision.Library
	meta     scan.MetadataReader
	writer   rank.Writer
	logger   *slog.Logger
	progress progress.Reporter
	dryRun   bool
	lockDir  string

	strategy  match.StrategyKind
	simDims   vision.Dims
	blurAlg   blur.Algorithm
	blurDims  vision.Dims
	pairDelay time.Duration
}

// Option configures a Runner
type Option func(*Runner)

// WithMetadataReader overrides the EXIF reader
func WithMetadataReader(m scan.MetadataReader) Option {
	return func(r *Runner) { r.meta = m }
}

// WithWriter overrides the sidecar writer
func WithWriter(w rank.Writer) Option {
	return func(r *Runner) { r.writer = w }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithProgress sets the progress reporter
func WithProgress(p progress.Reporter) Option {
	return func(r *Runner) {
		if p != nil {
			r.progress = p
		}
	}
}

// WithDryRun computes ranks without writing sidecars
func WithDryRun(dryRun bool) Option {
	return func(r *Runner) { r.dryRun = dryRun }
}

// WithLockDir sets where run locks are kept
func WithLockDir(dir string) Option {
	return func(r *Runner) { r.lockDir = dir }
}

// NewRunner validates cfg and resolves its strategy and algorithm names
func NewRunner(cfg *config.Config, lib vision.Library, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:      cfg,
		lib:      lib,
		writer:   xmp.NewWriter(),
		logger:   logging.Discard(),
		progress: progress.Nop{},
		lockDir:  os.TempDir(),
	}
	for _, opt := range opts {
		opt(r)
	}

	var err error
	if r.strategy, err = match.ParseStrategy(cfg.Similarity.Strategy); err != nil {
		return nil, err
	}
	if r.simDims, err = vision.ParseDims(cfg.Similarity.Resize); err != nil {
		return nil, err
	}
	if r.blurAlg, err = blur.ParseAlgorithm(cfg.Blur.Algorithm); err != nil {
		return nil, err
	}
	if r.blurDims, err = vision.ParseDims(cfg.Blur.Resize); err != nil {
		return nil, err
	}
	r.pairDelay = time.Duration(cfg.Similarity.PairWindowSeconds * float64(time.Second))
	return r, nil
}

// LockPath returns the lock file guarding dir
func (r *Runner) LockPath(dir string) string {
	h := fnv.New64a()
	h.Write([]byte(dir))
	return filepath.Join(r.lockDir, fmt.Sprintf("burstrank-%x.lock", h.Sum64()))
}

// Run ranks the images of dir. Per-image failures are logged and skipped;
// only an unusable directory, a held lock, an ordering violation or
// cancellation fail the run.
func (r *Runner) Run(ctx context.Context, dir string) (*Result, error) {
	start := time.Now()

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotDirectory, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, abs)
	}

	lock := flock.New(r.LockPath(abs))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, abs)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			r.logger.Warn("failed to release run lock", "path", lock.Path(), "error", err)
		}
	}()

	res := &Result{Dir: abs}
	p := pool.New(r.cfg.Workers)
	timed := func(phase string, fn func() error) error {
		t := time.Now()
		err := fn()
		elapsed := time.Since(t)
		res.Phases = append(res.Phases, PhaseTiming{Phase: phase, Elapsed: elapsed})
		r.logger.Debug("phase complete", "phase", phase, "elapsed", elapsed)
		return err
	}

	r.logger.Info("ranking bursts", "dir", abs, "strategy", string(r.strategy),
		"blur", r.blurAlg.String(), "workers", p.Workers(), "dry_run", r.dryRun)

	meta := r.meta
	if meta == nil {
		reader := exifmeta.NewReader()
		defer reader.Close()
		meta = reader
	}

	ingestor := scan.NewIngestor(r.lib,
		scan.WithPool(p),
		scan.WithMaxImages(r.cfg.MaxImages),
		scan.WithExcludeRated(r.cfg.ExcludeRated),
		scan.WithPairWindow(r.pairDelay),
		scan.WithNormalize(scan.Normalize{
			Dims:      r.simDims,
			BlurRadii: r.cfg.Similarity.BlurRadii,
			Crop:      r.cfg.Similarity.Crop,
		}),
		scan.WithMetadataReader(meta),
		scan.WithLogger(r.logger),
		scan.WithProgress(r.progress),
	)
	if err := timed("ingest", func() error {
		res.Images, err = ingestor.Ingest(ctx, abs)
		return err
	}); err != nil {
		return nil, err
	}
	images := res.Images
	r.logger.Info("images loaded", "count", len(images))

	strategy, err := match.New(r.strategy, r.lib, match.Params{
		Threshold: r.cfg.Similarity.Threshold,
		Diff: vision.DiffParams{
			Delta:   r.cfg.Similarity.Delta,
			MinArea: r.cfg.Similarity.MinContour,
		},
	})
	if err != nil {
		releaseAll(images)
		return nil, err
	}
	grouper := match.NewGrouper(strategy, match.WithLogger(r.logger))
	err = timed("group", func() error { return grouper.Group(images) })
	releaseAll(images)
	if err != nil {
		return nil, err
	}
	r.logComparisons(images)

	scorer := blur.NewScorer(r.lib, r.blurAlg, r.blurDims, r.cfg.Blur.Crop,
		blur.WithPool(p),
		blur.WithLogger(r.logger),
		blur.WithProgress(r.progress),
	)
	res.Focus = scorer.Algorithm()
	r.logger.Debug("scoring sharpness", "algorithm", res.Focus.String(), "images", len(images))
	if err := timed("score", func() error { return scorer.ScoreAll(ctx, images) }); err != nil {
		return nil, err
	}

	distributor := rank.NewDistributor(r.cfg.MaxRank, r.writer,
		rank.WithPool(p),
		rank.WithDryRun(r.dryRun),
		rank.WithLogger(r.logger),
		rank.WithProgress(r.progress),
	)
	res.Groups = distributor.Assign(images)
	if err := timed("write", func() error {
		res.Stats, err = distributor.Write(ctx, images)
		return err
	}); err != nil {
		return nil, err
	}

	res.Elapsed = time.Since(start)
	return res, nil
}

// releaseAll frees the comparison buffers once grouping no longer needs them
func releaseAll(images []*models.Image) {
	for _, img := range images {
		img.Release()
	}
}

func (r *Runner) logComparisons(images []*models.Image) {
	if !r.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	for _, img := range images {
		for _, c := range img.Comparisons {
			r.logger.Debug("comparison", "file", img.Filename, "peer", c.Peer,
				"score", c.Score, "matched", c.Matched, "root", img.Root().Filename)
		}
	}
}
