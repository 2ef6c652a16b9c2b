// Package rank turns per-group sharpness order into star ratings.
package rank

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync/atomic"

	"burstrank/internal/logging"
	"burstrank/internal/models"
	"burstrank/internal/pool"
	"burstrank/internal/progress"
	"burstrank/internal/xmp"
)

// Distribute returns the ranks for a group of n images ordered from sharpest
// to softest. The sharpest gets maxRank; each lower rank is shared by twice
// as many images as the one above it, never dropping below zero. In groups
// of two or more the softest image always gets 0.
func Distribute(n, maxRank int) []int {
	if n <= 0 {
		return nil
	}
	ranks := make([]int, n)
	if n == 1 {
		ranks[0] = maxRank
		return ranks
	}

	r, batch, i := maxRank, 1, 0
	for i < n-1 {
		for k := 0; k < batch && i < n-1; k++ {
			ranks[i] = r
			i++
		}
		if r > 0 {
			r--
		}
		batch *= 2
	}
	ranks[n-1] = 0
	return ranks
}

// Groups splits images into maximal contiguous runs sharing a root hash
func Groups(images []*models.Image) [][]*models.Image {
	var (
		groups [][]*models.Image
		cur    []*models.Image
		hash   string
	)
	for _, img := range images {
		h := img.RootHash()
		if len(cur) > 0 && h != hash {
			groups = append(groups, cur)
			cur = nil
		}
		hash = h
		cur = append(cur, img)
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}

// BySharpness sorts a group from sharpest to softest. Unscored images sort
// last; ties keep their input order.
func BySharpness(group []*models.Image) {
	sort.SliceStable(group, func(i, j int) bool {
		a, aok := group[i].ScoreValue()
		b, bok := group[j].ScoreValue()
		if aok != bok {
			return aok
		}
		return a > b
	})
}

// Writer persists a rank next to a source image
type Writer interface {
	Upsert(path, sourceFilename string, rank int) error
}

// Stats counts the outcome of the write phase
type Stats struct {
	Written int
	Skipped int
	Failed  int
}

// Distributor assigns ranks per group and persists them
type Distributor struct {
	maxRank  int
	writer   Writer
	pool     *pool.Pool
	dryRun   bool
	logger   *slog.Logger
	progress progress.Reporter
}

// Option configures a Distributor
type Option func(*Distributor)

// WithPool sets the worker pool for sidecar writes
func WithPool(p *pool.Pool) Option {
	return func(d *Distributor) {
		d.pool = p
	}
}

// WithDryRun assigns ranks without writing sidecars
func WithDryRun(dryRun bool) Option {
	return func(d *Distributor) {
		d.dryRun = dryRun
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(d *Distributor) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithProgress sets the progress reporter
func WithProgress(r progress.Reporter) Option {
	return func(d *Distributor) {
		if r != nil {
			d.progress = r
		}
	}
}

// NewDistributor creates a Distributor
func NewDistributor(maxRank int, writer Writer, opts ...Option) *Distributor {
	d := &Distributor{
		maxRank:  maxRank,
		writer:   writer,
		logger:   logging.Discard(),
		progress: progress.Nop{},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.pool == nil {
		d.pool = pool.New(0)
	}
	return d
}

// Assign ranks every group of images and returns the groups, each sorted
// from sharpest to softest. The images slice itself is not reordered.
func (d *Distributor) Assign(images []*models.Image) [][]*models.Image {
	groups := Groups(images)
	for gi, group := range groups {
		sorted := make([]*models.Image, len(group))
		copy(sorted, group)
		BySharpness(sorted)

		for i, r := range Distribute(len(sorted), d.maxRank) {
			sorted[i].Rank = r
		}
		groups[gi] = sorted

		if d.logger.Enabled(context.Background(), slog.LevelDebug) {
			for _, img := range sorted {
				score, _ := img.ScoreValue()
				d.logger.Debug("ranked", "group", img.RootHash(), "file", img.Filename,
					"score", score, "scored", img.Score != nil, "rank", img.Rank)
			}
		}
	}
	return groups
}

// Write persists every non-zero rank in parallel. Rank 0 means no opinion
// and never touches a sidecar.
func (d *Distributor) Write(ctx context.Context, images []*models.Image) (Stats, error) {
	var written, skipped, failed atomic.Int64

	d.progress.Begin("write", len(images))
	defer d.progress.End()

	err := d.pool.Run(ctx, len(images), func(_ context.Context, i int) {
		img := images[i]
		defer d.progress.Step(img.Filename)

		if img.Rank == 0 || d.dryRun || d.writer == nil {
			skipped.Add(1)
			return
		}
		err := d.writer.Upsert(xmp.SidecarPath(img.Path), img.Filename, img.Rank)
		switch {
		case err == nil:
			written.Add(1)
		case errors.Is(err, xmp.ErrVanished), errors.Is(err, xmp.ErrNoDescription):
			skipped.Add(1)
			d.logger.Warn("sidecar skipped", "path", img.Path, "error", err)
		default:
			failed.Add(1)
			d.logger.Warn("sidecar write failed", "path", img.Path, "error", err)
		}
	})

	return Stats{
		Written: int(written.Load()),
		Skipped: int(skipped.Load()),
		Failed:  int(failed.Load()),
	}, err
}

// Apply assigns ranks and writes them
func (d *Distributor) Apply(ctx context.Context, images []*models.Image) ([][]*models.Image, Stats, error) {
	groups := d.Assign(images)
	stats, err := d.Write(ctx, images)
	return groups, stats, err
}
