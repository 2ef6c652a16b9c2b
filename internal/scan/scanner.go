// Package scan turns a directory of photos into initialized, capture-ordered
// images ready for grouping.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"burstrank/internal/classify"
	"burstrank/internal/exifmeta"
	"burstrank/internal/fileutil"
	"burstrank/internal/hash"
	"burstrank/internal/logging"
	"burstrank/internal/models"
	"burstrank/internal/pool"
	"burstrank/internal/progress"
	"burstrank/internal/vision"
	"burstrank/internal/xmp"
)

// MetadataReader reads capture metadata
type MetadataReader interface {
	Read(path string) (models.Metadata, error)
}

// Normalize describes the comparison buffer built for every image
type Normalize struct {
	Dims      vision.Dims
	BlurRadii []int
	Crop      int
}

// Ingestor lists, classifies, pairs and initializes images
type Ingestor struct {
	lib          vision.Library
	classifier   *classify.Classifier
	meta         MetadataReader
	pool         *pool.Pool
	maxImages    int
	excludeRated bool
	pairWindow   time.Duration
	normalize    Normalize
	logger       *slog.Logger
	progress     progress.Reporter
}

// Option configures an Ingestor
type Option func(*Ingestor)

// WithPool sets the worker pool
func WithPool(p *pool.Pool) Option {
	return func(in *Ingestor) {
		in.pool = p
	}
}

// WithMaxImages caps the number of images returned
func WithMaxImages(n int) Option {
	return func(in *Ingestor) {
		if n > 0 {
			in.maxImages = n
		}
	}
}

// WithExcludeRated skips images that already have a sidecar
func WithExcludeRated(exclude bool) Option {
	return func(in *Ingestor) {
		in.excludeRated = exclude
	}
}

// WithPairWindow sets how close in time a RAW and JPEG of the same name must
// be to count as one shot.
func WithPairWindow(d time.Duration) Option {
	return func(in *Ingestor) {
		if d >= 0 {
			in.pairWindow = d
		}
	}
}

// WithNormalize sets the comparison buffer parameters
func WithNormalize(n Normalize) Option {
	return func(in *Ingestor) {
		in.normalize = n
	}
}

// WithMetadataReader sets the metadata reader
func WithMetadataReader(r MetadataReader) Option {
	return func(in *Ingestor) {
		if r != nil {
			in.meta = r
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(in *Ingestor) {
		if l != nil {
			in.logger = l
		}
	}
}

// WithProgress sets a progress reporter
func WithProgress(r progress.Reporter) Option {
	return func(in *Ingestor) {
		if r != nil {
			in.progress = r
		}
	}
}

// NewIngestor creates a new Ingestor
func NewIngestor(lib vision.Library, opts ...Option) *Ingestor {
	in := &Ingestor{
		lib:        lib,
		classifier: classify.NewClassifier(),
		maxImages:  2000,
		pairWindow: 2 * time.Second,
		normalize: Normalize{
			Dims:      vision.Dims{Width: vision.Extent{Pixels: 144}, Height: vision.Extent{Pixels: 196}},
			BlurRadii: []int{5},
			Crop:      15,
		},
		logger:   logging.Discard(),
		progress: progress.Nop{},
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.meta == nil {
		in.meta = exifmeta.NewReader()
	}
	if in.pool == nil {
		in.pool = pool.New(0)
	}
	return in
}

// candidate is a classified file that has not been decoded yet
type candidate struct {
	name string
	path string
	ct   models.ContentType
	meta models.Metadata
}

// Ingest returns the initialized images of dir sorted by capture time, then
// filename. Files that cannot be classified or decoded are logged and left
// out.
func (in *Ingestor) Ingest(ctx context.Context, dir string) ([]*models.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || classify.IsSidecar(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}

	cands, err := in.classifyAll(ctx, paths)
	if err != nil {
		return nil, err
	}
	in.logger.Debug("classified", "files", len(paths), "images", len(cands))

	if limit := 2 * in.maxImages; len(cands) > limit {
		cands = cands[:limit]
	}
	before := len(cands)
	cands = pairDedup(cands, in.pairWindow)
	if dropped := before - len(cands); dropped > 0 {
		in.logger.Debug("collapsed raw+jpeg pairs", "dropped", dropped)
	}
	if len(cands) > in.maxImages {
		in.logger.Info("image cap reached", "max_images", in.maxImages, "skipped", len(cands)-in.maxImages)
		cands = cands[:in.maxImages]
	}

	images, err := in.initializeAll(ctx, cands)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(images, func(i, j int) bool {
		a, b := images[i], images[j]
		if !a.Captured.Equal(b.Captured) {
			return a.Captured.Before(b.Captured)
		}
		return a.Filename < b.Filename
	})
	return images, nil
}

func (in *Ingestor) classifyAll(ctx context.Context, paths []string) ([]candidate, error) {
	slots := make([]*candidate, len(paths))

	in.progress.Begin("classify", len(paths))
	err := in.pool.Run(ctx, len(paths), func(_ context.Context, i int) {
		defer in.progress.Step(filepath.Base(paths[i]))
		slots[i] = in.classifyOne(paths[i])
	})
	in.progress.End()
	if err != nil {
		return nil, err
	}

	// Keep directory order so truncation is deterministic.
	cands := make([]candidate, 0, len(slots))
	for _, c := range slots {
		if c != nil {
			cands = append(cands, *c)
		}
	}
	return cands, nil
}

func (in *Ingestor) classifyOne(path string) *candidate {
	ct, err := in.classifier.Classify(path)
	if err != nil {
		if errors.Is(err, classify.ErrNotImage) {
			in.logger.Debug("skipping non-image", "path", path)
		} else {
			in.logger.Warn("skipping unclassifiable file", "path", path, "error", err)
		}
		return nil
	}
	if in.excludeRated && fileutil.Exists(xmp.SidecarPath(path)) {
		in.logger.Debug("skipping rated image", "path", path)
		return nil
	}

	meta, err := in.meta.Read(path)
	if err != nil {
		in.logger.Warn("skipping unreadable file", "path", path, "error", err)
		return nil
	}
	return &candidate{name: filepath.Base(path), path: path, ct: ct, meta: meta}
}

func (in *Ingestor) initializeAll(ctx context.Context, cands []candidate) ([]*models.Image, error) {
	slots := make([]*models.Image, len(cands))

	in.progress.Begin("initialize", len(cands))
	err := in.pool.Run(ctx, len(cands), func(_ context.Context, i int) {
		c := cands[i]
		defer in.progress.Step(c.name)

		img, err := in.initialize(c)
		if err != nil {
			in.logger.Warn("skipping undecodable image", "path", c.path, "error", err)
			return
		}
		slots[i] = img
	})
	in.progress.End()

	images := make([]*models.Image, 0, len(slots))
	for _, img := range slots {
		if img != nil {
			images = append(images, img)
		}
	}
	if err != nil {
		for _, img := range images {
			img.Release()
		}
		return nil, err
	}
	return images, nil
}

func (in *Ingestor) initialize(c candidate) (*models.Image, error) {
	buf, err := in.Normalized(c.path, c.ct)
	if err != nil {
		return nil, err
	}
	return &models.Image{
		Filename:    c.name,
		Path:        c.path,
		Type:        c.ct,
		Captured:    c.meta.Captured,
		Meta:        c.meta,
		Normalized:  buf,
		Fingerprint: hash.Fingerprint(buf),
	}, nil
}

// Normalized decodes path into the comparison buffer: resized, pre-blurred
// with each radius in order, then cropped.
func (in *Ingestor) Normalized(path string, ct models.ContentType) (models.Raster, error) {
	cur, err := in.lib.Decode(path, ct)
	if err != nil {
		return nil, err
	}

	// step replaces cur with the next stage and closes the previous one
	step := func(next models.Raster, err error) error {
		if err != nil {
			cur.Close()
			return err
		}
		cur.Close()
		cur = next
		return nil
	}

	w, h := in.normalize.Dims.Resolve(cur.Width(), cur.Height())
	if err := step(in.lib.Resize(cur, w, h)); err != nil {
		return nil, fmt.Errorf("resize: %w", err)
	}
	for _, r := range in.normalize.BlurRadii {
		if r <= 0 {
			continue
		}
		if err := step(in.lib.GaussianBlur(cur, r)); err != nil {
			return nil, fmt.Errorf("blur: %w", err)
		}
	}
	if err := step(in.lib.Crop(cur, in.normalize.Crop)); err != nil {
		return nil, fmt.Errorf("crop: %w", err)
	}
	return cur, nil
}

// stem returns the file name without its extension
func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// pairDedup drops the RAW half of every RAW+JPEG pair shot within window of
// each other. Candidates are returned sorted by stem, then name.
func pairDedup(cands []candidate, window time.Duration) []candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		si, sj := stem(cands[i].name), stem(cands[j].name)
		if si != sj {
			return si < sj
		}
		return cands[i].name < cands[j].name
	})

	out := make([]candidate, 0, len(cands))
	for _, c := range cands {
		if n := len(out); n > 0 {
			prev := out[n-1]
			if stem(prev.name) == stem(c.name) &&
				prev.ct.IsRaw() != c.ct.IsRaw() &&
				absDuration(prev.meta.Captured.Sub(c.meta.Captured)) <= window {
				if prev.ct.IsRaw() {
					out[n-1] = c
				}
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
