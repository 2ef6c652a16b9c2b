// Package blur scores image sharpness with focus measures. Scores only rank
// images of the same scene against each other.
package blur

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"burstrank/internal/logging"
	"burstrank/internal/models"
	"burstrank/internal/pool"
	"burstrank/internal/progress"
	"burstrank/internal/vision"
)

// Algorithm is a focus measure
type Algorithm int

const (
	SumModifiedLaplacian Algorithm = iota
	Laplacian
	Sobel
)

var algorithmNames = map[Algorithm]string{
	SumModifiedLaplacian: "sum_modified_laplacian",
	Laplacian:            "laplacian",
	Sobel:                "sobel",
}

func (a Algorithm) String() string {
	if name, ok := algorithmNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// ParseAlgorithm resolves an algorithm name
func ParseAlgorithm(s string) (Algorithm, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for a, name := range algorithmNames {
		if name == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown blur algorithm %q (want laplacian, sobel or sum_modified_laplacian)", s)
}

type measure func(lib vision.Library, r models.Raster) (float64, error)

func (a Algorithm) measure() measure {
	switch a {
	case Laplacian:
		return laplacianVariance
	case Sobel:
		return tenengrad
	default:
		return sumModifiedLaplacian
	}
}

// laplacianVariance is the variance of the second-derivative response
func laplacianVariance(lib vision.Library, r models.Raster) (float64, error) {
	resp, err := lib.Laplacian(r)
	if err != nil {
		return 0, err
	}
	return stat.PopVariance(resp, nil), nil
}

// tenengrad is the mean gradient magnitude
func tenengrad(lib vision.Library, r models.Raster) (float64, error) {
	gx, gy, err := lib.Sobel(r)
	if err != nil {
		return 0, err
	}
	if len(gx) != len(gy) {
		return 0, fmt.Errorf("gradient size mismatch %d vs %d", len(gx), len(gy))
	}
	mag := make([]float64, len(gx))
	for i := range gx {
		mag[i] = math.Hypot(gx[i], gy[i])
	}
	return stat.Mean(mag, nil), nil
}

// sumModifiedLaplacian sums the absolute 4-neighbour Laplacian response
func sumModifiedLaplacian(lib vision.Library, r models.Raster) (float64, error) {
	resp, err := lib.Filter2D(r, vision.ModifiedLaplacian)
	if err != nil {
		return 0, err
	}
	return floats.Norm(resp, 1), nil
}

// Scorer computes sharpness scores
type Scorer struct {
	lib       vision.Library
	algorithm Algorithm
	measure   measure
	dims      vision.Dims
	crop      int
	pool      *pool.Pool
	logger    *slog.Logger
	progress  progress.Reporter
}

// Option configures a Scorer
type Option func(*Scorer)

// WithPool sets the worker pool used by ScoreAll
func WithPool(p *pool.Pool) Option {
	return func(s *Scorer) {
		s.pool = p
	}
}

// WithLogger sets the logger for per-image failures
func WithLogger(l *slog.Logger) Option {
	return func(s *Scorer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithProgress sets the progress reporter
func WithProgress(r progress.Reporter) Option {
	return func(s *Scorer) {
		if r != nil {
			s.progress = r
		}
	}
}

// NewScorer creates a Scorer that resizes sources to dims and trims crop
// percent before measuring.
func NewScorer(lib vision.Library, algorithm Algorithm, dims vision.Dims, crop int, opts ...Option) *Scorer {
	s := &Scorer{
		lib:       lib,
		algorithm: algorithm,
		measure:   algorithm.measure(),
		dims:      dims,
		crop:      crop,
		logger:    logging.Discard(),
		progress:  progress.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pool == nil {
		s.pool = pool.New(0)
	}
	return s
}

// Algorithm returns the focus measure in use
func (s *Scorer) Algorithm() Algorithm {
	return s.algorithm
}

// Score decodes the source of img and sets its sharpness score
func (s *Scorer) Score(img *models.Image) error {
	src, err := s.lib.Decode(img.Path, img.Type)
	if err != nil {
		return err
	}
	defer src.Close()

	w, h := s.dims.Resolve(src.Width(), src.Height())
	resized, err := s.lib.Resize(src, w, h)
	if err != nil {
		return fmt.Errorf("resize %s: %w", img.Filename, err)
	}
	defer resized.Close()

	cropped, err := s.lib.Crop(resized, s.crop)
	if err != nil {
		return fmt.Errorf("crop %s: %w", img.Filename, err)
	}
	defer cropped.Close()

	v, err := s.measure(s.lib, cropped)
	if err != nil {
		return fmt.Errorf("%s %s: %w", s.algorithm, img.Filename, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s %s: score is not finite", s.algorithm, img.Filename)
	}
	img.SetScore(v)
	return nil
}

// ScoreAll scores every image in parallel. An image that fails keeps a nil
// score and is logged; it never stops the others.
func (s *Scorer) ScoreAll(ctx context.Context, images []*models.Image) error {
	s.progress.Begin("score", len(images))
	defer s.progress.End()

	return s.pool.Run(ctx, len(images), func(_ context.Context, i int) {
		img := images[i]
		if err := s.Score(img); err != nil {
			s.logger.Warn("sharpness score failed", "path", img.Path, "error", err)
		}
		s.progress.Step(img.Filename)
	})
}
