// Package match compares normalized images and links burst frames into
// groups.
package match

import (
	"errors"
	"fmt"
	"strings"

	"burstrank/internal/models"
	"burstrank/internal/vision"
)

var (
	ErrShapeMismatch = errors.New("comparison buffers differ in size")
	ErrNoBuffer      = errors.New("image has no comparison buffer")
	ErrUnordered     = errors.New("images are not in capture order")
)

// Strategy decides whether two normalized images show the same scene
type Strategy interface {
	Name() string
	// Compare returns a similarity score and whether it passes the
	// strategy's threshold.
	Compare(a, b *models.Image) (score float64, matched bool, err error)
}

// StrategyKind names one of the closed set of comparison strategies
type StrategyKind string

const (
	KindStructural StrategyKind = "structural"
	KindFeature    StrategyKind = "feature"
	KindPerceptual StrategyKind = "perceptual"
)

// ParseStrategy resolves a strategy name
func ParseStrategy(s string) (StrategyKind, error) {
	switch k := StrategyKind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindStructural, KindFeature, KindPerceptual:
		return k, nil
	default:
		return "", fmt.Errorf("unknown strategy %q (want structural, feature or perceptual)", s)
	}
}

// DefaultThreshold returns the threshold tuned for the strategy
func (k StrategyKind) DefaultThreshold() float64 {
	switch k {
	case KindFeature:
		return 0.4
	case KindPerceptual:
		return 0.85
	default:
		return 0.6
	}
}

// DefaultResize returns the comparison buffer size tuned for the strategy
func (k StrategyKind) DefaultResize() string {
	if k == KindFeature {
		return "quarter"
	}
	return "144x196"
}

// Params tunes a Strategy
type Params struct {
	Threshold float64
	Diff      vision.DiffParams
}

// New builds the strategy of the given kind
func New(kind StrategyKind, lib vision.Library, p Params) (Strategy, error) {
	if p.Threshold <= 0 {
		p.Threshold = kind.DefaultThreshold()
	}
	switch kind {
	case KindStructural:
		return NewStructural(lib, p.Threshold, p.Diff), nil
	case KindFeature:
		return NewFeature(lib, p.Threshold), nil
	case KindPerceptual:
		return NewPerceptual(p.Threshold), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", kind)
	}
}

func buffers(a, b *models.Image) (models.Raster, models.Raster, error) {
	if a.Normalized == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoBuffer, a.Filename)
	}
	if b.Normalized == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoBuffer, b.Filename)
	}
	ra, rb := a.Normalized, b.Normalized
	if ra.Width() != rb.Width() || ra.Height() != rb.Height() {
		return nil, nil, fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch,
			ra.Width(), ra.Height(), rb.Width(), rb.Height())
	}
	return ra, rb, nil
}

// Structural compares the summed area of differing regions against a
// fraction of the buffer area.
type Structural struct {
	lib       vision.Library
	threshold float64
	params    vision.DiffParams
}

// NewStructural creates a Structural strategy
func NewStructural(lib vision.Library, threshold float64, params vision.DiffParams) *Structural {
	return &Structural{lib: lib, threshold: threshold, params: params}
}

func (s *Structural) Name() string { return string(KindStructural) }

// Compare scores the pair by its differing area as a fraction of the buffer.
// Lower is more similar.
func (s *Structural) Compare(a, b *models.Image) (float64, bool, error) {
	ra, rb, err := buffers(a, b)
	if err != nil {
		return 0, false, err
	}
	area, err := s.lib.DiffArea(ra, rb, s.params)
	if err != nil {
		return 0, false, err
	}
	total := float64(ra.Width() * ra.Height())
	if total == 0 {
		return 0, false, fmt.Errorf("%w: empty buffer", ErrShapeMismatch)
	}
	return area / total, area < s.threshold*total, nil
}

// Feature compares cross-checked keypoint matches
type Feature struct {
	lib       vision.Library
	threshold float64
}

// NewFeature creates a Feature strategy
func NewFeature(lib vision.Library, threshold float64) *Feature {
	return &Feature{lib: lib, threshold: threshold}
}

func (f *Feature) Name() string { return string(KindFeature) }

// Compare scores the pair by matches over the larger keypoint count
func (f *Feature) Compare(a, b *models.Image) (float64, bool, error) {
	if a.Normalized == nil || b.Normalized == nil {
		return 0, false, ErrNoBuffer
	}
	m, err := f.lib.MatchFeatures(a.Normalized, b.Normalized)
	if err != nil {
		return 0, false, err
	}
	denom := max(m.KeypointsA, m.KeypointsB)
	if denom == 0 {
		return 0, false, nil
	}
	score := float64(m.Matches) / float64(denom)
	return score, score >= f.threshold, nil
}
