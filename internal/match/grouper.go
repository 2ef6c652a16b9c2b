package match

import (
	"fmt"
	"log/slog"

	"burstrank/internal/logging"
	"burstrank/internal/models"
)

// Grouper links consecutive similar images to a common root
type Grouper struct {
	strategy Strategy
	logger   *slog.Logger
}

// GrouperOption configures a Grouper
type GrouperOption func(*Grouper)

// WithLogger sets the logger for comparison failures
func WithLogger(l *slog.Logger) GrouperOption {
	return func(g *Grouper) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGrouper creates a Grouper using strategy
func NewGrouper(strategy Strategy, opts ...GrouperOption) *Grouper {
	g := &Grouper{strategy: strategy, logger: logging.Discard()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Group scans images in order. Each image is compared with its successors
// until the first one that does not match; every matching successor is
// linked to the image's root. Bursts are assumed contiguous, so images must
// be sorted by capture time.
//
// Group mutates root links in place and is not safe for concurrent use.
func (g *Grouper) Group(images []*models.Image) error {
	if err := CheckOrder(images); err != nil {
		return err
	}

	for i, a := range images {
		for _, b := range images[i+1:] {
			if !g.matches(a, b) {
				break
			}
			b.SetRoot(a.Root())
		}
	}
	return nil
}

func (g *Grouper) matches(a, b *models.Image) bool {
	if !MetadataScreen(a.Meta, b.Meta) {
		a.Record(b.Filename, 0, false)
		b.Record(a.Filename, 0, false)
		return false
	}

	var (
		score   float64
		matched bool
	)
	if sameFingerprint(a, b) {
		score, matched = 1, true
	} else {
		var err error
		score, matched, err = g.strategy.Compare(a, b)
		if err != nil {
			g.logger.Warn("comparison failed",
				"strategy", g.strategy.Name(),
				"a", a.Filename,
				"b", b.Filename,
				"error", err)
			return false
		}
	}

	a.Record(b.Filename, score, matched)
	b.Record(a.Filename, score, matched)
	return matched
}

// CheckOrder verifies that capture times never decrease
func CheckOrder(images []*models.Image) error {
	for i := 1; i < len(images); i++ {
		if images[i].Captured.Before(images[i-1].Captured) {
			return fmt.Errorf("%w: %s (%s) follows %s (%s)", ErrUnordered,
				images[i].Filename, images[i].Captured.Format("2006-01-02 15:04:05"),
				images[i-1].Filename, images[i-1].Captured.Format("2006-01-02 15:04:05"))
		}
	}
	return nil
}
