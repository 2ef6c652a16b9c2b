package match

import (
	"fmt"
	"image"
	"sync"

	"github.com/corona10/goimagehash"

	"burstrank/internal/models"
)

const hashBits = 64

// Perceptual compares 64-bit perception hashes of the comparison buffers.
// Each image is hashed once per run.
type Perceptual struct {
	threshold float64

	mu    sync.Mutex
	cache map[*models.Image]*goimagehash.ImageHash
}

// NewPerceptual creates a Perceptual strategy
func NewPerceptual(threshold float64) *Perceptual {
	return &Perceptual{
		threshold: threshold,
		cache:     make(map[*models.Image]*goimagehash.ImageHash),
	}
}

func (p *Perceptual) Name() string { return string(KindPerceptual) }

// Compare scores the pair as 1 - hamming/64
func (p *Perceptual) Compare(a, b *models.Image) (float64, bool, error) {
	if _, _, err := buffers(a, b); err != nil {
		return 0, false, err
	}
	ha, err := p.hash(a)
	if err != nil {
		return 0, false, err
	}
	hb, err := p.hash(b)
	if err != nil {
		return 0, false, err
	}
	dist, err := ha.Distance(hb)
	if err != nil {
		return 0, false, fmt.Errorf("hash distance: %w", err)
	}
	score := 1 - float64(dist)/hashBits
	return score, score >= p.threshold, nil
}

func (p *Perceptual) hash(img *models.Image) (*goimagehash.ImageHash, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.cache[img]; ok {
		return h, nil
	}
	h, err := goimagehash.PerceptionHash(asGray(img.Normalized))
	if err != nil {
		return nil, fmt.Errorf("failed to compute hash of %s: %w", img.Filename, err)
	}
	p.cache[img] = h
	return h, nil
}

func asGray(r models.Raster) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, r.Width(), r.Height()))
	copy(g.Pix, r.Pix())
	return g
}
