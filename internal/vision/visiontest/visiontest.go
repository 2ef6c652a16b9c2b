// Package visiontest provides a pure-Go vision.Library for tests. It trades
// OpenCV's border handling and contour tracing for simple, predictable
// arithmetic on *image.Gray.
package visiontest

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"sync/atomic"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"burstrank/internal/models"
	"burstrank/internal/vision"
)

// Raster wraps an *image.Gray
type Raster struct {
	*image.Gray
	closed atomic.Bool
}

// NewRaster builds a raster from row-major pixels
func NewRaster(width, height int, pix []byte) *Raster {
	g := image.NewGray(image.Rect(0, 0, width, height))
	copy(g.Pix, pix)
	return &Raster{Gray: g}
}

// Fill builds a raster whose pixels are produced by fn
func Fill(width, height int, fn func(x, y int) uint8) *Raster {
	g := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g.Pix[y*g.Stride+x] = fn(x, y)
		}
	}
	return &Raster{Gray: g}
}

func (r *Raster) Width() int  { return r.Rect.Dx() }
func (r *Raster) Height() int { return r.Rect.Dy() }
func (r *Raster) Pix() []byte { return r.Gray.Pix }
func (r *Raster) Close() error {
	r.closed.Store(true)
	return nil
}

// Closed reports whether Close was called
func (r *Raster) Closed() bool { return r.closed.Load() }

// Library implements vision.Library in pure Go
type Library struct {
	// Features overrides MatchFeatures when set
	Features func(a, b models.Raster) (vision.FeatureMatch, error)
	// Decoded counts successful Decode calls
	Decoded atomic.Int64
}

var _ vision.Library = (*Library)(nil)

// New creates a Library
func New() *Library {
	return &Library{}
}

func gray(r models.Raster) *image.Gray {
	if v, ok := r.(*Raster); ok {
		return v.Gray
	}
	g := image.NewGray(image.Rect(0, 0, r.Width(), r.Height()))
	copy(g.Pix, r.Pix())
	return g
}

func (l *Library) Decode(path string, ct models.ContentType) (models.Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vision.ErrDecode, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", vision.ErrDecode, path, err)
	}
	g := image.NewGray(image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy()))
	draw.Draw(g, g.Bounds(), img, img.Bounds().Min, draw.Src)
	l.Decoded.Add(1)
	return &Raster{Gray: g}, nil
}

// Resize uses nearest-neighbour sampling
func (l *Library) Resize(r models.Raster, width, height int) (models.Raster, error) {
	src := gray(r)
	sw, sh := src.Rect.Dx(), src.Rect.Dy()
	return Fill(width, height, func(x, y int) uint8 {
		return src.Pix[(y*sh/height)*src.Stride+x*sw/width]
	}), nil
}

func (l *Library) Crop(r models.Raster, percent int) (models.Raster, error) {
	src := gray(r)
	x0, y0, x1, y1 := vision.CropBounds(src.Rect.Dx(), src.Rect.Dy(), percent)
	return Fill(x1-x0, y1-y0, func(x, y int) uint8 {
		return src.Pix[(y+y0)*src.Stride+x+x0]
	}), nil
}

// GaussianBlur applies a box blur of the normalized radius
func (l *Library) GaussianBlur(r models.Raster, radius int) (models.Raster, error) {
	src := gray(r)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	k := vision.OddRadius(radius) / 2
	return Fill(w, h, func(x, y int) uint8 {
		var sum, n int
		for dy := -k; dy <= k; dy++ {
			for dx := -k; dx <= k; dx++ {
				xx, yy := clamp(x+dx, w), clamp(y+dy, h)
				sum += int(src.Pix[yy*src.Stride+xx])
				n++
			}
		}
		return uint8(sum / n)
	}), nil
}

// DiffArea counts pixels whose difference exceeds Delta and reports the count
// when it reaches MinArea.
func (l *Library) DiffArea(a, b models.Raster, p vision.DiffParams) (float64, error) {
	ga, gb := gray(a), gray(b)
	if ga.Rect.Dx() != gb.Rect.Dx() || ga.Rect.Dy() != gb.Rect.Dy() {
		return 0, fmt.Errorf("shape mismatch %dx%d vs %dx%d", ga.Rect.Dx(), ga.Rect.Dy(), gb.Rect.Dx(), gb.Rect.Dy())
	}
	var area float64
	for i := range ga.Pix {
		if math.Abs(float64(ga.Pix[i])-float64(gb.Pix[i])) > p.Delta {
			area++
		}
	}
	if area < p.MinArea {
		return 0, nil
	}
	return area, nil
}

// MatchFeatures treats every pixel as a keypoint and equal pixels as matches
// unless Features is set.
func (l *Library) MatchFeatures(a, b models.Raster) (vision.FeatureMatch, error) {
	if l.Features != nil {
		return l.Features(a, b)
	}
	pa, pb := a.Pix(), b.Pix()
	m := vision.FeatureMatch{KeypointsA: len(pa), KeypointsB: len(pb)}
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if pa[i] == pb[i] {
			m.Matches++
		}
	}
	return m, nil
}

var laplacianKernel = vision.Kernel3{
	{0, 1, 0},
	{1, -4, 1},
	{0, 1, 0},
}

var sobelX = vision.Kernel3{
	{-1, 0, 1},
	{-2, 0, 2},
	{-1, 0, 1},
}

var sobelY = vision.Kernel3{
	{-1, -2, -1},
	{0, 0, 0},
	{1, 2, 1},
}

func (l *Library) Laplacian(r models.Raster) ([]float64, error) {
	return convolve(gray(r), laplacianKernel), nil
}

func (l *Library) Sobel(r models.Raster) ([]float64, []float64, error) {
	g := gray(r)
	return convolve(g, sobelX), convolve(g, sobelY), nil
}

func (l *Library) Filter2D(r models.Raster, k vision.Kernel3) ([]float64, error) {
	return convolve(gray(r), k), nil
}

// convolve correlates g with k using replicated borders
func convolve(g *image.Gray, k vision.Kernel3) []float64 {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					v := g.Pix[clamp(y+ky, h)*g.Stride+clamp(x+kx, w)]
					sum += k[ky+1][kx+1] * float64(v)
				}
			}
			out[y*w+x] = sum
		}
	}
	return out
}

func clamp(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}
