// Package vision defines the pixel operations the ranking engine delegates to
// an image processing backend.
package vision

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"burstrank/internal/models"
)

var (
	ErrDecode    = errors.New("image decode failed")
	ErrBadExtent = errors.New("invalid resize extent")
)

// Kernel3 is a 3x3 convolution kernel in row-major order
type Kernel3 [3][3]float64

// ModifiedLaplacian is the 4-neighbour discrete Laplacian
var ModifiedLaplacian = Kernel3{
	{0, -1, 0},
	{-1, 4, -1},
	{0, -1, 0},
}

// DiffParams tunes the structural difference pipeline
type DiffParams struct {
	// Delta is the per-pixel absolute difference threshold
	Delta float64
	// MinArea drops contours smaller than this many pixels
	MinArea float64
}

// FeatureMatch is the result of cross-checked keypoint matching
type FeatureMatch struct {
	Matches    int
	KeypointsA int
	KeypointsB int
}

// Library is the image processing backend. Every returned Raster is owned by
// the caller and must be closed.
type Library interface {
	// Decode reads the file at path as an 8-bit grayscale raster
	Decode(path string, ct models.ContentType) (models.Raster, error)
	Resize(r models.Raster, width, height int) (models.Raster, error)
	// Crop removes percent/2 of each dimension from every side
	Crop(r models.Raster, percent int) (models.Raster, error)
	GaussianBlur(r models.Raster, radius int) (models.Raster, error)
	// DiffArea thresholds the absolute difference of a and b, dilates it,
	// and returns the summed area of the contours at least MinArea large.
	DiffArea(a, b models.Raster, p DiffParams) (float64, error)
	MatchFeatures(a, b models.Raster) (FeatureMatch, error)
	// Laplacian returns the second-derivative response per pixel
	Laplacian(r models.Raster) ([]float64, error)
	// Sobel returns horizontal and vertical first-derivative responses
	Sobel(r models.Raster) (gx, gy []float64, err error)
	Filter2D(r models.Raster, k Kernel3) ([]float64, error)
}

var fractions = map[string]float64{
	"full":    1,
	"half":    1.0 / 2,
	"third":   1.0 / 3,
	"quarter": 1.0 / 4,
}

// Extent is one resize dimension: either literal pixels or a fraction of the
// source dimension.
type Extent struct {
	Pixels   int
	Fraction float64
}

// Resolve returns the target size for a source dimension
func (e Extent) Resolve(src int) int {
	if e.Pixels > 0 {
		return e.Pixels
	}
	f := e.Fraction
	if f <= 0 {
		f = 1
	}
	n := int(math.Round(float64(src) * f))
	if n < 1 {
		n = 1
	}
	return n
}

func (e Extent) String() string {
	if e.Pixels > 0 {
		return strconv.Itoa(e.Pixels)
	}
	for k, v := range fractions {
		if v == e.Fraction {
			return k
		}
	}
	return strconv.FormatFloat(e.Fraction, 'g', -1, 64)
}

// ParseExtent accepts a positive pixel count or one of the keywords full,
// half, third and quarter.
func ParseExtent(s string) (Extent, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if f, ok := fractions[s]; ok {
		return Extent{Fraction: f}, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return Extent{}, fmt.Errorf("%w: %q", ErrBadExtent, s)
	}
	return Extent{Pixels: n}, nil
}

// Dims is a resize target
type Dims struct {
	Width  Extent
	Height Extent
}

// Resolve returns the target width and height for a source raster size
func (d Dims) Resolve(srcW, srcH int) (int, int) {
	return d.Width.Resolve(srcW), d.Height.Resolve(srcH)
}

func (d Dims) String() string {
	if d.Width == d.Height {
		return d.Width.String()
	}
	return d.Width.String() + "x" + d.Height.String()
}

// ParseDims parses "WxH" or a single extent applied to both dimensions,
// e.g. "144x196", "half", "half x 300".
func ParseDims(s string) (Dims, error) {
	parts := strings.Split(strings.ToLower(s), "x")
	switch len(parts) {
	case 1:
		e, err := ParseExtent(parts[0])
		if err != nil {
			return Dims{}, err
		}
		return Dims{Width: e, Height: e}, nil
	case 2:
		w, err := ParseExtent(parts[0])
		if err != nil {
			return Dims{}, err
		}
		h, err := ParseExtent(parts[1])
		if err != nil {
			return Dims{}, err
		}
		return Dims{Width: w, Height: h}, nil
	default:
		return Dims{}, fmt.Errorf("%w: %q", ErrBadExtent, s)
	}
}

// OddRadius normalizes a Gaussian kernel size to an odd value of at least 1
func OddRadius(radius int) int {
	if radius < 1 {
		radius = 1
	}
	if radius%2 == 0 {
		radius++
	}
	return radius
}

// CropBounds returns the rectangle kept by a symmetric percentage crop
func CropBounds(width, height, percent int) (x0, y0, x1, y1 int) {
	if percent <= 0 || percent >= 100 {
		return 0, 0, width, height
	}
	half := float64(percent) / 2
	dx := int(float64(width) * half / 100)
	dy := int(float64(height) * half / 100)
	return dx, dy, width - dx, height - dy
}
