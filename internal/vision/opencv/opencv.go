// Package opencv implements vision.Library on top of gocv.
package opencv

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"burstrank/internal/models"
	"burstrank/internal/vision"
)

// Raster owns a single-channel 8-bit Mat
type Raster struct {
	mat gocv.Mat
}

func (r *Raster) Width() int  { return r.mat.Cols() }
func (r *Raster) Height() int { return r.mat.Rows() }
func (r *Raster) Pix() []byte { return r.mat.ToBytes() }

func (r *Raster) Close() error {
	return r.mat.Close()
}

// Library is the OpenCV-backed vision.Library
type Library struct {
	decoder *Decoder
}

var _ vision.Library = (*Library)(nil)

// New creates a Library that decodes files with decoder
func New(decoder *Decoder) *Library {
	if decoder == nil {
		decoder = NewDecoder()
	}
	return &Library{decoder: decoder}
}

func (l *Library) Decode(path string, ct models.ContentType) (models.Raster, error) {
	mat, err := l.decoder.Decode(path, ct)
	if err != nil {
		return nil, err
	}
	return &Raster{mat: mat}, nil
}

// borrow returns a Mat view of r. The release func must be called when the
// Mat is no longer needed; it is a no-op for rasters created by this package.
func borrow(r models.Raster) (gocv.Mat, func(), error) {
	if v, ok := r.(*Raster); ok {
		return v.mat, func() {}, nil
	}
	mat, err := gocv.NewMatFromBytes(r.Height(), r.Width(), gocv.MatTypeCV8U, r.Pix())
	if err != nil {
		return gocv.Mat{}, nil, fmt.Errorf("wrap raster: %w", err)
	}
	return mat, func() { mat.Close() }, nil
}

func (l *Library) Resize(r models.Raster, width, height int) (models.Raster, error) {
	src, release, err := borrow(r)
	if err != nil {
		return nil, err
	}
	defer release()

	dst := gocv.NewMat()
	gocv.Resize(src, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationArea)
	return &Raster{mat: dst}, nil
}

func (l *Library) Crop(r models.Raster, percent int) (models.Raster, error) {
	src, release, err := borrow(r)
	if err != nil {
		return nil, err
	}
	defer release()

	x0, y0, x1, y1 := vision.CropBounds(src.Cols(), src.Rows(), percent)
	if x1 <= x0 || y1 <= y0 {
		return nil, fmt.Errorf("crop %d%% leaves nothing of %dx%d", percent, src.Cols(), src.Rows())
	}
	region := src.Region(image.Rect(x0, y0, x1, y1))
	defer region.Close()
	return &Raster{mat: region.Clone()}, nil
}

func (l *Library) GaussianBlur(r models.Raster, radius int) (models.Raster, error) {
	src, release, err := borrow(r)
	if err != nil {
		return nil, err
	}
	defer release()

	k := vision.OddRadius(radius)
	dst := gocv.NewMat()
	gocv.GaussianBlur(src, &dst, image.Pt(k, k), 0, 0, gocv.BorderDefault)
	return &Raster{mat: dst}, nil
}

func (l *Library) DiffArea(a, b models.Raster, p vision.DiffParams) (float64, error) {
	ma, releaseA, err := borrow(a)
	if err != nil {
		return 0, err
	}
	defer releaseA()
	mb, releaseB, err := borrow(b)
	if err != nil {
		return 0, err
	}
	defer releaseB()

	if ma.Rows() != mb.Rows() || ma.Cols() != mb.Cols() {
		return 0, fmt.Errorf("shape mismatch %dx%d vs %dx%d", ma.Cols(), ma.Rows(), mb.Cols(), mb.Rows())
	}

	delta := gocv.NewMat()
	defer delta.Close()
	gocv.AbsDiff(ma, mb, &delta)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(delta, &thresh, float32(p.Delta), 255, gocv.ThresholdBinary)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()
	for i := 0; i < 2; i++ {
		gocv.Dilate(thresh, &thresh, kernel)
	}

	contours := gocv.FindContours(thresh, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var area float64
	for i := 0; i < contours.Size(); i++ {
		ca := gocv.ContourArea(contours.At(i))
		if ca < p.MinArea {
			continue
		}
		area += ca
	}
	return area, nil
}

func (l *Library) MatchFeatures(a, b models.Raster) (vision.FeatureMatch, error) {
	ma, releaseA, err := borrow(a)
	if err != nil {
		return vision.FeatureMatch{}, err
	}
	defer releaseA()
	mb, releaseB, err := borrow(b)
	if err != nil {
		return vision.FeatureMatch{}, err
	}
	defer releaseB()

	orb := gocv.NewORB()
	defer orb.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	kpA, desA := orb.DetectAndCompute(ma, mask)
	defer desA.Close()
	kpB, desB := orb.DetectAndCompute(mb, mask)
	defer desB.Close()

	m := vision.FeatureMatch{KeypointsA: len(kpA), KeypointsB: len(kpB)}
	if desA.Empty() || desB.Empty() {
		return m, nil
	}

	bf := gocv.NewBFMatcherWithParams(gocv.NormHamming, true)
	defer bf.Close()
	m.Matches = len(bf.Match(desA, desB))
	return m, nil
}

func (l *Library) Laplacian(r models.Raster) ([]float64, error) {
	src, release, err := borrow(r)
	if err != nil {
		return nil, err
	}
	defer release()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Laplacian(src, &dst, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)
	return floats(dst)
}

func (l *Library) Sobel(r models.Raster) ([]float64, []float64, error) {
	src, release, err := borrow(r)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	gx := gocv.NewMat()
	defer gx.Close()
	gy := gocv.NewMat()
	defer gy.Close()
	gocv.Sobel(src, &gx, gocv.MatTypeCV64F, 1, 0, 3, 1, 0, gocv.BorderDefault)
	gocv.Sobel(src, &gy, gocv.MatTypeCV64F, 0, 1, 3, 1, 0, gocv.BorderDefault)

	x, err := floats(gx)
	if err != nil {
		return nil, nil, err
	}
	y, err := floats(gy)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

func (l *Library) Filter2D(r models.Raster, k vision.Kernel3) ([]float64, error) {
	src, release, err := borrow(r)
	if err != nil {
		return nil, err
	}
	defer release()

	kernel := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer kernel.Close()
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			kernel.SetDoubleAt(row, col, k[row][col])
		}
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Filter2D(src, &dst, gocv.MatTypeCV64F, kernel, image.Pt(-1, -1), 0, gocv.BorderDefault)
	return floats(dst)
}

// floats copies a CV_64F Mat out of C memory
func floats(m gocv.Mat) ([]float64, error) {
	if m.Empty() {
		return nil, errors.New("empty filter response")
	}
	data, err := m.DataPtrFloat64()
	if err != nil {
		return nil, fmt.Errorf("read filter response: %w", err)
	}
	out := make([]float64, len(data))
	copy(out, data)
	return out, nil
}
