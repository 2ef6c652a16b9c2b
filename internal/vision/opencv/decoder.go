package opencv

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"burstrank/internal/models"
	"burstrank/internal/vision"
)

// previewTags are the embedded JPEG previews exiftool can pull out of RAW
// and HEIF containers, largest first.
var previewTags = []string{
	"JpgFromRaw",
	"LargestImagePreview",
	"PreviewImage",
	"OtherImage",
	"ThumbnailImage",
}

// Decoder turns image files into grayscale Mats
type Decoder struct {
	exiftool    string
	heifConvert string
	timeout     time.Duration
	tempDir     string
}

// NewDecoder creates a Decoder, resolving external helpers from PATH
func NewDecoder() *Decoder {
	d := &Decoder{timeout: 60 * time.Second, tempDir: os.TempDir()}
	if p, err := exec.LookPath("exiftool"); err == nil {
		d.exiftool = p
	}
	if p, err := exec.LookPath("heif-convert"); err == nil {
		d.heifConvert = p
	}
	return d
}

// Decode reads path as a single-channel 8-bit Mat. On error the returned Mat
// is the zero value and owns no native memory.
func (d *Decoder) Decode(path string, ct models.ContentType) (gocv.Mat, error) {
	switch ct.Kind {
	case models.KindRaw:
		return d.decodePreview(path)
	case models.KindHEIC:
		if d.heifConvert != "" {
			if mat, err := d.decodeHEIF(path); err == nil {
				return mat, nil
			}
		}
		return d.decodePreview(path)
	default:
		return decodeStandard(path)
	}
}

// decodeStandard honours the EXIF orientation so portrait frames of a burst
// line up with each other.
func decodeStandard(path string) (gocv.Mat, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %s: %v", vision.ErrDecode, path, err)
	}

	color, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %s: %v", vision.ErrDecode, path, err)
	}
	defer color.Close()

	gray := gocv.NewMat()
	gocv.CvtColor(color, &gray, gocv.ColorBGRToGray)
	if gray.Empty() {
		gray.Close()
		return gocv.Mat{}, fmt.Errorf("%w: %s: empty image", vision.ErrDecode, path)
	}
	return gray, nil
}

// decodePreview extracts the largest embedded preview with exiftool
func (d *Decoder) decodePreview(path string) (gocv.Mat, error) {
	if d.exiftool == "" {
		return gocv.Mat{}, fmt.Errorf("%w: %s: exiftool not found in PATH", vision.ErrDecode, path)
	}

	for _, tag := range previewTags {
		data, err := d.extract(path, tag)
		if err != nil || len(data) == 0 {
			continue
		}
		mat, err := gocv.IMDecode(data, gocv.IMReadGrayScale)
		if err != nil {
			continue
		}
		if mat.Empty() {
			mat.Close()
			continue
		}
		return mat, nil
	}
	return gocv.Mat{}, fmt.Errorf("%w: %s: no decodable preview", vision.ErrDecode, path)
}

func (d *Decoder) extract(path, tag string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, d.exiftool, "-b", "-"+tag, path)
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}

func (d *Decoder) decodeHEIF(path string) (gocv.Mat, error) {
	out, err := os.CreateTemp(d.tempDir, "burstrank-*.jpg")
	if err != nil {
		return gocv.Mat{}, err
	}
	target := out.Name()
	out.Close()
	defer os.Remove(target)

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := exec.CommandContext(ctx, d.heifConvert, path, target).Run(); err != nil {
		return gocv.Mat{}, fmt.Errorf("heif-convert %s: %w", filepath.Base(path), err)
	}

	mat := gocv.IMRead(target, gocv.IMReadGrayScale)
	if mat.Empty() {
		mat.Close()
		return gocv.Mat{}, fmt.Errorf("%w: %s", vision.ErrDecode, path)
	}
	return mat, nil
}
