package opencv

import (
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"burstrank/internal/models"
	"burstrank/internal/vision"
	"burstrank/internal/vision/visiontest"
)

func gradient(w, h int) *visiontest.Raster {
	return visiontest.Fill(w, h, func(x, y int) uint8 { return uint8((x + y) % 256) })
}

func TestResizeAndCrop(t *testing.T) {
	lib := New(nil)

	resized, err := lib.Resize(gradient(100, 80), 50, 40)
	if err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	defer resized.Close()
	if resized.Width() != 50 || resized.Height() != 40 {
		t.Errorf("resized to %dx%d, want 50x40", resized.Width(), resized.Height())
	}

	cropped, err := lib.Crop(resized, 20)
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	defer cropped.Close()
	x0, y0, x1, y1 := vision.CropBounds(50, 40, 20)
	if cropped.Width() != x1-x0 || cropped.Height() != y1-y0 {
		t.Errorf("cropped to %dx%d, want %dx%d", cropped.Width(), cropped.Height(), x1-x0, y1-y0)
	}
}

func TestDiffArea(t *testing.T) {
	lib := New(nil)
	a := gradient(64, 64)
	p := vision.DiffParams{Delta: 25, MinArea: 10}

	area, err := lib.DiffArea(a, gradient(64, 64), p)
	if err != nil {
		t.Fatalf("DiffArea failed: %v", err)
	}
	if area != 0 {
		t.Errorf("identical rasters differ by %v", area)
	}

	b := visiontest.Fill(64, 64, func(x, y int) uint8 {
		if x >= 16 && x < 48 && y >= 16 && y < 48 {
			return 255
		}
		return uint8((x + y) % 256)
	})
	area, err = lib.DiffArea(a, b, p)
	if err != nil {
		t.Fatalf("DiffArea failed: %v", err)
	}
	if area < 500 {
		t.Errorf("expected a large changed region, got %v", area)
	}

	if _, err := lib.DiffArea(a, gradient(32, 32), p); err == nil {
		t.Error("expected shape mismatch error")
	}
}

func TestFocusFilters(t *testing.T) {
	lib := New(nil)
	r := gradient(32, 24)

	lap, err := lib.Laplacian(r)
	if err != nil {
		t.Fatalf("Laplacian failed: %v", err)
	}
	if len(lap) != 32*24 {
		t.Errorf("Laplacian returned %d values, want %d", len(lap), 32*24)
	}

	gx, gy, err := lib.Sobel(r)
	if err != nil {
		t.Fatalf("Sobel failed: %v", err)
	}
	if len(gx) != len(lap) || len(gy) != len(lap) {
		t.Errorf("Sobel returned %d/%d values", len(gx), len(gy))
	}
}

func TestDecodeStandard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, 40, 30))); err != nil {
		t.Fatal(err)
	}
	f.Close()

	lib := New(nil)
	r, err := lib.Decode(path, models.ContentType{MIME: "image/png", Kind: models.KindStandard})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	defer r.Close()
	if r.Width() != 40 || r.Height() != 30 {
		t.Errorf("decoded %dx%d, want 40x30", r.Width(), r.Height())
	}

	if _, err := lib.Decode(filepath.Join(t.TempDir(), "missing.png"), models.ContentType{MIME: "image/png", Kind: models.KindStandard}); !errors.Is(err, vision.ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestDecoder_ErrorsOwnNoMat(t *testing.T) {
	d := &Decoder{}
	tests := []struct {
		name string
		path string
		ct   models.ContentType
	}{
		{"raw without exiftool", "/nonexistent/IMG_0001.CR2", models.ContentType{MIME: "image/x-canon-cr2", Kind: models.KindRaw}},
		{"heic without helpers", "/nonexistent/IMG_0002.HEIC", models.ContentType{MIME: "image/heic", Kind: models.KindHEIC}},
		{"missing standard file", "/nonexistent/IMG_0003.JPG", models.ContentType{MIME: "image/jpeg", Kind: models.KindStandard}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mat, err := d.Decode(tt.path, tt.ct)
			if !errors.Is(err, vision.ErrDecode) {
				t.Errorf("expected ErrDecode, got %v", err)
			}
			if mat.Ptr() != nil {
				mat.Close()
				t.Error("failed decode returned an allocated Mat")
			}
		})
	}
}
