package blur

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"burstrank/internal/models"
	"burstrank/internal/pool"
	"burstrank/internal/vision"
	"burstrank/internal/vision/visiontest"
)

func writePNG(t *testing.T, dir, name string, fn func(x, y int) uint8) *models.Image {
	t.Helper()
	g := image.NewGray(image.Rect(0, 0, 80, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 80; x++ {
			g.Pix[y*g.Stride+x] = fn(x, y)
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create %s: %v", name, err)
	}
	defer f.Close()
	if err := png.Encode(f, g); err != nil {
		t.Fatalf("failed to encode %s: %v", name, err)
	}
	return &models.Image{
		Filename: name,
		Path:     path,
		Type:     models.ContentType{MIME: "image/png", Kind: models.KindStandard},
	}
}

func checker(x, y int) uint8 {
	if (x/4+y/4)%2 == 0 {
		return 0
	}
	return 255
}

func gradient(x, y int) uint8 { return uint8(x * 3) }

func half(t *testing.T) vision.Dims {
	t.Helper()
	d, err := vision.ParseDims("half")
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		input   string
		want    Algorithm
		wantErr bool
	}{
		{"laplacian", Laplacian, false},
		{"SOBEL", Sobel, false},
		{"sum_modified_laplacian", SumModifiedLaplacian, false},
		{"fft", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAlgorithm(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAlgorithm(%q) failed: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseAlgorithm(%q) = %v, want %v", tt.input, got, tt.want)
			}
			if got.String() != tt.input && tt.input != "SOBEL" {
				t.Errorf("String() = %q, want %q", got.String(), tt.input)
			}
		})
	}
}

func TestScore_SharpBeatsSoft(t *testing.T) {
	tmpDir := t.TempDir()
	sharp := writePNG(t, tmpDir, "sharp.png", checker)
	soft := writePNG(t, tmpDir, "soft.png", gradient)

	for _, alg := range []Algorithm{Laplacian, Sobel, SumModifiedLaplacian} {
		t.Run(alg.String(), func(t *testing.T) {
			s := NewScorer(visiontest.New(), alg, half(t), 30)
			for _, img := range []*models.Image{sharp, soft} {
				img.Score = nil
				if err := s.Score(img); err != nil {
					t.Fatalf("Score(%s) failed: %v", img.Filename, err)
				}
			}
			a, _ := sharp.ScoreValue()
			b, _ := soft.ScoreValue()
			if a <= b {
				t.Errorf("sharp score %v should exceed soft score %v", a, b)
			}
		})
	}
}

func TestScore_FlatImageIsZero(t *testing.T) {
	img := writePNG(t, t.TempDir(), "flat.png", func(x, y int) uint8 { return 128 })
	s := NewScorer(visiontest.New(), SumModifiedLaplacian, half(t), 30)
	if err := s.Score(img); err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if v, ok := img.ScoreValue(); !ok || v != 0 {
		t.Errorf("score = %v (set=%v), want 0", v, ok)
	}
}

func TestScoreAll_FailureLeavesScoreUnset(t *testing.T) {
	tmpDir := t.TempDir()
	good := writePNG(t, tmpDir, "good.png", checker)

	brokenPath := filepath.Join(tmpDir, "broken.png")
	if err := os.WriteFile(brokenPath, []byte("not a png"), 0644); err != nil {
		t.Fatal(err)
	}
	broken := &models.Image{Filename: "broken.png", Path: brokenPath}

	s := NewScorer(visiontest.New(), Sobel, half(t), 30, WithPool(pool.New(2)))
	if err := s.ScoreAll(context.Background(), []*models.Image{broken, good}); err != nil {
		t.Fatalf("ScoreAll failed: %v", err)
	}

	if _, ok := broken.ScoreValue(); ok {
		t.Error("undecodable image should keep a nil score")
	}
	if _, ok := good.ScoreValue(); !ok {
		t.Error("decodable image should be scored despite the failure")
	}
}

func TestScoreAll_Cancelled(t *testing.T) {
	img := writePNG(t, t.TempDir(), "a.png", checker)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewScorer(visiontest.New(), Sobel, half(t), 30)
	if err := s.ScoreAll(ctx, []*models.Image{img}); err == nil {
		t.Error("expected cancellation error")
	}
	if img.Score != nil {
		t.Error("no image should be scored after cancellation")
	}
}
