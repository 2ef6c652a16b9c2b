package pipeline

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"burstrank/internal/blur"
	"burstrank/internal/config"
	"burstrank/internal/models"
	"burstrank/internal/vision/visiontest"
	"burstrank/internal/xmp"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeMeta map[string]time.Time

func (f fakeMeta) Read(path string) (models.Metadata, error) {
	m := models.EmptyMetadata()
	m.Captured = f[filepath.Base(path)]
	return m, nil
}

// writeScene writes an 80x80 PNG whose pixels come from bg, with a fine
// checker pattern over the square [lo, hi) on both axes.
func writeScene(t *testing.T, dir, name string, bg func(x, y int) uint8, lo, hi int) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 80, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 80; x++ {
			v := bg(x, y)
			if x >= lo && x < hi && y >= lo && y < hi {
				v = 0
				if (x/2+y/2)%2 == 1 {
					v = 255
				}
			}
			img.Pix[y*img.Stride+x] = v
		}
	}
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("failed to create %s: %v", name, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("failed to encode %s: %v", name, err)
	}
}

func sceneA(x, y int) uint8 { return uint8(x * 3) }
func sceneB(x, y int) uint8 { return uint8(255 - y*3) }

func setupBursts(t *testing.T) (string, fakeMeta) {
	t.Helper()
	dir := t.TempDir()
	writeScene(t, dir, "A1.png", sceneA, 0, 0)
	writeScene(t, dir, "A2.png", sceneA, 40, 48)
	writeScene(t, dir, "A3.png", sceneA, 40, 56)
	writeScene(t, dir, "B1.png", sceneB, 0, 0)
	writeScene(t, dir, "B2.png", sceneB, 40, 48)
	meta := fakeMeta{
		"A1.png": base,
		"A2.png": base.Add(1 * time.Second),
		"A3.png": base.Add(2 * time.Second),
		"B1.png": base.Add(3 * time.Second),
		"B2.png": base.Add(4 * time.Second),
	}
	return dir, meta
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Workers = 2
	cfg.Normalize()
	return &cfg
}

func ranks(res *Result) map[string]int {
	out := make(map[string]int)
	for _, img := range res.Images {
		out[img.Filename] = img.Rank
	}
	return out
}

func TestRun_RanksBursts(t *testing.T) {
	dir, meta := setupBursts(t)
	r, err := NewRunner(testConfig(), visiontest.New(),
		WithMetadataReader(meta),
		WithLockDir(t.TempDir()),
	)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}

	res, err := r.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(res.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(res.Groups))
	}
	want := map[string]int{"A3.png": 3, "A2.png": 2, "A1.png": 0, "B2.png": 3, "B1.png": 0}
	got := ranks(res)
	for name, rank := range want {
		if got[name] != rank {
			t.Errorf("%s rank = %d, want %d", name, got[name], rank)
		}
	}

	for name, rank := range want {
		path := xmp.SidecarPath(filepath.Join(dir, name))
		sc, err := xmp.ReadRating(path)
		if rank == 0 {
			if !os.IsNotExist(err) {
				t.Errorf("%s: rank 0 must not write a sidecar (err=%v)", name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if sc.Rating != rank || sc.DerivedFrom != name {
			t.Errorf("%s sidecar = %+v, want rating %d", name, sc, rank)
		}
	}

	if res.Focus != blur.SumModifiedLaplacian {
		t.Errorf("focus measure = %s, want %s", res.Focus, blur.SumModifiedLaplacian)
	}
	if res.Stats.Written != 3 {
		t.Errorf("written = %d, want 3", res.Stats.Written)
	}
	if len(res.Phases) != 4 {
		t.Errorf("expected 4 phase timings, got %d", len(res.Phases))
	}
	for _, img := range res.Images {
		if img.Normalized != nil {
			t.Errorf("%s buffer not released", img.Filename)
		}
	}
}

func TestRun_DryRun(t *testing.T) {
	dir, meta := setupBursts(t)
	r, err := NewRunner(testConfig(), visiontest.New(),
		WithMetadataReader(meta),
		WithDryRun(true),
		WithLockDir(t.TempDir()),
	)
	if err != nil {
		t.Fatal(err)
	}
	res, err := r.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if ranks(res)["A3.png"] != 3 {
		t.Error("dry run should still rank")
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.xmp"))
	if len(matches) != 0 {
		t.Errorf("dry run wrote %d sidecars", len(matches))
	}
}

func TestRun_Locked(t *testing.T) {
	dir, meta := setupBursts(t)
	r, err := NewRunner(testConfig(), visiontest.New(), WithMetadataReader(meta), WithLockDir(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}

	abs, _ := filepath.Abs(dir)
	held := flock.New(r.LockPath(abs))
	if ok, err := held.TryLock(); err != nil || !ok {
		t.Fatalf("failed to take lock: %v", err)
	}
	defer held.Unlock()

	if _, err := r.Run(context.Background(), dir); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}
}

func TestRun_NotDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "photo.png")
	os.WriteFile(file, []byte("x"), 0644)

	r, err := NewRunner(testConfig(), visiontest.New(), WithLockDir(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	for _, dir := range []string{file, "/nonexistent/photos"} {
		if _, err := r.Run(context.Background(), dir); !errors.Is(err, ErrNotDirectory) {
			t.Errorf("Run(%s) error = %v, want ErrNotDirectory", dir, err)
		}
	}
}

func TestRun_Cancelled(t *testing.T) {
	dir, meta := setupBursts(t)
	r, _ := NewRunner(testConfig(), visiontest.New(), WithMetadataReader(meta), WithLockDir(t.TempDir()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Run(ctx, dir); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.xmp"))
	if len(matches) != 0 {
		t.Error("a cancelled run must not write sidecars")
	}
}

func TestNewRunner_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRank = 9
	if _, err := NewRunner(cfg, visiontest.New()); !errors.Is(err, config.ErrInvalid) {
		t.Errorf("expected config.ErrInvalid, got %v", err)
	}
}
