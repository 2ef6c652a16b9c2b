package rank

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"burstrank/internal/models"
	"burstrank/internal/pool"
	"burstrank/internal/xmp"
)

func TestDistribute(t *testing.T) {
	tests := []struct {
		n, maxRank int
		want       []int
	}{
		{0, 3, nil},
		{1, 3, []int{3}},
		{2, 3, []int{3, 0}},
		{3, 3, []int{3, 2, 0}},
		{5, 3, []int{3, 2, 2, 1, 0}},
		{8, 3, []int{3, 2, 2, 1, 1, 1, 1, 0}},
		{10, 3, []int{3, 2, 2, 1, 1, 1, 1, 0, 0, 0}},
		{4, 1, []int{1, 0, 0, 0}},
		{1, 5, []int{5}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d/max=%d", tt.n, tt.maxRank), func(t *testing.T) {
			got := Distribute(tt.n, tt.maxRank)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("Distribute(%d, %d) = %v, want %v", tt.n, tt.maxRank, got, tt.want)
			}
			for _, r := range got {
				if r < 0 || r > tt.maxRank {
					t.Errorf("rank %d outside [0, %d]", r, tt.maxRank)
				}
			}
		})
	}
}

func image(name, fingerprint string, score *float64) *models.Image {
	return &models.Image{Filename: name, Path: "/photos/" + name, Fingerprint: fingerprint, Score: score}
}

func f(v float64) *float64 { return &v }

func TestGroups(t *testing.T) {
	a := image("a", "h1", nil)
	b := image("b", "h2", nil)
	b.SetRoot(a)
	c := image("c", "h3", nil)
	d := image("d", "h4", nil)
	d.SetRoot(c)
	e := image("e", "h5", nil)

	groups := Groups([]*models.Image{a, b, c, d, e})
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	sizes := []int{len(groups[0]), len(groups[1]), len(groups[2])}
	if fmt.Sprint(sizes) != "[2 2 1]" {
		t.Errorf("group sizes = %v, want [2 2 1]", sizes)
	}
	if Groups(nil) != nil {
		t.Error("no images should give no groups")
	}
}

func TestBySharpness_NilLastStable(t *testing.T) {
	group := []*models.Image{
		image("nil1", "h", nil),
		image("low", "h", f(1)),
		image("tieA", "h", f(5)),
		image("nil2", "h", nil),
		image("tieB", "h", f(5)),
		image("high", "h", f(9)),
	}
	BySharpness(group)

	var names []string
	for _, img := range group {
		names = append(names, img.Filename)
	}
	want := "[high tieA tieB low nil1 nil2]"
	if fmt.Sprint(names) != want {
		t.Errorf("order = %v, want %s", names, want)
	}
}

type recordingWriter struct {
	mu    sync.Mutex
	calls map[string]int
	err   map[string]error
}

func (w *recordingWriter) Upsert(path, sourceFilename string, rank int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.calls == nil {
		w.calls = make(map[string]int)
	}
	w.calls[sourceFilename] = rank
	return w.err[sourceFilename]
}

func burstGroup() []*models.Image {
	root := image("1.jpg", "r", f(10))
	images := []*models.Image{
		root,
		image("2.jpg", "x2", f(50)),
		image("3.jpg", "x3", nil),
		image("4.jpg", "x4", f(30)),
		image("5.jpg", "x5", f(20)),
		image("6.jpg", "solo", f(1)),
	}
	for _, img := range images[1:5] {
		img.SetRoot(root)
	}
	return images
}

func TestDistributor_Apply(t *testing.T) {
	images := burstGroup()
	w := &recordingWriter{}
	d := NewDistributor(3, w, WithPool(pool.New(2)))

	groups, stats, err := d.Apply(context.Background(), images)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}

	want := map[string]int{"2.jpg": 3, "4.jpg": 2, "5.jpg": 2, "1.jpg": 1, "3.jpg": 0, "6.jpg": 3}
	for _, img := range images {
		if img.Rank != want[img.Filename] {
			t.Errorf("%s rank = %d, want %d", img.Filename, img.Rank, want[img.Filename])
		}
	}

	if _, ok := w.calls["3.jpg"]; ok {
		t.Error("rank 0 must not reach the writer")
	}
	if len(w.calls) != 5 {
		t.Errorf("writer called for %d images, want 5", len(w.calls))
	}
	if stats.Written != 5 || stats.Skipped != 1 || stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if groups[0][0].Filename != "2.jpg" {
		t.Errorf("group should be sorted sharpest first, got %s", groups[0][0].Filename)
	}
	if images[0].Filename != "1.jpg" {
		t.Error("Apply must not reorder the input slice")
	}
}

func TestDistributor_DryRun(t *testing.T) {
	w := &recordingWriter{}
	d := NewDistributor(3, w, WithDryRun(true))
	images := burstGroup()
	if _, _, err := d.Apply(context.Background(), images); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(w.calls) != 0 {
		t.Errorf("dry run wrote %d sidecars", len(w.calls))
	}
	if images[1].Rank != 3 {
		t.Error("dry run should still assign ranks")
	}
}

func TestDistributor_WriteErrorsAreIsolated(t *testing.T) {
	w := &recordingWriter{err: map[string]error{
		"2.jpg": fmt.Errorf("wrap: %w", xmp.ErrVanished),
		"4.jpg": errors.New("disk full"),
	}}
	d := NewDistributor(3, w)
	_, stats, err := d.Apply(context.Background(), burstGroup())
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if stats.Written != 3 || stats.Skipped != 2 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want written 3 skipped 2 failed 1", stats)
	}
}

func TestDistributor_WritesSidecars(t *testing.T) {
	tmpDir := t.TempDir()
	sharp := &models.Image{Filename: "IMG_1.jpg", Path: filepath.Join(tmpDir, "IMG_1.jpg"), Fingerprint: "a", Score: f(2)}
	soft := &models.Image{Filename: "IMG_2.jpg", Path: filepath.Join(tmpDir, "IMG_2.jpg"), Fingerprint: "b", Score: f(1)}
	soft.SetRoot(sharp)

	d := NewDistributor(4, xmp.NewWriter())
	if _, _, err := d.Apply(context.Background(), []*models.Image{sharp, soft}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	sc, err := xmp.ReadRating(sharp.Path + ".xmp")
	if err != nil {
		t.Fatalf("ReadRating failed: %v", err)
	}
	if sc.Rating != 4 || sc.DerivedFrom != "IMG_1.jpg" {
		t.Errorf("sidecar = %+v", sc)
	}
	if _, err := os.Stat(soft.Path + ".xmp"); !os.IsNotExist(err) {
		t.Error("rank 0 image must not get a sidecar")
	}
}
