package match

import (
	"errors"
	"testing"

	"burstrank/internal/models"
)

func roots(images []*models.Image) []string {
	out := make([]string, len(images))
	for i, img := range images {
		out[i] = img.Root().Filename
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func burst() []*models.Image {
	return []*models.Image{
		newImage("1.jpg", 0, sceneA),
		newImage("2.jpg", 1, noisy(sceneA, 1)),
		newImage("3.jpg", 2, noisy(sceneA, 2)),
		newImage("4.jpg", 3, sceneB),
		newImage("5.jpg", 4, noisy(sceneB, 4)),
		newImage("6.jpg", 5, sceneA),
	}
}

func TestGroup_Bursts(t *testing.T) {
	images := burst()
	if err := NewGrouper(structural()).Group(images); err != nil {
		t.Fatalf("Group failed: %v", err)
	}

	want := []string{"1.jpg", "1.jpg", "1.jpg", "4.jpg", "4.jpg", "6.jpg"}
	if got := roots(images); !equal(got, want) {
		t.Errorf("roots = %v, want %v", got, want)
	}
	if images[5].HasParent() {
		t.Error("scan stops at the first mismatch, so 6.jpg must not rejoin 1.jpg")
	}

	// 1.jpg compared with 2, 3 (matches) and 4 (stop).
	if n := len(images[0].Comparisons); n != 3 {
		t.Errorf("1.jpg has %d comparisons, want 3", n)
	}
	last := images[0].Comparisons[2]
	if last.Peer != "4.jpg" || last.Matched {
		t.Errorf("last comparison = %+v, want unmatched 4.jpg", last)
	}
}

func TestGroup_RootDepth(t *testing.T) {
	images := burst()
	NewGrouper(structural()).Group(images)

	for _, img := range images {
		hops := 0
		r := img
		for ; r.Parent() != nil; r = r.Parent() {
			hops++
			if hops > 2 {
				t.Fatalf("%s: parent chain longer than 2 hops", img.Filename)
			}
		}
		if r != img.Root() {
			t.Errorf("%s: Root() = %s, parent walk ends at %s", img.Filename, img.Root().Filename, r.Filename)
		}
	}
}

func TestGroup_Idempotent(t *testing.T) {
	images := burst()
	g := NewGrouper(structural())
	if err := g.Group(images); err != nil {
		t.Fatal(err)
	}
	first := roots(images)

	if err := g.Group(images); err != nil {
		t.Fatal(err)
	}
	if second := roots(images); !equal(first, second) {
		t.Errorf("regrouping changed roots: %v -> %v", first, second)
	}
}

func TestGroup_MetadataScreen(t *testing.T) {
	a := newImage("a.jpg", 0, sceneA)
	b := newImage("b.jpg", 1, sceneA)
	b.Fingerprint = a.Fingerprint
	a.Meta = models.Metadata{Make: "Canon", Model: "R6"}
	b.Meta = models.Metadata{Make: "Sony", Model: "R6"}

	NewGrouper(structural()).Group([]*models.Image{a, b})
	if b.HasParent() {
		t.Error("different camera makes must never group")
	}

	c := newImage("c.jpg", 0, sceneA)
	d := newImage("d.jpg", 1, sceneA)
	NewGrouper(structural()).Group([]*models.Image{c, d})
	if d.Root() != c {
		t.Error("images without metadata should still group")
	}
}

func TestGroup_IdenticalFingerprintSkipsStrategy(t *testing.T) {
	a := newImage("a.jpg", 0, sceneA)
	b := newImage("b.jpg", 1, sceneB)
	b.Fingerprint = a.Fingerprint

	NewGrouper(structural()).Group([]*models.Image{a, b})
	if b.Root() != a {
		t.Error("identical fingerprints should match")
	}
}

func TestGroup_ComparisonErrorIsNonMatch(t *testing.T) {
	a := newImage("a.jpg", 0, sceneA)
	b := newImage("b.jpg", 1, sceneA)
	b.Normalized = nil
	c := newImage("c.jpg", 2, sceneA)

	if err := NewGrouper(structural()).Group([]*models.Image{a, b, c}); err != nil {
		t.Fatalf("Group failed: %v", err)
	}
	if b.HasParent() || c.HasParent() && c.Root() == a {
		t.Error("a failed comparison must end the scan from a")
	}
}

func TestGroup_Unordered(t *testing.T) {
	images := burst()
	images[2], images[3] = images[3], images[2]

	err := NewGrouper(structural()).Group(images)
	if !errors.Is(err, ErrUnordered) {
		t.Errorf("expected ErrUnordered, got %v", err)
	}
	for _, img := range images {
		if img.HasParent() {
			t.Fatal("no links may be made when the order check fails")
		}
	}
}

func TestGroup_Empty(t *testing.T) {
	if err := NewGrouper(structural()).Group(nil); err != nil {
		t.Errorf("Group(nil) = %v", err)
	}
}
