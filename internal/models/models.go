package models

import (
	"strings"
	"time"
)

// Kind is the broad decoding family of an image file
type Kind int

const (
	KindUnknown Kind = iota
	KindStandard
	KindRaw
	KindHEIC
)

func (k Kind) String() string {
	switch k {
	case KindStandard:
		return "standard"
	case KindRaw:
		return "raw"
	case KindHEIC:
		return "heic"
	default:
		return "unknown"
	}
}

// ContentType holds the classification of an image file
type ContentType struct {
	MIME string `json:"mime"`
	Kind Kind   `json:"kind"`
}

// IsRaw reports whether the file needs the camera RAW decoder
func (c ContentType) IsRaw() bool {
	return c.Kind == KindRaw
}

// IsZero reports whether no classification was made
func (c ContentType) IsZero() bool {
	return c.MIME == "" && c.Kind == KindUnknown
}

// MissingTag marks a metadata tag the file does not carry. A tag that is
// present but blank is treated the same way.
const MissingTag = "<missing>"

// Metadata holds the capture fields used to screen image pairs
type Metadata struct {
	Make      string    `json:"make"`
	Model     string    `json:"model"`
	LensMake  string    `json:"lens_make"`
	LensModel string    `json:"lens_model"`
	Captured  time.Time `json:"captured"`
}

// EmptyMetadata returns metadata with every camera and lens tag missing
func EmptyMetadata() Metadata {
	return Metadata{
		Make:      MissingTag,
		Model:     MissingTag,
		LensMake:  MissingTag,
		LensModel: MissingTag,
	}
}

// Empty reports whether all camera and lens tags are missing
func (m Metadata) Empty() bool {
	for _, v := range m.cameraLens() {
		if CanonicalTag(v) != MissingTag {
			return false
		}
	}
	return true
}

// SameCamera reports whether both sides carry identical camera and lens tags.
// A blank tag and a missing tag compare equal.
func (m Metadata) SameCamera(other Metadata) bool {
	a, b := m.cameraLens(), other.cameraLens()
	for i := range a {
		if CanonicalTag(a[i]) != CanonicalTag(b[i]) {
			return false
		}
	}
	return true
}

// CanonicalTag trims a tag value and maps a blank value to MissingTag
func CanonicalTag(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return MissingTag
	}
	return v
}

func (m Metadata) cameraLens() [4]string {
	return [4]string{m.Make, m.Model, m.LensMake, m.LensModel}
}

// Raster is a decoded 8-bit grayscale image owned by a vision backend
type Raster interface {
	Width() int
	Height() int
	// Pix returns the row-major pixel bytes, one byte per pixel
	Pix() []byte
	Close() error
}

// Comparison records one pairwise similarity check
type Comparison struct {
	Peer    string  `json:"peer"`
	Score   float64 `json:"score"`
	Matched bool    `json:"matched"`
}

// Image is one candidate photo moving through the pipeline
type Image struct {
	Filename    string       `json:"filename"`
	Path        string       `json:"path"`
	Type        ContentType  `json:"type"`
	Captured    time.Time    `json:"captured"`
	Meta        Metadata     `json:"meta"`
	Normalized  Raster       `json:"-"`
	Fingerprint string       `json:"fingerprint"`
	Score       *float64     `json:"score,omitempty"`
	Rank        int          `json:"rank"`
	Comparisons []Comparison `json:"comparisons,omitempty"`

	root *Image
}

// Root resolves the canonical root of the image's group by following parent
// links to an image without a parent.
func (img *Image) Root() *Image {
	r := img
	for r.root != nil {
		r = r.root
	}
	return r
}

// SetRoot links the image to the group of root. The link always points at
// root's own root, never at an intermediate member. Passing nil, the image
// itself, or an image whose root is this image makes it a root.
func (img *Image) SetRoot(root *Image) {
	if root != nil {
		root = root.Root()
	}
	if root == img {
		root = nil
	}
	img.root = root
}

// Parent returns the image this one is linked to, or nil for a root
func (img *Image) Parent() *Image {
	return img.root
}

// HasParent reports whether the image was linked to another image's group
func (img *Image) HasParent() bool {
	return img.root != nil
}

// RootHash returns the fingerprint that identifies the image's group
func (img *Image) RootHash() string {
	return img.Root().Fingerprint
}

// SetScore records the sharpness score
func (img *Image) SetScore(v float64) {
	img.Score = &v
}

// ScoreValue returns the sharpness score and whether it was computed
func (img *Image) ScoreValue() (float64, bool) {
	if img.Score == nil {
		return 0, false
	}
	return *img.Score, true
}

// Record appends a comparison against peer to the diagnostic log
func (img *Image) Record(peer string, score float64, matched bool) {
	img.Comparisons = append(img.Comparisons, Comparison{Peer: peer, Score: score, Matched: matched})
}

// Release frees the normalized buffer
func (img *Image) Release() {
	if img.Normalized != nil {
		img.Normalized.Close()
		img.Normalized = nil
	}
}
