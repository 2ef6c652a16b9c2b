// Package exifmeta reads the capture metadata used to screen image pairs.
package exifmeta

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/barasher/go-exiftool"
	"github.com/rwcarlsen/goexif/exif"

	"burstrank/internal/models"
)

const exifTimeLayout = "2006:01:02 15:04:05"

// Reader extracts camera and lens tags. Files goexif cannot parse (CR3, HEIC
// and most vendor RAW containers) fall back to the exiftool binary when it is
// installed.
type Reader struct {
	mu       sync.Mutex
	et       *exiftool.Exiftool
	etErr    error
	etOnce   sync.Once
	fallback bool
}

// Option configures a Reader
type Option func(*Reader)

// WithExiftool enables or disables the exiftool fallback
func WithExiftool(enabled bool) Option {
	return func(r *Reader) {
		r.fallback = enabled
	}
}

// NewReader creates a Reader
func NewReader(opts ...Option) *Reader {
	r := &Reader{fallback: true}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read returns the metadata of path. Tags the file does not carry are set to
// models.MissingTag. Captured falls back to the file modification time.
func (r *Reader) Read(path string) (models.Metadata, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return models.EmptyMetadata(), fmt.Errorf("stat %s: %w", path, err)
	}

	meta, err := readExif(path)
	if err != nil && r.fallback {
		meta, err = r.readExiftool(path)
	}
	if err != nil {
		// No readable metadata is not an error for the caller: the pair
		// screen treats it as empty.
		meta = models.EmptyMetadata()
	}
	if meta.Captured.IsZero() {
		meta.Captured = stat.ModTime()
	}
	return meta, nil
}

// Close stops the exiftool process if one was started
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.et == nil {
		return nil
	}
	err := r.et.Close()
	r.et = nil
	return err
}

func readExif(path string) (models.Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Metadata{}, err
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return models.Metadata{}, err
	}

	meta := models.Metadata{
		Make:      exifString(x, exif.Make),
		Model:     exifString(x, exif.Model),
		LensMake:  exifString(x, exif.LensMake),
		LensModel: exifString(x, exif.LensModel),
	}
	if t, err := x.DateTime(); err == nil {
		meta.Captured = t
	}
	return meta, nil
}

func exifString(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return models.MissingTag
	}
	s, err := tag.StringVal()
	if err != nil {
		return models.MissingTag
	}
	return models.CanonicalTag(strings.TrimRight(s, "\x00 "))
}

func (r *Reader) readExiftool(path string) (models.Metadata, error) {
	r.etOnce.Do(func() {
		r.et, r.etErr = exiftool.NewExiftool()
	})
	if r.etErr != nil {
		return models.Metadata{}, r.etErr
	}

	// A single exiftool process reads one request at a time.
	r.mu.Lock()
	if r.et == nil {
		r.mu.Unlock()
		return models.Metadata{}, fmt.Errorf("exiftool closed")
	}
	infos := r.et.ExtractMetadata(path)
	r.mu.Unlock()

	if len(infos) == 0 {
		return models.Metadata{}, fmt.Errorf("exiftool: no metadata for %s", path)
	}
	info := infos[0]
	if info.Err != nil {
		return models.Metadata{}, info.Err
	}

	meta := models.Metadata{
		Make:      fieldString(info, "Make"),
		Model:     fieldString(info, "Model"),
		LensMake:  fieldString(info, "LensMake"),
		LensModel: fieldString(info, "LensModel"),
	}
	for _, key := range []string{"DateTimeOriginal", "CreateDate"} {
		s, err := info.GetString(key)
		if err != nil {
			continue
		}
		if t, err := ParseTime(s); err == nil {
			meta.Captured = t
			break
		}
	}
	return meta, nil
}

func fieldString(info exiftool.FileMetadata, key string) string {
	s, err := info.GetString(key)
	if err != nil {
		return models.MissingTag
	}
	return models.CanonicalTag(s)
}

// ParseTime parses an EXIF date, ignoring sub-second and zone suffixes
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) < len(exifTimeLayout) {
		return time.Time{}, fmt.Errorf("exif time %q too short", s)
	}
	return time.ParseInLocation(exifTimeLayout, s[:len(exifTimeLayout)], time.Local)
}
