package classify

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"burstrank/internal/models"
)

var (
	ErrUnreadable        = errors.New("file unreadable")
	ErrNotImage          = errors.New("not an image")
	ErrSignatureMismatch = errors.New("signature does not match file type")
)

// sniffLen is how many leading bytes are inspected for a signature
const sniffLen = 32

// rawTypes maps camera RAW extensions to vendor MIME types. Generic guessers
// report most of these as TIFF or nothing at all.
var rawTypes = map[string]string{
	".cr2": "image/x-canon-cr2",
	".cr3": "image/x-canon-cr3",
	".nef": "image/x-nikon-nef",
	".nrw": "image/x-nikon-nrw",
	".arw": "image/x-sony-arw",
	".raf": "image/x-fuji-raf",
	".dng": "image/x-adobe-dng",
	".orf": "image/x-olympus-orf",
	".rw2": "image/x-panasonic-rw2",
	".pef": "image/x-pentax-pef",
}

// stdTypes covers image extensions missing from Go's builtin MIME table
var stdTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".bmp":  "image/bmp",
	".heic": "image/heic",
	".heif": "image/heif",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// tiffFamily lists the types stored in a plain TIFF container
var tiffFamily = []string{
	"image/tiff",
	"image/x-nikon-nef",
	"image/x-nikon-nrw",
	"image/x-sony-arw",
	"image/x-adobe-dng",
	"image/x-pentax-pef",
}

type signature struct {
	offset int
	magic  []byte
	types  []string
}

// signatures are checked in order; more specific containers come before the
// generic TIFF header they share.
var signatures = []signature{
	{0, []byte("\x89PNG\r\n\x1a\n"), []string{"image/png"}},
	{8, []byte("CR"), []string{"image/x-canon-cr2"}},
	{0, []byte("IIRO"), []string{"image/x-olympus-orf"}},
	{0, []byte("IIRS"), []string{"image/x-olympus-orf"}},
	{0, []byte("MMOR"), []string{"image/x-olympus-orf"}},
	{0, []byte("IIU\x00"), []string{"image/x-panasonic-rw2"}},
	{0, []byte("FUJIFILMCCD-RAW"), []string{"image/x-fuji-raf"}},
	{4, []byte("ftypcrx "), []string{"image/x-canon-cr3"}},
	{4, []byte("ftypheic"), []string{"image/heic", "image/heif"}},
	{4, []byte("ftypheix"), []string{"image/heic", "image/heif"}},
	{4, []byte("ftyphevc"), []string{"image/heic", "image/heif"}},
	{4, []byte("ftypmif1"), []string{"image/heic", "image/heif"}},
	{4, []byte("ftypmsf1"), []string{"image/heic", "image/heif"}},
	{8, []byte("WEBP"), []string{"image/webp"}},
	{0, []byte("GIF8"), []string{"image/gif"}},
	{0, []byte("II*\x00"), tiffFamily},
	{0, []byte("MM\x00*"), tiffFamily},
	{0, []byte("BM"), []string{"image/bmp"}},
}

var jpegMarker = []byte{0xFF, 0xD8, 0xFF}

// Classifier determines the content type of image files
type Classifier struct{}

// NewClassifier creates a new Classifier
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify returns the content type of the file at path. The type guessed
// from the extension must agree with the file's leading bytes.
func (c *Classifier) Classify(path string) (models.ContentType, error) {
	guessed := TypeByExtension(path)
	if guessed != "" && !strings.HasPrefix(guessed, "image/") {
		return models.ContentType{}, fmt.Errorf("%w: %s", ErrNotImage, guessed)
	}

	head, err := readHead(path)
	if err != nil {
		return models.ContentType{}, err
	}

	allowed := Sniff(head)
	if len(allowed) == 0 && guessed == "" {
		return models.ContentType{}, fmt.Errorf("%w: unknown extension and signature", ErrNotImage)
	}
	if len(allowed) == 0 {
		return models.ContentType{}, fmt.Errorf("%w: unrecognized signature", ErrSignatureMismatch)
	}

	mimeType := guessed
	if mimeType == "" {
		mimeType = allowed[0]
	} else if !slices.Contains(allowed, mimeType) {
		return models.ContentType{}, fmt.Errorf("%w: extension says %s, content says %s",
			ErrSignatureMismatch, mimeType, allowed[0])
	}

	return models.ContentType{MIME: mimeType, Kind: KindOf(mimeType)}, nil
}

// TypeByExtension guesses a MIME type from the file extension alone. Vendor
// RAW types take priority over the generic tables.
func TypeByExtension(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return ""
	}
	if t, ok := rawTypes[ext]; ok {
		return t
	}
	if t, ok := stdTypes[ext]; ok {
		return t
	}
	t := mime.TypeByExtension(ext)
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}

// Sniff returns the MIME types consistent with the leading bytes, most
// specific first, or nil when no signature matches.
func Sniff(head []byte) []string {
	for _, sig := range signatures {
		end := sig.offset + len(sig.magic)
		if len(head) >= end && bytes.Equal(head[sig.offset:end], sig.magic) {
			if sig.offset == 8 && string(sig.magic) == "CR" && !isTIFFHeader(head) {
				continue
			}
			if string(sig.magic) == "WEBP" && !bytes.HasPrefix(head, []byte("RIFF")) {
				continue
			}
			return sig.types
		}
	}
	if bytes.Contains(head, jpegMarker) {
		return []string{"image/jpeg"}
	}
	return nil
}

// KindOf maps a MIME type to its decoding family
func KindOf(mimeType string) models.Kind {
	switch {
	case strings.Contains(mimeType, "image/x-"):
		return models.KindRaw
	case mimeType == "image/heic" || mimeType == "image/heif":
		return models.KindHEIC
	case strings.HasPrefix(mimeType, "image/"):
		return models.KindStandard
	default:
		return models.KindUnknown
	}
}

// IsSidecar reports whether path is a metadata sidecar rather than an image
func IsSidecar(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xmp")
}

func isTIFFHeader(head []byte) bool {
	return bytes.HasPrefix(head, []byte("II*\x00")) || bytes.HasPrefix(head, []byte("MM\x00*"))
}

func readHead(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return head[:n], nil
}
