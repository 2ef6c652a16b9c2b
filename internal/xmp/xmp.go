// Package xmp reads and writes the star rating in XMP sidecar files.
package xmp

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"burstrank/internal/fileutil"
)

const (
	NSMeta      = "adobe:ns:meta/"
	NSRDF       = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	NSExif      = "http://ns.adobe.com/exif/1.0/"
	NSXMP       = "http://ns.adobe.com/xap/1.0/"
	NSXMPMM     = "http://ns.adobe.com/xap/1.0/mm/"
	NSDarktable = "http://darktable.sf.net/"

	toolkit = "XMP Core 4.4.0-Exiv2"
)

var (
	ErrParse         = errors.New("sidecar is not valid XMP")
	ErrNoDescription = errors.New("sidecar has no rdf:Description")
	ErrVanished      = errors.New("sidecar vanished during update")
)

// SidecarPath returns the sidecar path for a source image
func SidecarPath(source string) string {
	return source + ".xmp"
}

// Writer upserts ratings into sidecars
type Writer struct {
	perm os.FileMode
}

// NewWriter creates a Writer
func NewWriter() *Writer {
	return &Writer{perm: 0o644}
}

// Upsert sets the rating of the sidecar at path. A missing sidecar is
// created with the rating and sourceFilename; an existing one keeps all
// other content. Rank 0 is a no-op.
func (w *Writer) Upsert(path, sourceFilename string, rank int) error {
	if rank == 0 {
		return nil
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return w.create(path, sourceFilename, rank)
	case err != nil:
		return fmt.Errorf("stat %s: %w", path, err)
	case info.IsDir():
		return fmt.Errorf("%w: %s is a directory", ErrParse, path)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrVanished, path)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrParse, path, err)
	}
	if doc.Root() == nil {
		return fmt.Errorf("%w: %s: no root element", ErrParse, path)
	}

	desc := findDescription(doc.Root())
	if desc == nil {
		return fmt.Errorf("%w: %s", ErrNoDescription, path)
	}
	setRating(desc, rank)

	out, err := doc.WriteToBytes()
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return w.write(path, out)
}

func (w *Writer) create(path, sourceFilename string, rank int) error {
	out, err := NewSidecar(sourceFilename, rank)
	if err != nil {
		return err
	}
	return w.write(path, out)
}

func (w *Writer) write(path string, data []byte) error {
	if err := fileutil.WriteFileAtomic(path, data, w.perm); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s: %v", ErrVanished, path, err)
		}
		return err
	}
	return nil
}

// NewSidecar renders a minimal sidecar carrying rating and the source name
func NewSidecar(sourceFilename string, rating int) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	meta := doc.CreateElement("x:xmpmeta")
	meta.CreateAttr("xmlns:x", NSMeta)
	meta.CreateAttr("x:xmptk", toolkit)

	rdf := meta.CreateElement("rdf:RDF")
	rdf.CreateAttr("xmlns:rdf", NSRDF)

	desc := rdf.CreateElement("rdf:Description")
	desc.CreateAttr("rdf:about", "")
	desc.CreateAttr("xmlns:exif", NSExif)
	desc.CreateAttr("xmlns:xmp", NSXMP)
	desc.CreateAttr("xmlns:xmpMM", NSXMPMM)
	desc.CreateAttr("xmlns:darktable", NSDarktable)
	desc.CreateAttr("xmp:Rating", strconv.Itoa(rating))
	desc.CreateAttr("xmpMM:DerivedFrom", sourceFilename)

	doc.Indent(1)
	return doc.WriteToBytes()
}

// findDescription returns the first rdf:Description, matched by namespace
// URI rather than prefix.
func findDescription(e *etree.Element) *etree.Element {
	if e.Tag == "Description" && e.NamespaceURI() == NSRDF {
		return e
	}
	for _, child := range e.ChildElements() {
		if found := findDescription(child); found != nil {
			return found
		}
	}
	return nil
}

func setRating(desc *etree.Element, rank int) {
	v := strconv.Itoa(rank)

	for i := range desc.Attr {
		a := &desc.Attr[i]
		if a.Key == "Rating" && a.NamespaceURI() == NSXMP {
			a.Value = v
			return
		}
	}
	for _, child := range desc.ChildElements() {
		if child.Tag == "Rating" && child.NamespaceURI() == NSXMP {
			child.SetText(v)
			return
		}
	}

	prefix := prefixFor(desc, NSXMP)
	if prefix == "" {
		prefix = "xmp"
		desc.CreateAttr("xmlns:xmp", NSXMP)
	}
	desc.CreateAttr(prefix+":Rating", v)
}

// prefixFor finds a prefix bound to uri on e or its ancestors
func prefixFor(e *etree.Element, uri string) string {
	for ; e != nil; e = e.Parent() {
		for _, a := range e.Attr {
			if a.Space == "xmlns" && a.Value == uri {
				return a.Key
			}
		}
	}
	return ""
}

// Sidecar is the rating-relevant content of a sidecar file
type Sidecar struct {
	Rating      int
	HasRating   bool
	DerivedFrom string
}

// ReadRating parses the rating and source name of the sidecar at path
func ReadRating(path string) (Sidecar, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Sidecar{}, err
		}
		return Sidecar{}, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
	}
	if doc.Root() == nil {
		return Sidecar{}, fmt.Errorf("%w: %s: no root element", ErrParse, path)
	}
	desc := findDescription(doc.Root())
	if desc == nil {
		return Sidecar{}, fmt.Errorf("%w: %s", ErrNoDescription, path)
	}

	var sc Sidecar
	raw, ok := "", false
	for _, a := range desc.Attr {
		switch {
		case a.Key == "Rating" && a.NamespaceURI() == NSXMP:
			raw, ok = a.Value, true
		case a.Key == "DerivedFrom" && a.NamespaceURI() == NSXMPMM:
			sc.DerivedFrom = a.Value
		}
	}
	if !ok {
		for _, child := range desc.ChildElements() {
			if child.Tag == "Rating" && child.NamespaceURI() == NSXMP {
				raw, ok = child.Text(), true
				break
			}
		}
	}
	if ok {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return sc, fmt.Errorf("%w: %s: rating %q", ErrParse, path, raw)
		}
		sc.Rating, sc.HasRating = n, true
	}
	return sc, nil
}
