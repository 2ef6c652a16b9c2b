// Package hash labels comparison buffers with a content fingerprint.
package hash

import (
	"encoding/hex"
	"hash/fnv"

	"burstrank/internal/models"
)

// Fingerprint returns the FNV-1a 64-bit hash of the raster's pixels and
// dimensions as hex. It identifies a group and is not collision resistant.
func Fingerprint(r models.Raster) string {
	h := fnv.New64a()
	var dims [8]byte
	w, ht := uint32(r.Width()), uint32(r.Height())
	dims[0], dims[1], dims[2], dims[3] = byte(w>>24), byte(w>>16), byte(w>>8), byte(w)
	dims[4], dims[5], dims[6], dims[7] = byte(ht>>24), byte(ht>>16), byte(ht>>8), byte(ht)
	h.Write(dims[:])
	h.Write(r.Pix())
	return hex.EncodeToString(h.Sum(nil))
}
