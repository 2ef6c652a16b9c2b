package match

import "burstrank/internal/models"

// sameFingerprint reports whether two images have byte-identical comparison
// buffers, which matches under every strategy without running it.
func sameFingerprint(a, b *models.Image) bool {
	return a.Fingerprint != "" && a.Fingerprint == b.Fingerprint
}

// MetadataScreen reports whether a pair may be compared at all. Frames shot
// on different cameras or lenses never belong to one burst; a side without
// any camera metadata passes.
func MetadataScreen(a, b models.Metadata) bool {
	if a.Empty() || b.Empty() {
		return true
	}
	return a.SameCamera(b)
}
