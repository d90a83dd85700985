package capture

import "github.com/clipdeck/clipd/internal/clipping"

// duplicates reports whether candidate carries the same content as prev, the
// most recent surviving entry: same set of representation kinds and the same
// canonical value per kind. Image values compare as raw encoded bytes — in
// practice visually identical re-copies rarely byte-match, an accepted
// imprecision rather than something to paper over with perceptual hashing.
func duplicates(candidate, prev *clipping.Entry) bool {
	if prev == nil {
		return false
	}
	a := candidate.ValuesByKind()
	b := prev.ValuesByKind()
	if len(a) != len(b) {
		return false
	}
	for kind, val := range a {
		other, ok := b[kind]
		if !ok || other != val {
			return false
		}
	}
	return true
}
