// Package clipping defines the durable clipboard history model: a captured
// Entry owning one or more typed Representations, and the extractor that
// classifies raw pasteboard payloads into them.
package clipping

import (
	"bytes"
	"errors"
	"image"
	"net/url"
	"strings"
	"unicode/utf8"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/clipdeck/clipd/internal/uti"
)

// Capture errors. ErrDuplicateItem is an expected control-flow outcome and
// is never surfaced to the user or logged as a failure.
var (
	ErrNoItem                 = errors.New("no clipboard item")
	ErrDuplicateItem          = errors.New("duplicate clipboard item")
	ErrUnsupportedItem        = errors.New("unsupported clipboard item")
	ErrUnsupportedImageFormat = errors.New("unsupported image format")
)

// Kind is the semantic classification of a representation.
type Kind string

const (
	KindPlainText Kind = "text"
	KindRichText  Kind = "rich"
	KindURL       Kind = "url"
	KindImage     Kind = "image"
)

// preferredOrder is the fixed priority used to choose an entry's preferred
// representation, highest first.
var preferredOrder = []Kind{KindRichText, KindPlainText, KindURL, KindImage}

// Representation is one typed rendering of an entry's content. Exactly one
// payload field is populated, matching Kind. Immutable after creation.
type Representation struct {
	ID      string
	TypeTag string
	Kind    Kind

	stringValue string
	richValue   []byte
	urlValue    *url.URL
	imageValue  []byte
}

// NewRepresentation classifies a raw (typeTag, data) payload. It returns nil
// for unrecognized tags, empty payloads, and malformed URL payloads — all of
// which simply produce no representation rather than an error.
func NewRepresentation(typeTag string, data []byte) *Representation {
	if len(data) == 0 {
		return nil
	}

	switch {
	case uti.IsPlainText(typeTag):
		if !utf8.Valid(data) {
			return nil
		}
		return &Representation{TypeTag: typeTag, Kind: KindPlainText, stringValue: string(data)}

	case uti.IsRichText(typeTag):
		// Raw structured bytes; decoding is deferred to render time.
		return &Representation{TypeTag: typeTag, Kind: KindRichText, richValue: data}

	case uti.IsURL(typeTag):
		u, err := url.Parse(strings.TrimSpace(string(data)))
		if err != nil || u.Scheme == "" {
			// Corrupt system payloads show up here; drop silently.
			return nil
		}
		return &Representation{TypeTag: typeTag, Kind: KindURL, urlValue: u}

	case uti.IsImage(typeTag):
		// Encoded bytes only, never a decoded bitmap.
		return &Representation{TypeTag: typeTag, Kind: KindImage, imageValue: data}
	}
	return nil
}

// Restore rebuilds a representation from persisted fields. It applies the
// same populated-payload invariant as NewRepresentation.
func Restore(id, typeTag string, kind Kind, str string, rawURL string, blob []byte) *Representation {
	r := &Representation{ID: id, TypeTag: typeTag, Kind: kind}
	switch kind {
	case KindPlainText:
		if str == "" {
			return nil
		}
		r.stringValue = str
	case KindRichText:
		if len(blob) == 0 {
			return nil
		}
		r.richValue = blob
	case KindURL:
		u, err := url.Parse(rawURL)
		if err != nil || u.Scheme == "" {
			return nil
		}
		r.urlValue = u
	case KindImage:
		if len(blob) == 0 {
			return nil
		}
		r.imageValue = blob
	default:
		return nil
	}
	return r
}

// StringValue returns the decoded string for plain-text representations.
func (r *Representation) StringValue() string { return r.stringValue }

// RichValue returns the raw structured-text bytes for rich representations.
func (r *Representation) RichValue() []byte { return r.richValue }

// URLValue returns the parsed URL for URL representations.
func (r *Representation) URLValue() *url.URL { return r.urlValue }

// ImageValue returns the encoded image bytes for image representations.
func (r *Representation) ImageValue() []byte { return r.imageValue }

// ImageConfig decodes only the image header, returning dimensions and format
// without retaining a decoded bitmap.
func (r *Representation) ImageConfig() (image.Config, string, error) {
	if r.Kind != KindImage {
		return image.Config{}, "", ErrUnsupportedImageFormat
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(r.imageValue))
	if err != nil {
		return image.Config{}, "", ErrUnsupportedImageFormat
	}
	return cfg, format, nil
}

// CanonicalValue returns the comparison form used by duplicate detection.
// Image comparison is raw encoded bytes: expensive and rarely matching for
// visually identical re-copies, an accepted imprecision.
func (r *Representation) CanonicalValue() string {
	switch r.Kind {
	case KindPlainText:
		return r.stringValue
	case KindRichText:
		return string(r.richValue)
	case KindURL:
		return r.urlValue.String()
	case KindImage:
		return string(r.imageValue)
	}
	return ""
}

// PayloadBytes returns the representation's payload re-encoded for writing
// back to a pasteboard.
func (r *Representation) PayloadBytes() []byte {
	switch r.Kind {
	case KindPlainText:
		return []byte(r.stringValue)
	case KindRichText:
		return r.richValue
	case KindURL:
		return []byte(r.urlValue.String())
	case KindImage:
		return r.imageValue
	}
	return nil
}
