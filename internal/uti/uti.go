// Package uti models the content-type identifier taxonomy used by the system
// pasteboard. Tags form a conformance hierarchy (a PNG tag conforms to the
// generic image tag, RTF conforms to text, and so on); classification of a
// pasteboard payload is a walk up that hierarchy.
package uti

// Well-known type tags.
const (
	Text          = "public.text"
	PlainText     = "public.plain-text"
	UTF8PlainText = "public.utf8-plain-text"

	RTF      = "public.rtf"
	HTML     = "public.html"
	RTFD     = "com.apple.rtfd"
	FlatRTFD = "com.apple.flat-rtfd"

	URL     = "public.url"
	FileURL = "public.file-url"

	Image = "public.image"
	PNG   = "public.png"
	JPEG  = "public.jpeg"
	GIF   = "com.compuserve.gif"
	TIFF  = "public.tiff"

	// Clipping marks pasteboard contents written by clipd itself. Captures
	// whose declared tags include it are skipped outright.
	Clipping = "com.clipdeck.clipd.clipping"
)

// parent maps each known tag to the tag it directly conforms to.
var parent = map[string]string{
	PlainText:     Text,
	UTF8PlainText: PlainText,
	RTF:           Text,
	HTML:          Text,
	RTFD:          Text,
	FlatRTFD:      RTFD,
	FileURL:       URL,
	PNG:           Image,
	JPEG:          Image,
	GIF:           Image,
	TIFF:          Image,
}

// Conforms reports whether tag is family or conforms to it, directly or
// transitively. Unknown tags conform only to themselves.
func Conforms(tag, family string) bool {
	for tag != "" {
		if tag == family {
			return true
		}
		tag = parent[tag]
	}
	return false
}

// IsPlainText reports whether tag holds a decodable plain string.
func IsPlainText(tag string) bool { return Conforms(tag, PlainText) }

// IsRichText reports whether tag holds structured rich text. Plain text
// conforms to public.text too, so it is carved out explicitly.
func IsRichText(tag string) bool {
	return Conforms(tag, Text) && !Conforms(tag, PlainText)
}

// IsURL reports whether tag holds a URL.
func IsURL(tag string) bool { return Conforms(tag, URL) }

// IsImage reports whether tag holds encoded image bytes.
func IsImage(tag string) bool { return Conforms(tag, Image) }
