// Package pasteboard abstracts the system-wide pasteboard. Sources expose the
// current item's typed payloads in system priority order plus a coarse probe
// for content that is unsafe to enumerate; Writers copy entries back out,
// tagging them so the capture pipeline recognizes its own writes.
package pasteboard

import "github.com/clipdeck/clipd/internal/clipping"

// Source reads the current pasteboard contents.
type Source interface {
	// ChangeCount returns a counter that increases on every pasteboard
	// write. Used by the polling fallback to detect changes cheaply.
	ChangeCount() int

	// HasUnsafeContent reports whether the pasteboard holds content whose
	// enumeration is known to crash the host process (color swatches on
	// affected OS builds). Must be checked before Payloads.
	HasUnsafeContent() bool

	// Payloads returns the first item's (typeTag, bytes) pairs in system
	// priority order. nil, nil means the pasteboard is empty.
	Payloads() ([]clipping.Payload, error)

	// Watch returns a channel signalled whenever the pasteboard changes.
	// The channel is never closed; callers re-read on each signal.
	Watch() <-chan struct{}

	// Close releases any resources held by the source.
	Close()
}

// Writer replaces the pasteboard contents. Implementations must tag written
// payloads with the self-copy marker type so future captures skip them.
type Writer interface {
	Write(payloads []clipping.Payload) error
}
