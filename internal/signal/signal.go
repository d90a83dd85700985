// Package signal is the cross-process doorbell: payload-less named signals
// broadcast to every cooperating process on the machine. Delivery is
// fire-and-forget — receivers must tolerate lost and duplicated signals, so
// the signals only ever say "go look", never carry data.
package signal

import "sync/atomic"

// Kind names a broadcast signal.
type Kind string

const (
	// StoreChanged means some process committed to the shared store; the
	// receiver should replay the change log.
	StoreChanged Kind = "store-changed"

	// PasteboardChanged means the system pasteboard changed externally; the
	// receiver should attempt a capture.
	PasteboardChanged Kind = "pasteboard-changed"

	// IgnoreNextChange arms the receiver's one-shot suppression flag: the
	// next raw pasteboard-change observation is swallowed. Posted just
	// before the app writes the pasteboard itself.
	IgnoreNextChange Kind = "ignore-next-change"
)

// valid reports whether k is a known signal kind; relays drop anything else.
func valid(k Kind) bool {
	switch k {
	case StoreChanged, PasteboardChanged, IgnoreNextChange:
		return true
	}
	return false
}

// Flag is the single-slot, one-shot suppression flag. Set arms it; Consume
// disarms it and reports whether it was armed. Exactly one observation is
// swallowed per Set no matter how many Sets raced in between.
//
// Known design tension, carried over deliberately: a genuine external
// pasteboard change that lands between a self-write and its observation can
// be swallowed in the self-write's place. The signal channel has no payload,
// so receivers cannot tell the two apart.
type Flag struct {
	armed atomic.Bool
}

// Set arms the flag.
func (f *Flag) Set() { f.armed.Store(true) }

// Consume disarms the flag, reporting whether it was armed.
func (f *Flag) Consume() bool { return f.armed.CompareAndSwap(true, false) }
