package pasteboard

import (
	"bytes"
	"log/slog"
	"sync"
	"time"

	"golang.design/x/clipboard"

	"github.com/clipdeck/clipd/internal/clipping"
	"github.com/clipdeck/clipd/internal/uti"
)

const systemPollInterval = 250 * time.Millisecond

// systemBoard backs Source and Writer with the real OS clipboard. The
// underlying library exposes text and PNG formats only, so those are the two
// payload families a system capture can yield; the marker tag for self-copies
// is carried in-process via the written-bytes memo below.
type systemBoard struct {
	watchCh chan struct{}
	done    chan struct{}

	mu          sync.Mutex
	changeCount int
	lastText    []byte
	lastImg     []byte
	selfWritten bool   // current contents are our own Write
	wroteText   []byte // bytes of the pending self-write, until superseded
	wroteImg    []byte
}

// System returns the OS-backed pasteboard, or a headless no-op board when the
// display environment is unavailable. Initialization happens here rather than
// in init() so one-shot CLI commands don't trigger the display warning.
func System() (Source, Writer) {
	if err := clipboard.Init(); err != nil {
		slog.Warn("pasteboard unavailable, running headless", "err", err)
		h := &headlessBoard{watchCh: make(chan struct{})}
		return h, h
	}
	b := &systemBoard{
		watchCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go b.poll()
	return b, b
}

func (b *systemBoard) poll() {
	t := time.NewTicker(systemPollInterval)
	defer t.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
			if b.observe(clipboard.Read(clipboard.FmtText), clipboard.Read(clipboard.FmtImage)) {
				select {
				case b.watchCh <- struct{}{}:
				default:
				}
			}
		}
	}
}

// observe folds one snapshot of the OS clipboard into the board's state and
// reports whether the contents changed. Contents equal to a pending
// self-write keep the marker armed: the change still counts (so watchers run
// and consume their ignore flags), but Payloads keeps surfacing the marker
// tag until genuinely different contents appear.
func (b *systemBoard) observe(text, img []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bytes.Equal(text, b.lastText) && bytes.Equal(img, b.lastImg) {
		return false
	}
	b.lastText = text
	b.lastImg = img
	b.changeCount++
	pending := b.wroteText != nil || b.wroteImg != nil
	if pending && bytes.Equal(text, b.wroteText) && bytes.Equal(img, b.wroteImg) {
		b.selfWritten = true
	} else {
		b.selfWritten = false
		b.wroteText, b.wroteImg = nil, nil
	}
	return true
}

func (b *systemBoard) ChangeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.changeCount
}

// HasUnsafeContent always reports false here: the library never enumerates
// color-swatch contents, so the unsafe class cannot occur on this backend.
func (b *systemBoard) HasUnsafeContent() bool { return false }

func (b *systemBoard) Payloads() ([]clipping.Payload, error) {
	b.mu.Lock()
	text := b.lastText
	img := b.lastImg
	self := b.selfWritten
	b.mu.Unlock()

	var payloads []clipping.Payload
	if self {
		// Our own copy-out; surface the marker so capture's fast path fires.
		payloads = append(payloads, clipping.Payload{TypeTag: uti.Clipping, Data: []byte{1}})
	}
	if len(text) > 0 {
		payloads = append(payloads, clipping.Payload{TypeTag: uti.UTF8PlainText, Data: text})
	}
	if len(img) > 0 {
		payloads = append(payloads, clipping.Payload{TypeTag: uti.PNG, Data: img})
	}
	return payloads, nil
}

func (b *systemBoard) Write(payloads []clipping.Payload) error {
	var text, img []byte
	for _, p := range payloads {
		switch {
		case p.TypeTag == uti.Clipping:
			// Marker has no system format; remembered below.
		case uti.IsPlainText(p.TypeTag), uti.IsURL(p.TypeTag):
			clipboard.Write(clipboard.FmtText, p.Data)
			text = p.Data
		case uti.IsImage(p.TypeTag):
			clipboard.Write(clipboard.FmtImage, p.Data)
			img = p.Data
		}
	}
	b.markSelfWrite(text, img)
	return nil
}

// markSelfWrite arms the self-copy marker and records the written bytes so
// the poll tick that observes the write does not disarm it.
func (b *systemBoard) markSelfWrite(text, img []byte) {
	b.mu.Lock()
	b.selfWritten = true
	b.wroteText, b.wroteImg = text, img
	b.mu.Unlock()
}

func (b *systemBoard) Watch() <-chan struct{} { return b.watchCh }
func (b *systemBoard) Close()                 { close(b.done) }

// headlessBoard is the stub used when no display environment exists.
type headlessBoard struct {
	watchCh chan struct{}
}

func (h *headlessBoard) ChangeCount() int                    { return 0 }
func (h *headlessBoard) HasUnsafeContent() bool              { return false }
func (h *headlessBoard) Payloads() ([]clipping.Payload, error) { return nil, nil }
func (h *headlessBoard) Write([]clipping.Payload) error      { return nil }
func (h *headlessBoard) Watch() <-chan struct{}              { return h.watchCh }
func (h *headlessBoard) Close()                              {}
