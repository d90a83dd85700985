package pasteboard

import (
	"sync"

	"github.com/clipdeck/clipd/internal/clipping"
)

// Fake is an in-memory pasteboard used by capture and monitor tests across
// packages. SetPayloads simulates an external copy; Write behaves like the
// app's own copy-out.
type Fake struct {
	mu          sync.Mutex
	payloads    []clipping.Payload
	changeCount int
	unsafe      bool
	readErr     error
	watchCh     chan struct{}
}

var (
	_ Source = (*Fake)(nil)
	_ Writer = (*Fake)(nil)
)

// NewFake returns an empty fake pasteboard.
func NewFake() *Fake {
	return &Fake{watchCh: make(chan struct{}, 1)}
}

// SetPayloads replaces the pasteboard contents as an external writer would,
// bumping the change count and signalling watchers.
func (f *Fake) SetPayloads(payloads []clipping.Payload) {
	f.mu.Lock()
	f.payloads = payloads
	f.changeCount++
	f.mu.Unlock()
	select {
	case f.watchCh <- struct{}{}:
	default:
	}
}

// SetUnsafe marks the contents as unsafe to enumerate.
func (f *Fake) SetUnsafe(unsafe bool) {
	f.mu.Lock()
	f.unsafe = unsafe
	f.mu.Unlock()
}

// SetReadError makes Payloads fail with err.
func (f *Fake) SetReadError(err error) {
	f.mu.Lock()
	f.readErr = err
	f.mu.Unlock()
}

func (f *Fake) ChangeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changeCount
}

func (f *Fake) HasUnsafeContent() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsafe
}

func (f *Fake) Payloads() ([]clipping.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.payloads, nil
}

func (f *Fake) Write(payloads []clipping.Payload) error {
	f.SetPayloads(payloads)
	return nil
}

func (f *Fake) Watch() <-chan struct{} { return f.watchCh }
func (f *Fake) Close()                 {}
