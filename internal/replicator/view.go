package replicator

import (
	"sort"
	"sync"

	"github.com/clipdeck/clipd/internal/clipping"
)

// View is the in-memory, read-optimized projection of the store that display
// code reads. Merges keep it ordered newest first. A single listener is
// notified on change; ApplyBatch coalesces notifications across a bulk merge
// so a replay does not fire per-record updates at the reader.
type View struct {
	mu       sync.RWMutex
	entries  []*clipping.Entry // newest first
	byID     map[string]int
	listener func()
	muted    bool
	dirty    bool
}

// NewView returns an empty view.
func NewView() *View {
	return &View{byID: make(map[string]int)}
}

// SetListener registers the change listener. Only one is supported; calling
// again replaces it.
func (v *View) SetListener(fn func()) {
	v.mu.Lock()
	v.listener = fn
	v.mu.Unlock()
}

// Upsert inserts or replaces the entry, keeping newest-first order.
func (v *View) Upsert(e *clipping.Entry) {
	v.mu.Lock()
	if i, ok := v.byID[e.ID]; ok {
		v.entries[i] = e
	} else {
		v.entries = append(v.entries, e)
	}
	sort.SliceStable(v.entries, func(i, j int) bool {
		a, b := v.entries[i], v.entries[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	v.reindexLocked()
	v.notifyLocked()
	v.mu.Unlock()
}

// Remove drops the entry if present. Removing an unknown id is a no-op so
// replaying a delete twice is harmless.
func (v *View) Remove(id string) {
	v.mu.Lock()
	if i, ok := v.byID[id]; ok {
		v.entries = append(v.entries[:i], v.entries[i+1:]...)
		v.reindexLocked()
		v.notifyLocked()
	}
	v.mu.Unlock()
}

// Reset clears the view, notifying the listener if anything was dropped.
// Inside ApplyBatch the notification coalesces with the batch's own.
func (v *View) Reset() {
	v.mu.Lock()
	if len(v.entries) > 0 {
		v.notifyLocked()
	}
	v.entries = nil
	v.byID = make(map[string]int)
	v.mu.Unlock()
}

// ApplyBatch runs fn with per-change notifications suppressed and fires a
// single notification afterwards if anything changed.
func (v *View) ApplyBatch(fn func()) {
	v.mu.Lock()
	v.muted = true
	v.dirty = false
	v.mu.Unlock()

	fn()

	v.mu.Lock()
	v.muted = false
	fire := v.dirty && v.listener != nil
	l := v.listener
	v.dirty = false
	v.mu.Unlock()
	if fire {
		l()
	}
}

// Entries returns a snapshot of the current entries, newest first.
func (v *View) Entries() []*clipping.Entry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*clipping.Entry, len(v.entries))
	copy(out, v.entries)
	return out
}

// Len returns the number of entries in the view.
func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}

func (v *View) reindexLocked() {
	v.byID = make(map[string]int, len(v.entries))
	for i, e := range v.entries {
		v.byID[e.ID] = i
	}
}

func (v *View) notifyLocked() {
	if v.muted {
		v.dirty = true
		return
	}
	if v.listener != nil {
		l := v.listener
		go l()
	}
}
