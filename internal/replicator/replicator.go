// Package replicator replays the shared store's change log into a process's
// in-memory view. Each process owns a durable cursor into the log; on every
// trigger the replicator fetches records past the cursor, merges them in log
// order, and advances the cursor only once the whole batch is in.
package replicator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/clipdeck/clipd/internal/clipping"
	"github.com/clipdeck/clipd/internal/cursor"
	"github.com/clipdeck/clipd/internal/store"
)

// ChangeSource is the slice of the store the replicator needs. *store.Store
// satisfies it. List and LatestToken back the reseed path: once the log has
// been compacted past a cursor it no longer carries inserts for every
// surviving entry, so recovery has to read the store itself.
type ChangeSource interface {
	ChangesAfter(ctx context.Context, token int64) ([]store.Change, error)
	Get(ctx context.Context, id string) (*clipping.Entry, error)
	List(ctx context.Context, limit int) ([]*clipping.Entry, error)
	LatestToken(ctx context.Context) (int64, error)
}

// Replicator drives the Idle → Replaying → Idle loop for one process. At
// most one replay runs at a time; triggers arriving mid-replay coalesce into
// a single pending slot. Duplicate or spurious triggers are harmless — a
// replay over an empty change set changes nothing.
type Replicator struct {
	source ChangeSource
	cursor *cursor.File
	view   *View

	// SeedLimit bounds how many entries a store reseed loads into the view.
	// Zero means the source's default listing limit. Set before Run.
	SeedLimit int

	mu      sync.Mutex // serializes replays
	trigger chan struct{}
}

// New returns a replicator over src, persisting its position in cur and
// merging into view.
func New(src ChangeSource, cur *cursor.File, view *View) *Replicator {
	return &Replicator{
		source:  src,
		cursor:  cur,
		view:    view,
		trigger: make(chan struct{}, 1),
	}
}

// View returns the view this replicator merges into.
func (r *Replicator) View() *View { return r.view }

// Trigger requests a replay. Non-blocking; a trigger arriving while one is
// already pending is dropped.
func (r *Replicator) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run services triggers until ctx is cancelled. Replay errors are logged and
// retried on the next trigger; they never stop the loop.
func (r *Replicator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.trigger:
			if err := r.Replay(ctx); err != nil {
				slog.Error("replay failed", "err", err)
			}
		}
	}
}

// Bootstrap seeds the view with the store's current surviving entries and
// pins the cursor at token, so subsequent replays are incremental. Used at
// process start, where replaying a possibly-compacted log from the beginning
// would under-report history.
func (r *Replicator) Bootstrap(entries []*clipping.Entry, token int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.view.ApplyBatch(func() {
		r.view.Reset()
		for _, e := range entries {
			r.view.Upsert(e)
		}
	})
	return r.cursor.Store(token)
}

// Replay performs one full replay synchronously. Token expiry is handled
// internally by reseeding the view from the store; it is never returned to
// the caller.
func (r *Replicator) Replay(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replay(ctx)
}

func (r *Replicator) replay(ctx context.Context) error {
	tok, err := r.cursor.Load()
	if err != nil {
		return err
	}

	changes, err := r.source.ChangesAfter(ctx, tok)
	if errors.Is(err, store.ErrTokenExpired) {
		// Some peer compacted past our position. The retained log no longer
		// carries inserts for every surviving entry, so replaying it from
		// the beginning would under-report; read the store itself, exactly
		// as a freshly started process seeds.
		slog.Debug("change log cursor expired, reseeding from store", "token", tok)
		return r.reseed(ctx)
	}
	if err != nil {
		return fmt.Errorf("fetch changes after %d: %w", tok, err)
	}
	if len(changes) == 0 {
		return nil
	}

	var mergeErr error
	r.view.ApplyBatch(func() {
		for _, c := range changes {
			if err := r.merge(ctx, c); err != nil {
				mergeErr = err
				return
			}
		}
	})
	if mergeErr != nil {
		// Cursor stays put; the partial merge is harmless because the next
		// replay re-applies the same records idempotently.
		return mergeErr
	}

	last := changes[len(changes)-1].Token
	if err := r.cursor.Store(last); err != nil {
		return fmt.Errorf("advance cursor to %d: %w", last, err)
	}
	slog.Debug("replayed changes", "count", len(changes), "cursor", last)
	return nil
}

// reseed rebuilds the view from the store's surviving entries and pins the
// cursor at the log position read before listing. Reading the token first
// keeps the pair conservative: an entry inserted between the two reads shows
// up in the listing and again on the next incremental replay, and upserts
// are idempotent.
func (r *Replicator) reseed(ctx context.Context) error {
	tok, err := r.source.LatestToken(ctx)
	if err != nil {
		return fmt.Errorf("read change log position: %w", err)
	}
	entries, err := r.source.List(ctx, r.SeedLimit)
	if err != nil {
		return fmt.Errorf("reseed from store: %w", err)
	}

	r.view.ApplyBatch(func() {
		r.view.Reset()
		for _, e := range entries {
			r.view.Upsert(e)
		}
	})
	if err := r.cursor.Store(tok); err != nil {
		return fmt.Errorf("pin cursor at %d: %w", tok, err)
	}
	slog.Debug("reseeded view from store", "entries", len(entries), "cursor", tok)
	return nil
}

// merge applies one log record to the view. Records must arrive in log
// order: later records supersede earlier ones for the same entry.
func (r *Replicator) merge(ctx context.Context, c store.Change) error {
	switch c.Op {
	case store.OpDelete:
		r.view.Remove(c.EntryID)
		return nil
	case store.OpInsert, store.OpUpdate:
		e, err := r.source.Get(ctx, c.EntryID)
		if errors.Is(err, store.ErrNotFound) {
			// Entry was purged after this record was written; a delete
			// record further down the log accounts for it.
			return nil
		}
		if err != nil {
			return fmt.Errorf("load entry %s: %w", c.EntryID, err)
		}
		r.view.Upsert(e)
		return nil
	default:
		return fmt.Errorf("unknown change op %q", c.Op)
	}
}
