// Package capture turns the current pasteboard contents into a persisted
// history entry: read payloads, extract representations, gate on duplicate
// checks, write transactionally, then ring the store-changed doorbell.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clipdeck/clipd/internal/clipping"
	"github.com/clipdeck/clipd/internal/pasteboard"
	"github.com/clipdeck/clipd/internal/signal"
	"github.com/clipdeck/clipd/internal/store"
	"github.com/clipdeck/clipd/internal/uti"
)

// Store is the slice of the shared store the capture service needs.
// *store.Store satisfies it.
type Store interface {
	NewID() string
	Latest(ctx context.Context) (*clipping.Entry, error)
	Insert(ctx context.Context, e *clipping.Entry, origin string) error
}

// Poster posts peer signals. *signal.Bus satisfies it.
type Poster interface {
	Post(k signal.Kind)
}

// Service captures pasteboard contents into the shared store.
type Service struct {
	source pasteboard.Source
	store  Store
	poster Poster // nil means no peers to signal

	// origin tags every transaction so replaying processes can tell whose
	// log records they are looking at.
	origin string

	// maxSize is the advisory per-payload size cap in bytes; 0 = uncapped.
	maxSize int
}

// New returns a capture service writing to st as origin.
func New(source pasteboard.Source, st Store, poster Poster, origin string, maxSize int) *Service {
	return &Service{
		source:  source,
		store:   st,
		poster:  poster,
		origin:  origin,
		maxSize: maxSize,
	}
}

// Capture reads the current pasteboard and persists it as a new entry.
// loc is attached best-effort; a nil location never fails a capture.
//
// Expected rejections come back as clipping.ErrNoItem,
// clipping.ErrDuplicateItem, or clipping.ErrUnsupportedItem. A capture runs
// to completion once started — pasteboard contents must be read promptly
// before the OS invalidates them, so there is no external cancellation.
func (s *Service) Capture(ctx context.Context, loc *clipping.Location) (*clipping.Entry, error) {
	// Probe before enumerating: some content classes crash the host process
	// when their items are listed.
	if s.source.HasUnsafeContent() {
		return nil, clipping.ErrUnsupportedItem
	}

	payloads, err := s.source.Payloads()
	if err != nil {
		return nil, fmt.Errorf("read pasteboard: %w", err)
	}
	if len(payloads) == 0 {
		return nil, clipping.ErrNoItem
	}

	// Fast path: our own copy-out is marker-tagged; skip before any
	// content inspection.
	for _, p := range payloads {
		if p.TypeTag == uti.Clipping {
			return nil, clipping.ErrDuplicateItem
		}
	}

	reps := clipping.Extract(ctx, payloads, s.maxSize)
	e, err := clipping.NewEntry(s.store.NewID(), time.Now().UTC(), reps, loc)
	if errors.Is(err, clipping.ErrUnsupportedItem) {
		return nil, err
	}
	if err != nil {
		return nil, clipping.ErrNoItem
	}

	prev, err := s.store.Latest(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load latest entry: %w", err)
	}
	if duplicates(e, prev) {
		return nil, clipping.ErrDuplicateItem
	}

	if e.Preferred == nil {
		return nil, clipping.ErrUnsupportedItem
	}

	if err := s.store.Insert(ctx, e, s.origin); err != nil {
		return nil, fmt.Errorf("persist entry: %w", err)
	}

	// Persist is durably visible before peers are woken, so a doorbell
	// never races ahead of the data it announces.
	if s.poster != nil {
		s.poster.Post(signal.StoreChanged)
	}

	slog.Debug("captured pasteboard item",
		"entry", e.ID,
		"representations", len(e.Representations),
		"preferred", e.Preferred.Kind,
	)
	return e, nil
}
