package clipping

import (
	"time"

	"github.com/clipdeck/clipd/internal/uti"
)

// Location is a best-effort device coordinate captured alongside an entry.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Entry is one captured clipboard snapshot. Created only by the capture
// service; mutated only to set MarkedForDeletion; physically deleted only by
// retention pruning.
type Entry struct {
	ID        string
	CreatedAt time.Time

	// Representations is non-empty and ordered by capture source priority.
	Representations []*Representation

	// Preferred points into Representations, chosen by fixed kind priority.
	Preferred *Representation

	// MarkedForDeletion is the tombstone flag; removal is deferred to
	// pruning so active readers and the change log stay consistent.
	MarkedForDeletion bool

	Location *Location
}

// NewEntry builds an entry from extracted representations. It fails with
// ErrNoItem when reps is empty and ErrUnsupportedItem when no preferred
// representation resolves, so an invalid entry is never constructible.
func NewEntry(id string, createdAt time.Time, reps []*Representation, loc *Location) (*Entry, error) {
	if len(reps) == 0 {
		return nil, ErrNoItem
	}
	preferred := PreferredOf(reps)
	if preferred == nil {
		return nil, ErrUnsupportedItem
	}
	return &Entry{
		ID:              id,
		CreatedAt:       createdAt,
		Representations: reps,
		Preferred:       preferred,
		Location:        loc,
	}, nil
}

// PreferredOf scans the fixed priority list RichText > PlainText > URL >
// Image and returns the first representation whose kind matches, or nil.
func PreferredOf(reps []*Representation) *Representation {
	for _, kind := range preferredOrder {
		for _, r := range reps {
			if r.Kind == kind {
				return r
			}
		}
	}
	return nil
}

// CopyPayloads returns e's representations as pasteboard payloads, trailed
// by the self-copy marker tag so capturing processes recognize the write as
// their own history coming back.
func (e *Entry) CopyPayloads() []Payload {
	payloads := make([]Payload, 0, len(e.Representations)+1)
	for _, r := range e.Representations {
		payloads = append(payloads, Payload{TypeTag: r.TypeTag, Data: r.PayloadBytes()})
	}
	return append(payloads, Payload{TypeTag: uti.Clipping, Data: []byte{1}})
}

// ValuesByKind maps each representation kind to its canonical comparison
// value. Later representations of the same kind win, matching the capture
// source's last-declared semantics.
func (e *Entry) ValuesByKind() map[Kind]string {
	m := make(map[Kind]string, len(e.Representations))
	for _, r := range e.Representations {
		m[r.Kind] = r.CanonicalValue()
	}
	return m
}
