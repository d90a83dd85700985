package clipping

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Payload is one raw (typeTag, bytes) pair read from a capture source, in
// system-assigned priority order.
type Payload struct {
	TypeTag string
	Data    []byte
}

// Extract classifies each payload into a representation, preserving the
// source's declared tag priority order in the result. Per-payload extraction
// runs concurrently — decode cost varies wildly by type — and the indexed
// join re-establishes source order regardless of completion order.
//
// Unrecognized tags, malformed URLs, and payloads over maxSize (when
// maxSize > 0) produce no representation. An empty result means the item is
// unsupported; that is the caller's recoverable condition, not an error here.
func Extract(ctx context.Context, payloads []Payload, maxSize int) []*Representation {
	results := make([]*Representation, len(payloads))

	g, _ := errgroup.WithContext(ctx)
	for i, p := range payloads {
		if maxSize > 0 && len(p.Data) > maxSize {
			continue
		}
		g.Go(func() error {
			results[i] = NewRepresentation(p.TypeTag, p.Data)
			return nil
		})
	}
	// Extraction never errors; the group exists for the join and ctx plumbing.
	_ = g.Wait()

	reps := make([]*Representation, 0, len(results))
	for _, r := range results {
		if r != nil {
			reps = append(reps, r)
		}
	}
	return reps
}
