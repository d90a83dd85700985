// Package store implements the shared on-disk store all cooperating
// processes attach to: the entry/representation tables plus the append-only
// change log they coordinate through. Mutations and their log records are
// written in one transaction, tagged with the origin that made them.
package store

import (
	"errors"
	"time"
)

// Op is the kind of mutation a change-log record describes.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is one change-log record. Token values are issued monotonically by
// the store and totally ordered within a store generation.
type Change struct {
	Token   int64
	EntryID string
	Op      Op
	Origin  string
	At      time.Time
}

var (
	// ErrTokenExpired means a cursor references a point the log no longer
	// retains because a peer compacted past it. Recoverable: reset the
	// cursor to the beginning and replay from scratch.
	ErrTokenExpired = errors.New("change log token expired")

	// ErrNotFound means no entry matched.
	ErrNotFound = errors.New("entry not found")
)
