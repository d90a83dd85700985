// Package monitor is the resident watcher: it reacts to pasteboard changes
// (signal-driven primary, polling fallback), feeds the capture pipeline,
// services peer signals, and keeps the replicator's view current.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/clipdeck/clipd/internal/capture"
	"github.com/clipdeck/clipd/internal/clipping"
	"github.com/clipdeck/clipd/internal/pasteboard"
	"github.com/clipdeck/clipd/internal/replicator"
	"github.com/clipdeck/clipd/internal/signal"
)

// DefaultPollInterval is the degraded-mode polling cadence used when no
// explicit interval is configured.
const DefaultPollInterval = time.Second

// Poster posts peer signals. *signal.Bus satisfies it.
type Poster interface {
	Post(k signal.Kind)
}

// Options configures a Monitor beyond its required collaborators.
type Options struct {
	// PollInterval is the fallback polling cadence; zero = DefaultPollInterval.
	PollInterval time.Duration

	// StoreDir, when set, is watched for file activity as a catch-up for
	// missed store-changed doorbells.
	StoreDir string

	// Locate returns best-effort device coordinates for a capture. May be
	// nil; failures never block capture.
	Locate func(ctx context.Context) *clipping.Location

	// KeepAlive is the host environment's opaque keep-process-alive
	// capability. Requested for the lifetime of Run when non-nil.
	KeepAlive func(ctx context.Context)
}

// Monitor drives one process's capture and replication loops.
type Monitor struct {
	source  pasteboard.Source
	writer  pasteboard.Writer
	capture *capture.Service
	repl    *replicator.Replicator
	poster  Poster
	opts    Options

	ignore signal.Flag

	// mu serializes observations: the run loop and the bus's read goroutine
	// can both reach Observe.
	mu        sync.Mutex
	lastCount int
}

// New wires a monitor. Register HandleSignal as the bus handler before
// running so peer signals reach it.
func New(source pasteboard.Source, writer pasteboard.Writer, svc *capture.Service, repl *replicator.Replicator, poster Poster, opts Options) *Monitor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Monitor{
		source:  source,
		writer:  writer,
		capture: svc,
		repl:    repl,
		poster:  poster,
		opts:    opts,
	}
}

// HandleSignal services one peer signal. Safe to call from the bus's read
// goroutine; replay work is deferred to the replicator's own loop.
func (m *Monitor) HandleSignal(k signal.Kind) {
	switch k {
	case signal.StoreChanged:
		m.repl.Trigger()
	case signal.PasteboardChanged:
		m.Observe(context.Background())
	case signal.IgnoreNextChange:
		m.ignore.Set()
	}
}

// Refresh requests a replay, the foreground-refresh analog.
func (m *Monitor) Refresh() {
	m.repl.Trigger()
}

// Run watches for pasteboard and store changes until ctx is cancelled. The
// pasteboard's native change channel is the primary trigger; the change-count
// poll is the documented degraded mode covering platforms and windows where
// the native signal is lost.
func (m *Monitor) Run(ctx context.Context) {
	if m.opts.KeepAlive != nil {
		go m.opts.KeepAlive(ctx)
	}
	if m.opts.StoreDir != "" {
		go m.watchStoreDir(ctx, m.opts.StoreDir)
	}
	go m.repl.Run(ctx)

	m.mu.Lock()
	m.lastCount = m.source.ChangeCount()
	m.mu.Unlock()

	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.source.Watch():
			m.Observe(ctx)
		case <-ticker.C:
			if m.source.ChangeCount() != m.lastSeen() {
				m.Observe(ctx)
			}
		}
	}
}

func (m *Monitor) lastSeen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCount
}

// Observe handles one raw pasteboard-change observation: either swallows it
// against the one-shot ignore flag or runs a capture. Double observations of
// the same change (watch plus poll) are harmless: the duplicate gate rejects
// the second.
func (m *Monitor) Observe(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCount = m.source.ChangeCount()

	if m.ignore.Consume() {
		slog.Debug("ignored self-originated pasteboard change")
		return
	}

	var loc *clipping.Location
	if m.opts.Locate != nil {
		loc = m.opts.Locate(ctx)
	}

	e, err := m.capture.Capture(ctx, loc)
	switch {
	case err == nil:
		slog.Info("captured clipboard entry", "entry", e.ID, "kind", e.Preferred.Kind)
	case errors.Is(err, clipping.ErrDuplicateItem),
		errors.Is(err, clipping.ErrNoItem),
		errors.Is(err, clipping.ErrUnsupportedItem):
		slog.Debug("capture skipped", "reason", err)
	default:
		slog.Error("capture failed", "err", err)
	}
}

// CopyOut writes an entry back to the system pasteboard. The payload carries
// the self-copy marker tag and the ignore flag is armed locally and
// broadcast, so neither this process nor its peers re-capture the write.
func (m *Monitor) CopyOut(e *clipping.Entry) error {
	m.ignore.Set()
	if m.poster != nil {
		m.poster.Post(signal.IgnoreNextChange)
	}
	return m.writer.Write(e.CopyPayloads())
}

// watchStoreDir tails filesystem activity in the store directory and turns
// it into replay triggers. This is the catch-up path for store-changed
// doorbells lost on the signal channel.
func (m *Monitor) watchStoreDir(ctx context.Context, dir string) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("store watcher unavailable, relying on signals only", "err", err)
		return
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		slog.Warn("store watcher unavailable, relying on signals only", "dir", dir, "err", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-w.Events:
			if !ok {
				return
			}
			m.repl.Trigger()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			slog.Debug("store watcher error", "err", err)
		}
	}
}
