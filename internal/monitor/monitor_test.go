package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/clipdeck/clipd/internal/capture"
	"github.com/clipdeck/clipd/internal/clipping"
	"github.com/clipdeck/clipd/internal/cursor"
	"github.com/clipdeck/clipd/internal/pasteboard"
	"github.com/clipdeck/clipd/internal/replicator"
	"github.com/clipdeck/clipd/internal/signal"
	"github.com/clipdeck/clipd/internal/store"
	"github.com/clipdeck/clipd/internal/uti"
)

type recordingPoster struct {
	mu    sync.Mutex
	kinds []signal.Kind
}

func (p *recordingPoster) Post(k signal.Kind) {
	p.mu.Lock()
	p.kinds = append(p.kinds, k)
	p.mu.Unlock()
}

func (p *recordingPoster) has(k signal.Kind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, got := range p.kinds {
		if got == k {
			return true
		}
	}
	return false
}

func newTestMonitor(t *testing.T, source pasteboard.Source, fake *pasteboard.Fake, opts Options) (*Monitor, *store.Store, *recordingPoster) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "clipd.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	poster := &recordingPoster{}
	svc := capture.New(source, s, poster, "origin-a", 0)
	repl := replicator.New(s, cursor.NewFile(dir, "origin-a"), replicator.NewView())
	return New(source, fake, svc, repl, poster, opts), s, poster
}

func textPayload(s string) []clipping.Payload {
	return []clipping.Payload{{TypeTag: uti.UTF8PlainText, Data: []byte(s)}}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestIgnoreNextChangeSwallowsExactlyOne(t *testing.T) {
	fake := pasteboard.NewFake()
	m, s, _ := newTestMonitor(t, fake, fake, Options{})
	ctx := context.Background()

	m.HandleSignal(signal.IgnoreNextChange)

	fake.SetPayloads(textPayload("first"))
	m.Observe(ctx)
	if _, err := s.Latest(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Latest after ignored change: got err %v, want ErrNotFound", err)
	}

	// The flag is one-shot: the very next change is processed normally.
	fake.SetPayloads(textPayload("second"))
	m.Observe(ctx)
	e, err := s.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := e.Preferred.StringValue(); got != "second" {
		t.Errorf("captured %q, want %q", got, "second")
	}
}

func TestCopyOutTagsWriteAndBroadcastsIgnore(t *testing.T) {
	fake := pasteboard.NewFake()
	m, s, poster := newTestMonitor(t, fake, fake, Options{})
	ctx := context.Background()

	fake.SetPayloads(textPayload("hello"))
	m.Observe(ctx)
	e, err := s.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.CopyOut(e); err != nil {
		t.Fatal(err)
	}

	payloads, _ := fake.Payloads()
	marked := false
	for _, p := range payloads {
		if p.TypeTag == uti.Clipping {
			marked = true
		}
	}
	if !marked {
		t.Error("copy-out payloads missing the self-copy marker tag")
	}
	if !poster.has(signal.IgnoreNextChange) {
		t.Error("copy-out did not broadcast ignore-next-change to peers")
	}

	// The local flag swallows the resulting pasteboard change.
	m.Observe(ctx)
	latest, err := s.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != e.ID {
		t.Errorf("self-copy was re-captured as %s", latest.ID)
	}
}

func TestRunCapturesWatchedChangeAndSignals(t *testing.T) {
	fake := pasteboard.NewFake()
	m, s, poster := newTestMonitor(t, fake, fake, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	fake.SetPayloads(textPayload("watched"))

	eventually(t, func() bool {
		e, err := s.Latest(ctx)
		return err == nil && e.Preferred.StringValue() == "watched"
	}, "watched change never captured")
	eventually(t, func() bool {
		return poster.has(signal.StoreChanged)
	}, "capture did not post store-changed")
}

func TestStoreChangedSignalReplaysIntoView(t *testing.T) {
	fake := pasteboard.NewFake()
	m, s, _ := newTestMonitor(t, fake, fake, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	fake.SetPayloads(textPayload("shared"))
	eventually(t, func() bool {
		_, err := s.Latest(ctx)
		return err == nil
	}, "change never captured")

	m.HandleSignal(signal.StoreChanged)
	eventually(t, func() bool {
		return m.repl.View().Len() == 1
	}, "store-changed signal did not replay into the view")
}

// quietSource hides the fake's watch channel so only the change-count poll
// can notice changes.
type quietSource struct {
	*pasteboard.Fake
}

func (q quietSource) Watch() <-chan struct{} { return make(chan struct{}) }

func TestPollingFallbackDetectsChange(t *testing.T) {
	fake := pasteboard.NewFake()
	src := quietSource{fake}
	m, s, _ := newTestMonitor(t, src, fake, Options{PollInterval: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	fake.SetPayloads(textPayload("polled"))

	eventually(t, func() bool {
		e, err := s.Latest(ctx)
		return err == nil && e.Preferred.StringValue() == "polled"
	}, "polling fallback never observed the change")
}
