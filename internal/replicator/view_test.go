package replicator

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/clipdeck/clipd/internal/clipping"
	"github.com/clipdeck/clipd/internal/uti"
)

func textEntry(t *testing.T, id, text string, at time.Time) *clipping.Entry {
	t.Helper()
	r := clipping.NewRepresentation(uti.UTF8PlainText, []byte(text))
	e, err := clipping.NewEntry(id, at, []*clipping.Representation{r}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestResetNotifiesListener(t *testing.T) {
	v := NewView()
	v.Upsert(textEntry(t, "a", "one", time.Now().UTC()))

	notified := make(chan struct{}, 1)
	v.SetListener(func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	})

	v.Reset()
	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("reset of a non-empty view did not notify the listener")
	}
	if v.Len() != 0 {
		t.Errorf("view has %d entries after reset, want 0", v.Len())
	}
}

func TestResetInsideBatchCoalescesNotifications(t *testing.T) {
	base := time.Now().UTC()
	v := NewView()
	v.Upsert(textEntry(t, "a", "one", base))

	var fired atomic.Int32
	v.SetListener(func() { fired.Add(1) })

	v.ApplyBatch(func() {
		v.Reset()
		v.Upsert(textEntry(t, "b", "two", base.Add(time.Second)))
		v.Upsert(textEntry(t, "c", "three", base.Add(2*time.Second)))
	})

	if got := fired.Load(); got != 1 {
		t.Errorf("batch with reset fired %d notifications, want 1", got)
	}
	if v.Len() != 2 {
		t.Errorf("view has %d entries, want 2", v.Len())
	}
}
