package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/clipdeck/clipd/internal/clipping"
	"github.com/clipdeck/clipd/internal/uti"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "clipd.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func textEntry(t *testing.T, s *Store, text string, at time.Time) *clipping.Entry {
	t.Helper()
	r := clipping.NewRepresentation(uti.UTF8PlainText, []byte(text))
	e, err := clipping.NewEntry(s.NewID(), at, []*clipping.Representation{r}, nil)
	if err != nil {
		t.Fatalf("new entry: %v", err)
	}
	return e
}

func TestInsertAndLatest(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	first := textEntry(t, s, "first", base)
	second := textEntry(t, s, "second", base.Add(time.Second))
	if err := s.Insert(ctx, first, "proc-a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(ctx, second, "proc-a"); err != nil {
		t.Fatal(err)
	}

	latest, err := s.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != second.ID {
		t.Errorf("latest = %s, want %s", latest.ID, second.ID)
	}
	if latest.Preferred == nil || latest.Preferred.StringValue() != "second" {
		t.Errorf("preferred representation not restored: %+v", latest.Preferred)
	}
}

func TestLatestSkipsTombstoned(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	old := textEntry(t, s, "old", base)
	newer := textEntry(t, s, "newer", base.Add(time.Second))
	for _, e := range []*clipping.Entry{old, newer} {
		if err := s.Insert(ctx, e, "proc-a"); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.MarkForDeletion(ctx, newer.ID, "proc-a"); err != nil {
		t.Fatal(err)
	}

	latest, err := s.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != old.ID {
		t.Errorf("latest = %s, want non-tombstoned %s", latest.ID, old.ID)
	}
}

func TestListAllIncludesTombstoned(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	kept := textEntry(t, s, "kept", base)
	doomed := textEntry(t, s, "doomed", base.Add(time.Second))
	for _, e := range []*clipping.Entry{kept, doomed} {
		if err := s.Insert(ctx, e, "proc-a"); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.MarkForDeletion(ctx, doomed.ID, "proc-a"); err != nil {
		t.Fatal(err)
	}

	visible, err := s.List(ctx, 25)
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 1 || visible[0].ID != kept.ID {
		t.Errorf("List returned %d entries, want only the surviving one", len(visible))
	}

	all, err := s.ListAll(ctx, 25)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("ListAll returned %d entries, want 2", len(all))
	}
	if all[0].ID != doomed.ID || !all[0].MarkedForDeletion {
		t.Errorf("tombstoned entry missing or unflagged: %+v", all[0])
	}
}

func TestChangesAfter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		e := textEntry(t, s, fmt.Sprintf("entry %d", i), base.Add(time.Duration(i)*time.Second))
		if err := s.Insert(ctx, e, "proc-a"); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ChangesAfter(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d changes, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Token <= all[i-1].Token {
			t.Fatal("tokens must be strictly increasing in log order")
		}
	}

	tail, err := s.ChangesAfter(ctx, all[0].Token)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 2 || tail[0].Token != all[1].Token {
		t.Errorf("ChangesAfter(first) = %+v, want last two records", tail)
	}
}

func TestCompactionExpiresStaleCursor(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		e := textEntry(t, s, fmt.Sprintf("entry %d", i), base.Add(time.Duration(i)*time.Second))
		if err := s.Insert(ctx, e, "proc-a"); err != nil {
			t.Fatal(err)
		}
	}
	all, err := s.ChangesAfter(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.CompactBefore(ctx, all[2].Token); err != nil {
		t.Fatal(err)
	}

	// A cursor pointing before the compaction floor is expired.
	if _, err := s.ChangesAfter(ctx, all[0].Token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("got %v, want ErrTokenExpired", err)
	}
	// The floor itself and later cursors still resolve.
	if _, err := s.ChangesAfter(ctx, all[1].Token); err != nil {
		t.Errorf("cursor at floor: %v", err)
	}
	// Beginning-of-log never expires.
	remaining, err := s.ChangesAfter(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].Token != all[2].Token {
		t.Errorf("remaining after compaction = %+v", remaining)
	}
}

func TestPurge(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	var ids []string
	for i := 0; i < 40; i++ {
		e := textEntry(t, s, fmt.Sprintf("entry %d", i), base.Add(time.Duration(i)*time.Second))
		if err := s.Insert(ctx, e, "proc-a"); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, e.ID)
	}
	// Tombstone a recent entry: purge must remove it even though it is
	// within the most-recent window by age.
	if err := s.MarkForDeletion(ctx, ids[39], "proc-a"); err != nil {
		t.Fatal(err)
	}

	if err := s.Purge(ctx, 25, 0, "proc-a"); err != nil {
		t.Fatal(err)
	}

	kept, err := s.List(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(kept) != 25 {
		t.Fatalf("kept %d entries, want 25", len(kept))
	}
	// Survivors are the 25 most recent non-tombstoned: ids[14..38].
	for _, e := range kept {
		if e.ID == ids[39] {
			t.Error("tombstoned entry survived purge")
		}
	}
	if kept[0].ID != ids[38] || kept[24].ID != ids[14] {
		t.Errorf("unexpected survivor window: newest %s oldest %s", kept[0].ID, kept[24].ID)
	}

	if _, err := s.Get(ctx, ids[0]); !errors.Is(err, ErrNotFound) {
		t.Errorf("purged entry Get = %v, want ErrNotFound", err)
	}
}

func TestPurgeCompactsLog(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		e := textEntry(t, s, fmt.Sprintf("entry %d", i), base.Add(time.Duration(i)*time.Second))
		if err := s.Insert(ctx, e, "proc-a"); err != nil {
			t.Fatal(err)
		}
	}
	all, err := s.ChangesAfter(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	cursor := all[4].Token

	if err := s.Purge(ctx, 25, cursor, "proc-a"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.ChangesAfter(ctx, all[0].Token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("stale cursor after purge compaction: got %v, want ErrTokenExpired", err)
	}
	if _, err := s.ChangesAfter(ctx, cursor); err != nil {
		t.Errorf("own cursor must survive purge compaction: %v", err)
	}
}

func TestGetRestoresAllRepresentationKinds(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	reps := []*clipping.Representation{
		clipping.NewRepresentation(uti.HTML, []byte("<b>rich</b>")),
		clipping.NewRepresentation(uti.UTF8PlainText, []byte("rich")),
		clipping.NewRepresentation(uti.URL, []byte("https://example.com/x")),
	}
	e, err := clipping.NewEntry(s.NewID(), time.Now().UTC(), reps, &clipping.Location{Latitude: 48.2, Longitude: 16.4})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(ctx, e, "proc-a"); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Representations) != 3 {
		t.Fatalf("restored %d representations, want 3", len(got.Representations))
	}
	if got.Preferred == nil || got.Preferred.Kind != clipping.KindRichText {
		t.Errorf("preferred after restore = %+v, want rich text", got.Preferred)
	}
	if got.Representations[2].URLValue().Path != "/x" {
		t.Error("url payload not round-tripped")
	}
	if got.Location == nil || got.Location.Latitude != 48.2 {
		t.Errorf("location not round-tripped: %+v", got.Location)
	}
}
