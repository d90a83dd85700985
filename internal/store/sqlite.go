package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/clipdeck/clipd/internal/clipping"
)

// timeLayout is fixed-width so stored timestamps order lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the SQLite-backed shared store. Safe for concurrent use within a
// process; cross-process safety comes from WAL mode and the busy timeout.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *rand.Rand
}

// Open opens or creates the store at dbPath. An error here is fatal to the
// session: no capture or replay can proceed without a usable store.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &Store{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewID mints a lexicographically sortable identifier resolvable by any
// process attached to the store.
func (s *Store) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		id                  TEXT PRIMARY KEY,
		created_at          TEXT NOT NULL,
		marked_for_deletion INTEGER NOT NULL DEFAULT 0,
		preferred_rep       TEXT,
		latitude            REAL,
		longitude           REAL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_created ON entries(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_entries_tombstone ON entries(marked_for_deletion);

	CREATE TABLE IF NOT EXISTS representations (
		id           TEXT PRIMARY KEY,
		entry_id     TEXT NOT NULL REFERENCES entries(id) ON DELETE CASCADE,
		seq          INTEGER NOT NULL,
		kind         TEXT NOT NULL,
		type_tag     TEXT NOT NULL,
		string_value TEXT,
		url_value    TEXT,
		blob_value   BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_reps_entry ON representations(entry_id);

	CREATE TABLE IF NOT EXISTS change_log (
		token      INTEGER PRIMARY KEY AUTOINCREMENT,
		entry_id   TEXT NOT NULL,
		op         TEXT NOT NULL,
		origin     TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Insert persists an entry and its representations transactionally, writing
// the insert change record in the same transaction tagged with origin.
func (s *Store) Insert(ctx context.Context, e *clipping.Entry, origin string) error {
	if len(e.Representations) == 0 {
		return clipping.ErrNoItem
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var lat, lon any
	if e.Location != nil {
		lat, lon = e.Location.Latitude, e.Location.Longitude
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO entries (id, created_at, marked_for_deletion, latitude, longitude)
		 VALUES (?, ?, 0, ?, ?)`,
		e.ID, e.CreatedAt.UTC().Format(timeLayout), lat, lon)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}

	var preferredID string
	for i, r := range e.Representations {
		if r.ID == "" {
			r.ID = s.NewID()
		}
		var str, rawURL any
		var blob []byte
		switch r.Kind {
		case clipping.KindPlainText:
			str = r.StringValue()
		case clipping.KindRichText:
			blob = r.RichValue()
		case clipping.KindURL:
			rawURL = r.URLValue().String()
		case clipping.KindImage:
			blob = r.ImageValue()
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO representations (id, entry_id, seq, kind, type_tag, string_value, url_value, blob_value)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, e.ID, i, string(r.Kind), r.TypeTag, str, rawURL, blob)
		if err != nil {
			return fmt.Errorf("insert representation: %w", err)
		}
		if r == e.Preferred {
			preferredID = r.ID
		}
	}

	if preferredID != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE entries SET preferred_rep = ? WHERE id = ?`, preferredID, e.ID); err != nil {
			return fmt.Errorf("set preferred: %w", err)
		}
	}

	if err := logChange(ctx, tx, e.ID, OpInsert, origin); err != nil {
		return err
	}
	return tx.Commit()
}

// Latest returns the most recent non-tombstoned entry, or ErrNotFound.
func (s *Store) Latest(ctx context.Context) (*clipping.Entry, error) {
	entries, err := s.list(ctx, `WHERE marked_for_deletion = 0`, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return entries[0], nil
}

// Get returns the entry with the given id regardless of tombstone state.
func (s *Store) Get(ctx context.Context, id string) (*clipping.Entry, error) {
	entries, err := s.list(ctx, `WHERE id = ?`, 1, id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return entries[0], nil
}

// List returns up to limit non-tombstoned entries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*clipping.Entry, error) {
	if limit <= 0 {
		limit = 25
	}
	return s.list(ctx, `WHERE marked_for_deletion = 0`, limit)
}

// ListAll is List including tombstoned entries, so their ids stay visible
// until pruning removes them.
func (s *Store) ListAll(ctx context.Context, limit int) ([]*clipping.Entry, error) {
	if limit <= 0 {
		limit = 25
	}
	return s.list(ctx, ``, limit)
}

func (s *Store) list(ctx context.Context, where string, limit int, args ...any) ([]*clipping.Entry, error) {
	query := fmt.Sprintf(
		`SELECT id, created_at, marked_for_deletion, preferred_rep, latitude, longitude
		 FROM entries %s ORDER BY created_at DESC, id DESC LIMIT %d`, where, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*clipping.Entry
	var preferredIDs []string
	for rows.Next() {
		e, preferredID, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
		preferredIDs = append(preferredIDs, preferredID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, e := range entries {
		if err := s.loadRepresentations(ctx, e, preferredIDs[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (s *Store) loadRepresentations(ctx context.Context, e *clipping.Entry, preferredID string) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, type_tag, string_value, url_value, blob_value
		 FROM representations WHERE entry_id = ? ORDER BY seq ASC`, e.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id, kind, typeTag string
		var str, rawURL sql.NullString
		var blob []byte
		if err := rows.Scan(&id, &kind, &typeTag, &str, &rawURL, &blob); err != nil {
			return err
		}
		r := clipping.Restore(id, typeTag, clipping.Kind(kind), str.String, rawURL.String, blob)
		if r == nil {
			continue
		}
		e.Representations = append(e.Representations, r)
		if id == preferredID {
			e.Preferred = r
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if e.Preferred == nil {
		e.Preferred = clipping.PreferredOf(e.Representations)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*clipping.Entry, string, error) {
	var e clipping.Entry
	var createdAt string
	var tombstone int
	var preferredID sql.NullString
	var lat, lon sql.NullFloat64

	if err := row.Scan(&e.ID, &createdAt, &tombstone, &preferredID, &lat, &lon); err != nil {
		return nil, "", err
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, "", fmt.Errorf("parse created_at: %w", err)
	}
	e.CreatedAt = t
	e.MarkedForDeletion = tombstone != 0
	if lat.Valid && lon.Valid {
		e.Location = &clipping.Location{Latitude: lat.Float64, Longitude: lon.Float64}
	}
	return &e, preferredID.String, nil
}

// MarkForDeletion sets the tombstone flag and records an update change.
// Physical removal is deferred to Purge.
func (s *Store) MarkForDeletion(ctx context.Context, id, origin string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE entries SET marked_for_deletion = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := logChange(ctx, tx, id, OpUpdate, origin); err != nil {
		return err
	}
	return tx.Commit()
}

func logChange(ctx context.Context, tx *sql.Tx, entryID string, op Op, origin string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO change_log (entry_id, op, origin, created_at) VALUES (?, ?, ?, ?)`,
		entryID, op, origin, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("log change: %w", err)
	}
	return nil
}

// ChangesAfter returns all change records strictly after token, in log
// order. A non-zero token older than the compaction floor yields
// ErrTokenExpired; token zero always reads whatever the log still retains.
func (s *Store) ChangesAfter(ctx context.Context, token int64) ([]Change, error) {
	floor, err := s.compactedThrough(ctx)
	if err != nil {
		return nil, err
	}
	if token > 0 && token < floor {
		return nil, ErrTokenExpired
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT token, entry_id, op, origin, created_at
		 FROM change_log WHERE token > ? ORDER BY token ASC`, token)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var c Change
		var at string
		if err := rows.Scan(&c.Token, &c.EntryID, &c.Op, &c.Origin, &at); err != nil {
			return nil, err
		}
		c.At, _ = time.Parse(timeLayout, at)
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// LatestToken returns the highest token the log has ever issued: the newest
// retained record, or the compaction floor when the log is empty.
func (s *Store) LatestToken(ctx context.Context) (int64, error) {
	var tok sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(token) FROM change_log`).Scan(&tok); err != nil {
		return 0, err
	}
	if tok.Valid {
		return tok.Int64, nil
	}
	return s.compactedThrough(ctx)
}

// CompactBefore deletes change records with token < before and raises the
// compaction floor so stale cursors can detect expiry.
func (s *Store) CompactBefore(ctx context.Context, before int64) error {
	if before <= 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := compactBefore(ctx, tx, before); err != nil {
		return err
	}
	return tx.Commit()
}

func compactBefore(ctx context.Context, tx *sql.Tx, before int64) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM change_log WHERE token < ?`, before); err != nil {
		return fmt.Errorf("compact log: %w", err)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('compacted_through', ?)
		 ON CONFLICT(key) DO UPDATE SET value = MAX(CAST(value AS INTEGER), excluded.value)`,
		before-1)
	if err != nil {
		return fmt.Errorf("record compaction floor: %w", err)
	}
	return nil
}

func (s *Store) compactedThrough(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx,
		`SELECT CAST(value AS INTEGER) FROM meta WHERE key = 'compacted_through'`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return v, err
}

// Purge enforces the retention limit: every entry outside the most-recent-N
// non-tombstoned set is physically deleted (representations cascade),
// including tombstoned entries. Deletions are recorded in the change log so
// peer views converge, then the log is compacted before cursor — the one
// durable token this process knows is conservative to keep.
func (s *Store) Purge(ctx context.Context, limit int, cursor int64, origin string) error {
	if limit <= 0 {
		limit = 25
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM entries WHERE id NOT IN (
			SELECT id FROM entries WHERE marked_for_deletion = 0
			ORDER BY created_at DESC, id DESC LIMIT ?
		 )`, limit)
	if err != nil {
		return err
	}
	var victims []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		victims = append(victims, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(victims) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(victims)), ", ")
		args := make([]any, len(victims))
		for i, id := range victims {
			args[i] = id
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM entries WHERE id IN (`+placeholders+`)`, args...); err != nil {
			return fmt.Errorf("purge entries: %w", err)
		}
		for _, id := range victims {
			if err := logChange(ctx, tx, id, OpDelete, origin); err != nil {
				return err
			}
		}
	}

	if cursor > 0 {
		if err := compactBefore(ctx, tx, cursor); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
