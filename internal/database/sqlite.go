package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wsundo/internal/database/migrations"
	"wsundo/internal/model"
	"wsundo/internal/undo"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase stores workspace metadata, markers, history index, the
// undo stack and the operation log in SQLite.
type SQLiteDatabase struct {
	db    *sql.DB
	path  string
	clock undo.Clock
}

// NewSQLiteDatabase opens the database at path and applies pending migrations.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return &SQLiteDatabase{db: db, path: path, clock: undo.RealClock{}}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing, already migrated connection.
// A nil clock uses the real time.
func NewSQLiteDatabaseFromDB(db *sql.DB, clock undo.Clock) *SQLiteDatabase {
	if clock == nil {
		clock = undo.RealClock{}
	}
	return &SQLiteDatabase{db: db, clock: clock}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// This is exported for use in tests that need a properly configured SQLite connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection: every connection to :memory: is a separate
	// database, and SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// below returns the half-open range of paths strictly below p. Paths
// below p share the prefix p+"/", and '0' is the byte after '/'.
func below(p string) (lo, hi string) {
	if p == "/" {
		return "/", "0"
	}
	return p + "/", p + "0"
}

// Resource operations

const resourceColumns = `path, parent, kind, stamp, charset, link_target, is_virtual, hidden, archive, is_open, local_timestamp, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (*model.Resource, error) {
	var r model.Resource
	var localTS, created int64
	err := row.Scan(&r.Path, &r.Parent, &r.Kind, &r.Stamp, &r.Charset, &r.LinkTarget,
		&r.Virtual, &r.Hidden, &r.Archive, &r.Open, &localTS, &created)
	if err != nil {
		return nil, err
	}
	r.LocalTimestamp = fromNanos(localTS)
	r.CreatedAt = fromNanos(created)
	return &r, nil
}

func (s *SQLiteDatabase) queryResources(query string, args ...any) ([]*model.Resource, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*model.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// FindResource returns the resource at path, or nil if there is none.
func (s *SQLiteDatabase) FindResource(path string) (*model.Resource, error) {
	row := s.db.QueryRow(`SELECT `+resourceColumns+` FROM resources WHERE path = ?`, path)
	r, err := scanResource(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding resource: %w", err)
	}
	return r, nil
}

// FindChildren returns the direct members of parent ordered by path.
func (s *SQLiteDatabase) FindChildren(parent string) ([]*model.Resource, error) {
	result, err := s.queryResources(`SELECT `+resourceColumns+` FROM resources WHERE parent = ? ORDER BY path`, parent)
	if err != nil {
		return nil, fmt.Errorf("finding children: %w", err)
	}
	return result, nil
}

// FindSubtree returns path and everything below it, parents before children.
func (s *SQLiteDatabase) FindSubtree(path string) ([]*model.Resource, error) {
	lo, hi := below(path)
	result, err := s.queryResources(
		`SELECT `+resourceColumns+` FROM resources WHERE path = ? OR (path >= ? AND path < ?) ORDER BY path`,
		path, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("finding subtree: %w", err)
	}
	return result, nil
}

func (s *SQLiteDatabase) CreateResource(r *model.Resource) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.clock.Now()
	}
	_, err := s.db.Exec(`INSERT INTO resources (`+resourceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Path, r.Parent, r.Kind, r.Stamp, r.Charset, r.LinkTarget,
		r.Virtual, r.Hidden, r.Archive, r.Open, toNanos(r.LocalTimestamp), toNanos(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("creating resource: %w", err)
	}
	return nil
}

// UpdateResource writes every mutable column of r.
func (s *SQLiteDatabase) UpdateResource(r *model.Resource) error {
	res, err := s.db.Exec(`UPDATE resources
		SET stamp = ?, charset = ?, link_target = ?, is_virtual = ?, hidden = ?, archive = ?, is_open = ?, local_timestamp = ?
		WHERE path = ?`,
		r.Stamp, r.Charset, r.LinkTarget, r.Virtual, r.Hidden, r.Archive, r.Open, toNanos(r.LocalTimestamp), r.Path)
	if err != nil {
		return fmt.Errorf("updating resource: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating resource: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("updating resource %s: %w", r.Path, undo.ErrNotFound)
	}
	return nil
}

// DeleteTree removes path and everything below it, together with their
// filters and markers, in one transaction.
func (s *SQLiteDatabase) DeleteTree(path string) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	lo, hi := below(path)
	for _, table := range []string{"resources", "resource_filters", "markers"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE path = ? OR (path >= ? AND path < ?)`, path, lo, hi); err != nil {
			return fmt.Errorf("deleting from %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Filter operations

func (s *SQLiteDatabase) CreateFilter(f *model.Filter) error {
	res, err := s.db.Exec(`INSERT INTO resource_filters (path, type, matcher_id, arguments) VALUES (?, ?, ?, ?)`,
		f.Path, f.Type, f.MatcherID, f.Arguments)
	if err != nil {
		return fmt.Errorf("creating filter: %w", err)
	}
	f.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("creating filter: %w", err)
	}
	return nil
}

// FindFilters returns the filters of path in creation order.
func (s *SQLiteDatabase) FindFilters(path string) ([]*model.Filter, error) {
	rows, err := s.db.Query(`SELECT id, path, type, matcher_id, arguments FROM resource_filters WHERE path = ? ORDER BY id`, path)
	if err != nil {
		return nil, fmt.Errorf("finding filters: %w", err)
	}
	defer rows.Close()

	var result []*model.Filter
	for rows.Next() {
		var f model.Filter
		if err := rows.Scan(&f.ID, &f.Path, &f.Type, &f.MatcherID, &f.Arguments); err != nil {
			return nil, fmt.Errorf("scanning filter: %w", err)
		}
		result = append(result, &f)
	}
	return result, rows.Err()
}

// Marker operations. SQLiteDatabase is the undo.MarkerStore.

func (s *SQLiteDatabase) FindMarkers(p undo.Path) ([]*undo.Marker, error) {
	rows, err := s.db.Query(`SELECT id, path, type, attributes, created_at FROM markers WHERE path = ? ORDER BY id`, p.String())
	if err != nil {
		return nil, fmt.Errorf("finding markers: %w", err)
	}
	defer rows.Close()

	var result []*undo.Marker
	for rows.Next() {
		var row model.Marker
		var created int64
		if err := rows.Scan(&row.ID, &row.Path, &row.Type, &row.Attributes, &created); err != nil {
			return nil, fmt.Errorf("scanning marker: %w", err)
		}
		row.CreatedAt = fromNanos(created)
		m, err := markerFromRow(&row)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func markerFromRow(row *model.Marker) (*undo.Marker, error) {
	var attrs map[string]any
	if err := json.Unmarshal([]byte(row.Attributes), &attrs); err != nil {
		return nil, fmt.Errorf("decoding attributes of marker %d: %w", row.ID, err)
	}
	return &undo.Marker{
		ID:         row.ID,
		Path:       undo.Path(row.Path),
		Type:       row.Type,
		Attributes: attrs,
		CreatedAt:  row.CreatedAt,
	}, nil
}

func (s *SQLiteDatabase) CreateMarker(p undo.Path, markerType string, attributes map[string]any) (*undo.Marker, error) {
	if attributes == nil {
		attributes = map[string]any{}
	}
	encoded, err := json.Marshal(attributes)
	if err != nil {
		return nil, fmt.Errorf("encoding marker attributes: %w", err)
	}

	row := &model.Marker{Path: p.String(), Type: markerType, Attributes: string(encoded), CreatedAt: s.clock.Now()}
	res, err := s.db.Exec(`INSERT INTO markers (path, type, attributes, created_at) VALUES (?, ?, ?, ?)`,
		row.Path, row.Type, row.Attributes, toNanos(row.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("creating marker: %w", err)
	}
	if row.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("creating marker: %w", err)
	}
	return markerFromRow(row)
}

func (s *SQLiteDatabase) DeleteMarker(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM markers WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting marker: %w", err)
	}
	return nil
}

// Content operations

// CreateContent records content stored in the vault. Recording the same
// checksum twice is a no-op.
func (s *SQLiteDatabase) CreateContent(c *model.Content) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.clock.Now()
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO contents (id, size, encrypted, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.Size, c.Encrypted, toNanos(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("creating content: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) FindContentByChecksum(checksum string) (*model.Content, error) {
	var c model.Content
	var created int64
	err := s.db.QueryRow(`SELECT id, size, encrypted, created_at FROM contents WHERE id = ?`, checksum).
		Scan(&c.ID, &c.Size, &c.Encrypted, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding content by checksum: %w", err)
	}
	c.CreatedAt = fromNanos(created)
	return &c, nil
}

func (s *SQLiteDatabase) DeleteContent(checksum string) error {
	if _, err := s.db.Exec(`DELETE FROM contents WHERE id = ?`, checksum); err != nil {
		return fmt.Errorf("deleting content: %w", err)
	}
	return nil
}

// CountContentReferences returns how many history states use the content.
func (s *SQLiteDatabase) CountContentReferences(checksum string) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM history_states WHERE content_id = ?`, checksum).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting content references: %w", err)
	}
	return n, nil
}

// History state operations

const historyColumns = `seq, id, path, content_id, modified_at, charset, recorded_at`

func scanHistoryState(row rowScanner) (*model.HistoryState, error) {
	var h model.HistoryState
	var modified, recorded int64
	if err := row.Scan(&h.Seq, &h.ID, &h.Path, &h.ContentID, &modified, &h.Charset, &recorded); err != nil {
		return nil, err
	}
	h.ModifiedAt = fromNanos(modified)
	h.RecordedAt = fromNanos(recorded)
	return &h, nil
}

// CreateHistoryState inserts h and sets its Seq.
func (s *SQLiteDatabase) CreateHistoryState(h *model.HistoryState) error {
	if h.RecordedAt.IsZero() {
		h.RecordedAt = s.clock.Now()
	}
	res, err := s.db.Exec(`INSERT INTO history_states (id, path, content_id, modified_at, charset, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		h.ID, h.Path, h.ContentID, toNanos(h.ModifiedAt), h.Charset, toNanos(h.RecordedAt))
	if err != nil {
		return fmt.Errorf("creating history state: %w", err)
	}
	if h.Seq, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("creating history state: %w", err)
	}
	return nil
}

// FindHistoryStates returns the states of path, most recent modification
// first. States with equal modification times are ordered newest recorded first.
func (s *SQLiteDatabase) FindHistoryStates(path string) ([]*model.HistoryState, error) {
	rows, err := s.db.Query(`SELECT `+historyColumns+` FROM history_states WHERE path = ? ORDER BY modified_at DESC, seq DESC`, path)
	if err != nil {
		return nil, fmt.Errorf("finding history states: %w", err)
	}
	defer rows.Close()

	var result []*model.HistoryState
	for rows.Next() {
		h, err := scanHistoryState(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning history state: %w", err)
		}
		result = append(result, h)
	}
	return result, rows.Err()
}

func (s *SQLiteDatabase) FindHistoryState(id string) (*model.HistoryState, error) {
	h, err := scanHistoryState(s.db.QueryRow(`SELECT `+historyColumns+` FROM history_states WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding history state: %w", err)
	}
	return h, nil
}

func (s *SQLiteDatabase) DeleteHistoryState(id string) error {
	if _, err := s.db.Exec(`DELETE FROM history_states WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting history state: %w", err)
	}
	return nil
}

// Undo stack operations

func scanUndoEntry(row rowScanner) (*model.UndoEntry, error) {
	var e model.UndoEntry
	var created int64
	if err := row.Scan(&e.ID, &e.Label, &e.Payload, &e.State, &created); err != nil {
		return nil, err
	}
	e.CreatedAt = fromNanos(created)
	return &e, nil
}

// PushUndoEntry adds an undoable entry and discards every redoable one.
func (s *SQLiteDatabase) PushUndoEntry(label string, payload []byte) (*model.UndoEntry, error) {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM undo_entries WHERE state = ?`, model.UndoStateRedoable); err != nil {
		return nil, fmt.Errorf("clearing redo entries: %w", err)
	}

	e := &model.UndoEntry{Label: label, Payload: payload, State: model.UndoStateUndoable, CreatedAt: s.clock.Now()}
	res, err := tx.Exec(`INSERT INTO undo_entries (label, payload, state, created_at) VALUES (?, ?, ?, ?)`,
		e.Label, e.Payload, e.State, toNanos(e.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("pushing undo entry: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("pushing undo entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return e, nil
}

// PeekUndoEntry returns the entry the next undo (state undoable) or redo
// (state redoable) applies to, or nil if there is none. Undo takes the most
// recent undoable entry; redo takes the most recently undone one.
func (s *SQLiteDatabase) PeekUndoEntry(state string) (*model.UndoEntry, error) {
	order := "DESC"
	if state == model.UndoStateRedoable {
		order = "ASC"
	}
	row := s.db.QueryRow(`SELECT id, label, payload, state, created_at FROM undo_entries WHERE state = ? ORDER BY id `+order+` LIMIT 1`, state)
	e, err := scanUndoEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding undo entry: %w", err)
	}
	return e, nil
}

// UpdateUndoEntry moves an entry to state with a fresh payload.
func (s *SQLiteDatabase) UpdateUndoEntry(id int64, state string, payload []byte) error {
	_, err := s.db.Exec(`UPDATE undo_entries SET state = ?, payload = ? WHERE id = ?`, state, payload, id)
	if err != nil {
		return fmt.Errorf("updating undo entry: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) DeleteUndoEntry(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM undo_entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting undo entry: %w", err)
	}
	return nil
}

// ListUndoEntries returns up to limit entries, newest first.
func (s *SQLiteDatabase) ListUndoEntries(limit int) ([]*model.UndoEntry, error) {
	rows, err := s.db.Query(`SELECT id, label, payload, state, created_at FROM undo_entries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing undo entries: %w", err)
	}
	defer rows.Close()

	var result []*model.UndoEntry
	for rows.Next() {
		e, err := scanUndoEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning undo entry: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// Operation tracking

func (s *SQLiteDatabase) CreateOperation(operation string, parameters string) (*model.Operation, error) {
	op := &model.Operation{Operation: operation, Parameters: parameters, StartedAt: s.clock.Now()}
	res, err := s.db.Exec(`INSERT INTO operations (operation, parameters, started_at) VALUES (?, ?, ?)`,
		op.Operation, op.Parameters, toNanos(op.StartedAt))
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	if op.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	return op, nil
}

func (s *SQLiteDatabase) FinishOperation(id int64, status string) error {
	_, err := s.db.Exec(`UPDATE operations SET finished_at = ?, status = ? WHERE id = ?`,
		toNanos(s.clock.Now()), status, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

// ListOperations returns up to limit operations, newest first.
func (s *SQLiteDatabase) ListOperations(limit int) ([]*model.Operation, error) {
	rows, err := s.db.Query(`SELECT id, operation, parameters, started_at, finished_at, status FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var result []*model.Operation
	for rows.Next() {
		var op model.Operation
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &started, &finished, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		op.StartedAt = fromNanos(started)
		if finished.Valid {
			t := fromNanos(finished.Int64)
			op.FinishedAt = &t
		}
		result = append(result, &op)
	}
	return result, rows.Err()
}

// MaxOperationID returns the newest operation ID, or 0 when there is none.
func (s *SQLiteDatabase) MaxOperationID() (int64, error) {
	var id int64
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM operations`).Scan(&id); err != nil {
		return 0, fmt.Errorf("getting max operation ID: %w", err)
	}
	return id, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ undo.MarkerStore = (*SQLiteDatabase)(nil)
