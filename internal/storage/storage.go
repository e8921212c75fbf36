package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"twodo/internal/task"
)

const tagSeparator = "\n"

const taskColumns = `name, description, start_at, end_at, alarm_seconds, tags, completed, task_key`

type Store struct {
	db *sql.DB
}

// row ties a stored task to its database row.
type row struct {
	id  int64
	key string
}

// Snapshot is the stored collection in row order together with the
// revision it was read at.
type Snapshot struct {
	Tasks    []task.Task
	Revision int64
	rows     []row
}

func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("db path is empty")
	}
	if !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	start_at TEXT DEFAULT NULL,
	end_at TEXT DEFAULT NULL,
	tags TEXT NOT NULL DEFAULT '',
	completed INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`
	if _, err := s.db.Exec(ddl); err != nil {
		return err
	}
	if err := s.ensureTaskColumns(); err != nil {
		return err
	}
	if err := s.backfillKeys(); err != nil {
		return err
	}
	_, err := s.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS tasks_task_key ON tasks(task_key);`)
	return err
}

// ensureTaskColumns upgrades databases created before a column existed.
func (s *Store) ensureTaskColumns() error {
	required := map[string]string{
		"alarm_seconds": "ALTER TABLE tasks ADD COLUMN alarm_seconds INTEGER NOT NULL DEFAULT 0;",
		"task_key":      "ALTER TABLE tasks ADD COLUMN task_key TEXT NOT NULL DEFAULT '';",
	}
	existing := map[string]struct{}{}
	rows, err := s.db.Query(`PRAGMA table_info(tasks);`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		existing[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for col, alter := range required {
		if _, ok := existing[col]; ok {
			continue
		}
		if _, err := s.db.Exec(alter); err != nil {
			return fmt.Errorf("add column %s: %w", col, err)
		}
	}
	return nil
}

// backfillKeys fills task_key for rows written before the column existed.
// Later copies of an identical task are dropped.
func (s *Store) backfillKeys() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT id, ` + taskColumns + ` FROM tasks WHERE task_key = '' ORDER BY id;`)
	if err != nil {
		return err
	}
	var legacy []struct {
		id int64
		t  task.Task
	}
	for rows.Next() {
		r, t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return err
		}
		legacy = append(legacy, struct {
			id int64
			t  task.Task
		}{r.id, t})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()
	if len(legacy) == 0 {
		return nil
	}

	for _, l := range legacy {
		k := l.t.Key()
		var other int64
		err := tx.QueryRow(`SELECT id FROM tasks WHERE task_key = ?;`, k).Scan(&other)
		switch {
		case err == nil:
			if _, err := tx.Exec(`DELETE FROM tasks WHERE id = ?;`, l.id); err != nil {
				return err
			}
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.Exec(`UPDATE tasks SET task_key = ? WHERE id = ?;`, k, l.id); err != nil {
				return err
			}
		default:
			return err
		}
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (row, task.Task, error) {
	var r row
	var t task.Task
	var startStr, endStr sql.NullString
	var alarmSecs int64
	var tags string
	var completed int
	if err := sc.Scan(&r.id, &t.Name, &t.Description, &startStr, &endStr, &alarmSecs, &tags, &completed, &r.key); err != nil {
		return row{}, task.Task{}, err
	}
	t.Completed = completed == 1
	if tags != "" {
		t.Tags = task.NewTags(strings.Split(tags, tagSeparator)...)
	}
	if startStr.Valid && endStr.Valid {
		start, err := time.Parse(time.RFC3339Nano, startStr.String)
		if err != nil {
			return row{}, task.Task{}, fmt.Errorf("task %q: start: %w", t.Name, err)
		}
		end, err := time.Parse(time.RFC3339Nano, endStr.String)
		if err != nil {
			return row{}, task.Task{}, fmt.Errorf("task %q: end: %w", t.Name, err)
		}
		t.Deadline = &task.Deadline{Start: start.Local(), End: end.Local(), Alarm: time.Duration(alarmSecs) * time.Second}
	}
	return r, t, nil
}

func taskValues(t task.Task) []any {
	var startStr, endStr sql.NullString
	var alarmSecs int64
	if t.Deadline != nil {
		startStr = sql.NullString{String: t.Deadline.Start.UTC().Format(time.RFC3339Nano), Valid: true}
		endStr = sql.NullString{String: t.Deadline.End.UTC().Format(time.RFC3339Nano), Valid: true}
		alarmSecs = int64(t.Deadline.Alarm / time.Second)
	}
	completed := 0
	if t.Completed {
		completed = 1
	}
	return []any{t.Name, t.Description, startStr, endStr, alarmSecs,
		strings.Join(t.Tags, tagSeparator), completed, t.Key()}
}

// Snapshot reads every task and the current revision in one transaction.
func (s *Store) Snapshot() (Snapshot, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Snapshot{}, err
	}
	defer tx.Rollback()

	rev, err := revision(tx)
	if err != nil {
		return Snapshot{}, err
	}
	rows, err := tx.Query(`SELECT id, ` + taskColumns + ` FROM tasks ORDER BY id;`)
	if err != nil {
		return Snapshot{}, err
	}
	defer rows.Close()

	snap := Snapshot{Revision: rev}
	for rows.Next() {
		r, t, err := scanTask(rows)
		if err != nil {
			return Snapshot{}, err
		}
		snap.rows = append(snap.rows, r)
		snap.Tasks = append(snap.Tasks, t)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}
	return snap, tx.Commit()
}

// Load returns the saved collection in store order.
func (s *Store) Load() ([]task.Task, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	return snap.Tasks, nil
}

// Revision counts committed writes. It only moves forward.
func (s *Store) Revision() (int64, error) {
	return revision(s.db)
}

type rowQuerier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func revision(q rowQuerier) (int64, error) {
	var rev int64
	err := q.QueryRow(`SELECT CAST(value AS INTEGER) FROM meta WHERE key = 'revision';`).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return rev, err
}

// LastSaved reports when a write last committed. The zero time means never.
func (s *Store) LastSaved() (time.Time, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'saved_at';`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, v)
}

// apply writes the row changes that turn known into cur and returns the
// rows now backing cur. Only rows listed in known are updated or deleted,
// so tasks written by other processes survive. The returned revision
// advances past rev only when no other writer committed since rev.
func (s *Store) apply(known []row, cur []task.Task, rev int64) ([]row, int64, error) {
	byKey := make(map[string]row, len(known))
	for _, r := range known {
		byKey[r.key] = r
	}
	next := make([]row, len(cur))
	placed := make([]bool, len(cur))
	inCur := make(map[string]bool, len(cur))
	changed := false
	for i, t := range cur {
		k := t.Key()
		inCur[k] = true
		if r, ok := byKey[k]; ok {
			next[i], placed[i] = r, true
		} else {
			changed = true
		}
	}
	// Rows that left cur, by their old position, so an edit keeps its row.
	gone := make(map[int]row)
	for j, r := range known {
		if !inCur[r.key] {
			gone[j] = r
		}
	}
	if !changed && len(gone) == 0 {
		return next, rev, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, rev, err
	}
	defer tx.Rollback()

	before, err := revision(tx)
	if err != nil {
		return nil, rev, err
	}
	for i, t := range cur {
		if placed[i] {
			continue
		}
		if old, ok := gone[i]; ok {
			delete(gone, i)
			next[i], err = updateTask(tx, old, t)
		} else {
			next[i], err = insertTask(tx, t)
		}
		if err != nil {
			return nil, rev, err
		}
	}
	for _, r := range gone {
		if err := deleteTask(tx, r); err != nil {
			return nil, rev, err
		}
	}

	if _, err := tx.Exec(`INSERT INTO meta (key, value) VALUES ('revision', '1')
		ON CONFLICT(key) DO UPDATE SET value = CAST(value AS INTEGER) + 1;`); err != nil {
		return nil, rev, err
	}
	after, err := revision(tx)
	if err != nil {
		return nil, rev, err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.Exec(`INSERT INTO meta (key, value) VALUES ('saved_at', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value;`, now); err != nil {
		return nil, rev, err
	}
	if err := tx.Commit(); err != nil {
		return nil, rev, err
	}
	if before != rev {
		return next, rev, nil
	}
	return next, after, nil
}

func insertTask(tx *sql.Tx, t task.Task) (row, error) {
	if _, err := tx.Exec(`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_key) DO NOTHING;`, taskValues(t)...); err != nil {
		return row{}, fmt.Errorf("insert %q: %w", t.Name, err)
	}
	r := row{key: t.Key()}
	if err := tx.QueryRow(`SELECT id FROM tasks WHERE task_key = ?;`, r.key).Scan(&r.id); err != nil {
		return row{}, err
	}
	return r, nil
}

// updateTask rewrites old in place. When another writer already stored t,
// or removed old, it falls back to that row or to an insert.
func updateTask(tx *sql.Tx, old row, t task.Task) (row, error) {
	k := t.Key()
	var other int64
	err := tx.QueryRow(`SELECT id FROM tasks WHERE task_key = ?;`, k).Scan(&other)
	switch {
	case err == nil:
		if err := deleteTask(tx, old); err != nil {
			return row{}, err
		}
		return row{id: other, key: k}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return row{}, err
	}

	res, err := tx.Exec(`UPDATE tasks SET name = ?, description = ?, start_at = ?, end_at = ?,
		alarm_seconds = ?, tags = ?, completed = ?, task_key = ? WHERE id = ? AND task_key = ?;`,
		append(taskValues(t), old.id, old.key)...)
	if err != nil {
		return row{}, fmt.Errorf("update %q: %w", t.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return row{}, err
	}
	if n == 0 {
		return insertTask(tx, t)
	}
	return row{id: old.id, key: k}, nil
}

func deleteTask(tx *sql.Tx, r row) error {
	_, err := tx.Exec(`DELETE FROM tasks WHERE id = ? AND task_key = ?;`, r.id, r.key)
	return err
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	abs, err := filepath.Abs(path)
	if err == nil {
		path = abs
	}
	u := url.URL{
		Scheme: "file",
		Path:   path,
	}
	q := u.Query()
	q.Set("mode", "rwc")
	q.Set("_pragma", "busy_timeout(5000)")
	q.Set("_txlock", "immediate")
	u.RawQuery = q.Encode()
	return u.String()
}
