// Package sqlite is a persistent database driver on modernc.org/sqlite.
// Each record is one row holding a JSON document; fields are projected
// with gjson and patched with sjson so partial updates never rewrite
// fields they do not name.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dshills/koishi/internal/database"
	"github.com/dshills/koishi/internal/model"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

const schemaSQL = `
CREATE TABLE IF NOT EXISTS records (
	tbl      TEXT NOT NULL,
	platform TEXT NOT NULL,
	pid      TEXT NOT NULL,
	doc      TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (tbl, platform, pid)
)`

// Store is a database.Service backed by a single sqlite file.
type Store struct {
	db     *sql.DB
	schema *model.Schema
}

var _ database.Service = (*Store)(nil)

// Open opens or creates the database at path. ":memory:" is accepted.
func Open(path string, schema *model.Schema) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create data dir: %w", err)
		}
	}
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migration: %w", err)
	}
	return &Store{db: db, schema: schema}, nil
}

// Get implements database.Service.
func (s *Store) Get(ctx context.Context, table model.Table, platform, id string, fields []string) (map[string]any, error) {
	if err := s.schema.Validate(table, fields); err != nil {
		return nil, err
	}
	doc, err := s.load(ctx, s.db, table, platform, id)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		var names []string
		gjson.Parse(doc).ForEach(func(k, _ gjson.Result) bool {
			names = append(names, k.String())
			return true
		})
		fields = names
	}

	row := make(map[string]any, len(fields))
	for _, f := range fields {
		res := gjson.Get(doc, gjson.Escape(f))
		if !res.Exists() {
			row[f] = s.schema.Defaults(table, f)[f]
			continue
		}
		v, err := s.schema.Decode(table, f, []byte(res.Raw))
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		row[f] = v
	}
	return row, nil
}

// Create implements database.Service.
func (s *Store) Create(ctx context.Context, table model.Table, platform, id string, data map[string]any) error {
	if err := s.schema.Validate(table, keys(data)); err != nil {
		return err
	}
	row := make(map[string]any, len(data)+1)
	for k, v := range data {
		row[k] = v
	}
	row[model.FieldID] = id
	doc, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("sqlite: encode: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO records (tbl, platform, pid, doc) VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		string(table), platform, id, string(doc))
	if err != nil {
		return fmt.Errorf("sqlite: create: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return database.ErrExists
	}
	return nil
}

// Set implements database.Service. The read-patch-write runs in one
// transaction.
func (s *Store) Set(ctx context.Context, table model.Table, platform, id string, data map[string]any) error {
	if err := s.schema.Validate(table, keys(data)); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	doc, err := s.load(ctx, tx, table, platform, id)
	if err != nil {
		return err
	}
	for k, v := range data {
		doc, err = sjson.Set(doc, gjson.Escape(k), v)
		if err != nil {
			return fmt.Errorf("sqlite: patch %s: %w", k, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE records SET doc = ? WHERE tbl = ? AND platform = ? AND pid = ?`,
		doc, string(table), platform, id); err != nil {
		return fmt.Errorf("sqlite: update: %w", err)
	}
	return tx.Commit()
}

// Remove implements database.Service.
func (s *Store) Remove(ctx context.Context, table model.Table, platform, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE tbl = ? AND platform = ? AND pid = ?`,
		string(table), platform, id)
	if err != nil {
		return fmt.Errorf("sqlite: remove: %w", err)
	}
	return nil
}

// Stats implements database.Service.
func (s *Store) Stats(ctx context.Context) (database.Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tbl, COUNT(*) FROM records GROUP BY tbl`)
	if err != nil {
		return database.Stats{}, fmt.Errorf("sqlite: stats: %w", err)
	}
	defer rows.Close()

	var st database.Stats
	for rows.Next() {
		var tbl string
		var n int
		if err := rows.Scan(&tbl, &n); err != nil {
			return database.Stats{}, fmt.Errorf("sqlite: stats: %w", err)
		}
		switch model.Table(tbl) {
		case model.TableUser:
			st.Users = n
		case model.TableChannel:
			st.Channels = n
		}
	}
	return st, rows.Err()
}

// Close implements database.Service.
func (s *Store) Close() error {
	return s.db.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) load(ctx context.Context, q queryer, table model.Table, platform, id string) (string, error) {
	var doc string
	err := q.QueryRowContext(ctx,
		`SELECT doc FROM records WHERE tbl = ? AND platform = ? AND pid = ?`,
		string(table), platform, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return "", database.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: load: %w", err)
	}
	return doc, nil
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
