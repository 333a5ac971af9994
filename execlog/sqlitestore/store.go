// Package sqlitestore persists the execution log in SQLite.
//
// Each record is stored whole as canonical JSON in records.body, with the
// columns a query would filter on split out beside it. record_resources
// indexes every record under each resource it touched so a resource's
// history can be read without walking parent links.
//
// The database runs in WAL mode with a single connection: the log has one
// writer and appends are serialized by execlog.Log anyway.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/execlog"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - records and record_resources
const currentSchemaVersion = 1

// Store is an execlog.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ execlog.Store = (*Store)(nil)

// Open creates or opens a database at path and applies the schema.
// Safe to call on an existing database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Append inserts r and its resource rows in one transaction. A record whose
// hash is already stored is ignored; a different record at the same seq is
// execlog.ErrSeqConflict.
func (s *Store) Append(ctx context.Context, r execlog.Record) (err error) {
	body, err := r.Encode()
	if err != nil {
		return fmt.Errorf("append seq=%d: %w", r.Seq, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append seq=%d: begin: %w", r.Seq, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var existing string
	switch err := tx.QueryRowContext(ctx, `SELECT hash FROM records WHERE seq = ?`, r.Seq).Scan(&existing); {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("append seq=%d: %w", r.Seq, err)
	case existing == r.Hash:
		return tx.Rollback()
	default:
		return fmt.Errorf("append seq=%d held by %s: %w", r.Seq, existing, execlog.ErrSeqConflict)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records
		(seq, hash, effect_id, kind, task, depth, outcome_status, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`,
		r.Seq,
		r.Hash,
		r.EffectID,
		r.Kind.String(),
		r.Task,
		r.Depth,
		string(r.Outcome.Status()),
		string(body),
	)
	if err != nil {
		return fmt.Errorf("append seq=%d: insert record: %w", r.Seq, err)
	}

	for _, res := range r.Resources {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO record_resources (seq, resource, parent)
			VALUES (?, ?, ?)
			ON CONFLICT(seq, resource) DO NOTHING
		`, r.Seq, string(res), r.Parent(res))
		if err != nil {
			return fmt.Errorf("append seq=%d: insert resource %s: %w", r.Seq, res, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("append seq=%d: commit: %w", r.Seq, err)
	}
	return nil
}

// Get returns the record with the given hash.
func (s *Store) Get(ctx context.Context, hash string) (execlog.Record, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM records WHERE hash = ?`, hash).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return execlog.Record{}, fmt.Errorf("get %s: %w", hash, execlog.ErrNotFound)
	}
	if err != nil {
		return execlog.Record{}, fmt.Errorf("get %s: %w", hash, err)
	}
	return execlog.DecodeRecord([]byte(body))
}

// Scan visits every record ORDER BY seq ASC.
func (s *Store) Scan(ctx context.Context, fn func(execlog.Record) error) error {
	return s.scan(ctx, fn, `SELECT body FROM records ORDER BY seq ASC`)
}

// ScanResource visits the records touching res, oldest first.
func (s *Store) ScanResource(ctx context.Context, res effect.ResourceID, fn func(execlog.Record) error) error {
	return s.scan(ctx, fn, `
		SELECT r.body
		FROM records r
		JOIN record_resources rr ON rr.seq = r.seq
		WHERE rr.resource = ?
		ORDER BY r.seq ASC
	`, string(res))
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func (s *Store) scan(ctx context.Context, fn func(execlog.Record) error, query string, args ...any) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query records: %w", err)
	}

	// Decode everything before calling fn so fn may use the store; the
	// pool holds a single connection.
	var records []execlog.Record
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			rows.Close()
			return fmt.Errorf("scan record: %w", err)
		}
		rec, err := execlog.DecodeRecord([]byte(body))
		if err != nil {
			rows.Close()
			return err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate records: %w", err)
	}
	rows.Close()

	for _, rec := range records {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
