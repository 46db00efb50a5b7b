package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"campusbot/internal/domain"
)

// SQLiteSnapshotter keeps a snapshot in a SQLite database: the index blob
// in a meta row and the documents as rows keyed by position, replaced in a
// single transaction.
type SQLiteSnapshotter struct {
	db *sql.DB
}

func NewSQLiteSnapshotter(path string) (*SQLiteSnapshotter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS vector_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		schema_version INTEGER NOT NULL,
		model TEXT NOT NULL,
		blob BLOB
	);
	CREATE TABLE IF NOT EXISTS vector_docs (
		position INTEGER PRIMARY KEY,
		doc_id TEXT NOT NULL,
		text TEXT NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &SQLiteSnapshotter{db: db}, nil
}

func (s *SQLiteSnapshotter) Save(snap *Snapshot) error {
	var blob []byte
	if snap.Index != nil {
		var err error
		if blob, err = snap.Index.MarshalBinary(); err != nil {
			return fmt.Errorf("failed to encode index: %w", err)
		}
	}

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO vector_meta (id, schema_version, model, blob) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET schema_version = excluded.schema_version, model = excluded.model, blob = excluded.blob`,
		CurrentSchemaVersion, snap.Model, blob); err != nil {
		return fmt.Errorf("failed to write meta: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vector_docs`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO vector_docs (position, doc_id, text) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, d := range snap.Docs {
		if _, err := stmt.ExecContext(ctx, i, d.ID, d.Text); err != nil {
			return fmt.Errorf("failed to write document %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteSnapshotter) Load() (*Snapshot, error) {
	var (
		version int
		model   string
		blob    []byte
	)
	err := s.db.QueryRow(`SELECT schema_version, model, blob FROM vector_meta WHERE id = 1`).Scan(&version, &model, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read meta: %w", err)
	}

	snap := &Snapshot{Model: model}
	rows, err := s.db.Query(`SELECT doc_id, text FROM vector_docs ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.Text); err != nil {
			return nil, err
		}
		snap.Docs = append(snap.Docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if version != CurrentSchemaVersion {
		return snap, fmt.Errorf("%w: schema version %d, want %d", ErrCorruptSnapshot, version, CurrentSchemaVersion)
	}
	if blob != nil {
		idx := &FlatIndex{}
		if err := idx.UnmarshalBinary(blob); err != nil {
			return snap, err
		}
		snap.Index = idx
	}
	return snap, nil
}

func (s *SQLiteSnapshotter) Close() error {
	return s.db.Close()
}
