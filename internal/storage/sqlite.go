package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/vector"
)

// DatabaseFile is the SQLite file name inside a persist directory.
const DatabaseFile = "manabu.db"

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db   *sqlx.DB
	path string
}

// recordRow is the database shape of a record.
type recordRow struct {
	CollectionID int64  `db:"collection_id"`
	ID           string `db:"id"`
	models.Passage
	Embedding []byte `db:"embedding"`
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sqlx.Connect("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, path: dbPath}, nil
}

func initSchema(db *sqlx.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		dimensions INTEGER NOT NULL,
		embedder TEXT NOT NULL,
		last_build_id TEXT,
		last_build_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS records (
		collection_id INTEGER NOT NULL,
		id TEXT NOT NULL,
		content TEXT NOT NULL,
		source_name TEXT NOT NULL,
		source_path TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		total_chunks INTEGER NOT NULL,
		embedding BLOB NOT NULL,
		PRIMARY KEY (collection_id, id),
		FOREIGN KEY (collection_id) REFERENCES collections(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_records_source ON records(collection_id, source_name);
	`
	_, err := db.Exec(schema)
	return err
}

const collectionColumns = `id, name, dimensions, embedder, last_build_id, last_build_at, created_at`

// GetCollection returns a collection by name, or ErrCollectionNotFound.
func (s *SQLiteStorage) GetCollection(ctx context.Context, name string) (*CollectionMeta, error) {
	var meta CollectionMeta
	err := s.db.GetContext(ctx, &meta, `SELECT `+collectionColumns+` FROM collections WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// CreateCollection inserts an empty collection and returns its metadata.
func (s *SQLiteStorage) CreateCollection(ctx context.Context, name string, dimensions int, embedder string) (*CollectionMeta, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (name, dimensions, embedder, created_at) VALUES (?, ?, ?, ?)`,
		name, dimensions, embedder, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	return s.GetCollection(ctx, name)
}

// DropCollection deletes a collection and all of its records. Dropping a missing collection is a no-op.
func (s *SQLiteStorage) DropCollection(ctx context.Context, name string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE collection_id IN (SELECT id FROM collections WHERE name = ?)`, name); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return tx.Commit()
}

// SetLastBuild records the most recent build on a collection.
func (s *SQLiteStorage) SetLastBuild(ctx context.Context, collectionID int64, buildID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE collections SET last_build_id = ?, last_build_at = ? WHERE id = ?`,
		buildID, at.UTC(), collectionID,
	)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: id %d", ErrCollectionNotFound, collectionID)
	}
	return nil
}

const upsertRecordSQL = `
	INSERT INTO records (collection_id, id, content, source_name, source_path, chunk_index, total_chunks, embedding)
	VALUES (:collection_id, :id, :content, :source_name, :source_path, :chunk_index, :total_chunks, :embedding)
	ON CONFLICT (collection_id, id) DO UPDATE SET
		content = excluded.content,
		source_name = excluded.source_name,
		source_path = excluded.source_path,
		chunk_index = excluded.chunk_index,
		total_chunks = excluded.total_chunks,
		embedding = excluded.embedding`

// UpsertRecords inserts or replaces records keyed by passage identity in a single transaction.
func (s *SQLiteStorage) UpsertRecords(ctx context.Context, collectionID int64, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareNamedContext(ctx, upsertRecordSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		row := recordRow{
			CollectionID: collectionID,
			ID:           records[i].ID(),
			Passage:      records[i].Passage,
			Embedding:    vector.EncodeFloat32(records[i].Embedding),
		}
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return fmt.Errorf("upsert record %s: %w", row.ID, err)
		}
	}
	return tx.Commit()
}

const recordColumns = `collection_id, id, content, source_name, source_path, chunk_index, total_chunks, embedding`

// ListRecords returns every record in a collection ordered by identity.
func (s *SQLiteStorage) ListRecords(ctx context.Context, collectionID int64) ([]models.Record, error) {
	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT `+recordColumns+` FROM records WHERE collection_id = ? ORDER BY id`, collectionID); err != nil {
		return nil, err
	}
	return toRecords(rows)
}

// GetRecords returns the records with the given identities. Missing identities are skipped.
func (s *SQLiteStorage) GetRecords(ctx context.Context, collectionID int64, ids []string) ([]models.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		`SELECT `+recordColumns+` FROM records WHERE collection_id = ? AND id IN (?)`, collectionID, ids)
	if err != nil {
		return nil, err
	}
	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return toRecords(rows)
}

func toRecords(rows []recordRow) ([]models.Record, error) {
	records := make([]models.Record, len(rows))
	for i, r := range rows {
		emb, err := vector.DecodeFloat32(r.Embedding)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", r.ID, err)
		}
		records[i] = models.Record{Passage: r.Passage, Embedding: emb}
	}
	return records, nil
}

// CountRecords returns the number of records in a collection.
func (s *SQLiteStorage) CountRecords(ctx context.Context, collectionID int64) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM records WHERE collection_id = ?`, collectionID)
	return n, err
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
