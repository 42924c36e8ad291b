// Package storage persists embedding collections and their records.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hyperjump/manabu/internal/models"
)

// ErrCollectionNotFound is returned when a named collection does not exist.
var ErrCollectionNotFound = errors.New("collection not found")

// CollectionMeta describes a stored collection and the embedding function that filled it.
type CollectionMeta struct {
	ID          int64          `db:"id"`
	Name        string         `db:"name"`
	Dimensions  int            `db:"dimensions"`
	Embedder    string         `db:"embedder"`
	LastBuildID sql.NullString `db:"last_build_id"`
	LastBuildAt sql.NullTime   `db:"last_build_at"`
	CreatedAt   time.Time      `db:"created_at"`
}

// Storage defines collection and record persistence operations.
type Storage interface {
	// Collection operations
	GetCollection(ctx context.Context, name string) (*CollectionMeta, error)
	CreateCollection(ctx context.Context, name string, dimensions int, embedder string) (*CollectionMeta, error)
	DropCollection(ctx context.Context, name string) error
	SetLastBuild(ctx context.Context, collectionID int64, buildID string, at time.Time) error

	// Record operations. UpsertRecords writes all records in one transaction.
	UpsertRecords(ctx context.Context, collectionID int64, records []models.Record) error
	ListRecords(ctx context.Context, collectionID int64) ([]models.Record, error)
	GetRecords(ctx context.Context, collectionID int64, ids []string) ([]models.Record, error)
	CountRecords(ctx context.Context, collectionID int64) (int64, error)

	// Path returns the database file location.
	Path() string
	Close() error
}
