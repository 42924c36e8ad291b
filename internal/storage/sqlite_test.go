package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/manabu/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "nested", DatabaseFile))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func record(name string, idx int, content string, emb ...float32) models.Record {
	return models.Record{
		Passage: models.Passage{
			Content:     content,
			SourceName:  name,
			SourcePath:  "/corpus/" + name,
			ChunkIndex:  idx,
			TotalChunks: 2,
		},
		Embedding: emb,
	}
}

func TestSQLiteStorage_Collections(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	if _, err := store.GetCollection(ctx, "teaching_knowledge"); !errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("expected ErrCollectionNotFound, got %v", err)
	}
	meta, err := store.CreateCollection(ctx, "teaching_knowledge", 3, "hash-v1-3")
	if err != nil {
		t.Fatal(err)
	}
	if meta.ID == 0 || meta.Dimensions != 3 || meta.Embedder != "hash-v1-3" {
		t.Errorf("meta = %+v", meta)
	}
	if meta.LastBuildID.Valid || meta.LastBuildAt.Valid {
		t.Error("new collection should have no build")
	}
	if _, err := store.CreateCollection(ctx, "teaching_knowledge", 3, "hash-v1-3"); err == nil {
		t.Error("duplicate collection name should fail")
	}

	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	if err := store.SetLastBuild(ctx, meta.ID, "build-1", at); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetCollection(ctx, "teaching_knowledge")
	if err != nil {
		t.Fatal(err)
	}
	if got.LastBuildID.String != "build-1" || !got.LastBuildAt.Time.Equal(at) {
		t.Errorf("last build = %v %v", got.LastBuildID, got.LastBuildAt)
	}
	if err := store.SetLastBuild(ctx, 9999, "x", at); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("expected ErrCollectionNotFound for unknown id, got %v", err)
	}
}

func TestSQLiteStorage_Records(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	meta, err := store.CreateCollection(ctx, "c", 2, "hash-v1-2")
	if err != nil {
		t.Fatal(err)
	}

	records := []models.Record{
		record("b.pdf", 0, "second file", 0.5, 0.5),
		record("a.pdf", 0, "first chunk", 1, 0),
		record("a.pdf", 1, "second chunk", 0, 1),
	}
	if err := store.UpsertRecords(ctx, meta.ID, records); err != nil {
		t.Fatal(err)
	}
	n, err := store.CountRecords(ctx, meta.ID)
	if err != nil || n != 3 {
		t.Fatalf("count = %d, %v", n, err)
	}

	// Same identity replaces the record.
	if err := store.UpsertRecords(ctx, meta.ID, []models.Record{record("a.pdf", 1, "rewritten", 0.25, 0.75)}); err != nil {
		t.Fatal(err)
	}
	list, err := store.ListRecords(ctx, meta.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("list len = %d, want 3", len(list))
	}
	if list[0].ID() != "a.pdf_0" || list[2].ID() != "b.pdf_0" {
		t.Errorf("order = %s %s %s", list[0].ID(), list[1].ID(), list[2].ID())
	}
	if list[1].Content != "rewritten" || list[1].Embedding[1] != 0.75 {
		t.Errorf("upsert not applied: %+v", list[1])
	}
	if list[1].SourcePath != "/corpus/a.pdf" || list[1].TotalChunks != 2 {
		t.Errorf("passage fields lost: %+v", list[1].Passage)
	}

	got, err := store.GetRecords(ctx, meta.ID, []string{"b.pdf_0", "missing_0"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Content != "second file" {
		t.Errorf("GetRecords = %+v", got)
	}
	if got, err := store.GetRecords(ctx, meta.ID, nil); err != nil || got != nil {
		t.Errorf("GetRecords(nil) = %v, %v", got, err)
	}
	if err := store.UpsertRecords(ctx, meta.ID, nil); err != nil {
		t.Errorf("empty upsert: %v", err)
	}
}

func TestSQLiteStorage_DropCollection(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	meta, err := store.CreateCollection(ctx, "c", 1, "e")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertRecords(ctx, meta.ID, []models.Record{record("a.pdf", 0, "x", 1)}); err != nil {
		t.Fatal(err)
	}
	if err := store.DropCollection(ctx, "c"); err != nil {
		t.Fatal(err)
	}
	if n, _ := store.CountRecords(ctx, meta.ID); n != 0 {
		t.Errorf("records survived drop: %d", n)
	}
	if _, err := store.GetCollection(ctx, "c"); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("collection survived drop: %v", err)
	}
	if err := store.DropCollection(ctx, "c"); err != nil {
		t.Errorf("second drop should be a no-op: %v", err)
	}
}

func TestSQLiteStorage_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), DatabaseFile)
	ctx := context.Background()
	store, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	meta, err := store.CreateCollection(ctx, "c", 2, "e")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertRecords(ctx, meta.ID, []models.Record{record("a.pdf", 0, "persisted", 0.1, 0.2)}); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	again, err := reopened.GetCollection(ctx, "c")
	if err != nil {
		t.Fatal(err)
	}
	list, err := reopened.ListRecords(ctx, again.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Content != "persisted" || list[0].Embedding[1] != 0.2 {
		t.Errorf("after reopen: %+v", list)
	}
	if reopened.Path() != path {
		t.Errorf("Path() = %q", reopened.Path())
	}
}
