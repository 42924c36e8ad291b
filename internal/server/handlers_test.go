package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyperjump/manabu/internal/config"
	"github.com/hyperjump/manabu/internal/models"
)

type fakeRetriever struct {
	lastQuery  *models.SearchQuery
	results    []*models.QueryResult
	searchErr  error
	stats      *models.Stats
	statsErr   error
	rebuildErr error
	rebuilds   int
	// duringRebuild runs inside Rebuild before the context is checked.
	duringRebuild func()
}

func (f *fakeRetriever) Do(_ context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	if err := q.Validate(3, 50); err != nil {
		return nil, err
	}
	f.lastQuery = q
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return &models.SearchResponse{Query: q.Query, Results: f.results, Count: len(f.results)}, nil
}

func (f *fakeRetriever) Stats(context.Context) (*models.Stats, error) {
	return f.stats, f.statsErr
}

func (f *fakeRetriever) Rebuild(ctx context.Context) (int64, error) {
	f.rebuilds++
	if f.duringRebuild != nil {
		f.duringRebuild()
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if f.rebuildErr != nil {
		return 0, f.rebuildErr
	}
	return f.stats.DocumentCount, nil
}

func newTestServer(f *fakeRetriever) http.Handler {
	return NewServer(f, &config.ServerConfig{Host: "127.0.0.1", Port: 0}, nil).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHandleHealth(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	newTestServer(&fakeRetriever{}).ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out map[string]string
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["status"] != "ok" || out["service"] != "knowledge_service" {
		t.Errorf("body = %v", out)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS header missing")
	}
}

func TestHandleSearch(t *testing.T) {
	d := 0.25
	f := &fakeRetriever{results: []*models.QueryResult{
		models.NewQueryResult(&models.Passage{Content: "Plants make sugar.", SourceName: "bio.pdf", SourcePath: "/c/bio.pdf", ChunkIndex: 2}, &d),
	}}
	w := do(t, newTestServer(f), http.MethodPost, "/api/knowledge/search", `{"query":"photosynthesis","top_k":5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", w.Code, w.Body)
	}
	var out struct {
		Success bool                     `json:"success"`
		Query   string                   `json:"query"`
		Count   int                      `json:"count"`
		Results []map[string]interface{} `json:"results"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Success || out.Query != "photosynthesis" || out.Count != 1 {
		t.Errorf("response = %+v", out)
	}
	res := out.Results[0]
	if res["source"] != "bio.pdf" || res["file_path"] != "/c/bio.pdf" || res["chunk_id"] != float64(2) {
		t.Errorf("result fields = %v", res)
	}
	if res["distance"] != 0.25 || res["similarity"] != 0.8 {
		t.Errorf("distance/similarity = %v / %v", res["distance"], res["similarity"])
	}
	if _, ok := res["id"]; ok {
		t.Error("internal id should not be serialised")
	}
	if f.lastQuery.TopK != 5 || f.lastQuery.Mode != models.ModeSemantic {
		t.Errorf("query passed = %+v", f.lastQuery)
	}
}

func TestHandleSearch_NullDistance(t *testing.T) {
	f := &fakeRetriever{results: []*models.QueryResult{
		models.NewQueryResult(&models.Passage{Content: "c", SourceName: "a.pdf"}, nil),
	}}
	w := do(t, newTestServer(f), http.MethodPost, "/api/knowledge/search", `{"query":"c","mode":"keyword"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"distance":null`) || !strings.Contains(w.Body.String(), `"similarity":1`) {
		t.Errorf("body = %s", w.Body)
	}
	if f.lastQuery.Mode != models.ModeKeyword {
		t.Errorf("mode = %q", f.lastQuery.Mode)
	}
}

func TestHandleSearch_EmptyResults(t *testing.T) {
	w := do(t, newTestServer(&fakeRetriever{results: []*models.QueryResult{}}), http.MethodPost, "/api/knowledge/search", `{"query":"x"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"results":[]`) || !strings.Contains(w.Body.String(), `"count":0`) {
		t.Errorf("status %d body %s", w.Code, w.Body)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		f      *fakeRetriever
		method string
		path   string
		body   string
		want   int
	}{
		{"bad json", &fakeRetriever{}, http.MethodPost, "/api/knowledge/search", `{not json`, http.StatusBadRequest},
		{"empty query", &fakeRetriever{}, http.MethodPost, "/api/knowledge/search", `{"query":"  "}`, http.StatusBadRequest},
		{"unknown mode", &fakeRetriever{}, http.MethodPost, "/api/knowledge/search", `{"query":"a","mode":"x"}`, http.StatusBadRequest},
		{"storage down", &fakeRetriever{searchErr: fmt.Errorf("%w: disk", models.ErrStorageUnavailable)},
			http.MethodPost, "/api/knowledge/search", `{"query":"a"}`, http.StatusServiceUnavailable},
		{"embedding mismatch", &fakeRetriever{statsErr: models.ErrEmbeddingMismatch},
			http.MethodGet, "/api/knowledge/stats", "", http.StatusServiceUnavailable},
		{"missing corpus", &fakeRetriever{rebuildErr: fmt.Errorf("rebuild: %w", models.ErrPrecondition)},
			http.MethodPost, "/api/knowledge/rebuild", "", http.StatusConflict},
		{"unexpected", &fakeRetriever{searchErr: errors.New("boom")},
			http.MethodPost, "/api/knowledge/search", `{"query":"a"}`, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, newTestServer(tt.f), tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body)
			}
			var out map[string]string
			if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
				t.Fatal(err)
			}
			if out["error"] == "" {
				t.Error("error message missing")
			}
		})
	}
}

func TestHandleStatsAndRebuild(t *testing.T) {
	f := &fakeRetriever{stats: &models.Stats{CollectionName: "teaching_knowledge_base", DocumentCount: 42, PersistDirectory: "/data"}}
	h := newTestServer(f)

	w := do(t, h, http.MethodGet, "/api/knowledge/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stats status %d", w.Code)
	}
	var out statsResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Success || out.Stats.DocumentCount != 42 || out.Stats.CollectionName != "teaching_knowledge_base" {
		t.Errorf("stats = %+v", out)
	}

	w = do(t, h, http.MethodPost, "/api/knowledge/rebuild", "")
	if w.Code != http.StatusOK {
		t.Fatalf("rebuild status %d", w.Code)
	}
	out = statsResponse{}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Success || out.Message == "" || out.Stats.PersistDirectory != "/data" || f.rebuilds != 1 {
		t.Errorf("rebuild = %+v rebuilds=%d", out, f.rebuilds)
	}
}

func TestCORSPreflight(t *testing.T) {
	r := httptest.NewRequest(http.MethodOptions, "/api/knowledge/search", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	r.Header.Set("Access-Control-Request-Headers", "Content-Type")
	w := httptest.NewRecorder()
	newTestServer(&fakeRetriever{}).ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Methods"), "POST") {
		t.Errorf("allow methods = %q", w.Header().Get("Access-Control-Allow-Methods"))
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("allow origin = %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestHandleRebuild_OutlivesClientCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := &fakeRetriever{
		stats:         &models.Stats{CollectionName: "kb", DocumentCount: 200},
		duringRebuild: cancel,
	}
	r := httptest.NewRequest(http.MethodPost, "/api/knowledge/rebuild", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	newTestServer(f).ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var out struct {
		Success bool          `json:"success"`
		Stats   *models.Stats `json:"stats"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Success || out.Stats.DocumentCount != 200 {
		t.Errorf("rebuild = %+v", out)
	}
}
