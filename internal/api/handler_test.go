package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"

	"legal_kb/internal/contextcache"
	"legal_kb/internal/model"
	"legal_kb/internal/scheduler"
	"legal_kb/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockRefresher struct {
	mu      sync.Mutex
	err     error
	running bool
	calls   [][]string
}

func (m *mockRefresher) TriggerAsync(_ context.Context, names []string, done func(scheduler.Report)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, names)
	if done != nil {
		done(scheduler.Report{RunID: "run-1"})
	}
	return nil
}

func (m *mockRefresher) Running() bool { return m.running }

func (m *mockRefresher) Sources() []string { return []string{"lmra", "npra"} }

type testEnv struct {
	store     *storage.SQLite
	refresher *mockRefresher
	router    *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := contextcache.New(store, contextcache.Config{}, log)
	refresher := &mockRefresher{}
	h := NewHandler(context.Background(), store, cache, refresher, log)
	return &testEnv{store: store, refresher: refresher, router: NewRouter(h)}
}

func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	now := time.Now()
	_, err := e.store.UpsertItems(context.Background(), []model.Item{
		{Title: "Work visa", Content: "Work visa requires a sponsor", Category: model.CategoryVisaServices, Source: "npra", Language: "en", LastUpdated: now},
		{Title: "Notice period", Content: "Thirty days notice", Category: model.CategoryLabourLaw, Source: "lmra", Language: "en", LastUpdated: now},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/health", "")
	if diff := cmp.Diff(http.StatusOK, w.Code); diff != "" {
		t.Errorf("status (-want +got):\n%s", diff)
	}
}

func TestGetContext(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	body := `{"query":"work visa","category":"visa-services","language":"en"}`
	first := e.do(t, http.MethodPost, "/api/context", body)
	if first.Code != http.StatusOK {
		t.Fatalf("status %d: %s", first.Code, first.Body.String())
	}
	var res contextcache.Result
	decode(t, first, &res)
	if res.Metadata.FromCache || len(res.Items) != 1 || res.Items[0].Title != "Work visa" {
		t.Errorf("unexpected first result: %+v", res)
	}

	second := e.do(t, http.MethodPost, "/api/context", body)
	decode(t, second, &res)
	if !res.Metadata.FromCache {
		t.Error("expected second call from cache")
	}
}

func TestGetContextValidation(t *testing.T) {
	e := newTestEnv(t)
	tests := []struct {
		name string
		body string
	}{
		{name: "missing query", body: `{"category":"visa-services"}`},
		{name: "unknown category", body: `{"query":"visa","category":"tax"}`},
		{name: "negative limit", body: `{"query":"visa","max_items":-1}`},
		{name: "not json", body: `query=visa`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodPost, "/api/context", tt.body)
			if diff := cmp.Diff(http.StatusBadRequest, w.Code); diff != "" {
				t.Errorf("status (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGetContextStoreDown(t *testing.T) {
	e := newTestEnv(t)
	_ = e.store.Close()

	w := e.do(t, http.MethodPost, "/api/context", `{"query":"work visa"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("context must degrade, got status %d", w.Code)
	}
	var res contextcache.Result
	decode(t, w, &res)
	if res.Context != "" || res.Metadata.CacheStatus != contextcache.StatusError {
		t.Errorf("unexpected degraded result: %+v", res)
	}
}

type itemsBody struct {
	Items []model.Item `json:"items"`
	Count int          `json:"count"`
}

func TestFAQByCategory(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/api/faq?category=visa-services&language=en&limit=20", "")
	var body itemsBody
	decode(t, w, &body)
	if body.Count != 0 || body.Items == nil {
		t.Errorf("expected empty list on empty store, got %s", w.Body.String())
	}

	e.seed(t)
	w = e.do(t, http.MethodGet, "/api/faq?category=visa-services", "")
	decode(t, w, &body)
	if body.Count != 1 || body.Items[0].Title != "Work visa" {
		t.Errorf("unexpected items: %+v", body)
	}

	for _, path := range []string{"/api/faq", "/api/faq?category=tax", "/api/faq?category=labour-law&limit=zero"} {
		if w := e.do(t, http.MethodGet, path, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, w.Code)
		}
	}
}

func TestSearchFAQ(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	w := e.do(t, http.MethodGet, "/api/faq/search?q=notice", "")
	var body itemsBody
	decode(t, w, &body)
	if body.Count != 1 || body.Items[0].Source != "lmra" {
		t.Errorf("unexpected items: %+v", body)
	}
}

func TestStatsAndStoreUnavailable(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t)

	w := e.do(t, http.MethodGet, "/api/stats", "")
	var st model.Stats
	decode(t, w, &st)
	if diff := cmp.Diff(2, st.Total); diff != "" {
		t.Errorf("total (-want +got):\n%s", diff)
	}

	_ = e.store.Close()
	if w := e.do(t, http.MethodGet, "/api/stats", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestCacheEndpoints(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/api/context", `{"query":"visa"}`)

	var st contextcache.Stats
	decode(t, e.do(t, http.MethodGet, "/api/cache/stats", ""), &st)
	if st.Entries != 1 {
		t.Errorf("expected 1 entry, got %+v", st)
	}

	var cleared struct {
		Cleared int `json:"cleared"`
	}
	decode(t, e.do(t, http.MethodDelete, "/api/cache", ""), &cleared)
	if diff := cmp.Diff(1, cleared.Cleared); diff != "" {
		t.Errorf("cleared (-want +got):\n%s", diff)
	}
}

func TestSources(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	if err := e.store.RecordSourceRun(ctx, model.SourceRun{Source: "lmra", ItemCount: 4, Status: model.StatusSuccess}); err != nil {
		t.Fatalf("RecordSourceRun: %v", err)
	}

	var list struct {
		Registered []string               `json:"registered"`
		Running    bool                   `json:"running"`
		Metadata   []model.SourceMetadata `json:"metadata"`
	}
	decode(t, e.do(t, http.MethodGet, "/api/sources", ""), &list)
	if diff := cmp.Diff([]string{"lmra", "npra"}, list.Registered); diff != "" {
		t.Errorf("registered (-want +got):\n%s", diff)
	}
	if len(list.Metadata) != 1 || list.Metadata[0].ItemCount != 4 {
		t.Errorf("unexpected metadata: %+v", list.Metadata)
	}

	var one model.SourceMetadata
	decode(t, e.do(t, http.MethodGet, "/api/sources?source=lmra", ""), &one)
	if one.Status != model.StatusSuccess {
		t.Errorf("unexpected metadata: %+v", one)
	}

	if w := e.do(t, http.MethodGet, "/api/sources?source=npra", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestRefreshSources(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/sources/refresh", `{"sources":["lmra"]}`)
	if diff := cmp.Diff(http.StatusAccepted, w.Code); diff != "" {
		t.Errorf("status (-want +got):\n%s", diff)
	}
	w = e.do(t, http.MethodPost, "/api/sources/refresh", "")
	if diff := cmp.Diff(http.StatusAccepted, w.Code); diff != "" {
		t.Errorf("status without body (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]string{{"lmra"}, nil}, e.refresher.calls); diff != "" {
		t.Errorf("trigger calls (-want +got):\n%s", diff)
	}

	e.refresher.err = scheduler.ErrRunInProgress
	if w := e.do(t, http.MethodPost, "/api/sources/refresh", ""); w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}

	e.refresher.err = scheduler.ErrUnknownSource
	if w := e.do(t, http.MethodPost, "/api/sources/refresh", `{"sources":["nope"]}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
