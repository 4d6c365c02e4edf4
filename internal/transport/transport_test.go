package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nlweb-go/gateway/internal/config"
	"github.com/nlweb-go/gateway/internal/embedder"
	"github.com/nlweb-go/gateway/internal/llm"
	"github.com/nlweb-go/gateway/internal/pipeline"
	"github.com/nlweb-go/gateway/internal/query"
	"github.com/nlweb-go/gateway/internal/ranking"
	"github.com/nlweb-go/gateway/internal/retriever"
	"github.com/nlweb-go/gateway/internal/vector"
)

type fakeBackend struct {
	name  string
	items []query.Item
}

func (f *fakeBackend) Name() string { return f.name }
func (f *fakeBackend) Search(ctx context.Context, vec []float32, q string, sites []string, k int) ([]query.Item, error) {
	return f.items, nil
}
func (f *fakeBackend) SearchAllSites(ctx context.Context, vec []float32, q string, k int) ([]query.Item, error) {
	return f.items, nil
}
func (f *fakeBackend) SearchByURL(ctx context.Context, url string) (query.Item, bool, error) {
	return query.Item{}, false, nil
}
func (f *fakeBackend) GetSites(ctx context.Context) ([]string, error) {
	return nil, &vector.ErrUnsupported{Op: "GetSites"}
}
func (f *fakeBackend) Upload(ctx context.Context, items []query.Item) error { return nil }
func (f *fakeBackend) DeleteBySite(ctx context.Context, site string) error  { return nil }
func (f *fakeBackend) Close() error                                        { return nil }

func testLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*Server, *config.RuntimeHolder) {
	t.Helper()
	items := []query.Item{
		{URL: "https://example.com/a", Name: "A", Site: "example.com", SchemaJSON: `{"name":"A"}`},
	}
	reg := vector.NewRegistry()
	reg.Register("primary", &fakeBackend{name: "primary", items: items}, true)

	r, err := retriever.New(reg, []string{"primary"}, "primary", testLog())
	if err != nil {
		t.Fatalf("retriever.New: %v", err)
	}

	fake := llm.NewFake().
		When("more than one schema.org item type", map[string]any{"value": false}).
		When("Classify this query's intent", map[string]any{"query_type": "informational"}).
		When("irrelevant to the configured site", map[string]any{"is_irrelevant": false}).
		When("Score how well this item answers the query", map[string]any{"score": 80, "description": "a good match"})

	h := pipeline.New(pipeline.Handler{
		Retriever: r,
		Ranker:    ranking.NewEngine(fake, testLog()),
		Embedder:  embedder.Fake{},
		LLM:       llm.NewRegistry(fake, fake),
		Log:       testLog(),
	})

	rt := &config.Runtime{
		Config:    &config.Config{Sites: []string{"example.com"}},
		Retriever: r,
		Pipeline:  h,
	}
	holder := config.NewRuntimeHolder(rt)
	return NewServer(holder, testLog(), nil), holder
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestHandleReady(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	s.MarkShuttingDown()
	w2 := httptest.NewRecorder()
	s.Router().ServeHTTP(w2, req)
	if w2.Code != http.StatusServiceUnavailable {
		t.Fatalf("status after shutdown = %d, want 503", w2.Code)
	}
}

func TestHandleReady_NoRuntime(t *testing.T) {
	s := NewServer(config.NewRuntimeHolder(nil), testLog(), nil)
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestHandleAsk_JSON(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/ask?query=spicy+tofu&site=example.com", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := out["complete"]; !ok {
		t.Fatalf("expected a complete frame in response, got %v", out)
	}
}

func TestHandleAsk_MissingQuery(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/ask", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleAsk_Streaming(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/ask?query=spicy+tofu&site=example.com", nil)
	req.Header.Set("Accept", "text/event-stream")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}
	if !strings.Contains(w.Body.String(), "data: ") {
		t.Fatalf("expected at least one SSE frame, got %q", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"complete"`) {
		t.Fatalf("expected a terminal complete frame, got %q", w.Body.String())
	}
}

func TestHandleAsk_NotReady(t *testing.T) {
	s := NewServer(config.NewRuntimeHolder(nil), testLog(), nil)
	req := httptest.NewRequest(http.MethodGet, "/ask?query=x", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestHandleSites(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/sites", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	sites, ok := out["sites"].([]any)
	if !ok || len(sites) != 1 || sites[0] != "example.com" {
		t.Fatalf("expected sites=[example.com] fallback, got %v", out["sites"])
	}
}

func TestHandleWho(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/who?query=spicy+tofu", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	sites, ok := out["sites"].([]any)
	if !ok || len(sites) != 1 {
		t.Fatalf("expected one ranked site, got %v", out["sites"])
	}
	entry, ok := sites[0].(map[string]any)
	if !ok || entry["site"] != "example.com" {
		t.Fatalf("expected site=example.com, got %v", sites[0])
	}
}

func TestHandleWho_MissingQuery(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
