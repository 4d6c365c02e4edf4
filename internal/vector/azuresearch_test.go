package vector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nlweb-go/gateway/internal/query"
)

func newAzureTestServer(t *testing.T, handler http.HandlerFunc) *AzureSearchBackend {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	b, err := NewAzureSearchBackend(AzureSearchConfig{Endpoint: ts.URL, APIKey: "secret", Index: "docs"})
	if err != nil {
		t.Fatalf("NewAzureSearchBackend: %v", err)
	}
	return b
}

func TestNewAzureSearchBackend_RequiresEndpointAndIndex(t *testing.T) {
	if _, err := NewAzureSearchBackend(AzureSearchConfig{Index: "docs"}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
	if _, err := NewAzureSearchBackend(AzureSearchConfig{Endpoint: "https://example"}); err == nil {
		t.Fatal("expected error for missing index")
	}
}

func TestAzureSearchBackend_Search(t *testing.T) {
	var gotPath string
	var gotAPIKey string
	b := newAzureTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("api-key")
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["filter"] == nil {
			t.Errorf("expected a filter for site-scoped search")
		}
		resp := azureSearchResponse{Value: []azureSearchDoc{
			{URL: "https://example.com/a", Name: "A", Site: "example.com", SchemaJSON: `{}`},
		}}
		json.NewEncoder(w).Encode(resp)
	})

	items, err := b.Search(context.Background(), []float32{0.1, 0.2}, "tofu", []string{"example.com"}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotPath != "/indexes/docs/docs/search" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAPIKey != "secret" {
		t.Fatalf("api-key header = %q, want secret", gotAPIKey)
	}
	if len(items) != 1 || items[0].URL != "https://example.com/a" {
		t.Fatalf("items = %v", items)
	}
}

func TestAzureSearchBackend_Search_AllSitesOmitsFilter(t *testing.T) {
	b := newAzureTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["filter"] != nil {
			t.Errorf("expected no filter when searching all sites, got %v", payload["filter"])
		}
		json.NewEncoder(w).Encode(azureSearchResponse{})
	})
	if _, err := b.SearchAllSites(context.Background(), []float32{0.1}, "tofu", 5); err != nil {
		t.Fatalf("SearchAllSites: %v", err)
	}
}

func TestAzureSearchBackend_SearchByURL_NotFound(t *testing.T) {
	b := newAzureTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(azureSearchResponse{})
	})
	_, ok, err := b.SearchByURL(context.Background(), "https://example.com/missing")
	if err != nil {
		t.Fatalf("SearchByURL: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for an absent URL")
	}
}

func TestAzureSearchBackend_Upload(t *testing.T) {
	var gotAction string
	b := newAzureTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		docs := payload["value"].([]any)
		if len(docs) != 1 {
			t.Fatalf("expected 1 doc, got %d", len(docs))
		}
		gotAction = docs[0].(map[string]any)["@search.action"].(string)
		json.NewEncoder(w).Encode(json.RawMessage(`{}`))
	})
	err := b.Upload(context.Background(), []query.Item{{URL: "https://example.com/a", Name: "A"}})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if gotAction != "mergeOrUpload" {
		t.Fatalf("action = %q, want mergeOrUpload", gotAction)
	}
}

func TestAzureSearchBackend_DeleteBySite_NoDocs(t *testing.T) {
	calls := 0
	b := newAzureTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(azureSearchResponse{})
	})
	if err := b.DeleteBySite(context.Background(), "example.com"); err != nil {
		t.Fatalf("DeleteBySite: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected only the site lookup call when there are no docs to delete, got %d calls", calls)
	}
}

func TestAzureSearchBackend_ErrorStatus(t *testing.T) {
	b := newAzureTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	})
	if _, err := b.Search(context.Background(), []float32{0.1}, "tofu", nil, 5); err == nil {
		t.Fatal("expected an error for a non-2xx response")
	}
}

func TestEscapeODataLiteral(t *testing.T) {
	got := escapeODataLiteral("O'Brien")
	want := "O''Brien"
	if got != want {
		t.Fatalf("escapeODataLiteral = %q, want %q", got, want)
	}
}

func TestSiteFilterExpr(t *testing.T) {
	got := siteFilterExpr([]string{"a.com", "b.com"})
	want := "site eq 'a.com' or site eq 'b.com'"
	if got != want {
		t.Fatalf("siteFilterExpr = %q, want %q", got, want)
	}
}
