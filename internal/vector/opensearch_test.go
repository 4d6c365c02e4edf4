package vector

import (
	"strings"
	"testing"
)

func TestNewOpenSearchBackend_RequiresIndex(t *testing.T) {
	if _, err := NewOpenSearchBackend(OpenSearchConfig{Addresses: []string{"http://localhost:9200"}}); err == nil {
		t.Fatal("expected error for missing index")
	}
}

func TestKNNQueryBody_SiteFilter(t *testing.T) {
	body := knnQueryBody([]float32{0.1, 0.2}, []string{"example.com"}, 5)
	if !strings.Contains(body, `"filter"`) {
		t.Fatalf("expected a site filter clause, got %s", body)
	}
	if !strings.Contains(body, `"example.com"`) {
		t.Fatalf("expected the site name in the filter, got %s", body)
	}
}

func TestKNNQueryBody_AllSitesOmitsFilter(t *testing.T) {
	body := knnQueryBody([]float32{0.1}, nil, 5)
	if strings.Contains(body, `"filter"`) {
		t.Fatalf("expected no filter when no sites are given, got %s", body)
	}
	body = knnQueryBody([]float32{0.1}, []string{"all"}, 5)
	if strings.Contains(body, `"filter"`) {
		t.Fatalf(`expected no filter for the sentinel site "all", got %s`, body)
	}
}

func TestParseSearchHits(t *testing.T) {
	raw := `{"hits":{"hits":[{"_source":{"url":"https://example.com/a","name":"A","site":"example.com","schema_json":"{}"}}]}}`
	items, err := parseSearchHits(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("parseSearchHits: %v", err)
	}
	if len(items) != 1 || items[0].URL != "https://example.com/a" {
		t.Fatalf("items = %v", items)
	}
}

func TestParseSearchHits_Empty(t *testing.T) {
	items, err := parseSearchHits(strings.NewReader(`{"hits":{"hits":[]}}`))
	if err != nil {
		t.Fatalf("parseSearchHits: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("items = %v, want empty", items)
	}
}
