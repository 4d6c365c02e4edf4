package vector

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
)

func TestNewQdrantBackend_RequiresCollection(t *testing.T) {
	_, err := NewQdrantBackend(QdrantConfig{Host: "localhost", Port: 6334})
	if err == nil {
		t.Fatal("expected error for missing collection")
	}
}

func TestMatchKeyword(t *testing.T) {
	cond := matchKeyword("site", "example.com")
	field := cond.GetField()
	if field == nil || field.Key != "site" {
		t.Fatalf("expected field condition on key=site, got %v", cond)
	}
	if field.Match.GetKeyword() != "example.com" {
		t.Fatalf("expected keyword match example.com, got %v", field.Match)
	}
}

func TestSiteFilter(t *testing.T) {
	f := siteFilter([]string{"a.com", "b.com"})
	if len(f.Should) != 2 {
		t.Fatalf("expected one should-clause per site, got %d", len(f.Should))
	}
}

func TestPayloadToItem(t *testing.T) {
	urlVal, _ := qdrant.NewValue("https://example.com/a")
	payload := map[string]*qdrant.Value{"url": urlVal}
	item := payloadToItem(payload)
	if item.URL != "https://example.com/a" {
		t.Fatalf("item.URL = %q", item.URL)
	}
	if item.Name != "" {
		t.Fatalf("expected empty Name for a missing key, got %q", item.Name)
	}
}
