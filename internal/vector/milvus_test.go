package vector

import (
	"context"
	"testing"
)

func TestNewMilvusBackend_RequiresCollection(t *testing.T) {
	_, err := NewMilvusBackend(context.Background(), MilvusConfig{Address: "localhost:19530"})
	if err == nil {
		t.Fatal("expected error for missing collection")
	}
}

func TestBuildSiteExpr(t *testing.T) {
	got := buildSiteExpr([]string{"a.com", "b.com"})
	want := `site in ["a.com","b.com"]`
	if got != want {
		t.Fatalf("buildSiteExpr = %q, want %q", got, want)
	}
}

func TestEscapeExpr(t *testing.T) {
	got := escapeExpr(`a"b`)
	want := `a\"b`
	if got != want {
		t.Fatalf("escapeExpr = %q, want %q", got, want)
	}
}

func TestStringAt_NilColumn(t *testing.T) {
	if got := stringAt(nil, 0); got != "" {
		t.Fatalf("stringAt(nil, 0) = %q, want empty", got)
	}
}
