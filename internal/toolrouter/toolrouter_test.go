package toolrouter

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nlweb-go/gateway/internal/llm"
	"github.com/nlweb-go/gateway/internal/toolcatalog"
)

const testCatalog = `<?xml version="1.0"?>
<ToolCatalog>
  <Thing>
    <Tool name="search">
      <prompt>Score general search relevance.</prompt>
      <returnStruc>{"type":"object","properties":{"score":{"type":"integer"}}}</returnStruc>
    </Tool>
  </Thing>
  <Movie>
    <Tool name="compare_items">
      <prompt>Score whether this is a compare query.</prompt>
      <returnStruc>{"type":"object","properties":{"score":{"type":"integer"}}}</returnStruc>
    </Tool>
  </Movie>
</ToolCatalog>`

func loadTestCatalog(t *testing.T) *toolcatalog.Catalog {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.xml")
	if err := os.WriteFile(path, []byte(testCatalog), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	cat, err := toolcatalog.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cat
}

type scriptedClient struct {
	scoreFor map[string]int
}

func (c *scriptedClient) Ask(ctx context.Context, prompt string, schema json.RawMessage, level llm.Level, out any) error {
	dst := out.(*map[string]any)
	score := 0
	for name, s := range c.scoreFor {
		if strings.Contains(prompt, name) {
			score = s
		}
	}
	*dst = map[string]any{"score": float64(score)}
	return nil
}

func TestSelect_PicksHighestScoringToolAndAbortsFastTrack(t *testing.T) {
	cat := loadTestCatalog(t)
	client := &scriptedClient{scoreFor: map[string]int{"compare query": 90, "search relevance": 40}}
	r := New(cat, client, 70, nil)

	res, err := r.Select(context.Background(), "compare Dune and Foundation", "Movie")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if !res.HasSelection || res.SelectedTool.Name != "compare_items" {
		t.Fatalf("expected compare_items to be selected, got %+v", res)
	}
	if !res.AbortFastTrack {
		t.Fatalf("expected abortFastTrack to be set when a non-search tool wins")
	}
}

func TestSelect_FallsBackToSearchWhenNothingPasses(t *testing.T) {
	cat := loadTestCatalog(t)
	client := &scriptedClient{scoreFor: map[string]int{"compare query": 20, "search relevance": 30}}
	r := New(cat, client, 70, nil)

	res, err := r.Select(context.Background(), "compare Dune and Foundation", "Movie")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if !res.HasSelection || res.SelectedTool.Name != "search" {
		t.Fatalf("expected fallback to search, got %+v", res)
	}
	if res.Candidates[0].Score != 0 {
		t.Fatalf("expected synthetic zero score on fallback, got %d", res.Candidates[0].Score)
	}
	if res.AbortFastTrack {
		t.Fatalf("fallback to search must not abort fast-track")
	}
}

func TestSelect_UnlistedTypeFallsBackToInheritedSearch(t *testing.T) {
	cat := loadTestCatalog(t)
	client := &scriptedClient{scoreFor: map[string]int{}}
	r := New(cat, client, 70, nil)

	res, err := r.Select(context.Background(), "anything", "Unlisted")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if !res.HasSelection {
		t.Fatalf("expected the inherited Thing search tool to still be available as fallback")
	}
}
