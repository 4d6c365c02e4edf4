package toolhandlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/nlweb-go/gateway/internal/llm"
	"github.com/nlweb-go/gateway/internal/query"
)

const (
	compareItemsCandidateK = 10
	compareItemsThreshold  = 75
)

var matchScoreSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"match_score": {"type": "integer"}},
	"required": ["match_score"]
}`)

var compareResultSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"comparison": {"type": "string"},
		"winner": {"type": "string"}
	}
}`)

// CompareItems resolves two item names to their best-matching objects in
// parallel, then asks the LLM to compare them.
var CompareItems HandlerFunc = func(ctx context.Context, hc *Context) error {
	name1 := hc.argString("item1")
	name2 := hc.argString("item2")
	if name1 == "" || name2 == "" {
		return fmt.Errorf("compare_items: missing item1/item2 in extracted arguments")
	}

	var item1, item2 query.Item
	var err1, err2 error
	var found1, found2 bool
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		item1, found1, err1 = resolveBestMatch(ctx, hc, name1)
	}()
	go func() {
		defer wg.Done()
		item2, found2, err2 = resolveBestMatch(ctx, hc, name2)
	}()
	wg.Wait()

	if err1 != nil {
		return fmt.Errorf("compare_items: resolving %q failed: %w", name1, err1)
	}
	if err2 != nil {
		return fmt.Errorf("compare_items: resolving %q failed: %w", name2, err2)
	}
	if !found1 || !found2 {
		return hc.Send(ctx, query.Message{
			Type:    query.MessageCompareItems,
			QueryID: hc.Request.QueryID,
			Payload: map[string]any{"found": false, "message": "could not resolve both items"},
		})
	}

	prompt := fmt.Sprintf("Compare these two items for the query %q.\nItem 1: %s\nItem 2: %s", hc.queryText(), item1.SchemaJSON, item2.SchemaJSON)
	var comparison json.RawMessage
	if err := hc.LLM.Ask(ctx, prompt, compareResultSchema, llm.LevelHigh, &comparison); err != nil {
		return fmt.Errorf("compare_items: comparison prompt failed: %w", err)
	}

	return hc.Send(ctx, query.Message{
		Type:    query.MessageCompareItems,
		QueryID: hc.Request.QueryID,
		Payload: map[string]any{
			"item1":      item1,
			"item2":      item2,
			"comparison": comparison,
		},
	})
}

// resolveBestMatch retrieves candidates for name and returns the one
// scoring highest against a match-confidence prompt, used by both
// CompareItems and (conceptually) ItemDetails' candidate-then-score shape.
func resolveBestMatch(ctx context.Context, hc *Context, name string) (query.Item, bool, error) {
	vec, err := hc.embed(ctx, name)
	if err != nil {
		hc.Log.Warn("resolveBestMatch: embed failed", "error", err)
	}
	candidates, err := hc.Retriever.Search(ctx, vec, name, hc.Request.Site, compareItemsCandidateK)
	if err != nil {
		return query.Item{}, false, err
	}
	if len(candidates) == 0 {
		return query.Item{}, false, nil
	}

	type scored struct {
		item  query.Item
		score int
	}
	results := make([]scored, len(candidates))
	var wg sync.WaitGroup
	for i, item := range candidates {
		i, item := i, item
		wg.Add(1)
		go func() {
			defer wg.Done()
			prompt := fmt.Sprintf("Does this item match %q?\nItem: %s", name, item.SchemaJSON)
			var out struct {
				MatchScore int `json:"match_score"`
			}
			if err := hc.LLM.Ask(ctx, prompt, matchScoreSchema, llm.LevelHigh, &out); err != nil {
				hc.Log.Warn("resolveBestMatch: scoring failed", "url", item.URL, "error", err)
				return
			}
			results[i] = scored{item: item, score: out.MatchScore}
		}()
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })
	best := results[0]
	if best.score < compareItemsThreshold {
		return query.Item{}, false, nil
	}
	return best.item, true, nil
}
