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
	itemDetailsCandidateK  = 10
	itemDetailsHighScore   = 75
	itemDetailsFloorScore  = 60
)

var itemDetailsSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"match_score": {"type": "integer"},
		"details": {"type": "object"}
	},
	"required": ["match_score"]
}`)

// ItemDetails answers "what is the rating of X?"-shaped queries: retrieve
// candidates matching the item name, score each for both match
// confidence and extracted detail, and emit the best one.
var ItemDetails HandlerFunc = func(ctx context.Context, hc *Context) error {
	itemName := hc.argString("item_name")
	if itemName == "" {
		itemName = hc.queryText()
	}

	vec, err := hc.embed(ctx, itemName)
	if err != nil {
		hc.Log.Warn("item_details: embed failed", "error", err)
	}
	candidates, err := hc.Retriever.Search(ctx, vec, itemName, hc.Request.Site, itemDetailsCandidateK)
	if err != nil {
		return fmt.Errorf("item_details: retrieval failed: %w", err)
	}
	if len(candidates) == 0 {
		return hc.Send(ctx, noItemsFoundMessage(hc))
	}

	type scored struct {
		item    query.Item
		score   int
		details json.RawMessage
	}
	results := make([]scored, len(candidates))
	var wg sync.WaitGroup
	for i, item := range candidates {
		i, item := i, item
		wg.Add(1)
		go func() {
			defer wg.Done()
			prompt := fmt.Sprintf("Does this item match %q, and what are the requested details?\nItem: %s\nQuery: %s", itemName, item.SchemaJSON, hc.queryText())
			var out struct {
				MatchScore int             `json:"match_score"`
				Details    json.RawMessage `json:"details"`
			}
			if err := hc.LLM.Ask(ctx, prompt, itemDetailsSchema, llm.LevelHigh, &out); err != nil {
				hc.Log.Warn("item_details: scoring failed", "url", item.URL, "error", err)
				return
			}
			results[i] = scored{item: item, score: out.MatchScore, details: out.Details}
		}()
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })
	best := results[0]

	if best.score < itemDetailsFloorScore {
		return hc.Send(ctx, noItemsFoundMessage(hc))
	}
	highConfidence := best.score >= itemDetailsHighScore

	answer := &query.Answer{
		URL:          best.item.URL,
		Site:         best.item.Site,
		Name:         best.item.Name,
		SchemaObject: best.item.SchemaJSON,
		Ranking:      query.Ranking{Score: best.score},
	}
	hc.Answers.Append(answer)
	if !hc.Answers.TryMarkSent(answer) {
		return nil
	}

	return hc.Send(ctx, query.Message{
		Type:    query.MessageItemDetails,
		QueryID: hc.Request.QueryID,
		Payload: map[string]any{
			"item":            best.item,
			"details":         best.details,
			"high_confidence": highConfidence,
		},
	})
}

func noItemsFoundMessage(hc *Context) query.Message {
	return query.Message{
		Type:    query.MessageItemDetails,
		QueryID: hc.Request.QueryID,
		Payload: map[string]any{"found": false, "message": "no items found"},
	}
}
