package toolhandlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nlweb-go/gateway/internal/llm"
	"github.com/nlweb-go/gateway/internal/query"
)

const defaultEnsembleBudget = 12

var ensembleItemScoreSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"score": {"type": "integer"}},
	"required": ["score"]
}`)

var ensembleRecommendationSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"items": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"category": {"type": "string"},
					"name": {"type": "string"},
					"description": {"type": "string"},
					"why_recommended": {"type": "string"}
				}
			}
		}
	},
	"required": ["items"]
}`)

type ensembleRecommendedItem struct {
	Category       string `json:"category"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	WhyRecommended string `json:"why_recommended"`
	URL            string `json:"url,omitempty"`
	SchemaObject   string `json:"schema_object,omitempty"`
}

// Ensemble composes a multi-query recommendation, e.g. "give me a
// three-course meal".
var Ensemble HandlerFunc = func(ctx context.Context, hc *Context) error {
	subQueries := stringArrayArg(hc, "sub_queries")
	if len(subQueries) == 0 {
		subQueries = []string{hc.queryText()}
	}
	ensembleType := hc.argString("ensemble_type")
	n := len(subQueries)

	budget := defaultEnsembleBudget
	perQueryK := max(10, 60/n)
	perQueryBudget := budget / n
	if perQueryBudget < 1 {
		perQueryBudget = 1
	}

	selectedPerQuery := make([][]query.Item, n)
	var wg sync.WaitGroup
	for i, sub := range subQueries {
		i, sub := i, sub
		wg.Add(1)
		go func() {
			defer wg.Done()
			selectedPerQuery[i] = rankAndSelectSubQuery(ctx, hc, sub, perQueryK, perQueryBudget)
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	var pool []query.Item
	for _, items := range selectedPerQuery {
		for _, it := range items {
			key := ensembleIdentifier(it)
			if seen[key] {
				continue
			}
			seen[key] = true
			pool = append(pool, it)
		}
	}

	if len(pool) == 0 {
		return hc.Send(ctx, query.Message{
			Type:    query.MessageEnsembleResult,
			QueryID: hc.Request.QueryID,
			Payload: map[string]any{"found": false, "message": "no candidates found for any sub-query"},
		})
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Build a cohesive %q recommendation for: %q\n", ensembleType, hc.queryText())
	sb.WriteString("Candidate items:\n")
	for _, it := range pool {
		fmt.Fprintf(&sb, "- %s\n", it.SchemaJSON)
	}

	var rec struct {
		Items []ensembleRecommendedItem `json:"items"`
	}
	if err := hc.LLM.Ask(ctx, sb.String(), ensembleRecommendationSchema, llm.LevelHigh, &rec); err != nil {
		return fmt.Errorf("ensemble: recommendation prompt failed: %w", err)
	}

	reattachSourceObjects(rec.Items, pool)

	if hc.MarkQueryDone != nil {
		hc.MarkQueryDone()
	}

	return hc.Send(ctx, query.Message{
		Type:    query.MessageEnsembleResult,
		QueryID: hc.Request.QueryID,
		Payload: map[string]any{"ensemble_type": ensembleType, "items": rec.Items},
	})
}

func rankAndSelectSubQuery(ctx context.Context, hc *Context, subQuery string, k, budget int) []query.Item {
	vec, err := hc.embed(ctx, subQuery)
	if err != nil {
		hc.Log.Warn("ensemble: embed failed", "subQuery", subQuery, "error", err)
	}
	candidates, err := hc.Retriever.Search(ctx, vec, subQuery, hc.Request.Site, k)
	if err != nil {
		hc.Log.Warn("ensemble: sub-query retrieval failed", "subQuery", subQuery, "error", err)
		return nil
	}

	seen := make(map[string]bool)
	var deduped []query.Item
	for _, it := range candidates {
		key := ensembleIdentifier(it)
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, it)
	}

	type scored struct {
		item  query.Item
		score int
	}
	results := make([]scored, len(deduped))
	var wg sync.WaitGroup
	for i, item := range deduped {
		i, item := i, item
		wg.Add(1)
		go func() {
			defer wg.Done()
			prompt := fmt.Sprintf("Score how well this item fits the sub-query %q.\nItem: %s", subQuery, item.SchemaJSON)
			var out struct {
				Score int `json:"score"`
			}
			if err := hc.LLM.Ask(ctx, prompt, ensembleItemScoreSchema, llm.LevelLow, &out); err != nil {
				hc.Log.Warn("ensemble: item scoring failed", "url", item.URL, "error", err)
				return
			}
			results[i] = scored{item: item, score: out.Score}
		}()
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })
	if len(results) > budget {
		results = results[:budget]
	}
	out := make([]query.Item, 0, len(results))
	for _, r := range results {
		out = append(out, r.item)
	}
	return out
}

func reattachSourceObjects(items []ensembleRecommendedItem, pool []query.Item) {
	byURL := make(map[string]query.Item, len(pool))
	for _, it := range pool {
		byURL[it.URL] = it
	}
	for i := range items {
		if src, ok := byURL[items[i].URL]; ok {
			items[i].SchemaObject = src.SchemaJSON
			continue
		}
		for _, it := range pool {
			if strings.Contains(strings.ToLower(it.Name), strings.ToLower(items[i].Name)) {
				items[i].URL = it.URL
				items[i].SchemaObject = it.SchemaJSON
				break
			}
		}
	}
}

func ensembleIdentifier(it query.Item) string {
	if it.URL != "" {
		return it.URL
	}
	return it.Name
}

func stringArrayArg(hc *Context, name string) []string {
	if hc.ExtractedArgs == nil {
		return nil
	}
	raw, ok := hc.ExtractedArgs[name]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

