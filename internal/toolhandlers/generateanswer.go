package toolhandlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nlweb-go/gateway/internal/llm"
	"github.com/nlweb-go/gateway/internal/query"
	"github.com/nlweb-go/gateway/internal/ranking"
)

const generateAnswerK = 50

var generateAnswerTrack = ranking.Track{Name: "generate", Threshold: 51}

var synthesisSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"answer": {"type": "string"},
		"urls": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["answer"]
}`)

type enrichedItem struct {
	URL          string `json:"url"`
	Name         string `json:"name"`
	Site         string `json:"site"`
	SchemaObject string `json:"schema_object"`
	Description  string `json:"description"`
}

// GenerateAnswer is the RAG path: retrieve, rank, synthesise a prose
// answer over the gathered set, then enrich each cited URL with a
// per-item description.
var GenerateAnswer HandlerFunc = func(ctx context.Context, hc *Context) error {
	q := hc.queryText()

	var answers []*query.Answer
	if hc.Gathered != nil {
		answers = hc.Gathered
	} else {
		vec, err := hc.embed(ctx, q)
		if err != nil {
			hc.Log.Warn("generate_answer: embed failed", "error", err)
		}
		items, err := hc.Retriever.Search(ctx, vec, q, hc.Request.Site, generateAnswerK)
		if err != nil {
			return fmt.Errorf("generate_answer: retrieval failed: %w", err)
		}

		// Gather into a local answer set: the synthesis pool is this
		// retrieval's candidates above the gathering threshold, not
		// whatever else has already accumulated in the request-wide
		// answer set.
		gathered := query.NewAnswerSet()
		noop := func(context.Context, []*query.Answer) error { return nil }
		ranked, err := hc.Ranker.Rank(ctx, ranking.Options{
			Items:     items,
			Query:     q,
			Track:     generateAnswerTrack,
			Streaming: false,
			Answers:   gathered,
			Send:      noop,
		})
		if err != nil {
			return fmt.Errorf("generate_answer: ranking failed: %w", err)
		}
		answers = ranked
		for _, a := range answers {
			hc.Answers.Append(a)
		}
	}
	if len(answers) == 0 {
		return hc.Send(ctx, query.Message{
			Type:    query.MessageNLWS,
			QueryID: hc.Request.QueryID,
			Payload: map[string]any{"answer": "No relevant information was found.", "items": []enrichedItem{}},
		})
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Synthesise an answer to %q from these sources.\n", q)
	byURL := make(map[string]*query.Answer, len(answers))
	for _, a := range answers {
		byURL[a.URL] = a
		fmt.Fprintf(&sb, "- (%s) %s\n", a.URL, a.SchemaObject)
	}

	var synth struct {
		Answer string   `json:"answer"`
		URLs   []string `json:"urls"`
	}
	if err := hc.LLM.Ask(ctx, sb.String(), synthesisSchema, llm.LevelHigh, &synth); err != nil {
		return fmt.Errorf("generate_answer: synthesis prompt failed: %w", err)
	}

	cited := synth.URLs
	if len(cited) == 0 {
		for url := range byURL {
			cited = append(cited, url)
		}
	}

	// Only cited URLs that resolved to a retrieved item are enriched and
	// sent; an LLM-hallucinated URL is dropped rather than shipped as a
	// blank item.
	matched := make([]*query.Answer, 0, len(cited))
	for _, url := range cited {
		if a, ok := byURL[url]; ok {
			matched = append(matched, a)
		}
	}

	enriched := make([]enrichedItem, len(matched))
	var wg sync.WaitGroup
	for i, a := range matched {
		i, a := i, a
		wg.Add(1)
		go func() {
			defer wg.Done()
			enriched[i] = enrichOne(ctx, hc, a)
		}()
	}
	wg.Wait()

	return hc.Send(ctx, query.Message{
		Type:    query.MessageNLWS,
		QueryID: hc.Request.QueryID,
		Payload: map[string]any{"answer": synth.Answer, "items": enriched},
	})
}

var itemDescriptionSchema = json.RawMessage(`{"type":"object","properties":{"description":{"type":"string"}}}`)

func enrichOne(ctx context.Context, hc *Context, a *query.Answer) enrichedItem {
	prompt := fmt.Sprintf("Write a one-sentence description of this item in the context of the answer.\nItem: %s", a.SchemaObject)
	var out struct {
		Description string `json:"description"`
	}
	if err := hc.LLM.Ask(ctx, prompt, itemDescriptionSchema, llm.LevelLow, &out); err != nil {
		hc.Log.Warn("generate_answer: enrichment failed", "url", a.URL, "error", err)
	}
	return enrichedItem{
		URL:          a.URL,
		Name:         a.Name,
		Site:         a.Site,
		SchemaObject: a.SchemaObject,
		Description:  out.Description,
	}
}
