// Package toolrouter implements the tool-selection algorithm: score every
// candidate tool for the inferred schema type in parallel, apply a
// threshold, and fall back to plain search.
package toolrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/nlweb-go/gateway/internal/llm"
	"github.com/nlweb-go/gateway/internal/query"
	"github.com/nlweb-go/gateway/internal/toolcatalog"
)

// DefaultMinScore is MIN_TOOL_SCORE_THRESHOLD in the original router.
const DefaultMinScore = 70

// MaxCandidates bounds the tool_selection message to the top 3 candidates.
const MaxCandidates = 3

const searchToolName = "search"

// Router scores a schema type's candidate tools against a query.
type Router struct {
	catalog  *toolcatalog.Catalog
	client   llm.Client
	minScore int
	log      *slog.Logger
}

// New returns a Router with the given score threshold (0 selects
// DefaultMinScore).
func New(catalog *toolcatalog.Catalog, client llm.Client, minScore int, log *slog.Logger) *Router {
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	if log == nil {
		log = slog.Default()
	}
	return &Router{catalog: catalog, client: client, minScore: minScore, log: log}
}

// Result is the full outcome of one Select call: the ranked candidates to
// publish in the tool_selection message, and whether the fast-track branch
// should be aborted because a non-search tool won.
type Result struct {
	Candidates     []query.ToolCandidate
	SelectedTool   toolcatalog.Tool
	HasSelection   bool
	AbortFastTrack bool
}

// Select gathers schemaType's candidate tools (including inherited Thing
// tools), scores them concurrently, and applies the threshold and
// search-fallback rules.
func (r *Router) Select(ctx context.Context, decontextualizedQuery, schemaType string) (Result, error) {
	tools := r.catalog.ToolsForType(schemaType)
	if len(tools) == 0 {
		return Result{}, nil
	}

	type scored struct {
		tool   toolcatalog.Tool
		score  int
		result json.RawMessage
	}

	results := make([]scored, len(tools))
	var wg sync.WaitGroup
	for i, tool := range tools {
		i, tool := i, tool
		wg.Add(1)
		go func() {
			defer wg.Done()
			score, raw := r.evaluate(ctx, decontextualizedQuery, tool)
			results[i] = scored{tool: tool, score: score, result: raw}
		}()
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })

	passing := make([]scored, 0, len(results))
	for _, sr := range results {
		if sr.score >= r.minScore {
			passing = append(passing, sr)
		}
	}

	if len(passing) == 0 {
		for _, sr := range results {
			if sr.tool.Name == searchToolName {
				passing = []scored{{tool: sr.tool, score: 0, result: json.RawMessage(`{"score":0,"justification":"Default fallback - no tools met threshold"}`)}}
				break
			}
		}
	}

	if len(passing) > MaxCandidates {
		passing = passing[:MaxCandidates]
	}

	out := Result{}
	for _, sr := range passing {
		out.Candidates = append(out.Candidates, query.ToolCandidate{
			Tool:          sr.tool.Name,
			Score:         sr.score,
			ExtractedArgs: extractedArgs(sr.result),
		})
	}
	if len(passing) > 0 {
		out.SelectedTool = passing[0].tool
		out.HasSelection = true
		out.AbortFastTrack = passing[0].tool.Name != searchToolName
	}
	return out, nil
}

func (r *Router) evaluate(ctx context.Context, q string, tool toolcatalog.Tool) (int, json.RawMessage) {
	if tool.Prompt == "" {
		return 0, json.RawMessage(`{"score":0,"justification":"No prompt defined"}`)
	}

	prompt := fillPrompt(tool.Prompt, q)
	schema := tool.ReturnStructure
	if schema == nil {
		schema = json.RawMessage(`{"type":"object","properties":{"score":{"type":"integer"}}}`)
	}

	var out map[string]any
	if err := r.client.Ask(ctx, prompt, schema, llm.LevelHigh, &out); err != nil {
		r.log.Warn("toolrouter: evaluation failed", "tool", tool.Name, "error", err)
		return 0, json.RawMessage(`{"score":0,"justification":"No response from LLM"}`)
	}

	score := 0
	if s, ok := out["score"]; ok {
		switch v := s.(type) {
		case float64:
			score = int(v)
		case int:
			score = v
		}
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	raw, err := json.Marshal(out)
	if err != nil {
		raw = json.RawMessage(fmt.Sprintf(`{"score":%d}`, score))
	}
	return score, raw
}

// fillPrompt substitutes the query into a tool's declared prompt template.
// The original fills additional handler context (site, prior answers,
// memory); this keeps the query substitution and leaves room for callers
// to prepend further context before invoking Select.
func fillPrompt(template, q string) string {
	return strings.ReplaceAll(template, "{query}", q) + "\n\nQuery: " + q
}

func extractedArgs(raw json.RawMessage) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	delete(m, "score")
	if len(m) == 0 {
		return nil
	}
	return m
}
