// Package ranking implements the per-item LLM scoring engine shared by
// every tool handler and the fast-track branch.
package ranking

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
)

// Track names the score threshold a ranking pass uses: REGULAR (~51) and
// FAST (~55-70, mode dependent).
type Track struct {
	Name      string
	Threshold int
}

var (
	// Regular is the default threshold used by the Search handler.
	Regular = Track{Name: "regular", Threshold: 51}

	// Fast is the default fast-track threshold; callers may construct a
	// narrower Track{Threshold: n} in the 55-70 range for stricter modes.
	Fast = Track{Name: "fast", Threshold: 55}
)

const (
	defaultFloor          = 2
	defaultThresholdDelta = 10
)

var rankingResponseSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"score": {"type": "integer"},
		"description": {"type": "string"}
	},
	"required": ["score"]
}`)

type scoredItem struct {
	item  query.Item
	desc  string
	score int
}

// SendFunc emits the given answers. The implementations in this module
// (toolhandlers' sendBatch and the pipeline's fast-track sender) send each
// answer as its own result_batch message, so a non-streaming batch reaches
// the client as several messages, not one; both go through the pipeline's
// send, which serialises concurrent calls with a single mutex.
type SendFunc func(ctx context.Context, answers []*query.Answer) error

// Options configures a single ranking pass.
type Options struct {
	Items     []query.Item
	Query     string
	Track     Track
	Streaming bool

	// AbortFastTrack, when closed, means no further emissions should occur
	// from this ranking instance.
	AbortFastTrack <-chan struct{}

	Answers *query.AnswerSet
	Send    SendFunc

	// NumWorkers bounds scoring concurrency; 10-50 is a reasonable range.
	NumWorkers int

	// Floor is the minimum number of good answers a streaming pass tries
	// to emit before falling back to a lowered threshold.
	Floor int

	// ThresholdDelta is how much the effective threshold drops on fallback.
	ThresholdDelta int

	Level llm.Level
}

// Engine scores retrieved items against the decontextualised query using a
// bounded worker pool.
type Engine struct {
	llm llm.Client
	log *slog.Logger
}

// NewEngine returns a ranking Engine backed by the given LLM client.
func NewEngine(client llm.Client, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{llm: client, log: log}
}

// Rank scores every item in opts.Items concurrently, appends good answers
// (score >= opts.Track.Threshold) to opts.Answers, and streams them via
// opts.Send as they complete if opts.Streaming is set. In non-streaming
// mode the good answers are passed to opts.Send in one call at the end,
// highest score first. In streaming mode, if fewer than opts.Floor answers
// were sent, a threshold lowered by opts.ThresholdDelta is applied to the
// remaining items (see emitFallback).
func (e *Engine) Rank(ctx context.Context, opts Options) ([]*query.Answer, error) {
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 10
	}
	if opts.Floor <= 0 {
		opts.Floor = defaultFloor
	}
	if opts.ThresholdDelta <= 0 {
		opts.ThresholdDelta = defaultThresholdDelta
	}
	if opts.Level == "" {
		opts.Level = llm.LevelLow
	}

	sem := make(chan struct{}, opts.NumWorkers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	all := make([]scoredItem, 0, len(opts.Items))

	for _, item := range opts.Items {
		item := item
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			si, err := e.scoreOne(ctx, item, opts.Query, opts.Level)
			if err != nil {
				e.log.Warn("ranking: item scoring failed", "url", item.URL, "error", err)
				return
			}

			mu.Lock()
			all = append(all, si)
			mu.Unlock()

			if si.score < opts.Track.Threshold {
				return
			}

			answer := &query.Answer{
				URL:          item.URL,
				Site:         item.Site,
				Name:         item.Name,
				SchemaObject: item.SchemaJSON,
				Ranking:      query.Ranking{Score: si.score, Description: si.desc},
			}
			opts.Answers.Append(answer)

			if !opts.Streaming || aborted(opts.AbortFastTrack) {
				return
			}
			if opts.Answers.TryMarkSent(answer) {
				if err := opts.Send(ctx, []*query.Answer{answer}); err != nil {
					e.log.Warn("ranking: send failed", "url", item.URL, "error", err)
				}
			}
		}()
	}
	wg.Wait()

	if aborted(opts.AbortFastTrack) {
		return opts.Answers.All(), nil
	}

	if !opts.Streaming {
		e.emitNonStreamingBatch(ctx, opts)
	} else if opts.Answers.CountSent() < opts.Floor {
		e.emitFallback(ctx, opts, all)
	}

	return opts.Answers.All(), nil
}

func (e *Engine) scoreOne(ctx context.Context, item query.Item, q string, level llm.Level) (scoredItem, error) {
	prompt := buildRankingPrompt(item, q)
	var out struct {
		Score       int    `json:"score"`
		Description string `json:"description"`
	}
	if err := e.llm.Ask(ctx, prompt, rankingResponseSchema, level, &out); err != nil {
		return scoredItem{}, fmt.Errorf("ranking prompt failed: %w", err)
	}
	if out.Score < 0 {
		out.Score = 0
	}
	if out.Score > 100 {
		out.Score = 100
	}
	return scoredItem{item: item, score: out.Score, desc: out.Description}, nil
}

func buildRankingPrompt(item query.Item, q string) string {
	var sb strings.Builder
	sb.WriteString("Score how well this item answers the query, from 0 to 100.\n")
	fmt.Fprintf(&sb, "Query: %s\n", q)
	fmt.Fprintf(&sb, "Item: %s\n", item.SchemaJSON)
	return sb.String()
}

func (e *Engine) emitNonStreamingBatch(ctx context.Context, opts Options) {
	unsent := opts.Answers.Unsent()
	sort.Slice(unsent, func(i, j int) bool { return unsent[i].Ranking.Score > unsent[j].Ranking.Score })
	if len(unsent) == 0 {
		return
	}
	batch := make([]*query.Answer, 0, len(unsent))
	for _, a := range unsent {
		if opts.Answers.TryMarkSent(a) {
			batch = append(batch, a)
		}
	}
	if len(batch) == 0 {
		return
	}
	if err := opts.Send(ctx, batch); err != nil {
		e.log.Warn("ranking: non-streaming batch send failed", "error", err)
	}
}

// emitFallback lowers the effective threshold and re-emits previously
// sub-threshold items up to opts.Floor: if streaming was on but fewer
// than opts.Floor answers were emitted, it lowers the effective
// threshold by opts.ThresholdDelta and re-emits top results up to the
// floor.
func (e *Engine) emitFallback(ctx context.Context, opts Options, all []scoredItem) {
	needed := opts.Floor - opts.Answers.CountSent()
	if needed <= 0 {
		return
	}
	loweredThreshold := opts.Track.Threshold - opts.ThresholdDelta

	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })

	var batch []*query.Answer
	for _, si := range all {
		if len(batch) >= needed {
			break
		}
		if si.score < loweredThreshold || si.score >= opts.Track.Threshold {
			continue // already handled at the original threshold, or still too low
		}
		answer := &query.Answer{
			URL:          si.item.URL,
			Site:         si.item.Site,
			Name:         si.item.Name,
			SchemaObject: si.item.SchemaJSON,
			Ranking:      query.Ranking{Score: si.score, Description: si.desc},
		}
		opts.Answers.Append(answer)
		if opts.Answers.TryMarkSent(answer) {
			batch = append(batch, answer)
		}
	}
	if len(batch) == 0 {
		return
	}
	if err := opts.Send(ctx, batch); err != nil {
		e.log.Warn("ranking: fallback batch send failed", "error", err)
	}
}

func aborted(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
