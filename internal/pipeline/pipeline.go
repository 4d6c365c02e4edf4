// Package pipeline implements the Query Handler: the per-request
// orchestrator that runs pre-checks, the fast-track retrieval branch,
// tool routing, the selected tool handler, and post-ranking, all behind
// a single serialised Send operation.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nlweb-go/gateway/internal/embedder"
	"github.com/nlweb-go/gateway/internal/gwerrors"
	"github.com/nlweb-go/gateway/internal/llm"
	"github.com/nlweb-go/gateway/internal/query"
	"github.com/nlweb-go/gateway/internal/ranking"
	"github.com/nlweb-go/gateway/internal/retriever"
	"github.com/nlweb-go/gateway/internal/telemetry"
	"github.com/nlweb-go/gateway/internal/toolhandlers"
	"github.com/nlweb-go/gateway/internal/toolrouter"
)

// Sender delivers one message to the caller's transport (SSE frame, or a
// no-op collector for non-streaming JSON responses, which instead reads
// the returned ReturnValue once Run completes).
type Sender func(ctx context.Context, msg query.Message) error

// fastTrackDecontextWait bounds how long the fast-track branch waits for
// decontextualisation before falling back to the raw query.
const fastTrackDecontextWait = 200 * time.Millisecond

const defaultSearchToolName = "search"

// fastTrackSearchK is how many candidates the fast-track branch asks the
// retriever for before ranking.
const fastTrackSearchK = 50

// Handler is the process-wide Query Handler: one instance is shared by
// every request, holding only read-only or internally-synchronised
// collaborators. Per-request mutable state lives in requestState.
type Handler struct {
	Retriever *retriever.UnifiedRetriever
	Ranker    *ranking.Engine
	Embedder  embedder.Client
	LLM       *llm.Registry
	Tools     *toolrouter.Router
	Templates *toolhandlers.TemplateCatalogue
	DCIDMap   toolhandlers.DCIDMap
	Log       *slog.Logger
	Telemetry *telemetry.Recorder

	ToolSelectionEnabled   bool
	DecontextualizeEnabled bool
	RequiredInfoEnabled    bool
	MemoryEnabled          bool

	// RequiredInfoPrompts maps a site name to the scoring prompt used by
	// the RequiredInfo gate; a site with no entry is never gated.
	RequiredInfoPrompts map[string]string

	APIVersion      string
	ResponseHeaders map[string]string
	APIKeyNames     []string
}

// New constructs a Handler with a non-nil logger.
func New(h Handler) *Handler {
	if h.Log == nil {
		h.Log = slog.Default()
	}
	if h.APIVersion == "" {
		h.APIVersion = "1.0"
	}
	return &h
}

// requestState bundles everything scoped to a single Run call: the
// events, mutexes, and send machinery for the request.
type requestState struct {
	h   *Handler
	req *query.Request

	state   *query.State
	answers *query.AnswerSet
	rv      *query.ReturnValue

	preChecksDone  *query.Event
	decontextDone  *query.Event
	itemTypeDone   *query.Event
	retrievalDone  *query.Event
	abortFastTrack *query.Event

	connectionAlive atomic.Bool

	sendMu      sync.Mutex
	headersSent bool
	out         Sender

	fastTrackWorked atomic.Bool
	queryDone       atomic.Bool
}

// Run is the Query Handler's entry point.
func (h *Handler) Run(ctx context.Context, req *query.Request, out Sender) (*query.ReturnValue, error) {
	h.Telemetry.IncActiveRequests()
	defer h.Telemetry.DecActiveRequests()

	rs := &requestState{
		h:              h,
		req:            req,
		state:          query.NewState(req.Query, ""),
		answers:        query.NewAnswerSet(),
		rv:             query.NewReturnValue(),
		preChecksDone:  query.NewEvent(false),
		decontextDone:  query.NewEvent(false),
		itemTypeDone:   query.NewEvent(false),
		retrievalDone:  query.NewEvent(false),
		abortFastTrack: query.NewEvent(false),
		out:            out,
	}
	rs.connectionAlive.Store(true)
	if req.DecontextualizedQuery != "" {
		rs.state.SetDecontextualizedQuery(req.DecontextualizedQuery)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.runPreChecks(ctx, rs)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.runFastTrack(ctx, rs)
	}()

	select {
	case <-rs.preChecksDone.Done():
	case <-ctx.Done():
		return rs.rv, ctx.Err()
	}

	if rs.state.QueryIsIrrelevant() {
		rs.abortFastTrack.Set()
		_ = rs.send(ctx, query.Message{Type: query.MessageAskUser, QueryID: req.QueryID,
			Payload: map[string]any{"reason": "irrelevant", "message": "This query doesn't appear related to the site's content."}})
		h.finish(ctx, rs)
		return rs.rv, nil
	}
	if !rs.state.RequiredInfoFound() {
		rs.abortFastTrack.Set()
		_ = rs.send(ctx, query.Message{Type: query.MessageAskUser, QueryID: req.QueryID,
			Payload: map[string]any{"reason": "required_info", "question": rs.state.RequiredInfoQuestion()}})
		h.finish(ctx, rs)
		return rs.rv, nil
	}

	selectedTool, extractedArgs := selectedTool(rs.state.ToolRoutingResults())

	if rs.fastTrackWorked.Load() && selectedTool == defaultSearchToolName {
		wg.Wait()
		h.postRanking(ctx, rs)
		h.finish(ctx, rs)
		return rs.rv, nil
	}

	hc := h.toolContext(rs, extractedArgs)
	handler, ok := toolhandlers.Dispatch(selectedTool)
	if !ok {
		h.Log.Warn("pipeline: unknown tool selected, falling back to search", "tool", selectedTool)
		handler, _ = toolhandlers.Dispatch(defaultSearchToolName)
	}
	if err := handler.Do(ctx, hc); err != nil {
		h.Log.Warn("pipeline: tool handler failed", "tool", selectedTool, "error", err)
		if selectedTool != defaultSearchToolName {
			if fallback, ok := toolhandlers.Dispatch(defaultSearchToolName); ok {
				if ferr := fallback.Do(ctx, hc); ferr != nil {
					h.Log.Warn("pipeline: fallback search also failed", "error", ferr)
				}
			}
		}
	}

	wg.Wait()

	if rs.queryDone.Load() {
		h.finish(ctx, rs)
		return rs.rv, nil
	}

	h.postRanking(ctx, rs)
	h.finish(ctx, rs)
	return rs.rv, nil
}

// finish emits the terminal complete frame that closes the stream.
func (h *Handler) finish(ctx context.Context, rs *requestState) {
	_ = rs.send(ctx, query.Message{Type: query.MessageComplete, QueryID: rs.req.QueryID})
}

// selectedTool picks the top tool-routing candidate, defaulting to plain
// search when nothing was selected (tool selection disabled, or the
// router returned no candidates at all).
func selectedTool(candidates []query.ToolCandidate) (string, map[string]any) {
	if len(candidates) == 0 {
		return defaultSearchToolName, nil
	}
	return candidates[0].Tool, candidates[0].ExtractedArgs
}

func (h *Handler) toolContext(rs *requestState, extractedArgs map[string]any) *toolhandlers.Context {
	return &toolhandlers.Context{
		Request:        rs.req,
		State:          rs.state,
		Answers:        rs.answers,
		Retriever:      h.Retriever,
		Ranker:         h.Ranker,
		Embedder:       h.Embedder,
		LLM:            h.LLM,
		Send:           rs.send,
		Log:            h.Log,
		AbortFastTrack: rs.abortFastTrack.Done(),
		ExtractedArgs:  extractedArgs,
		MarkQueryDone:  func() { rs.queryDone.Store(true) },
		Templates:      h.Templates,
		DCIDMap:        h.DCIDMap,
	}
}

// send is the handler's single serialised emission point: one mutex
// around Send serialises emission and header flushing.
func (rs *requestState) send(ctx context.Context, msg query.Message) error {
	rs.sendMu.Lock()
	defer rs.sendMu.Unlock()

	if !rs.connectionAlive.Load() {
		return nil
	}
	if !rs.headersSent {
		rs.headersSent = true
		rs.emitHeadersLocked(ctx)
	}

	rs.rv.Record(msg)
	if rs.out == nil {
		return nil
	}
	if err := rs.out(ctx, msg); err != nil {
		// The transport failed to deliver a frame, almost always because
		// the caller disconnected. Treat it as connection loss rather than
		// a task failure: subsequent Sends become no-ops but the request's
		// tasks keep running to natural completion.
		rs.connectionAlive.Store(false)
		return nil
	}
	return nil
}

// emitHeadersLocked flushes the protocol headers exactly once, before any
// content message; the version message precedes any other header.
func (rs *requestState) emitHeadersLocked(ctx context.Context) {
	frames := []query.Message{
		{Type: query.MessageAPIVersion, QueryID: rs.req.QueryID, Payload: map[string]any{"version": rs.h.APIVersion}},
	}
	if len(rs.h.ResponseHeaders) > 0 {
		frames = append(frames, query.Message{Type: query.MessageHeader, QueryID: rs.req.QueryID, Payload: rs.h.ResponseHeaders})
	}
	if len(rs.h.APIKeyNames) > 0 {
		frames = append(frames, query.Message{Type: query.MessageAPIKey, QueryID: rs.req.QueryID, Payload: rs.h.APIKeyNames})
	}
	for _, f := range frames {
		rs.rv.Record(f)
		if rs.out != nil {
			_ = rs.out(ctx, f)
		}
	}
}

// runPreChecks launches the pre-check fan-out: independent tasks that
// each mutate derived state or emit an intermediate message. Failures
// are logged, never fatal to siblings.
func (h *Handler) runPreChecks(ctx context.Context, rs *requestState) {
	stop := h.Telemetry.StageTimer("precheck")
	defer stop()

	var wg sync.WaitGroup
	tasks := []func(context.Context, *requestState){
		h.detectItemType,
		h.detectMultiItemTypeQuery,
		h.detectQueryType,
		h.decontextualize,
		h.relevanceDetection,
		h.memory,
		h.requiredInfo,
	}
	for _, task := range tasks {
		task := task
		wg.Add(1)
		go func() {
			defer wg.Done()
			task(ctx, rs)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.toolSelector(ctx, rs)
	}()

	wg.Wait()
	rs.preChecksDone.Set()
}

var itemTypeSchema = json.RawMessage(`{"type":"object","properties":{"item_type":{"type":"string"}},"required":["item_type"]}`)

func (h *Handler) detectItemType(ctx context.Context, rs *requestState) {
	defer rs.itemTypeDone.Set()

	prompt := fmt.Sprintf("Classify the schema.org item type this query is about (e.g. Recipe, Movie, Product, Restaurant, Thing).\nQuery: %s", rs.req.Query)
	var out struct {
		ItemType string `json:"item_type"`
	}
	if err := h.LLM.Ask(ctx, prompt, itemTypeSchema, llm.LevelLow, &out); err != nil {
		h.Log.Warn("pipeline: detect item type failed", "error", err)
		return
	}
	if out.ItemType != "" {
		rs.state.SetItemType(out.ItemType)
	}
}

var boolFlagSchema = json.RawMessage(`{"type":"object","properties":{"value":{"type":"boolean"},"detail":{"type":"string"}}}`)

func (h *Handler) detectMultiItemTypeQuery(ctx context.Context, rs *requestState) {
	prompt := fmt.Sprintf("Does this query ask about more than one schema.org item type at once?\nQuery: %s", rs.req.Query)
	var out struct {
		Value  bool   `json:"value"`
		Detail string `json:"detail"`
	}
	if err := h.LLM.Ask(ctx, prompt, boolFlagSchema, llm.LevelLow, &out); err != nil {
		h.Log.Warn("pipeline: detect multi-item-type query failed", "error", err)
		return
	}
	if out.Value {
		_ = rs.send(ctx, query.Message{Type: query.MessageIntermediate, QueryID: rs.req.QueryID,
			Payload: map[string]any{"kind": "multi_item_type", "detail": out.Detail}})
	}
}

var queryTypeSchema = json.RawMessage(`{"type":"object","properties":{"query_type":{"type":"string"}}}`)

func (h *Handler) detectQueryType(ctx context.Context, rs *requestState) {
	prompt := fmt.Sprintf("Classify this query's intent (e.g. informational, comparison, transactional).\nQuery: %s", rs.req.Query)
	var out struct {
		QueryType string `json:"query_type"`
	}
	if err := h.LLM.Ask(ctx, prompt, queryTypeSchema, llm.LevelLow, &out); err != nil {
		h.Log.Warn("pipeline: detect query type failed", "error", err)
		return
	}
	if out.QueryType != "" {
		_ = rs.send(ctx, query.Message{Type: query.MessageIntermediate, QueryID: rs.req.QueryID,
			Payload: map[string]any{"kind": "query_type", "query_type": out.QueryType}})
	}
}

var decontextSchema = json.RawMessage(`{"type":"object","properties":{"decontextualized_query":{"type":"string"}},"required":["decontextualized_query"]}`)

// decontextualize picks exactly one strategy based on available inputs
// and signals decontextDone once the chosen query is in place.
func (h *Handler) decontextualize(ctx context.Context, rs *requestState) {
	defer rs.decontextDone.Set()

	if rs.req.DecontextualizedQuery != "" {
		return
	}
	if !h.DecontextualizeEnabled {
		return
	}
	hasPrev := len(rs.req.PrevQueries) > 0
	hasContextURL := rs.req.ContextURL != ""
	if !hasPrev && !hasContextURL {
		return
	}

	var sb strings.Builder
	sb.WriteString("Rewrite this query to be self-contained, resolving any references to prior context.\n")
	if hasPrev {
		fmt.Fprintf(&sb, "Prior queries: %s\n", strings.Join(rs.req.PrevQueries, " | "))
	}
	if hasContextURL {
		if item, ok, err := h.Retriever.SearchByURL(ctx, rs.req.ContextURL); err == nil && ok {
			fmt.Fprintf(&sb, "Page context: %s\n", item.SchemaJSON)
		} else if err != nil {
			h.Log.Warn("pipeline: context URL lookup failed", "url", rs.req.ContextURL, "error", err)
		}
	}
	fmt.Fprintf(&sb, "Query: %s\n", rs.req.Query)

	var out struct {
		DecontextualizedQuery string `json:"decontextualized_query"`
	}
	if err := h.LLM.Ask(ctx, sb.String(), decontextSchema, llm.LevelHigh, &out); err != nil {
		h.Log.Warn("pipeline: decontextualize failed", "error", err)
		return
	}
	if out.DecontextualizedQuery == "" {
		return
	}
	rs.state.SetDecontextualizedQuery(out.DecontextualizedQuery)
	_ = rs.send(ctx, query.Message{Type: query.MessageDecontextualizedQry, QueryID: rs.req.QueryID,
		Payload: map[string]any{"decontextualized_query": out.DecontextualizedQuery}})
}

var relevanceSchema = json.RawMessage(`{"type":"object","properties":{"is_irrelevant":{"type":"boolean"}},"required":["is_irrelevant"]}`)

func (h *Handler) relevanceDetection(ctx context.Context, rs *requestState) {
	prompt := fmt.Sprintf("Is this query irrelevant to the configured site's subject matter?\nQuery: %s", rs.req.Query)
	var out struct {
		IsIrrelevant bool `json:"is_irrelevant"`
	}
	if err := h.LLM.Ask(ctx, prompt, relevanceSchema, llm.LevelLow, &out); err != nil {
		h.Log.Warn("pipeline: relevance detection failed", "error", err)
		return
	}
	rs.state.SetQueryIsIrrelevant(out.IsIrrelevant)
	if out.IsIrrelevant {
		// Don't wait for the rest of the pre-check fan-out: an irrelevant
		// query should stop fast-track from emitting as soon as it's known.
		rs.abortFastTrack.Set()
	}
}

var memorySchema = json.RawMessage(`{"type":"object","properties":{"statements":{"type":"array","items":{"type":"string"}}}}`)

func (h *Handler) memory(ctx context.Context, rs *requestState) {
	if !h.MemoryEnabled {
		return
	}
	prompt := fmt.Sprintf("Extract any durable personal preferences or facts the user stated (not the query itself).\nQuery: %s", rs.req.Query)
	var out struct {
		Statements []string `json:"statements"`
	}
	if err := h.LLM.Ask(ctx, prompt, memorySchema, llm.LevelLow, &out); err != nil {
		h.Log.Warn("pipeline: memory extraction failed", "error", err)
		return
	}
	for _, s := range out.Statements {
		rs.state.AddMemorableStatement(s)
	}
}

var requiredInfoSchema = json.RawMessage(`{"type":"object","properties":{"required_info_found":{"type":"boolean"},"user_question":{"type":"string"}},"required":["required_info_found"]}`)

// requiredInfo gates sites that need extra user input before searching;
// a site with no configured prompt is never gated, which matches
// query.NewState's requiredInfoFound=true default.
func (h *Handler) requiredInfo(ctx context.Context, rs *requestState) {
	if !h.RequiredInfoEnabled || len(h.RequiredInfoPrompts) == 0 {
		return
	}
	var prompt string
	for _, site := range rs.req.Site {
		if p, ok := h.RequiredInfoPrompts[site]; ok {
			prompt = p
			break
		}
	}
	if prompt == "" {
		return
	}
	full := fmt.Sprintf("%s\nQuery: %s", prompt, rs.req.Query)
	var out struct {
		RequiredInfoFound bool   `json:"required_info_found"`
		UserQuestion      string `json:"user_question"`
	}
	if err := h.LLM.Ask(ctx, full, requiredInfoSchema, llm.LevelHigh, &out); err != nil {
		h.Log.Warn("pipeline: required-info gate failed", "error", err)
		return
	}
	rs.state.SetRequiredInfo(out.RequiredInfoFound, out.UserQuestion)
	if !out.RequiredInfoFound {
		rs.abortFastTrack.Set()
	}
}

// toolSelector waits for decontextualisation, then runs tool routing,
// emitting tool_selection and wiring abortFastTrack into the
// fast-track-interaction coordination point.
func (h *Handler) toolSelector(ctx context.Context, rs *requestState) {
	if !h.ToolSelectionEnabled || h.Tools == nil {
		return
	}
	if rs.req.GenerateMode == query.GenerateSummarize || rs.req.GenerateMode == query.GenerateGenerate {
		return
	}

	select {
	case <-rs.decontextDone.Done():
	case <-ctx.Done():
		return
	}
	select {
	case <-rs.itemTypeDone.Done():
	case <-ctx.Done():
		return
	}

	stop := h.Telemetry.StageTimer("toolrouting")
	result, err := h.Tools.Select(ctx, rs.state.DecontextualizedQuery(), rs.state.ItemType())
	stop()
	if err != nil {
		h.Log.Warn("pipeline: tool selection failed", "error", err)
		h.Telemetry.RecordStageError("toolrouting", "external_call_failure")
		return
	}
	rs.state.SetToolRoutingResults(result.Candidates)
	if result.AbortFastTrack {
		rs.abortFastTrack.Set()
	}
	if !result.HasSelection {
		return
	}
	_ = rs.send(ctx, query.Message{Type: query.MessageToolSelection, QueryID: rs.req.QueryID,
		Payload: map[string]any{"tool": result.SelectedTool.Name, "score": firstScore(result.Candidates)}})
}

func firstScore(candidates []query.ToolCandidate) int {
	if len(candidates) == 0 {
		return 0
	}
	return candidates[0].Score
}

// runFastTrack is the speculative retrieval branch.
func (h *Handler) runFastTrack(ctx context.Context, rs *requestState) {
	stop := h.Telemetry.StageTimer("fasttrack")
	defer stop()

	q := rs.req.Query
	select {
	case <-rs.decontextDone.Done():
		if dq := rs.state.DecontextualizedQuery(); dq != "" {
			q = dq
		}
	case <-time.After(fastTrackDecontextWait):
	case <-ctx.Done():
		return
	}

	if aborted(rs.abortFastTrack) {
		return
	}

	vec, err := h.embed(ctx, q)
	if err != nil {
		h.Log.Warn("pipeline: fast-track embed failed", "error", err)
	}
	retrievalStop := h.Telemetry.StageTimer("retrieval")
	items, err := h.Retriever.Search(ctx, vec, q, rs.req.Site, fastTrackSearchK)
	retrievalStop()
	if err != nil {
		if gwerrors.Is(err, gwerrors.KindAllBackendsFailed) {
			h.Log.Warn("pipeline: fast-track retrieval failed, every backend unavailable", "error", err)
			h.Telemetry.RecordStageError("retrieval", "all_backends_failed")
		} else {
			h.Log.Warn("pipeline: fast-track retrieval failed", "error", err)
			h.Telemetry.RecordStageError("retrieval", "external_call_failure")
		}
		return
	}
	if aborted(rs.abortFastTrack) {
		return
	}

	sendFast := func(ctx context.Context, batch []*query.Answer) error {
		for _, a := range batch {
			msg := query.Message{Type: query.MessageResultBatch, QueryID: rs.req.QueryID, Payload: a}
			if err := rs.send(ctx, msg); err != nil {
				return err
			}
		}
		return nil
	}

	rankStop := h.Telemetry.StageTimer("ranking")
	_, err = h.Ranker.Rank(ctx, ranking.Options{
		Items:          items,
		Query:          q,
		Track:          ranking.Fast,
		Streaming:      rs.req.Streaming,
		AbortFastTrack: rs.abortFastTrack.Done(),
		Answers:        rs.answers,
		Send:           sendFast,
	})
	rankStop()
	if err != nil {
		h.Log.Warn("pipeline: fast-track ranking failed", "error", err)
		h.Telemetry.RecordStageError("ranking", "external_call_failure")
		return
	}
	if aborted(rs.abortFastTrack) {
		return
	}

	rs.fastTrackWorked.Store(true)
	rs.retrievalDone.Set()
}

func (h *Handler) embed(ctx context.Context, text string) ([]float32, error) {
	if h.Embedder == nil {
		return nil, nil
	}
	return h.Embedder.Embed(ctx, text)
}

func aborted(ev *query.Event) bool {
	select {
	case <-ev.Done():
		return true
	default:
		return false
	}
}

// postRanking runs the post-ranking tasks unless queryDone was already
// set.
func (h *Handler) postRanking(ctx context.Context, rs *requestState) {
	stop := h.Telemetry.StageTimer("postranking")
	defer stop()

	switch rs.req.GenerateMode {
	case query.GenerateSummarize:
		h.summarize(ctx, rs)
	case query.GenerateGenerate:
		h.generateOverRanked(ctx, rs)
	}
}

var summarySchema = json.RawMessage(`{"type":"object","properties":{"summary":{"type":"string"}},"required":["summary"]}`)

func (h *Handler) summarize(ctx context.Context, rs *requestState) {
	sent := sentAnswers(rs.answers)
	if len(sent) == 0 {
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Summarise these results for the query %q.\n", rs.req.Query)
	for _, a := range sent {
		fmt.Fprintf(&sb, "- %s\n", a.SchemaObject)
	}
	var out struct {
		Summary string `json:"summary"`
	}
	if err := h.LLM.Ask(ctx, sb.String(), summarySchema, llm.LevelHigh, &out); err != nil {
		h.Log.Warn("pipeline: summarize failed", "error", err)
		return
	}
	_ = rs.send(ctx, query.Message{Type: query.MessageSummary, QueryID: rs.req.QueryID,
		Payload: map[string]any{"summary": out.Summary}})
}

// generateOverRanked triggers the GenerateAnswer flow over the answers
// already sent during this request, rather than re-retrieving.
func (h *Handler) generateOverRanked(ctx context.Context, rs *requestState) {
	hc := h.toolContext(rs, nil)
	hc.Gathered = sentAnswers(rs.answers)
	if err := toolhandlers.GenerateAnswer.Do(ctx, hc); err != nil {
		h.Log.Warn("pipeline: generate-over-ranked failed", "error", err)
	}
}

func sentAnswers(answers *query.AnswerSet) []*query.Answer {
	all := answers.All()
	out := make([]*query.Answer, 0, len(all))
	for _, a := range all {
		if a.Sent() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ranking.Score > out[j].Ranking.Score })
	return out
}
