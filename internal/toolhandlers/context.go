// Package toolhandlers implements the tool-specific handlers dispatched by
// the query pipeline after tool routing: Search, ItemDetails,
// CompareItems, Ensemble, Statistics, and GenerateAnswer.
package toolhandlers

import (
	"context"
	"log/slog"

	"github.com/nlweb-go/gateway/internal/embedder"
	"github.com/nlweb-go/gateway/internal/llm"
	"github.com/nlweb-go/gateway/internal/query"
	"github.com/nlweb-go/gateway/internal/ranking"
	"github.com/nlweb-go/gateway/internal/retriever"
)

// SendMessage emits a single protocol message through the handler's
// serialised Send operation.
type SendMessage func(ctx context.Context, msg query.Message) error

// Context bundles everything a tool handler needs: shared request state,
// the collaborators it's allowed to call, and callbacks back into the
// owning Query Handler.
type Context struct {
	Request  *query.Request
	State    *query.State
	Answers  *query.AnswerSet
	Retriever *retriever.UnifiedRetriever
	Ranker   *ranking.Engine
	Embedder embedder.Client
	LLM      *llm.Registry
	Send     SendMessage
	Log      *slog.Logger

	// AbortFastTrack is closed if fast-track results must be discarded;
	// handlers pass it through to the ranking engine.
	AbortFastTrack <-chan struct{}

	// ExtractedArgs are the tool-router's extracted arguments for the
	// selected tool, if any.
	ExtractedArgs map[string]any

	// MarkQueryDone tells the Query Handler to skip post-ranking.
	MarkQueryDone func()

	// Templates and DCIDMap back the Statistics handler; both are
	// process-global and optional for requests that never route to
	// statistics.
	Templates *TemplateCatalogue
	DCIDMap   DCIDMap

	// Gathered, if non-nil, is used by GenerateAnswer in place of a fresh
	// retrieval+ranking pass over previously ranked answers.
	Gathered []*query.Answer
}

// Handler is implemented by every tool-specific handler.
type Handler interface {
	Do(ctx context.Context, hc *Context) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, hc *Context) error

func (f HandlerFunc) Do(ctx context.Context, hc *Context) error { return f(ctx, hc) }

func (hc *Context) argString(name string) string {
	if hc.ExtractedArgs == nil {
		return ""
	}
	s, _ := hc.ExtractedArgs[name].(string)
	return s
}

func (hc *Context) queryText() string {
	if q := hc.State.DecontextualizedQuery(); q != "" {
		return q
	}
	return hc.Request.Query
}

func (hc *Context) embed(ctx context.Context, text string) ([]float32, error) {
	if hc.Embedder == nil {
		return nil, nil
	}
	return hc.Embedder.Embed(ctx, text)
}
