package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/nlweb-go/gateway/internal/embedder"
	"github.com/nlweb-go/gateway/internal/llm"
	"github.com/nlweb-go/gateway/internal/pipeline"
	"github.com/nlweb-go/gateway/internal/ranking"
	"github.com/nlweb-go/gateway/internal/retriever"
	"github.com/nlweb-go/gateway/internal/telemetry"
	"github.com/nlweb-go/gateway/internal/toolcatalog"
	"github.com/nlweb-go/gateway/internal/toolhandlers"
	"github.com/nlweb-go/gateway/internal/toolrouter"
	"github.com/nlweb-go/gateway/internal/vector"
)

// Runtime is the process-wide set of config-derived collaborators: the
// vector backend registry, the unified retriever built over it, the tool
// catalogue, and the fully-wired Query Handler. Hot-reload replaces the
// atomic.Pointer's value rather than mutating fields in place, so
// in-flight requests always see an internally-consistent snapshot.
type Runtime struct {
	Config    *Config
	Registry  *vector.Registry
	Retriever *retriever.UnifiedRetriever
	Tools     *toolcatalog.Catalog
	Pipeline  *pipeline.Handler
}

// BuildRuntime constructs a Runtime from cfg, loading the tool catalogue
// and statistics files from dir and constructing every enabled retrieval
// backend. rec may be nil, in which case the resulting Runtime records no
// metrics. llmReg and embed are the model-tier registry and embedding
// client built by the caller from cfg.LLM/cfg.Embedding; concrete
// provider construction is outside config's remit and lives in
// internal/llmprovider and cmd/gateway.
func BuildRuntime(ctx context.Context, dir string, cfg *Config, log *slog.Logger, rec *telemetry.Recorder, llmReg *llm.Registry, embed embedder.Client) (*Runtime, error) {
	reg := vector.NewRegistry()
	if err := reg.Load(ctx, cfg.Retrieval.Endpoints); err != nil {
		return nil, fmt.Errorf("config: failed to build vector backends: %w", err)
	}

	names := make([]string, 0, len(cfg.Retrieval.Endpoints))
	for _, e := range cfg.Retrieval.Endpoints {
		if e.Enabled {
			names = append(names, e.Name)
		}
	}
	ret, err := retriever.New(reg, names, cfg.Retrieval.WriteEndpoint, log)
	if err != nil {
		return nil, fmt.Errorf("config: failed to build retriever: %w", err)
	}
	ret.Telemetry = rec

	cat, err := toolcatalog.Load(ToolCataloguePath(dir, cfg))
	if err != nil {
		return nil, fmt.Errorf("config: failed to load tool catalogue: %w", err)
	}

	templates, err := loadTemplatesOptional(StatisticsTemplatesPath(dir, cfg))
	if err != nil {
		return nil, fmt.Errorf("config: failed to load statistics templates: %w", err)
	}
	dcid, err := loadDCIDMapOptional(StatisticsDCIDMapPath(dir, cfg))
	if err != nil {
		return nil, fmt.Errorf("config: failed to load DCID map: %w", err)
	}

	ranker := ranking.NewEngine(llmReg, log)
	router := toolrouter.New(cat, llmReg, toolrouter.DefaultMinScore, log)

	h := pipeline.New(pipeline.Handler{
		Retriever:              ret,
		Ranker:                 ranker,
		Embedder:               embed,
		LLM:                    llmReg,
		Tools:                  router,
		Templates:              templates,
		DCIDMap:                dcid,
		Log:                    log,
		Telemetry:              rec,
		ToolSelectionEnabled:   cfg.Features.ToolSelectionEnabled,
		DecontextualizeEnabled: cfg.Features.DecontextualizeEnabled,
		RequiredInfoEnabled:    cfg.Features.RequiredInfoEnabled,
		MemoryEnabled:          cfg.Features.MemoryEnabled,
		RequiredInfoPrompts:    cfg.RequiredInfoPrompts,
		ResponseHeaders:        cfg.ResponseHeaders,
		APIKeyNames:            cfg.APIKeyNames,
	})

	return &Runtime{Config: cfg, Registry: reg, Retriever: ret, Tools: cat, Pipeline: h}, nil
}

// loadTemplatesOptional loads the statistics template catalogue if path
// exists, returning an empty catalogue otherwise (the Statistics handler
// is simply never selected when no templates are configured).
func loadTemplatesOptional(path string) (*toolhandlers.TemplateCatalogue, error) {
	if _, err := os.Stat(path); err != nil {
		return &toolhandlers.TemplateCatalogue{}, nil
	}
	return toolhandlers.LoadTemplates(path)
}

func loadDCIDMapOptional(path string) (toolhandlers.DCIDMap, error) {
	if _, err := os.Stat(path); err != nil {
		return toolhandlers.DCIDMap{}, nil
	}
	return toolhandlers.LoadDCIDMap(path)
}

// RuntimeHolder publishes the current Runtime for concurrent readers and
// atomically swaps it on reload.
type RuntimeHolder struct {
	ptr atomic.Pointer[Runtime]
}

// NewRuntimeHolder returns a holder initialised to rt.
func NewRuntimeHolder(rt *Runtime) *RuntimeHolder {
	h := &RuntimeHolder{}
	h.ptr.Store(rt)
	return h
}

// Current returns the currently published Runtime.
func (h *RuntimeHolder) Current() *Runtime {
	return h.ptr.Load()
}

// Swap atomically replaces the published Runtime, closing the previous
// one's backends once it's no longer reachable by new requests.
func (h *RuntimeHolder) Swap(rt *Runtime) {
	old := h.ptr.Swap(rt)
	if old != nil && old.Registry != nil {
		_ = old.Registry.Close()
	}
}
