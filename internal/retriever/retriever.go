// Package retriever composes the configured vector-store endpoints behind
// a single fan-out/merge interface.
package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nlweb-go/gateway/internal/gwerrors"
	"github.com/nlweb-go/gateway/internal/query"
	"github.com/nlweb-go/gateway/internal/telemetry"
	"github.com/nlweb-go/gateway/internal/vector"
)

// endpoint wraps a configured Backend with its lazily-cached site set.
type endpoint struct {
	name    string
	backend vector.Backend
	write   bool

	siteMu     sync.RWMutex
	sitesKnown bool // true once GetSites has succeeded at least once
	sites      map[string]struct{}
}

// UnifiedRetriever fans a query out to every gated endpoint and merges the
// results, deduplicating by URL.
type UnifiedRetriever struct {
	endpoints     []*endpoint
	writeEndpoint string
	log           *slog.Logger

	// Telemetry records per-backend call counts/durations; nil records
	// nothing.
	Telemetry *telemetry.Recorder
}

// New builds a UnifiedRetriever from a registry and the configured endpoint
// names. writeEndpoint names the single endpoint that Upload/DeleteBySite
// target; an empty string means writes always fail.
func New(reg *vector.Registry, endpointNames []string, writeEndpoint string, log *slog.Logger) (*UnifiedRetriever, error) {
	if log == nil {
		log = slog.Default()
	}
	r := &UnifiedRetriever{writeEndpoint: writeEndpoint, log: log}
	for _, name := range endpointNames {
		b, ok := reg.Get(name)
		if !ok {
			return nil, fmt.Errorf("retriever: endpoint %q is not registered", name)
		}
		r.endpoints = append(r.endpoints, &endpoint{name: name, backend: b, write: name == writeEndpoint})
	}
	return r, nil
}

// gated reports whether the endpoint should be queried for sites. No sites
// or "all" always gates it in. While the endpoint's site set is unknown,
// each call tries GetSites; if that fails (ErrUnsupported or any other
// error) the endpoint is considered, and the next call tries again.
func (e *endpoint) gated(ctx context.Context, sites []string) bool {
	if len(sites) == 0 {
		return true
	}
	for _, s := range sites {
		if s == "all" {
			return true
		}
	}

	e.siteMu.RLock()
	known := e.sitesKnown
	cached := e.sites
	e.siteMu.RUnlock()

	if !known {
		known, cached = e.refreshSites(ctx)
	}
	if !known {
		return true // unsupported GetSites: always consider this backend
	}
	for _, s := range sites {
		if _, ok := cached[s]; ok {
			return true
		}
	}
	return false
}

func (e *endpoint) refreshSites(ctx context.Context) (bool, map[string]struct{}) {
	list, err := e.backend.GetSites(ctx)
	if err != nil {
		e.siteMu.Lock()
		e.sitesKnown = false
		e.siteMu.Unlock()
		return false, nil
	}
	set := make(map[string]struct{}, len(list))
	for _, s := range list {
		set[s] = struct{}{}
	}
	e.siteMu.Lock()
	e.sitesKnown = true
	e.sites = set
	e.siteMu.Unlock()
	return true, set
}

// Search fans out to every gated endpoint in parallel and merges the
// results. If every endpoint fails, it returns an AllBackendsFailed error.
func (r *UnifiedRetriever) Search(ctx context.Context, vec []float32, queryText string, sites []string, k int) ([]query.Item, error) {
	return r.fanOut(ctx, sites, func(ctx context.Context, e *endpoint) ([]query.Item, error) {
		return e.backend.Search(ctx, vec, queryText, sites, k)
	}, k)
}

// SearchAllSites behaves like Search but with no site restriction.
func (r *UnifiedRetriever) SearchAllSites(ctx context.Context, vec []float32, queryText string, k int) ([]query.Item, error) {
	return r.fanOut(ctx, nil, func(ctx context.Context, e *endpoint) ([]query.Item, error) {
		return e.backend.SearchAllSites(ctx, vec, queryText, k)
	}, k)
}

// SearchByURL looks the URL up across every endpoint and returns the first
// match found; used for context-URL decontextualisation.
func (r *UnifiedRetriever) SearchByURL(ctx context.Context, url string) (query.Item, bool, error) {
	type found struct {
		item query.Item
		ok   bool
	}
	g, gctx := errgroup.WithContext(ctx)
	results := make([]found, len(r.endpoints))
	for i, e := range r.endpoints {
		i, e := i, e
		g.Go(func() error {
			item, ok, err := e.backend.SearchByURL(gctx, url)
			if err != nil {
				r.log.Warn("searchByURL failed", "endpoint", e.name, "error", err)
				return nil
			}
			results[i] = found{item: item, ok: ok}
			return nil
		})
	}
	_ = g.Wait()
	for _, f := range results {
		if f.ok {
			return f.item, true, nil
		}
	}
	return query.Item{}, false, nil
}

// GetSites returns the union of sites known across every endpoint that
// supports GetSites.
func (r *UnifiedRetriever) GetSites(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range r.endpoints {
		e := e
		g.Go(func() error {
			list, err := e.backend.GetSites(gctx)
			if err != nil {
				return nil
			}
			mu.Lock()
			for _, s := range list {
				seen[s] = struct{}{}
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	return out, nil
}

// Upload writes items to the designated write endpoint only.
func (r *UnifiedRetriever) Upload(ctx context.Context, items []query.Item) error {
	e, err := r.writeTarget()
	if err != nil {
		return err
	}
	return e.backend.Upload(ctx, items)
}

// DeleteBySite deletes all documents for site on the designated write endpoint only.
func (r *UnifiedRetriever) DeleteBySite(ctx context.Context, site string) error {
	e, err := r.writeTarget()
	if err != nil {
		return err
	}
	return e.backend.DeleteBySite(ctx, site)
}

func (r *UnifiedRetriever) writeTarget() (*endpoint, error) {
	if r.writeEndpoint == "" {
		return nil, gwerrors.New(gwerrors.KindInvalidInput, "no write endpoint configured")
	}
	for _, e := range r.endpoints {
		if e.write {
			return e, nil
		}
	}
	return nil, gwerrors.New(gwerrors.KindInvalidInput, fmt.Sprintf("write endpoint %q not found among registered endpoints", r.writeEndpoint))
}

type searchFunc func(ctx context.Context, e *endpoint) ([]query.Item, error)

func (r *UnifiedRetriever) fanOut(ctx context.Context, sites []string, search searchFunc, k int) ([]query.Item, error) {
	var gated []*endpoint
	for _, e := range r.endpoints {
		if e.gated(ctx, sites) {
			gated = append(gated, e)
		}
	}
	if len(gated) == 0 {
		return nil, gwerrors.New(gwerrors.KindAllBackendsFailed, "no endpoints gated in for the requested sites")
	}

	results := make([][]query.Item, len(gated))
	var failures int32
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for i, e := range gated {
		i, e := i, e
		g.Go(func() error {
			start := time.Now()
			items, err := search(gctx, e)
			r.Telemetry.RecordBackendCall(e.name, time.Since(start), err)
			if err != nil {
				r.log.Warn("backend search failed", "endpoint", e.name, "error", err)
				mu.Lock()
				failures++
				mu.Unlock()
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	if int(failures) == len(gated) {
		return nil, gwerrors.New(gwerrors.KindAllBackendsFailed, "every selected retrieval backend failed")
	}

	return mergeByURL(results, k), nil
}

// mergeByURL interleaves per-backend result lists in rank order, coalescing
// duplicate URLs into a single item whose SchemaJSON is a JSON array of
// every source document.
func mergeByURL(perBackend [][]query.Item, k int) []query.Item {
	type entry struct {
		item     query.Item
		variants []string
	}
	order := make([]string, 0)
	byURL := make(map[string]*entry)

	maxLen := 0
	for _, list := range perBackend {
		if len(list) > maxLen {
			maxLen = len(list)
		}
	}

	for rank := 0; rank < maxLen; rank++ {
		for _, list := range perBackend {
			if rank >= len(list) {
				continue
			}
			it := list[rank]
			if e, ok := byURL[it.URL]; ok {
				e.variants = append(e.variants, it.SchemaJSON)
				continue
			}
			e := &entry{item: it, variants: []string{it.SchemaJSON}}
			byURL[it.URL] = e
			order = append(order, it.URL)
		}
	}

	out := make([]query.Item, 0, len(order))
	for _, url := range order {
		e := byURL[url]
		it := e.item
		if len(e.variants) > 1 {
			merged, err := json.Marshal(rawVariants(e.variants))
			if err == nil {
				it.SchemaJSON = string(merged)
			}
		}
		out = append(out, it)
		if len(out) >= k && k > 0 {
			break
		}
	}
	return out
}

// rawVariants wraps each variant's raw JSON text so json.Marshal emits a
// JSON array of the original documents rather than re-escaping them as strings.
func rawVariants(variants []string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(variants))
	for _, v := range variants {
		if v == "" {
			continue
		}
		out = append(out, json.RawMessage(v))
	}
	return out
}
