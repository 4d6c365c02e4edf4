package transport

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/nlweb-go/gateway/internal/query"
)

const defaultWhoTopN = 5

// handleSites serves GET /sites: the set of sites known to the
// configured retrieval backends, falling back to the configured allow
// list when no backend reports any. Supports SSE or JSON, like /ask.
func (s *Server) handleSites(w http.ResponseWriter, r *http.Request) {
	rt := s.current()
	if rt == nil {
		http.Error(w, `{"error":"gateway not ready"}`, http.StatusServiceUnavailable)
		return
	}

	sites, err := rt.Retriever.GetSites(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(sites) == 0 {
		sites = rt.Config.Sites
	}
	sort.Strings(sites)

	msg := query.Message{Type: query.MessageIntermediate, Payload: map[string]any{"sites": sites}}
	s.writeDiscoveryResponse(w, r, msg, map[string]any{"sites": sites})
}

// handleWho serves GET /who: the top sites whose documents surface for a
// vector search of the query, a utility for discovering which sites
// would answer it.
func (s *Server) handleWho(w http.ResponseWriter, r *http.Request) {
	rt := s.current()
	if rt == nil || rt.Pipeline == nil {
		http.Error(w, `{"error":"gateway not ready"}`, http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query().Get("query")
	if q == "" {
		http.Error(w, `{"error":"query is required"}`, http.StatusBadRequest)
		return
	}
	topN := defaultWhoTopN
	if n, err := strconv.Atoi(r.URL.Query().Get("top_n")); err == nil && n > 0 {
		topN = n
	}

	vec, err := rt.Pipeline.Embedder.Embed(r.Context(), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	items, err := rt.Retriever.SearchAllSites(r.Context(), vec, q, 50)
	if err != nil {
		s.writeError(w, err)
		return
	}

	counts := make(map[string]int)
	for _, it := range items {
		if it.Site != "" {
			counts[it.Site]++
		}
	}
	type siteCount struct {
		Site  string `json:"site"`
		Count int    `json:"count"`
	}
	ranked := make([]siteCount, 0, len(counts))
	for site, n := range counts {
		ranked = append(ranked, siteCount{Site: site, Count: n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Site < ranked[j].Site
	})
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}

	msg := query.Message{Type: query.MessageIntermediate, Payload: map[string]any{"sites": ranked}}
	s.writeDiscoveryResponse(w, r, msg, map[string]any{"sites": ranked})
}

// writeDiscoveryResponse renders a single-message utility endpoint as
// either one SSE frame or a plain JSON object, mirroring /ask's
// streaming-vs-JSON switch on a much simpler response shape.
func (s *Server) writeDiscoveryResponse(w http.ResponseWriter, r *http.Request, msg query.Message, plain any) {
	if acceptsEventStream(r) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_ = sseSender(w, flusher)(r.Context(), msg)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(plain)
}
