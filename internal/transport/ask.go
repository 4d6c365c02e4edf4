package transport

import (
	"encoding/json"
	"net/http"

	"github.com/nlweb-go/gateway/internal/gwerrors"
)

// handleAsk serves GET|POST /ask, the primary query endpoint. Streaming
// requests get one SSE frame per message, terminated by a complete frame;
// non-streaming requests get the accumulated return value as a single
// JSON object keyed by message type.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	rt := s.current()
	if rt == nil || rt.Pipeline == nil {
		http.Error(w, `{"error":"gateway not ready"}`, http.StatusServiceUnavailable)
		return
	}

	req, _, err := parseAskRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// db (backend override) is parsed but, absent a per-request retriever
	// scope, only dev-mode tooling is expected to set it; production
	// requests leave it empty and every configured backend is queried.

	if !req.Streaming {
		rv, err := rt.Pipeline.Run(r.Context(), req, nil)
		if err != nil {
			s.writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rv.AsMap())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	_, _ = rt.Pipeline.Run(r.Context(), req, sseSender(w, flusher))
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if gwerrors.Is(err, gwerrors.KindInvalidInput) {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
