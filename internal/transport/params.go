package transport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/nlweb-go/gateway/internal/gwerrors"
	"github.com/nlweb-go/gateway/internal/query"
)

// askBody is the JSON request body accepted on POST /ask with a JSON
// content type; field names mirror the GET query parameters.
type askBody struct {
	Query                 string   `json:"query"`
	Prev                  []string `json:"prev"`
	Site                  any      `json:"site"`
	ContextURL            string   `json:"context_url"`
	Streaming             *bool    `json:"streaming"`
	GenerateMode          string   `json:"generate_mode"`
	QueryID               string   `json:"query_id"`
	ThreadID              string   `json:"thread_id"`
	UserID                string   `json:"user_id"`
	DecontextualizedQuery string   `json:"decontextualized_query"`
	DB                    string   `json:"db"`
}

// parseAskRequest builds a query.Request from either a JSON body (POST
// with Content-Type: application/json) or form/query parameters (GET, or
// POST with a form-encoded body) — both accept the same parameter names:
// query, prev (repeated), site (string or list), context_url, streaming,
// generate_mode, query_id, decontextualized_query, db.
func parseAskRequest(r *http.Request) (*query.Request, string, error) {
	if r.Method == http.MethodPost && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body askBody
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&body); err != nil {
			return nil, "", gwerrors.New(gwerrors.KindInvalidInput, "malformed JSON body: "+err.Error())
		}
		req := &query.Request{
			Query:                 body.Query,
			PrevQueries:           body.Prev,
			Site:                  normalizeSite(body.Site),
			ContextURL:            body.ContextURL,
			GenerateMode:          generateMode(body.GenerateMode),
			QueryID:               body.QueryID,
			ThreadID:              body.ThreadID,
			UserID:                body.UserID,
			DecontextualizedQuery: body.DecontextualizedQuery,
		}
		if body.Streaming != nil {
			req.Streaming = *body.Streaming
		} else {
			req.Streaming = acceptsEventStream(r)
		}
		if req.Query == "" {
			return nil, "", gwerrors.New(gwerrors.KindInvalidInput, "query is required")
		}
		if req.QueryID == "" {
			req.QueryID = uuid.NewString()
		}
		return req, body.DB, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, "", gwerrors.New(gwerrors.KindInvalidInput, "malformed request parameters: "+err.Error())
	}
	form := r.Form

	q := form.Get("query")
	if q == "" {
		return nil, "", gwerrors.New(gwerrors.KindInvalidInput, "query is required")
	}

	req := &query.Request{
		Query:                 q,
		PrevQueries:           form["prev"],
		Site:                  normalizeSite(siteParam(form["site"])),
		ContextURL:            form.Get("context_url"),
		GenerateMode:          generateMode(form.Get("generate_mode")),
		QueryID:               form.Get("query_id"),
		ThreadID:              form.Get("thread_id"),
		UserID:                form.Get("user_id"),
		DecontextualizedQuery: form.Get("decontextualized_query"),
	}
	if s := form.Get("streaming"); s != "" {
		req.Streaming, _ = strconv.ParseBool(s)
	} else {
		req.Streaming = acceptsEventStream(r)
	}
	if req.QueryID == "" {
		req.QueryID = uuid.NewString()
	}
	return req, form.Get("db"), nil
}

// siteParam collapses a repeated form value down to a single any: a list
// when there are multiple occurrences, the single string otherwise (a
// comma-separated string is split later by normalizeSite).
func siteParam(values []string) any {
	if len(values) == 0 {
		return nil
	}
	if len(values) == 1 {
		return values[0]
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// normalizeSite accepts either a single comma-separated string or a list
// and returns the normalized site slice; an empty result means no site
// filter.
func normalizeSite(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		parts := strings.Split(t, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func generateMode(v string) query.GenerateMode {
	switch query.GenerateMode(v) {
	case query.GenerateList, query.GenerateSummarize, query.GenerateGenerate:
		return query.GenerateMode(v)
	default:
		return query.GenerateNone
	}
}

func acceptsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}
