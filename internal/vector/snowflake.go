package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nlweb-go/gateway/internal/query"
)

// SnowflakeConfig configures a Snowflake Cortex Search-backed endpoint.
//
// Cortex Search is exposed only as a REST endpoint (no official low-level
// Go driver covers it); following the same REST-over-net/http precedent
// used for azure_ai_search, see DESIGN.md.
type SnowflakeConfig struct {
	Account          string `yaml:"account"`
	Database         string `yaml:"database"`
	Schema           string `yaml:"schema"`
	Service          string `yaml:"service"`
	Token            string `yaml:"token"`
	URLColumn        string `yaml:"url_column"`
	NameColumn       string `yaml:"name_column"`
	SiteColumn       string `yaml:"site_column"`
	SchemaJSONColumn string `yaml:"schema_json_column"`
}

// SnowflakeBackend implements Backend over the Cortex Search REST API.
// It is read-only: ingestion into Cortex Search services is managed
// through Snowflake's own pipelines, not this gateway.
type SnowflakeBackend struct {
	http *http.Client
	cfg  SnowflakeConfig
}

// NewSnowflakeBackend returns a ready Backend for cfg.
func NewSnowflakeBackend(cfg SnowflakeConfig) (*SnowflakeBackend, error) {
	if cfg.Account == "" || cfg.Service == "" {
		return nil, fmt.Errorf("snowflake: account and service are required")
	}
	if cfg.URLColumn == "" {
		cfg.URLColumn = "url"
	}
	if cfg.NameColumn == "" {
		cfg.NameColumn = "name"
	}
	if cfg.SiteColumn == "" {
		cfg.SiteColumn = "site"
	}
	if cfg.SchemaJSONColumn == "" {
		cfg.SchemaJSONColumn = "schema_json"
	}
	return &SnowflakeBackend{http: &http.Client{}, cfg: cfg}, nil
}

func (b *SnowflakeBackend) Name() string { return "snowflake_cortex_search" }

type cortexSearchRequest struct {
	Query   string   `json:"query"`
	Columns []string `json:"columns"`
	Limit   int      `json:"limit"`
	Filter  any      `json:"filter,omitempty"`
}

type cortexSearchResponse struct {
	Results []map[string]any `json:"results"`
}

func (b *SnowflakeBackend) Search(ctx context.Context, vec []float32, queryText string, sites []string, k int) ([]query.Item, error) {
	req := cortexSearchRequest{
		Query:   queryText,
		Columns: []string{b.cfg.URLColumn, b.cfg.NameColumn, b.cfg.SiteColumn, b.cfg.SchemaJSONColumn},
		Limit:   k,
	}
	if len(sites) > 0 && !(len(sites) == 1 && sites[0] == "all") {
		req.Filter = map[string]any{"@in": map[string]any{b.cfg.SiteColumn: sites}}
	}

	var out cortexSearchResponse
	if err := b.doJSON(ctx, req, &out); err != nil {
		return nil, fmt.Errorf("snowflake: search failed: %w", err)
	}
	return b.rowsToItems(out.Results), nil
}

func (b *SnowflakeBackend) SearchAllSites(ctx context.Context, vec []float32, queryText string, k int) ([]query.Item, error) {
	return b.Search(ctx, vec, queryText, nil, k)
}

func (b *SnowflakeBackend) SearchByURL(ctx context.Context, url string) (query.Item, bool, error) {
	req := cortexSearchRequest{
		Query:   url,
		Columns: []string{b.cfg.URLColumn, b.cfg.NameColumn, b.cfg.SiteColumn, b.cfg.SchemaJSONColumn},
		Limit:   1,
		Filter:  map[string]any{"@eq": map[string]any{b.cfg.URLColumn: url}},
	}
	var out cortexSearchResponse
	if err := b.doJSON(ctx, req, &out); err != nil {
		return query.Item{}, false, fmt.Errorf("snowflake: lookup failed: %w", err)
	}
	items := b.rowsToItems(out.Results)
	if len(items) == 0 {
		return query.Item{}, false, nil
	}
	return items[0], true, nil
}

func (b *SnowflakeBackend) GetSites(ctx context.Context) ([]string, error) {
	return nil, &ErrUnsupported{Op: "GetSites"}
}

func (b *SnowflakeBackend) Upload(ctx context.Context, items []query.Item) error {
	return &ErrUnsupported{Op: "Upload (Cortex Search services are populated by Snowflake ingestion pipelines, not this gateway)"}
}

func (b *SnowflakeBackend) DeleteBySite(ctx context.Context, site string) error {
	return &ErrUnsupported{Op: "DeleteBySite (Cortex Search services are populated by Snowflake ingestion pipelines, not this gateway)"}
}

func (b *SnowflakeBackend) Close() error { return nil }

func (b *SnowflakeBackend) rowsToItems(rows []map[string]any) []query.Item {
	out := make([]query.Item, 0, len(rows))
	for _, r := range rows {
		out = append(out, query.Item{
			URL:        asString(r[b.cfg.URLColumn]),
			Name:       asString(r[b.cfg.NameColumn]),
			Site:       asString(r[b.cfg.SiteColumn]),
			SchemaJSON: asString(r[b.cfg.SchemaJSONColumn]),
		})
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func (b *SnowflakeBackend) doJSON(ctx context.Context, payload cortexSearchRequest, out *cortexSearchResponse) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("https://%s.snowflakecomputing.com/api/v2/databases/%s/schemas/%s/cortex-search-services/%s:query",
		b.cfg.Account, b.cfg.Database, b.cfg.Schema, b.cfg.Service)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.cfg.Token)

	resp, err := b.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed with status %s: %s", resp.Status, data)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
