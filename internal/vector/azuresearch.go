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

// AzureSearchConfig configures an Azure AI Search-backed endpoint.
//
// Azure AI Search has no official low-level Go client for vector queries,
// so this backend wraps its REST API directly with net/http, the same
// way the Snowflake Cortex Search backend does for its API.
type AzureSearchConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Index    string `yaml:"index"`
}

// AzureSearchBackend implements Backend over the Azure AI Search REST API.
type AzureSearchBackend struct {
	http     *http.Client
	endpoint string
	apiKey   string
	index    string
}

// NewAzureSearchBackend returns a ready Backend for cfg.
func NewAzureSearchBackend(cfg AzureSearchConfig) (*AzureSearchBackend, error) {
	if cfg.Endpoint == "" || cfg.Index == "" {
		return nil, fmt.Errorf("azuresearch: endpoint and index are required")
	}
	return &AzureSearchBackend{
		http:     &http.Client{},
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		index:    cfg.Index,
	}, nil
}

func (b *AzureSearchBackend) Name() string { return "azure_ai_search" }

type azureSearchDoc struct {
	URL        string `json:"url"`
	Name       string `json:"name"`
	Site       string `json:"site"`
	SchemaJSON string `json:"schema_json"`
}

type azureSearchResponse struct {
	Value []azureSearchDoc `json:"value"`
}

func (b *AzureSearchBackend) Search(ctx context.Context, vec []float32, queryText string, sites []string, k int) ([]query.Item, error) {
	payload := map[string]any{
		"vectorQueries": []map[string]any{
			{"kind": "vector", "vector": vec, "k": k, "fields": "embedding"},
		},
		"top": k,
	}
	if len(sites) > 0 && !(len(sites) == 1 && sites[0] == "all") {
		payload["filter"] = siteFilterExpr(sites)
	}

	var out azureSearchResponse
	if err := b.doJSON(ctx, http.MethodPost, fmt.Sprintf("/indexes/%s/docs/search", b.index), payload, &out); err != nil {
		return nil, fmt.Errorf("azuresearch: search failed: %w", err)
	}
	return docsToItems(out.Value), nil
}

func (b *AzureSearchBackend) SearchAllSites(ctx context.Context, vec []float32, queryText string, k int) ([]query.Item, error) {
	return b.Search(ctx, vec, queryText, nil, k)
}

func (b *AzureSearchBackend) SearchByURL(ctx context.Context, url string) (query.Item, bool, error) {
	payload := map[string]any{
		"search": "*",
		"filter": fmt.Sprintf("url eq '%s'", escapeODataLiteral(url)),
		"top":    1,
	}
	var out azureSearchResponse
	if err := b.doJSON(ctx, http.MethodPost, fmt.Sprintf("/indexes/%s/docs/search", b.index), payload, &out); err != nil {
		return query.Item{}, false, fmt.Errorf("azuresearch: lookup failed: %w", err)
	}
	if len(out.Value) == 0 {
		return query.Item{}, false, nil
	}
	items := docsToItems(out.Value)
	return items[0], true, nil
}

func (b *AzureSearchBackend) GetSites(ctx context.Context) ([]string, error) {
	return nil, &ErrUnsupported{Op: "GetSites"}
}

func (b *AzureSearchBackend) Upload(ctx context.Context, items []query.Item) error {
	docs := make([]map[string]any, 0, len(items))
	for _, it := range items {
		docs = append(docs, map[string]any{
			"@search.action": "mergeOrUpload",
			"url":            it.URL,
			"name":           it.Name,
			"site":           it.Site,
			"schema_json":    it.SchemaJSON,
		})
	}
	payload := map[string]any{"value": docs}
	var out json.RawMessage
	if err := b.doJSON(ctx, http.MethodPost, fmt.Sprintf("/indexes/%s/docs/index", b.index), payload, &out); err != nil {
		return fmt.Errorf("azuresearch: upload failed: %w", err)
	}
	return nil
}

func (b *AzureSearchBackend) DeleteBySite(ctx context.Context, site string) error {
	urls, err := b.urlsForSite(ctx, site)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return nil
	}
	docs := make([]map[string]any, 0, len(urls))
	for _, u := range urls {
		docs = append(docs, map[string]any{"@search.action": "delete", "url": u})
	}
	payload := map[string]any{"value": docs}
	var out json.RawMessage
	return b.doJSON(ctx, http.MethodPost, fmt.Sprintf("/indexes/%s/docs/index", b.index), payload, &out)
}

func (b *AzureSearchBackend) urlsForSite(ctx context.Context, site string) ([]string, error) {
	payload := map[string]any{
		"search": "*",
		"filter": fmt.Sprintf("site eq '%s'", escapeODataLiteral(site)),
		"select": "url",
		"top":    1000,
	}
	var out azureSearchResponse
	if err := b.doJSON(ctx, http.MethodPost, fmt.Sprintf("/indexes/%s/docs/search", b.index), payload, &out); err != nil {
		return nil, fmt.Errorf("azuresearch: site lookup failed: %w", err)
	}
	urls := make([]string, 0, len(out.Value))
	for _, d := range out.Value {
		urls = append(urls, d.URL)
	}
	return urls, nil
}

func (b *AzureSearchBackend) Close() error { return nil }

func (b *AzureSearchBackend) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := b.endpoint + path + "?api-version=2024-07-01"
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", b.apiKey)

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

func docsToItems(docs []azureSearchDoc) []query.Item {
	out := make([]query.Item, 0, len(docs))
	for _, d := range docs {
		out = append(out, query.Item{URL: d.URL, Name: d.Name, Site: d.Site, SchemaJSON: d.SchemaJSON})
	}
	return out
}

func siteFilterExpr(sites []string) string {
	expr := ""
	for i, s := range sites {
		if i > 0 {
			expr += " or "
		}
		expr += fmt.Sprintf("site eq '%s'", escapeODataLiteral(s))
	}
	return expr
}

func escapeODataLiteral(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, s[i])
	}
	return string(out)
}
