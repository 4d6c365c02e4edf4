package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/nlweb-go/gateway/internal/query"
)

// ElasticsearchConfig configures an Elasticsearch-backed endpoint using
// dense_vector kNN search.
type ElasticsearchConfig struct {
	Addresses []string `yaml:"addresses"`
	APIKey    string   `yaml:"api_key,omitempty"`
	Index     string   `yaml:"index"`
}

// ElasticsearchBackend implements Backend against an index with fields
// {url, name, site, schema_json, embedding}.
type ElasticsearchBackend struct {
	client *elasticsearch.Client
	index  string
}

// NewElasticsearchBackend builds a client from cfg and returns a ready Backend.
func NewElasticsearchBackend(cfg ElasticsearchConfig) (*ElasticsearchBackend, error) {
	if cfg.Index == "" {
		return nil, fmt.Errorf("elasticsearch: index is required")
	}
	c, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		APIKey:    cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: failed to create client: %w", err)
	}
	return &ElasticsearchBackend{client: c, index: cfg.Index}, nil
}

func (b *ElasticsearchBackend) Name() string { return "elasticsearch" }

func (b *ElasticsearchBackend) Search(ctx context.Context, vec []float32, queryText string, sites []string, k int) ([]query.Item, error) {
	body := esKnnQueryBody(vec, sites, k)
	resp, err := b.client.Search(
		b.client.Search.WithContext(ctx),
		b.client.Search.WithIndex(b.index),
		b.client.Search.WithBody(strings.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: search failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return nil, fmt.Errorf("elasticsearch: search returned status %s", resp.Status())
	}
	return parseSearchHits(resp.Body)
}

func (b *ElasticsearchBackend) SearchAllSites(ctx context.Context, vec []float32, queryText string, k int) ([]query.Item, error) {
	return b.Search(ctx, vec, queryText, nil, k)
}

func (b *ElasticsearchBackend) SearchByURL(ctx context.Context, url string) (query.Item, bool, error) {
	body := fmt.Sprintf(`{"query":{"term":{"url.keyword":%q}},"size":1}`, url)
	resp, err := b.client.Search(
		b.client.Search.WithContext(ctx),
		b.client.Search.WithIndex(b.index),
		b.client.Search.WithBody(strings.NewReader(body)),
	)
	if err != nil {
		return query.Item{}, false, fmt.Errorf("elasticsearch: lookup failed: %w", err)
	}
	defer resp.Body.Close()
	items, err := parseSearchHits(resp.Body)
	if err != nil || len(items) == 0 {
		return query.Item{}, false, err
	}
	return items[0], true, nil
}

func (b *ElasticsearchBackend) GetSites(ctx context.Context) ([]string, error) {
	return nil, &ErrUnsupported{Op: "GetSites"}
}

func (b *ElasticsearchBackend) Upload(ctx context.Context, items []query.Item) error {
	for _, it := range items {
		doc, _ := json.Marshal(map[string]string{
			"url": it.URL, "name": it.Name, "site": it.Site, "schema_json": it.SchemaJSON,
		})
		req := esapi.IndexRequest{
			Index:      b.index,
			DocumentID: it.URL,
			Body:       bytes.NewReader(doc),
		}
		resp, err := req.Do(ctx, b.client)
		if err != nil {
			return fmt.Errorf("elasticsearch: index failed for %s: %w", it.URL, err)
		}
		resp.Body.Close()
		if resp.IsError() {
			return fmt.Errorf("elasticsearch: index returned status %s for %s", resp.Status(), it.URL)
		}
	}
	return nil
}

func (b *ElasticsearchBackend) DeleteBySite(ctx context.Context, site string) error {
	body := fmt.Sprintf(`{"query":{"term":{"site.keyword":%q}}}`, site)
	req := esapi.DeleteByQueryRequest{
		Index: []string{b.index},
		Body:  strings.NewReader(body),
	}
	resp, err := req.Do(ctx, b.client)
	if err != nil {
		return fmt.Errorf("elasticsearch: delete by site failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return fmt.Errorf("elasticsearch: delete by site returned status %s", resp.Status())
	}
	return nil
}

func (b *ElasticsearchBackend) Close() error { return nil }

func esKnnQueryBody(vec []float32, sites []string, k int) string {
	var filter string
	if len(sites) > 0 && !(len(sites) == 1 && sites[0] == "all") {
		data, _ := json.Marshal(sites)
		filter = fmt.Sprintf(`,"filter":{"terms":{"site.keyword":%s}}`, data)
	}
	vecJSON, _ := json.Marshal(vec)
	return fmt.Sprintf(`{"knn":{"field":"embedding","query_vector":%s,"k":%d,"num_candidates":%d%s}}`, vecJSON, k, k*10, filter)
}
