package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"

	"github.com/nlweb-go/gateway/internal/query"
)

// OpenSearchConfig configures an OpenSearch-backed endpoint using the k-NN
// plugin's knn query over the embedding field.
type OpenSearchConfig struct {
	Addresses []string `yaml:"addresses"`
	Username  string   `yaml:"username,omitempty"`
	Password  string   `yaml:"password,omitempty"`
	Index     string   `yaml:"index"`
}

// OpenSearchBackend implements Backend against an OpenSearch index with
// fields {url, name, site, schema_json, embedding}.
type OpenSearchBackend struct {
	client *opensearchapi.Client
	index  string
}

// NewOpenSearchBackend builds a client from cfg and returns a ready Backend.
func NewOpenSearchBackend(cfg OpenSearchConfig) (*OpenSearchBackend, error) {
	if cfg.Index == "" {
		return nil, fmt.Errorf("opensearch: index is required")
	}
	c, err := opensearchapi.NewClient(opensearchapi.Config{
		Client: opensearch.Config{
			Addresses: cfg.Addresses,
			Username:  cfg.Username,
			Password:  cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opensearch: failed to create client: %w", err)
	}
	return &OpenSearchBackend{client: c, index: cfg.Index}, nil
}

func (b *OpenSearchBackend) Name() string { return "opensearch" }

func (b *OpenSearchBackend) Search(ctx context.Context, vec []float32, queryText string, sites []string, k int) ([]query.Item, error) {
	body := knnQueryBody(vec, sites, k)
	resp, err := b.client.Client.Do(ctx, opensearchapi.SearchReq{
		Indices: []string{b.index},
		Body:    strings.NewReader(body),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("opensearch: search failed: %w", err)
	}
	defer resp.Body.Close()
	return parseSearchHits(resp.Body)
}

func (b *OpenSearchBackend) SearchAllSites(ctx context.Context, vec []float32, queryText string, k int) ([]query.Item, error) {
	return b.Search(ctx, vec, queryText, nil, k)
}

func (b *OpenSearchBackend) SearchByURL(ctx context.Context, url string) (query.Item, bool, error) {
	body := fmt.Sprintf(`{"query":{"term":{"url.keyword":%q}},"size":1}`, url)
	resp, err := b.client.Client.Do(ctx, opensearchapi.SearchReq{
		Indices: []string{b.index},
		Body:    strings.NewReader(body),
	}, nil)
	if err != nil {
		return query.Item{}, false, fmt.Errorf("opensearch: lookup failed: %w", err)
	}
	defer resp.Body.Close()
	items, err := parseSearchHits(resp.Body)
	if err != nil || len(items) == 0 {
		return query.Item{}, false, err
	}
	return items[0], true, nil
}

func (b *OpenSearchBackend) GetSites(ctx context.Context) ([]string, error) {
	return nil, &ErrUnsupported{Op: "GetSites"}
}

func (b *OpenSearchBackend) Upload(ctx context.Context, items []query.Item) error {
	for _, it := range items {
		doc, _ := json.Marshal(map[string]string{
			"url": it.URL, "name": it.Name, "site": it.Site, "schema_json": it.SchemaJSON,
		})
		_, err := b.client.Client.Do(ctx, opensearchapi.IndexReq{
			Index:      b.index,
			DocumentID: it.URL,
			Body:       bytes.NewReader(doc),
		}, nil)
		if err != nil {
			return fmt.Errorf("opensearch: index failed for %s: %w", it.URL, err)
		}
	}
	return nil
}

func (b *OpenSearchBackend) DeleteBySite(ctx context.Context, site string) error {
	body := fmt.Sprintf(`{"query":{"term":{"site.keyword":%q}}}`, site)
	_, err := b.client.Client.Do(ctx, opensearchapi.DocumentDeleteByQueryReq{
		Indices: []string{b.index},
		Body:    strings.NewReader(body),
	}, nil)
	if err != nil {
		return fmt.Errorf("opensearch: delete by site failed: %w", err)
	}
	return nil
}

func (b *OpenSearchBackend) Close() error { return nil }

func knnQueryBody(vec []float32, sites []string, k int) string {
	var filter string
	if len(sites) > 0 && !(len(sites) == 1 && sites[0] == "all") {
		data, _ := json.Marshal(sites)
		filter = fmt.Sprintf(`,"filter":{"terms":{"site.keyword":%s}}`, data)
	}
	vecJSON, _ := json.Marshal(vec)
	return fmt.Sprintf(`{"size":%d,"query":{"knn":{"embedding":{"vector":%s,"k":%d%s}}}}`, k, vecJSON, k, filter)
}

type searchHitsEnvelope struct {
	Hits struct {
		Hits []struct {
			Source struct {
				URL        string `json:"url"`
				Name       string `json:"name"`
				Site       string `json:"site"`
				SchemaJSON string `json:"schema_json"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func parseSearchHits(r io.Reader) ([]query.Item, error) {
	var env searchHitsEnvelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	out := make([]query.Item, 0, len(env.Hits.Hits))
	for _, h := range env.Hits.Hits {
		out = append(out, query.Item{
			URL:        h.Source.URL,
			Name:       h.Source.Name,
			Site:       h.Source.Site,
			SchemaJSON: h.Source.SchemaJSON,
		})
	}
	return out, nil
}
