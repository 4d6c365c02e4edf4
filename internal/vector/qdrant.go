package vector

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/nlweb-go/gateway/internal/query"
)

// QdrantConfig configures a Qdrant-backed endpoint.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key,omitempty"`
	UseTLS     bool   `yaml:"use_tls,omitempty"`
	Collection string `yaml:"collection"`
}

// QdrantBackend implements Backend using the native Qdrant gRPC client.
type QdrantBackend struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantBackend dials a Qdrant instance and returns a ready Backend.
func NewQdrantBackend(cfg QdrantConfig) (*QdrantBackend, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant: collection is required")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client for %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return &QdrantBackend{client: client, collection: cfg.Collection}, nil
}

func (b *QdrantBackend) Name() string { return "qdrant" }

func (b *QdrantBackend) Search(ctx context.Context, vec []float32, queryText string, sites []string, k int) ([]query.Item, error) {
	req := &qdrant.SearchPoints{
		CollectionName: b.collection,
		Vector:         vec,
		Limit:          uint64(k),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(sites) > 0 && !(len(sites) == 1 && sites[0] == "all") {
		req.Filter = siteFilter(sites)
	}

	result, err := b.client.GetPointsClient().Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}
	return pointsToItems(result.Result), nil
}

func (b *QdrantBackend) SearchAllSites(ctx context.Context, vec []float32, queryText string, k int) ([]query.Item, error) {
	return b.Search(ctx, vec, queryText, nil, k)
}

func (b *QdrantBackend) SearchByURL(ctx context.Context, url string) (query.Item, bool, error) {
	limit := uint32(1)
	req := &qdrant.ScrollPoints{
		CollectionName: b.collection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{matchKeyword("url", url)},
		},
		Limit:       &limit,
		WithPayload: qdrant.NewWithPayload(true),
	}
	resp, err := b.client.Scroll(ctx, req)
	if err != nil {
		return query.Item{}, false, fmt.Errorf("qdrant: scroll failed: %w", err)
	}
	if len(resp) == 0 {
		return query.Item{}, false, nil
	}
	items := retrievedToItems(resp)
	return items[0], true, nil
}

func (b *QdrantBackend) GetSites(ctx context.Context) ([]string, error) {
	return nil, &ErrUnsupported{Op: "GetSites"}
}

func (b *QdrantBackend) Upload(ctx context.Context, items []query.Item) error {
	points := make([]*qdrant.PointStruct, 0, len(items))
	for _, it := range items {
		urlVal, _ := qdrant.NewValue(it.URL)
		nameVal, _ := qdrant.NewValue(it.Name)
		siteVal, _ := qdrant.NewValue(it.Site)
		schemaVal, _ := qdrant.NewValue(it.SchemaJSON)
		payload := map[string]*qdrant.Value{
			"url":    urlVal,
			"name":   nameVal,
			"site":   siteVal,
			"schema": schemaVal,
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(it.URL),
			Payload: payload,
		})
	}
	_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: b.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

func (b *QdrantBackend) DeleteBySite(ctx context.Context, site string) error {
	_, err := b.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: b.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{Must: []*qdrant.Condition{matchKeyword("site", site)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete by site failed: %w", err)
	}
	return nil
}

func (b *QdrantBackend) Close() error {
	return b.client.Close()
}

func matchKeyword(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func siteFilter(sites []string) *qdrant.Filter {
	should := make([]*qdrant.Condition, 0, len(sites))
	for _, s := range sites {
		should = append(should, matchKeyword("site", s))
	}
	return &qdrant.Filter{Should: should}
}

func pointsToItems(points []*qdrant.ScoredPoint) []query.Item {
	out := make([]query.Item, 0, len(points))
	for _, p := range points {
		out = append(out, payloadToItem(p.GetPayload()))
	}
	return out
}

func retrievedToItems(points []*qdrant.RetrievedPoint) []query.Item {
	out := make([]query.Item, 0, len(points))
	for _, p := range points {
		out = append(out, payloadToItem(p.GetPayload()))
	}
	return out
}

func payloadToItem(payload map[string]*qdrant.Value) query.Item {
	get := func(k string) string {
		if v, ok := payload[k]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	return query.Item{
		URL:        get("url"),
		Name:       get("name"),
		Site:       get("site"),
		SchemaJSON: get("schema"),
	}
}
