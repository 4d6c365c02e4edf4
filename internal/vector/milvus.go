package vector

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/nlweb-go/gateway/internal/query"
)

// MilvusConfig configures a Milvus-backed endpoint.
type MilvusConfig struct {
	Address    string `yaml:"address"`
	Collection string `yaml:"collection"`
}

// MilvusBackend implements Backend using the native Milvus gRPC SDK.
type MilvusBackend struct {
	client     client.Client
	collection string
}

// NewMilvusBackend dials Milvus and returns a ready Backend.
func NewMilvusBackend(ctx context.Context, cfg MilvusConfig) (*MilvusBackend, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("milvus: collection is required")
	}
	c, err := client.NewClient(ctx, client.Config{Address: cfg.Address})
	if err != nil {
		return nil, fmt.Errorf("milvus: failed to connect to %s: %w", cfg.Address, err)
	}
	return &MilvusBackend{client: c, collection: cfg.Collection}, nil
}

func (b *MilvusBackend) Name() string { return "milvus" }

func (b *MilvusBackend) Search(ctx context.Context, vec []float32, queryText string, sites []string, k int) ([]query.Item, error) {
	expr := ""
	if len(sites) > 0 && !(len(sites) == 1 && sites[0] == "all") {
		expr = buildSiteExpr(sites)
	}

	sp, err := entity.NewIndexFlatSearchParam(10)
	if err != nil {
		return nil, fmt.Errorf("milvus: search param: %w", err)
	}

	results, err := b.client.Search(ctx, b.collection, nil, expr,
		[]string{"url", "name", "site", "schema_json"},
		[]entity.Vector{entity.FloatVector(vec)},
		"embedding", entity.L2, k, sp)
	if err != nil {
		return nil, fmt.Errorf("milvus: search failed: %w", err)
	}

	var out []query.Item
	for _, r := range results {
		out = append(out, fieldsToItems(r)...)
	}
	return out, nil
}

func (b *MilvusBackend) SearchAllSites(ctx context.Context, vec []float32, queryText string, k int) ([]query.Item, error) {
	return b.Search(ctx, vec, queryText, nil, k)
}

func (b *MilvusBackend) SearchByURL(ctx context.Context, url string) (query.Item, bool, error) {
	expr := fmt.Sprintf(`url == "%s"`, escapeExpr(url))
	result, err := b.client.Query(ctx, b.collection, nil, expr, []string{"url", "name", "site", "schema_json"})
	if err != nil {
		return query.Item{}, false, fmt.Errorf("milvus: query failed: %w", err)
	}
	items := columnsToItems(result)
	if len(items) == 0 {
		return query.Item{}, false, nil
	}
	return items[0], true, nil
}

func (b *MilvusBackend) GetSites(ctx context.Context) ([]string, error) {
	return nil, &ErrUnsupported{Op: "GetSites"}
}

func (b *MilvusBackend) Upload(ctx context.Context, items []query.Item) error {
	return &ErrUnsupported{Op: "Upload (ingestion writes go through the dedicated crawler pipeline)"}
}

func (b *MilvusBackend) DeleteBySite(ctx context.Context, site string) error {
	expr := fmt.Sprintf(`site == "%s"`, escapeExpr(site))
	return b.client.Delete(ctx, b.collection, "", expr)
}

func (b *MilvusBackend) Close() error {
	return b.client.Close()
}

func buildSiteExpr(sites []string) string {
	expr := `site in [`
	for i, s := range sites {
		if i > 0 {
			expr += ","
		}
		expr += fmt.Sprintf(`"%s"`, escapeExpr(s))
	}
	return expr + "]"
}

func escapeExpr(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '"' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

func fieldsToItems(rs client.SearchResult) []query.Item {
	var out []query.Item
	n := rs.ResultCount
	cols := map[string]entity.Column{}
	for _, c := range rs.Fields {
		cols[c.Name()] = c
	}
	for i := 0; i < n; i++ {
		out = append(out, query.Item{
			URL:        stringAt(cols["url"], i),
			Name:       stringAt(cols["name"], i),
			Site:       stringAt(cols["site"], i),
			SchemaJSON: stringAt(cols["schema_json"], i),
		})
	}
	return out
}

func columnsToItems(cols []entity.Column) []query.Item {
	byName := map[string]entity.Column{}
	n := 0
	for _, c := range cols {
		byName[c.Name()] = c
		if c.Len() > n {
			n = c.Len()
		}
	}
	var out []query.Item
	for i := 0; i < n; i++ {
		out = append(out, query.Item{
			URL:        stringAt(byName["url"], i),
			Name:       stringAt(byName["name"], i),
			Site:       stringAt(byName["site"], i),
			SchemaJSON: stringAt(byName["schema_json"], i),
		})
	}
	return out
}

func stringAt(col entity.Column, i int) string {
	if col == nil {
		return ""
	}
	sc, ok := col.(*entity.ColumnVarChar)
	if !ok {
		return ""
	}
	v, err := sc.ValueByIdx(i)
	if err != nil {
		return ""
	}
	return v
}
