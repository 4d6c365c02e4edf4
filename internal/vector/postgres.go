package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nlweb-go/gateway/internal/query"
)

// PostgresConfig configures a Postgres+pgvector-backed endpoint. The
// pgvector extension supplies the <=> cosine-distance operator used in
// Search below.
type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// PostgresBackend implements Backend against a table with columns
// (url text, name text, site text, schema_json text, embedding vector(n)).
type PostgresBackend struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresBackend connects to Postgres and returns a ready Backend.
func NewPostgresBackend(ctx context.Context, cfg PostgresConfig) (*PostgresBackend, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("postgres: table is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to connect: %w", err)
	}
	return &PostgresBackend{pool: pool, table: cfg.Table}, nil
}

func (b *PostgresBackend) Name() string { return "postgres" }

func (b *PostgresBackend) Search(ctx context.Context, vec []float32, queryText string, sites []string, k int) ([]query.Item, error) {
	var (
		rows interface {
			Next() bool
			Scan(dest ...any) error
			Close()
			Err() error
		}
		err error
	)

	base := fmt.Sprintf(`SELECT url, name, site, schema_json FROM %s`, b.table)
	if len(sites) > 0 && !(len(sites) == 1 && sites[0] == "all") {
		base += fmt.Sprintf(` WHERE site = ANY($2) ORDER BY embedding <=> $1 LIMIT $3`)
		rows, err = b.pool.Query(ctx, base, pgVector(vec), sites, k)
	} else {
		base += ` ORDER BY embedding <=> $1 LIMIT $2`
		rows, err = b.pool.Query(ctx, base, pgVector(vec), k)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: search failed: %w", err)
	}
	defer rows.Close()

	var out []query.Item
	for rows.Next() {
		var it query.Item
		if err := rows.Scan(&it.URL, &it.Name, &it.Site, &it.SchemaJSON); err != nil {
			return nil, fmt.Errorf("postgres: scan failed: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (b *PostgresBackend) SearchAllSites(ctx context.Context, vec []float32, queryText string, k int) ([]query.Item, error) {
	return b.Search(ctx, vec, queryText, nil, k)
}

func (b *PostgresBackend) SearchByURL(ctx context.Context, url string) (query.Item, bool, error) {
	row := b.pool.QueryRow(ctx, fmt.Sprintf(`SELECT url, name, site, schema_json FROM %s WHERE url = $1`, b.table), url)
	var it query.Item
	if err := row.Scan(&it.URL, &it.Name, &it.Site, &it.SchemaJSON); err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return query.Item{}, false, nil
		}
		return query.Item{}, false, fmt.Errorf("postgres: lookup failed: %w", err)
	}
	return it, true, nil
}

func (b *PostgresBackend) GetSites(ctx context.Context) ([]string, error) {
	rows, err := b.pool.Query(ctx, fmt.Sprintf(`SELECT DISTINCT site FROM %s`, b.table))
	if err != nil {
		return nil, fmt.Errorf("postgres: get sites failed: %w", err)
	}
	defer rows.Close()
	var sites []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		sites = append(sites, s)
	}
	return sites, rows.Err()
}

func (b *PostgresBackend) Upload(ctx context.Context, items []query.Item) error {
	for _, it := range items {
		_, err := b.pool.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (url, name, site, schema_json) VALUES ($1,$2,$3,$4)
				ON CONFLICT (url) DO UPDATE SET name=$2, site=$3, schema_json=$4`, b.table),
			it.URL, it.Name, it.Site, it.SchemaJSON)
		if err != nil {
			return fmt.Errorf("postgres: upload failed for %s: %w", it.URL, err)
		}
	}
	return nil
}

func (b *PostgresBackend) DeleteBySite(ctx context.Context, site string) error {
	_, err := b.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE site = $1`, b.table), site)
	if err != nil {
		return fmt.Errorf("postgres: delete by site failed: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

// pgVector renders a float32 slice as the pgvector text literal, e.g. "[0.1,0.2]".
func pgVector(v []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%g", f)
	}
	sb.WriteByte(']')
	return sb.String()
}
