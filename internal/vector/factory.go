package vector

import (
	"context"
	"fmt"
	"sync"
)

// ProviderType identifies the kind of retrieval endpoint an EndpointConfig
// describes.
type ProviderType string

const (
	ProviderQdrant          ProviderType = "qdrant"
	ProviderOpenSearch      ProviderType = "opensearch"
	ProviderElasticsearch   ProviderType = "elasticsearch"
	ProviderPostgres        ProviderType = "postgres"
	ProviderSnowflakeCortex ProviderType = "snowflake_cortex_search"
	ProviderMilvus          ProviderType = "milvus"
	ProviderAzureAISearch   ProviderType = "azure_ai_search"
)

// EndpointConfig is the union of fields needed to construct any backend
// type; only the fields relevant to Type are consulted.
type EndpointConfig struct {
	Name    string       `yaml:"name"`
	Type    ProviderType `yaml:"type"`
	Enabled bool         `yaml:"enabled"`
	Write   bool         `yaml:"write,omitempty"`

	Qdrant        QdrantConfig        `yaml:",inline"`
	OpenSearch    OpenSearchConfig    `yaml:",inline"`
	Elasticsearch ElasticsearchConfig `yaml:",inline"`
	Postgres      PostgresConfig      `yaml:",inline"`
	Snowflake     SnowflakeConfig     `yaml:",inline"`
	Milvus        MilvusConfig        `yaml:",inline"`
	AzureSearch   AzureSearchConfig   `yaml:",inline"`
}

// NewBackend constructs the concrete Backend named by cfg.Type.
func NewBackend(ctx context.Context, cfg EndpointConfig) (Backend, error) {
	switch cfg.Type {
	case ProviderQdrant:
		return NewQdrantBackend(cfg.Qdrant)
	case ProviderOpenSearch:
		return NewOpenSearchBackend(cfg.OpenSearch)
	case ProviderElasticsearch:
		return NewElasticsearchBackend(cfg.Elasticsearch)
	case ProviderPostgres:
		return NewPostgresBackend(ctx, cfg.Postgres)
	case ProviderSnowflakeCortex:
		return NewSnowflakeBackend(cfg.Snowflake)
	case ProviderMilvus:
		return NewMilvusBackend(ctx, cfg.Milvus)
	case ProviderAzureAISearch:
		return NewAzureSearchBackend(cfg.AzureSearch)
	default:
		return nil, fmt.Errorf("vector: unknown provider type %q", cfg.Type)
	}
}

// Registry caches constructed Backend instances by endpoint name for the
// lifetime of the process.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
	writable map[string]bool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
		writable: make(map[string]bool),
	}
}

// Load constructs and registers a Backend for each enabled endpoint in cfgs.
// It returns on the first construction error; endpoints already registered
// before the failure remain usable.
func (r *Registry) Load(ctx context.Context, cfgs []EndpointConfig) error {
	for _, c := range cfgs {
		if !c.Enabled {
			continue
		}
		b, err := NewBackend(ctx, c)
		if err != nil {
			return fmt.Errorf("vector: failed to construct endpoint %q: %w", c.Name, err)
		}
		r.Register(c.Name, b, c.Write)
	}
	return nil
}

// Register adds b to the registry under name.
func (r *Registry) Register(name string, b Backend, writable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = b
	r.writable[name] = writable
}

// Get returns the backend registered under name, if any.
func (r *Registry) Get(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

// MustGet returns the backend registered under name or panics.
// Intended for startup-time wiring where a missing endpoint is a config bug.
func (r *Registry) MustGet(name string) Backend {
	b, ok := r.Get(name)
	if !ok {
		panic(fmt.Sprintf("vector: no endpoint registered under name %q", name))
	}
	return b
}

// List returns the names of all registered endpoints.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for n := range r.backends {
		names = append(names, n)
	}
	return names
}

// WritableEndpoints returns the names of endpoints configured for writes
// (Upload / DeleteBySite), used by the ingestion-facing callers.
func (r *Registry) WritableEndpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for n, w := range r.writable {
		if w {
			names = append(names, n)
		}
	}
	return names
}

// Close closes every registered backend, collecting any errors.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for name, b := range r.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("vector: errors closing backends: %v", errs)
	}
	return nil
}
