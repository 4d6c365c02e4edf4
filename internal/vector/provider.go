// Package vector implements the retrieval backend bindings behind a
// uniform capability-set interface. Each concrete Backend talks to one
// vector-store or search-engine product; the retriever package fans out
// across whichever backends are configured and enabled.
package vector

import (
	"context"

	"github.com/nlweb-go/gateway/internal/query"
)

// Backend is the capability-set interface a retrieval endpoint must
// implement. GetSites, Upload and Delete are optional: a backend that
// does not support site enumeration returns ErrUnsupported from GetSites,
// which the retriever treats as "always consider this backend".
type Backend interface {
	// Name identifies the backend for logging and error messages.
	Name() string

	// Search performs a site-filtered vector similarity search.
	Search(ctx context.Context, queryVector []float32, queryText string, sites []string, k int) ([]query.Item, error)

	// SearchAllSites performs the same search with no site filter.
	SearchAllSites(ctx context.Context, queryVector []float32, queryText string, k int) ([]query.Item, error)

	// SearchByURL performs an exact-URL lookup, returning ok=false if absent.
	SearchByURL(ctx context.Context, url string) (item query.Item, ok bool, err error)

	// GetSites returns the set of sites known to this backend, or
	// ErrUnsupported if the backend cannot enumerate sites.
	GetSites(ctx context.Context) ([]string, error)

	// Upload writes documents to the backend. Only used by ingestion and
	// only valid against the configured write endpoint.
	Upload(ctx context.Context, items []query.Item) error

	// DeleteBySite removes every document tagged with site.
	DeleteBySite(ctx context.Context, site string) error

	// Close releases any held connections.
	Close() error
}

// ErrUnsupported is returned by GetSites when a backend has no concept of
// site enumeration (e.g. a single-tenant index).
type ErrUnsupported struct{ Op string }

func (e *ErrUnsupported) Error() string { return "vector: " + e.Op + " unsupported by this backend" }
