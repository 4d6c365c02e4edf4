package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/nlweb-go/gateway/internal/query"
)

func TestNewBackend_UnknownType(t *testing.T) {
	_, err := NewBackend(context.Background(), EndpointConfig{Type: "nonsense"})
	if err == nil {
		t.Fatal("expected error for unknown provider type")
	}
}

func TestNewBackend_Qdrant_MissingCollection(t *testing.T) {
	_, err := NewBackend(context.Background(), EndpointConfig{
		Type:   ProviderQdrant,
		Qdrant: QdrantConfig{Host: "localhost", Port: 6334},
	})
	if err == nil {
		t.Fatal("expected error for missing collection")
	}
}

func TestRegistry_RegisterGetList(t *testing.T) {
	reg := NewRegistry()
	a := &fakeRegBackend{name: "a"}
	b := &fakeRegBackend{name: "b"}
	reg.Register("a", a, true)
	reg.Register("b", b, false)

	got, ok := reg.Get("a")
	if !ok || got != a {
		t.Fatalf("Get(a) = %v, %v", got, ok)
	}
	if _, ok := reg.Get("missing"); ok {
		t.Fatal("expected Get(missing) to report not found")
	}

	names := reg.List()
	if len(names) != 2 {
		t.Fatalf("List() = %v, want 2 entries", names)
	}

	writable := reg.WritableEndpoints()
	if len(writable) != 1 || writable[0] != "a" {
		t.Fatalf("WritableEndpoints() = %v, want [a]", writable)
	}
}

func TestRegistry_MustGet_PanicsOnMissing(t *testing.T) {
	reg := NewRegistry()
	defer func() {
		if recover() == nil {
			t.Fatal("expected MustGet to panic for an unregistered name")
		}
	}()
	reg.MustGet("missing")
}

func TestRegistry_Close_CollectsErrors(t *testing.T) {
	reg := NewRegistry()
	reg.Register("ok", &fakeRegBackend{name: "ok"}, false)
	reg.Register("bad", &fakeRegBackend{name: "bad", closeErr: errors.New("boom")}, false)

	if err := reg.Close(); err == nil {
		t.Fatal("expected Close to report the failing backend's error")
	}
}

func TestRegistry_Load_StopsOnFirstError(t *testing.T) {
	reg := NewRegistry()
	err := reg.Load(context.Background(), []EndpointConfig{
		{Name: "good", Type: ProviderAzureAISearch, Enabled: true, AzureSearch: AzureSearchConfig{Endpoint: "https://example", Index: "idx"}},
		{Name: "bad", Type: ProviderQdrant, Enabled: true, Qdrant: QdrantConfig{}},
		{Name: "disabled", Type: ProviderAzureAISearch, Enabled: false},
	})
	if err == nil {
		t.Fatal("expected Load to fail on the qdrant endpoint missing a collection")
	}
	if _, ok := reg.Get("good"); !ok {
		t.Fatal("expected the endpoint registered before the failure to remain usable")
	}
	if _, ok := reg.Get("disabled"); ok {
		t.Fatal("a disabled endpoint must not be constructed")
	}
}

// fakeRegBackend is a minimal Backend double for exercising Registry
// bookkeeping without any real network client.
type fakeRegBackend struct {
	name     string
	closeErr error
}

func (f *fakeRegBackend) Name() string { return f.name }
func (f *fakeRegBackend) Search(ctx context.Context, vec []float32, q string, sites []string, k int) ([]query.Item, error) {
	return nil, nil
}
func (f *fakeRegBackend) SearchAllSites(ctx context.Context, vec []float32, q string, k int) ([]query.Item, error) {
	return nil, nil
}
func (f *fakeRegBackend) SearchByURL(ctx context.Context, url string) (query.Item, bool, error) {
	return query.Item{}, false, nil
}
func (f *fakeRegBackend) GetSites(ctx context.Context) ([]string, error)      { return nil, nil }
func (f *fakeRegBackend) Upload(ctx context.Context, items []query.Item) error { return nil }
func (f *fakeRegBackend) DeleteBySite(ctx context.Context, site string) error  { return nil }
func (f *fakeRegBackend) Close() error                                        { return f.closeErr }
