// Package llm defines the AskLLM boundary the pipeline calls through.
// This package provides the interface, a model-tier registry, and a
// deterministic fake used by tests; concrete provider wrappers live in
// internal/llmprovider.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Level selects the model tier used for a call: a cheaper/faster model
// for high-volume checks, a stronger one for the calls that most affect
// answer quality.
type Level string

const (
	LevelHigh Level = "high"
	LevelLow  Level = "low"
)

// Client is the structured-output boundary every pipeline component calls
// through: AskLLM(prompt, schema, level) -> structured_value.
//
// schema is a JSON Schema describing the expected return shape; Ask
// unmarshals the provider's response into out, which must be a pointer.
type Client interface {
	Ask(ctx context.Context, prompt string, schema json.RawMessage, level Level, out any) error
}

// Registry resolves a Level to a configured Client.
type Registry struct {
	clients map[Level]Client
}

// NewRegistry builds a registry from explicit tier bindings.
func NewRegistry(high, low Client) *Registry {
	return &Registry{clients: map[Level]Client{LevelHigh: high, LevelLow: low}}
}

// Ask resolves the tier for level and forwards the call.
func (r *Registry) Ask(ctx context.Context, prompt string, schema json.RawMessage, level Level, out any) error {
	c, ok := r.clients[level]
	if !ok || c == nil {
		return fmt.Errorf("llm: no client configured for level %q", level)
	}
	return c.Ask(ctx, prompt, schema, level, out)
}

// WithTimeout wraps a Client so every call is bounded: the pipeline
// treats a hung LLM call the same as any other external dependency.
func WithTimeout(c Client, d time.Duration) Client {
	return &timeoutClient{inner: c, timeout: d}
}

type timeoutClient struct {
	inner   Client
	timeout time.Duration
}

func (t *timeoutClient) Ask(ctx context.Context, prompt string, schema json.RawMessage, level Level, out any) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Ask(ctx, prompt, schema, level, out)
}
