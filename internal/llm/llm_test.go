package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestRegistry_Ask_ResolvesTier(t *testing.T) {
	high := NewFake().When("", map[string]any{"tier": "high"})
	low := NewFake().When("", map[string]any{"tier": "low"})
	reg := NewRegistry(high, low)

	var out map[string]string
	if err := reg.Ask(context.Background(), "p", nil, LevelHigh, &out); err != nil {
		t.Fatalf("Ask(high): %v", err)
	}
	if out["tier"] != "high" {
		t.Fatalf("expected the high tier client, got %v", out)
	}

	if err := reg.Ask(context.Background(), "p", nil, LevelLow, &out); err != nil {
		t.Fatalf("Ask(low): %v", err)
	}
	if out["tier"] != "low" {
		t.Fatalf("expected the low tier client, got %v", out)
	}
}

func TestRegistry_Ask_UnknownLevel(t *testing.T) {
	reg := NewRegistry(NewFake(), NewFake())
	var out map[string]string
	err := reg.Ask(context.Background(), "p", nil, Level("medium"), &out)
	if err == nil {
		t.Fatal("expected an error for an unconfigured level")
	}
}

func TestRegistry_Ask_NilClient(t *testing.T) {
	reg := &Registry{clients: map[Level]Client{LevelHigh: nil}}
	var out map[string]string
	if err := reg.Ask(context.Background(), "p", nil, LevelHigh, &out); err == nil {
		t.Fatal("expected an error for a registered but nil client")
	}
}

func TestWithTimeout_PropagatesContextDeadline(t *testing.T) {
	slow := &blockingClient{release: make(chan struct{})}
	defer close(slow.release)

	c := WithTimeout(slow, 10*time.Millisecond)
	var out map[string]string
	err := c.Ask(context.Background(), "p", nil, LevelHigh, &out)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Ask error = %v, want context.DeadlineExceeded", err)
	}
}

type blockingClient struct {
	release chan struct{}
}

func (b *blockingClient) Ask(ctx context.Context, prompt string, schema json.RawMessage, level Level, out any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.release:
		return nil
	}
}

func TestFake_MatchesInRegistrationOrder(t *testing.T) {
	fake := NewFake().
		When("hello", map[string]any{"which": "hello"}).
		When("", map[string]any{"which": "default"})

	var out map[string]string
	if err := fake.Ask(context.Background(), "hello world", nil, LevelHigh, &out); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if out["which"] != "hello" {
		t.Fatalf("expected the hello match to win, got %v", out)
	}

	if err := fake.Ask(context.Background(), "goodbye world", nil, LevelHigh, &out); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if out["which"] != "default" {
		t.Fatalf("expected the catch-all match, got %v", out)
	}
}

func TestFake_NoMatchReturnsEmptyObject(t *testing.T) {
	fake := NewFake().When("specific", map[string]any{"x": 1})
	var out map[string]any
	if err := fake.Ask(context.Background(), "unrelated prompt", nil, LevelHigh, &out); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected an empty object when nothing matches, got %v", out)
	}
}

func TestFake_FailWith(t *testing.T) {
	boom := errors.New("boom")
	fake := NewFake().FailWith(boom)
	var out map[string]any
	err := fake.Ask(context.Background(), "anything", nil, LevelHigh, &out)
	if !errors.Is(err, boom) {
		t.Fatalf("Ask error = %v, want %v", err, boom)
	}
}

func TestFake_CountsCalls(t *testing.T) {
	fake := NewFake().When("", map[string]any{})
	var out map[string]any
	fake.Ask(context.Background(), "a", nil, LevelHigh, &out)
	fake.Ask(context.Background(), "b", nil, LevelHigh, &out)
	if fake.Calls() != 2 {
		t.Fatalf("Calls() = %d, want 2", fake.Calls())
	}
}
