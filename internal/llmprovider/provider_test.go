package llmprovider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nlweb-go/gateway/internal/config"
	"github.com/nlweb-go/gateway/internal/httpclient"
	"github.com/nlweb-go/gateway/internal/llm"
)

type structured struct {
	Answer string `json:"answer"`
}

func newTestHTTPClient() *httpclient.Client {
	return httpclient.New(httpclient.WithMaxRetries(0))
}

func TestOpenAI_Ask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"output_text":"{\"answer\":\"ok\"}"}`))
	}))
	defer srv.Close()

	p := NewOpenAI(config.EndpointRef{Provider: "openai", Model: "gpt-4o-mini", APIKey: "test", BaseURL: srv.URL}, newTestHTTPClient())

	var out structured
	if err := p.Ask(context.Background(), "hello", json.RawMessage(`{"type":"object"}`), llm.LevelHigh, &out); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if out.Answer != "ok" {
		t.Errorf("Answer = %q, want ok", out.Answer)
	}
}

func TestOpenAI_Ask_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"message":"bad request"}}`))
	}))
	defer srv.Close()

	p := NewOpenAI(config.EndpointRef{Provider: "openai", Model: "gpt-4o-mini", APIKey: "test", BaseURL: srv.URL}, newTestHTTPClient())

	var out structured
	err := p.Ask(context.Background(), "hello", json.RawMessage(`{}`), llm.LevelLow, &out)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestAnthropic_Ask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.ToolChoice.Name != structuredToolName {
			t.Errorf("tool_choice.name = %q, want %q", req.ToolChoice.Name, structuredToolName)
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"tool_use","name":"emit_result","input":{"answer":"ok"}}]}`))
	}))
	defer srv.Close()

	p := NewAnthropic(config.EndpointRef{Provider: "anthropic", Model: "claude-sonnet", APIKey: "test", BaseURL: srv.URL}, newTestHTTPClient())

	var out structured
	if err := p.Ask(context.Background(), "hello", json.RawMessage(`{"type":"object"}`), llm.LevelHigh, &out); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if out.Answer != "ok" {
		t.Errorf("Answer = %q, want ok", out.Answer)
	}
}

func TestGemini_Ask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"answer\":\"ok\"}"}]}}]}`))
	}))
	defer srv.Close()

	p := NewGemini(config.EndpointRef{Provider: "gemini", Model: "gemini-1.5-flash", APIKey: "test", BaseURL: srv.URL}, newTestHTTPClient())

	var out structured
	if err := p.Ask(context.Background(), "hello", json.RawMessage(`{"type":"object"}`), llm.LevelLow, &out); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if out.Answer != "ok" {
		t.Errorf("Answer = %q, want ok", out.Answer)
	}
}

func TestOllama_Ask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"{\"answer\":\"ok\"}"}}`))
	}))
	defer srv.Close()

	p := NewOllama(config.EndpointRef{Provider: "ollama", Model: "llama3", BaseURL: srv.URL}, newTestHTTPClient())

	var out structured
	if err := p.Ask(context.Background(), "hello", json.RawMessage(`{"type":"object"}`), llm.LevelLow, &out); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if out.Answer != "ok" {
		t.Errorf("Answer = %q, want ok", out.Answer)
	}
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(config.EndpointRef{Provider: "openai", APIKey: "test", BaseURL: srv.URL}, newTestHTTPClient())

	vec, err := e.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("len(vec) = %d, want 3", len(vec))
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	if _, err := New(config.EndpointRef{Provider: "unknown"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestNewEmbedder_UnknownProvider(t *testing.T) {
	if _, err := NewEmbedder(config.EndpointRef{Provider: "unknown"}); err == nil {
		t.Fatal("expected error for unknown embedding provider")
	}
}
