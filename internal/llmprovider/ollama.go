// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llmprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nlweb-go/gateway/internal/config"
	"github.com/nlweb-go/gateway/internal/embedder"
	"github.com/nlweb-go/gateway/internal/httpclient"
	"github.com/nlweb-go/gateway/internal/llm"
)

const ollamaDefaultHost = "http://localhost:11434"

// Ollama targets a local model server's /api/chat, passing the schema as
// the "format" field (format accepts either the literal "json" or a full
// schema object; this client always sends the schema object).
type Ollama struct {
	model string
	host  string
	httpc *httpclient.Client
}

func NewOllama(ref config.EndpointRef, hc *httpclient.Client) *Ollama {
	host := ref.BaseURL
	if host == "" {
		host = ollamaDefaultHost
	}
	return &Ollama{model: ref.Model, host: host, httpc: hc}
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Format   json.RawMessage     `json:"format"`
	Stream   bool                `json:"stream"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Error   string            `json:"error,omitempty"`
}

func (p *Ollama) Ask(ctx context.Context, prompt string, schema json.RawMessage, level llm.Level, out any) error {
	body := ollamaChatRequest{
		Model:    p.model,
		Messages: []ollamaChatMessage{{Role: "user", Content: prompt}},
		Format:   schema,
		Stream:   false,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("llmprovider(ollama): marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("llmprovider(ollama): build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("llmprovider(ollama): request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("llmprovider(ollama): decode response: %w", err)
	}
	if parsed.Error != "" {
		return fmt.Errorf("llmprovider(ollama): %s", parsed.Error)
	}
	return json.Unmarshal([]byte(parsed.Message.Content), out)
}

// OllamaEmbedder calls a local Ollama server's /api/embeddings.
type OllamaEmbedder struct {
	model string
	host  string
	httpc *httpclient.Client
}

func NewOllamaEmbedder(ref config.EndpointRef, hc *httpclient.Client) *OllamaEmbedder {
	host := ref.BaseURL
	if host == "" {
		host = ollamaDefaultHost
	}
	model := ref.Model
	if model == "" {
		model = "nomic-embed-text"
	}
	return &OllamaEmbedder{model: model, host: host, httpc: hc}
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	data, err := json.Marshal(ollamaEmbeddingRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("llmprovider(ollama-embed): marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("llmprovider(ollama-embed): build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llmprovider(ollama-embed): request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed ollamaEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("llmprovider(ollama-embed): decode response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("llmprovider(ollama-embed): %s", parsed.Error)
	}
	return parsed.Embedding, nil
}

var _ embedder.Client = (*OllamaEmbedder)(nil)
