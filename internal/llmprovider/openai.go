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
	"io"
	"net/http"

	"github.com/nlweb-go/gateway/internal/config"
	"github.com/nlweb-go/gateway/internal/embedder"
	"github.com/nlweb-go/gateway/internal/httpclient"
	"github.com/nlweb-go/gateway/internal/llm"
)

const openAIDefaultHost = "https://api.openai.com/v1"

// OpenAI talks to the Responses API's structured-output mode
// (text.format = json_schema). This gateway only ever asks for a single
// structured JSON value, so the streaming/tool-call/reasoning machinery
// the full API supports is never exercised.
type OpenAI struct {
	apiKey string
	model  string
	host   string
	httpc  *httpclient.Client
}

func NewOpenAI(ref config.EndpointRef, hc *httpclient.Client) *OpenAI {
	host := ref.BaseURL
	if host == "" {
		host = openAIDefaultHost
	}
	return &OpenAI{apiKey: ref.APIKey, model: ref.Model, host: host, httpc: hc}
}

type openAIResponsesRequest struct {
	Model string            `json:"model"`
	Input string            `json:"input"`
	Text  openAITextFormat  `json:"text"`
}

type openAITextFormat struct {
	Format openAIJSONSchemaFormat `json:"format"`
}

type openAIJSONSchemaFormat struct {
	Type   string          `json:"type"`
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type openAIResponsesResponse struct {
	OutputText string `json:"output_text"`
	Output     []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *OpenAI) Ask(ctx context.Context, prompt string, schema json.RawMessage, level llm.Level, out any) error {
	body := openAIResponsesRequest{
		Model: p.model,
		Input: prompt,
		Text: openAITextFormat{Format: openAIJSONSchemaFormat{
			Type:   "json_schema",
			Name:   "result",
			Strict: true,
			Schema: schema,
		}},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("llmprovider(openai): marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/responses", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("llmprovider(openai): build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("llmprovider(openai): request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("llmprovider(openai): read response: %w", err)
	}

	var parsed openAIResponsesResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("llmprovider(openai): decode response: %w", err)
	}
	if parsed.Error != nil {
		return fmt.Errorf("llmprovider(openai): %s", parsed.Error.Message)
	}

	text := parsed.OutputText
	if text == "" {
		for _, item := range parsed.Output {
			for _, c := range item.Content {
				if c.Text != "" {
					text = c.Text
					break
				}
			}
		}
	}
	if text == "" {
		return fmt.Errorf("llmprovider(openai): empty structured response")
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("llmprovider(openai): decode structured output: %w", err)
	}
	return nil
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	apiKey string
	model  string
	host   string
	httpc  *httpclient.Client
}

func NewOpenAIEmbedder(ref config.EndpointRef, hc *httpclient.Client) *OpenAIEmbedder {
	host := ref.BaseURL
	if host == "" {
		host = openAIDefaultHost
	}
	model := ref.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{apiKey: ref.APIKey, model: model, host: host, httpc: hc}
}

type openAIEmbeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	data, err := json.Marshal(openAIEmbeddingRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("llmprovider(openai-embed): marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("llmprovider(openai-embed): build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llmprovider(openai-embed): request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed openAIEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("llmprovider(openai-embed): decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("llmprovider(openai-embed): %s", parsed.Error.Message)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("llmprovider(openai-embed): empty embedding response")
	}
	return parsed.Data[0].Embedding, nil
}

var _ embedder.Client = (*OpenAIEmbedder)(nil)
