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
	"github.com/nlweb-go/gateway/internal/httpclient"
	"github.com/nlweb-go/gateway/internal/llm"
)

const anthropicDefaultHost = "https://api.anthropic.com"

// Anthropic forces structured output through a single synthetic tool
// call: the schema becomes the tool's input_schema and tool_choice pins
// the model to calling it, so the tool_use block's input is exactly the
// structured value the caller asked for.
type Anthropic struct {
	apiKey string
	model  string
	host   string
	httpc  *httpclient.Client
}

func NewAnthropic(ref config.EndpointRef, hc *httpclient.Client) *Anthropic {
	host := ref.BaseURL
	if host == "" {
		host = anthropicDefaultHost
	}
	return &Anthropic{apiKey: ref.APIKey, model: ref.Model, host: host, httpc: hc}
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model      string              `json:"model"`
	Messages   []anthropicMessage  `json:"messages"`
	MaxTokens  int                 `json:"max_tokens"`
	Tools      []anthropicTool     `json:"tools"`
	ToolChoice anthropicToolChoice `json:"tool_choice"`
}

type anthropicContent struct {
	Type  string          `json:"type"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

const structuredToolName = "emit_result"

func (p *Anthropic) Ask(ctx context.Context, prompt string, schema json.RawMessage, level llm.Level, out any) error {
	body := anthropicRequest{
		Model:     p.model,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
		MaxTokens: 4096,
		Tools: []anthropicTool{{
			Name:        structuredToolName,
			Description: "Emit the structured result for this request.",
			InputSchema: schema,
		}},
		ToolChoice: anthropicToolChoice{Type: "tool", Name: structuredToolName},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("llmprovider(anthropic): marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/v1/messages", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("llmprovider(anthropic): build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("llmprovider(anthropic): request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("llmprovider(anthropic): decode response: %w", err)
	}
	if parsed.Error != nil {
		return fmt.Errorf("llmprovider(anthropic): %s", parsed.Error.Message)
	}

	for _, c := range parsed.Content {
		if c.Type == "tool_use" && c.Name == structuredToolName {
			return json.Unmarshal(c.Input, out)
		}
	}
	return fmt.Errorf("llmprovider(anthropic): no tool_use block in response")
}
