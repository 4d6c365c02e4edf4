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

const geminiDefaultHost = "https://generativelanguage.googleapis.com/v1beta"

// Gemini asks for structured JSON via generationConfig.responseSchema.
type Gemini struct {
	apiKey string
	model  string
	host   string
	httpc  *httpclient.Client
}

func NewGemini(ref config.EndpointRef, hc *httpclient.Client) *Gemini {
	host := ref.BaseURL
	if host == "" {
		host = geminiDefaultHost
	}
	return &Gemini{apiKey: ref.APIKey, model: ref.Model, host: host, httpc: hc}
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	ResponseMimeType string          `json:"responseMimeType"`
	ResponseSchema   json.RawMessage `json:"responseSchema"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Gemini) Ask(ctx context.Context, prompt string, schema json.RawMessage, level llm.Level, out any) error {
	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   schema,
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("llmprovider(gemini): marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.host, p.model, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("llmprovider(gemini): build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("llmprovider(gemini): request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("llmprovider(gemini): decode response: %w", err)
	}
	if parsed.Error != nil {
		return fmt.Errorf("llmprovider(gemini): %s", parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return fmt.Errorf("llmprovider(gemini): empty response")
	}
	return json.Unmarshal([]byte(parsed.Candidates[0].Content.Parts[0].Text), out)
}
