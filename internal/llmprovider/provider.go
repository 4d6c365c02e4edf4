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

// Package llmprovider builds concrete llm.Client and embedder.Client
// implementations from a config.EndpointRef, one provider per backend
// (OpenAI, Anthropic, Gemini, Ollama), narrowed to the single
// structured-output call (Ask) and embedding call (Embed) this gateway
// needs rather than a full streaming chat/tool-use surface.
package llmprovider

import (
	"fmt"
	"net/http"
	"time"

	"github.com/nlweb-go/gateway/internal/config"
	"github.com/nlweb-go/gateway/internal/embedder"
	"github.com/nlweb-go/gateway/internal/httpclient"
	"github.com/nlweb-go/gateway/internal/llm"
)

// New builds an llm.Client for ref, dispatching on ref.Provider.
func New(ref config.EndpointRef) (llm.Client, error) {
	timeout := parseTimeout(ref.Timeout, 30*time.Second)
	hc := httpclient.New(httpclient.WithHTTPClient(&http.Client{Timeout: timeout}))

	switch ref.Provider {
	case "openai":
		return NewOpenAI(ref, hc), nil
	case "anthropic":
		return NewAnthropic(ref, hc), nil
	case "gemini":
		return NewGemini(ref, hc), nil
	case "ollama":
		return NewOllama(ref, hc), nil
	default:
		return nil, fmt.Errorf("llmprovider: unknown provider %q", ref.Provider)
	}
}

// NewEmbedder builds an embedder.Client for ref.
func NewEmbedder(ref config.EndpointRef) (embedder.Client, error) {
	timeout := parseTimeout(ref.Timeout, 30*time.Second)
	hc := httpclient.New(httpclient.WithHTTPClient(&http.Client{Timeout: timeout}))

	switch ref.Provider {
	case "openai":
		return NewOpenAIEmbedder(ref, hc), nil
	case "ollama":
		return NewOllamaEmbedder(ref, hc), nil
	default:
		return nil, fmt.Errorf("llmprovider: unknown embedding provider %q", ref.Provider)
	}
}

func parseTimeout(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
