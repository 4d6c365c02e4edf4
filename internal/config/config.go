// Package config loads the process-wide gateway configuration from a
// directory containing config.yaml (and, alongside it, tools.xml and the
// statistics template/DCID files referenced from it).
package config

import "github.com/nlweb-go/gateway/internal/vector"

// Config is the top-level, process-wide configuration loaded once at
// startup.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`

	LLM       LLMConfig      `yaml:"llm"`
	Embedding EndpointRef    `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`

	Sites    []string       `yaml:"sites"`
	Features FeatureToggles `yaml:"features"`

	ResponseHeaders map[string]string `yaml:"response_headers"`
	APIKeyNames     []string          `yaml:"api_key_names"`

	// RequiredInfoPrompts maps a site name to the scoring prompt the
	// RequiredInfo gate uses; a site with no entry is never gated.
	RequiredInfoPrompts map[string]string `yaml:"required_info_prompts,omitempty"`

	ToolCatalogue string           `yaml:"tool_catalogue"`
	Statistics    StatisticsConfig `yaml:"statistics"`
}

// ServerConfig holds the HTTP/SSE transport's listen settings.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// LogConfig configures the process-wide structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EndpointRef names a single configured provider endpoint by its string
// identifier (an API key, a model name, or a retrieval endpoint name,
// depending on context) plus provider-specific credentials.
type EndpointRef struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty"`
	Timeout  string `yaml:"timeout,omitempty"`
}

// LLMConfig configures the two model tiers the pipeline calls through.
type LLMConfig struct {
	High EndpointRef `yaml:"high"`
	Low  EndpointRef `yaml:"low"`
}

// RetrievalConfig is the set of configured retrieval backends plus which
// one (if any) accepts writes.
type RetrievalConfig struct {
	Endpoints     []vector.EndpointConfig `yaml:"endpoints"`
	WriteEndpoint string                  `yaml:"write_endpoint,omitempty"`
}

// FeatureToggles enables or disables optional pipeline stages.
type FeatureToggles struct {
	ToolSelectionEnabled   bool `yaml:"tool_selection_enabled"`
	DecontextualizeEnabled bool `yaml:"decontextualize_enabled"`
	RequiredInfoEnabled    bool `yaml:"required_info_enabled"`
	MemoryEnabled          bool `yaml:"memory_enabled"`
}

// StatisticsConfig points at the two static files the Statistics handler
// loads once at startup.
type StatisticsConfig struct {
	Templates string `yaml:"templates"`
	DCIDMap   string `yaml:"dcid_map"`
}

// SetDefaults fills in fields left unset by the loaded document.
func (c *Config) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.LLM.High.Timeout == "" {
		c.LLM.High.Timeout = "30s"
	}
	if c.LLM.Low.Timeout == "" {
		c.LLM.Low.Timeout = "10s"
	}
	if c.ToolCatalogue == "" {
		c.ToolCatalogue = "tools.xml"
	}
	if c.Statistics.Templates == "" {
		c.Statistics.Templates = "statistics_templates.yaml"
	}
	if c.Statistics.DCIDMap == "" {
		c.Statistics.DCIDMap = "dcid_map.yaml"
	}
}

// Validate rejects configurations that would fail at first use, surfacing
// the failure at startup instead.
func (c *Config) Validate() error {
	if err := c.validateEndpointRef("llm.high", c.LLM.High); err != nil {
		return err
	}
	if err := c.validateEndpointRef("llm.low", c.LLM.Low); err != nil {
		return err
	}
	if len(c.Retrieval.Endpoints) == 0 {
		return fieldError("retrieval.endpoints", "at least one retrieval endpoint is required")
	}
	seen := make(map[string]bool, len(c.Retrieval.Endpoints))
	for _, e := range c.Retrieval.Endpoints {
		if e.Name == "" {
			return fieldError("retrieval.endpoints", "endpoint name is required")
		}
		if seen[e.Name] {
			return fieldError("retrieval.endpoints", "duplicate endpoint name %q", e.Name)
		}
		seen[e.Name] = true
	}
	if c.Retrieval.WriteEndpoint != "" && !seen[c.Retrieval.WriteEndpoint] {
		return fieldError("retrieval.write_endpoint", "references unknown endpoint %q", c.Retrieval.WriteEndpoint)
	}
	return nil
}

func (c *Config) validateEndpointRef(field string, ref EndpointRef) error {
	if ref.Provider == "" {
		return fieldError(field+".provider", "is required")
	}
	if ref.Model == "" {
		return fieldError(field+".model", "is required")
	}
	return nil
}
