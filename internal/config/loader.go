package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/nlweb-go/gateway/internal/gwerrors"
)

// DefaultFileName is the config document's conventional name within the
// directory passed to Load.
const DefaultFileName = "config.yaml"

// envVarPattern matches ${VAR}, ${VAR:-default} and $VAR.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// Load reads dir/config.yaml, expands environment variables, and decodes
// the result into a validated Config. It does not load the tool catalogue
// or statistics files; callers resolve their paths with ToolCataloguePath,
// StatisticsTemplatesPath and StatisticsDCIDMapPath and load them with the
// loaders in the toolcatalog and toolhandlers packages.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, DefaultFileName))
}

// LoadFile reads a single YAML document from path and decodes it into a
// validated Config: read -> expand env vars -> parse YAML -> defaults ->
// validate. Decoding goes straight from the expanded YAML text to the
// typed Config via yaml.v3, since vector.EndpointConfig's per-provider
// fields rely on yaml.v3's native ",inline" squashing of sibling keys
// (e.g. a qdrant endpoint's host/port/collection keys sit next to
// name/type/enabled in the document).
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, gwerrorsWrap("failed to read config file %s", path, err)
	}

	expanded := expandEnvVars(string(raw))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, gwerrorsWrap("failed to parse config file %s", path, err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ToolCataloguePath resolves the configured tool catalogue path relative
// to the directory the config was loaded from.
func ToolCataloguePath(dir string, cfg *Config) string {
	if filepath.IsAbs(cfg.ToolCatalogue) {
		return cfg.ToolCatalogue
	}
	return filepath.Join(dir, cfg.ToolCatalogue)
}

// StatisticsTemplatesPath resolves the configured statistics template
// catalogue path relative to the directory the config was loaded from.
func StatisticsTemplatesPath(dir string, cfg *Config) string {
	if filepath.IsAbs(cfg.Statistics.Templates) {
		return cfg.Statistics.Templates
	}
	return filepath.Join(dir, cfg.Statistics.Templates)
}

// StatisticsDCIDMapPath resolves the configured DCID map path relative to
// the directory the config was loaded from.
func StatisticsDCIDMapPath(dir string, cfg *Config) string {
	if filepath.IsAbs(cfg.Statistics.DCIDMap) {
		return cfg.Statistics.DCIDMap
	}
	return filepath.Join(dir, cfg.Statistics.DCIDMap)
}

// expandEnvVars replaces ${VAR}, ${VAR:-default} and $VAR references with
// the corresponding environment variable, or the default (or empty string)
// when unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		name := sub[1]
		hasDefault := sub[2] != ""
		def := sub[3]
		if name == "" {
			name = sub[4]
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if hasDefault {
			return def
		}
		return ""
	})
}

func gwerrorsWrap(format, path string, cause error) error {
	return gwerrors.Wrap(gwerrors.KindConfiguration, fmt.Sprintf(format, path), cause)
}

// Loader loads a config document and optionally watches it for changes.
// It reads directly from a single file path since this gateway has
// exactly one config source.
type Loader struct {
	path    string
	watcher *Watcher
}

// NewLoader returns a Loader for dir/config.yaml.
func NewLoader(dir string) (*Loader, error) {
	path := filepath.Join(dir, DefaultFileName)
	w, err := NewWatcher(path)
	if err != nil {
		return nil, err
	}
	return &Loader{path: path, watcher: w}, nil
}

// Load reads and validates the current config document.
func (l *Loader) Load() (*Config, error) {
	return LoadFile(l.path)
}

// Watch blocks until ctx is cancelled, calling onChange with the freshly
// reloaded config each time the file changes. A reload failure is passed
// to onChange as its error argument (with a nil config); Watch itself never returns early on a bad reload, so a typo in a
// running system doesn't tear down the watch loop.
func (l *Loader) Watch(ctx context.Context, onChange func(*Config, error)) error {
	changes, err := l.watcher.Watch(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			cfg, err := l.Load()
			onChange(cfg, err)
		}
	}
}

// Close releases the underlying file watcher.
func (l *Loader) Close() error {
	return l.watcher.Close()
}
