// Package toolcatalog parses the XML tool catalogue and resolves
// schema-type inheritance on each lookup.
package toolcatalog

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Tool describes one routable tool declared under a schema-type element in
// the catalogue, e.g. <Recipe><Tool name="search">...</Tool></Recipe>.
type Tool struct {
	Name            string
	SchemaType      string
	Path            string
	Method          string
	Arguments       map[string]string
	Examples        []string
	Prompt          string
	ReturnStructure json.RawMessage
	HandlerClass    string
	Enabled         bool
}

// rawCatalog mirrors the document shape: an arbitrary root containing one
// element per schema type (its tag name IS the type, e.g. <Movie>, <Thing>),
// each holding zero or more <Tool> children.
type rawCatalog struct {
	SchemaTypes []rawSchemaType `xml:",any"`
}

type rawSchemaType struct {
	XMLName xml.Name
	Tools   []rawTool `xml:"Tool"`
}

type rawTool struct {
	Name        string        `xml:"name,attr"`
	Enabled     string        `xml:"enabled,attr"`
	Path        string        `xml:"path"`
	Method      string        `xml:"method"`
	Arguments   []rawArgument `xml:"argument"`
	Examples    []string      `xml:"example"`
	Prompt      string        `xml:"prompt"`
	ReturnStruc string        `xml:"returnStruc"`
	Handler     string        `xml:"handler"`
}

type rawArgument struct {
	Name string `xml:"name,attr"`
	Desc string `xml:",chardata"`
}

// typeHierarchy maps a schema type to its parent types, most specific
// first. Every type not listed here, other than "Thing" itself, is assumed
// to inherit directly from Thing (mirroring the original's simplified
// hierarchy).
var typeHierarchy = map[string][]string{
	"Recipe":     {"Thing"},
	"Movie":      {"Thing"},
	"Product":    {"Thing"},
	"Restaurant": {"Thing"},
}

// Catalog is the immutable, per-type view of the tool catalogue as parsed
// from XML, keyed by the schema type an element's tag name names. Safe
// for concurrent read access once returned from Load: nothing mutates
// byType after Load returns.
type Catalog struct {
	byType map[string][]Tool
}

// Load parses the XML file at path into per-schema-type tool lists;
// inheritance is resolved later, on each lookup.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("toolcatalog: failed to read %s: %w", path, err)
	}

	var raw rawCatalog
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("toolcatalog: failed to parse %s: %w", path, err)
	}

	toolsByType := make(map[string][]Tool)
	for _, st := range raw.SchemaTypes {
		schemaType := st.XMLName.Local
		for _, rt := range st.Tools {
			enabled := true
			if rt.Enabled != "" {
				enabled, _ = strconv.ParseBool(rt.Enabled)
			}
			if !enabled {
				continue
			}
			tool := Tool{
				Name:         rt.Name,
				SchemaType:   schemaType,
				Path:         trimmed(rt.Path),
				Method:       trimmed(rt.Method),
				Arguments:    argumentsToMap(rt.Arguments),
				Examples:     trimmedAll(rt.Examples),
				Prompt:       trimmed(rt.Prompt),
				HandlerClass: trimmed(rt.Handler),
				Enabled:      true,
			}
			if s := trimmed(rt.ReturnStruc); s != "" {
				var rawSchema json.RawMessage
				if err := json.Unmarshal([]byte(s), &rawSchema); err != nil {
					return nil, fmt.Errorf("toolcatalog: invalid returnStruc for tool %q: %w", tool.Name, err)
				}
				tool.ReturnStructure = rawSchema
			}
			toolsByType[schemaType] = append(toolsByType[schemaType], tool)
		}
	}

	return &Catalog{byType: toolsByType}, nil
}

// resolveForType materialises the effective tool list for schemaType:
// Thing-base tools plus type-specific overrides by name, most-specific
// wins. Resolution is computed fresh from the raw per-type tool lists on
// every call rather than cached at Load time, so a schema type with no
// XML element of its own (e.g. one declared only in typeHierarchy) still
// falls back to Thing's tools instead of resolving to nothing.
func resolveForType(toolsByType map[string][]Tool, schemaType string) []Tool {
	chain := []string{schemaType}
	if parents, ok := typeHierarchy[schemaType]; ok {
		chain = append(chain, parents...)
	} else if schemaType != "Thing" {
		chain = append(chain, "Thing")
	}

	byName := make(map[string]Tool)
	// Walk from most general to most specific so specific tools override.
	for i := len(chain) - 1; i >= 0; i-- {
		for _, t := range toolsByType[chain[i]] {
			byName[t.Name] = t
		}
	}

	out := make([]Tool, 0, len(byName))
	for _, t := range byName {
		out = append(out, t)
	}
	return out
}

// ToolsForType returns the inheritance-resolved tool list for schemaType,
// whether or not schemaType had its own XML element in the catalogue.
func (c *Catalog) ToolsForType(schemaType string) []Tool {
	return resolveForType(c.byType, schemaType)
}

// Tool returns the named tool for schemaType, if any, considering
// inherited tools as well as ones declared directly on schemaType.
func (c *Catalog) Tool(schemaType, name string) (Tool, bool) {
	for _, t := range c.ToolsForType(schemaType) {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

func argumentsToMap(args []rawArgument) map[string]string {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]string, len(args))
	for _, a := range args {
		out[a.Name] = trimmed(a.Desc)
	}
	return out
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}

func trimmedAll(ss []string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if t := trimmed(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
