package toolhandlers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/nlweb-go/gateway/internal/llm"
	"github.com/nlweb-go/gateway/internal/query"
)

// StatisticsTemplate is one parameterised statistical-query template: a
// scoring prompt plus the variable/place slots it binds.
type StatisticsTemplate struct {
	Name      string   `yaml:"name"`
	Prompt    string   `yaml:"prompt"`
	Variables []string `yaml:"variables"`
}

// TemplateCatalogue is the process-global, load-once set of statistics templates.
type TemplateCatalogue struct {
	Templates []StatisticsTemplate `yaml:"templates"`
}

// LoadTemplates reads the YAML-encoded statistics template catalogue.
func LoadTemplates(path string) (*TemplateCatalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("statistics: failed to read template catalogue %s: %w", path, err)
	}
	var cat TemplateCatalogue
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("statistics: failed to parse template catalogue %s: %w", path, err)
	}
	return &cat, nil
}

// DCIDMap is the static variable/place-name to DCID lookup table.
type DCIDMap map[string]string

// LoadDCIDMap reads the YAML-encoded static name-to-DCID mapping.
func LoadDCIDMap(path string) (DCIDMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("statistics: failed to read DCID map %s: %w", path, err)
	}
	var m DCIDMap
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("statistics: failed to parse DCID map %s: %w", path, err)
	}
	return m, nil
}

const statisticsTemplateThreshold = 60

var statisticsTemplateScoreSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"score": {"type": "integer"},
		"variables": {"type": "array", "items": {"type": "string"}},
		"places": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["score"]
}`)

type matchedTemplate struct {
	template  StatisticsTemplate
	score     int
	variables []string
	places    []string
}

// Statistics maps the query onto a catalogue of parameterised statistical
// templates, resolves variable/place names to DCIDs, and picks a
// visualisation component. hc must carry non-nil Templates; DCIDMap may
// be nil (every lookup then falls back to the LLM).
var Statistics HandlerFunc = func(ctx context.Context, hc *Context) error {
	if hc.Templates == nil || len(hc.Templates.Templates) == 0 {
		return fmt.Errorf("statistics: no template catalogue configured")
	}

	q := hc.queryText()
	matches := make([]matchedTemplate, len(hc.Templates.Templates))
	var wg sync.WaitGroup
	for i, tmpl := range hc.Templates.Templates {
		i, tmpl := i, tmpl
		wg.Add(1)
		go func() {
			defer wg.Done()
			matches[i] = scoreTemplate(ctx, hc, tmpl, q)
		}()
	}
	wg.Wait()

	var passing []matchedTemplate
	for _, m := range matches {
		if m.score >= statisticsTemplateThreshold {
			passing = append(passing, m)
		}
	}
	if len(passing) == 0 {
		return hc.Send(ctx, statsResultMessage(hc, nil))
	}

	for i := range passing {
		passing[i].variables = resolveDCIDs(ctx, hc, passing[i].variables)
		passing[i].places = resolveDCIDs(ctx, hc, passing[i].places)
	}

	if err := hc.Send(ctx, statsResultMessage(hc, passing)); err != nil {
		return err
	}

	best := passing[0]
	component := pickVisualization(best)
	return hc.Send(ctx, chartResultMessage(hc, best, component))
}

func scoreTemplate(ctx context.Context, hc *Context, tmpl StatisticsTemplate, q string) matchedTemplate {
	prompt := fmt.Sprintf("%s\nQuery: %s", tmpl.Prompt, q)
	var out struct {
		Score     int      `json:"score"`
		Variables []string `json:"variables"`
		Places    []string `json:"places"`
	}
	if err := hc.LLM.Ask(ctx, prompt, statisticsTemplateScoreSchema, llm.LevelHigh, &out); err != nil {
		hc.Log.Warn("statistics: template scoring failed", "template", tmpl.Name, "error", err)
		return matchedTemplate{template: tmpl}
	}
	return matchedTemplate{template: tmpl, score: out.Score, variables: out.Variables, places: out.Places}
}

// resolveDCIDs maps each name through the static table, falling back to a
// single LLM lookup for anything unmapped.
func resolveDCIDs(ctx context.Context, hc *Context, names []string) []string {
	out := make([]string, len(names))
	for i, name := range names {
		if hc.DCIDMap != nil {
			if dcid, ok := hc.DCIDMap[strings.ToLower(name)]; ok {
				out[i] = dcid
				continue
			}
		}
		out[i] = lookupDCIDFallback(ctx, hc, name)
	}
	return out
}

func lookupDCIDFallback(ctx context.Context, hc *Context, name string) string {
	var out struct {
		DCID string `json:"dcid"`
	}
	prompt := fmt.Sprintf("What is the Data-Commons-style DCID for %q? Respond with your best guess.", name)
	schema := json.RawMessage(`{"type":"object","properties":{"dcid":{"type":"string"}}}`)
	if err := hc.LLM.Ask(ctx, prompt, schema, llm.LevelLow, &out); err != nil {
		hc.Log.Warn("statistics: DCID fallback failed", "name", name, "error", err)
		return name
	}
	if out.DCID == "" {
		return name
	}
	return out.DCID
}

// pickVisualization chooses a component based on query type, variable
// count, and place count.
func pickVisualization(m matchedTemplate) string {
	nv, np := len(m.variables), len(m.places)
	switch {
	case np > 1 && nv == 1:
		return "map"
	case strings.Contains(strings.ToLower(m.template.Name), "trend"):
		return "line"
	case strings.Contains(strings.ToLower(m.template.Name), "rank"):
		return "ranking"
	case nv > 1:
		return "scatter"
	case nv == 1 && np == 1:
		return "highlight"
	default:
		return "bar"
	}
}

func statsResultMessage(hc *Context, matches []matchedTemplate) query.Message {
	return query.Message{
		Type:    query.MessageStatisticsResult,
		QueryID: hc.Request.QueryID,
		Payload: matches,
	}
}

func chartResultMessage(hc *Context, m matchedTemplate, component string) query.Message {
	markup := fmt.Sprintf(`<div class="nlweb-chart" data-component=%q data-variables=%q data-places=%q></div>`,
		component, strings.Join(m.variables, ","), strings.Join(m.places, ","))
	return query.Message{
		Type:    query.MessageChartResult,
		QueryID: hc.Request.QueryID,
		Payload: map[string]any{"component": component, "template": m.template.Name, "markup": markup},
	}
}
