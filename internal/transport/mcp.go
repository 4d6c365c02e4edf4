package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nlweb-go/gateway/internal/query"
)

// mcpHandler builds the /mcp JSON-RPC 2.0 control surface: an MCP server
// exposing ask_nlweb (wraps /ask) and list_sites, implementing
// initialize/tools-list/tools-call/initialized over the streamable-HTTP
// transport, built on the mark3labs/mcp-go package.
func (s *Server) mcpHandler() http.Handler {
	mcpServer := server.NewMCPServer("nlweb-gateway", "1.0.0")

	mcpServer.AddTool(
		mcp.NewTool("ask_nlweb",
			mcp.WithDescription("Ask a natural-language question against the gateway's configured sites"),
			mcp.WithString("query", mcp.Required(), mcp.Description("the natural-language query")),
			mcp.WithString("site", mcp.Description("optional site name or comma-separated list to restrict the search to")),
			mcp.WithString("prev", mcp.Description("optional previous query, for decontextualisation")),
		),
		s.askToolHandler,
	)
	mcpServer.AddTool(
		mcp.NewTool("list_sites",
			mcp.WithDescription("List the sites known to the gateway"),
		),
		s.listSitesToolHandler,
	)

	return server.NewStreamableHTTPServer(mcpServer, server.WithEndpointPath("/mcp"))
}

func (s *Server) askToolHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rt := s.current()
	if rt == nil || rt.Pipeline == nil {
		return mcp.NewToolResultError("gateway not ready"), nil
	}

	args, _ := req.Params.Arguments.(map[string]any)
	q, _ := args["query"].(string)
	if q == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	site, _ := args["site"].(string)
	prev, _ := args["prev"].(string)

	qr := &query.Request{
		Query:   q,
		Site:    normalizeSite(site),
		QueryID: uuid.NewString(),
	}
	if prev != "" {
		qr.PrevQueries = []string{prev}
	}

	rv, err := rt.Pipeline.Run(ctx, qr, nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := json.Marshal(rv.AsMap())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) listSitesToolHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rt := s.current()
	if rt == nil {
		return mcp.NewToolResultError("gateway not ready"), nil
	}
	sites, err := rt.Retriever.GetSites(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(sites) == 0 {
		sites = rt.Config.Sites
	}
	sort.Strings(sites)
	data, err := json.Marshal(map[string]any{"sites": sites})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
