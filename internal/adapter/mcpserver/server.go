// Package mcpserver exposes context search and the agent pipeline as MCP
// tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"agntschat/internal/domain"
	"agntschat/internal/usecase"
)

// Version is reported to MCP clients.
var Version = "dev"

// Searcher runs a context search across active sources.
type Searcher interface {
	SearchContext(ctx context.Context, query string, params map[string]any) []domain.ContextResult
}

// SourceLister lists stored source descriptors.
type SourceLister interface {
	List(ctx context.Context) ([]domain.ContextSourceDescriptor, error)
}

// AgentFinder resolves agent names to descriptors.
type AgentFinder interface {
	FindByNames(ctx context.Context, names []string) ([]domain.AgentDescriptor, error)
}

// Asker sends one chat turn through the agent pipeline.
type Asker interface {
	Send(ctx context.Context, text string, agents []domain.AgentDescriptor, args domain.KernelArguments, observer usecase.ProgressObserver) (usecase.Reply, error)
}

// Deps are the services behind the tools.
type Deps struct {
	// NewChat is called once per ask_agents call. Each call should get its
	// own conversation so unrelated requests never share history.
	NewChat func() Asker
	Search  Searcher
	Sources SourceLister
	Agents  AgentFinder
	Logger  *slog.Logger
}

// New creates the MCP server with every tool registered.
func New(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"agntschat",
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Search the configured document sources and ask the configured agents."),
	)
	h := &handlers{deps: deps}
	s.AddTool(searchContextTool(), h.searchContext)
	s.AddTool(listSourcesTool(), h.listSources)
	s.AddTool(askAgentsTool(), h.askAgents)
	return s
}

// ServeStdio serves s on stdin and stdout until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func searchContextTool() mcp.Tool {
	return mcp.NewTool("search_context",
		mcp.WithDescription("Search every active context source and return the matching documents."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Text to search for")),
	)
}

func listSourcesTool() mcp.Tool {
	return mcp.NewTool("list_sources",
		mcp.WithDescription("List the configured context sources with their kind and enabled state."),
	)
}

func askAgentsTool() mcp.Tool {
	return mcp.NewTool("ask_agents",
		mcp.WithDescription("Send a message through a sequential pipeline of agents and return the final reply."),
		mcp.WithString("message", mcp.Required(), mcp.Description("The user message")),
		mcp.WithString("agents", mcp.Required(), mcp.Description("Comma-separated agent names in pipeline order")),
	)
}

type handlers struct {
	deps Deps
}

type sourceView struct {
	ID      int64             `json:"id"`
	Name    string            `json:"name"`
	Kind    domain.SourceKind `json:"kind"`
	Enabled bool              `json:"enabled"`
}

func (h *handlers) searchContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results := h.deps.Search.SearchContext(ctx, query, nil)
	if len(results) == 0 {
		return mcp.NewToolResultText("No matching documents."), nil
	}
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "--- %s (%s) ---\n%s\n\n", r.Title, r.SourceName, r.Content)
	}
	return mcp.NewToolResultText(strings.TrimSpace(b.String())), nil
}

func (h *handlers) listSources(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	all, err := h.deps.Sources.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list sources: %v", err)), nil
	}
	views := make([]sourceView, len(all))
	for i, d := range all {
		views[i] = sourceView{ID: d.ID, Name: d.Name, Kind: d.Kind, Enabled: d.Enabled}
	}
	data, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (h *handlers) askAgents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	list, err := req.RequireString("agents")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var names []string
	for n := range strings.SplitSeq(list, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	agents, err := h.deps.Agents.FindByNames(ctx, names)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	reply, err := h.deps.NewChat().Send(ctx, message, agents, nil, nil)
	if err != nil {
		h.deps.Logger.Warn("mcp ask_agents failed", "agents", names, "error", err, "code", domain.ErrorCodeOf(err))
		text := reply.Text
		if text == "" {
			text = err.Error()
		}
		return mcp.NewToolResultError(text), nil
	}
	return mcp.NewToolResultText(reply.Text), nil
}
