package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agntschat/internal/domain"
	"agntschat/internal/usecase"
)

type fakeSearcher struct{ results []domain.ContextResult }

func (f fakeSearcher) SearchContext(context.Context, string, map[string]any) []domain.ContextResult {
	return f.results
}

type fakeLister struct {
	sources []domain.ContextSourceDescriptor
	err     error
}

func (f fakeLister) List(context.Context) ([]domain.ContextSourceDescriptor, error) {
	return f.sources, f.err
}

type fakeFinder struct{ known map[string]bool }

func (f fakeFinder) FindByNames(_ context.Context, names []string) ([]domain.AgentDescriptor, error) {
	out := make([]domain.AgentDescriptor, 0, len(names))
	for _, n := range names {
		if !f.known[n] {
			return nil, domain.NewDomainError("FindByNames", domain.ErrNotFound, fmt.Sprintf("agent %q", n))
		}
		out = append(out, domain.AgentDescriptor{Name: n})
	}
	return out, nil
}

type fakeAsker struct {
	sessions  int
	gotAgents []string
	reply     usecase.Reply
	err       error
}

func (f *fakeAsker) Send(_ context.Context, text string, agents []domain.AgentDescriptor, _ domain.KernelArguments, _ usecase.ProgressObserver) (usecase.Reply, error) {
	f.gotAgents = domain.AgentNames(agents)
	return f.reply, f.err
}

func newHandlers(asker *fakeAsker, lister fakeLister, search fakeSearcher) *handlers {
	return &handlers{deps: Deps{
		NewChat: func() Asker {
			asker.sessions++
			return asker
		},
		Search:  search,
		Sources: lister,
		Agents:  fakeFinder{known: map[string]bool{"Writer": true, "Reviewer": true}},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}}
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return tc.Text
}

func TestSearchContext(t *testing.T) {
	h := newHandlers(&fakeAsker{}, fakeLister{}, fakeSearcher{results: []domain.ContextResult{
		{Title: "invoices.txt", SourceName: "Invoices", Content: "Invoice 7: open"},
	}})

	res, err := h.searchContext(context.Background(), call(map[string]any{"query": "invoice"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "--- invoices.txt (Invoices) ---\nInvoice 7: open", text(t, res))

	res, err = h.searchContext(context.Background(), call(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSearchContextNoResults(t *testing.T) {
	h := newHandlers(&fakeAsker{}, fakeLister{}, fakeSearcher{})
	res, err := h.searchContext(context.Background(), call(map[string]any{"query": "x"}))
	require.NoError(t, err)
	assert.Equal(t, "No matching documents.", text(t, res))
}

func TestListSources(t *testing.T) {
	h := newHandlers(&fakeAsker{}, fakeLister{sources: []domain.ContextSourceDescriptor{
		{ID: 1, Name: "Invoices", Kind: domain.SourceLocalFiles, Enabled: true},
	}}, fakeSearcher{})

	res, err := h.listSources(context.Background(), call(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1,"name":"Invoices","kind":"LocalFiles","enabled":true}]`, text(t, res))

	h = newHandlers(&fakeAsker{}, fakeLister{err: errors.New("db locked")}, fakeSearcher{})
	res, err = h.listSources(context.Background(), call(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestAskAgents(t *testing.T) {
	asker := &fakeAsker{reply: usecase.Reply{Text: "Final draft"}}
	h := newHandlers(asker, fakeLister{}, fakeSearcher{})

	res, err := h.askAgents(context.Background(), call(map[string]any{
		"message": "write a poem", "agents": "Writer, Reviewer,",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "Final draft", text(t, res))
	assert.Equal(t, []string{"Writer", "Reviewer"}, asker.gotAgents)

	_, err = h.askAgents(context.Background(), call(map[string]any{"message": "again", "agents": "Writer"}))
	require.NoError(t, err)
	assert.Equal(t, 2, asker.sessions, "every call gets its own chat session")
}

func TestAskAgentsFailures(t *testing.T) {
	h := newHandlers(&fakeAsker{}, fakeLister{}, fakeSearcher{})
	res, err := h.askAgents(context.Background(), call(map[string]any{"message": "hi", "agents": "Ghost"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "Ghost")

	asker := &fakeAsker{reply: usecase.Reply{Text: "partial\nError: boom"}, err: domain.ErrBackend}
	h = newHandlers(asker, fakeLister{}, fakeSearcher{})
	res, err = h.askAgents(context.Background(), call(map[string]any{"message": "hi", "agents": "Writer"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "partial\nError: boom", text(t, res))
}

func TestToolDefinitions(t *testing.T) {
	assert.Equal(t, "search_context", searchContextTool().Name)
	assert.Equal(t, []string{"query"}, searchContextTool().InputSchema.Required)
	assert.Equal(t, "list_sources", listSourcesTool().Name)
	ask := askAgentsTool()
	assert.Equal(t, "ask_agents", ask.Name)
	assert.ElementsMatch(t, []string{"message", "agents"}, ask.InputSchema.Required)
	assert.NotNil(t, New(Deps{}))
}
