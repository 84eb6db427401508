package main

import (
	"context"
	"fmt"
	"maps"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"agntschat/internal/adapter/mcpserver"
	"agntschat/internal/adapter/tui/chat"
	"agntschat/internal/adapter/tui/theme"
	"agntschat/internal/domain"
	"agntschat/internal/usecase"
)

// PipelineFlags select the agents of a chat turn.
type PipelineFlags struct {
	Agents []string          `short:"a" help:"Agents to run, in order (comma-separated). Defaults to the first stored agent." placeholder:"NAME,..."`
	Arg    map[string]string `help:"Template argument passed to every agent." placeholder:"KEY=VALUE"`
}

// args returns the --arg values ordered by key.
func (p PipelineFlags) args() domain.KernelArguments {
	if len(p.Arg) == 0 {
		return nil
	}
	out := make(domain.KernelArguments, 0, len(p.Arg))
	for _, k := range slices.Sorted(maps.Keys(p.Arg)) {
		out = append(out, domain.KernelArgument{Key: k, Value: p.Arg[k]})
	}
	return out
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// ChatCmd starts the interactive chat.
type ChatCmd struct {
	PipelineFlags `embed:""`
	Markdown bool `default:"true" negatable:"" help:"Render replies as Markdown."`
}

func (c *ChatCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, cli, openOptions{stdioBusy: true, schedule: true})
	if err != nil {
		return err
	}
	defer a.Close()

	agents, err := a.resolveAgents(ctx, c.Agents)
	if err != nil {
		return err
	}
	for i := range agents {
		agents[i].Selected = true
	}

	model := chat.New(chat.Deps{
		Chat:     a.chat,
		Agents:   agents,
		Args:     c.args(),
		Markdown: c.Markdown,
		OnClear:  a.chat.Conversation().Reset,
		Logger:   a.log,
	})
	_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("chat: %w", err)
	}
	return nil
}

// AskCmd sends one message and streams the reply to stdout.
type AskCmd struct {
	PipelineFlags `embed:""`
	Message  []string `arg:"" help:"Message to send."`
	Markdown bool     `help:"Render the finished reply as Markdown instead of streaming raw text."`
}

func (c *AskCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, cli, openOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	agents, err := a.resolveAgents(ctx, c.Agents)
	if err != nil {
		return err
	}
	seq, err := a.chat.SendMessage(ctx, strings.Join(c.Message, " "), agents, c.args())
	if err != nil {
		return err
	}

	var buf strings.Builder
	for chunk, err := range seq {
		if err != nil {
			if c.Markdown {
				printf("%s", buf.String())
			}
			if buf.Len() > 0 {
				printf("\n")
			}
			return err
		}
		buf.WriteString(chunk)
		if !c.Markdown {
			printf("%s", chunk)
		}
	}
	if !c.Markdown {
		printf("\n")
		return nil
	}

	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(theme.MaxContentWidth))
	if err != nil {
		printf("%s\n", buf.String())
		return nil
	}
	out, err := r.Render(buf.String())
	if err != nil {
		printf("%s\n", buf.String())
		return nil
	}
	printf("%s", out)
	return nil
}

// SearchCmd queries the active context sources.
type SearchCmd struct {
	Query   []string `arg:"" help:"Text to search for."`
	Snippet int      `default:"200" help:"Characters of content to show per result (0 = all)."`
}

func (c *SearchCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, cli, openOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	results := a.chat.SearchContext(ctx, strings.Join(c.Query, " "), nil)
	if len(results) == 0 {
		printf("No matching documents.\n")
		return nil
	}
	for _, r := range results {
		printf("%s %s\n", theme.Bold.Render(r.Title), theme.TextMuted.Render("("+r.SourceName+")"))
		if m, ok := r.Metadata["query_matches"]; ok {
			printf("  matches: %v\n", m)
		}
		printf("  %s\n\n", snippet(r.Content, c.Snippet))
	}
	return nil
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if n <= 0 || len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}

// HistoryCmd shows the latest persisted chat exchanges.
type HistoryCmd struct {
	Limit int `short:"n" default:"10" help:"Number of exchanges to show."`
}

func (c *HistoryCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, cli, openOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	exchanges, err := a.chatlog.Recent(ctx, c.Limit)
	if err != nil {
		return err
	}
	if len(exchanges) == 0 {
		printf("No chat history yet.\n")
		return nil
	}
	for _, ex := range exchanges {
		req := ex.Request
		printf("%s %s %s\n", theme.TextMuted.Render(req.At.Local().Format("2006-01-02 15:04")),
			theme.UserLabel.Render("You"), req.Message)
		for _, resp := range ex.Responses {
			label := theme.AgentLabel.Render(resp.Agent)
			switch {
			case resp.Failed:
				label += " " + errMark()
			case resp.Degraded:
				label += " " + warnMark()
			}
			printf("  %s %s\n", label, snippet(resp.Response, 300))
		}
		printf("\n")
	}
	return nil
}

// MCPCmd serves the MCP tools on stdin and stdout.
type MCPCmd struct{}

func (c *MCPCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, cli, openOptions{stdioBusy: true, schedule: true})
	if err != nil {
		return err
	}
	defer a.Close()

	srv := mcpserver.New(mcpserver.Deps{
		NewChat: func() mcpserver.Asker {
			return a.chat.WithConversation(usecase.NewConversation())
		},
		Search:  a.chat,
		Sources: a.catalog,
		Agents:  a.agents,
		Logger:  a.log,
	})
	a.log.Info("mcp server listening on stdio")
	return mcpserver.ServeStdio(srv)
}
