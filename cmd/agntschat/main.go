// Command agntschat chats with a pipeline of agents over documents from
// configured context sources.
//
// Usage:
//
//	agntschat chat --agents Writer,Reviewer
//	agntschat ask "summarize the invoices" --agents Writer
//	agntschat sources add-file Invoices ./invoices.pdf
//	agntschat mcp
package main

import (
	"os"
	"runtime/debug"
	"strings"

	"github.com/alecthomas/kong"

	"agntschat/internal/adapter/mcpserver"
	"agntschat/internal/adapter/tui/uxerror"
)

// CLI defines the command-line interface.
type CLI struct {
	Chat    ChatCmd    `cmd:"" default:"withargs" help:"Start the interactive chat."`
	Ask     AskCmd     `cmd:"" help:"Send one message and stream the reply."`
	Search  SearchCmd  `cmd:"" help:"Search the active context sources."`
	History HistoryCmd `cmd:"" help:"Show recent chat exchanges."`
	Agents  AgentsCmd  `cmd:"" help:"Manage agents."`
	Sources SourcesCmd `cmd:"" help:"Manage context sources."`
	MCP     MCPCmd     `cmd:"" name:"mcp" help:"Serve the MCP tools over stdio."`
	Config  ConfigCmd  `cmd:"" help:"Configuration helpers."`
	Doctor  DoctorCmd  `cmd:"" help:"Run health checks on your setup."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	ConfigFile string `name:"config" short:"c" help:"Path to config file (default config.yaml)." env:"AGNTS_CONFIG"`
	LogLevel   string `help:"Log level (debug, info, warn, error)."`
}

// configPath resolves the config file. An empty --config or AGNTS_CONFIG
// means the default.
func (c *CLI) configPath() string {
	path := strings.TrimSpace(c.ConfigFile)
	if path == "" {
		return "config.yaml"
	}
	return kong.ExpandPath(path)
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	printf("agntschat version %s\n", version())
	return nil
}

func version() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			return info.Main.Version
		}
	}
	return "dev"
}

func main() {
	mcpserver.Version = version()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("agntschat"),
		kong.Description("Chat with a pipeline of agents grounded in your documents."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	if err != nil {
		errorf("%s %s\n", errMark(), uxerror.Humanize(err).Render())
		os.Exit(1)
	}
}
