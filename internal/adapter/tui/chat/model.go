package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"agntschat/internal/adapter/tui/theme"
	"agntschat/internal/adapter/tui/uxerror"
	"agntschat/internal/domain"
	"agntschat/internal/usecase"
)

// Sender runs one chat turn.
type Sender interface {
	Send(ctx context.Context, text string, agents []domain.AgentDescriptor, args domain.KernelArguments, observer usecase.ProgressObserver) (usecase.Reply, error)
}

// Deps are the collaborators of the chat screen.
type Deps struct {
	Chat     Sender
	Agents   []domain.AgentDescriptor
	Args     domain.KernelArguments
	Markdown bool
	OnClear  func()
	Logger   *slog.Logger
}

type role int

const (
	roleUser role = iota
	roleAgent
	roleSystem
	roleError
)

type entry struct {
	role     role
	text     string
	rendered string
}

// Model is the root Bubble Tea model of the chat screen.
type Model struct {
	deps     Deps
	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	entries []entry
	live    string
	waiting bool
	gen     uint64
	cancel  context.CancelFunc
	events  chan tea.Msg

	width    int
	height   int
	quitting bool
}

// New creates the chat screen.
func New(deps Deps) *Model {
	ta := textarea.New()
	ta.Placeholder = "Type a message, /help for commands"
	ta.Prompt = "> "
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Prompt = theme.InputPrompt
	ta.FocusedStyle.Placeholder = theme.InputPlaceholder
	ta.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorInfo)

	return &Model{
		deps:     deps,
		viewport: viewport.New(80, 20),
		input:    ta,
		spinner:  s,
		events:   make(chan tea.Msg, 64),
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, waitEvent(m.events))
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.stop()
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEsc:
			if m.waiting {
				m.stop()
			}
			return m, nil
		case tea.KeyEnter:
			cmd := m.submit()
			if m.quitting {
				return m, tea.Quit
			}
			return m, cmd
		}

	case progressMsg:
		if msg.gen == m.gen {
			m.live = msg.snapshot
			m.refresh(false)
		}
		return m, waitEvent(m.events)

	case scrollMsg:
		if msg.gen == m.gen {
			m.viewport.GotoBottom()
		}
		return m, waitEvent(m.events)

	case replyMsg:
		if msg.gen == m.gen {
			m.finish(msg)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	header := theme.Header.Render(pipelineLabel(m.deps.Agents))
	status := theme.StatusBar.Width(m.width).Render(m.statusText())
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		status,
		theme.InputBorder.Render(m.input.View()),
	)
}

func (m *Model) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	m.input.Reset()

	if strings.HasPrefix(text, "/") {
		m.command(text)
		return nil
	}
	if m.waiting {
		m.add(roleSystem, "A reply is still streaming; press Esc to cancel it.")
		return nil
	}

	m.add(roleUser, text)
	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.waiting = true
	m.live = ""
	return m.sendCmd(ctx, text, m.gen)
}

func (m *Model) command(text string) {
	switch cmd, _, _ := strings.Cut(text, " "); cmd {
	case "/quit", "/exit":
		m.stop()
		m.quitting = true
	case "/cancel":
		m.stop()
	case "/clear":
		m.stop()
		m.entries = nil
		if m.deps.OnClear != nil {
			m.deps.OnClear()
		}
		m.refresh(true)
	case "/agents":
		m.add(roleSystem, "Pipeline: "+pipelineLabel(m.deps.Agents))
	case "/help":
		m.add(roleSystem, "/agents show the pipeline, /clear start over, /cancel stop the reply, /quit exit")
	default:
		m.add(roleError, fmt.Sprintf("unknown command %s", cmd))
	}
}

// stop cancels the in-flight request. Its late messages are ignored.
func (m *Model) stop() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.waiting {
		m.waiting = false
		if m.live != "" {
			m.add(roleAgent, m.live)
		}
		m.add(roleSystem, "Cancelled.")
		m.live = ""
		m.gen++
	}
}

func (m *Model) finish(msg replyMsg) {
	m.waiting = false
	m.live = ""
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}

	switch {
	case msg.reply.Text != "":
		m.add(roleAgent, msg.reply.Text)
	case msg.err != nil:
		m.add(roleError, uxerror.Humanize(msg.err).Render())
	}
	if msg.reply.Degraded {
		m.add(roleSystem, theme.SymbolWarning+" Reply produced by "+firstAgent(m.deps.Agents)+" alone.")
	}
	if len(msg.reply.Context) > 0 {
		var titles []string
		for _, r := range msg.reply.Context {
			titles = append(titles, fmt.Sprintf("%s (%s)", r.Title, r.SourceName))
		}
		m.add(roleSystem, "Context: "+strings.Join(titles, ", "))
	}
	if msg.err != nil && m.deps.Logger != nil {
		m.deps.Logger.Warn("chat turn failed", "error", msg.err, "code", domain.ErrorCodeOf(msg.err))
	}
}

func (m *Model) add(r role, text string) {
	m.entries = append(m.entries, entry{role: r, text: text})
	m.refresh(true)
}

func (m *Model) resize(w, h int) {
	m.width, m.height = w, h
	m.input.SetWidth(w - 2)
	m.viewport.Width = w
	m.viewport.Height = max(h-lipgloss.Height(theme.Header.Render("x"))-1-5, 3)
	m.renderer = nil
	for i := range m.entries {
		m.entries[i].rendered = ""
	}
	m.refresh(true)
}

func (m *Model) refresh(bottom bool) {
	m.viewport.SetContent(m.transcript())
	if bottom {
		m.viewport.GotoBottom()
	}
}

func (m *Model) statusText() string {
	if m.waiting {
		return m.spinner.View() + " streaming reply (Esc to cancel)"
	}
	return fmt.Sprintf("%d messages", len(m.entries))
}

func pipelineLabel(agents []domain.AgentDescriptor) string {
	if len(agents) == 0 {
		return "no agents"
	}
	return strings.Join(domain.AgentNames(agents), " "+theme.SymbolArrowR+" ")
}

func firstAgent(agents []domain.AgentDescriptor) string {
	if len(agents) == 0 {
		return "the first agent"
	}
	return agents[0].Name
}
