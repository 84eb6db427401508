package chat

import (
	"strings"

	"github.com/charmbracelet/glamour"

	"agntschat/internal/adapter/tui/theme"
)

func (m *Model) transcript() string {
	if len(m.entries) == 0 && m.live == "" {
		return theme.TextMuted.Render("  No messages yet. Ask something!")
	}
	var b strings.Builder
	for i := range m.entries {
		e := &m.entries[i]
		if e.rendered == "" {
			e.rendered = m.render(e.role, e.text)
		}
		b.WriteString(e.rendered)
		b.WriteString("\n")
	}
	if m.live != "" {
		b.WriteString(m.render(roleAgent, m.live))
	}
	return b.String()
}

func (m *Model) render(r role, text string) string {
	var label string
	switch r {
	case roleUser:
		label = theme.UserLabel.Render("You")
	case roleAgent:
		label = theme.AgentLabel.Render(pipelineLabel(m.deps.Agents))
	case roleError:
		label = theme.ErrorLabel.Render(theme.SymbolError + " Error")
	default:
		return theme.TextMuted.Render("  " + text)
	}
	body := "  " + text
	if r == roleAgent && m.deps.Markdown {
		body = m.markdown(text)
	}
	return label + "\n" + body
}

func (m *Model) markdown(text string) string {
	if m.renderer == nil {
		width := theme.Clamp(m.width-4, 40, theme.MaxContentWidth)
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
		if err != nil {
			return "  " + text
		}
		m.renderer = r
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return "  " + text
	}
	return strings.TrimRight(out, "\n")
}
