package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"agntschat/internal/usecase"
)

// waitEvent delivers the next message posted by a running request.
func waitEvent(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-events
	}
}

// sendCmd runs one chat turn. Progress and scroll signals are posted to
// events as they happen; progress is dropped when the UI falls behind since
// every snapshot carries the full text so far.
func (m *Model) sendCmd(ctx context.Context, text string, gen uint64) tea.Cmd {
	events := m.events
	sender := m.deps.Chat
	agents := m.deps.Agents
	args := m.deps.Args
	return func() tea.Msg {
		observer := usecase.ObserverFuncs{
			Progress: func(snapshot string) {
				select {
				case events <- progressMsg{gen: gen, snapshot: snapshot}:
				default:
				}
			},
			Scroll: func() {
				select {
				case events <- scrollMsg{gen: gen}:
				default:
				}
			},
		}
		reply, err := sender.Send(ctx, text, agents, args, observer)
		return replyMsg{gen: gen, reply: reply, err: err}
	}
}
