package domain

import (
	"fmt"
	"strings"
)

// SelectionState is the presentation-side view of which agents form the
// next pipeline. It is a value: Reduce never mutates its input.
type SelectionState struct {
	Agents      []AgentDescriptor
	MultiSelect bool
}

// SelectionEvent is an input to Reduce.
type SelectionEvent interface {
	isSelectionEvent()
}

// AgentsLoaded replaces the agent list. Selections survive by name.
type AgentsLoaded struct{ Agents []AgentDescriptor }

// ToggleAgent flips one agent. In single-select mode it behaves like SelectOnly.
type ToggleAgent struct{ Name string }

// SelectOnly selects exactly one agent.
type SelectOnly struct{ Name string }

// ClearSelection deselects every agent.
type ClearSelection struct{}

// SetMultiSelect switches the selection mode. Leaving multi-select keeps
// only the first selected agent.
type SetMultiSelect struct{ Enabled bool }

func (AgentsLoaded) isSelectionEvent()   {}
func (ToggleAgent) isSelectionEvent()    {}
func (SelectOnly) isSelectionEvent()     {}
func (ClearSelection) isSelectionEvent() {}
func (SetMultiSelect) isSelectionEvent() {}

// Reduce applies ev to state and returns the new state.
func Reduce(state SelectionState, ev SelectionEvent) SelectionState {
	next := SelectionState{MultiSelect: state.MultiSelect}

	switch e := ev.(type) {
	case AgentsLoaded:
		selected := make(map[string]bool)
		for _, a := range state.Agents {
			if a.Selected {
				selected[a.Name] = true
			}
		}
		next.Agents = make([]AgentDescriptor, len(e.Agents))
		for i, a := range e.Agents {
			a.Selected = selected[a.Name]
			next.Agents[i] = a
		}
		if !next.MultiSelect {
			keepFirstSelected(next.Agents)
		}
	case ToggleAgent:
		next.Agents = cloneAgents(state.Agents)
		if !state.MultiSelect {
			selectOnly(next.Agents, e.Name, true)
			break
		}
		for i := range next.Agents {
			if next.Agents[i].Name == e.Name {
				next.Agents[i].Selected = !next.Agents[i].Selected
			}
		}
	case SelectOnly:
		next.Agents = cloneAgents(state.Agents)
		selectOnly(next.Agents, e.Name, false)
	case ClearSelection:
		next.Agents = cloneAgents(state.Agents)
		for i := range next.Agents {
			next.Agents[i].Selected = false
		}
	case SetMultiSelect:
		next.MultiSelect = e.Enabled
		next.Agents = cloneAgents(state.Agents)
		if !e.Enabled {
			keepFirstSelected(next.Agents)
		}
	default:
		next.Agents = cloneAgents(state.Agents)
	}
	return next
}

// Selected returns the selected agents in list order.
func (s SelectionState) Selected() []AgentDescriptor {
	var out []AgentDescriptor
	for _, a := range s.Agents {
		if a.Selected {
			out = append(out, a)
		}
	}
	return out
}

// Status renders a one-line summary of the selection.
func (s SelectionState) Status() string {
	sel := s.Selected()
	switch len(sel) {
	case 0:
		return "No agents selected"
	case 1:
		return sel[0].Name
	default:
		return fmt.Sprintf("%d agents: %s", len(sel), strings.Join(AgentNames(sel), " → "))
	}
}

func cloneAgents(agents []AgentDescriptor) []AgentDescriptor {
	if agents == nil {
		return nil
	}
	return append([]AgentDescriptor(nil), agents...)
}

// selectOnly selects name and clears the rest. With toggle set, selecting an
// already sole-selected agent clears it instead.
func selectOnly(agents []AgentDescriptor, name string, toggle bool) {
	found := false
	for _, a := range agents {
		if a.Name == name {
			found = true
			break
		}
	}
	if !found {
		return
	}
	for i := range agents {
		if agents[i].Name == name {
			agents[i].Selected = !(toggle && agents[i].Selected)
			continue
		}
		agents[i].Selected = false
	}
}

func keepFirstSelected(agents []AgentDescriptor) {
	seen := false
	for i := range agents {
		if agents[i].Selected {
			if seen {
				agents[i].Selected = false
			}
			seen = true
		}
	}
}
