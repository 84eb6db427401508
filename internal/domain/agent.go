package domain

import (
	"context"
	"fmt"
	"iter"
	"strings"
)

// AgentDescriptor describes a named, configurable conversational agent.
// Selected is transient UI state and is never persisted.
type AgentDescriptor struct {
	ID              *int64 `json:"id,omitempty"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	InstructionsRef string `json:"instructions_ref"`
	PersonaRef      string `json:"persona_ref"`
	Selected        bool   `json:"-"`
}

// Validate checks the fields every persisted agent needs.
func (a AgentDescriptor) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: agent name cannot be empty", ErrInvalidInput)
	}
	return nil
}

// AgentNames returns the names of agents in pipeline order.
func AgentNames(agents []AgentDescriptor) []string {
	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = a.Name
	}
	return names
}

// KernelArgument is a caller-supplied template variable passed to every agent.
type KernelArgument struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// KernelArguments is an ordered list of template variables.
type KernelArguments []KernelArgument

// Map converts the arguments to a lookup table. Keys must be non-empty and unique.
func (args KernelArguments) Map() (map[string]string, error) {
	m := make(map[string]string, len(args))
	for _, a := range args {
		key := strings.TrimSpace(a.Key)
		if key == "" {
			return nil, fmt.Errorf("%w: kernel argument key cannot be empty", ErrInvalidInput)
		}
		if _, dup := m[key]; dup {
			return nil, fmt.Errorf("%w: duplicate kernel argument %q", ErrInvalidInput, key)
		}
		m[key] = a.Value
	}
	return m, nil
}

// ParseKernelArgument parses a "key=value" pair.
func ParseKernelArgument(s string) (KernelArgument, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(key) == "" {
		return KernelArgument{}, fmt.Errorf("%w: kernel argument %q must look like key=value", ErrInvalidInput, s)
	}
	return KernelArgument{Key: strings.TrimSpace(key), Value: value}, nil
}

// AgentBackend streams one agent's reply. The sequence yields text deltas and
// at most one terminal error. Stopping iteration early must release the
// underlying request.
type AgentBackend interface {
	InvokeStreaming(ctx context.Context, agent AgentDescriptor, message string, history []Message, args map[string]string) iter.Seq2[string, error]
}
