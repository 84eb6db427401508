// Package backend implements domain.AgentBackend over hosted chat models.
package backend

import (
	"fmt"
	"log/slog"

	"agntschat/internal/domain"
	"agntschat/internal/infra/config"
)

// New builds the backend selected by cfg.Provider. Configured fallbacks are
// tried in order when it fails before replying.
func New(cfg config.BackendConfig, prompts *PromptLibrary, logger *slog.Logger) (domain.AgentBackend, error) {
	primary, err := newSingle(cfg, prompts, logger)
	if err != nil {
		return nil, err
	}
	if len(cfg.Fallbacks) == 0 {
		return primary, nil
	}

	names := []string{backendName(cfg)}
	backends := []domain.AgentBackend{primary}
	for i, fc := range cfg.Fallbacks {
		b, err := newSingle(fc, prompts, logger)
		if err != nil {
			return nil, fmt.Errorf("fallback %d: %w", i, err)
		}
		names = append(names, backendName(fc))
		backends = append(backends, b)
	}
	return NewFailover(names, backends, logger), nil
}

func newSingle(cfg config.BackendConfig, prompts *PromptLibrary, logger *slog.Logger) (domain.AgentBackend, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAI(cfg, prompts, logger), nil
	case "anthropic":
		return NewAnthropic(cfg, prompts, logger), nil
	case "bedrock":
		return newBedrock(cfg, prompts, logger)
	default:
		return nil, fmt.Errorf("unknown backend provider %q", cfg.Provider)
	}
}

func backendName(cfg config.BackendConfig) string {
	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}
	return provider + "/" + cfg.Model
}

// chatMessages lays out the system prompt, the prior turns and the new
// message in request order. System turns from history are dropped.
func chatMessages(system, message string, history []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(history)+2)
	if system != "" {
		out = append(out, domain.Message{Role: domain.RoleSystem, Content: system})
	}
	for _, m := range history {
		if m.Role == domain.RoleUser || m.Role == domain.RoleAssistant {
			out = append(out, m)
		}
	}
	return append(out, domain.Message{Role: domain.RoleUser, Content: message})
}
