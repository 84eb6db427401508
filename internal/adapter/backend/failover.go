package backend

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"agntschat/internal/domain"
)

// Failover tries a list of backends in order. A backend is skipped only
// when it fails before producing any text; once a reply has started, its
// errors are passed through because the partial text cannot be recalled.
type Failover struct {
	names    []string
	backends []domain.AgentBackend
	logger   *slog.Logger
}

var _ domain.AgentBackend = (*Failover)(nil)

// NewFailover creates a failover over backends, tried in order. names
// label them in logs and errors.
func NewFailover(names []string, backends []domain.AgentBackend, logger *slog.Logger) *Failover {
	return &Failover{names: names, backends: backends, logger: logger}
}

// InvokeStreaming implements domain.AgentBackend.
func (f *Failover) InvokeStreaming(ctx context.Context, agent domain.AgentDescriptor, message string, history []domain.Message, args map[string]string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var errs []error
		for i, b := range f.backends {
			started := false
			var failed error
			for chunk, err := range b.InvokeStreaming(ctx, agent, message, history, args) {
				if err != nil {
					if started || ctx.Err() != nil {
						yield("", err)
						return
					}
					failed = err
					break
				}
				started = true
				if !yield(chunk, nil) {
					return
				}
			}
			if failed == nil {
				if i > 0 {
					f.logger.Info("failover succeeded", "backend", f.names[i], "agent", agent.Name)
				}
				return
			}
			f.logger.Warn("backend failed before replying", "backend", f.names[i], "agent", agent.Name, "error", failed)
			errs = append(errs, fmt.Errorf("%s: %w", f.names[i], failed))
		}
		yield("", fmt.Errorf("%w: all backends failed: %w", domain.ErrBackend, errors.Join(errs...)))
	}
}
