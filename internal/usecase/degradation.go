package usecase

import (
	"context"
	"errors"
	"iter"
	"log/slog"

	"agntschat/internal/domain"
)

// DefaultDegradationNotice prefixes a reply that fell back to one agent.
const DefaultDegradationNotice = "[Multi-agent coordination failed; continuing with the first agent only]\n"

// DegradationPolicy wraps a coordinator and falls back to the first agent
// alone when a multi-agent run fails. The fallback happens at most once.
type DegradationPolicy struct {
	coord  *Coordinator
	notice string
	bus    domain.EventBus
	logger *slog.Logger
}

// NewDegradationPolicy creates a policy over coord. An empty notice selects
// DefaultDegradationNotice.
func NewDegradationPolicy(coord *Coordinator, notice string, bus domain.EventBus, logger *slog.Logger) *DegradationPolicy {
	if notice == "" {
		notice = DefaultDegradationNotice
	}
	return &DegradationPolicy{coord: coord, notice: notice, bus: bus, logger: logger}
}

// RunOption customizes one Run call.
type RunOption func(*runOptions)

type runOptions struct {
	onDegrade func(failure error)
}

// OnDegrade registers fn to be called when this run falls back to its first
// agent, before the notice is yielded.
func OnDegrade(fn func(failure error)) RunOption {
	return func(o *runOptions) { o.onDegrade = fn }
}

// Notice returns the text yielded ahead of a degraded reply.
func (p *DegradationPolicy) Notice() string { return p.notice }

// Run invokes the pipeline. If it fails with more than one agent, the notice
// is yielded followed by the first agent's standalone reply. A single-agent
// failure, a fallback failure and caller errors propagate unchanged.
func (p *DegradationPolicy) Run(ctx context.Context, message string, agents []domain.AgentDescriptor, history []domain.Message, args domain.KernelArguments, opts ...RunOption) (iter.Seq2[string, error], error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	primary, err := p.coord.Invoke(ctx, message, agents, history, args)
	if err != nil {
		return nil, err
	}
	agents = append([]domain.AgentDescriptor(nil), agents...)

	return func(yield func(string, error) bool) {
		var failure error
		for chunk, err := range primary {
			if err != nil {
				failure = err
				break
			}
			if !yield(chunk, nil) {
				return
			}
		}
		if failure == nil {
			return
		}
		if len(agents) < 2 || !domain.IsDegradable(failure) || ctx.Err() != nil {
			yield("", failure)
			return
		}

		var runID string
		var oe *OrchestrationError
		if errors.As(failure, &oe) {
			runID = oe.RunID
		}
		p.logger.Warn("multi-agent run failed, degrading to first agent",
			"run_id", runID, "agents", domain.AgentNames(agents), "fallback", agents[0].Name, "error", failure)
		publishEvent(p.bus, ctx, domain.EventRunDegraded, runID, domain.RunPayload{
			Agents: domain.AgentNames(agents), Agent: agents[0].Name, Error: failure.Error(),
		})

		if o.onDegrade != nil {
			o.onDegrade(failure)
		}
		if !yield(p.notice, nil) {
			return
		}
		fallback, err := p.coord.Invoke(ctx, message, agents[:1], history, args)
		if err != nil {
			yield("", err)
			return
		}
		for chunk, err := range fallback {
			if !yield(chunk, err) || err != nil {
				return
			}
		}
	}, nil
}
