package usecase

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"agntschat/internal/domain"
	"agntschat/internal/infra/tracer"
	"agntschat/internal/usecase/runtime"
)

// DefaultDeadline bounds a whole orchestration run.
const DefaultDeadline = 120 * time.Second

// AgentRuntime is the lifecycle owner a coordinator runs agents on.
type AgentRuntime interface {
	EnsureStarted(ctx context.Context) (*runtime.Handle, error)
}

// OrchestrationError is the single failure a run surfaces. It matches
// domain.ErrOrchestration, domain.ErrOrchestrationTimeout when the deadline
// fired, and the underlying cause.
type OrchestrationError struct {
	RunID   string
	Stage   int // zero-based pipeline position; -1 before any stage ran
	Agent   string
	Timeout bool
	Err     error
}

func (e *OrchestrationError) Error() string {
	what := "orchestration failed"
	if e.Timeout {
		what = "orchestration deadline exceeded"
	}
	if e.Stage < 0 {
		return fmt.Sprintf("run %s: %s: %v", e.RunID, what, e.Err)
	}
	return fmt.Sprintf("run %s: %s at stage %d (%s): %v", e.RunID, what, e.Stage+1, e.Agent, e.Err)
}

func (e *OrchestrationError) Unwrap() []error {
	errs := []error{domain.ErrOrchestration}
	if e.Timeout {
		errs = append(errs, domain.ErrOrchestrationTimeout)
	}
	return append(errs, e.Err)
}

// CoordinatorConfig tunes a Coordinator.
type CoordinatorConfig struct {
	Deadline time.Duration
}

// Coordinator runs an ordered agent pipeline on the shared runtime and
// exposes the result as a lazy chunk sequence.
type Coordinator struct {
	runtime  AgentRuntime
	bus      domain.EventBus
	logger   *slog.Logger
	deadline time.Duration
}

// NewCoordinator creates a coordinator. bus may be nil.
func NewCoordinator(rt AgentRuntime, bus domain.EventBus, cfg CoordinatorConfig, logger *slog.Logger) *Coordinator {
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	return &Coordinator{runtime: rt, bus: bus, logger: logger, deadline: cfg.Deadline}
}

// Invoke validates the request and returns the run as a lazy sequence.
// Nothing starts until the sequence is iterated. An empty pipeline or bad
// kernel arguments fail here, before any I/O.
//
// Each agent after the first receives the original message followed by the
// previous agent's output. A single-agent run streams live; a longer
// pipeline releases the final agent's chunks only once every stage has
// succeeded, so a failed run never leaks partial output. A failure yields
// exactly one *OrchestrationError and ends the sequence.
func (c *Coordinator) Invoke(ctx context.Context, message string, agents []domain.AgentDescriptor, history []domain.Message, args domain.KernelArguments) (iter.Seq2[string, error], error) {
	if len(agents) == 0 {
		return nil, domain.NewDomainError("Coordinator.Invoke", domain.ErrInvalidPipeline, "no agents selected")
	}
	params, err := args.Map()
	if err != nil {
		return nil, domain.WrapOp("Coordinator.Invoke", err)
	}
	pipeline := append([]domain.AgentDescriptor(nil), agents...)
	history = append([]domain.Message(nil), history...)

	return func(yield func(string, error) bool) {
		c.run(ctx, message, pipeline, history, params, yield)
	}, nil
}

func (c *Coordinator) run(ctx context.Context, message string, agents []domain.AgentDescriptor, history []domain.Message, params map[string]string, yield func(string, error) bool) {
	runID := newID()
	names := domain.AgentNames(agents)

	ctx, span := tracer.StartSpan(ctx, "orchestration.invoke",
		tracer.StringAttr("run.id", runID),
		tracer.StringsAttr("run.agents", names),
	)
	var runErr error
	defer func() { tracer.Finish(span, runErr) }()

	logger := c.logger.With("run_id", runID)
	publishEvent(c.bus, ctx, domain.EventRunStarted, runID, domain.RunPayload{Agents: names})

	fail := func(stage int, agent string, cause error) {
		oe := &OrchestrationError{RunID: runID, Stage: stage, Agent: agent, Err: cause}
		oe.Timeout = errors.Is(cause, context.DeadlineExceeded) && ctx.Err() == nil
		runErr = oe
		logger.Warn("orchestration run failed", "stage", stage+1, "agent", agent, "timeout", oe.Timeout, "error", cause)
		publishEvent(c.bus, ctx, domain.EventRunFailed, runID, domain.RunPayload{
			Agents: names, Stage: stage + 1, Agent: agent, Error: cause.Error(),
		})
		yield("", oe)
	}

	h, err := c.runtime.EnsureStarted(ctx)
	if err != nil {
		fail(-1, "", err)
		return
	}
	// Only this run's work is drained; concurrent runs do not wait on each
	// other. Registered before the deadline cancel so that cancellation runs
	// first and in-flight stages can wind down before the drain waits on them.
	work := h.Group()
	defer func() {
		if err := work.Wait(context.WithoutCancel(ctx)); err != nil {
			logger.Error("drain after run failed", "error", err)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	live := len(agents) == 1
	input := message
	var final []string
	for i, agent := range agents {
		last := i == len(agents)-1

		var emit func(string) bool
		if live {
			emit = func(chunk string) bool { return yield(chunk, nil) }
		}
		chunks, stopped, err := c.runStage(runCtx, work, runID, i, agent, input, history, params, emit)
		if stopped {
			logger.Debug("consumer stopped reading", "stage", i+1)
			return
		}
		if err == nil && strings.TrimSpace(strings.Join(chunks, "")) == "" && last {
			err = fmt.Errorf("%w: agent %q returned an empty response", domain.ErrBackend, agent.Name)
		}
		if err != nil {
			fail(i, agent.Name, err)
			return
		}
		if last {
			final = chunks
			break
		}
		input = message + "\n\n--- Output from " + agent.Name + " ---\n" + strings.Join(chunks, "")
	}

	total := 0
	for _, chunk := range final {
		total += len(chunk)
		if !live && !yield(chunk, nil) {
			return
		}
	}
	logger.Info("orchestration run completed", "agents", names, "chars", total)
	publishEvent(c.bus, ctx, domain.EventRunCompleted, runID, domain.RunPayload{Agents: names, Chars: total})
}

type stageMsg struct {
	chunk string
	err   error
}

// runStage invokes one agent on tracked runtime work and collects its
// chunks. When emit is set each chunk is also forwarded as it arrives;
// stopped reports that emit asked to stop.
func (c *Coordinator) runStage(ctx context.Context, work *runtime.Group, runID string, stage int, agent domain.AgentDescriptor, input string, history []domain.Message, params map[string]string, emit func(string) bool) (chunks []string, stopped bool, err error) {
	ctx, span := tracer.StartSpan(ctx, "orchestration.stage",
		tracer.StringAttr("run.id", runID),
		tracer.IntAttr("stage", stage+1),
		tracer.StringAttr("agent", agent.Name),
	)
	defer func() { tracer.Finish(span, err) }()

	stageCtx, stop := context.WithCancel(ctx)
	defer stop()

	args := make(map[string]string, len(params)+1)
	args["message"] = input
	for k, v := range params {
		args[k] = v
	}

	ch := make(chan stageMsg)
	backend := work.Backend()
	if err := work.Go(func() {
		defer close(ch)
		defer func() {
			if r := recover(); r != nil {
				select {
				case ch <- stageMsg{err: fmt.Errorf("%w: agent panicked: %v", domain.ErrBackend, r)}:
				case <-stageCtx.Done():
				}
			}
		}()
		for chunk, err := range backend.InvokeStreaming(stageCtx, agent, input, history, args) {
			select {
			case ch <- stageMsg{chunk: chunk, err: err}:
			case <-stageCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}); err != nil {
		return nil, false, err
	}

	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return chunks, false, ctx.Err()
			}
			if m.err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return chunks, false, ctxErr
				}
				return chunks, false, m.err
			}
			chunks = append(chunks, m.chunk)
			if emit != nil && !emit(m.chunk) {
				return chunks, true, nil
			}
		case <-ctx.Done():
			return chunks, false, ctx.Err()
		}
	}
}
