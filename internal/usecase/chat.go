package usecase

import (
	"context"
	"iter"
	"log/slog"
	"strings"
	"time"

	"agntschat/internal/domain"
	"agntschat/internal/infra/tracer"
)

// ContextSearcher retrieves context for a query. It never fails.
type ContextSearcher interface {
	Search(ctx context.Context, query string, params map[string]any) []domain.ContextResult
}

// Reply is the outcome of one Send.
type Reply struct {
	TurnID   string
	Text     string
	Degraded bool
	Context  []domain.ContextResult
}

// ChatServiceConfig tunes a ChatService.
type ChatServiceConfig struct {
	NotifyEvery int
}

// ChatService is the entry point of a chat turn: it augments the message
// with retrieved context and runs it through the degradation policy.
type ChatService struct {
	searcher ContextSearcher
	policy   *DegradationPolicy
	conv     *Conversation
	bus      domain.EventBus
	logger   *slog.Logger
	cfg      ChatServiceConfig
}

// NewChatService creates a chat service over conv. bus may be nil.
func NewChatService(searcher ContextSearcher, policy *DegradationPolicy, conv *Conversation, bus domain.EventBus, cfg ChatServiceConfig, logger *slog.Logger) *ChatService {
	if cfg.NotifyEvery <= 0 {
		cfg.NotifyEvery = DefaultNotifyEvery
	}
	return &ChatService{searcher: searcher, policy: policy, conv: conv, bus: bus, logger: logger, cfg: cfg}
}

// WithConversation returns a service that shares everything with s except
// the history, which is conv.
func (s *ChatService) WithConversation(conv *Conversation) *ChatService {
	c := *s
	c.conv = conv
	return &c
}

// Conversation returns the history the service appends to.
func (s *ChatService) Conversation() *Conversation { return s.conv }

// SearchContext queries the context sources. It never fails.
func (s *ChatService) SearchContext(ctx context.Context, query string, params map[string]any) []domain.ContextResult {
	return s.searcher.Search(ctx, query, params)
}

// SendMessage starts a chat turn and returns the reply as a lazy sequence.
// The user turn is recorded immediately. Once the sequence ends the
// assistant turn is recorded exactly once: the concatenated chunks, followed
// by "Error: <msg>" when the run failed. A consumer that stops early records
// nothing further.
func (s *ChatService) SendMessage(ctx context.Context, text string, agents []domain.AgentDescriptor, args domain.KernelArguments) (iter.Seq2[string, error], error) {
	seq, _, err := s.start(ctx, text, agents, args)
	return seq, err
}

// Send runs a full chat turn, feeding every chunk through a
// ResponseAggregator that reports to observer. On failure the buffer gets a
// single "Error: <msg>" chunk and the error is returned along with the
// reply so far.
func (s *ChatService) Send(ctx context.Context, text string, agents []domain.AgentDescriptor, args domain.KernelArguments, observer ProgressObserver) (Reply, error) {
	seq, turn, err := s.start(ctx, text, agents, args)
	if err != nil {
		return Reply{}, err
	}

	agg := NewResponseAggregator(observer, s.cfg.NotifyEvery)
	runErr := agg.Consume(seq)
	if runErr != nil {
		_ = agg.OnChunk(errorText(runErr))
	}
	out, _ := agg.Finish()
	return Reply{TurnID: turn.id, Text: out, Degraded: turn.degraded, Context: turn.results}, runErr
}

// turn is the state of one chat exchange.
type turn struct {
	id       string
	agents   []string
	results  []domain.ContextResult
	degraded bool
}

func (s *ChatService) start(ctx context.Context, text string, agents []domain.AgentDescriptor, args domain.KernelArguments) (iter.Seq2[string, error], *turn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil, domain.NewDomainError("ChatService.SendMessage", domain.ErrInvalidInput, "message is empty")
	}
	if len(agents) == 0 {
		return nil, nil, domain.NewDomainError("ChatService.SendMessage", domain.ErrInvalidPipeline, "no agents selected")
	}

	t := &turn{id: newID(), agents: domain.AgentNames(agents)}
	ctx, span := tracer.StartSpan(ctx, "chat.search_context", tracer.StringAttr("turn.id", t.id))
	t.results = s.searcher.Search(ctx, text, nil)
	span.SetAttributes(tracer.IntAttr("results.count", len(t.results)))
	span.End()

	message := BuildPrompt(text, t.results)
	history := s.conv.Messages()

	seq, err := s.policy.Run(ctx, message, agents, history, args, OnDegrade(func(error) { t.degraded = true }))
	if err != nil {
		return nil, nil, err
	}

	s.conv.Append(domain.Message{Role: domain.RoleUser, Content: message})
	publishEvent(s.bus, ctx, domain.EventChatRequest, t.id, domain.ChatRequestLog{
		ID: newID(), RunID: t.id, Message: text, Agents: t.agents, At: time.Now(),
	})
	s.logger.Debug("chat turn started", "turn_id", t.id, "agents", t.agents, "context_results", len(t.results))

	return func(yield func(string, error) bool) {
		var buf strings.Builder
		for chunk, err := range seq {
			if err != nil {
				buf.WriteString(errorText(err))
				s.finishTurn(ctx, t, buf.String(), err)
				yield("", err)
				return
			}
			buf.WriteString(chunk)
			if !yield(chunk, nil) {
				return
			}
		}
		s.finishTurn(ctx, t, buf.String(), nil)
	}, t, nil
}

func (s *ChatService) finishTurn(ctx context.Context, t *turn, text string, runErr error) {
	s.conv.Append(domain.Message{Role: domain.RoleAssistant, Content: text})

	agent := strings.Join(t.agents, ",")
	if t.degraded && len(t.agents) > 0 {
		agent = t.agents[0]
	}
	publishEvent(s.bus, ctx, domain.EventChatResponse, t.id, domain.ChatResponseLog{
		ID: newID(), RunID: t.id, Agent: agent, Response: text,
		Degraded: t.degraded, Failed: runErr != nil, At: time.Now(),
	})
	if runErr != nil {
		s.logger.Warn("chat turn failed", "turn_id", t.id, "code", string(domain.ErrorCodeOf(runErr)), "error", runErr)
	}
}

func errorText(err error) string {
	return "Error: " + err.Error()
}
