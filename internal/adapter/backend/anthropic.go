package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"agntschat/internal/domain"
	"agntschat/internal/infra/config"
	"agntschat/internal/infra/tracer"
)

const (
	defaultAnthropicVersion   = "2023-06-01"
	defaultAnthropicMaxTokens = 4096
)

// Anthropic streams agent replies from the Anthropic Messages API.
type Anthropic struct {
	model   string
	apiKey  string
	baseURL string
	version string
	client  *http.Client
	prompts *PromptLibrary
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*http.Response]
	logger  *slog.Logger
}

var _ domain.AgentBackend = (*Anthropic)(nil)

// NewAnthropic creates a Messages API backend.
func NewAnthropic(cfg config.BackendConfig, prompts *PromptLibrary, logger *slog.Logger) *Anthropic {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" || baseURL == "https://api.openai.com/v1" {
		baseURL = "https://api.anthropic.com"
	}
	return &Anthropic{
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		version: defaultAnthropicVersion,
		client:  newHTTPClient(cfg),
		prompts: prompts,
		limiter: newLimiter(cfg),
		breaker: newBreaker[*http.Response]("anthropic", cfg.CircuitBreaker, logger),
		logger:  logger,
	}
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// InvokeStreaming implements domain.AgentBackend. Only text deltas are
// forwarded; the stream ends at message_stop or EOF.
func (b *Anthropic) InvokeStreaming(ctx context.Context, agent domain.AgentDescriptor, message string, history []domain.Message, args map[string]string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, span := tracer.StartSpan(ctx, "backend.invoke",
			tracer.StringAttr("backend.provider", "anthropic"),
			tracer.StringAttr("backend.model", b.model),
			tracer.StringAttr("agent.name", agent.Name),
		)
		var err error
		defer func() { tracer.Finish(span, err) }()

		fail := func(e error) {
			err = e
			yield("", e)
		}

		prompt, perr := b.prompts.Render(agent, args)
		if perr != nil {
			fail(fmt.Errorf("%w: %v", domain.ErrBackend, perr))
			return
		}
		body, merr := json.Marshal(b.request(prompt, message, history))
		if merr != nil {
			fail(fmt.Errorf("marshal request: %w", merr))
			return
		}
		if werr := waitTurn(ctx, b.limiter); werr != nil {
			fail(werr)
			return
		}

		headers := map[string]string{
			"x-api-key":         b.apiKey,
			"anthropic-version": b.version,
		}
		resp, rerr := guard(b.breaker, func() (*http.Response, error) {
			return doStreamRequest(ctx, b.client, b.baseURL+"/v1/messages", body, headers)
		})
		if rerr != nil {
			fail(rerr)
			return
		}
		defer resp.Body.Close()

		chars := 0
		for data, serr := range sseEvents(resp.Body) {
			if serr != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					fail(ctxErr)
				} else {
					fail(fmt.Errorf("%w: read stream: %v", domain.ErrBackend, serr))
				}
				return
			}
			var evt anthropicStreamEvent
			if json.Unmarshal(data, &evt) != nil {
				continue
			}
			switch evt.Type {
			case "error":
				msg := "stream error"
				if evt.Error != nil {
					msg = evt.Error.Type + ": " + evt.Error.Message
				}
				fail(fmt.Errorf("%w: %s", domain.ErrBackend, msg))
				return
			case "content_block_delta":
				if evt.Delta.Type != "text_delta" || evt.Delta.Text == "" {
					continue
				}
				chars += len(evt.Delta.Text)
				if !yield(evt.Delta.Text, nil) {
					return
				}
			case "message_stop":
				span.SetAttributes(tracer.IntAttr("backend.chars", chars))
				b.logger.Debug("agent reply streamed", "agent", agent.Name, "chars", chars)
				return
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			fail(ctxErr)
			return
		}
		span.SetAttributes(tracer.IntAttr("backend.chars", chars))
	}
}

// request maps the conversation onto the Messages API, which takes the
// system prompt separately.
func (b *Anthropic) request(p Prompt, message string, history []domain.Message) anthropicRequest {
	msgs := chatMessages("", message, history)
	out := make([]anthropicMessage, len(msgs))
	for i, m := range msgs {
		out[i] = anthropicMessage{Role: m.Role, Content: m.Content}
	}
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return anthropicRequest{
		Model:       b.model,
		System:      p.System,
		Messages:    out,
		MaxTokens:   maxTokens,
		Temperature: p.Temperature,
		Stream:      true,
	}
}
