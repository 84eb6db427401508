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

// OpenAI streams agent replies from any OpenAI-compatible chat completions
// endpoint.
type OpenAI struct {
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
	prompts *PromptLibrary
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*http.Response]
	logger  *slog.Logger
}

var _ domain.AgentBackend = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI-compatible backend.
func NewOpenAI(cfg config.BackendConfig, prompts *PromptLibrary, logger *slog.Logger) *OpenAI {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAI{
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  newHTTPClient(cfg),
		prompts: prompts,
		limiter: newLimiter(cfg),
		breaker: newBreaker[*http.Response]("openai", cfg.CircuitBreaker, logger),
		logger:  logger,
	}
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type openaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// InvokeStreaming implements domain.AgentBackend. Breaking out of the
// sequence closes the HTTP response.
func (b *OpenAI) InvokeStreaming(ctx context.Context, agent domain.AgentDescriptor, message string, history []domain.Message, args map[string]string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, span := tracer.StartSpan(ctx, "backend.invoke",
			tracer.StringAttr("backend.provider", "openai"),
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

		headers := map[string]string{}
		if b.apiKey != "" {
			headers["Authorization"] = "Bearer " + b.apiKey
		}
		resp, rerr := guard(b.breaker, func() (*http.Response, error) {
			return doStreamRequest(ctx, b.client, b.baseURL+"/chat/completions", body, headers)
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
			var chunk openaiStreamChunk
			if json.Unmarshal(data, &chunk) != nil {
				continue
			}
			if chunk.Error != nil {
				fail(fmt.Errorf("%w: %s", domain.ErrBackend, chunk.Error.Message))
				return
			}
			for _, c := range chunk.Choices {
				if c.Delta.Content == "" {
					continue
				}
				chars += len(c.Delta.Content)
				if !yield(c.Delta.Content, nil) {
					return
				}
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			fail(ctxErr)
			return
		}
		span.SetAttributes(tracer.IntAttr("backend.chars", chars))
		b.logger.Debug("agent reply streamed", "agent", agent.Name, "chars", chars)
	}
}

func (b *OpenAI) request(p Prompt, message string, history []domain.Message) openaiRequest {
	msgs := chatMessages(p.System, message, history)
	out := make([]openaiMessage, len(msgs))
	for i, m := range msgs {
		out[i] = openaiMessage{Role: m.Role, Content: m.Content, Name: m.Name}
	}
	return openaiRequest{
		Model:       b.model,
		Messages:    out,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		Stream:      true,
	}
}
