//go:build bedrock

package backend

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"agntschat/internal/domain"
	"agntschat/internal/infra/config"
	"agntschat/internal/infra/tracer"
)

// converseStreamAPI is the slice of the Bedrock runtime client in use.
type converseStreamAPI interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Bedrock streams agent replies through the Bedrock Converse API.
type Bedrock struct {
	model   string
	client  converseStreamAPI
	prompts *PromptLibrary
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*bedrockruntime.ConverseStreamOutput]
	logger  *slog.Logger
}

var _ domain.AgentBackend = (*Bedrock)(nil)

func newBedrock(cfg config.BackendConfig, prompts *PromptLibrary, logger *slog.Logger) (domain.AgentBackend, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newBedrockWithClient(cfg, bedrockruntime.NewFromConfig(awsCfg), prompts, logger), nil
}

func newBedrockWithClient(cfg config.BackendConfig, client converseStreamAPI, prompts *PromptLibrary, logger *slog.Logger) *Bedrock {
	return &Bedrock{
		model:   cfg.Model,
		client:  client,
		prompts: prompts,
		limiter: newLimiter(cfg),
		breaker: newBreaker[*bedrockruntime.ConverseStreamOutput]("bedrock", cfg.CircuitBreaker, logger),
		logger:  logger,
	}
}

// InvokeStreaming implements domain.AgentBackend.
func (b *Bedrock) InvokeStreaming(ctx context.Context, agent domain.AgentDescriptor, message string, history []domain.Message, args map[string]string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, span := tracer.StartSpan(ctx, "backend.invoke",
			tracer.StringAttr("backend.provider", "bedrock"),
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
		if werr := waitTurn(ctx, b.limiter); werr != nil {
			fail(werr)
			return
		}
		out, cerr := guard(b.breaker, func() (*bedrockruntime.ConverseStreamOutput, error) {
			return b.client.ConverseStream(ctx, b.input(prompt, message, history))
		})
		if cerr != nil {
			fail(mapBedrockError(cerr))
			return
		}
		stream := out.GetStream()
		defer stream.Close()

		for evt := range stream.Events() {
			e, ok := evt.(*types.ConverseStreamOutputMemberContentBlockDelta)
			if !ok {
				continue
			}
			if d, ok := e.Value.Delta.(*types.ContentBlockDeltaMemberText); ok && d.Value != "" {
				if !yield(d.Value, nil) {
					return
				}
			}
		}
		if serr := stream.Err(); serr != nil {
			fail(mapBedrockError(serr))
		}
	}
}

func (b *Bedrock) input(p Prompt, message string, history []domain.Message) *bedrockruntime.ConverseStreamInput {
	in := &bedrockruntime.ConverseStreamInput{ModelId: aws.String(b.model)}
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	in.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(maxTokens))}
	if p.Temperature != nil {
		in.InferenceConfig.Temperature = aws.Float32(float32(*p.Temperature))
	}

	for _, m := range chatMessages(p.System, message, history) {
		switch m.Role {
		case domain.RoleSystem:
			in.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: m.Content}}
		case domain.RoleAssistant:
			in.Messages = append(in.Messages, types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})
		default:
			in.Messages = append(in.Messages, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})
		}
	}
	return in
}

func mapBedrockError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrBackend) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: bedrock %s: %s", domain.ErrBackend, apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return fmt.Errorf("%w: bedrock: %v", domain.ErrBackend, err)
}
