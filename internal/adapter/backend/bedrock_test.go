//go:build bedrock

package backend

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agntschat/internal/domain"
	"agntschat/internal/infra/config"
)

type failingConverse struct{ err error }

func (f failingConverse) ConverseStream(context.Context, *bedrockruntime.ConverseStreamInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	return nil, f.err
}

func TestBedrock_Input(t *testing.T) {
	b := newBedrockWithClient(config.BackendConfig{Model: "anthropic.claude"}, failingConverse{}, NewPromptLibrary(""), newTestLogger())
	temp := 0.5
	in := b.input(Prompt{System: "be brief", MaxTokens: 100, Temperature: &temp}, "hi",
		[]domain.Message{{Role: domain.RoleAssistant, Content: "earlier"}})

	assert.Equal(t, "anthropic.claude", *in.ModelId)
	require.Len(t, in.System, 1)
	require.Len(t, in.Messages, 2)
	assert.Equal(t, types.ConversationRoleAssistant, in.Messages[0].Role)
	assert.Equal(t, types.ConversationRoleUser, in.Messages[1].Role)
	assert.Equal(t, int32(100), *in.InferenceConfig.MaxTokens)
}

func TestBedrock_ConnectFailure(t *testing.T) {
	b := newBedrockWithClient(config.BackendConfig{Model: "m"}, failingConverse{err: fmt.Errorf("no credentials")},
		NewPromptLibrary(""), newTestLogger())
	_, err := collect(b.InvokeStreaming(context.Background(), writer, "hi", nil, nil))
	assert.ErrorIs(t, err, domain.ErrBackend)
}
