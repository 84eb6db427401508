package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agntschat/internal/domain"
	"agntschat/internal/infra/config"
)

func anthropicBody(chunks ...string) string {
	var b strings.Builder
	b.WriteString("event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
	b.WriteString("event: content_block_start\ndata: {\"type\":\"content_block_start\",\"index\":0}\n\n")
	for _, c := range chunks {
		data, _ := json.Marshal(map[string]any{
			"type":  "content_block_delta",
			"delta": map[string]string{"type": "text_delta", "text": c},
		})
		fmt.Fprintf(&b, "event: content_block_delta\ndata: %s\n\n", data)
	}
	b.WriteString("event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	return b.String()
}

func testAnthropic(t *testing.T, url string) *Anthropic {
	t.Helper()
	cfg := config.BackendConfig{Provider: "anthropic", BaseURL: url, APIKey: "ak-test", Model: "claude-test"}
	return NewAnthropic(cfg, NewPromptLibrary(t.TempDir()), newTestLogger())
}

func TestAnthropic_StreamsTextDeltas(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak-test", r.Header.Get("x-api-key"))
		assert.Equal(t, defaultAnthropicVersion, r.Header.Get("anthropic-version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, anthropicBody("Hel", "lo"))
	}))
	defer srv.Close()

	history := []domain.Message{
		{Role: domain.RoleUser, Content: "earlier"},
		{Role: domain.RoleAssistant, Content: "reply"},
	}
	chunks, err := collect(testAnthropic(t, srv.URL).InvokeStreaming(context.Background(), writer, "hi", history, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, chunks)

	assert.Equal(t, "claude-test", got.Model)
	assert.Equal(t, "You are Writer. drafts text", got.System)
	assert.Equal(t, defaultAnthropicMaxTokens, got.MaxTokens)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "hi", got.Messages[2].Content)
}

func TestAnthropic_ErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	}))
	defer srv.Close()

	_, err := collect(testAnthropic(t, srv.URL).InvokeStreaming(context.Background(), writer, "hi", nil, nil))
	assert.ErrorIs(t, err, domain.ErrBackend)
	assert.ErrorContains(t, err, "overloaded_error")
}

func TestAnthropic_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := collect(testAnthropic(t, srv.URL).InvokeStreaming(context.Background(), writer, "hi", nil, nil))
	assert.ErrorIs(t, err, domain.ErrBackend)
	assert.ErrorContains(t, err, "credentials rejected")
}

func TestNewAnthropic_DefaultBaseURL(t *testing.T) {
	b := NewAnthropic(config.BackendConfig{BaseURL: "https://api.openai.com/v1"}, NewPromptLibrary(""), newTestLogger())
	assert.Equal(t, "https://api.anthropic.com", b.baseURL)
}
