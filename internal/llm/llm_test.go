package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/fyrsmithlabs/orgrag/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

// fakeModel records the last request and returns a canned answer.
type fakeModel struct {
	answer   string
	err      error
	messages []llms.MessageContent
	options  llms.CallOptions
}

func (f *fakeModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, opts...)
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	f.options = llms.CallOptions{}
	for _, opt := range opts {
		opt(&f.options)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.answer}}}, nil
}

func TestChatGenerator_Complete(t *testing.T) {
	model := &fakeModel{answer: "  The refund window is 30 days.\n"}
	g := NewChatGenerator(model, Config{Model: "gpt-4o-mini"}, zap.NewNop())

	answer, err := g.Complete(context.Background(), "system prompt", "user prompt")
	require.NoError(t, err)
	assert.Equal(t, "  The refund window is 30 days.\n", answer, "answer is returned verbatim")

	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.TextContent{Text: "system prompt"}, model.messages[0].Parts[0])
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, DefaultMaxTokens, model.options.MaxTokens)
}

func TestChatGenerator_Options(t *testing.T) {
	model := &fakeModel{answer: "ok"}
	g := NewChatGenerator(model, Config{MaxTokens: 500}, zap.NewNop())

	_, err := g.Complete(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, 500, model.options.MaxTokens)

	_, err = g.Complete(context.Background(), "s", "u", WithMaxTokens(64), WithTemperature(0.2))
	require.NoError(t, err)
	assert.Equal(t, 64, model.options.MaxTokens)
	assert.InDelta(t, 0.2, model.options.Temperature, 1e-9)
}

func TestChatGenerator_Errors(t *testing.T) {
	g := NewChatGenerator(&fakeModel{err: errors.New("502 bad gateway")}, Config{}, zap.NewNop())
	_, err := g.Complete(context.Background(), "s", "u")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGenerationFailed))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g = NewChatGenerator(&fakeModel{answer: "x"}, Config{RequestsPerSecond: 0.001}, zap.NewNop())
	_, _ = g.Complete(context.Background(), "s", "u") // consumes the burst
	_, err = g.Complete(ctx, "s", "u")
	assert.Error(t, err)
}

func TestNewOpenAIGenerator_RequiresCredentials(t *testing.T) {
	_, err := NewOpenAIGenerator(Config{Model: "gpt-4o-mini"}, zap.NewNop())
	assert.True(t, errors.Is(err, config.ErrConfiguration))

	g, err := NewOpenAIGenerator(ConfigFrom(config.GenerationConfig{APIKey: "sk-test", Model: "gpt-4o-mini", MaxTokens: 800}), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 800, g.maxTokens)
}
