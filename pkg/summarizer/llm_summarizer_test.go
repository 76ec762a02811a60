package summarizer

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	reply    string
	err      error
	prompts  []string
	lastOpts llms.CallOptions
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				m.prompts = append(m.prompts, text.Text)
			}
		}
	}
	m.lastOpts = llms.CallOptions{}
	for _, opt := range options {
		opt(&m.lastOpts)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestLLMSummarizer_Summarize(t *testing.T) {
	model := &fakeModel{reply: "  The scan dominates.  "}
	s := NewWithModel(model, Config{Temperature: 0.2}, zerolog.New(zerolog.NewTestWriter(t)))

	out, err := s.Summarize(context.Background(), "report body")
	require.NoError(t, err)
	assert.Equal(t, "The scan dominates.", out)
	assert.Equal(t, []string{"report body"}, model.prompts)
	assert.Equal(t, 1500, model.lastOpts.MaxTokens)
	assert.Equal(t, 0.2, model.lastOpts.Temperature)
}

func TestLLMSummarizer_Errors(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))

	s := NewWithModel(&fakeModel{err: fmt.Errorf("401 unauthorized")}, Config{}, logger)
	_, err := s.Summarize(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401 unauthorized")

	empty := NewWithModel(&emptyModel{}, Config{}, logger)
	_, err = empty.Summarize(context.Background(), "x")
	require.Error(t, err)
}

type emptyModel struct{ fakeModel }

func (m *emptyModel) GenerateContent(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{}, nil
}

func TestNew(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))

	s, err := New(Config{Provider: ProviderNone}, logger)
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = New(Config{Provider: "carrier-pigeon"}, logger)
	require.Error(t, err)

	s, err = New(Config{Provider: ProviderOpenAI, Model: "gpt-4o-mini", Token: "test-token", BaseURL: "http://127.0.0.1:1/v1"}, logger)
	require.NoError(t, err)
	assert.NotNil(t, s)

	assert.False(t, DefaultConfig().Enabled())
	assert.True(t, Config{Provider: ProviderOpenAI}.Enabled())
}
