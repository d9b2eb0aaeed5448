package inference

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"videoindex/config"
)

// Usage carries token counts from one completion call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// ChatClient is the chat-completion boundary used for transcript
// refinement, window descriptions and topic titles.
type ChatClient interface {
	Complete(ctx context.Context, model, system, user string, maxTokens int, temperature float32) (string, Usage, error)
}

type openAIChat struct {
	cli *openai.Client
}

func newOpenAIClient(cfg *config.Config) *openai.Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientConfig)
}

func newOpenAIChat(cfg *config.Config) *openAIChat {
	return &openAIChat{cli: newOpenAIClient(cfg)}
}

func (c *openAIChat) Complete(ctx context.Context, model, system, user string, maxTokens int, temperature float32) (string, Usage, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: user})

	resp, err := c.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", Usage{}, err
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, errors.New("no choices in completion response")
	}
	usage := Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens}
	return strings.TrimSpace(resp.Choices[0].Message.Content), usage, nil
}

// MockChat echoes a canned reply; Err, when set, simulates provider
// failure so fallbacks can be exercised in tests.
type MockChat struct {
	Reply string
	Err   error
	Calls int
}

func (m *MockChat) Complete(_ context.Context, _, _, user string, _ int, _ float32) (string, Usage, error) {
	m.Calls++
	if m.Err != nil {
		return "", Usage{}, m.Err
	}
	reply := m.Reply
	if reply == "" {
		reply = "Mock completion for: " + truncate(user, 12)
	}
	return reply, Usage{PromptTokens: len(user) / 4, CompletionTokens: len(reply) / 4}, nil
}

func truncate(s string, words int) string {
	fields := strings.Fields(s)
	if len(fields) <= words {
		return s
	}
	return strings.Join(fields[:words], " ") + "..."
}
