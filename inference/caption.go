package inference

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"videoindex/config"
)

// Captioner produces a one-sentence natural language description of an
// image. A failed caption is not fatal to a batch; the caller skips the
// frame's caption record and keeps going.
type Captioner interface {
	Caption(ctx context.Context, imagePath string) (string, error)
}

type openAICaptioner struct {
	cli   *openai.Client
	model string
}

func newOpenAICaptioner(cfg *config.Config) *openAICaptioner {
	return &openAICaptioner{cli: newOpenAIClient(cfg), model: cfg.CaptionModel}
}

func (c *openAICaptioner) Caption(ctx context.Context, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("read frame image: %w", err)
	}
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)

	resp, err := c.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: "Describe this video frame in one concise sentence. Mention the main subjects, actions and setting.",
					},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURL, Detail: openai.ImageURLDetailLow},
					},
				},
			},
		},
		MaxTokens:   80,
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in caption response")
	}
	caption := strings.TrimSpace(resp.Choices[0].Message.Content)
	caption = strings.Trim(caption, `"`)
	return caption, nil
}

type MockCaptioner struct {
	Err error
}

func (m *MockCaptioner) Caption(_ context.Context, imagePath string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	return "a frame from " + imagePath, nil
}
