package generation

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

// OpenAIBackend streams chat completions with go-openai. It works against
// any OpenAI-compatible endpoint, OpenRouter included.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

func NewOpenAIBackend(baseURL, apiKey, model string) *OpenAIBackend {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIBackend{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

func (*OpenAIBackend) Name() string {
	return "openai"
}

func (b *OpenAIBackend) Stream(ctx context.Context, req Request) (Stream, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("no messages to send")
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openAIRole(m.Role),
			Content: m.Content,
		})
	}
	stream, err := b.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:     b.model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		Stream:    true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s completion stream", b.model)
	}
	return &openAIStream{stream: stream}, nil
}

func openAIRole(role Role) string {
	switch role {
	case RoleSystem:
		return openai.ChatMessageRoleSystem
	case RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

// Recv skips deltas that carry no content, such as role-only first chunks.
func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

func (s *openAIStream) Close() error {
	s.stream.Close()
	return nil
}
