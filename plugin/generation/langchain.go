package generation

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// streamBuffer bounds how many fragments a callback-driven backend may run
// ahead of the consumer before it blocks.
const streamBuffer = 16

// LangchainBackend drives any langchaingo model. Its callback streaming is
// bridged onto a bounded channel so the consumer pulls fragments at its own pace.
type LangchainBackend struct {
	model llms.Model
}

// NewLangchainBackend connects to an OpenAI-compatible endpoint such as OpenRouter.
func NewLangchainBackend(baseURL, apiKey, model string) (*LangchainBackend, error) {
	llm, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(apiKey),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create langchain openai client")
	}
	return NewLangchainBackendWithModel(llm), nil
}

func NewLangchainBackendWithModel(model llms.Model) *LangchainBackend {
	return &LangchainBackend{model: model}
}

func (*LangchainBackend) Name() string {
	return "langchain"
}

func (b *LangchainBackend) Stream(ctx context.Context, req Request) (Stream, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("no messages to send")
	}
	content := make([]llms.MessageContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		content = append(content, llms.TextParts(langchainRole(m.Role), m.Content))
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &callbackStream{
		fragments: make(chan string, streamBuffer),
		cancel:    cancel,
	}
	go func() {
		defer close(s.fragments)
		sent := false
		send := func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			select {
			case s.fragments <- string(chunk):
				sent = true
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		opts := []llms.CallOption{llms.WithStreamingFunc(send)}
		if req.MaxTokens > 0 {
			opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
		}
		resp, err := b.model.GenerateContent(ctx, content, opts...)
		if err != nil {
			s.err = err
			return
		}
		// Some models ignore the streaming callback and only return the full text.
		if !sent && resp != nil && len(resp.Choices) > 0 {
			s.err = send(ctx, []byte(resp.Choices[0].Content))
		}
	}()
	return s, nil
}

func langchainRole(role Role) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

type callbackStream struct {
	fragments chan string
	cancel    context.CancelFunc
	// err is written before fragments is closed and read only after.
	err error
}

func (s *callbackStream) Recv() (string, error) {
	fragment, ok := <-s.fragments
	if ok {
		return fragment, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *callbackStream) Close() error {
	s.cancel()
	return nil
}
