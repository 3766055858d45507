package v1

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/threadcast/threadcast/plugin/generation"
	"github.com/threadcast/threadcast/server/auth"
	"github.com/threadcast/threadcast/server/errkind"
	"github.com/threadcast/threadcast/server/metrics"
	"github.com/threadcast/threadcast/server/profile"
	"github.com/threadcast/threadcast/store"
)

type SessionState int

const (
	StateAuthenticating SessionState = iota
	StateContextBuilding
	StateGenerating
	StateCompleted
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateContextBuilding:
		return "context_building"
	case StateGenerating:
		return "generating"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// GenerationSession carries one generate request from authentication to its
// final frame. It is owned by a single handler and is not safe for
// concurrent use. Only the session that created a message writes to it.
type GenerationSession struct {
	ChatID      string
	PrincipalID string
	Prompt      string
	MessageID   string

	state    SessionState
	err      error
	fullText strings.Builder
	started  time.Time

	store   *store.Store
	tokens  *auth.TokenService
	backend generation.Backend
	profile *profile.Profile
	logger  *slog.Logger
}

func (s *APIV1Service) newGenerationSession() *GenerationSession {
	return &GenerationSession{
		state:   StateAuthenticating,
		started: time.Now(),
		store:   s.Store,
		tokens:  s.Tokens,
		backend: s.Backend,
		profile: s.Profile,
		logger:  slog.Default(),
	}
}

func (gs *GenerationSession) State() SessionState { return gs.state }

// Err returns the error that failed the session, if any.
func (gs *GenerationSession) Err() error { return gs.err }

// Text returns the reply accumulated so far.
func (gs *GenerationSession) Text() string { return gs.fullText.String() }

// Authenticate resolves the caller's principal from token.
func (gs *GenerationSession) Authenticate(token string) error {
	principal, err := gs.tokens.Verify(token)
	if err != nil {
		gs.state, gs.err = StateFailed, err
		return err
	}
	gs.PrincipalID = principal
	gs.logger = gs.logger.With(slog.String("principal_id", principal))
	return nil
}

// Bind sets the request fields once the principal is known.
func (gs *GenerationSession) Bind(chatID, prompt string) {
	gs.ChatID, gs.Prompt = chatID, prompt
	gs.logger = gs.logger.With(slog.String("chat_id", chatID))
	gs.state = StateContextBuilding
}

// BuildContext assembles the messages sent to the backend: an optional
// system prompt, the chat history within the token budget, and the prompt.
// History is best effort: a store failure degrades to the prompt alone.
func (gs *GenerationSession) BuildContext(ctx context.Context) []generation.Message {
	history, err := store.BuildContext(ctx, gs.store, gs.ChatID, gs.profile.MaxContextTokens, "")
	if err != nil {
		gs.logger.Warn("failed to build context, continuing with prompt only", slog.String("error", err.Error()))
		metrics.ContextFallbacks.Inc()
		history = nil
	}
	metrics.ContextMessages.Observe(float64(len(history)))

	messages := make([]generation.Message, 0, len(history)+2)
	if gs.profile.SystemPrompt != "" {
		messages = append(messages, generation.Message{Role: generation.RoleSystem, Content: gs.profile.SystemPrompt})
	}
	for _, m := range history {
		// Replies still being generated by other sessions have no text yet.
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		role := generation.RoleUser
		if m.IsAI {
			role = generation.RoleAssistant
		}
		messages = append(messages, generation.Message{Role: role, Content: m.Text})
	}
	return append(messages, generation.Message{Role: generation.RoleUser, Content: gs.Prompt})
}

// Open creates the empty AI message that every later paragraph updates.
func (gs *GenerationSession) Open(ctx context.Context) error {
	m, err := gs.store.CreateMessage(ctx, &store.Message{
		ChatID:    gs.ChatID,
		IsAI:      true,
		CreatorID: gs.PrincipalID,
	})
	if err != nil {
		err = errkind.Wrap(errkind.Storage, err, "Failed to save message to database")
		gs.state, gs.err = StateFailed, err
		gs.logger.Error("failed to create message", slog.String("error", err.Error()))
		return err
	}
	gs.MessageID = m.ID
	gs.logger = gs.logger.With(slog.String("message_id", m.ID))
	return nil
}

// Generate streams the reply. Each paragraph is appended to the message and
// persisted before it is emitted, so the store is never behind the client.
// A failed write or upstream error ends the session with an error frame;
// paragraphs already persisted are kept.
func (gs *GenerationSession) Generate(ctx context.Context, messages []generation.Message, emitter Emitter) error {
	gs.state = StateGenerating

	genCtx, cancel := context.WithTimeout(ctx, gs.profile.GenerationTimeout)
	defer cancel()

	stream, err := gs.backend.Stream(genCtx, generation.Request{
		Messages:  messages,
		MaxTokens: gs.profile.MaxOutputTokens,
	})
	if err != nil {
		return gs.fail(emitter, errkind.Wrap(errkind.Generation, err, "Failed to generate AI response"))
	}
	defer stream.Close()

	reader := generation.NewParagraphReader(stream)
	for {
		paragraph, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return gs.fail(emitter, errkind.Wrap(errkind.Generation, err, "Failed to generate AI response"))
		}

		if gs.fullText.Len() > 0 {
			gs.fullText.WriteString(generation.ParagraphSeparator)
		}
		gs.fullText.WriteString(paragraph)
		if _, err := gs.store.UpdateMessage(ctx, &store.UpdateMessage{
			ID:        gs.MessageID,
			Text:      gs.fullText.String(),
			CreatorID: &gs.PrincipalID,
		}); err != nil {
			return gs.fail(emitter, errkind.Wrap(errkind.Storage, err, "Failed to update message in database"))
		}
		metrics.ParagraphsTotal.Inc()
		emitter.Emit(Frame{MessageID: gs.MessageID, Text: paragraph})
	}

	if gs.fullText.Len() == 0 {
		return gs.fail(emitter, errkind.New(errkind.Generation, "No response generated"))
	}

	gs.state = StateCompleted
	emitter.Emit(Frame{MessageID: gs.MessageID, IsComplete: true})
	gs.logger.Info("generation completed",
		slog.Int("length", gs.fullText.Len()),
		slog.Duration("elapsed", time.Since(gs.started)),
	)
	return nil
}

func (gs *GenerationSession) fail(emitter Emitter, err error) error {
	gs.state, gs.err = StateFailed, err
	gs.logger.Error("generation failed",
		slog.String("kind", errkind.Of(err).String()),
		slog.String("error", err.Error()),
		slog.Int("persisted_length", gs.fullText.Len()),
	)
	emitter.Emit(Frame{MessageID: gs.MessageID, Error: errkind.Message(err)})
	return err
}
