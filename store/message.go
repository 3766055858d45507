package store

import "github.com/pkg/errors"

// Message is a single chat message. AI replies are created empty by a
// generation session and their Text is replaced wholesale as paragraphs arrive.
type Message struct {
	ID        string
	ChatID    string
	Text      string
	IsAI      bool
	CreatorID string
	CreatedTs int64 // unix milliseconds
	UpdatedTs int64 // unix milliseconds
}

// FindMessage filters for ListMessages. Results are ordered newest first.
type FindMessage struct {
	ChatID string
	// BeforeMessageID restricts results to messages created strictly before it.
	BeforeMessageID *string
	Limit           int
	Offset          int
}

// UpdateMessage carries the fields accepted by UpdateMessage.
type UpdateMessage struct {
	ID   string
	Text string
	// CreatorID scopes the update to rows owned by this principal when set.
	CreatorID *string
	UpdatedTs int64
}

// Validate rejects rows missing the fields every message must carry.
func (m *Message) Validate() error {
	switch {
	case m == nil:
		return errors.New("nil message")
	case m.ID == "":
		return errors.New("message id is empty")
	case m.ChatID == "":
		return errors.Errorf("message %s has no chat id", m.ID)
	case m.CreatorID == "":
		return errors.Errorf("message %s has no creator", m.ID)
	}
	return nil
}
