package store

import (
	"context"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
)

// PageSize is the number of messages fetched per page.
const PageSize = 10

// CreateMessage persists a new message and returns it with its generated id.
func (s *Store) CreateMessage(ctx context.Context, create *Message) (*Message, error) {
	if create.ID == "" {
		create.ID = shortuuid.New()
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = s.now().UnixMilli()
	}
	if create.UpdatedTs == 0 {
		create.UpdatedTs = create.CreatedTs
	}
	if err := create.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid message")
	}
	m, err := s.driver.CreateMessage(ctx, create)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create message in chat %s", create.ChatID)
	}
	return m, nil
}

// UpdateMessage replaces the text of a message. It returns ErrNotFound when
// no row matches the id (and creator, when given). Last writer wins.
func (s *Store) UpdateMessage(ctx context.Context, update *UpdateMessage) (*Message, error) {
	if update.ID == "" {
		return nil, errors.New("message id is empty")
	}
	if update.UpdatedTs == 0 {
		update.UpdatedTs = s.now().UnixMilli()
	}
	m, err := s.driver.UpdateMessage(ctx, update)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to update message %s", update.ID)
	}
	if err := m.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid row")
	}
	return m, nil
}

// ListMessages returns messages matching find, newest first.
func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	list, err := s.driver.ListMessages(ctx, find)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list messages in chat %s", find.ChatID)
	}
	for _, m := range list {
		if err := m.Validate(); err != nil {
			return nil, errors.Wrap(err, "invalid row")
		}
	}
	return list, nil
}

// PageMessages returns the page-th page of PageSize messages in a chat,
// newest first. A non-empty fromMessageID restricts the page to messages
// created strictly before that message.
func (s *Store) PageMessages(ctx context.Context, chatID string, page int, fromMessageID string) ([]*Message, error) {
	if page < 0 {
		page = 0
	}
	find := &FindMessage{
		ChatID: chatID,
		Limit:  PageSize,
		Offset: page * PageSize,
	}
	if fromMessageID != "" {
		find.BeforeMessageID = &fromMessageID
	}
	return s.ListMessages(ctx, find)
}
