package store

import (
	"context"
	"slices"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// MessagePager fetches one page of a chat's history, newest first.
type MessagePager interface {
	PageMessages(ctx context.Context, chatID string, page int, fromMessageID string) ([]*Message, error)
}

// EstimateTokens approximates the token cost of text as ceil(chars/4),
// counting characters (runes), not bytes. It is not a tokenizer. Budgets such as
// Profile.MaxContextTokens are tuned against this heuristic, so changing it
// changes how much history every request sees.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// BuildContext collects the most recent messages of a chat whose combined
// estimated cost stays within maxTokens, and returns them oldest first.
//
// Pages are fetched newest first. A message is included whole or not at all:
// the first message that would push the total over maxTokens is dropped and
// pagination stops there. Pagination also stops once the total reaches
// maxTokens or a short page signals the end of history. Any fetch error
// aborts the call.
func BuildContext(ctx context.Context, pager MessagePager, chatID string, maxTokens int, fromMessageID string) ([]*Message, error) {
	if maxTokens <= 0 {
		return []*Message{}, nil
	}

	var (
		list  []*Message
		total int
	)
	for page := 0; ; page++ {
		msgs, err := pager.PageMessages(ctx, chatID, page, fromMessageID)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to fetch context page %d", page)
		}

		overflow := false
		for _, m := range msgs {
			cost := EstimateTokens(m.Text)
			if total+cost > maxTokens {
				overflow = true
				break
			}
			total += cost
			list = append(list, m)
		}

		if overflow || total >= maxTokens || len(msgs) < PageSize {
			break
		}
	}

	slices.Reverse(list)
	if list == nil {
		list = []*Message{}
	}
	return list, nil
}
