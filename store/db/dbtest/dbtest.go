// Package dbtest holds the behaviour every store.Driver must share, run
// against each SQL backend by that backend's tests.
package dbtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadcast/threadcast/store"
)

// Clock hands out strictly increasing timestamps one millisecond apart.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

// NewStore migrates driver and wraps it in a store with a deterministic clock.
func NewStore(t *testing.T, driver store.Driver) *store.Store {
	t.Helper()
	s := store.New(driver).WithClock(NewClock().Now)
	require.NoError(t, s.Migrate(context.Background()))
	// Migrate is idempotent.
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Seed writes n alternating user and AI messages into chatID, oldest first.
func Seed(t *testing.T, s *store.Store, chatID string, n int) []*store.Message {
	t.Helper()
	list := make([]*store.Message, 0, n)
	for i := 0; i < n; i++ {
		m, err := s.CreateMessage(context.Background(), &store.Message{
			ChatID:    chatID,
			Text:      fmt.Sprintf("message %d", i),
			IsAI:      i%2 == 1,
			CreatorID: "alice",
		})
		require.NoError(t, err)
		list = append(list, m)
	}
	return list
}

// Run exercises driver through a store.
func Run(t *testing.T, driver store.Driver) {
	s := NewStore(t, driver)
	ctx := context.Background()

	t.Run("create and list", func(t *testing.T) {
		created, err := s.CreateMessage(ctx, &store.Message{ChatID: "create", IsAI: true, CreatorID: "alice"})
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.NotZero(t, created.CreatedTs)
		assert.Equal(t, created.CreatedTs, created.UpdatedTs)

		list, err := s.ListMessages(ctx, &store.FindMessage{ChatID: "create"})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, created.ID, list[0].ID)
		assert.True(t, list[0].IsAI)
		assert.Equal(t, "alice", list[0].CreatorID)
		assert.Empty(t, list[0].Text)
	})

	t.Run("create rejects missing creator", func(t *testing.T) {
		_, err := s.CreateMessage(ctx, &store.Message{ChatID: "create"})
		require.Error(t, err)
	})

	t.Run("update replaces text", func(t *testing.T) {
		created, err := s.CreateMessage(ctx, &store.Message{ChatID: "update", IsAI: true, CreatorID: "alice"})
		require.NoError(t, err)

		text := "Hello 👋\n\nSecond paragraph"
		updated, err := s.UpdateMessage(ctx, &store.UpdateMessage{ID: created.ID, Text: text})
		require.NoError(t, err)
		assert.Equal(t, text, updated.Text)
		assert.Greater(t, updated.UpdatedTs, created.UpdatedTs)
		assert.Equal(t, created.CreatedTs, updated.CreatedTs)

		list, err := s.ListMessages(ctx, &store.FindMessage{ChatID: "update"})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, text, list[0].Text)
	})

	t.Run("update scoped to creator", func(t *testing.T) {
		created, err := s.CreateMessage(ctx, &store.Message{ChatID: "scoped", CreatorID: "alice"})
		require.NoError(t, err)

		mallory := "mallory"
		_, err = s.UpdateMessage(ctx, &store.UpdateMessage{ID: created.ID, Text: "hijacked", CreatorID: &mallory})
		require.ErrorIs(t, err, store.ErrNotFound)

		alice := "alice"
		updated, err := s.UpdateMessage(ctx, &store.UpdateMessage{ID: created.ID, Text: "mine", CreatorID: &alice})
		require.NoError(t, err)
		assert.Equal(t, "mine", updated.Text)
	})

	t.Run("update unknown id", func(t *testing.T) {
		_, err := s.UpdateMessage(ctx, &store.UpdateMessage{ID: "missing", Text: "x"})
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("pages newest first", func(t *testing.T) {
		seeded := Seed(t, s, "paged", 23)

		first, err := s.PageMessages(ctx, "paged", 0, "")
		require.NoError(t, err)
		require.Len(t, first, store.PageSize)
		assert.Equal(t, seeded[22].ID, first[0].ID)
		assert.Equal(t, seeded[13].ID, first[9].ID)

		third, err := s.PageMessages(ctx, "paged", 2, "")
		require.NoError(t, err)
		require.Len(t, third, 3)
		assert.Equal(t, seeded[0].ID, third[2].ID)

		beyond, err := s.PageMessages(ctx, "paged", 5, "")
		require.NoError(t, err)
		assert.Empty(t, beyond)
	})

	t.Run("pages before a message", func(t *testing.T) {
		seeded := Seed(t, s, "anchored", 5)

		list, err := s.PageMessages(ctx, "anchored", 0, seeded[3].ID)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, seeded[2].ID, list[0].ID)
		assert.Equal(t, seeded[0].ID, list[2].ID)

		unknown, err := s.PageMessages(ctx, "anchored", 0, "missing")
		require.NoError(t, err)
		assert.Empty(t, unknown)
	})

	t.Run("chats are isolated", func(t *testing.T) {
		Seed(t, s, "left", 2)
		Seed(t, s, "right", 3)

		left, err := s.PageMessages(ctx, "left", 0, "")
		require.NoError(t, err)
		assert.Len(t, left, 2)
		for _, m := range left {
			assert.Equal(t, "left", m.ChatID)
		}
	})

	t.Run("context from store", func(t *testing.T) {
		seeded := Seed(t, s, "context", 15)

		list, err := store.BuildContext(ctx, s, "context", 1000, "")
		require.NoError(t, err)
		require.Len(t, list, 15)
		assert.Equal(t, seeded[0].ID, list[0].ID)
		assert.Equal(t, seeded[14].ID, list[14].ID)
	})
}
