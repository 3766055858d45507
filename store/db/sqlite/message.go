package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/threadcast/threadcast/store"
)

func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id         TEXT    NOT NULL PRIMARY KEY,
			chat_id    TEXT    NOT NULL,
			text       TEXT    NOT NULL DEFAULT '',
			is_ai      INTEGER NOT NULL DEFAULT 0,
			created_by TEXT    NOT NULL,
			created_at BIGINT  NOT NULL,
			updated_at BIGINT  NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages(chat_id, created_at)`,
	}
	for _, s := range stmts {
		if _, err := d.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	stmt := `INSERT INTO messages (id, chat_id, text, is_ai, created_by, created_at, updated_at)
	         VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.ChatID, create.Text, create.IsAI, create.CreatorID, create.CreatedTs, create.UpdatedTs,
	); err != nil {
		return nil, err
	}
	return create, nil
}

func (d *DB) UpdateMessage(ctx context.Context, update *store.UpdateMessage) (*store.Message, error) {
	where, args := []string{"id = ?"}, []any{update.Text, update.UpdatedTs, update.ID}
	if v := update.CreatorID; v != nil {
		where, args = append(where, "created_by = ?"), append(args, *v)
	}
	stmt := fmt.Sprintf(
		`UPDATE messages SET text = ?, updated_at = ? WHERE %s
		 RETURNING id, chat_id, text, is_ai, created_by, created_at, updated_at`,
		strings.Join(where, " AND "),
	)
	m := &store.Message{}
	if err := d.db.QueryRowContext(ctx, stmt, args...).
		Scan(&m.ID, &m.ChatID, &m.Text, &m.IsAI, &m.CreatorID, &m.CreatedTs, &m.UpdatedTs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"chat_id = ?"}, []any{find.ChatID}
	if v := find.BeforeMessageID; v != nil {
		where, args = append(where, "created_at < (SELECT created_at FROM messages WHERE id = ?)"), append(args, *v)
	}
	query := fmt.Sprintf(
		`SELECT id, chat_id, text, is_ai, created_by, created_at, updated_at
		 FROM messages WHERE %s ORDER BY created_at DESC, id DESC`,
		strings.Join(where, " AND "),
	)
	if find.Limit > 0 {
		query, args = query+" LIMIT ? OFFSET ?", append(args, find.Limit, find.Offset)
	}
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*store.Message
	for rows.Next() {
		m := &store.Message{}
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Text, &m.IsAI, &m.CreatorID, &m.CreatedTs, &m.UpdatedTs); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}
