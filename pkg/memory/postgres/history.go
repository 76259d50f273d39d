package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mynah-ai/mynah/pkg/memory"
	"github.com/mynah-ai/mynah/pkg/types"
)

// History is the conversation log backed by the conversation_messages table.
//
// Obtain one via [Store.History] rather than constructing directly.
// All methods are safe for concurrent use.
type History struct {
	pool *pgxpool.Pool
}

var _ memory.HistoryStore = (*History)(nil)

// Append implements memory.HistoryStore.
func (h *History) Append(ctx context.Context, sessionID string, msg types.Message) error {
	const q = `
		INSERT INTO conversation_messages (session_id, role, content, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err := h.pool.Exec(ctx, q, sessionID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// Recent implements memory.HistoryStore. It returns up to limit messages from
// the end of the session's log, oldest first.
func (h *History) Recent(ctx context.Context, sessionID string, limit int) ([]types.Message, error) {
	q := `
		SELECT role, content, created_at
		FROM   conversation_messages
		WHERE  session_id = $1
		ORDER  BY id`
	args := []any{sessionID}

	if limit > 0 {
		// Take the newest N, then flip back to chronological order.
		q = `
			SELECT role, content, created_at FROM (
			    SELECT id, role, content, created_at
			    FROM   conversation_messages
			    WHERE  session_id = $1
			    ORDER  BY id DESC
			    LIMIT  $2
			) sub ORDER BY id`
		args = append(args, limit)
	}

	rows, err := h.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Message, error) {
		var m types.Message
		if err := row.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			return types.Message{}, err
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: scan rows: %w", err)
	}
	if msgs == nil {
		msgs = []types.Message{}
	}
	return msgs, nil
}

// Count implements memory.HistoryStore.
func (h *History) Count(ctx context.Context, sessionID string) (int, error) {
	const q = `SELECT count(*) FROM conversation_messages WHERE session_id = $1`
	var n int
	if err := h.pool.QueryRow(ctx, q, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("history: count: %w", err)
	}
	return n, nil
}

// Trim implements memory.HistoryStore. It deletes the oldest messages so at
// most keep remain for the session.
func (h *History) Trim(ctx context.Context, sessionID string, keep int) error {
	if keep < 0 {
		keep = 0
	}
	const q = `
		DELETE FROM conversation_messages
		WHERE  session_id = $1
		  AND  id NOT IN (
		    SELECT id FROM conversation_messages
		    WHERE  session_id = $1
		    ORDER  BY id DESC
		    LIMIT  $2
		)`
	if _, err := h.pool.Exec(ctx, q, sessionID, keep); err != nil {
		return fmt.Errorf("history: trim: %w", err)
	}
	return nil
}
