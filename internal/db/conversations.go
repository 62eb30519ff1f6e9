package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonathan/labelscan/internal/types"
)

// ListTurns returns a conversation oldest first. A nil scanID selects the
// profile-level conversation.
func (db *DB) ListTurns(ctx context.Context, userID uuid.UUID, scanID *uuid.UUID) ([]types.ConversationTurn, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, scan_id, role, text, created_at
		 FROM chat_messages
		 WHERE user_id = $1 AND scan_id IS NOT DISTINCT FROM $2
		 ORDER BY seq`,
		userID, scanID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	defer rows.Close()

	turns := []types.ConversationTurn{}
	for rows.Next() {
		var t types.ConversationTurn
		var role string
		if err := rows.Scan(&t.ID, &t.ScanID, &role, &t.Text, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		if t.Role, err = types.ParseRole(role); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// AppendTurns stores turns in order within one transaction.
func (db *DB) AppendTurns(ctx context.Context, userID uuid.UUID, turns []types.ConversationTurn) error {
	if len(turns) == 0 {
		return nil
	}

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, t := range turns {
		id := t.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		createdAt := t.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		batch.Queue(
			`INSERT INTO chat_messages (id, user_id, scan_id, role, text, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			id, userID, t.ScanID, string(t.Role), t.Text, createdAt,
		)
	}

	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to append chat messages: %w", err)
	}
	return nil
}
