package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/septivank/certificate-issuance-worker/internal/db"
	"github.com/septivank/certificate-issuance-worker/internal/events"
)

// Emit stores envelopes in the outbox on their own. Stages that mutate a row
// use the transactional variants instead.
func (r *Repository) Emit(ctx context.Context, envelopes ...events.Envelope) error {
	return insertOutbox(ctx, r.pool, envelopes)
}

// DispatchOutbox claims up to limit undispatched rows, hands each to publish
// in id order and marks the published ones. Rows locked by another relay are
// skipped. It stops at the first publish failure.
func (r *Repository) DispatchOutbox(ctx context.Context, limit int, publish func(ctx context.Context, msg db.OutboxMessage) error) (int, error) {
	dispatched := 0
	var publishErr error

	err := r.inTx(ctx, func(tx Tx) error {
		query := `
			SELECT id, message_id, routing_key, payload, created_at
			FROM outbox_messages
			WHERE dispatched_at IS NULL
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`
		rows, err := tx.Query(ctx, query, limit)
		if err != nil {
			return fmt.Errorf("failed to claim outbox rows: %w", err)
		}

		var batch []db.OutboxMessage
		for rows.Next() {
			var msg db.OutboxMessage
			if err := rows.Scan(&msg.ID, &msg.MessageID, &msg.RoutingKey, &msg.Payload, &msg.CreatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan outbox row: %w", err)
			}
			batch = append(batch, msg)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows iteration error: %w", err)
		}

		ids := make([]int64, 0, len(batch))
		for _, msg := range batch {
			if err := publish(ctx, msg); err != nil {
				publishErr = fmt.Errorf("failed to publish outbox message %s: %w", msg.MessageID, err)
				break
			}
			ids = append(ids, msg.ID)
		}

		if len(ids) == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox_messages SET dispatched_at = now() WHERE id = ANY($1)`, ids); err != nil {
			return fmt.Errorf("failed to mark outbox rows dispatched: %w", err)
		}
		dispatched = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return dispatched, publishErr
}

func insertOutbox(ctx context.Context, exec Executor, envelopes []events.Envelope) error {
	query := `
		INSERT INTO outbox_messages (message_id, routing_key, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id) DO NOTHING
	`
	for _, env := range envelopes {
		payload, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("failed to encode %s envelope: %w", env.Type, err)
		}
		if _, err := exec.Exec(ctx, query, env.MessageID, string(env.Type), payload); err != nil {
			return fmt.Errorf("failed to insert outbox message: %w", err)
		}
	}
	return nil
}

var _ events.Emitter = (*Repository)(nil)
