package consumer

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/setlog/internal/domain"
	"example.com/setlog/internal/observability"
)

// PersistenceHandler writes consumed events into Postgres for downstream
// auditing, and confirms delivered logs by moving them to the synced state.
type PersistenceHandler struct {
	pool *pgxpool.Pool
}

// NewPersistenceHandler constructs a handler backed by the provided pool.
func NewPersistenceHandler(pool *pgxpool.Pool) *PersistenceHandler {
	return &PersistenceHandler{pool: pool}
}

// Handle stores the event payload in the log_event_audit table. A
// "log.recorded" event additionally marks the originating log as synced:
// reaching the consumer means the record completed the full pipeline.
func (h *PersistenceHandler) Handle(ctx context.Context, msg Message) error {
	conn, err := h.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.user_id', $1, true)", msg.UserID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO log_event_audit (event_type, user_id, schema_id, schema_subject, topic, partition, record_offset, payload, received_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		msg.EventType,
		msg.UserID,
		msg.SchemaID,
		msg.SchemaSubject,
		msg.Topic,
		msg.Partition,
		msg.Offset,
		msg.Payload,
		msg.Timestamp,
	); err != nil {
		return err
	}

	if msg.EventType == "log.recorded" {
		var payload struct {
			LogID string `json:"log_id"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err == nil && payload.LogID != "" {
			if _, err := tx.Exec(ctx,
				`UPDATE exercise_logs SET processing_state = $1, updated_at = NOW()
                 WHERE user_id = $2 AND log_id = $3 AND processing_state = $4`,
				domain.LogStateSynced, msg.UserID, payload.LogID, domain.LogStatePending,
			); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	if msg.EventType == "log.recorded" {
		observability.RecordLogSynced(msg.Timestamp)
	}
	return nil
}
