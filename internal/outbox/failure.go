package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DLQWriter parks undeliverable outbox rows in outbox_dlq so the DLQ manager
// can retry or quarantine them. The DLQ is service-internal; rows keep the
// originating user_id for traceability but are not behind row-level security.
type DLQWriter struct {
	pool *pgxpool.Pool
}

func NewDLQWriter(pool *pgxpool.Pool) *DLQWriter {
	return &DLQWriter{pool: pool}
}

// Write inserts one failed message with its failure reason. The entry becomes
// eligible for its first retry immediately.
func (w *DLQWriter) Write(ctx context.Context, msg Message, reason string) error {
	_, err := w.pool.Exec(ctx,
		`INSERT INTO outbox_dlq
		   (user_id, event_id, event_type, topic, payload, reason,
		    aggregate_type, aggregate_id, schema_subject, partition_key, next_retry_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, NOW())`,
		msg.UserID, msg.EventID, msg.EventType, msg.Topic, msg.Payload, reason,
		msg.AggregateType, msg.AggregateID, msg.SchemaSubject, msg.PartitionKey,
	)
	if err != nil {
		return fmt.Errorf("write dlq entry for event %d: %w", msg.EventID, err)
	}
	return nil
}
