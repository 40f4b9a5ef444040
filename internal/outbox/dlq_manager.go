package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DLQManager replays dead-lettered events back into the primary outbox. Each
// failed replay doubles the entry's retry delay; entries that exhaust the
// retry budget are quarantined for manual inspection instead of deleted.
type DLQManager struct {
	pool       *pgxpool.Pool
	maxRetries int
	baseDelay  time.Duration
}

func NewDLQManager(pool *pgxpool.Pool, maxRetries int, baseDelay time.Duration) *DLQManager {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	return &DLQManager{pool: pool, maxRetries: maxRetries, baseDelay: baseDelay}
}

// RunOnce processes up to batchSize due entries and returns how many were
// requeued. Per-entry failures are joined and reported together so one bad
// entry does not stop the batch.
func (m *DLQManager) RunOnce(ctx context.Context, batchSize int) (int, error) {
	rows, err := m.pool.Query(ctx,
		`SELECT dlq_id, user_id, event_id, event_type, topic, payload, reason,
		        aggregate_type, aggregate_id, schema_subject, partition_key, retry_count
		 FROM outbox_dlq
		 WHERE quarantined_at IS NULL AND next_retry_at <= NOW()
		 ORDER BY failed_at
		 LIMIT $1`, batchSize)
	if err != nil {
		return 0, err
	}

	var entries []dlqEntry
	for rows.Next() {
		var entry dlqEntry
		if scanErr := rows.Scan(&entry.ID, &entry.UserID, &entry.EventID, &entry.EventType,
			&entry.Topic, &entry.Payload, &entry.Reason, &entry.AggregateType,
			&entry.AggregateID, &entry.SchemaSubject, &entry.PartitionKey, &entry.RetryCount); scanErr != nil {
			rows.Close()
			return 0, scanErr
		}
		entries = append(entries, entry)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	processed := 0
	var errs []error
	for _, entry := range entries {
		if procErr := m.handleEntry(ctx, entry); procErr != nil {
			errs = append(errs, fmt.Errorf("dlq entry %d: %w", entry.ID, procErr))
			continue
		}
		processed++
	}

	updateBacklogGauge(ctx, m.pool)
	return processed, errors.Join(errs...)
}

func (m *DLQManager) handleEntry(ctx context.Context, entry dlqEntry) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if entry.RetryCount >= m.maxRetries {
		if err := m.quarantine(ctx, tx, entry); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	if requeueErr := requeueOutbox(ctx, tx, entry); requeueErr != nil {
		if err := m.reschedule(ctx, tx, entry, requeueErr); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = $1`, entry.ID); err != nil {
		return err
	}
	recordDLQRequeued(entry)
	recordDLQProcessed(entry)
	return tx.Commit(ctx)
}

func (m *DLQManager) quarantine(ctx context.Context, tx pgx.Tx, entry dlqEntry) error {
	_, err := tx.Exec(ctx,
		`UPDATE outbox_dlq SET quarantined_at = NOW(), quarantine_reason = $1 WHERE dlq_id = $2`,
		fmt.Sprintf("retry limit reached after %d attempts", entry.RetryCount), entry.ID)
	if err != nil {
		return err
	}
	recordDLQQuarantined(entry)
	return nil
}

func (m *DLQManager) reschedule(ctx context.Context, tx pgx.Tx, entry dlqEntry, cause error) error {
	_, err := tx.Exec(ctx,
		`UPDATE outbox_dlq
		    SET retry_count = retry_count + 1,
		        next_retry_at = NOW() + $1::interval,
		        reason = $2
		  WHERE dlq_id = $3`,
		m.backoffDelay(entry.RetryCount+1), cause.Error(), entry.ID)
	if err != nil {
		return err
	}
	recordDLQRetry(entry)
	return nil
}

// backoffDelay doubles per attempt from baseDelay, capped at one hour.
func (m *DLQManager) backoffDelay(attempt int) time.Duration {
	delay := m.baseDelay << uint(attempt-1)
	if delay > time.Hour || delay <= 0 {
		delay = time.Hour
	}
	return delay
}

// requeueOutbox reinserts the entry into the primary outbox for redelivery.
func requeueOutbox(ctx context.Context, tx pgx.Tx, entry dlqEntry) error {
	if entry.SchemaSubject == "" {
		return fmt.Errorf("missing schema_subject")
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO outbox
		   (user_id, aggregate_type, aggregate_id, event_type, topic,
		    schema_subject, partition_key, payload)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		entry.UserID, entry.AggregateType, entry.AggregateID, entry.EventType,
		entry.Topic, entry.SchemaSubject, entry.PartitionKey, entry.Payload)
	return err
}

// dlqEntry is one outbox_dlq row selected for processing.
type dlqEntry struct {
	ID            int64
	UserID        string
	EventID       int64
	EventType     string
	Topic         string
	Payload       []byte
	Reason        string
	AggregateType string
	AggregateID   string
	SchemaSubject string
	PartitionKey  string
	RetryCount    int
}
