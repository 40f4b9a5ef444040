// Package outbox persists and delivers log events to Kafka.
package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Message is one claimed outbox row.
type Message struct {
	EventID       int64
	UserID        string
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
}

// Dispatcher drains the outbox table and delivers events to Kafka using
// Schema Registry metadata. Event rows are written in the same transaction as
// the log tree they describe, so the dispatcher never sees an event for a
// half-applied submission.
type Dispatcher struct {
	pool         *pgxpool.Pool
	producer     messageWriter
	registry     schemaRegistrar
	dlq          *DLQWriter
	pollInterval time.Duration
	batchSize    int

	schemaIDs sync.Map // subject -> registry schema id
	done      chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, registry schemaRegistrar, pollInterval time.Duration, batchSize int) *Dispatcher {
	return &Dispatcher{
		pool:         pool,
		producer:     producer,
		registry:     registry,
		dlq:          NewDLQWriter(pool),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		done:         make(chan struct{}),
	}
}

// Start runs the polling loop until ctx is cancelled. Call in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer func() {
		ticker.Stop()
		close(d.done)
	}()

	for {
		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("outbox dispatcher error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until the polling loop has exited.
func (d *Dispatcher) Wait() {
	<-d.done
}

// processBatch claims up to batchSize unpublished rows and delivers them. A
// delivery failure sends the whole batch to the DLQ and marks it published so
// the DLQ manager owns all further retries; the dispatcher never re-reads a
// row it has claimed and parked.
func (d *Dispatcher) processBatch(ctx context.Context) error {
	start := time.Now()

	batch, err := d.claim(ctx)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	if err := d.deliver(ctx, batch); err != nil {
		log.Printf("outbox: delivery failure: %v", err)
		failedCounter.Add(float64(len(batch)))
		if dlqErr := d.park(ctx, batch, err.Error()); dlqErr != nil {
			return dlqErr
		}
		return d.markPublished(ctx, batch)
	}

	deliveredCounter.Add(float64(len(batch)))
	return d.markPublished(ctx, batch)
}

func (d *Dispatcher) claim(ctx context.Context) ([]Message, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT event_id, user_id, aggregate_type, aggregate_id, event_type,
		        topic, schema_subject, partition_key, payload
		 FROM outbox
		 WHERE published_at IS NULL
		 ORDER BY event_id
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`, d.batchSize)
	if err != nil {
		return nil, err
	}

	var batch []Message
	var ids []int64
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.EventID, &msg.UserID, &msg.AggregateType, &msg.AggregateID,
			&msg.EventType, &msg.Topic, &msg.SchemaSubject, &msg.PartitionKey, &msg.Payload); err != nil {
			rows.Close()
			return nil, err
		}
		batch = append(batch, msg)
		ids = append(ids, msg.EventID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return batch, nil
}

func (d *Dispatcher) deliver(ctx context.Context, batch []Message) error {
	records := make(map[string][]kafka.Message, 1)

	for _, msg := range batch {
		schemaID, err := d.schemaIDFor(ctx, msg)
		if err != nil {
			return err
		}
		records[msg.Topic] = append(records[msg.Topic], kafka.Message{
			Key:   []byte(msg.PartitionKey),
			Value: frameWithSchema(schemaID, msg.Payload),
			Time:  time.Now().UTC(),
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(msg.EventType)},
				{Key: "user_id", Value: []byte(msg.UserID)},
				{Key: "schema_subject", Value: []byte(msg.SchemaSubject)},
			},
		})
	}

	for topic, msgs := range records {
		if err := d.producer.WriteMessages(ctx, topic, msgs...); err != nil {
			return err
		}
	}
	return nil
}

// schemaIDFor resolves the registry schema id for a message, hitting the
// registry only on the first event per subject.
func (d *Dispatcher) schemaIDFor(ctx context.Context, msg Message) (int, error) {
	schema, ok := eventSchemas[msg.EventType]
	if !ok {
		return 0, fmt.Errorf("no schema metadata for event_type=%s", msg.EventType)
	}

	if cached, ok := d.schemaIDs.Load(msg.SchemaSubject); ok {
		return cached.(int), nil
	}
	id, err := d.registry.EnsureSchema(ctx, msg.SchemaSubject, schema)
	if err != nil {
		return 0, err
	}
	d.schemaIDs.Store(msg.SchemaSubject, id)
	return id, nil
}

func (d *Dispatcher) markPublished(ctx context.Context, batch []Message) error {
	ids := make([]int64, 0, len(batch))
	for _, msg := range batch {
		ids = append(ids, msg.EventID)
	}
	_, err := d.pool.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids)
	return err
}

func (d *Dispatcher) park(ctx context.Context, batch []Message, reason string) error {
	for _, msg := range batch {
		if err := d.dlq.Write(ctx, msg, fmt.Sprintf("%s (topic=%s)", reason, msg.Topic)); err != nil {
			return err
		}
		dlqCounter.WithLabelValues(msg.Topic).Inc()
	}
	return nil
}

// frameWithSchema prefixes the payload with the Confluent wire header: one
// zero magic byte followed by the big-endian schema id.
func frameWithSchema(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}

var eventSchemas = map[string]string{
	"log.recorded":      logRecordedSchema,
	"log.state_changed": logStateChangedSchema,
}
