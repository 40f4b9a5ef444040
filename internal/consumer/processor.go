// Package consumer drains the event topics the outbox dispatcher publishes to.
package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Reader is the slice of kafka.Reader the processor depends on.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler consumes decoded messages. Returning an error leaves the message
// uncommitted so it is redelivered.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is a decoded record from one of the log event topics. Payload is
// the JSON document inside the Confluent frame; SchemaID comes from the
// frame header.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	EventType     string
	UserID        string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// Processor runs the fetch/decode/handle/commit loop for one topic.
type Processor struct {
	reader  Reader
	handler Handler
	logger  *log.Logger
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:  reader,
		handler: handler,
		logger:  log.New(log.Writer(), "[consumer] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run blocks until the context is cancelled, processing one message at a
// time. Malformed records are committed after being counted so they cannot
// wedge the partition; handler failures leave the offset uncommitted.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Printf("fetch error: %v", err)
			continue
		}

		p.processOne(ctx, msg)
	}
}

func (p *Processor) processOne(ctx context.Context, msg kafka.Message) {
	event, err := decodeMessage(msg)
	if err != nil {
		p.logger.Printf("dropping undecodable record (topic=%s, partition=%d, offset=%d): %v",
			msg.Topic, msg.Partition, msg.Offset, err)
		recordDecodeError(msg.Topic)
		p.commit(ctx, msg)
		return
	}

	if err := p.handler.Handle(ctx, event); err != nil {
		p.logger.Printf("handler error (event_type=%s, user=%s): %v", event.EventType, event.UserID, err)
		recordHandlerError(event)
		return
	}

	if p.commit(ctx, msg) {
		recordProcessed(event)
	}
}

func (p *Processor) commit(ctx context.Context, msg kafka.Message) bool {
	if err := p.reader.CommitMessages(ctx, msg); err != nil {
		p.logger.Printf("commit error (topic=%s, offset=%d): %v", msg.Topic, msg.Offset, err)
		return false
	}
	return true
}

// decodeMessage unpacks the Confluent wire frame (magic byte, 4-byte schema
// id, payload) and the headers the dispatcher attaches.
func decodeMessage(msg kafka.Message) (Message, error) {
	if len(msg.Value) < 5 {
		return Message{}, fmt.Errorf("frame too short: %d bytes", len(msg.Value))
	}
	if msg.Value[0] != 0 {
		return Message{}, fmt.Errorf("unexpected magic byte %#x", msg.Value[0])
	}

	eventType, ok := headerValue(msg, "event_type")
	if !ok {
		return Message{}, errors.New("missing event_type header")
	}
	userID, _ := headerValue(msg, "user_id")
	schemaSubject, _ := headerValue(msg, "schema_subject")

	return Message{
		Topic:         msg.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Timestamp:     msg.Time,
		EventType:     string(eventType),
		UserID:        string(userID),
		SchemaSubject: string(schemaSubject),
		SchemaID:      int(binary.BigEndian.Uint32(msg.Value[1:5])),
		Payload:       json.RawMessage(append([]byte(nil), msg.Value[5:]...)),
	}, nil
}

func headerValue(msg kafka.Message, key string) ([]byte, bool) {
	for _, header := range msg.Headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}
