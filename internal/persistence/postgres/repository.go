package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/setlog/internal/domain"
	"example.com/setlog/internal/events"
	"example.com/setlog/internal/observability"
)

const uniqueViolationCode = "23505"

// Repository provides Postgres-backed persistence for exercise logs and
// outbox events. All reads and writes run under the caller's identity via the
// app.user_id setting, so row-level security applies unmodified.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindByMutationToken checks the idempotency ledger: does a log already exist
// for the supplied (user, client mutation token) pair?
func (r *Repository) FindByMutationToken(ctx context.Context, userID, clientMutationID string) (*domain.LogAggregate, error) {
	if clientMutationID == "" {
		return nil, nil
	}

	const query = `SELECT log_id, user_id, exercise_id, activity_kind, note, performed_at, client_mutation_id, processing_state, created_at, updated_at
        FROM exercise_logs WHERE user_id=$1 AND client_mutation_id=$2`

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.user_id', $1, true)", userID); err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, query, userID, clientMutationID)
	var agg domain.LogAggregate
	if err := row.Scan(&agg.ID, &agg.UserID, &agg.ExerciseID, &agg.ActivityKind, &agg.Note, &agg.PerformedAt, &agg.ClientMutationID, &agg.State, &agg.CreatedAt, &agg.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tx.Commit(ctx)
		}
		return nil, err
	}

	if err := loadSets(ctx, tx, &agg); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &agg, nil
}

// Apply writes the full log tree and its outbox events inside a single
// transaction. A uniqueness race on (user_id, client_mutation_id) surfaces as
// domain.ErrDuplicateSubmission; any failure after the parent insert rolls the
// whole submission back and surfaces as domain.ErrPartialWriteAborted.
func (r *Repository) Apply(ctx context.Context, aggregate domain.LogAggregate) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('app.user_id', $1, true)", aggregate.UserID); err != nil {
		return err
	}

	const insertLog = `INSERT INTO exercise_logs (log_id, user_id, exercise_id, activity_kind, note, performed_at, client_mutation_id, processing_state, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	_, err = tx.Exec(ctx, insertLog,
		aggregate.ID,
		aggregate.UserID,
		aggregate.ExerciseID,
		aggregate.ActivityKind,
		aggregate.Note,
		aggregate.PerformedAt,
		aggregate.ClientMutationID,
		aggregate.State,
		aggregate.CreatedAt,
		aggregate.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			err = fmt.Errorf("%w: %s", domain.ErrDuplicateSubmission, aggregate.ClientMutationID)
		}
		return err
	}

	if err = r.insertTree(ctx, tx, aggregate); err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrPartialWriteAborted, err)
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordLogPersisted(aggregate.UpdatedAt)
	return nil
}

// insertTree writes set rows, attaches form parameters by the returned set
// identifiers, and records outbox events. Runs entirely inside the caller's
// transaction.
func (r *Repository) insertTree(ctx context.Context, tx pgx.Tx, aggregate domain.LogAggregate) error {
	inserted, err := insertSets(ctx, tx, aggregate)
	if err != nil {
		return err
	}

	// The store does not guarantee RETURNING rows come back in submission
	// order, so parameters are attached via the set_number -> set_id map, not
	// by position in the input collection.
	idsByNumber, err := setIDsByNumber(inserted, aggregate.Sets)
	if err != nil {
		return err
	}

	const insertParam = `INSERT INTO set_form_parameters (set_id, log_id, user_id, name, value)
        VALUES ($1,$2,$3,$4,$5)`

	for _, set := range aggregate.Sets {
		setID := idsByNumber[set.SetNumber]
		for _, param := range set.FormParameters {
			if _, err := tx.Exec(ctx, insertParam, setID, aggregate.ID, aggregate.UserID, param.Name, param.Value); err != nil {
				return err
			}
		}
	}

	if err := insertOutbox(ctx, tx, aggregate, "log.recorded", events.LogRecorded{
		LogID:        aggregate.ID,
		UserID:       aggregate.UserID,
		ExerciseID:   aggregate.ExerciseID,
		ActivityKind: aggregate.ActivityKind,
		PerformedAt:  aggregate.PerformedAt,
		SetCount:     len(aggregate.Sets),
		Version:      "v1",
	}); err != nil {
		return err
	}

	return insertOutbox(ctx, tx, aggregate, "log.state_changed", events.LogStateChanged{
		LogID:      aggregate.ID,
		UserID:     aggregate.UserID,
		State:      string(aggregate.State),
		OccurredAt: aggregate.UpdatedAt,
	})
}

// insertSets bulk-inserts all set rows and captures the store-generated
// identifier for each one.
func insertSets(ctx context.Context, tx pgx.Tx, aggregate domain.LogAggregate) ([]insertedSet, error) {
	query := `INSERT INTO exercise_log_sets (log_id, user_id, set_number, reps, duration_sec, distance_m, side, manual_reps, partial_reps, performed_at) VALUES `
	args := make([]interface{}, 0, len(aggregate.Sets)*10)
	for i, set := range aggregate.Sets {
		if i > 0 {
			query += ", "
		}
		base := i * 10
		query += fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10)
		args = append(args,
			aggregate.ID,
			aggregate.UserID,
			set.SetNumber,
			set.Reps,
			set.DurationSec,
			set.DistanceM,
			nullIfEmpty(string(set.Side)),
			set.ManualReps,
			set.PartialReps,
			set.PerformedAt,
		)
	}
	query += ` RETURNING set_id, set_number`

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	inserted := make([]insertedSet, 0, len(aggregate.Sets))
	for rows.Next() {
		var row insertedSet
		if err := rows.Scan(&row.ID, &row.SetNumber); err != nil {
			return nil, err
		}
		inserted = append(inserted, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return inserted, nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, aggregate domain.LogAggregate, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	dedupeKey := fmt.Sprintf("%s:%s", aggregate.ID, eventType)

	const stmt = `INSERT INTO outbox (user_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		aggregate.UserID,
		"exercise_log",
		aggregate.ID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		meta.PartitionKeyFn(aggregate),
		body,
		dedupeKey,
	)
	return err
}

// Get retrieves a full log tree by ID.
func (r *Repository) Get(ctx context.Context, userID, logID string) (*domain.LogAggregate, error) {
	const query = `SELECT log_id, user_id, exercise_id, activity_kind, note, performed_at, client_mutation_id, processing_state, created_at, updated_at
        FROM exercise_logs WHERE user_id=$1 AND log_id=$2`

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.user_id', $1, true)", userID); err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, query, userID, logID)
	var agg domain.LogAggregate
	if err := row.Scan(&agg.ID, &agg.UserID, &agg.ExerciseID, &agg.ActivityKind, &agg.Note, &agg.PerformedAt, &agg.ClientMutationID, &agg.State, &agg.CreatedAt, &agg.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if err := tx.Commit(ctx); err != nil {
				return nil, err
			}
			return nil, nil
		}
		return nil, err
	}

	if err := loadSets(ctx, tx, &agg); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &agg, nil
}

// loadSets hydrates the set and form-parameter children for one log.
func loadSets(ctx context.Context, tx pgx.Tx, agg *domain.LogAggregate) error {
	const setsQuery = `SELECT set_id, set_number, reps, duration_sec, distance_m, side, manual_reps, partial_reps, performed_at
        FROM exercise_log_sets WHERE log_id=$1 ORDER BY set_number`

	rows, err := tx.Query(ctx, setsQuery, agg.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	byID := make(map[string]*domain.SetRecord)
	for rows.Next() {
		var set domain.SetRecord
		var side *string
		if err := rows.Scan(&set.ID, &set.SetNumber, &set.Reps, &set.DurationSec, &set.DistanceM, &side, &set.ManualReps, &set.PartialReps, &set.PerformedAt); err != nil {
			return err
		}
		if side != nil {
			set.Side = domain.Side(*side)
		}
		agg.Sets = append(agg.Sets, set)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	for i := range agg.Sets {
		byID[agg.Sets[i].ID] = &agg.Sets[i]
	}

	const paramsQuery = `SELECT set_id, name, value FROM set_form_parameters WHERE log_id=$1 ORDER BY param_id`

	paramRows, err := tx.Query(ctx, paramsQuery, agg.ID)
	if err != nil {
		return err
	}
	defer paramRows.Close()

	for paramRows.Next() {
		var setID, name, value string
		if err := paramRows.Scan(&setID, &name, &value); err != nil {
			return err
		}
		if set, ok := byID[setID]; ok {
			set.FormParameters = append(set.FormParameters, domain.FormParameter{Name: name, Value: value})
		}
	}
	return paramRows.Err()
}

// ListByUser returns logs for a user ordered by time, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.LogAggregate, *domain.Cursor, error) {
	args := []interface{}{userID, limit}
	query := `SELECT log_id, user_id, exercise_id, activity_kind, note, performed_at, client_mutation_id, processing_state, created_at, updated_at
        FROM exercise_logs WHERE user_id=$1`

	if cursor != nil {
		query += ` AND (performed_at, log_id) < ($3, $4)`
		args = append(args, cursor.PerformedAt, cursor.ID)
	}

	query += ` ORDER BY performed_at DESC, log_id DESC LIMIT $2`

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.user_id', $1, true)", userID); err != nil {
		return nil, nil, err
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.LogAggregate, 0, limit)
	for rows.Next() {
		var agg domain.LogAggregate
		if err := rows.Scan(&agg.ID, &agg.UserID, &agg.ExerciseID, &agg.ActivityKind, &agg.Note, &agg.PerformedAt, &agg.ClientMutationID, &agg.State, &agg.CreatedAt, &agg.UpdatedAt); err != nil {
			return nil, nil, err
		}
		results = append(results, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{PerformedAt: last.PerformedAt, ID: last.ID}
	}

	return results, nextCursor, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(domain.LogAggregate) string
}

var eventCatalog = map[string]EventMetadata{
	"log.recorded": {
		Topic:         "log_events",
		SchemaSubject: "log_events-value",
		PartitionKeyFn: func(a domain.LogAggregate) string {
			return a.UserID
		},
	},
	"log.state_changed": {
		Topic:         "log_state_changed",
		SchemaSubject: "log_state_changed-value",
		PartitionKeyFn: func(a domain.LogAggregate) string {
			return a.ID
		},
	},
}
