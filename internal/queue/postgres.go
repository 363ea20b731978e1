package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrJobNotFound is returned when a job ID has no matching row.
var ErrJobNotFound = errors.New("queue: job not found")

// PostgresRepository is the Postgres-backed JobRepository.
type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, job *Job) (*Job, error) {
	raw, err := json.Marshal(job.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}

	var out Job
	err = r.db.GetContext(ctx, &out, `
		INSERT INTO jobs (id, order_id, queue_name, priority, payload, state, attempts, max_attempts, run_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)
		RETURNING *`,
		uuid.New().String(), job.OrderID, job.Queue, job.Priority, raw, StateWaiting, job.MaxAttempts, job.RunAt)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	if err := json.Unmarshal(out.RawPayload, &out.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal job payload: %w", err)
	}
	return &out, nil
}

func (r *PostgresRepository) scanOne(ctx context.Context, query string, args ...interface{}) (*Job, error) {
	var out Job
	err := r.db.GetContext(ctx, &out, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(out.RawPayload) > 0 {
		if uerr := json.Unmarshal(out.RawPayload, &out.Payload); uerr != nil {
			return nil, fmt.Errorf("unmarshal job payload: %w", uerr)
		}
	}
	return &out, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Job, error) {
	return r.scanOne(ctx, `SELECT * FROM jobs WHERE id = $1`, id)
}

func (r *PostgresRepository) MarkActive(ctx context.Context, id string, leaseExpiresAt time.Time) (*Job, error) {
	return r.scanOne(ctx, `
		UPDATE jobs
		SET state = $1, attempts = attempts + 1, lease_expires_at = $2, updated_at = now()
		WHERE id = $3
		RETURNING *`, StateActive, leaseExpiresAt, id)
}

func (r *PostgresRepository) MarkCompleted(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET state = $1, lease_expires_at = NULL, updated_at = now() WHERE id = $2`,
		StateCompleted, id)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(res)
}

func (r *PostgresRepository) Reschedule(ctx context.Context, id string, runAt time.Time, lastErr string) (*Job, error) {
	state := StateDelayed
	if !runAt.After(time.Now()) {
		state = StateWaiting
	}
	return r.scanOne(ctx, `
		UPDATE jobs
		SET state = $1, run_at = $2, last_error = $3, lease_expires_at = NULL, updated_at = now()
		WHERE id = $4
		RETURNING *`, state, runAt, lastErr, id)
}

func (r *PostgresRepository) MarkDeadLettered(ctx context.Context, id string, reason string) (*Job, error) {
	return r.scanOne(ctx, `
		UPDATE jobs
		SET state = $1, last_error = $2, lease_expires_at = NULL, updated_at = now()
		WHERE id = $3
		RETURNING *`, StateFailed, reason, id)
}

func (r *PostgresRepository) StalledActive(ctx context.Context, queue string) ([]Job, error) {
	var jobs []Job
	err := r.db.SelectContext(ctx, &jobs, `
		SELECT * FROM jobs
		WHERE queue_name = $1 AND state = $2 AND lease_expires_at < now()
		ORDER BY enqueue_seq`, queue, StateActive)
	if err != nil {
		return nil, err
	}
	return unmarshalPayloads(jobs)
}

func (r *PostgresRepository) DueDelayed(ctx context.Context, queue string, limit int) ([]Job, error) {
	var jobs []Job
	err := r.db.SelectContext(ctx, &jobs, `
		SELECT * FROM jobs
		WHERE queue_name = $1 AND state = $2 AND run_at <= now()
		ORDER BY priority, enqueue_seq
		LIMIT $3`, queue, StateDelayed, limit)
	if err != nil {
		return nil, err
	}
	return unmarshalPayloads(jobs)
}

func (r *PostgresRepository) MarkWaiting(ctx context.Context, id string) (*Job, error) {
	return r.scanOne(ctx, `
		UPDATE jobs SET state = $1, lease_expires_at = NULL, updated_at = now()
		WHERE id = $2
		RETURNING *`, StateWaiting, id)
}

func (r *PostgresRepository) PruneRetention(ctx context.Context, queue string, keepCompleted, keepFailed int) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM jobs WHERE id IN (
			SELECT id FROM jobs
			WHERE queue_name = $1 AND state = $2
			ORDER BY updated_at DESC
			OFFSET $3
		)`, queue, StateCompleted, keepCompleted)
	if err != nil {
		return fmt.Errorf("prune completed: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		DELETE FROM jobs WHERE id IN (
			SELECT id FROM jobs
			WHERE queue_name = $1 AND state = $2
			ORDER BY updated_at DESC
			OFFSET $3
		)`, queue, StateFailed, keepFailed)
	if err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListFailed(ctx context.Context, queue string, limit int) ([]Job, error) {
	var jobs []Job
	err := r.db.SelectContext(ctx, &jobs, `
		SELECT * FROM jobs WHERE queue_name = $1 AND state = $2
		ORDER BY updated_at DESC LIMIT $3`, queue, StateFailed, limit)
	if err != nil {
		return nil, err
	}
	return unmarshalPayloads(jobs)
}

func unmarshalPayloads(jobs []Job) ([]Job, error) {
	for i := range jobs {
		if len(jobs[i].RawPayload) == 0 {
			continue
		}
		if err := json.Unmarshal(jobs[i].RawPayload, &jobs[i].Payload); err != nil {
			return nil, fmt.Errorf("unmarshal job %s payload: %w", jobs[i].ID, err)
		}
	}
	return jobs, nil
}

func rowsAffectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}
