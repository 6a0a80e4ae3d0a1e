package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/railtrans/expo/internal/domain/job"
	"github.com/railtrans/expo/internal/observability"
)

const jobColumns = `id, type, payload, status, attempts, max_attempts, priority,
	run_at, locked_at, locked_by, last_error, idempotency_key, created_at, updated_at`

// every transition out of processing releases the lock
const releaseLock = `locked_at = NULL, locked_by = NULL, updated_at = NOW()`

type JobsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewJobsRepo(pool *pgxpool.Pool, prom *observability.Prom) *JobsRepo {
	return &JobsRepo{pool: pool, prom: prom}
}

func (r *JobsRepo) observe(op string, fn func() error) error {
	return observe(r.prom, op, fn)
}

func scanJob(row pgx.Row) (job.Job, error) {
	var j job.Job
	err := row.Scan(
		&j.ID, &j.Type, &j.Payload, &j.Status, &j.Attempts, &j.MaxAttempts, &j.Priority,
		&j.RunAt, &j.LockedAt, &j.LockedBy, &j.LastError, &j.IdempotencyKey, &j.CreatedAt, &j.UpdatedAt,
	)
	return j, err
}

func collectJobs(rows pgx.Rows) ([]job.Job, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (job.Job, error) {
		return scanJob(row)
	})
}

func insertJob(ctx context.Context, q querier, j job.Job) error {
	_, err := q.Exec(ctx, `INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		j.ID, j.Type, j.Payload, j.Status, j.Attempts, j.MaxAttempts, j.Priority,
		j.RunAt, j.LockedAt, j.LockedBy, j.LastError, j.IdempotencyKey, j.CreatedAt, j.UpdatedAt)
	return err
}

func (r *JobsRepo) Create(ctx context.Context, req job.CreateRequest) (job.Job, error) {
	j := job.New(req)
	if err := r.observe("jobs.create", func() error { return insertJob(ctx, r.pool, j) }); err != nil {
		return job.Job{}, err
	}
	return j, nil
}

// CreateTx enqueues inside the caller's transaction so the job commits with
// the domain write. The insert runs in a savepoint; a duplicate idempotency key
// leaves tx usable.
func (r *JobsRepo) CreateTx(ctx context.Context, tx pgx.Tx, req job.CreateRequest) (job.Job, error) {
	j := job.New(req)

	err := r.observe("jobs.create_tx", func() error {
		sp, err := tx.Begin(ctx)
		if err != nil {
			return err
		}
		if err := insertJob(ctx, sp, j); err != nil {
			_ = sp.Rollback(ctx)
			return err
		}
		return sp.Commit(ctx)
	})
	if err != nil {
		return job.Job{}, err
	}
	return j, nil
}

// finish moves a claimed job out of processing. set is the extra SET clause;
// its placeholders start at $2.
func (r *JobsRepo) finish(ctx context.Context, op, id, set string, args ...any) error {
	q := `UPDATE jobs SET attempts = attempts + 1, ` + set + `, ` + releaseLock + ` WHERE id = $1`

	return r.observe(op, func() error {
		tag, err := r.pool.Exec(ctx, q, append([]any{id}, args...)...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return job.ErrJobNotFound
		}
		return nil
	})
}

func (r *JobsRepo) MarkDone(ctx context.Context, id string) error {
	return r.finish(ctx, "jobs.mark_done", id, `status = 'done', last_error = NULL`)
}

func (r *JobsRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return r.finish(ctx, "jobs.mark_failed", id, `status = 'failed', last_error = $2`, errMsg)
}

func (r *JobsRepo) Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error {
	return r.finish(ctx, "jobs.reschedule", id, `status = 'pending', run_at = $2, last_error = $3`, runAt, errMsg)
}

// ClaimNext locks the most urgent runnable job. SKIP LOCKED keeps concurrent
// workers off each other's rows.
func (r *JobsRepo) ClaimNext(ctx context.Context, workerID string) (job.Job, error) {
	var j job.Job

	err := r.observe("jobs.claim_next", func() error {
		var err error
		j, err = scanJob(r.pool.QueryRow(ctx, `
			UPDATE jobs
			SET status = 'processing', locked_at = NOW(), locked_by = $1, updated_at = NOW()
			WHERE id = (
				SELECT id FROM jobs
				WHERE status = 'pending' AND run_at <= NOW() AND attempts < max_attempts
				ORDER BY priority DESC, run_at, created_at
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING `+jobColumns, workerID))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return job.Job{}, job.ErrJobNotFound
	}
	return j, err
}

// RequeueStaleProcessing hands back jobs whose worker died holding the lock.
func (r *JobsRepo) RequeueStaleProcessing(ctx context.Context, lockTTL time.Duration) (int64, error) {
	if lockTTL < time.Second {
		lockTTL = 30 * time.Second
	}
	var n int64

	err := r.observe("jobs.requeue_stale", func() error {
		tag, err := r.pool.Exec(ctx, `
			UPDATE jobs SET status = 'pending', `+releaseLock+`
			WHERE status = 'processing' AND locked_at < NOW() - make_interval(secs => $1)`,
			lockTTL.Seconds())
		n = tag.RowsAffected()
		return err
	})
	return n, err
}

// List pages jobs by (updated_at, id) descending. One extra row is read to
// report HasMore.
func (r *JobsRepo) List(ctx context.Context, f job.ListFilter) (job.Page, error) {
	where := []string{"(updated_at, id) < ($1, $2)"}
	args := []any{f.BeforeUpdatedAt, f.BeforeID}

	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	args = append(args, f.Limit+1)

	q := `SELECT ` + jobColumns + ` FROM jobs WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(` ORDER BY updated_at DESC, id DESC LIMIT $%d`, len(args))

	var items []job.Job
	err := r.observe("jobs.admin.list", func() error {
		rows, err := r.pool.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		items, err = collectJobs(rows)
		return err
	})
	if err != nil {
		return job.Page{}, err
	}

	page := job.Page{Items: items}
	if len(items) > f.Limit {
		page.Items, page.HasMore = items[:f.Limit], true
	}
	return page, nil
}

func (r *JobsRepo) GetByID(ctx context.Context, id string) (job.Job, error) {
	var j job.Job
	err := r.observe("jobs.admin.get", func() error {
		var err error
		j, err = scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return job.Job{}, job.ErrJobNotFound
	}
	return j, err
}

const requeueFailed = `status = 'pending', attempts = 0, run_at = NOW(), last_error = NULL, ` + releaseLock

// Retry gives one failed job a fresh attempt budget.
func (r *JobsRepo) Retry(ctx context.Context, id string) error {
	return r.observe("jobs.admin.retry", func() error {
		var prev job.Status
		err := r.pool.QueryRow(ctx, `
			WITH target AS (SELECT id, status FROM jobs WHERE id = $1 FOR UPDATE),
			upd AS (
				UPDATE jobs SET `+requeueFailed+`
				WHERE id = (SELECT id FROM target WHERE status = 'failed')
			)
			SELECT status FROM target`, id).Scan(&prev)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return job.ErrJobNotFound
		case err != nil:
			return err
		case prev != job.StatusFailed:
			return job.ErrJobNotFailed
		}
		return nil
	})
}

// RetryManyFailed requeues up to limit of the most recently failed jobs.
func (r *JobsRepo) RetryManyFailed(ctx context.Context, limit int) (int64, error) {
	limit = min(max(limit, 1), 500)
	var n int64

	err := r.observe("jobs.admin.retry_many_failed", func() error {
		tag, err := r.pool.Exec(ctx, `
			UPDATE jobs SET `+requeueFailed+`
			WHERE id IN (
				SELECT id FROM jobs WHERE status = 'failed'
				ORDER BY updated_at DESC
				LIMIT $1
				FOR UPDATE SKIP LOCKED
			)`, limit)
		n = tag.RowsAffected()
		return err
	})
	return n, err
}

// Stats counts jobs per status, optionally for one job type.
func (r *JobsRepo) Stats(ctx context.Context, jobType string) (job.Stats, error) {
	out := job.Stats{}
	for _, st := range job.Statuses {
		out[st] = 0
	}

	err := r.observe("jobs.admin.stats", func() error {
		rows, err := r.pool.Query(ctx, `
			SELECT status, COUNT(*) FROM jobs
			WHERE $1 = '' OR type = $1
			GROUP BY status`, jobType)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				st job.Status
				n  int
			)
			if err := rows.Scan(&st, &n); err != nil {
				return err
			}
			out[st] = n
		}
		return rows.Err()
	})
	return out, err
}
