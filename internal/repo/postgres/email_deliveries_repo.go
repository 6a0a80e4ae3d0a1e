package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/railtrans/expo/internal/domain/delivery"
	"github.com/railtrans/expo/internal/observability"
)

// EmailDeliveriesRepo keeps one row per (kind, dedupe key) so a retried job
// never mails twice.
type EmailDeliveriesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewEmailDeliveriesRepo(pool *pgxpool.Pool, prom *observability.Prom) *EmailDeliveriesRepo {
	return &EmailDeliveriesRepo{pool: pool, prom: prom}
}

// TryStart claims the right to send. A new key, or one whose last attempt
// failed, is claimed; otherwise ErrAlreadySent or ErrInProgress is returned.
func (r *EmailDeliveriesRepo) TryStart(ctx context.Context, kind, dedupeKey, jobID, recipient string) error {
	return observe(r.prom, "deliveries.try_start", func() error {
		var claimed bool
		err := r.pool.QueryRow(ctx, `
			INSERT INTO email_deliveries (kind, dedupe_key, job_id, recipient, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 'sending', NOW(), NOW())
			ON CONFLICT (kind, dedupe_key) DO UPDATE
			SET status = 'sending', job_id = EXCLUDED.job_id, recipient = EXCLUDED.recipient,
			    last_error = NULL, updated_at = NOW()
			WHERE email_deliveries.status = 'failed'
			RETURNING true`,
			kind, dedupeKey, nullable(jobID), recipient).Scan(&claimed)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		// the row exists and is not failed
		var sent bool
		if err := r.pool.QueryRow(ctx, `
			SELECT status = 'sent' OR sent_at IS NOT NULL
			FROM email_deliveries WHERE kind = $1 AND dedupe_key = $2`,
			kind, dedupeKey).Scan(&sent); err != nil {
			return err
		}
		if sent {
			return delivery.ErrAlreadySent
		}
		return delivery.ErrInProgress
	})
}

func (r *EmailDeliveriesRepo) MarkSent(ctx context.Context, kind, dedupeKey string, providerMessageID *string) error {
	return observe(r.prom, "deliveries.mark_sent", func() error {
		_, err := r.pool.Exec(ctx, `
			UPDATE email_deliveries
			SET status = 'sent', sent_at = NOW(), provider_message_id = $3, last_error = NULL, updated_at = NOW()
			WHERE kind = $1 AND dedupe_key = $2`,
			kind, dedupeKey, providerMessageID)
		return err
	})
}

func (r *EmailDeliveriesRepo) MarkFailed(ctx context.Context, kind, dedupeKey, errMsg string) error {
	return observe(r.prom, "deliveries.mark_failed", func() error {
		_, err := r.pool.Exec(ctx, `
			UPDATE email_deliveries
			SET status = 'failed', last_error = $3, updated_at = NOW()
			WHERE kind = $1 AND dedupe_key = $2 AND status <> 'sent'`,
			kind, dedupeKey, errMsg)
		return err
	})
}
