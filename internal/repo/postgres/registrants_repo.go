package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/railtrans/expo/internal/domain/job"
	"github.com/railtrans/expo/internal/domain/registrant"
	"github.com/railtrans/expo/internal/observability"
)

const registrantColumns = `id, role, name, email, mobile, company, data, ticket_category, ticket_code,
	tx_id, payment_proof_url, ticket_price, ticket_gst, ticket_total, status,
	added_by_admin, admin_created_at, email_sent_at, ticket_generated_at, created_at, updated_at`

// ticket code collisions are retried with a fresh code this many times
const ticketCodeAttempts = 3

type RegistrantsRepo struct {
	pool *pgxpool.Pool
	jobs *JobsRepo
	prom *observability.Prom
}

func NewRegistrantsRepo(pool *pgxpool.Pool, jobs *JobsRepo, prom *observability.Prom) *RegistrantsRepo {
	return &RegistrantsRepo{pool: pool, jobs: jobs, prom: prom}
}

func (repo *RegistrantsRepo) observe(op string, fn func() error) error {
	return observe(repo.prom, op, fn)
}

func scanRegistrant(row pgx.Row) (registrant.Registrant, error) {
	var r registrant.Registrant
	var role, status string

	err := row.Scan(
		&r.ID, &role, &r.Name, &r.Email, &r.Mobile, &r.Company, &r.Data, &r.TicketCategory, &r.TicketCode,
		&r.TxID, &r.PaymentProofURL, &r.TicketPrice, &r.TicketGST, &r.TicketTotal, &status,
		&r.AddedByAdmin, &r.AdminCreatedAt, &r.EmailSentAt, &r.TicketGeneratedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return registrant.Registrant{}, err
	}

	r.Role = registrant.Role(role)
	r.Status = registrant.Status(status)
	if r.Data == nil {
		r.Data = map[string]any{}
	}
	return r, nil
}

// Create inserts r and any outbox jobs in a single transaction.
// A colliding ticket code is regenerated; a duplicate (role, email) is ErrAlreadyRegistered.
func (repo *RegistrantsRepo) Create(ctx context.Context, r registrant.Registrant, outbox ...job.CreateRequest) (reg registrant.Registrant, err error) {
	tx, err := repo.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for attempt := 0; ; attempt++ {
		err = repo.insertTx(ctx, tx, r)
		if err == nil {
			break
		}

		if IsUniqueViolation(err) && constraintName(err) == "registrants_ticket_code_uniq" && attempt+1 < ticketCodeAttempts {
			r.TicketCode = registrant.NewTicketCode(r.Role)
			continue
		}
		return
	}

	if err = repo.enqueueTx(ctx, tx, outbox); err != nil {
		return
	}

	if err = tx.Commit(ctx); err != nil {
		return
	}

	reg = r
	return
}

// insertTx runs inside a savepoint so a unique violation leaves tx usable for a retry.
func (repo *RegistrantsRepo) insertTx(ctx context.Context, tx pgx.Tx, r registrant.Registrant) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return err
	}

	err = repo.observe("registrants.create.insert", func() error {
		_, e := sp.Exec(ctx, `
		INSERT INTO registrants (`+registrantColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`,
			r.ID, string(r.Role), r.Name, r.Email, r.Mobile, r.Company, r.Data, r.TicketCategory, r.TicketCode,
			r.TxID, r.PaymentProofURL, r.TicketPrice, r.TicketGST, r.TicketTotal, string(r.Status),
			r.AddedByAdmin, r.AdminCreatedAt, r.EmailSentAt, r.TicketGeneratedAt, r.CreatedAt, r.UpdatedAt,
		)
		return e
	})

	if err != nil {
		_ = sp.Rollback(ctx)
		if IsUniqueViolation(err) && constraintName(err) == "registrants_role_email_uniq" {
			return registrant.ErrAlreadyRegistered
		}
		return err
	}

	return sp.Commit(ctx)
}

func (repo *RegistrantsRepo) enqueueTx(ctx context.Context, tx pgx.Tx, outbox []job.CreateRequest) error {
	for _, req := range outbox {
		if _, err := repo.jobs.CreateTx(ctx, tx, req); err != nil {
			// same idempotency key already queued
			if IsUniqueViolation(err) {
				continue
			}
			return fmt.Errorf("enqueue %s: %w", req.Type, err)
		}
	}
	return nil
}

func (repo *RegistrantsRepo) GetByID(ctx context.Context, role registrant.Role, id string) (registrant.Registrant, error) {
	var r registrant.Registrant

	err := repo.observe("registrants.get_by_id", func() error {
		var e error
		r, e = scanRegistrant(repo.pool.QueryRow(ctx,
			`SELECT `+registrantColumns+` FROM registrants WHERE role = $1 AND id = $2`, string(role), id))
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return registrant.Registrant{}, registrant.ErrNotFound
		}
		return registrant.Registrant{}, err
	}
	return r, nil
}

func (repo *RegistrantsRepo) GetByTicketCode(ctx context.Context, code string) (registrant.Registrant, error) {
	var r registrant.Registrant

	err := repo.observe("registrants.get_by_ticket_code", func() error {
		var e error
		r, e = scanRegistrant(repo.pool.QueryRow(ctx,
			`SELECT `+registrantColumns+` FROM registrants WHERE ticket_code = $1`, code))
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return registrant.Registrant{}, registrant.ErrNotFound
		}
		return registrant.Registrant{}, err
	}
	return r, nil
}

func (repo *RegistrantsRepo) FindByEmail(ctx context.Context, role registrant.Role, email string) (registrant.Registrant, error) {
	var r registrant.Registrant

	err := repo.observe("registrants.find_by_email", func() error {
		var e error
		r, e = scanRegistrant(repo.pool.QueryRow(ctx,
			`SELECT `+registrantColumns+` FROM registrants WHERE role = $1 AND email = $2`,
			string(role), registrant.NormalizeEmail(email)))
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return registrant.Registrant{}, registrant.ErrNotFound
		}
		return registrant.Registrant{}, err
	}
	return r, nil
}

func (repo *RegistrantsRepo) List(ctx context.Context, role registrant.Role) (out []registrant.Registrant, err error) {
	var rows pgx.Rows

	err = repo.observe("registrants.list", func() error {
		rows, err = repo.pool.Query(ctx,
			`SELECT `+registrantColumns+` FROM registrants WHERE role = $1 ORDER BY created_at DESC, id DESC`,
			string(role))
		return err
	})
	if err != nil {
		return
	}
	defer rows.Close()

	out = make([]registrant.Registrant, 0)

	for rows.Next() {
		r, e := scanRegistrant(rows)
		if e != nil {
			err = e
			return
		}
		out = append(out, r)
	}

	err = rows.Err()
	return
}

// Update persists the mutable columns of r. ticket_code and created_at are never written.
func (repo *RegistrantsRepo) Update(ctx context.Context, r registrant.Registrant, outbox ...job.CreateRequest) error {
	return repo.Upgrade(ctx, r, registrant.Spend{}, outbox...)
}

// Upgrade is Update plus redeeming what paid for the change. The coupon is
// marked spent and the order applied to r in the same transaction, so neither
// can pay for a second ticket.
func (repo *RegistrantsRepo) Upgrade(ctx context.Context, r registrant.Registrant, spend registrant.Spend, outbox ...job.CreateRequest) error {
	tx, err := repo.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if spend.CouponID != "" {
		err := repo.observe("registrants.upgrade.spend_coupon", func() error {
			return spendCouponTx(ctx, tx, spend.CouponID, spend.ReferenceID, r.TicketCode)
		})
		if err != nil {
			return err
		}
	}

	if spend.OrderID != "" {
		err := repo.observe("registrants.upgrade.apply_order", func() error {
			return applyOrderTx(ctx, tx, spend.OrderID, r.ID)
		})
		if err != nil {
			return err
		}
	}

	if err := repo.updateTx(ctx, tx, r); err != nil {
		return err
	}

	if err := repo.enqueueTx(ctx, tx, outbox); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (repo *RegistrantsRepo) updateTx(ctx context.Context, tx pgx.Tx, r registrant.Registrant) error {
	var rows int64

	err := repo.observe("registrants.update", func() error {
		tag, e := tx.Exec(ctx, `
		UPDATE registrants
		SET name = $3, email = $4, mobile = $5, company = $6, data = $7,
		    ticket_category = $8, tx_id = $9, payment_proof_url = $10,
		    ticket_price = $11, ticket_gst = $12, ticket_total = $13,
		    status = $14, updated_at = NOW()
		WHERE role = $1 AND id = $2
	`,
			string(r.Role), r.ID, r.Name, r.Email, r.Mobile, r.Company, r.Data,
			r.TicketCategory, r.TxID, r.PaymentProofURL,
			r.TicketPrice, r.TicketGST, r.TicketTotal, string(r.Status),
		)
		rows = tag.RowsAffected()
		return e
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return registrant.ErrAlreadyRegistered
		}
		return err
	}
	if rows == 0 {
		return registrant.ErrNotFound
	}
	return nil
}

func (repo *RegistrantsRepo) Delete(ctx context.Context, role registrant.Role, id string) error {
	var rows int64

	err := repo.observe("registrants.delete", func() error {
		tag, e := repo.pool.Exec(ctx, `DELETE FROM registrants WHERE role = $1 AND id = $2`, string(role), id)
		rows = tag.RowsAffected()
		return e
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return registrant.ErrNotFound
	}
	return nil
}

func (repo *RegistrantsRepo) MarkEmailSent(ctx context.Context, id string) error {
	return repo.observe("registrants.mark_email_sent", func() error {
		_, e := repo.pool.Exec(ctx, `UPDATE registrants SET email_sent_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
		return e
	})
}

func (repo *RegistrantsRepo) MarkTicketGenerated(ctx context.Context, id string) error {
	return repo.observe("registrants.mark_ticket_generated", func() error {
		_, e := repo.pool.Exec(ctx, `UPDATE registrants SET ticket_generated_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
		return e
	})
}
