package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/railtrans/expo/internal/domain/payment"
	"github.com/railtrans/expo/internal/observability"
)

const orderColumns = `id, reference_id, amount, currency, status, provider_order_id, checkout_url,
	coupon_id, customer_email, created_at, updated_at`

const orderRow = orderColumns + `, applied_to`

type PaymentsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewPaymentsRepo(pool *pgxpool.Pool, prom *observability.Prom) *PaymentsRepo {
	return &PaymentsRepo{pool: pool, prom: prom}
}

func scanOrder(row pgx.Row) (payment.Order, error) {
	var o payment.Order
	var status string
	var providerID, checkoutURL *string

	err := row.Scan(&o.ID, &o.ReferenceID, &o.Amount, &o.Currency, &status, &providerID, &checkoutURL,
		&o.CouponID, &o.CustomerEmail, &o.CreatedAt, &o.UpdatedAt, &o.AppliedTo)
	if err != nil {
		return payment.Order{}, err
	}

	o.Status = payment.Status(status)
	if providerID != nil {
		o.ProviderOrderID = *providerID
	}
	if checkoutURL != nil {
		o.CheckoutURL = *checkoutURL
	}
	return o, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (repo *PaymentsRepo) Create(ctx context.Context, o payment.Order) error {
	return observe(repo.prom, "payments.create", func() error {
		_, e := repo.pool.Exec(ctx, `INSERT INTO payment_orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			o.ID, o.ReferenceID, o.Amount, o.Currency, string(o.Status), nullable(o.ProviderOrderID), nullable(o.CheckoutURL),
			o.CouponID, o.CustomerEmail, o.CreatedAt, o.UpdatedAt)
		return e
	})
}

// AttachProvider records what the provider returned for a freshly created order.
func (repo *PaymentsRepo) AttachProvider(ctx context.Context, id, providerOrderID, checkoutURL string, status payment.Status) error {
	var rows int64
	err := observe(repo.prom, "payments.attach_provider", func() error {
		tag, e := repo.pool.Exec(ctx, `
		UPDATE payment_orders
		SET provider_order_id = $2, checkout_url = $3, status = $4, updated_at = NOW()
		WHERE id = $1
	`, id, nullable(providerOrderID), nullable(checkoutURL), string(status))
		rows = tag.RowsAffected()
		return e
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return payment.ErrNotFound
	}
	return nil
}

// SetStatus never moves an order out of a terminal state.
func (repo *PaymentsRepo) SetStatus(ctx context.Context, id string, status payment.Status) error {
	return observe(repo.prom, "payments.set_status", func() error {
		_, e := repo.pool.Exec(ctx, `
		UPDATE payment_orders
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('paid','failed','cancelled')
	`, id, string(status))
		return e
	})
}

func (repo *PaymentsRepo) LatestByReference(ctx context.Context, ref string) (payment.Order, error) {
	return repo.getOne(ctx, "payments.latest_by_reference",
		`SELECT `+orderRow+` FROM payment_orders WHERE reference_id = $1 ORDER BY created_at DESC LIMIT 1`, ref)
}

func (repo *PaymentsRepo) GetByID(ctx context.Context, id string) (payment.Order, error) {
	return repo.getOne(ctx, "payments.get_by_id", `SELECT `+orderRow+` FROM payment_orders WHERE id = $1`, id)
}

func (repo *PaymentsRepo) GetByProviderOrderID(ctx context.Context, providerOrderID string) (payment.Order, error) {
	return repo.getOne(ctx, "payments.get_by_provider_id",
		`SELECT `+orderRow+` FROM payment_orders WHERE provider_order_id = $1`, providerOrderID)
}

func (repo *PaymentsRepo) getOne(ctx context.Context, op, q string, arg any) (payment.Order, error) {
	var o payment.Order
	err := observe(repo.prom, op, func() error {
		var e error
		o, e = scanOrder(repo.pool.QueryRow(ctx, q, arg))
		return e
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payment.Order{}, payment.ErrNotFound
		}
		return payment.Order{}, err
	}
	return o, nil
}

// applyOrderTx ties a paid order to the registrant it paid for. Each order pays once.
func applyOrderTx(ctx context.Context, tx pgx.Tx, orderID, registrantID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE payment_orders
		SET applied_to = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'paid' AND applied_to IS NULL
	`, orderID, registrantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrAlreadyApplied
	}
	return nil
}
