package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/railtrans/expo/internal/domain/coupon"
	"github.com/railtrans/expo/internal/observability"
)

const couponColumns = `id, code, discount, used, used_by, used_at, created_at, updated_at`

// couponRow is what reads return; spent_at is only ever set by an upgrade.
const couponRow = couponColumns + `, spent_at`

type CouponsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewCouponsRepo(pool *pgxpool.Pool, prom *observability.Prom) *CouponsRepo {
	return &CouponsRepo{pool: pool, prom: prom}
}

func (repo *CouponsRepo) observe(op string, fn func() error) error {
	return observe(repo.prom, op, fn)
}

func scanCoupon(row pgx.Row) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(&c.ID, &c.Code, &c.Discount, &c.Used, &c.UsedBy, &c.UsedAt, &c.CreatedAt, &c.UpdatedAt, &c.SpentAt)
	return c, err
}

func appendLog(ctx context.Context, q querier, c coupon.Coupon, action coupon.LogAction, actor, detail string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO coupon_logs (coupon_id, code, action, actor, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,NOW())
	`, c.ID, c.Code, string(action), actor, detail)
	return err
}

func (repo *CouponsRepo) Create(ctx context.Context, c coupon.Coupon, actor string) (coupon.Coupon, error) {
	tx, err := repo.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return coupon.Coupon{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = repo.observe("coupons.create", func() error {
		_, e := tx.Exec(ctx, `INSERT INTO coupons (`+couponColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			c.ID, c.Code, c.Discount, c.Used, c.UsedBy, c.UsedAt, c.CreatedAt, c.UpdatedAt)
		return e
	})
	if err != nil {
		if IsUniqueViolation(err) {
			return coupon.Coupon{}, coupon.ErrExists
		}
		return coupon.Coupon{}, err
	}

	if err := appendLog(ctx, tx, c, coupon.ActionCreated, actor, ""); err != nil {
		return coupon.Coupon{}, err
	}

	return c, tx.Commit(ctx)
}

// CreateMany inserts the batch, silently skipping codes that already exist.
// It returns only the coupons actually stored.
func (repo *CouponsRepo) CreateMany(ctx context.Context, batch []coupon.Coupon, actor string) ([]coupon.Coupon, error) {
	tx, err := repo.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stored := make([]coupon.Coupon, 0, len(batch))

	err = repo.observe("coupons.create_many", func() error {
		for _, c := range batch {
			tag, e := tx.Exec(ctx, `INSERT INTO coupons (`+couponColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
				ON CONFLICT (code) DO NOTHING`,
				c.ID, c.Code, c.Discount, c.Used, c.UsedBy, c.UsedAt, c.CreatedAt, c.UpdatedAt)
			if e != nil {
				return e
			}
			if tag.RowsAffected() == 0 {
				continue
			}
			if e := appendLog(ctx, tx, c, coupon.ActionGenerated, actor, ""); e != nil {
				return e
			}
			stored = append(stored, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return stored, tx.Commit(ctx)
}

func (repo *CouponsRepo) GetByCode(ctx context.Context, code string) (coupon.Coupon, error) {
	var c coupon.Coupon

	err := repo.observe("coupons.get_by_code", func() error {
		var e error
		c, e = scanCoupon(repo.pool.QueryRow(ctx, `SELECT `+couponRow+` FROM coupons WHERE code = $1`, coupon.NormalizeCode(code)))
		return e
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coupon.Coupon{}, coupon.ErrNotFound
		}
		return coupon.Coupon{}, err
	}
	return c, nil
}

func (repo *CouponsRepo) GetByID(ctx context.Context, id string) (coupon.Coupon, error) {
	var c coupon.Coupon

	err := repo.observe("coupons.get_by_id", func() error {
		var e error
		c, e = scanCoupon(repo.pool.QueryRow(ctx, `SELECT `+couponRow+` FROM coupons WHERE id = $1`, id))
		return e
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coupon.Coupon{}, coupon.ErrNotFound
		}
		return coupon.Coupon{}, err
	}
	return c, nil
}

// Reserve flips used=false -> true. Only one caller can win for a given coupon.
func (repo *CouponsRepo) Reserve(ctx context.Context, id, usedBy string) (coupon.Coupon, error) {
	tx, err := repo.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return coupon.Coupon{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var by *string
	if usedBy != "" {
		by = &usedBy
	}

	var c coupon.Coupon
	err = repo.observe("coupons.reserve", func() error {
		var e error
		c, e = scanCoupon(tx.QueryRow(ctx, `
		UPDATE coupons
		SET used = TRUE, used_by = $2, used_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND used = FALSE
		RETURNING `+couponRow, id, by))
		return e
	})

	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return coupon.Coupon{}, err
		}
		// lost the race or never existed
		existing, gerr := repo.GetByID(ctx, id)
		if gerr != nil {
			return coupon.Coupon{}, gerr
		}
		return existing, coupon.ErrUsed
	}

	if err := appendLog(ctx, tx, c, coupon.ActionReserved, usedBy, ""); err != nil {
		return coupon.Coupon{}, err
	}

	return c, tx.Commit(ctx)
}

// Release clears a reservation. Releasing an unused or spent coupon is a no-op.
func (repo *CouponsRepo) Release(ctx context.Context, id, actor, reason string) (coupon.Coupon, error) {
	tx, err := repo.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return coupon.Coupon{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var c coupon.Coupon
	err = repo.observe("coupons.release", func() error {
		var e error
		c, e = scanCoupon(tx.QueryRow(ctx, `
		UPDATE coupons
		SET used = FALSE, used_by = NULL, used_at = NULL, updated_at = NOW()
		WHERE id = $1 AND used = TRUE AND spent_at IS NULL
		RETURNING `+couponRow, id))
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repo.GetByID(ctx, id)
		}
		return coupon.Coupon{}, err
	}

	if err := appendLog(ctx, tx, c, coupon.ActionReleased, actor, reason); err != nil {
		return coupon.Coupon{}, err
	}

	return c, tx.Commit(ctx)
}

func (repo *CouponsRepo) List(ctx context.Context) (out []coupon.Coupon, err error) {
	var rows pgx.Rows

	err = repo.observe("coupons.list", func() error {
		rows, err = repo.pool.Query(ctx, `SELECT `+couponRow+` FROM coupons ORDER BY created_at DESC, id DESC`)
		return err
	})
	if err != nil {
		return
	}
	defer rows.Close()

	out = make([]coupon.Coupon, 0)
	for rows.Next() {
		c, e := scanCoupon(rows)
		if e != nil {
			err = e
			return
		}
		out = append(out, c)
	}
	err = rows.Err()
	return
}

func (repo *CouponsRepo) Delete(ctx context.Context, id, actor string) error {
	tx, err := repo.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var c coupon.Coupon
	err = repo.observe("coupons.delete", func() error {
		var e error
		c, e = scanCoupon(tx.QueryRow(ctx, `DELETE FROM coupons WHERE id = $1 RETURNING `+couponRow, id))
		return e
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coupon.ErrNotFound
		}
		return err
	}

	if err := appendLog(ctx, tx, c, coupon.ActionDeleted, actor, ""); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Logs returns the newest entries first, optionally filtered to one coupon.
func (repo *CouponsRepo) Logs(ctx context.Context, couponID string, limit int, before time.Time) (out []coupon.LogEntry, err error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if before.IsZero() {
		before = time.Now().UTC().Add(time.Minute)
	}

	var rows pgx.Rows

	err = repo.observe("coupons.logs", func() error {
		rows, err = repo.pool.Query(ctx, `
		SELECT id, coupon_id, code, action, actor, detail, created_at
		FROM coupon_logs
		WHERE ($1 = '' OR coupon_id::text = $1)
		  AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, couponID, before, limit)
		return err
	})
	if err != nil {
		return
	}
	defer rows.Close()

	out = make([]coupon.LogEntry, 0, limit)
	for rows.Next() {
		var e coupon.LogEntry
		var action string
		if scanErr := rows.Scan(&e.ID, &e.CouponID, &e.Code, &action, &e.Actor, &e.Detail, &e.CreatedAt); scanErr != nil {
			err = scanErr
			return
		}
		e.Action = coupon.LogAction(action)
		out = append(out, e)
	}
	err = rows.Err()
	return
}

// spendCouponTx redeems a coupon reserved by reservedBy. A coupon that is
// already spent, released or held by someone else is ErrSpent.
func spendCouponTx(ctx context.Context, tx pgx.Tx, id, reservedBy, ticketCode string) error {
	c, err := scanCoupon(tx.QueryRow(ctx, `
		UPDATE coupons
		SET spent_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND used = TRUE AND spent_at IS NULL AND lower(used_by) = lower($2)
		RETURNING `+couponRow, id, reservedBy))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coupon.ErrSpent
		}
		return err
	}
	return appendLog(ctx, tx, c, coupon.ActionSpent, reservedBy, "ticket "+ticketCode)
}
