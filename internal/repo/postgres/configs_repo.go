package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/railtrans/expo/internal/domain/regconfig"
	"github.com/railtrans/expo/internal/observability"
)

type ConfigsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewConfigsRepo(pool *pgxpool.Pool, prom *observability.Prom) *ConfigsRepo {
	return &ConfigsRepo{pool: pool, prom: prom}
}

func (repo *ConfigsRepo) Get(ctx context.Context, role string) (regconfig.Config, error) {
	var c regconfig.Config

	err := observe(repo.prom, "configs.get", func() error {
		return repo.pool.QueryRow(ctx, `
		SELECT role, fields, event_details, branding, columns, categories, terms_url, updated_at
		FROM registration_configs
		WHERE role = $1
	`, role).Scan(&c.Role, &c.Fields, &c.EventDetails, &c.Branding, &c.Columns, &c.Categories, &c.TermsURL, &c.UpdatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return regconfig.Config{}, regconfig.ErrNotFound
		}
		return regconfig.Config{}, err
	}
	return c, nil
}

func (repo *ConfigsRepo) Upsert(ctx context.Context, role string, req regconfig.UpsertRequest) (regconfig.Config, error) {
	c := regconfig.Config{
		Role:         role,
		Fields:       req.Fields,
		EventDetails: req.EventDetails,
		Branding:     req.Branding,
		Columns:      req.Columns,
		Categories:   req.Categories,
		TermsURL:     req.TermsURL,
		UpdatedAt:    time.Now().UTC(),
	}
	if c.Columns == nil {
		c.Columns = []string{}
	}
	if c.Categories == nil {
		c.Categories = []regconfig.Category{}
	}

	err := observe(repo.prom, "configs.upsert", func() error {
		_, e := repo.pool.Exec(ctx, `
		INSERT INTO registration_configs (role, fields, event_details, branding, columns, categories, terms_url, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (role) DO UPDATE
		SET fields = EXCLUDED.fields,
		    event_details = EXCLUDED.event_details,
		    branding = EXCLUDED.branding,
		    columns = EXCLUDED.columns,
		    categories = EXCLUDED.categories,
		    terms_url = EXCLUDED.terms_url,
		    updated_at = EXCLUDED.updated_at
	`, c.Role, c.Fields, c.EventDetails, c.Branding, c.Columns, c.Categories, c.TermsURL, c.UpdatedAt)
		return e
	})
	if err != nil {
		return regconfig.Config{}, err
	}
	return c, nil
}
