package db

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/railtrans/expo/internal/config"
	"github.com/railtrans/expo/internal/domain/user"
	"github.com/railtrans/expo/internal/security"
)

// EnsureAdminUser creates the bootstrap dashboard account from ADMIN_EMAIL and
// ADMIN_PASSWORD. An existing account is left alone, password included.
func EnsureAdminUser(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) (created bool, err error) {
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if email == "" || cfg.AdminPassword == "" {
		return false, nil
	}

	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists); err != nil || exists {
		return false, err
	}

	hash, err := security.HashPassword(cfg.AdminPassword)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	tag, err := pool.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, name, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (email) DO NOTHING`,
		uuid.NewString(), email, hash, cfg.AdminName, user.RoleAdmin, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
