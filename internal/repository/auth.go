package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

// Admin portal roles. Viewers can browse the catalog but not change it.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

const (
	apiKeyIDBytes     = 16
	apiKeySecretBytes = 32
)

// APIKeyMeta is what the admin portal shows for a key; the hash never leaves
// the repository.
type APIKeyMeta struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type AdminUser struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// AdminSession is keyed by a hash of the cookie value, never the value itself.
type AdminSession struct {
	IDHash      string    `db:"id_hash" json:"-"`
	AdminUserID string    `db:"admin_user_id" json:"admin_user_id"`
	CSRFToken   string    `db:"csrf_token" json:"csrf_token"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	ExpiresAt   time.Time `db:"expires_at" json:"expires_at"`
}

const adminUserColumns = `id, username, password_hash, role, created_at, updated_at`

// ValidateAPIKey returns the stored hash and client name for a live key.
// Callers compare the secret against the hash.
func (r *PostgresRepository) ValidateAPIKey(ctx context.Context, id string) (keyHash, client string, err error) {
	err = r.pool.QueryRow(ctx,
		`SELECT key_hash, name FROM api_keys WHERE id = $1 AND revoked_at IS NULL`, id,
	).Scan(&keyHash, &client)
	if err != nil {
		return "", "", fmt.Errorf("validate api key: %w", err)
	}
	return keyHash, client, nil
}

// CreateAPIKey issues a key for client and stores only a bcrypt hash of the
// secret. The secret is returned exactly once.
func (r *PostgresRepository) CreateAPIKey(ctx context.Context, client string) (keyID, secret string, err error) {
	if keyID, err = generateRandomHex(apiKeyIDBytes); err != nil {
		return "", "", fmt.Errorf("generate key id: %w", err)
	}
	if secret, err = generateRandomHex(apiKeySecretBytes); err != nil {
		return "", "", fmt.Errorf("generate secret: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hash api key: %w", err)
	}
	if client == "" {
		client = "api-key-" + keyID[:8]
	}

	if _, err := r.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash) VALUES ($1, $2, $3)`,
		keyID, client, string(hash),
	); err != nil {
		return "", "", fmt.Errorf("create api key: %w", err)
	}
	return keyID, secret, nil
}

// ListAPIKeys returns live keys, oldest first.
func (r *PostgresRepository) ListAPIKeys(ctx context.Context) ([]APIKeyMeta, error) {
	rows, _ := r.pool.Query(ctx,
		`SELECT id, name, created_at FROM api_keys WHERE revoked_at IS NULL ORDER BY created_at, id`)
	keys, err := pgx.CollectRows(rows, pgx.RowToStructByName[APIKeyMeta])
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// DeleteAPIKey revokes a key. Revoked and unknown keys report a wrapped
// pgx.ErrNoRows.
func (r *PostgresRepository) DeleteAPIKey(ctx context.Context, keyID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE api_keys SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`, keyID)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	return requireAffected(tag, "delete api key")
}

// CreateAdminUser stores a portal account. An empty role means RoleAdmin.
func (r *PostgresRepository) CreateAdminUser(ctx context.Context, username, passwordHash, role string) (AdminUser, error) {
	if role == "" {
		role = RoleAdmin
	}
	rows, _ := r.pool.Query(ctx, `
		INSERT INTO admin_users (id, username, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING `+adminUserColumns,
		uuid.NewString(), username, passwordHash, role)
	u, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[AdminUser])
	if err != nil {
		return AdminUser{}, fmt.Errorf("create admin user: %w", err)
	}
	return u, nil
}

func (r *PostgresRepository) GetAdminUserByUsername(ctx context.Context, username string) (AdminUser, error) {
	return r.getAdminUser(ctx, "username", username)
}

func (r *PostgresRepository) GetAdminUserByID(ctx context.Context, id string) (AdminUser, error) {
	return r.getAdminUser(ctx, "id", id)
}

// getAdminUser looks a user up by a unique column. column is always a
// literal from this file.
func (r *PostgresRepository) getAdminUser(ctx context.Context, column, value string) (AdminUser, error) {
	rows, _ := r.pool.Query(ctx,
		`SELECT `+adminUserColumns+` FROM admin_users WHERE `+column+` = $1`, value)
	u, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[AdminUser])
	if err != nil {
		return AdminUser{}, fmt.Errorf("get admin user by %s: %w", column, err)
	}
	return u, nil
}

// HasAdminUsers reports whether the first-run setup page is still needed.
func (r *PostgresRepository) HasAdminUsers(ctx context.Context) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM admin_users)`).Scan(&exists); err != nil {
		return false, fmt.Errorf("check admin users: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) CreateAdminSession(ctx context.Context, s AdminSession) error {
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO admin_sessions (id_hash, admin_user_id, csrf_token, created_at, expires_at)
		VALUES (@id_hash, @admin_user_id, @csrf_token, @created_at, @expires_at)`,
		pgx.NamedArgs{
			"id_hash":       s.IDHash,
			"admin_user_id": s.AdminUserID,
			"csrf_token":    s.CSRFToken,
			"created_at":    s.CreatedAt,
			"expires_at":    s.ExpiresAt,
		},
	); err != nil {
		return fmt.Errorf("create admin session: %w", err)
	}
	return nil
}

// GetAdminSession returns live sessions only; an expired one reads as
// pgx.ErrNoRows.
func (r *PostgresRepository) GetAdminSession(ctx context.Context, idHash string) (AdminSession, error) {
	rows, _ := r.pool.Query(ctx, `
		SELECT id_hash, admin_user_id, csrf_token, created_at, expires_at
		FROM admin_sessions
		WHERE id_hash = $1 AND expires_at > NOW()`, idHash)
	s, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[AdminSession])
	if err != nil {
		return AdminSession{}, fmt.Errorf("get admin session: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) DeleteAdminSession(ctx context.Context, idHash string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM admin_sessions WHERE id_hash = $1`, idHash); err != nil {
		return fmt.Errorf("delete admin session: %w", err)
	}
	return nil
}

// DeleteExpiredAdminSessions is run hourly by the server.
func (r *PostgresRepository) DeleteExpiredAdminSessions(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM admin_sessions WHERE expires_at <= NOW()`); err != nil {
		return fmt.Errorf("delete expired admin sessions: %w", err)
	}
	return nil
}
