package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/matt-riley/yomu/internal/core"
)

// User is an end user of the benefits dashboard. BirthDate is nil until the
// user provides one.
type User struct {
	ID          string             `json:"id"`
	DisplayName string             `json:"display_name"`
	Email       string             `json:"email"`
	BirthDate   *core.CalendarDate `json:"birth_date,omitempty"`
	Locale      string             `json:"locale"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

type Membership struct {
	UserID    string    `json:"user_id"`
	BrandID   string    `json:"brand_id"`
	CreatedAt time.Time `json:"created_at"`
}

type BenefitUsage struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	BenefitID string    `json:"benefit_id"`
	UsedAt    time.Time `json:"used_at"`
}

const userColumns = `id, display_name, email, birth_date, locale, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var (
		u         User
		birthDate *time.Time
	)
	if err := row.Scan(
		&u.ID,
		&u.DisplayName,
		&u.Email,
		&birthDate,
		&u.Locale,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return User{}, err
	}
	if birthDate != nil {
		d := core.DateOf(*birthDate)
		u.BirthDate = &d
	}
	return u, nil
}

func birthDateArg(d *core.CalendarDate) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time(time.UTC)
	return &t
}

// UpsertUser inserts the user or updates every profile field of an existing
// one.
func (r *PostgresRepository) UpsertUser(ctx context.Context, user User) (User, error) {
	saved, err := scanUser(r.pool.QueryRow(ctx, `
		INSERT INTO users (id, display_name, email, birth_date, locale)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    email = EXCLUDED.email,
		    birth_date = EXCLUDED.birth_date,
		    locale = EXCLUDED.locale,
		    updated_at = NOW()
		RETURNING `+userColumns,
		user.ID, user.DisplayName, user.Email, birthDateArg(user.BirthDate), user.Locale,
	))
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return saved, nil
}

func (r *PostgresRepository) GetUser(ctx context.Context, id string) (User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// SetUserBirthDate stores or clears the user's birth date.
func (r *PostgresRepository) SetUserBirthDate(ctx context.Context, id string, birthDate *core.CalendarDate) error {
	commandTag, err := r.pool.Exec(ctx, `
		UPDATE users SET birth_date = $2, updated_at = NOW()
		WHERE id = $1
	`, id, birthDateArg(birthDate))
	if err != nil {
		return fmt.Errorf("set user birth date: %w", err)
	}
	return requireAffected(commandTag, "set user birth date")
}

// AddMembership is idempotent.
func (r *PostgresRepository) AddMembership(ctx context.Context, userID, brandID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO memberships (user_id, brand_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, brand_id) DO NOTHING
	`, userID, brandID)
	if err != nil {
		return fmt.Errorf("add membership: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RemoveMembership(ctx context.Context, userID, brandID string) error {
	commandTag, err := r.pool.Exec(ctx, `
		DELETE FROM memberships WHERE user_id = $1 AND brand_id = $2
	`, userID, brandID)
	if err != nil {
		return fmt.Errorf("remove membership: %w", err)
	}
	return requireAffected(commandTag, "remove membership")
}

func (r *PostgresRepository) ListMemberships(ctx context.Context, userID string) ([]Membership, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, brand_id, created_at
		FROM memberships
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	memberships := make([]Membership, 0)
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.UserID, &m.BrandID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list memberships rows: %w", err)
	}
	return memberships, nil
}

func (r *PostgresRepository) RecordUsage(ctx context.Context, usage BenefitUsage) (BenefitUsage, error) {
	usedAt := usage.UsedAt
	if usedAt.IsZero() {
		usedAt = time.Now().UTC()
	}

	var recorded BenefitUsage
	if err := r.pool.QueryRow(ctx, `
		INSERT INTO benefit_usages (user_id, benefit_id, used_at)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, benefit_id, used_at
	`, usage.UserID, usage.BenefitID, usedAt).Scan(
		&recorded.ID,
		&recorded.UserID,
		&recorded.BenefitID,
		&recorded.UsedAt,
	); err != nil {
		return BenefitUsage{}, fmt.Errorf("record usage: %w", err)
	}
	return recorded, nil
}

// ListUsages returns the user's usages recorded at or after since, newest
// first.
func (r *PostgresRepository) ListUsages(ctx context.Context, userID string, since time.Time) ([]BenefitUsage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, benefit_id, used_at
		FROM benefit_usages
		WHERE user_id = $1 AND used_at >= $2
		ORDER BY used_at DESC
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("list usages: %w", err)
	}
	defer rows.Close()

	usages := make([]BenefitUsage, 0)
	for rows.Next() {
		var u BenefitUsage
		if err := rows.Scan(&u.ID, &u.UserID, &u.BenefitID, &u.UsedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		usages = append(usages, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list usages rows: %w", err)
	}
	return usages, nil
}
