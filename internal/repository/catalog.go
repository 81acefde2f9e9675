package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

type Brand struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Website     string    `json:"website"`
	LogoURL     string    `json:"logo_url"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Benefit is a stored benefit. ValidityType always holds a canonical rule id;
// aliases are resolved before a benefit reaches the database.
type Benefit struct {
	ID                   string    `json:"id"`
	BrandID              string    `json:"brand_id"`
	Title                string    `json:"title"`
	Description          string    `json:"description"`
	RedemptionMethod     string    `json:"redemption_method"`
	PromoCode            string    `json:"promo_code,omitempty"`
	ValidityType         string    `json:"validity_type"`
	ValidityDurationDays *int      `json:"validity_duration_days,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

const brandColumns = `id, name, category, website, logo_url, description, created_at, updated_at`

const benefitColumns = `id, brand_id, title, description, redemption_method, promo_code, validity_type, validity_duration_days, created_at, updated_at`

func scanBrand(row pgx.Row) (Brand, error) {
	var b Brand
	err := row.Scan(
		&b.ID,
		&b.Name,
		&b.Category,
		&b.Website,
		&b.LogoURL,
		&b.Description,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	return b, err
}

func scanBenefit(row pgx.Row) (Benefit, error) {
	var b Benefit
	err := row.Scan(
		&b.ID,
		&b.BrandID,
		&b.Title,
		&b.Description,
		&b.RedemptionMethod,
		&b.PromoCode,
		&b.ValidityType,
		&b.ValidityDurationDays,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	return b, err
}

func (r *PostgresRepository) CreateBrand(ctx context.Context, brand Brand) (Brand, error) {
	created, err := scanBrand(r.pool.QueryRow(ctx, `
		INSERT INTO brands (id, name, category, website, logo_url, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+brandColumns,
		brand.ID, brand.Name, brand.Category, brand.Website, brand.LogoURL, brand.Description,
	))
	if err != nil {
		return Brand{}, fmt.Errorf("create brand: %w", err)
	}
	return created, nil
}

// UpdateBrand returns pgx.ErrNoRows (wrapped) if the brand does not exist.
func (r *PostgresRepository) UpdateBrand(ctx context.Context, brand Brand) (Brand, error) {
	updated, err := scanBrand(r.pool.QueryRow(ctx, `
		UPDATE brands
		SET name = $2,
		    category = $3,
		    website = $4,
		    logo_url = $5,
		    description = $6,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+brandColumns,
		brand.ID, brand.Name, brand.Category, brand.Website, brand.LogoURL, brand.Description,
	))
	if err != nil {
		return Brand{}, fmt.Errorf("update brand: %w", err)
	}
	return updated, nil
}

func (r *PostgresRepository) GetBrand(ctx context.Context, id string) (Brand, error) {
	brand, err := scanBrand(r.pool.QueryRow(ctx, `SELECT `+brandColumns+` FROM brands WHERE id = $1`, id))
	if err != nil {
		return Brand{}, fmt.Errorf("get brand: %w", err)
	}
	return brand, nil
}

func (r *PostgresRepository) ListBrands(ctx context.Context) ([]Brand, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+brandColumns+` FROM brands ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list brands: %w", err)
	}
	defer rows.Close()

	brands := make([]Brand, 0)
	for rows.Next() {
		brand, err := scanBrand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan brand: %w", err)
		}
		brands = append(brands, brand)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list brands rows: %w", err)
	}
	return brands, nil
}

// DeleteBrand removes a brand and, through the foreign key, its benefits.
func (r *PostgresRepository) DeleteBrand(ctx context.Context, id string) error {
	commandTag, err := r.pool.Exec(ctx, `DELETE FROM brands WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete brand: %w", err)
	}
	return requireAffected(commandTag, "delete brand")
}

func (r *PostgresRepository) CreateBenefit(ctx context.Context, benefit Benefit) (Benefit, error) {
	created, err := scanBenefit(r.pool.QueryRow(ctx, `
		INSERT INTO benefits (id, brand_id, title, description, redemption_method, promo_code, validity_type, validity_duration_days)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+benefitColumns,
		benefit.ID,
		benefit.BrandID,
		benefit.Title,
		benefit.Description,
		benefit.RedemptionMethod,
		benefit.PromoCode,
		benefit.ValidityType,
		benefit.ValidityDurationDays,
	))
	if err != nil {
		return Benefit{}, fmt.Errorf("create benefit: %w", err)
	}
	return created, nil
}

// UpdateBenefit returns pgx.ErrNoRows (wrapped) if the benefit does not exist.
func (r *PostgresRepository) UpdateBenefit(ctx context.Context, benefit Benefit) (Benefit, error) {
	updated, err := scanBenefit(r.pool.QueryRow(ctx, `
		UPDATE benefits
		SET brand_id = $2,
		    title = $3,
		    description = $4,
		    redemption_method = $5,
		    promo_code = $6,
		    validity_type = $7,
		    validity_duration_days = $8,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+benefitColumns,
		benefit.ID,
		benefit.BrandID,
		benefit.Title,
		benefit.Description,
		benefit.RedemptionMethod,
		benefit.PromoCode,
		benefit.ValidityType,
		benefit.ValidityDurationDays,
	))
	if err != nil {
		return Benefit{}, fmt.Errorf("update benefit: %w", err)
	}
	return updated, nil
}

func (r *PostgresRepository) GetBenefit(ctx context.Context, id string) (Benefit, error) {
	benefit, err := scanBenefit(r.pool.QueryRow(ctx, `SELECT `+benefitColumns+` FROM benefits WHERE id = $1`, id))
	if err != nil {
		return Benefit{}, fmt.Errorf("get benefit: %w", err)
	}
	return benefit, nil
}

func (r *PostgresRepository) ListBenefits(ctx context.Context) ([]Benefit, error) {
	return r.queryBenefits(ctx, `SELECT `+benefitColumns+` FROM benefits ORDER BY brand_id, title`)
}

func (r *PostgresRepository) ListBenefitsByBrand(ctx context.Context, brandID string) ([]Benefit, error) {
	return r.queryBenefits(ctx, `SELECT `+benefitColumns+` FROM benefits WHERE brand_id = $1 ORDER BY title`, brandID)
}

func (r *PostgresRepository) queryBenefits(ctx context.Context, query string, args ...any) ([]Benefit, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list benefits: %w", err)
	}
	defer rows.Close()

	benefits := make([]Benefit, 0)
	for rows.Next() {
		benefit, err := scanBenefit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan benefit: %w", err)
		}
		benefits = append(benefits, benefit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list benefits rows: %w", err)
	}
	return benefits, nil
}

func (r *PostgresRepository) DeleteBenefit(ctx context.Context, id string) error {
	commandTag, err := r.pool.Exec(ctx, `DELETE FROM benefits WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete benefit: %w", err)
	}
	return requireAffected(commandTag, "delete benefit")
}
