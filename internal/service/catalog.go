package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matt-riley/yomu/internal/core"
	"github.com/matt-riley/yomu/internal/repository"
	"github.com/matt-riley/yomu/internal/tracing"
)

// BenefitInput is a benefit as submitted by a client. The embedded record is
// what the validator sees; ID is only honoured on update or when importing.
type BenefitInput struct {
	ID        string `json:"id,omitempty"`
	PromoCode string `json:"promo_code,omitempty"`
	core.BenefitRecord
}

// ValidateBenefit runs the validator without touching storage.
func (s *Service) ValidateBenefit(record core.BenefitRecord) core.Verdict {
	return core.Validate(record)
}

func (s *Service) CreateBrand(ctx context.Context, brand repository.Brand) (repository.Brand, error) {
	brand.Name = strings.TrimSpace(brand.Name)
	if brand.Name == "" {
		return repository.Brand{}, ErrBrandNameRequired
	}
	if strings.TrimSpace(brand.ID) == "" {
		brand.ID = uuid.NewString()
	}

	created, err := s.repo.CreateBrand(ctx, brand)
	if err != nil {
		return repository.Brand{}, fmt.Errorf("create brand: %w", err)
	}

	s.setCachedBrand(created)
	s.publishBrandEvent(ctx, EventTypeUpdated, created)

	return created, nil
}

func (s *Service) UpdateBrand(ctx context.Context, brand repository.Brand) (repository.Brand, error) {
	if strings.TrimSpace(brand.ID) == "" {
		return repository.Brand{}, ErrIDRequired
	}
	brand.Name = strings.TrimSpace(brand.Name)
	if brand.Name == "" {
		return repository.Brand{}, ErrBrandNameRequired
	}

	updated, err := s.repo.UpdateBrand(ctx, brand)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.deleteCachedBrand(brand.ID)
			return repository.Brand{}, ErrBrandNotFound
		}
		return repository.Brand{}, fmt.Errorf("update brand: %w", err)
	}

	s.setCachedBrand(updated)
	s.publishBrandEvent(ctx, EventTypeUpdated, updated)

	return updated, nil
}

func (s *Service) GetBrand(ctx context.Context, id string) (repository.Brand, error) {
	if strings.TrimSpace(id) == "" {
		return repository.Brand{}, ErrIDRequired
	}

	s.mu.RLock()
	brand, ok := s.brands[id]
	s.mu.RUnlock()
	if ok {
		return brand, nil
	}

	brand, err := s.repo.GetBrand(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Brand{}, ErrBrandNotFound
		}
		return repository.Brand{}, fmt.Errorf("get brand: %w", err)
	}

	s.setCachedBrand(brand)
	return brand, nil
}

func (s *Service) ListBrands(_ context.Context) ([]repository.Brand, error) {
	s.mu.RLock()
	brands := make([]repository.Brand, 0, len(s.brands))
	for _, brand := range s.brands {
		brands = append(brands, brand)
	}
	s.mu.RUnlock()

	sort.Slice(brands, func(i, j int) bool {
		return strings.ToLower(brands[i].Name) < strings.ToLower(brands[j].Name)
	})

	return brands, nil
}

// DeleteBrand removes the brand together with its benefits.
func (s *Service) DeleteBrand(ctx context.Context, id string) error {
	existing, err := s.GetBrand(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteBrand(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.deleteCachedBrand(id)
			return ErrBrandNotFound
		}
		return fmt.Errorf("delete brand: %w", err)
	}

	s.deleteCachedBrand(id)
	s.publishBrandEvent(ctx, EventTypeDeleted, existing)

	return nil
}

// CreateBenefit validates the input and stores it. A failing verdict is
// returned as *ValidationError and nothing is written.
func (s *Service) CreateBenefit(ctx context.Context, in BenefitInput) (repository.Benefit, error) {
	if err := checkBenefit(in); err != nil {
		return repository.Benefit{}, err
	}
	if _, err := s.GetBrand(ctx, in.BrandID); err != nil {
		return repository.Benefit{}, err
	}

	benefit := toRepositoryBenefit(in)
	if strings.TrimSpace(benefit.ID) == "" {
		benefit.ID = uuid.NewString()
	}

	created, err := s.repo.CreateBenefit(ctx, benefit)
	if err != nil {
		return repository.Benefit{}, fmt.Errorf("create benefit: %w", err)
	}

	s.setCachedBenefit(created)
	s.publishBenefitEvent(ctx, EventTypeUpdated, created)

	return created, nil
}

func (s *Service) UpdateBenefit(ctx context.Context, in BenefitInput) (repository.Benefit, error) {
	if strings.TrimSpace(in.ID) == "" {
		return repository.Benefit{}, ErrIDRequired
	}
	if err := checkBenefit(in); err != nil {
		return repository.Benefit{}, err
	}
	if _, err := s.GetBrand(ctx, in.BrandID); err != nil {
		return repository.Benefit{}, err
	}

	updated, err := s.repo.UpdateBenefit(ctx, toRepositoryBenefit(in))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.deleteCachedBenefit(in.ID)
			return repository.Benefit{}, ErrBenefitNotFound
		}
		return repository.Benefit{}, fmt.Errorf("update benefit: %w", err)
	}

	s.setCachedBenefit(updated)
	s.publishBenefitEvent(ctx, EventTypeUpdated, updated)

	return updated, nil
}

func (s *Service) GetBenefit(ctx context.Context, id string) (repository.Benefit, error) {
	if strings.TrimSpace(id) == "" {
		return repository.Benefit{}, ErrIDRequired
	}

	if benefit, ok := s.getCachedBenefit(id); ok {
		return benefit, nil
	}

	benefit, err := s.repo.GetBenefit(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Benefit{}, ErrBenefitNotFound
		}
		return repository.Benefit{}, fmt.Errorf("get benefit: %w", err)
	}

	s.setCachedBenefit(benefit)
	return benefit, nil
}

// ListBenefits returns cached benefits, restricted to one brand when brandID
// is not empty.
func (s *Service) ListBenefits(_ context.Context, brandID string) ([]repository.Benefit, error) {
	s.mu.RLock()
	benefits := make([]repository.Benefit, 0, len(s.benefits))
	for _, benefit := range s.benefits {
		if brandID != "" && benefit.BrandID != brandID {
			continue
		}
		benefits = append(benefits, benefit)
	}
	s.mu.RUnlock()

	sortBenefits(benefits)
	return benefits, nil
}

func (s *Service) DeleteBenefit(ctx context.Context, id string) error {
	existing, err := s.GetBenefit(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteBenefit(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.deleteCachedBenefit(id)
			return ErrBenefitNotFound
		}
		return fmt.Errorf("delete benefit: %w", err)
	}

	s.deleteCachedBenefit(id)
	s.publishBenefitEvent(ctx, EventTypeDeleted, existing)

	return nil
}

// EvaluateBenefits evaluates catalog benefits by id, or the whole catalog
// when ids is empty.
func (s *Service) EvaluateBenefits(ctx context.Context, ids []string, in core.EvaluationInput) ([]core.Evaluation, error) {
	ctx, span := tracing.Tracer().Start(ctx, "service.EvaluateBenefits",
		trace.WithAttributes(attribute.Int("yomu.benefit_ids", len(ids))))
	defer span.End()

	var benefits []repository.Benefit
	if len(ids) == 0 {
		all, err := s.ListBenefits(ctx, "")
		if err != nil {
			return nil, err
		}
		benefits = all
	} else {
		benefits = make([]repository.Benefit, 0, len(ids))
		for _, id := range ids {
			benefit, err := s.GetBenefit(ctx, id)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "benefit lookup failed")
				return nil, fmt.Errorf("benefit %q: %w", id, err)
			}
			benefits = append(benefits, benefit)
		}
	}

	evaluations := s.evaluator.EvaluateAll(toCoreBenefits(benefits), in)
	s.recordEvaluations(evaluations)
	span.SetAttributes(attribute.Int("yomu.evaluations", len(evaluations)))
	return evaluations, nil
}

// EvaluateValidity evaluates bare validity ids, without a catalog lookup.
func (s *Service) EvaluateValidity(validityTypes []string, in core.EvaluationInput) []core.Evaluation {
	benefits := make([]core.Benefit, 0, len(validityTypes))
	for _, validityType := range validityTypes {
		benefits = append(benefits, core.Benefit{ValidityType: validityType})
	}

	evaluations := s.evaluator.EvaluateAll(benefits, in)
	s.recordEvaluations(evaluations)
	return evaluations
}

func (s *Service) getCachedBenefit(id string) (repository.Benefit, bool) {
	s.mu.RLock()
	benefit, ok := s.benefits[id]
	s.mu.RUnlock()

	return benefit, ok
}

func (s *Service) setCachedBrand(brand repository.Brand) {
	s.mu.Lock()
	s.brands[brand.ID] = brand
	s.mu.Unlock()
}

func (s *Service) deleteCachedBrand(id string) {
	s.mu.Lock()
	delete(s.brands, id)
	for benefitID, benefit := range s.benefits {
		if benefit.BrandID == id {
			delete(s.benefits, benefitID)
		}
	}
	s.mu.Unlock()
}

func (s *Service) setCachedBenefit(benefit repository.Benefit) {
	s.mu.Lock()
	s.benefits[benefit.ID] = benefit
	s.mu.Unlock()
}

func (s *Service) deleteCachedBenefit(id string) {
	s.mu.Lock()
	delete(s.benefits, id)
	s.mu.Unlock()
}

func (s *Service) publishBrandEvent(ctx context.Context, eventType string, brand repository.Brand) {
	payload, err := json.Marshal(brand)
	if err != nil {
		s.logger.Warn("marshal brand event failed", "brand_id", brand.ID, "error", err)
		return
	}
	s.publishEventBestEffort(ctx, repository.EntityBrand, brand.ID, eventType, payload)
}

func (s *Service) publishBenefitEvent(ctx context.Context, eventType string, benefit repository.Benefit) {
	payload, err := json.Marshal(benefit)
	if err != nil {
		s.logger.Warn("marshal benefit event failed", "benefit_id", benefit.ID, "error", err)
		return
	}
	s.publishEventBestEffort(ctx, repository.EntityBenefit, benefit.ID, eventType, payload)
}

// checkBenefit runs the validator, then rejects numeric durations that the
// INTEGER column cannot hold.
func checkBenefit(in BenefitInput) error {
	if verdict := core.Validate(in.BenefitRecord); !verdict.IsValid {
		return &ValidationError{Errors: verdict.Errors}
	}
	if core.DurationOutOfRange(in.ValidityDurationDays) {
		return &ValidationError{Errors: []string{core.ErrDurationOutOfRange}}
	}
	return nil
}

// toRepositoryBenefit stores the canonical rule id so reads never need the
// alias table.
func toRepositoryBenefit(in BenefitInput) repository.Benefit {
	benefit := repository.Benefit{
		ID:               strings.TrimSpace(in.ID),
		BrandID:          in.BrandID,
		Title:            in.Title,
		Description:      in.Description,
		RedemptionMethod: in.RedemptionMethod,
		PromoCode:        in.PromoCode,
		ValidityType:     core.ResolveAlias(in.ValidityType),
	}
	if days, ok := core.DurationDays(in.ValidityDurationDays); ok {
		benefit.ValidityDurationDays = &days
	}
	return benefit
}

func toCoreBenefits(benefits []repository.Benefit) []core.Benefit {
	out := make([]core.Benefit, 0, len(benefits))
	for _, benefit := range benefits {
		out = append(out, core.Benefit{ID: benefit.ID, ValidityType: benefit.ValidityType})
	}
	return out
}
