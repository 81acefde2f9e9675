package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/matt-riley/yomu/internal/core"
	"github.com/matt-riley/yomu/internal/repository"
	"github.com/matt-riley/yomu/internal/tracing"
)

// DashboardItem is one benefit as shown on a user's dashboard.
type DashboardItem struct {
	Benefit    repository.Benefit `json:"benefit"`
	BrandName  string             `json:"brand_name"`
	Evaluation core.Evaluation    `json:"evaluation"`
	UsedAt     *time.Time         `json:"used_at,omitempty"`
}

// Dashboard partitions the benefits of a user's brands. Each benefit appears
// in exactly one section; a usage in the reference year wins over active and
// upcoming.
type Dashboard struct {
	UserID        string            `json:"user_id"`
	ReferenceDate core.CalendarDate `json:"reference_date"`
	Active        []DashboardItem   `json:"active"`
	Upcoming      []DashboardItem   `json:"upcoming"`
	Used          []DashboardItem   `json:"used"`
	Other         []DashboardItem   `json:"other"`
}

func (s *Service) UpsertUser(ctx context.Context, user repository.User) (repository.User, error) {
	user.ID = strings.TrimSpace(user.ID)
	if user.ID == "" {
		return repository.User{}, ErrIDRequired
	}

	saved, err := s.repo.UpsertUser(ctx, user)
	if err != nil {
		return repository.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return saved, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (repository.User, error) {
	if strings.TrimSpace(id) == "" {
		return repository.User{}, ErrIDRequired
	}

	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.User{}, ErrUserNotFound
		}
		return repository.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// SetBirthDate stores the birth date, or clears it when birthDate is nil.
func (s *Service) SetBirthDate(ctx context.Context, userID string, birthDate *core.CalendarDate) error {
	if err := s.repo.SetUserBirthDate(ctx, userID, birthDate); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("set birth date: %w", err)
	}
	return nil
}

func (s *Service) AddMembership(ctx context.Context, userID, brandID string) error {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return err
	}
	if _, err := s.GetBrand(ctx, brandID); err != nil {
		return err
	}

	if err := s.repo.AddMembership(ctx, userID, brandID); err != nil {
		return fmt.Errorf("add membership: %w", err)
	}
	return nil
}

func (s *Service) RemoveMembership(ctx context.Context, userID, brandID string) error {
	if err := s.repo.RemoveMembership(ctx, userID, brandID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrMembershipNotFound
		}
		return fmt.Errorf("remove membership: %w", err)
	}
	return nil
}

// MarkUsed records that the user redeemed the benefit now.
func (s *Service) MarkUsed(ctx context.Context, userID, benefitID string) (repository.BenefitUsage, error) {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return repository.BenefitUsage{}, err
	}
	if _, err := s.GetBenefit(ctx, benefitID); err != nil {
		return repository.BenefitUsage{}, err
	}

	usage, err := s.repo.RecordUsage(ctx, repository.BenefitUsage{
		UserID:    userID,
		BenefitID: benefitID,
		UsedAt:    s.clock.Now().UTC(),
	})
	if err != nil {
		return repository.BenefitUsage{}, fmt.Errorf("mark used: %w", err)
	}
	return usage, nil
}

// MemberBenefits returns the user and every cached benefit of the brands the
// user belongs to, without evaluating them.
func (s *Service) MemberBenefits(ctx context.Context, userID string) (repository.User, []DashboardItem, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return repository.User{}, nil, err
	}

	memberships, err := s.repo.ListMemberships(ctx, userID)
	if err != nil {
		return repository.User{}, nil, fmt.Errorf("list memberships: %w", err)
	}
	member := make(map[string]bool, len(memberships))
	for _, membership := range memberships {
		member[membership.BrandID] = true
	}

	s.mu.RLock()
	benefits := make([]repository.Benefit, 0)
	for _, benefit := range s.benefits {
		if member[benefit.BrandID] {
			benefits = append(benefits, benefit)
		}
	}
	brandNames := make(map[string]string, len(member))
	for brandID := range member {
		brandNames[brandID] = s.brands[brandID].Name
	}
	s.mu.RUnlock()

	sortBenefits(benefits)

	items := make([]DashboardItem, 0, len(benefits))
	for _, benefit := range benefits {
		items = append(items, DashboardItem{
			Benefit:   benefit,
			BrandName: brandNames[benefit.BrandID],
		})
	}
	return user, items, nil
}

// UserBenefits builds the user's dashboard for ref, or for today when ref is
// nil.
func (s *Service) UserBenefits(ctx context.Context, userID string, ref *core.CalendarDate) (Dashboard, error) {
	ctx, span := tracing.Tracer().Start(ctx, "service.UserBenefits")
	defer span.End()

	user, items, err := s.MemberBenefits(ctx, userID)
	if err != nil {
		return Dashboard{}, err
	}

	reference := s.evaluator.Today()
	if ref != nil {
		reference = *ref
	}

	yearStart := time.Date(reference.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
	usages, err := s.repo.ListUsages(ctx, userID, yearStart)
	if err != nil {
		return Dashboard{}, fmt.Errorf("list usages: %w", err)
	}
	usedAt := make(map[string]time.Time, len(usages))
	for _, usage := range usages {
		if usage.UsedAt.UTC().Year() != reference.Year {
			continue
		}
		if last, ok := usedAt[usage.BenefitID]; !ok || usage.UsedAt.After(last) {
			usedAt[usage.BenefitID] = usage.UsedAt
		}
	}

	dashboard := Dashboard{
		UserID:        user.ID,
		ReferenceDate: reference,
		Active:        []DashboardItem{},
		Upcoming:      []DashboardItem{},
		Used:          []DashboardItem{},
		Other:         []DashboardItem{},
	}

	input := core.EvaluationInput{BirthDate: user.BirthDate, ReferenceDate: &reference}
	evaluations := make([]core.Evaluation, 0, len(items))
	for _, item := range items {
		item.Evaluation = s.evaluator.Evaluate(core.Benefit{ID: item.Benefit.ID, ValidityType: item.Benefit.ValidityType}, input)
		evaluations = append(evaluations, item.Evaluation)

		if when, ok := usedAt[item.Benefit.ID]; ok {
			item.UsedAt = &when
			dashboard.Used = append(dashboard.Used, item)
			continue
		}
		switch {
		case item.Evaluation.Active:
			dashboard.Active = append(dashboard.Active, item)
		case item.Evaluation.Upcoming:
			dashboard.Upcoming = append(dashboard.Upcoming, item)
		default:
			dashboard.Other = append(dashboard.Other, item)
		}
	}
	s.recordEvaluations(evaluations)
	span.SetAttributes(
		attribute.Int("yomu.dashboard.active", len(dashboard.Active)),
		attribute.Int("yomu.dashboard.upcoming", len(dashboard.Upcoming)),
		attribute.Int("yomu.dashboard.used", len(dashboard.Used)),
		attribute.Bool("yomu.dashboard.has_birth_date", user.BirthDate != nil),
	)

	return dashboard, nil
}
