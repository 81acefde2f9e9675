package server

import (
	"context"

	"github.com/matt-riley/yomu/internal/core"
	"github.com/matt-riley/yomu/internal/repository"
	"github.com/matt-riley/yomu/internal/service"
)

// Service is the part of [service.Service] the transports depend on.
type Service interface {
	CreateBrand(ctx context.Context, brand repository.Brand) (repository.Brand, error)
	UpdateBrand(ctx context.Context, brand repository.Brand) (repository.Brand, error)
	GetBrand(ctx context.Context, id string) (repository.Brand, error)
	ListBrands(ctx context.Context) ([]repository.Brand, error)
	DeleteBrand(ctx context.Context, id string) error

	CreateBenefit(ctx context.Context, in service.BenefitInput) (repository.Benefit, error)
	UpdateBenefit(ctx context.Context, in service.BenefitInput) (repository.Benefit, error)
	GetBenefit(ctx context.Context, id string) (repository.Benefit, error)
	ListBenefits(ctx context.Context, brandID string) ([]repository.Benefit, error)
	DeleteBenefit(ctx context.Context, id string) error
	ValidateBenefit(record core.BenefitRecord) core.Verdict

	Evaluator() *core.Evaluator
	EvaluateBenefits(ctx context.Context, ids []string, in core.EvaluationInput) ([]core.Evaluation, error)
	EvaluateValidity(validityTypes []string, in core.EvaluationInput) []core.Evaluation

	UpsertUser(ctx context.Context, user repository.User) (repository.User, error)
	GetUser(ctx context.Context, id string) (repository.User, error)
	SetBirthDate(ctx context.Context, userID string, birthDate *core.CalendarDate) error
	AddMembership(ctx context.Context, userID, brandID string) error
	RemoveMembership(ctx context.Context, userID, brandID string) error
	MarkUsed(ctx context.Context, userID, benefitID string) (repository.BenefitUsage, error)
	MemberBenefits(ctx context.Context, userID string) (repository.User, []service.DashboardItem, error)
	UserBenefits(ctx context.Context, userID string, ref *core.CalendarDate) (service.Dashboard, error)

	ListEventsSince(ctx context.Context, eventID int64) ([]repository.CatalogEvent, error)
	RecordAudit(ctx context.Context, entry repository.AuditLogEntry)
	ListAuditLog(ctx context.Context, limit, offset int) ([]repository.AuditLogEntry, error)
}

var _ Service = (*service.Service)(nil)
