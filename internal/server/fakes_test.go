package server

import (
	"context"
	"sync"
	"time"

	"github.com/matt-riley/yomu/internal/core"
	"github.com/matt-riley/yomu/internal/repository"
	"github.com/matt-riley/yomu/internal/service"
)

var fixedToday = time.Date(2026, time.May, 10, 12, 0, 0, 0, time.UTC)

type fakeService struct {
	createBrandFunc      func(ctx context.Context, brand repository.Brand) (repository.Brand, error)
	updateBrandFunc      func(ctx context.Context, brand repository.Brand) (repository.Brand, error)
	getBrandFunc         func(ctx context.Context, id string) (repository.Brand, error)
	listBrandsFunc       func(ctx context.Context) ([]repository.Brand, error)
	deleteBrandFunc      func(ctx context.Context, id string) error
	createBenefitFunc    func(ctx context.Context, in service.BenefitInput) (repository.Benefit, error)
	updateBenefitFunc    func(ctx context.Context, in service.BenefitInput) (repository.Benefit, error)
	getBenefitFunc       func(ctx context.Context, id string) (repository.Benefit, error)
	listBenefitsFunc     func(ctx context.Context, brandID string) ([]repository.Benefit, error)
	deleteBenefitFunc    func(ctx context.Context, id string) error
	evaluateBenefitsFunc func(ctx context.Context, ids []string, in core.EvaluationInput) ([]core.Evaluation, error)
	upsertUserFunc       func(ctx context.Context, user repository.User) (repository.User, error)
	getUserFunc          func(ctx context.Context, id string) (repository.User, error)
	setBirthDateFunc     func(ctx context.Context, userID string, birthDate *core.CalendarDate) error
	addMembershipFunc    func(ctx context.Context, userID, brandID string) error
	removeMembershipFunc func(ctx context.Context, userID, brandID string) error
	markUsedFunc         func(ctx context.Context, userID, benefitID string) (repository.BenefitUsage, error)
	memberBenefitsFunc   func(ctx context.Context, userID string) (repository.User, []service.DashboardItem, error)
	userBenefitsFunc     func(ctx context.Context, userID string, ref *core.CalendarDate) (service.Dashboard, error)
	listEventsSinceFunc  func(ctx context.Context, eventID int64) ([]repository.CatalogEvent, error)
	listAuditLogFunc     func(ctx context.Context, limit, offset int) ([]repository.AuditLogEntry, error)

	mu      sync.Mutex
	audited []repository.AuditLogEntry
}

func (f *fakeService) CreateBrand(ctx context.Context, brand repository.Brand) (repository.Brand, error) {
	if f.createBrandFunc == nil {
		return brand, nil
	}
	return f.createBrandFunc(ctx, brand)
}

func (f *fakeService) UpdateBrand(ctx context.Context, brand repository.Brand) (repository.Brand, error) {
	if f.updateBrandFunc == nil {
		return brand, nil
	}
	return f.updateBrandFunc(ctx, brand)
}

func (f *fakeService) GetBrand(ctx context.Context, id string) (repository.Brand, error) {
	if f.getBrandFunc == nil {
		return repository.Brand{}, service.ErrBrandNotFound
	}
	return f.getBrandFunc(ctx, id)
}

func (f *fakeService) ListBrands(ctx context.Context) ([]repository.Brand, error) {
	if f.listBrandsFunc == nil {
		return nil, nil
	}
	return f.listBrandsFunc(ctx)
}

func (f *fakeService) DeleteBrand(ctx context.Context, id string) error {
	if f.deleteBrandFunc == nil {
		return nil
	}
	return f.deleteBrandFunc(ctx, id)
}

func (f *fakeService) CreateBenefit(ctx context.Context, in service.BenefitInput) (repository.Benefit, error) {
	if f.createBenefitFunc == nil {
		return repository.Benefit{}, nil
	}
	return f.createBenefitFunc(ctx, in)
}

func (f *fakeService) UpdateBenefit(ctx context.Context, in service.BenefitInput) (repository.Benefit, error) {
	if f.updateBenefitFunc == nil {
		return repository.Benefit{}, nil
	}
	return f.updateBenefitFunc(ctx, in)
}

func (f *fakeService) GetBenefit(ctx context.Context, id string) (repository.Benefit, error) {
	if f.getBenefitFunc == nil {
		return repository.Benefit{}, service.ErrBenefitNotFound
	}
	return f.getBenefitFunc(ctx, id)
}

func (f *fakeService) ListBenefits(ctx context.Context, brandID string) ([]repository.Benefit, error) {
	if f.listBenefitsFunc == nil {
		return nil, nil
	}
	return f.listBenefitsFunc(ctx, brandID)
}

func (f *fakeService) DeleteBenefit(ctx context.Context, id string) error {
	if f.deleteBenefitFunc == nil {
		return nil
	}
	return f.deleteBenefitFunc(ctx, id)
}

func (f *fakeService) ValidateBenefit(record core.BenefitRecord) core.Verdict {
	return core.Validate(record)
}

func (f *fakeService) Evaluator() *core.Evaluator {
	return core.NewEvaluator(core.WithClock(core.FixedClock(fixedToday)))
}

func (f *fakeService) EvaluateBenefits(ctx context.Context, ids []string, in core.EvaluationInput) ([]core.Evaluation, error) {
	if f.evaluateBenefitsFunc == nil {
		return nil, nil
	}
	return f.evaluateBenefitsFunc(ctx, ids, in)
}

func (f *fakeService) EvaluateValidity(validityTypes []string, in core.EvaluationInput) []core.Evaluation {
	benefits := make([]core.Benefit, 0, len(validityTypes))
	for _, validityType := range validityTypes {
		benefits = append(benefits, core.Benefit{ValidityType: validityType})
	}
	return f.Evaluator().EvaluateAll(benefits, in)
}

func (f *fakeService) UpsertUser(ctx context.Context, user repository.User) (repository.User, error) {
	if f.upsertUserFunc == nil {
		return user, nil
	}
	return f.upsertUserFunc(ctx, user)
}

func (f *fakeService) GetUser(ctx context.Context, id string) (repository.User, error) {
	if f.getUserFunc == nil {
		return repository.User{}, service.ErrUserNotFound
	}
	return f.getUserFunc(ctx, id)
}

func (f *fakeService) SetBirthDate(ctx context.Context, userID string, birthDate *core.CalendarDate) error {
	if f.setBirthDateFunc == nil {
		return nil
	}
	return f.setBirthDateFunc(ctx, userID, birthDate)
}

func (f *fakeService) AddMembership(ctx context.Context, userID, brandID string) error {
	if f.addMembershipFunc == nil {
		return nil
	}
	return f.addMembershipFunc(ctx, userID, brandID)
}

func (f *fakeService) RemoveMembership(ctx context.Context, userID, brandID string) error {
	if f.removeMembershipFunc == nil {
		return nil
	}
	return f.removeMembershipFunc(ctx, userID, brandID)
}

func (f *fakeService) MarkUsed(ctx context.Context, userID, benefitID string) (repository.BenefitUsage, error) {
	if f.markUsedFunc == nil {
		return repository.BenefitUsage{UserID: userID, BenefitID: benefitID}, nil
	}
	return f.markUsedFunc(ctx, userID, benefitID)
}

func (f *fakeService) MemberBenefits(ctx context.Context, userID string) (repository.User, []service.DashboardItem, error) {
	if f.memberBenefitsFunc == nil {
		return repository.User{}, nil, service.ErrUserNotFound
	}
	return f.memberBenefitsFunc(ctx, userID)
}

func (f *fakeService) UserBenefits(ctx context.Context, userID string, ref *core.CalendarDate) (service.Dashboard, error) {
	if f.userBenefitsFunc == nil {
		return service.Dashboard{}, service.ErrUserNotFound
	}
	return f.userBenefitsFunc(ctx, userID, ref)
}

func (f *fakeService) ListEventsSince(ctx context.Context, eventID int64) ([]repository.CatalogEvent, error) {
	if f.listEventsSinceFunc == nil {
		return nil, nil
	}
	return f.listEventsSinceFunc(ctx, eventID)
}

func (f *fakeService) RecordAudit(_ context.Context, entry repository.AuditLogEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audited = append(f.audited, entry)
}

func (f *fakeService) ListAuditLog(ctx context.Context, limit, offset int) ([]repository.AuditLogEntry, error) {
	if f.listAuditLogFunc == nil {
		return nil, nil
	}
	return f.listAuditLogFunc(ctx, limit, offset)
}

func (f *fakeService) auditEntries() []repository.AuditLogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]repository.AuditLogEntry(nil), f.audited...)
}

var _ Service = (*fakeService)(nil)
