package service

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/matt-riley/yomu/internal/core"
	"github.com/matt-riley/yomu/internal/repository"
)

type fakeServiceRepository struct {
	mu          sync.RWMutex
	brands      map[string]repository.Brand
	benefits    map[string]repository.Benefit
	users       map[string]repository.User
	memberships map[string]map[string]bool
	usages      []repository.BenefitUsage
	events      []repository.CatalogEvent
	audit       []repository.AuditLogEntry
	nextEventID int64
	publishErr  error
	writes      int

	requirePublishActiveContext bool
	publishCtxErr               error
	publishCtxHasDeadline       bool
}

func newFakeServiceRepository() *fakeServiceRepository {
	return &fakeServiceRepository{
		brands:      make(map[string]repository.Brand),
		benefits:    make(map[string]repository.Benefit),
		users:       make(map[string]repository.User),
		memberships: make(map[string]map[string]bool),
	}
}

func (f *fakeServiceRepository) CreateBrand(_ context.Context, brand repository.Brand) (repository.Brand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	f.brands[brand.ID] = brand
	return brand, nil
}

func (f *fakeServiceRepository) UpdateBrand(_ context.Context, brand repository.Brand) (repository.Brand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.brands[brand.ID]; !ok {
		return repository.Brand{}, pgx.ErrNoRows
	}
	f.writes++
	f.brands[brand.ID] = brand
	return brand, nil
}

func (f *fakeServiceRepository) GetBrand(_ context.Context, id string) (repository.Brand, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	brand, ok := f.brands[id]
	if !ok {
		return repository.Brand{}, pgx.ErrNoRows
	}
	return brand, nil
}

func (f *fakeServiceRepository) ListBrands(_ context.Context) ([]repository.Brand, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	brands := make([]repository.Brand, 0, len(f.brands))
	for _, brand := range f.brands {
		brands = append(brands, brand)
	}
	return brands, nil
}

func (f *fakeServiceRepository) DeleteBrand(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.brands[id]; !ok {
		return pgx.ErrNoRows
	}
	f.writes++
	delete(f.brands, id)
	for benefitID, benefit := range f.benefits {
		if benefit.BrandID == id {
			delete(f.benefits, benefitID)
		}
	}
	return nil
}

func (f *fakeServiceRepository) CreateBenefit(_ context.Context, benefit repository.Benefit) (repository.Benefit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	f.benefits[benefit.ID] = benefit
	return benefit, nil
}

func (f *fakeServiceRepository) UpdateBenefit(_ context.Context, benefit repository.Benefit) (repository.Benefit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.benefits[benefit.ID]; !ok {
		return repository.Benefit{}, pgx.ErrNoRows
	}
	f.writes++
	f.benefits[benefit.ID] = benefit
	return benefit, nil
}

func (f *fakeServiceRepository) GetBenefit(_ context.Context, id string) (repository.Benefit, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	benefit, ok := f.benefits[id]
	if !ok {
		return repository.Benefit{}, pgx.ErrNoRows
	}
	return benefit, nil
}

func (f *fakeServiceRepository) ListBenefits(_ context.Context) ([]repository.Benefit, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	benefits := make([]repository.Benefit, 0, len(f.benefits))
	for _, benefit := range f.benefits {
		benefits = append(benefits, benefit)
	}
	return benefits, nil
}

func (f *fakeServiceRepository) DeleteBenefit(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.benefits[id]; !ok {
		return pgx.ErrNoRows
	}
	f.writes++
	delete(f.benefits, id)
	return nil
}

func (f *fakeServiceRepository) ListEventsSince(_ context.Context, eventID int64) ([]repository.CatalogEvent, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	events := make([]repository.CatalogEvent, 0, len(f.events))
	for _, event := range f.events {
		if event.EventID > eventID {
			events = append(events, event)
		}
	}
	return events, nil
}

func (f *fakeServiceRepository) PublishCatalogEvent(ctx context.Context, event repository.CatalogEvent) (repository.CatalogEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.publishCtxErr = ctx.Err()
	_, f.publishCtxHasDeadline = ctx.Deadline()

	if f.requirePublishActiveContext && f.publishCtxErr != nil {
		return repository.CatalogEvent{}, f.publishCtxErr
	}

	if f.publishErr != nil {
		return repository.CatalogEvent{}, f.publishErr
	}

	f.nextEventID++
	event.EventID = f.nextEventID
	f.events = append(f.events, event)
	return event, nil
}

func (f *fakeServiceRepository) UpsertUser(_ context.Context, user repository.User) (repository.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeServiceRepository) GetUser(_ context.Context, id string) (repository.User, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	user, ok := f.users[id]
	if !ok {
		return repository.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (f *fakeServiceRepository) SetUserBirthDate(_ context.Context, id string, birthDate *core.CalendarDate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.BirthDate = birthDate
	f.users[id] = user
	return nil
}

func (f *fakeServiceRepository) AddMembership(_ context.Context, userID, brandID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.memberships[userID] == nil {
		f.memberships[userID] = make(map[string]bool)
	}
	f.memberships[userID][brandID] = true
	return nil
}

func (f *fakeServiceRepository) RemoveMembership(_ context.Context, userID, brandID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.memberships[userID][brandID] {
		return pgx.ErrNoRows
	}
	delete(f.memberships[userID], brandID)
	return nil
}

func (f *fakeServiceRepository) ListMemberships(_ context.Context, userID string) ([]repository.Membership, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	memberships := make([]repository.Membership, 0)
	for brandID := range f.memberships[userID] {
		memberships = append(memberships, repository.Membership{UserID: userID, BrandID: brandID})
	}
	return memberships, nil
}

func (f *fakeServiceRepository) RecordUsage(_ context.Context, usage repository.BenefitUsage) (repository.BenefitUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	usage.ID = int64(len(f.usages) + 1)
	f.usages = append(f.usages, usage)
	return usage, nil
}

func (f *fakeServiceRepository) ListUsages(_ context.Context, userID string, since time.Time) ([]repository.BenefitUsage, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	usages := make([]repository.BenefitUsage, 0)
	for _, usage := range f.usages {
		if usage.UserID == userID && !usage.UsedAt.Before(since) {
			usages = append(usages, usage)
		}
	}
	return usages, nil
}

func (f *fakeServiceRepository) InsertAuditLog(_ context.Context, entry repository.AuditLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audit = append(f.audit, entry)
	return nil
}

func (f *fakeServiceRepository) ListAuditLog(_ context.Context, limit, offset int) ([]repository.AuditLogEntry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if offset >= len(f.audit) {
		return nil, nil
	}
	end := min(offset+limit, len(f.audit))
	return append([]repository.AuditLogEntry(nil), f.audit[offset:end]...), nil
}

func (f *fakeServiceRepository) setBrand(brand repository.Brand) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.brands[brand.ID] = brand
}

func (f *fakeServiceRepository) setBenefit(benefit repository.Benefit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.benefits[benefit.ID] = benefit
}

func (f *fakeServiceRepository) removeBenefit(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.benefits, id)
}

func (f *fakeServiceRepository) writeCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.writes
}

type notifyingFakeServiceRepository struct {
	*fakeServiceRepository
	invalidations chan struct{}
}

func newNotifyingFakeServiceRepository() *notifyingFakeServiceRepository {
	return &notifyingFakeServiceRepository{
		fakeServiceRepository: newFakeServiceRepository(),
		invalidations:         make(chan struct{}, 1),
	}
}

func (f *notifyingFakeServiceRepository) SubscribeCatalogInvalidation(_ context.Context) (<-chan struct{}, error) {
	return f.invalidations, nil
}

func (f *notifyingFakeServiceRepository) notifyInvalidation() {
	select {
	case f.invalidations <- struct{}{}:
	default:
	}
}

type resubscribingFakeServiceRepository struct {
	*fakeServiceRepository
	invalidationMu sync.Mutex
	invalidations  chan struct{}
	subscriptions  int
}

func newResubscribingFakeServiceRepository() *resubscribingFakeServiceRepository {
	return &resubscribingFakeServiceRepository{
		fakeServiceRepository: newFakeServiceRepository(),
		invalidations:         make(chan struct{}, 1),
	}
}

func (f *resubscribingFakeServiceRepository) SubscribeCatalogInvalidation(_ context.Context) (<-chan struct{}, error) {
	f.invalidationMu.Lock()
	defer f.invalidationMu.Unlock()

	if f.invalidations == nil {
		f.invalidations = make(chan struct{}, 1)
	}
	f.subscriptions++
	return f.invalidations, nil
}

func (f *resubscribingFakeServiceRepository) closeInvalidationChannel() {
	f.invalidationMu.Lock()
	ch := f.invalidations
	f.invalidations = nil
	f.invalidationMu.Unlock()

	if ch != nil {
		close(ch)
	}
}

func (f *resubscribingFakeServiceRepository) notifyInvalidation() {
	f.invalidationMu.Lock()
	ch := f.invalidations
	f.invalidationMu.Unlock()
	if ch == nil {
		return
	}

	select {
	case ch <- struct{}{}:
	default:
	}
}

func (f *resubscribingFakeServiceRepository) subscriptionCalls() int {
	f.invalidationMu.Lock()
	defer f.invalidationMu.Unlock()
	return f.subscriptions
}
