package admin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/matt-riley/yomu/internal/core"
	"github.com/matt-riley/yomu/internal/repository"
	"github.com/matt-riley/yomu/internal/service"
)

var errNotFound = errors.New("not found")

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]repository.AdminSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]repository.AdminSession)}
}

func (f *fakeSessionStore) CreateAdminSession(_ context.Context, session repository.AdminSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[session.IDHash] = session
	return nil
}

func (f *fakeSessionStore) GetAdminSession(_ context.Context, idHash string) (repository.AdminSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[idHash]
	if !ok {
		return repository.AdminSession{}, errNotFound
	}
	return session, nil
}

func (f *fakeSessionStore) DeleteAdminSession(_ context.Context, idHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, idHash)
	return nil
}

type fakeStore struct {
	mu         sync.Mutex
	users      map[string]repository.AdminUser
	apiKeys    []repository.APIKeyMeta
	audit      []repository.AuditLogEntry
	auditPage  func(limit, offset int) []repository.AuditLogEntry
	nextKeyNum int
}

func newFakeStore(users ...repository.AdminUser) *fakeStore {
	store := &fakeStore{users: make(map[string]repository.AdminUser)}
	for _, user := range users {
		store.users[user.ID] = user
	}
	return store
}

func (f *fakeStore) HasAdminUsers(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users) > 0, nil
}

func (f *fakeStore) CreateAdminUser(_ context.Context, username, passwordHash, role string) (repository.AdminUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := repository.AdminUser{
		ID:           fmt.Sprintf("admin-%d", len(f.users)+1),
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
	}
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeStore) GetAdminUserByUsername(_ context.Context, username string) (repository.AdminUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Username == username {
			return user, nil
		}
	}
	return repository.AdminUser{}, errNotFound
}

func (f *fakeStore) GetAdminUserByID(_ context.Context, id string) (repository.AdminUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return repository.AdminUser{}, errNotFound
	}
	return user, nil
}

func (f *fakeStore) CreateAPIKey(_ context.Context, name string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextKeyNum++
	keyID := fmt.Sprintf("key-%d", f.nextKeyNum)
	f.apiKeys = append(f.apiKeys, repository.APIKeyMeta{ID: keyID, Name: name})
	return keyID, "secret-" + keyID, nil
}

func (f *fakeStore) ListAPIKeys(context.Context) ([]repository.APIKeyMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]repository.APIKeyMeta(nil), f.apiKeys...), nil
}

func (f *fakeStore) DeleteAPIKey(_ context.Context, keyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, key := range f.apiKeys {
		if key.ID == keyID {
			f.apiKeys = append(f.apiKeys[:i], f.apiKeys[i+1:]...)
			return nil
		}
	}
	return errNotFound
}

func (f *fakeStore) InsertAuditLog(_ context.Context, entry repository.AuditLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audit = append(f.audit, entry)
	return nil
}

func (f *fakeStore) ListAuditLog(_ context.Context, limit, offset int) ([]repository.AuditLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.auditPage != nil {
		return f.auditPage(limit, offset), nil
	}
	return append([]repository.AuditLogEntry(nil), f.audit...), nil
}

func (f *fakeStore) auditActions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	actions := make([]string, 0, len(f.audit))
	for _, entry := range f.audit {
		actions = append(actions, entry.Action)
	}
	return actions
}

// checkFakeBenefit applies the same checks as service.Service before a write.
func checkFakeBenefit(in service.BenefitInput) error {
	if verdict := core.Validate(in.BenefitRecord); !verdict.IsValid {
		return &service.ValidationError{Errors: verdict.Errors}
	}
	if core.DurationOutOfRange(in.ValidityDurationDays) {
		return &service.ValidationError{Errors: []string{core.ErrDurationOutOfRange}}
	}
	return nil
}

// fakeCatalog keeps brands and benefits in memory and validates benefits
// with the real validator.
type fakeCatalog struct {
	mu       sync.Mutex
	brands   map[string]repository.Brand
	benefits map[string]repository.Benefit
	inputs   []service.BenefitInput
	nextID   int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		brands:   make(map[string]repository.Brand),
		benefits: make(map[string]repository.Benefit),
	}
}

func (f *fakeCatalog) CreateBrand(_ context.Context, brand repository.Brand) (repository.Brand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if brand.Name == "" {
		return repository.Brand{}, service.ErrBrandNameRequired
	}
	f.nextID++
	brand.ID = fmt.Sprintf("brand-%d", f.nextID)
	f.brands[brand.ID] = brand
	return brand, nil
}

func (f *fakeCatalog) UpdateBrand(_ context.Context, brand repository.Brand) (repository.Brand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.brands[brand.ID]; !ok {
		return repository.Brand{}, service.ErrBrandNotFound
	}
	if brand.Name == "" {
		return repository.Brand{}, service.ErrBrandNameRequired
	}
	f.brands[brand.ID] = brand
	return brand, nil
}

func (f *fakeCatalog) GetBrand(_ context.Context, id string) (repository.Brand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	brand, ok := f.brands[id]
	if !ok {
		return repository.Brand{}, service.ErrBrandNotFound
	}
	return brand, nil
}

func (f *fakeCatalog) ListBrands(context.Context) ([]repository.Brand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	brands := make([]repository.Brand, 0, len(f.brands))
	for _, brand := range f.brands {
		brands = append(brands, brand)
	}
	return brands, nil
}

func (f *fakeCatalog) DeleteBrand(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.brands[id]; !ok {
		return service.ErrBrandNotFound
	}
	delete(f.brands, id)
	return nil
}

func (f *fakeCatalog) CreateBenefit(_ context.Context, in service.BenefitInput) (repository.Benefit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if err := checkFakeBenefit(in); err != nil {
		return repository.Benefit{}, err
	}
	if _, ok := f.brands[in.BrandID]; !ok {
		return repository.Benefit{}, service.ErrBrandNotFound
	}
	f.nextID++
	benefit := repository.Benefit{
		ID:               fmt.Sprintf("benefit-%d", f.nextID),
		BrandID:          in.BrandID,
		Title:            in.Title,
		Description:      in.Description,
		RedemptionMethod: in.RedemptionMethod,
		PromoCode:        in.PromoCode,
		ValidityType:     core.ResolveAlias(in.ValidityType),
	}
	f.benefits[benefit.ID] = benefit
	return benefit, nil
}

func (f *fakeCatalog) UpdateBenefit(_ context.Context, in service.BenefitInput) (repository.Benefit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if err := checkFakeBenefit(in); err != nil {
		return repository.Benefit{}, err
	}
	existing, ok := f.benefits[in.ID]
	if !ok {
		return repository.Benefit{}, service.ErrBenefitNotFound
	}
	existing.Title = in.Title
	existing.Description = in.Description
	existing.RedemptionMethod = in.RedemptionMethod
	existing.PromoCode = in.PromoCode
	existing.ValidityType = core.ResolveAlias(in.ValidityType)
	f.benefits[in.ID] = existing
	return existing, nil
}

func (f *fakeCatalog) GetBenefit(_ context.Context, id string) (repository.Benefit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	benefit, ok := f.benefits[id]
	if !ok {
		return repository.Benefit{}, service.ErrBenefitNotFound
	}
	return benefit, nil
}

func (f *fakeCatalog) ListBenefits(_ context.Context, brandID string) ([]repository.Benefit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	benefits := make([]repository.Benefit, 0)
	for _, benefit := range f.benefits {
		if brandID == "" || benefit.BrandID == brandID {
			benefits = append(benefits, benefit)
		}
	}
	return benefits, nil
}

func (f *fakeCatalog) DeleteBenefit(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.benefits[id]; !ok {
		return service.ErrBenefitNotFound
	}
	delete(f.benefits, id)
	return nil
}

func (f *fakeCatalog) lastInput() service.BenefitInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inputs) == 0 {
		return service.BenefitInput{}
	}
	return f.inputs[len(f.inputs)-1]
}

var (
	_ Store        = (*fakeStore)(nil)
	_ Catalog      = (*fakeCatalog)(nil)
	_ SessionStore = (*fakeSessionStore)(nil)
)
