// Package service holds the benefit catalog in memory and answers which of a
// user's benefits can be redeemed on a given day.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/matt-riley/yomu/internal/core"
	"github.com/matt-riley/yomu/internal/logging"
	"github.com/matt-riley/yomu/internal/repository"
)

const (
	EventTypeUpdated           = "updated"
	EventTypeDeleted           = "deleted"
	bestEffortTimeout          = 2 * time.Second
	defaultCacheResyncInterval = time.Minute
	cacheReloadTimeout         = 5 * time.Second
)

var (
	ErrBrandNotFound      = errors.New("brand not found")
	ErrBenefitNotFound    = errors.New("benefit not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrInvalidBenefit     = errors.New("invalid benefit")
	ErrBrandNameRequired  = errors.New("brand name is required")
	ErrIDRequired         = errors.New("id is required")
)

// ValidationError carries the validator's messages for a rejected benefit.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %d problem(s)", ErrInvalidBenefit, len(e.Errors))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidBenefit
}

type CatalogRepository interface {
	CreateBrand(ctx context.Context, brand repository.Brand) (repository.Brand, error)
	UpdateBrand(ctx context.Context, brand repository.Brand) (repository.Brand, error)
	GetBrand(ctx context.Context, id string) (repository.Brand, error)
	ListBrands(ctx context.Context) ([]repository.Brand, error)
	DeleteBrand(ctx context.Context, id string) error
	CreateBenefit(ctx context.Context, benefit repository.Benefit) (repository.Benefit, error)
	UpdateBenefit(ctx context.Context, benefit repository.Benefit) (repository.Benefit, error)
	GetBenefit(ctx context.Context, id string) (repository.Benefit, error)
	ListBenefits(ctx context.Context) ([]repository.Benefit, error)
	DeleteBenefit(ctx context.Context, id string) error
	ListEventsSince(ctx context.Context, eventID int64) ([]repository.CatalogEvent, error)
	PublishCatalogEvent(ctx context.Context, event repository.CatalogEvent) (repository.CatalogEvent, error)
}

type UserRepository interface {
	UpsertUser(ctx context.Context, user repository.User) (repository.User, error)
	GetUser(ctx context.Context, id string) (repository.User, error)
	SetUserBirthDate(ctx context.Context, id string, birthDate *core.CalendarDate) error
	AddMembership(ctx context.Context, userID, brandID string) error
	RemoveMembership(ctx context.Context, userID, brandID string) error
	ListMemberships(ctx context.Context, userID string) ([]repository.Membership, error)
	RecordUsage(ctx context.Context, usage repository.BenefitUsage) (repository.BenefitUsage, error)
	ListUsages(ctx context.Context, userID string, since time.Time) ([]repository.BenefitUsage, error)
}

type AuditRepository interface {
	InsertAuditLog(ctx context.Context, entry repository.AuditLogEntry) error
	ListAuditLog(ctx context.Context, limit, offset int) ([]repository.AuditLogEntry, error)
}

type Repository interface {
	CatalogRepository
	UserRepository
	AuditRepository
}

type cacheInvalidationSubscriber interface {
	SubscribeCatalogInvalidation(ctx context.Context) (<-chan struct{}, error)
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the clock used for "today" and for usage timestamps.
func WithClock(clock core.Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithCacheMetrics registers callbacks for catalog cache events. Any callback
// may be nil.
func WithCacheMetrics(onCacheLoad, onInvalidation, onCacheReset func(), onCacheUpdate func(brandID string, size float64)) Option {
	return func(s *Service) {
		s.onCacheLoad = onCacheLoad
		s.onInvalidation = onInvalidation
		s.onCacheReset = onCacheReset
		s.onCacheUpdate = onCacheUpdate
	}
}

// WithEvaluationMetrics registers a callback invoked once per evaluated
// benefit.
func WithEvaluationMetrics(onEvaluation func(active, upcoming bool)) Option {
	return func(s *Service) {
		s.onEvaluation = onEvaluation
	}
}

func WithCacheResyncInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.resyncInterval = interval
		}
	}
}

type Service struct {
	repo      Repository
	evaluator *core.Evaluator
	clock     core.Clock
	logger    *slog.Logger

	mu       sync.RWMutex
	brands   map[string]repository.Brand
	benefits map[string]repository.Benefit

	resyncInterval time.Duration
	onCacheLoad    func()
	onInvalidation func()
	onCacheReset   func()
	onCacheUpdate  func(brandID string, size float64)
	onEvaluation   func(active, upcoming bool)
}

func New(ctx context.Context, repo Repository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("repository is nil")
	}

	svc := &Service{
		repo:           repo,
		clock:          core.RealClock{},
		logger:         logging.Discard(),
		brands:         make(map[string]repository.Brand),
		benefits:       make(map[string]repository.Benefit),
		resyncInterval: defaultCacheResyncInterval,
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.evaluator = core.NewEvaluator(core.WithClock(svc.clock), core.WithLogger(svc.logger))

	if err := svc.LoadCache(ctx); err != nil {
		return nil, err
	}
	if subscriber, ok := repo.(cacheInvalidationSubscriber); ok {
		if err := svc.startCacheInvalidationListener(ctx, subscriber); err != nil {
			return nil, err
		}
	}

	return svc, nil
}

// Evaluator exposes the service's evaluator, sharing its clock and logger.
func (s *Service) Evaluator() *core.Evaluator {
	return s.evaluator
}

// LoadCache replaces the cached catalog with the database contents.
func (s *Service) LoadCache(ctx context.Context) error {
	brands, err := s.repo.ListBrands(ctx)
	if err != nil {
		return fmt.Errorf("load brands: %w", err)
	}
	benefits, err := s.repo.ListBenefits(ctx)
	if err != nil {
		return fmt.Errorf("load benefits: %w", err)
	}

	nextBrands := make(map[string]repository.Brand, len(brands))
	for _, brand := range brands {
		nextBrands[brand.ID] = brand
	}
	nextBenefits := make(map[string]repository.Benefit, len(benefits))
	perBrand := make(map[string]int)
	for _, benefit := range benefits {
		nextBenefits[benefit.ID] = benefit
		perBrand[benefit.BrandID]++
	}

	s.mu.Lock()
	s.brands = nextBrands
	s.benefits = nextBenefits
	s.mu.Unlock()

	if s.onCacheLoad != nil {
		s.onCacheLoad()
	}
	if s.onCacheReset != nil {
		s.onCacheReset()
	}
	if s.onCacheUpdate != nil {
		for brandID, count := range perBrand {
			s.onCacheUpdate(brandID, float64(count))
		}
	}

	return nil
}

func (s *Service) ListEventsSince(ctx context.Context, eventID int64) ([]repository.CatalogEvent, error) {
	events, err := s.repo.ListEventsSince(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list events since %d: %w", eventID, err)
	}

	return events, nil
}

// RecordAudit writes an audit entry. Failures are logged, never returned.
func (s *Service) RecordAudit(ctx context.Context, entry repository.AuditLogEntry) {
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bestEffortTimeout)
	defer cancel()
	if err := s.repo.InsertAuditLog(auditCtx, entry); err != nil {
		s.logger.Warn("audit log write failed", "action", entry.Action, "entity_id", entry.EntityID, "error", err)
	}
}

func (s *Service) ListAuditLog(ctx context.Context, limit, offset int) ([]repository.AuditLogEntry, error) {
	entries, err := s.repo.ListAuditLog(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	return entries, nil
}

func (s *Service) startCacheInvalidationListener(ctx context.Context, subscriber cacheInvalidationSubscriber) error {
	invalidations, err := subscriber.SubscribeCatalogInvalidation(ctx)
	if err != nil {
		return fmt.Errorf("subscribe cache invalidation: %w", err)
	}

	go func() {
		resyncTicker := time.NewTicker(s.resyncInterval)
		defer resyncTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-resyncTicker.C:
				if invalidations == nil {
					next, err := subscriber.SubscribeCatalogInvalidation(ctx)
					if err == nil {
						invalidations = next
					}
				}
				s.reloadCache(ctx)
			case _, ok := <-invalidations:
				if !ok {
					next, err := subscriber.SubscribeCatalogInvalidation(ctx)
					if err != nil {
						s.logger.Warn("resubscribe cache invalidation failed", "error", err)
						invalidations = nil
						continue
					}
					invalidations = next
					continue
				}
				if s.onInvalidation != nil {
					s.onInvalidation()
				}
				s.reloadCache(ctx)
			}
		}
	}()

	return nil
}

func (s *Service) reloadCache(ctx context.Context) {
	reloadCtx, cancel := context.WithTimeout(ctx, cacheReloadTimeout)
	defer cancel()
	if err := s.LoadCache(reloadCtx); err != nil && ctx.Err() == nil {
		s.logger.Warn("catalog reload failed", "error", err)
	}
}

func (s *Service) publishEventBestEffort(ctx context.Context, entityType, entityID, eventType string, payload []byte) {
	// Mutations have already committed before events are published.
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bestEffortTimeout)
	defer cancel()

	_, err := s.repo.PublishCatalogEvent(publishCtx, repository.CatalogEvent{
		EntityType: entityType,
		EntityID:   entityID,
		EventType:  eventType,
		Payload:    payload,
	})
	if err != nil {
		s.logger.Warn("publish catalog event failed",
			"entity_type", entityType,
			"entity_id", entityID,
			"event_type", eventType,
			"error", err,
		)
	}
}

func (s *Service) recordEvaluations(evaluations []core.Evaluation) {
	if s.onEvaluation == nil {
		return
	}
	for _, evaluation := range evaluations {
		s.onEvaluation(evaluation.Active, evaluation.Upcoming)
	}
}

func sortBenefits(benefits []repository.Benefit) {
	sort.Slice(benefits, func(i, j int) bool {
		if benefits[i].BrandID != benefits[j].BrandID {
			return benefits[i].BrandID < benefits[j].BrandID
		}
		if benefits[i].Title != benefits[j].Title {
			return benefits[i].Title < benefits[j].Title
		}
		return benefits[i].ID < benefits[j].ID
	})
}
