package core

import (
	"log/slog"

	"github.com/matt-riley/yomu/internal/logging"
)

// Evaluator answers whether benefits are active or upcoming for a birth date.
// It holds no mutable state and is safe for concurrent use.
type Evaluator struct {
	clock  Clock
	logger *slog.Logger
}

type EvaluatorOption func(*Evaluator)

func WithClock(clock Clock) EvaluatorOption {
	return func(e *Evaluator) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger sets where warnings about unknown validity ids are written.
func WithLogger(logger *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		clock:  RealClock{},
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Evaluator) Today() CalendarDate {
	return DateOf(e.clock.Now())
}

func (e *Evaluator) reference(input EvaluationInput) CalendarDate {
	if input.ReferenceDate != nil {
		return *input.ReferenceDate
	}
	return e.Today()
}

// IsActiveByID reports whether a benefit with the given validity id is active.
// Unknown ids are logged and treated as inactive.
func (e *Evaluator) IsActiveByID(validityID string, input EvaluationInput) bool {
	if input.BirthDate == nil {
		return false
	}

	resolved := ResolveAlias(validityID)
	rule, ok := LookupRule(resolved)
	if !ok {
		e.logger.Warn("unknown validity type", "validity_type", validityID, "resolved", resolved)
		return false
	}

	return rule.ID.Matches(*input.BirthDate, e.reference(input))
}

func (e *Evaluator) IsActive(benefit Benefit, input EvaluationInput) bool {
	return e.IsActiveByID(benefit.ValidityType, input)
}

// IsUpcomingByID reports whether a benefit is not active yet but will be
// later in the reference date's calendar year.
func (e *Evaluator) IsUpcomingByID(validityID string, input EvaluationInput) bool {
	if input.BirthDate == nil {
		return false
	}

	resolved := ResolveAlias(validityID)
	if Validity(resolved) == ValidityAlways {
		return false
	}
	if e.IsActiveByID(validityID, input) {
		return false
	}

	rule, ok := LookupRule(resolved)
	if !ok {
		return false
	}

	switch rule.Family {
	case FamilyBirthday:
		birth := *input.BirthDate
		ref := e.reference(input)
		return birth.Month > ref.Month || (birth.Month == ref.Month && birth.Day > ref.Day)
	case FamilyAnniversary:
		return true
	default:
		return false
	}
}

func (e *Evaluator) IsUpcoming(benefit Benefit, input EvaluationInput) bool {
	return e.IsUpcomingByID(benefit.ValidityType, input)
}

// IsActiveAll evaluates each benefit in order. Without a birth date the result
// is empty.
func (e *Evaluator) IsActiveAll(benefits []Benefit, input EvaluationInput) []bool {
	if input.BirthDate == nil {
		return []bool{}
	}
	input = e.pin(input)
	results := make([]bool, len(benefits))
	for i, benefit := range benefits {
		results[i] = e.IsActive(benefit, input)
	}
	return results
}

func (e *Evaluator) IsUpcomingAll(benefits []Benefit, input EvaluationInput) []bool {
	if input.BirthDate == nil {
		return []bool{}
	}
	input = e.pin(input)
	results := make([]bool, len(benefits))
	for i, benefit := range benefits {
		results[i] = e.IsUpcoming(benefit, input)
	}
	return results
}

func (e *Evaluator) Evaluate(benefit Benefit, input EvaluationInput) Evaluation {
	input = e.pin(input)
	resolved := ResolveAlias(benefit.ValidityType)
	evaluation := Evaluation{
		BenefitID: benefit.ID,
		Validity:  Validity(resolved),
		Active:    e.IsActive(benefit, input),
		Upcoming:  e.IsUpcoming(benefit, input),
	}
	if rule, ok := LookupRule(resolved); ok {
		evaluation.DisplayKey = rule.DisplayKey
	}
	return evaluation
}

func (e *Evaluator) EvaluateAll(benefits []Benefit, input EvaluationInput) []Evaluation {
	input = e.pin(input)
	results := make([]Evaluation, 0, len(benefits))
	for _, benefit := range benefits {
		results = append(results, e.Evaluate(benefit, input))
	}
	return results
}

// pin fixes the reference date so a batch never straddles midnight.
func (e *Evaluator) pin(input EvaluationInput) EvaluationInput {
	if input.ReferenceDate == nil {
		today := e.Today()
		input.ReferenceDate = &today
	}
	return input
}
