package core

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// CalendarDate is a day in the Gregorian calendar. Rules only look at Month
// and Day; Year is carried for display and ignored by every predicate.
type CalendarDate struct {
	Year  int
	Month time.Month
	Day   int
}

func DateOf(t time.Time) CalendarDate {
	year, month, day := t.Date()
	return CalendarDate{Year: year, Month: month, Day: day}
}

func ParseDate(value string) (CalendarDate, error) {
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return CalendarDate{}, fmt.Errorf("parse date %q: %w", value, err)
	}
	return DateOf(t), nil
}

func (d CalendarDate) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

func (d CalendarDate) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d CalendarDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d CalendarDate) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *CalendarDate) UnmarshalText(text []byte) error {
	parsed, err := ParseDate(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Benefit is the part of a stored benefit the evaluator needs.
type Benefit struct {
	ID           string `json:"id"`
	ValidityType string `json:"validity_type"`
}

// BenefitRecord is a candidate benefit checked before it is persisted.
// ValidityDurationDays holds the decoded JSON value as received.
type BenefitRecord struct {
	Title                string `json:"title"`
	Description          string `json:"description"`
	BrandID              string `json:"brand_id"`
	RedemptionMethod     string `json:"redemption_method"`
	ValidityType         string `json:"validity_type"`
	ValidityDurationDays any    `json:"validity_duration_days,omitempty"`
}

type Verdict struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors"`
}

// EvaluationInput carries the user's birth date and the date to evaluate at.
// A nil ReferenceDate means today according to the evaluator's clock.
type EvaluationInput struct {
	BirthDate     *CalendarDate `json:"birth_date,omitempty"`
	ReferenceDate *CalendarDate `json:"reference_date,omitempty"`
}

type Evaluation struct {
	BenefitID  string   `json:"benefit_id,omitempty"`
	Validity   Validity `json:"validity"`
	DisplayKey string   `json:"display_key,omitempty"`
	Active     bool     `json:"active"`
	Upcoming   bool     `json:"upcoming"`
}
