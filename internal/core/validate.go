package core

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

const (
	ErrTitleRequired            = "Title is required"
	ErrDescriptionRequired      = "Description is required"
	ErrBrandIDRequired          = "Brand ID is required"
	ErrRedemptionMethodRequired = "Redemption method is required"
	ErrValidityTypeRequired     = "Validity type is required"
	ErrDurationNotNumber        = "Validity duration must be a number"
	ErrDurationOutOfRange       = "Validity duration must be a whole number of days between -2147483648 and 2147483647"
)

// Validate checks a candidate benefit. Every check runs; errors are reported
// in a fixed order so callers can show them as a list.
func Validate(record BenefitRecord) Verdict {
	var errs []string

	if record.Title == "" {
		errs = append(errs, ErrTitleRequired)
	}
	if record.Description == "" {
		errs = append(errs, ErrDescriptionRequired)
	}
	if record.BrandID == "" {
		errs = append(errs, ErrBrandIDRequired)
	}
	if record.RedemptionMethod == "" {
		errs = append(errs, ErrRedemptionMethodRequired)
	}

	if record.ValidityType == "" {
		errs = append(errs, ErrValidityTypeRequired)
	} else if _, ok := LookupRule(ResolveAlias(record.ValidityType)); !ok {
		errs = append(errs, InvalidValidityTypeMessage(record.ValidityType))
	}

	if isTruthy(record.ValidityDurationDays) && !isNumeric(record.ValidityDurationDays) {
		errs = append(errs, ErrDurationNotNumber)
	}

	return Verdict{IsValid: len(errs) == 0, Errors: errs}
}

func InvalidValidityTypeMessage(id string) string {
	return fmt.Sprintf("Invalid validity type %q. Must be one of: %s", id, strings.Join(CanonicalIDs(), ", "))
}

// isTruthy treats nil, false, zero, NaN and the empty string as absent.
func isTruthy(value any) bool {
	if value == nil {
		return false
	}
	if b, ok := value.(bool); ok {
		return b
	}
	if s, ok := value.(string); ok {
		return s != ""
	}
	if n, ok := value.(json.Number); ok {
		f, err := n.Float64()
		if err != nil {
			return n != ""
		}
		return f != 0 && !math.IsNaN(f)
	}
	if i, ok := asInt64(value); ok {
		return i != 0
	}
	if u, ok := asUint64(value); ok {
		return u != 0
	}
	if f, ok := asFloat64(value); ok {
		return f != 0 && !math.IsNaN(f)
	}
	return true
}

func isNumeric(value any) bool {
	if n, ok := value.(json.Number); ok {
		_, err := n.Float64()
		return err == nil
	}
	if _, ok := asInt64(value); ok {
		return true
	}
	if _, ok := asUint64(value); ok {
		return true
	}
	_, ok := asFloat64(value)
	return ok
}

func asInt64(value any) (int64, bool) {
	switch number := value.(type) {
	case int:
		return int64(number), true
	case int8:
		return int64(number), true
	case int16:
		return int64(number), true
	case int32:
		return int64(number), true
	case int64:
		return number, true
	default:
		return 0, false
	}
}

func asUint64(value any) (uint64, bool) {
	switch number := value.(type) {
	case uint:
		return uint64(number), true
	case uint8:
		return uint64(number), true
	case uint16:
		return uint64(number), true
	case uint32:
		return uint64(number), true
	case uint64:
		return number, true
	default:
		return 0, false
	}
}

func asFloat64(value any) (float64, bool) {
	switch number := value.(type) {
	case float32:
		return float64(number), true
	case float64:
		return number, true
	default:
		return 0, false
	}
}

// DurationDays converts a validated duration value to whole days, truncating
// fractions. ok is false when the value is absent or does not fit in an int32
// column, which includes infinities.
func DurationDays(value any) (int, bool) {
	if !isTruthy(value) {
		return 0, false
	}
	if n, ok := value.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return daysFromInt64(i)
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return daysFromFloat64(f)
	}
	if i, ok := asInt64(value); ok {
		return daysFromInt64(i)
	}
	if u, ok := asUint64(value); ok {
		if u > math.MaxInt32 {
			return 0, false
		}
		return int(u), true
	}
	if f, ok := asFloat64(value); ok {
		return daysFromFloat64(f)
	}
	return 0, false
}

// DurationOutOfRange reports a numeric duration that Validate accepts but
// DurationDays cannot represent.
func DurationOutOfRange(value any) bool {
	if !isTruthy(value) || !isNumeric(value) {
		return false
	}
	_, ok := DurationDays(value)
	return !ok
}

func daysFromInt64(i int64) (int, bool) {
	if i < math.MinInt32 || i > math.MaxInt32 {
		return 0, false
	}
	return int(i), true
}

func daysFromFloat64(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	t := math.Trunc(f)
	if t < math.MinInt32 || t > math.MaxInt32 {
		return 0, false
	}
	return int(t), true
}
