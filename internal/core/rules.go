package core

import "time"

// Validity is a canonical rule identifier.
type Validity string

const (
	ValidityAlways                     Validity = "always"
	ValidityBirthdayExactDate          Validity = "birthday_exact_date"
	ValidityBirthdayEntireMonth        Validity = "birthday_entire_month"
	ValidityBirthdayWeekBeforeAfter    Validity = "birthday_week_before_after"
	ValidityBirthdayWeekend            Validity = "birthday_weekend"
	ValidityBirthday30Days             Validity = "birthday_30_days"
	ValidityBirthday7DaysBefore        Validity = "birthday_7_days_before"
	ValidityBirthday7DaysAfter         Validity = "birthday_7_days_after"
	ValidityBirthday3DaysBefore        Validity = "birthday_3_days_before"
	ValidityBirthday3DaysAfter         Validity = "birthday_3_days_after"
	ValidityAnniversaryExactDate       Validity = "anniversary_exact_date"
	ValidityAnniversaryEntireMonth     Validity = "anniversary_entire_month"
	ValidityAnniversaryWeekBeforeAfter Validity = "anniversary_week_before_after"
)

type Family int

const (
	FamilyNone Family = iota
	FamilyBirthday
	FamilyAnniversary
)

type Rule struct {
	ID         Validity `json:"id"`
	DisplayKey string   `json:"display_key"`
	Family     Family   `json:"-"`
}

// ruleTable is ordered; CanonicalIDs and the validator's error text follow it.
var ruleTable = []Rule{
	{ID: ValidityAlways, DisplayKey: "validityAlways", Family: FamilyNone},
	{ID: ValidityBirthdayExactDate, DisplayKey: "validityExactDate", Family: FamilyBirthday},
	{ID: ValidityBirthdayEntireMonth, DisplayKey: "validityEntireMonth", Family: FamilyBirthday},
	{ID: ValidityBirthdayWeekBeforeAfter, DisplayKey: "validityWeekBeforeAfter", Family: FamilyBirthday},
	{ID: ValidityBirthdayWeekend, DisplayKey: "validityWeekend", Family: FamilyBirthday},
	{ID: ValidityBirthday30Days, DisplayKey: "validity30Days", Family: FamilyBirthday},
	{ID: ValidityBirthday7DaysBefore, DisplayKey: "validity7DaysBefore", Family: FamilyBirthday},
	{ID: ValidityBirthday7DaysAfter, DisplayKey: "validity7DaysAfter", Family: FamilyBirthday},
	{ID: ValidityBirthday3DaysBefore, DisplayKey: "validity3DaysBefore", Family: FamilyBirthday},
	{ID: ValidityBirthday3DaysAfter, DisplayKey: "validity3DaysAfter", Family: FamilyBirthday},
	{ID: ValidityAnniversaryExactDate, DisplayKey: "validityAnniversaryExactDate", Family: FamilyAnniversary},
	{ID: ValidityAnniversaryEntireMonth, DisplayKey: "validityAnniversaryEntireMonth", Family: FamilyAnniversary},
	{ID: ValidityAnniversaryWeekBeforeAfter, DisplayKey: "validityAnniversaryWeekBeforeAfter", Family: FamilyAnniversary},
}

var rulesByID = func() map[Validity]Rule {
	index := make(map[Validity]Rule, len(ruleTable))
	for _, rule := range ruleTable {
		index[rule.ID] = rule
	}
	return index
}()

func LookupRule(id string) (Rule, bool) {
	rule, ok := rulesByID[Validity(id)]
	return rule, ok
}

func Rules() []Rule {
	out := make([]Rule, len(ruleTable))
	copy(out, ruleTable)
	return out
}

func CanonicalIDs() []string {
	ids := make([]string, 0, len(ruleTable))
	for _, rule := range ruleTable {
		ids = append(ids, string(rule.ID))
	}
	return ids
}

func DisplayKeys() []string {
	keys := make([]string, 0, len(ruleTable))
	for _, rule := range ruleTable {
		keys = append(keys, rule.DisplayKey)
	}
	return keys
}

// Matches reports whether the rule is active for birth at ref. Windowed rules
// only ever match inside the birth month: a window that would spill into the
// neighbouring month is cut at the month boundary.
func (v Validity) Matches(birth, ref CalendarDate) bool {
	sameMonth := birth.Month == ref.Month
	delta := birth.Day - ref.Day

	switch v {
	case ValidityAlways:
		return true
	case ValidityBirthdayExactDate, ValidityAnniversaryExactDate:
		return sameMonth && delta == 0
	case ValidityBirthdayEntireMonth, ValidityAnniversaryEntireMonth:
		return sameMonth
	case ValidityBirthdayWeekBeforeAfter:
		return sameMonth && abs(delta) <= 7
	case ValidityBirthdayWeekend:
		return sameMonth && abs(delta) <= 6
	case ValidityBirthday30Days:
		return sameMonth && abs(delta) <= 30
	case ValidityBirthday7DaysBefore:
		return sameMonth && delta >= 0 && delta <= 7
	case ValidityBirthday7DaysAfter:
		return sameMonth && delta <= 0 && delta >= -7
	case ValidityBirthday3DaysBefore:
		return sameMonth && delta >= 0 && delta <= 3
	case ValidityBirthday3DaysAfter:
		return sameMonth && delta <= 0 && delta >= -3
	case ValidityAnniversaryWeekBeforeAfter:
		// Not implemented yet; never active.
		return false
	default:
		return false
	}
}

// Window returns the first and last day in year on which the rule is active
// for birth. ok is false for rules without a bounded window: always, rules
// that never activate, and unknown ids.
func Window(id string, birth CalendarDate, year int) (start, end CalendarDate, ok bool) {
	rule, found := LookupRule(ResolveAlias(id))
	if !found || rule.ID == ValidityAlways {
		return CalendarDate{}, CalendarDate{}, false
	}

	days := daysIn(year, birth.Month)
	if birth.Day < 1 || birth.Day > days {
		return CalendarDate{}, CalendarDate{}, false
	}

	for day := 1; day <= days; day++ {
		ref := CalendarDate{Year: year, Month: birth.Month, Day: day}
		if !rule.ID.Matches(birth, ref) {
			continue
		}
		if !ok {
			start = ref
			ok = true
		}
		end = ref
	}
	return start, end, ok
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func abs(value int) int {
	if value < 0 {
		return -value
	}
	return value
}
