package core

// legacyAliases maps identifiers from older records and UI keys to canonical
// rule ids. It is never written after package init.
var legacyAliases = map[string]Validity{
	"birthday_date":           ValidityBirthdayExactDate,
	"birthday_month":          ValidityBirthdayEntireMonth,
	"birthday_week":           ValidityBirthdayWeekBeforeAfter,
	"validityExactDate":       ValidityBirthdayExactDate,
	"validityEntireMonth":     ValidityBirthdayEntireMonth,
	"validityWeekBeforeAfter": ValidityBirthdayWeekBeforeAfter,
	"validityWeekend":         ValidityBirthdayWeekend,
	"validity30Days":          ValidityBirthday30Days,
	"validity7DaysBefore":     ValidityBirthday7DaysBefore,
	"validity7DaysAfter":      ValidityBirthday7DaysAfter,
	"validity3DaysBefore":     ValidityBirthday3DaysBefore,
	"validity3DaysAfter":      ValidityBirthday3DaysAfter,
}

// ResolveAlias returns the canonical id for a legacy alias. Any other input,
// known or not, is returned unchanged.
func ResolveAlias(id string) string {
	if canonical, ok := legacyAliases[id]; ok {
		return string(canonical)
	}
	return id
}

func Aliases() map[string]string {
	out := make(map[string]string, len(legacyAliases))
	for alias, canonical := range legacyAliases {
		out[alias] = string(canonical)
	}
	return out
}
