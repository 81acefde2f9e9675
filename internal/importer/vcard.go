package importer

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-vcard"
	"github.com/google/uuid"

	"github.com/matt-riley/yomu/internal/core"
)

// UnknownBirthYear stands in for a missing year. It is a leap year so that
// February 29 survives storage in a DATE column.
const UnknownBirthYear = 1904

type UserSeed struct {
	ExternalID  string
	DisplayName string
	Email       string
	BirthDate   *core.CalendarDate
	YearKnown   bool
}

var (
	datesWithYear    = []string{"2006-01-02", "20060102", time.RFC3339, "20060102T150405Z"}
	datesWithoutYear = []string{"--01-02", "--0102"}
)

// ParseVCardUsers decodes every card in r. Cards that fail to decode are
// skipped and reported in the returned error slice; cards without a name are
// ignored.
func ParseVCardUsers(r io.Reader) ([]UserSeed, []error) {
	decoder := vcard.NewDecoder(r)
	var (
		users []UserSeed
		errs  []error
	)

	for index := 1; ; index++ {
		card, err := decoder.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("card %d: %w", index, err))
			// The decoder cannot resynchronise after a syntax error.
			break
		}

		name := card.Value(vcard.FieldFormattedName)
		if name == "" {
			if n := card.Name(); n != nil {
				name = strings.TrimSpace(n.GivenName + " " + n.FamilyName)
			}
		}
		if name == "" {
			continue
		}

		user := UserSeed{
			DisplayName: name,
			Email:       card.PreferredValue(vcard.FieldEmail),
			ExternalID:  card.Value(vcard.FieldUID),
		}

		if bday := card.Value(vcard.FieldBirthday); bday != "" {
			birth, yearKnown, err := ParseBirthday(bday)
			if err != nil {
				errs = append(errs, fmt.Errorf("card %d (%s): %w", index, name, err))
			} else {
				user.BirthDate = &birth
				user.YearKnown = yearKnown
			}
		}

		if user.ExternalID == "" {
			user.ExternalID = "vcard-" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(name+"\x00"+user.Email)).String()
		}
		users = append(users, user)
	}

	return users, errs
}

// ParseBirthday accepts the date forms vCard 3 and 4 allow for BDAY, including
// the year-less --MMDD form.
func ParseBirthday(value string) (core.CalendarDate, bool, error) {
	value = strings.TrimSpace(value)
	for _, layout := range datesWithYear {
		if t, err := time.Parse(layout, value); err == nil {
			return core.DateOf(t), true, nil
		}
	}
	for _, layout := range datesWithoutYear {
		if t, err := time.Parse(layout, value); err == nil {
			return core.CalendarDate{Year: UnknownBirthYear, Month: t.Month(), Day: t.Day()}, false, nil
		}
	}
	return core.CalendarDate{}, false, fmt.Errorf("unrecognised birthday %q", value)
}
