// Package calendar renders a user's benefit windows as an iCalendar feed.
package calendar

import (
	"bytes"
	"fmt"
	"time"

	"github.com/emersion/go-ical"

	"github.com/matt-riley/yomu/internal/core"
)

const (
	productID       = "-//YomU//Birthday Benefits//EN"
	uidDomain       = "yomu.app"
	defaultReminder = "PT9H"
)

// Entry is one benefit to place on the calendar.
type Entry struct {
	BenefitID    string
	Brand        string
	Title        string
	ValidityType string
}

type Options struct {
	Name string
	Now  time.Time
	// Summary and Reminder produce the localized event texts.
	Summary  func(Entry) string
	Reminder func(Entry) string
	// ReminderTrigger is an ISO 8601 duration relative to the window start.
	// Empty means 09:00 on the first day.
	ReminderTrigger string
}

// Build returns an iCalendar document with one all-day event per benefit
// window in the current and next year. Windows that already ended are left
// out, as are rules with no bounded window.
func Build(opts Options, birth core.CalendarDate, entries []Entry) ([]byte, error) {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if opts.Summary == nil {
		opts.Summary = func(e Entry) string { return fmt.Sprintf("%s: %s", e.Brand, e.Title) }
	}
	trigger := opts.ReminderTrigger
	if trigger == "" {
		trigger = defaultReminder
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(ical.PropCalendarScale, "GREGORIAN")
	cal.Props.SetText(ical.PropMethod, "PUBLISH")
	if opts.Name != "" {
		cal.Props.SetText("X-WR-CALNAME", opts.Name)
	}

	stamp := ical.NewProp(ical.PropDateTimeStamp)
	stamp.SetDateTime(opts.Now.UTC())

	today := core.DateOf(opts.Now)
	for _, year := range []int{today.Year, today.Year + 1} {
		for _, entry := range entries {
			start, end, ok := core.Window(entry.ValidityType, birth, year)
			if !ok || before(end, today) {
				continue
			}

			event := ical.NewEvent()
			event.Props.SetText(ical.PropUID, fmt.Sprintf("%s-%d@%s", entry.BenefitID, year, uidDomain))
			event.Props.Set(stamp)

			summary := opts.Summary(entry)
			event.Props.SetText(ical.PropSummary, summary)

			dtStart := ical.NewProp(ical.PropDateTimeStart)
			dtStart.SetDate(start.Time(time.UTC))
			event.Props.Set(dtStart)

			// DTEND is exclusive for all-day events.
			dtEnd := ical.NewProp(ical.PropDateTimeEnd)
			dtEnd.SetDate(end.Time(time.UTC).AddDate(0, 0, 1))
			event.Props.Set(dtEnd)

			reminder := summary
			if opts.Reminder != nil {
				reminder = opts.Reminder(entry)
			}
			addAlarm(event, trigger, reminder)

			cal.Children = append(cal.Children, event.Component)
		}
	}

	if len(cal.Children) == 0 {
		return emptyCalendar(opts.Name), nil
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("encode calendar: %w", err)
	}
	return buf.Bytes(), nil
}

func addAlarm(event *ical.Event, trigger, description string) {
	alarm := ical.NewComponent(ical.CompAlarm)
	alarm.Props.SetText(ical.PropAction, "DISPLAY")
	alarm.Props.SetText(ical.PropDescription, description)

	// Set the raw value so the encoder does not add VALUE=TEXT.
	triggerProp := ical.NewProp(ical.PropTrigger)
	triggerProp.Value = trigger
	alarm.Props.Set(triggerProp)

	event.Children = append(event.Children, alarm)
}

func emptyCalendar(name string) []byte {
	var buf bytes.Buffer
	buf.WriteString("BEGIN:VCALENDAR\r\n")
	buf.WriteString("VERSION:2.0\r\n")
	buf.WriteString("PRODID:" + productID + "\r\n")
	if name != "" {
		buf.WriteString("X-WR-CALNAME:" + name + "\r\n")
	}
	buf.WriteString("END:VCALENDAR\r\n")
	return buf.Bytes()
}

func before(a, b core.CalendarDate) bool {
	if a.Year != b.Year {
		return a.Year < b.Year
	}
	if a.Month != b.Month {
		return a.Month < b.Month
	}
	return a.Day < b.Day
}
