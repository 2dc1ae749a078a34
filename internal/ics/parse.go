package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "bizcal/internal/log"
)

// ParsedEvent is one VEVENT before recurrence expansion.
//
// Timed values keep the location they were declared in so RRULE expansion
// follows the feed's wall clock. All-day values are UTC midnight of their
// civil date.
type ParsedEvent struct {
	Feed Feed

	UID         string
	Summary     string
	Description string
	Location    string

	Start  time.Time
	End    time.Time
	AllDay bool

	RRule   string
	ExDates []time.Time

	// RecurrenceID is set on a VEVENT that replaces one instance of the
	// series with the same UID.
	RecurrenceID *time.Time
}

// Parse decodes an ICS payload. Floating times (no TZID, no Z suffix) are
// read in loc; nil means UTC. VEVENTs that cannot be decoded are logged and
// skipped.
func Parse(feed Feed, body []byte, loc *time.Location) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.UTC
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse feed %s: %w", feed.ID, err)
	}

	out := make([]ParsedEvent, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(feed, ve, loc)
		if err != nil {
			appLog.Warn("ics vevent skipped", "feed", feed.ID, "reason", err.Error())
			continue
		}
		out = append(out, ev)
	}
	appLog.Debug("ics parsed", "feed", feed.ID, "events", len(out))
	return out, nil
}

func parseVEvent(feed Feed, ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	ev := ParsedEvent{Feed: feed}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return ev, errors.New("missing UID")
	}
	ev.UID = uid.Value
	ev.Summary = propValue(ve, ical.ComponentPropertySummary)
	ev.Description = propValue(ve, ical.ComponentPropertyDescription)
	ev.Location = propValue(ve, ical.ComponentPropertyLocation)

	dtstart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtstart == nil {
		return ev, errors.New("missing DTSTART")
	}
	start, allDay, err := parseTimeValue(dtstart.Value, dtstart.ICalParameters, loc)
	if err != nil {
		return ev, fmt.Errorf("DTSTART: %w", err)
	}
	ev.Start, ev.AllDay = start, allDay

	if dtend := ve.GetProperty(ical.ComponentPropertyDtEnd); dtend != nil {
		end, _, err := parseTimeValue(dtend.Value, dtend.ICalParameters, loc)
		if err != nil {
			return ev, fmt.Errorf("DTEND: %w", err)
		}
		ev.End = end
	}
	if ev.End.IsZero() || ev.End.Before(ev.Start) {
		if ev.AllDay {
			ev.End = ev.Start.AddDate(0, 0, 1)
		} else {
			ev.End = ev.Start
		}
	}

	ev.RRule = propValue(ve, ical.ComponentPropertyRrule)

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, _, err := parseTimeValue(part, p.ICalParameters, loc)
			if err != nil {
				appLog.Debug("ics exdate ignored", "uid", ev.UID, "value", part)
				continue
			}
			ev.ExDates = append(ev.ExDates, t)
		}
	}

	if rid := ve.GetProperty(ical.ComponentPropertyRecurrenceId); rid != nil {
		t, _, err := parseTimeValue(rid.Value, rid.ICalParameters, loc)
		if err != nil {
			return ev, fmt.Errorf("RECURRENCE-ID: %w", err)
		}
		ev.RecurrenceID = &t
	}
	return ev, nil
}

func propValue(ve *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ve.GetProperty(p); prop != nil {
		return prop.Value
	}
	return ""
}

// parseTimeValue decodes DATE and DATE-TIME values. A DATE yields UTC
// midnight and allDay=true.
func parseTimeValue(v string, params map[string][]string, loc *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	isDate := !strings.Contains(v, "T")
	if vs := params["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		isDate = true
	}
	if isDate {
		d, err := time.ParseInLocation("20060102", v[:min(len(v), 8)], time.UTC)
		return d, true, err
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	}

	in := loc
	if tz := params["TZID"]; len(tz) > 0 && tz[0] != "" {
		l, err := time.LoadLocation(strings.Trim(tz[0], `"`))
		if err != nil {
			return time.Time{}, false, fmt.Errorf("unknown TZID %q: %w", tz[0], err)
		}
		in = l
	}
	t, err := time.ParseInLocation("20060102T150405", v, in)
	return t, false, err
}
