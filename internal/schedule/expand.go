// Package schedule expands recurring task series into virtual occurrences
// and resolves scope-aware edits back onto the persisted series.
package schedule

import (
	"errors"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "bizcal/internal/log"
	"bizcal/internal/model"
)

const (
	defaultMaxOccurrencesPerSeries = 5000
)

// Recognized recurrence rule tokens. Anything else, including "", means
// "not recurring" for expansion purposes.
const (
	RuleDaily  = "FREQ=DAILY"
	RuleWeekly = "FREQ=WEEKLY"
)

// Cadence is the step between two occurrences of a series.
type Cadence int

const (
	CadenceNone Cadence = iota
	CadenceDaily
	CadenceWeekly
)

// ParseRule maps a recurrence rule token to its cadence.
func ParseRule(rule string) (Cadence, bool) {
	switch strings.TrimSpace(rule) {
	case RuleDaily:
		return CadenceDaily, true
	case RuleWeekly:
		return CadenceWeekly, true
	default:
		return CadenceNone, false
	}
}

func (c Cadence) frequency() rrule.Frequency {
	if c == CadenceWeekly {
		return rrule.WEEKLY
	}
	return rrule.DAILY
}

// Expand produces the virtual occurrences of every series parent whose
// start falls inside [windowStart, windowEnd]. Non-recurring tasks are
// ignored; callers union them in separately.
//
// The result is a pure function of the inputs: the same parents and window
// always yield occurrences with the same (SeriesID, OriginalDate) keys.
// An inverted window yields an empty slice.
func Expand(parents []model.Task, windowStart, windowEnd time.Time) []model.Task {
	out := make([]model.Task, 0)
	if windowEnd.Before(windowStart) {
		return out
	}
	windowStart = windowStart.UTC()
	windowEnd = windowEnd.UTC()

	for _, p := range parents {
		occ, hitCap := expandSeries(p, windowStart, windowEnd)
		if hitCap {
			appLog.Error("schedule: truncated occurrences for series due to cap",
				errors.New("max occurrences reached"),
				"series", p.ID,
				"cap", defaultMaxOccurrencesPerSeries,
			)
		}
		out = append(out, occ...)
	}
	return out
}

// FindOccurrence returns the occurrence the series generates on date
// (YYYY-MM-DD), if any. Exceptions and the series end date apply.
func FindOccurrence(parent model.Task, date string) (model.Task, bool) {
	day, err := model.ParseDate(date)
	if err != nil {
		return model.Task{}, false
	}
	occ, _ := expandSeries(parent, day, model.EndOfDay(day))
	for _, o := range occ {
		if o.OriginalDate == date {
			return o, true
		}
	}
	return model.Task{}, false
}

func expandSeries(p model.Task, windowStart, windowEnd time.Time) ([]model.Task, bool) {
	if !p.IsSeriesParent() {
		return nil, false
	}
	cadence, ok := ParseRule(p.RecurrenceRule)
	if !ok {
		// Unsupported rules end the series without error.
		appLog.Debug("schedule: unsupported recurrence rule; series yields no occurrences",
			"series", p.ID, "rule", p.RecurrenceRule)
		return nil, false
	}

	anchor := p.Anchor()
	if anchor.IsZero() {
		return nil, false
	}
	anchor = anchor.UTC()

	limit := windowEnd
	if !p.EndDate.IsZero() {
		// The end date is a civil date; occurrences on that day still count.
		if end := model.EndOfDay(p.EndDate); end.Before(limit) {
			limit = end
		}
	}
	if limit.Before(windowStart) || limit.Before(anchor) {
		return nil, false
	}

	cursor := fastForward(anchor, windowStart, cadence)

	r, err := rrule.NewRRule(rrule.ROption{
		Freq:    cadence.frequency(),
		Dtstart: cursor,
		Until:   limit,
	})
	if err != nil {
		appLog.Error("schedule: failed to build recurrence", err, "series", p.ID, "rule", p.RecurrenceRule)
		return nil, false
	}

	var set rrule.Set
	set.RRule(r)
	for _, ex := range p.RecurrenceExceptions {
		day, err := model.ParseDate(ex)
		if err != nil {
			continue
		}
		// Every occurrence shares the anchor's time of day, so the exclusion
		// instant is the exception date at that time.
		set.ExDate(atTimeOfDay(day, cursor))
	}

	starts := set.Between(windowStart, limit, true)
	hitCap := false
	if len(starts) > defaultMaxOccurrencesPerSeries {
		starts = starts[:defaultMaxOccurrencesPerSeries]
		hitCap = true
	}

	dur := p.Duration()
	out := make([]model.Task, 0, len(starts))
	for _, s := range starts {
		out = append(out, occurrenceAt(p, s, dur))
	}
	return out, hitCap
}

// fastForward moves the cursor close to the window so a series that began
// long ago does not iterate through its whole history. Daily series stop
// one step before the window; weekly series advance by whole weeks so the
// weekday is preserved.
func fastForward(anchor, windowStart time.Time, c Cadence) time.Time {
	if !anchor.Before(windowStart) {
		return anchor
	}
	days := int(windowStart.Sub(anchor) / (24 * time.Hour))
	switch c {
	case CadenceDaily:
		if days > 1 {
			return anchor.AddDate(0, 0, days-1)
		}
	case CadenceWeekly:
		if weeks := days / 7; weeks > 0 {
			return anchor.AddDate(0, 0, weeks*7)
		}
	}
	return anchor
}

func atTimeOfDay(day, ref time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(),
		ref.Hour(), ref.Minute(), ref.Second(), 0, time.UTC)
}

// occurrenceAt synthesizes the virtual occurrence of p starting at start.
func occurrenceAt(p model.Task, start time.Time, dur time.Duration) model.Task {
	key := model.OccurrenceKey{SeriesID: p.ID, Date: model.FormatDate(start)}

	occ := p.Clone()
	occ.ID = key.String()
	occ.SeriesID = p.ID
	occ.OriginalDate = key.Date
	occ.RecurrenceRule = ""
	occ.RecurrenceExceptions = nil
	occ.EndDate = time.Time{}

	if p.StartDate.IsZero() {
		occ.DueDate = start
		return occ
	}
	occ.StartDate = start
	if !p.DueDate.IsZero() {
		occ.DueDate = start.Add(dur)
	}
	return occ
}
