package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "bizcal/internal/log"
	"bizcal/internal/model"
)

const defaultMaxInstancesPerEvent = 5000

// ExpandResult holds concrete appointments and the UIDs whose expansion
// was cut at the instance cap.
type ExpandResult struct {
	Appointments []model.Appointment
	Truncated    []string
}

// Expand turns parsed VEVENTs into appointments whose start lies in
// [from, to]. RRULEs are expanded with EXDATEs removed, and an instance is
// replaced by the VEVENT carrying its RECURRENCE-ID. An inverted window
// yields no appointments.
func Expand(events []ParsedEvent, from, to time.Time) ExpandResult {
	res := ExpandResult{Appointments: make([]model.Appointment, 0)}
	if to.Before(from) {
		return res
	}

	type uidKey struct{ feed, uid string }
	overrides := make(map[uidKey][]ParsedEvent)
	for _, ev := range events {
		if ev.RecurrenceID != nil {
			k := uidKey{ev.Feed.ID, ev.UID}
			overrides[k] = append(overrides[k], ev)
		}
	}

	for _, ev := range events {
		if ev.RecurrenceID != nil {
			continue
		}
		ovs := overrides[uidKey{ev.Feed.ID, ev.UID}]

		if ev.RRule == "" {
			if inWindow(ev.Start, from, to) {
				res.Appointments = append(res.Appointments, toAppointment(ev, ev.Start, ev.End))
			}
			continue
		}

		apps, capped := expandRecurring(ev, ovs, from, to)
		res.Appointments = append(res.Appointments, apps...)
		if capped {
			res.Truncated = append(res.Truncated, ev.UID)
			appLog.Error("ics expansion capped", errors.New("instance cap reached"),
				"feed", ev.Feed.ID, "uid", ev.UID, "cap", defaultMaxInstancesPerEvent)
		}
	}
	return res
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, from, to time.Time) ([]model.Appointment, bool) {
	r, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		appLog.Warn("ics rrule rejected", "feed", ev.Feed.ID, "uid", ev.UID, "rrule", ev.RRule, "reason", err.Error())
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	starts := set.Between(from.In(ev.Start.Location()), to.In(ev.Start.Location()), true)
	capped := false
	if len(starts) > defaultMaxInstancesPerEvent {
		starts = starts[:defaultMaxInstancesPerEvent]
		capped = true
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]model.Appointment, 0, len(starts))
	for _, s := range starts {
		if ov, ok := overrideFor(overrides, s); ok {
			a := toAppointment(ov, ov.Start, ov.End)
			a.InstanceKey = instanceKey(s)
			out = append(out, a)
			continue
		}
		out = append(out, toAppointment(ev, s, s.Add(dur)))
	}
	return out, capped
}

func overrideFor(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.RecurrenceID.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func toAppointment(ev ParsedEvent, start, end time.Time) model.Appointment {
	return model.Appointment{
		SourceID:    ev.Feed.ID,
		UID:         ev.UID,
		OwnerID:     ev.Feed.OwnerID,
		InstanceKey: instanceKey(start),
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Start:       start.UTC(),
		End:         end.UTC(),
	}
}

// instanceKey identifies one instance by its original UTC start.
func instanceKey(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

func inWindow(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}
