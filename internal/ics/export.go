package ics

import (
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"bizcal/internal/model"
)

const productID = "-//bizcal//calendar export//EN"

// Export renders events as a PUBLISH calendar. Each event's ID becomes its
// UID, so re-exporting the same window yields stable UIDs.
func Export(w io.Writer, events []model.CalendarEvent, name string, now time.Time) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, ev := range events {
		ve := cal.AddEvent(ev.ID)
		ve.SetDtStampTime(now)
		ve.SetSummary(ev.Title)
		ve.AddCategory(string(ev.Type))
		if ev.Color != "" {
			ve.SetColor(ev.Color)
		}
		if d := describe(ev); d != "" {
			ve.SetDescription(d)
		}

		if ev.IsAllDay {
			start := model.DateOf(ev.Date)
			end := start.AddDate(0, 0, 1)
			if !ev.EndDate.IsZero() && model.DateOf(ev.EndDate).After(start) {
				end = model.DateOf(ev.EndDate).AddDate(0, 0, 1)
			}
			ve.SetAllDayStartAt(start)
			ve.SetAllDayEndAt(end)
			continue
		}
		ve.SetStartAt(ev.Date)
		end := ev.EndDate
		if end.IsZero() || end.Before(ev.Date) {
			end = ev.Date
		}
		ve.SetEndAt(end)
	}
	return cal.SerializeTo(w)
}

func describe(ev model.CalendarEvent) string {
	switch d := ev.Data.(type) {
	case model.Task:
		return d.Description
	case model.Appointment:
		return d.Description
	case model.Deal:
		return d.Stage
	case model.Project:
		return d.Status
	case model.Invoice:
		return d.Status
	}
	return ""
}
