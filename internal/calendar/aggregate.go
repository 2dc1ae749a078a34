// Package calendar merges tasks, deals, projects, invoices and ICS
// appointments into one CalendarEvent timeline and routes reschedule
// requests back to the owning entity.
package calendar

import (
	"time"

	"bizcal/internal/model"
	"bizcal/internal/schedule"
)

// Sources is the snapshot of entity streams to aggregate. The slices are
// read, never modified.
type Sources struct {
	Tasks        []model.Task
	Deals        []model.Deal
	Projects     []model.Project
	Invoices     []model.Invoice
	Appointments []model.Appointment

	// Owners lists every known owner. When nil it is derived from the
	// projected events.
	Owners []model.OwnerID
}

// Window is the inclusive range an aggregation covers.
type Window struct {
	Start time.Time
	End   time.Time
}

// DayWindow covers whole UTC days from..to.
func DayWindow(from, to time.Time) Window {
	return Window{Start: model.DateOf(from), End: model.EndOfDay(to)}
}

func (w Window) inverted() bool {
	return w.End.Before(w.Start)
}

func (w Window) contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Palette maps an event type to its display color.
type Palette map[model.EventType]string

// DefaultPalette is used for types the configured palette leaves out.
var DefaultPalette = Palette{
	model.EventTask:        "#3b82f6",
	model.EventDeal:        "#10b981",
	model.EventProject:     "#8b5cf6",
	model.EventInvoice:     "#f59e0b",
	model.EventAppointment: "#64748b",
}

func (p Palette) color(t model.EventType) string {
	if c, ok := p[t]; ok && c != "" {
		return c
	}
	return DefaultPalette[t]
}

// Aggregator projects entity streams into calendar events. It holds no
// state besides its palette and is safe for concurrent use.
type Aggregator struct {
	palette Palette
}

func NewAggregator(p Palette) *Aggregator {
	if p == nil {
		p = DefaultPalette
	}
	return &Aggregator{palette: p}
}

// Aggregate returns the visible events of src inside w.
//
// Events keep source order within a type, and types are concatenated as
// tasks, deals, projects, invoices, appointments. Sorting is left to the
// caller. An inverted window yields an empty slice.
func (a *Aggregator) Aggregate(src Sources, w Window, f Filter) []model.CalendarEvent {
	out := make([]model.CalendarEvent, 0)
	if w.inverted() {
		return out
	}

	events := a.project(src, w)

	known := src.Owners
	if known == nil {
		known = ownersOf(events)
	}
	checkOwner := f.ownerFilterActive(known)

	for _, ev := range events {
		if checkOwner && !f.ownerVisible(ev.OwnerID) {
			continue
		}
		if !f.typeVisible(ev.Type) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (a *Aggregator) project(src Sources, w Window) []model.CalendarEvent {
	events := make([]model.CalendarEvent, 0, len(src.Tasks)+len(src.Deals)+len(src.Projects)+len(src.Invoices)+len(src.Appointments))

	for _, t := range src.Tasks {
		if t.IsSeriesParent() {
			for _, occ := range schedule.Expand([]model.Task{t}, w.Start, w.End) {
				events = append(events, a.fromTask(occ))
			}
			continue
		}
		if t.RecurrenceRule != "" {
			// Unsupported or malformed series: nothing to show.
			continue
		}
		if anchor := t.Anchor(); anchor.IsZero() || !w.contains(anchor) {
			continue
		}
		events = append(events, a.fromTask(t))
	}
	for _, d := range src.Deals {
		if w.contains(d.CloseDate) {
			events = append(events, a.fromDeal(d))
		}
	}
	for _, p := range src.Projects {
		if w.contains(p.Deadline) {
			events = append(events, a.fromProject(p))
		}
	}
	for _, inv := range src.Invoices {
		if w.contains(inv.DueDate) {
			events = append(events, a.fromInvoice(inv))
		}
	}
	for _, ap := range src.Appointments {
		if w.contains(ap.Start) {
			events = append(events, a.fromAppointment(ap))
		}
	}
	return events
}

func (a *Aggregator) fromTask(t model.Task) model.CalendarEvent {
	return model.CalendarEvent{
		ID:       eventID(model.EventTask, t.ID),
		Type:     model.EventTask,
		Date:     t.Anchor(),
		EndDate:  t.DueDate,
		Title:    t.Title,
		Color:    a.palette.color(model.EventTask),
		IsAllDay: t.StartDate.IsZero(),
		OwnerID:  t.OwnerID,
		Data:     t,
	}
}

func (a *Aggregator) fromDeal(d model.Deal) model.CalendarEvent {
	return model.CalendarEvent{
		ID:       eventID(model.EventDeal, d.ID),
		Type:     model.EventDeal,
		Date:     d.CloseDate,
		Title:    d.Title,
		Color:    a.palette.color(model.EventDeal),
		IsAllDay: true,
		OwnerID:  d.OwnerID,
		Data:     d,
	}
}

func (a *Aggregator) fromProject(p model.Project) model.CalendarEvent {
	return model.CalendarEvent{
		ID:       eventID(model.EventProject, p.ID),
		Type:     model.EventProject,
		Date:     p.Deadline,
		Title:    p.Name,
		Color:    a.palette.color(model.EventProject),
		IsAllDay: true,
		OwnerID:  p.OwnerID,
		Data:     p,
	}
}

func (a *Aggregator) fromInvoice(inv model.Invoice) model.CalendarEvent {
	title := "Invoice " + inv.Number
	if inv.Customer != "" {
		title += " · " + inv.Customer
	}
	return model.CalendarEvent{
		ID:       eventID(model.EventInvoice, inv.ID),
		Type:     model.EventInvoice,
		Date:     inv.DueDate,
		Title:    title,
		Color:    a.palette.color(model.EventInvoice),
		IsAllDay: true,
		OwnerID:  model.Unowned,
		Data:     inv,
	}
}

func (a *Aggregator) fromAppointment(ap model.Appointment) model.CalendarEvent {
	return model.CalendarEvent{
		ID:       eventID(model.EventAppointment, ap.ID()),
		Type:     model.EventAppointment,
		Date:     ap.Start,
		EndDate:  ap.End,
		Title:    ap.Summary,
		Color:    a.palette.color(model.EventAppointment),
		IsAllDay: ap.AllDay,
		OwnerID:  ap.OwnerID,
		Data:     ap,
	}
}

// eventID keeps occurrence keys as-is so a virtual occurrence is
// addressable by (seriesId, originalDate).
func eventID(t model.EventType, id string) string {
	if t == model.EventTask {
		if _, ok := model.ParseOccurrenceKey(id); ok {
			return id
		}
	}
	return string(t) + "-" + id
}
