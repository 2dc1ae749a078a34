package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "bizcal/internal/log"
	"bizcal/internal/model"
	"bizcal/internal/schedule"
)

// ErrNotReschedulable is returned for event types whose date is owned by
// an outside system (invoices, ICS appointments).
var ErrNotReschedulable = errors.New("event type cannot be rescheduled")

// TaskEditor routes task edits; *schedule.Resolver implements it.
type TaskEditor interface {
	Edit(ctx context.Context, t model.Task, patch schedule.Patch, scope schedule.Scope) (model.Task, error)
}

// EntityStore mutates the date fields of non-task entities.
type EntityStore interface {
	SetDealCloseDate(ctx context.Context, id string, d time.Time) error
	SetProjectDeadline(ctx context.Context, id string, d time.Time) error
}

// Rescheduler applies a drag-and-drop move of a calendar event to the
// owning entity. Callers re-aggregate afterwards to see the change.
type Rescheduler struct {
	tasks    TaskEditor
	entities EntityStore
}

func NewRescheduler(tasks TaskEditor, entities EntityStore) *Rescheduler {
	return &Rescheduler{tasks: tasks, entities: entities}
}

// Reschedule moves ev to newDate. Tasks keep their duration and go through
// the scope resolver when series-linked; scope is ignored for plain tasks.
func (r *Rescheduler) Reschedule(ctx context.Context, ev model.CalendarEvent, newDate time.Time, scope schedule.Scope) error {
	switch ev.Type {
	case model.EventTask:
		t, ok := ev.Data.(model.Task)
		if !ok {
			return fmt.Errorf("calendar: reschedule %s: payload is %T, not a task", ev.ID, ev.Data)
		}
		if _, err := r.tasks.Edit(ctx, t, schedule.Shift(t, newDate), scope); err != nil {
			return fmt.Errorf("calendar: reschedule task %s: %w", t.ID, err)
		}

	case model.EventDeal:
		d, ok := ev.Data.(model.Deal)
		if !ok {
			return fmt.Errorf("calendar: reschedule %s: payload is %T, not a deal", ev.ID, ev.Data)
		}
		if err := r.entities.SetDealCloseDate(ctx, d.ID, model.DateOf(newDate)); err != nil {
			return fmt.Errorf("calendar: reschedule deal %s: %w", d.ID, err)
		}

	case model.EventProject:
		p, ok := ev.Data.(model.Project)
		if !ok {
			return fmt.Errorf("calendar: reschedule %s: payload is %T, not a project", ev.ID, ev.Data)
		}
		if err := r.entities.SetProjectDeadline(ctx, p.ID, model.DateOf(newDate)); err != nil {
			return fmt.Errorf("calendar: reschedule project %s: %w", p.ID, err)
		}

	default:
		return fmt.Errorf("calendar: %s: %w", ev.Type, ErrNotReschedulable)
	}

	appLog.Info("calendar: event rescheduled", "event", ev.ID, "type", string(ev.Type),
		"new_date", model.FormatDate(newDate), "scope", string(scope))
	return nil
}
