package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"bizcal/internal/model"
	"bizcal/internal/schedule"
)

type editCall struct {
	task  model.Task
	patch schedule.Patch
	scope schedule.Scope
}

type fakeEditor struct{ calls []editCall }

func (f *fakeEditor) Edit(_ context.Context, t model.Task, p schedule.Patch, s schedule.Scope) (model.Task, error) {
	f.calls = append(f.calls, editCall{t, p, s})
	p.Apply(&t)
	return t, nil
}

type fakeEntities struct {
	deals    map[string]time.Time
	projects map[string]time.Time
}

func (f *fakeEntities) SetDealCloseDate(_ context.Context, id string, d time.Time) error {
	f.deals[id] = d
	return nil
}

func (f *fakeEntities) SetProjectDeadline(_ context.Context, id string, d time.Time) error {
	f.projects[id] = d
	return nil
}

func newFakes() (*fakeEditor, *fakeEntities) {
	return &fakeEditor{}, &fakeEntities{deals: map[string]time.Time{}, projects: map[string]time.Time{}}
}

func TestRescheduleTaskKeepsDuration(t *testing.T) {
	editor, entities := newFakes()
	r := NewRescheduler(editor, entities)

	events := NewAggregator(nil).Aggregate(fixture(), window(), Filter{Types: NewTypeSet(model.EventTask)})
	var timed model.CalendarEvent
	for _, ev := range events {
		if ev.ID == "task-t1" {
			timed = ev
		}
	}

	if err := r.Reschedule(context.Background(), timed, day("2024-01-08"), schedule.ScopeThis); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if len(editor.calls) != 1 {
		t.Fatalf("edit calls = %d", len(editor.calls))
	}
	p := editor.calls[0].patch
	if p.StartDate == nil || !p.StartDate.Equal(time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("StartDate = %v", p.StartDate)
	}
	if p.DueDate == nil || p.DueDate.Sub(*p.StartDate) != 3*time.Hour {
		t.Errorf("DueDate = %v", p.DueDate)
	}
}

func TestRescheduleOccurrencePassesScope(t *testing.T) {
	editor, entities := newFakes()
	r := NewRescheduler(editor, entities)

	events := NewAggregator(nil).Aggregate(fixture(), window(), Filter{Types: NewTypeSet(model.EventTask)})
	occ := events[0]
	if occ.ID != "s1@2024-01-03" {
		t.Fatalf("first event = %s", occ.ID)
	}
	if err := r.Reschedule(context.Background(), occ, day("2024-01-10"), schedule.ScopeAll); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	call := editor.calls[0]
	if call.scope != schedule.ScopeAll || call.task.SeriesID != "s1" {
		t.Errorf("call = %+v", call)
	}
	if call.patch.DueDate == nil || !call.patch.DueDate.Equal(day("2024-01-10")) {
		t.Errorf("DueDate = %v", call.patch.DueDate)
	}
}

func TestRescheduleDealAndProject(t *testing.T) {
	editor, entities := newFakes()
	r := NewRescheduler(editor, entities)
	ctx := context.Background()

	deal := model.CalendarEvent{ID: "deal-d1", Type: model.EventDeal, Data: model.Deal{ID: "d1"}}
	if err := r.Reschedule(ctx, deal, time.Date(2024, 2, 1, 15, 0, 0, 0, time.UTC), schedule.ScopeThis); err != nil {
		t.Fatalf("Reschedule deal: %v", err)
	}
	if got := entities.deals["d1"]; !got.Equal(day("2024-02-01")) {
		t.Errorf("deal close date = %v", got)
	}

	project := model.CalendarEvent{ID: "project-p1", Type: model.EventProject, Data: model.Project{ID: "p1"}}
	if err := r.Reschedule(ctx, project, day("2024-03-01"), schedule.ScopeThis); err != nil {
		t.Fatalf("Reschedule project: %v", err)
	}
	if got := entities.projects["p1"]; !got.Equal(day("2024-03-01")) {
		t.Errorf("project deadline = %v", got)
	}
	if len(editor.calls) != 0 {
		t.Error("entity reschedule touched tasks")
	}
}

func TestRescheduleRejectsInvoices(t *testing.T) {
	editor, entities := newFakes()
	r := NewRescheduler(editor, entities)

	inv := model.CalendarEvent{ID: "invoice-i1", Type: model.EventInvoice, Data: model.Invoice{ID: "i1"}}
	err := r.Reschedule(context.Background(), inv, day("2024-02-01"), schedule.ScopeThis)
	if !errors.Is(err, ErrNotReschedulable) {
		t.Errorf("err = %v, want ErrNotReschedulable", err)
	}
}

func TestRescheduleBadPayload(t *testing.T) {
	editor, entities := newFakes()
	r := NewRescheduler(editor, entities)

	ev := model.CalendarEvent{ID: "task-x", Type: model.EventTask, Data: "oops"}
	if err := r.Reschedule(context.Background(), ev, day("2024-02-01"), schedule.ScopeThis); err == nil {
		t.Error("expected error for non-task payload")
	}
}
