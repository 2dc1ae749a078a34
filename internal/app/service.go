package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"bizcal/internal/apperr"
	"bizcal/internal/calendar"
	"bizcal/internal/depgraph"
	"bizcal/internal/ics"
	"bizcal/internal/model"
	"bizcal/internal/schedule"
	"bizcal/internal/store"
)

// Store is everything the service persists through. *store.SQLite
// implements it.
type Store interface {
	schedule.Store
	depgraph.Store
	calendar.EntityStore

	ListTasks(ctx context.Context) ([]model.Task, error)
	ListDeals(ctx context.Context) ([]model.Deal, error)
	ListProjects(ctx context.Context) ([]model.Project, error)
	ListInvoices(ctx context.Context) ([]model.Invoice, error)
	Owners(ctx context.Context) ([]model.OwnerID, error)
}

// AppointmentSource supplies expanded ICS appointments for a window.
type AppointmentSource interface {
	Appointments(from, to time.Time) []model.Appointment
}

// Service wires the scheduling engine to storage. It is the single entry
// point for the HTTP API and the CLI.
type Service struct {
	store       Store
	feeds       AppointmentSource
	resolver    *schedule.Resolver
	aggregator  *calendar.Aggregator
	rescheduler *calendar.Rescheduler
	graph       *depgraph.Graph
	now         func() time.Time
}

// NewService builds a Service. feeds may be nil when no ICS feeds are
// configured.
func NewService(st Store, feeds AppointmentSource, palette calendar.Palette) *Service {
	resolver := schedule.NewResolver(st)
	return &Service{
		store:       st,
		feeds:       feeds,
		resolver:    resolver,
		aggregator:  calendar.NewAggregator(palette),
		rescheduler: calendar.NewRescheduler(resolver, st),
		graph:       depgraph.New(st),
		now:         time.Now,
	}
}

// Sources loads every stream the aggregator projects.
func (s *Service) Sources(ctx context.Context, w calendar.Window) (calendar.Sources, error) {
	var (
		src calendar.Sources
		err error
	)
	if src.Tasks, err = s.store.ListTasks(ctx); err != nil {
		return src, err
	}
	if src.Deals, err = s.store.ListDeals(ctx); err != nil {
		return src, err
	}
	if src.Projects, err = s.store.ListProjects(ctx); err != nil {
		return src, err
	}
	if src.Invoices, err = s.store.ListInvoices(ctx); err != nil {
		return src, err
	}
	if src.Owners, err = s.store.Owners(ctx); err != nil {
		return src, err
	}
	if s.feeds != nil {
		src.Appointments = s.feeds.Appointments(w.Start, w.End)
		for _, ap := range src.Appointments {
			if ap.OwnerID != model.Unowned {
				src.Owners = appendOwner(src.Owners, ap.OwnerID)
			}
		}
	}
	return src, nil
}

func appendOwner(owners []model.OwnerID, id model.OwnerID) []model.OwnerID {
	for _, o := range owners {
		if o == id {
			return owners
		}
	}
	return append(owners, id)
}

// Events returns the unified calendar for w.
func (s *Service) Events(ctx context.Context, w calendar.Window, f calendar.Filter) ([]model.CalendarEvent, error) {
	src, err := s.Sources(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("load calendar sources: %w", err)
	}
	return s.aggregator.Aggregate(src, w, f), nil
}

// Occurrences expands every series parent over w.
func (s *Service) Occurrences(ctx context.Context, w calendar.Window) ([]model.Task, error) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	parents := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.IsSeriesParent() {
			parents = append(parents, t)
		}
	}
	return schedule.Expand(parents, w.Start, w.End), nil
}

// Task resolves id to a persisted task or, for an occurrence key, to the
// override stored for that date or the virtual occurrence its series
// generates on it.
func (s *Service) Task(ctx context.Context, id string) (model.Task, error) {
	t, ok, err := s.store.GetTask(ctx, id)
	if err != nil {
		return model.Task{}, err
	}
	if ok {
		return t, nil
	}

	key, isKey := model.ParseOccurrenceKey(id)
	if !isKey {
		return model.Task{}, fmt.Errorf("task %s: %w", id, store.ErrNotFound)
	}
	// A detached date is an exception on the parent; its override record
	// now answers for the key.
	override, ok, err := s.store.FindOverride(ctx, key)
	if err != nil {
		return model.Task{}, err
	}
	if ok {
		return override, nil
	}
	parent, ok, err := s.store.GetTask(ctx, key.SeriesID)
	if err != nil {
		return model.Task{}, err
	}
	if !ok {
		return model.Task{}, fmt.Errorf("occurrence %s: %w", id, schedule.ErrSeriesNotFound)
	}
	occ, ok := schedule.FindOccurrence(parent, key.Date)
	if !ok {
		return model.Task{}, fmt.Errorf("occurrence %s: %w", id, store.ErrNotFound)
	}
	return occ, nil
}

// CreateTask validates and stores a new plain task or series parent.
func (s *Service) CreateTask(ctx context.Context, t model.Task) (model.Task, error) {
	t.ID, t.SeriesID, t.OriginalDate, t.OverrideOf = "", "", "", ""
	if t.Status == "" {
		t.Status = model.TaskTodo
	}
	if t.Priority == "" {
		t.Priority = model.PriorityMedium
	}
	// Series expansion works in whole seconds.
	t.StartDate = t.StartDate.Truncate(time.Second)
	t.DueDate = t.DueDate.Truncate(time.Second)
	t.EndDate = t.EndDate.Truncate(time.Second)
	err := validation.ValidateStruct(&t,
		validation.Field(&t.Title, validation.Required),
		validation.Field(&t.Status, validation.In(model.TaskTodo, model.TaskInProgress, model.TaskDone)),
		validation.Field(&t.Priority, validation.In(model.PriorityLow, model.PriorityMedium, model.PriorityHigh)),
		validation.Field(&t.OwnerID, validation.Min(model.OwnerID(0))),
		validation.Field(&t.DueDate, validation.When(t.StartDate.IsZero(), validation.Required)),
	)
	if err != nil {
		return model.Task{}, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	return s.store.CreateTask(ctx, t)
}

// EditTask patches the task or occurrence identified by id.
func (s *Service) EditTask(ctx context.Context, id string, patch schedule.Patch, scope schedule.Scope) (model.Task, error) {
	if patch.IsEmpty() {
		return model.Task{}, fmt.Errorf("%w: empty patch", apperr.ErrInvalidInput)
	}
	t, err := s.Task(ctx, id)
	if err != nil {
		return model.Task{}, err
	}
	return s.resolver.Edit(ctx, t, patch, scope)
}

// BulkEdit applies patch to every id. Occurrences are edited with scope
// "this". Unresolvable ids are reported in the joined error and skipped.
func (s *Service) BulkEdit(ctx context.Context, ids []string, patch schedule.Patch) ([]model.Task, error) {
	if patch.IsEmpty() {
		return nil, fmt.Errorf("%w: empty patch", apperr.ErrInvalidInput)
	}
	tasks := make([]model.Task, 0, len(ids))
	var errs []error
	for _, id := range ids {
		t, err := s.Task(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		tasks = append(tasks, t)
	}
	updated, err := s.resolver.ApplyBatch(ctx, tasks, patch)
	return updated, errors.Join(append(errs, err)...)
}

// Reschedule moves the event of type typ and entity id to newDate.
func (s *Service) Reschedule(ctx context.Context, typ model.EventType, id string, newDate time.Time, scope schedule.Scope) error {
	ev := model.CalendarEvent{Type: typ}
	switch typ {
	case model.EventTask:
		t, err := s.Task(ctx, id)
		if err != nil {
			return err
		}
		ev.ID, ev.Data = id, t
	case model.EventDeal:
		ev.ID, ev.Data = "deal-"+id, model.Deal{ID: id}
	case model.EventProject:
		ev.ID, ev.Data = "project-"+id, model.Project{ID: id}
	default:
		ev.ID = string(typ) + "-" + id
	}
	return s.rescheduler.Reschedule(ctx, ev, newDate, scope)
}

func (s *Service) Dependencies(ctx context.Context, taskID string) ([]string, error) {
	return s.graph.List(ctx, taskID)
}

func (s *Service) AddDependency(ctx context.Context, taskID, predecessor string) ([]string, error) {
	return s.graph.Add(ctx, taskID, predecessor)
}

func (s *Service) RemoveDependency(ctx context.Context, taskID, predecessor string) ([]string, error) {
	return s.graph.Remove(ctx, taskID, predecessor)
}

// DependencyEdges returns every edge for the graph view.
func (s *Service) DependencyEdges(ctx context.Context) ([]depgraph.Edge, error) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	return depgraph.Edges(tasks), nil
}

// ExportICS writes the filtered calendar for w as an iCalendar document.
func (s *Service) ExportICS(ctx context.Context, out io.Writer, w calendar.Window, f calendar.Filter, name string) error {
	events, err := s.Events(ctx, w, f)
	if err != nil {
		return err
	}
	return ics.Export(out, events, name, s.now())
}
