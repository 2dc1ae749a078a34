package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bizcal/internal/calendar"
	"bizcal/internal/depgraph"
	"bizcal/internal/model"
	"bizcal/internal/schedule"
	"bizcal/internal/store"
)

type fakeBackend struct {
	window calendar.Window
	filter calendar.Filter

	patchID    string
	patch      schedule.Patch
	patchScope schedule.Scope

	rescheduled []string
	deps        map[string][]string
}

func (f *fakeBackend) Events(_ context.Context, w calendar.Window, fl calendar.Filter) ([]model.CalendarEvent, error) {
	f.window, f.filter = w, fl
	return []model.CalendarEvent{{ID: "deal-d1", Type: model.EventDeal, Date: w.Start, Title: "Acme"}}, nil
}

func (f *fakeBackend) Occurrences(_ context.Context, w calendar.Window) ([]model.Task, error) {
	f.window = w
	return []model.Task{{ID: "s1@2024-01-02", SeriesID: "s1", OriginalDate: "2024-01-02"}}, nil
}

func (f *fakeBackend) Task(_ context.Context, id string) (model.Task, error) {
	if id == "missing" {
		return model.Task{}, fmt.Errorf("task %s: %w", id, store.ErrNotFound)
	}
	return model.Task{ID: id, Title: "Found"}, nil
}

func (f *fakeBackend) CreateTask(_ context.Context, t model.Task) (model.Task, error) {
	t.ID = "new"
	return t, nil
}

func (f *fakeBackend) EditTask(_ context.Context, id string, patch schedule.Patch, scope schedule.Scope) (model.Task, error) {
	f.patchID, f.patch, f.patchScope = id, patch, scope
	if id == "plain" && scope == schedule.ScopeAll {
		return model.Task{}, schedule.ErrNotSeriesLinked
	}
	return model.Task{ID: id}, nil
}

func (f *fakeBackend) BulkEdit(_ context.Context, ids []string, _ schedule.Patch) ([]model.Task, error) {
	var (
		out  []model.Task
		errs []error
	)
	for _, id := range ids {
		if id == "missing" {
			errs = append(errs, fmt.Errorf("task %s: %w", id, store.ErrNotFound))
			continue
		}
		out = append(out, model.Task{ID: id})
	}
	return out, errors.Join(errs...)
}

func (f *fakeBackend) Reschedule(_ context.Context, typ model.EventType, id string, newDate time.Time, _ schedule.Scope) error {
	if typ == model.EventInvoice {
		return calendar.ErrNotReschedulable
	}
	f.rescheduled = append(f.rescheduled, fmt.Sprintf("%s/%s/%s", typ, id, model.FormatDate(newDate)))
	return nil
}

func (f *fakeBackend) Dependencies(_ context.Context, id string) ([]string, error) {
	if id == "missing" {
		return nil, depgraph.ErrTaskNotFound
	}
	return f.deps[id], nil
}

func (f *fakeBackend) AddDependency(_ context.Context, id, pred string) ([]string, error) {
	if f.deps == nil {
		f.deps = map[string][]string{}
	}
	f.deps[id] = append(f.deps[id], pred)
	return f.deps[id], nil
}

func (f *fakeBackend) RemoveDependency(_ context.Context, id, _ string) ([]string, error) {
	return nil, nil
}

func (f *fakeBackend) DependencyEdges(context.Context) ([]depgraph.Edge, error) {
	return []depgraph.Edge{{From: "a", To: "b"}}, nil
}

func (f *fakeBackend) ExportICS(_ context.Context, out io.Writer, _ calendar.Window, _ calendar.Filter, name string) error {
	_, err := io.WriteString(out, "BEGIN:VCALENDAR\r\nX-WR-CALNAME:"+name+"\r\nEND:VCALENDAR\r\n")
	return err
}

func newTestServer(opts Options) (*fakeBackend, http.Handler) {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC) }
	}
	b := &fakeBackend{}
	return b, NewServer(b, opts).Handler()
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBasicAuthProtectsAPI(t *testing.T) {
	_, h := newTestServer(Options{BasicAuth: &BasicAuth{Username: "u", Password: "p"}})

	if rec := do(h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health: got %d", rec.Code)
	}
	rec := do(h, http.MethodGet, "/api/events", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("events without auth: got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("missing WWW-Authenticate header")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("u", "p")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("events with auth: got %d", rec.Code)
	}
}

func TestEventsQueryParsing(t *testing.T) {
	b, h := newTestServer(Options{})

	rec := do(h, http.MethodGet, "/api/events?from=2024-01-03&to=2024-01-05&owners=1,2&types=task,deal", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body)
	}
	if got := model.FormatDate(b.window.Start); got != "2024-01-03" {
		t.Errorf("window start = %s", got)
	}
	if want := model.EndOfDay(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)); !b.window.End.Equal(want) {
		t.Errorf("window end = %s", b.window.End)
	}
	if !b.filter.Owners.Has(1) || !b.filter.Owners.Has(2) || b.filter.Owners.Has(3) {
		t.Errorf("owners = %v", b.filter.Owners)
	}
	if !b.filter.Types.Has(model.EventDeal) || b.filter.Types.Has(model.EventInvoice) {
		t.Errorf("types = %v", b.filter.Types)
	}
	if !strings.Contains(rec.Body.String(), `"from":"2024-01-03"`) {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestEventsDefaultWindow(t *testing.T) {
	b, h := newTestServer(Options{HorizonDays: 5, BackfillDays: 2})

	if rec := do(h, http.MethodGet, "/api/events", ""); rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	if got := model.FormatDate(b.window.Start); got != "2024-01-08" {
		t.Errorf("start = %s", got)
	}
	if got := model.FormatDate(b.window.End); got != "2024-01-15" {
		t.Errorf("end = %s", got)
	}
	if b.filter.Types != nil || b.filter.Owners != nil {
		t.Errorf("expected an open filter, got %+v", b.filter)
	}
}

func TestEventsRejectsBadQuery(t *testing.T) {
	_, h := newTestServer(Options{})

	for _, q := range []string{"from=yesterday", "owners=x", "types=task,meeting"} {
		if rec := do(h, http.MethodGet, "/api/events?"+q, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d", q, rec.Code)
		}
	}
}

func TestPatchTaskWithScope(t *testing.T) {
	b, h := newTestServer(Options{})

	rec := do(h, http.MethodPatch, "/api/occurrences/s1@2024-01-02?scope=all", `{"title":"Renamed","end_date":""}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body)
	}
	if b.patchID != "s1@2024-01-02" || b.patchScope != schedule.ScopeAll {
		t.Errorf("routed %q with scope %q", b.patchID, b.patchScope)
	}
	if b.patch.Title == nil || *b.patch.Title != "Renamed" {
		t.Errorf("title = %v", b.patch.Title)
	}
	if b.patch.EndDate == nil || !b.patch.EndDate.IsZero() {
		t.Errorf("end_date should be cleared, got %v", b.patch.EndDate)
	}

	if rec := do(h, http.MethodPatch, "/api/tasks/x?scope=some", `{"title":"a"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad scope: got %d", rec.Code)
	}
	if rec := do(h, http.MethodPatch, "/api/tasks/plain?scope=all", `{"title":"a"}`); rec.Code != http.StatusConflict {
		t.Errorf("plain with scope all: got %d", rec.Code)
	}
	if rec := do(h, http.MethodPatch, "/api/tasks/x", `{"colour":"red"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field: got %d", rec.Code)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	_, h := newTestServer(Options{})

	if rec := do(h, http.MethodGet, "/api/tasks/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("got %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/api/tasks/missing/dependencies", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("deps: got %d", rec.Code)
	}
}

func TestCreateTask(t *testing.T) {
	_, h := newTestServer(Options{})

	rec := do(h, http.MethodPost, "/api/tasks", `{"title":"Weekly report","due_date":"2024-01-05","recurrence_rule":"FREQ=WEEKLY"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("got %d: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"due_date":"2024-01-05T00:00:00Z"`) {
		t.Errorf("body = %s", rec.Body)
	}
	rec = do(h, http.MethodPost, "/api/tasks", `{"title":"Call","start_date":"2024-01-05T14:15:00.5Z","due_date":"2024-01-05T15:00:00Z"}`)
	if rec.Code != http.StatusCreated || !strings.Contains(rec.Body.String(), `"start_date":"2024-01-05T14:15:00Z"`) {
		t.Errorf("sub-second start: %d %s", rec.Code, rec.Body)
	}
	if rec := do(h, http.MethodPost, "/api/tasks", `{"title":"x","due_date":"05/01/2024"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad date: got %d", rec.Code)
	}
}

func TestBulkReportsPartialFailures(t *testing.T) {
	_, h := newTestServer(Options{})

	rec := do(h, http.MethodPost, "/api/tasks/bulk", `{"ids":["a","missing","b"],"patch":{"status":"done"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"id":"a"`) || !strings.Contains(body, `"id":"b"`) {
		t.Errorf("updated missing from %s", body)
	}
	if !strings.Contains(body, "task missing: not found") {
		t.Errorf("errors missing from %s", body)
	}

	if rec := do(h, http.MethodPost, "/api/tasks/bulk", `{"ids":["missing"],"patch":{"status":"done"}}`); rec.Code != http.StatusNotFound {
		t.Errorf("all failed: got %d", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/api/tasks/bulk", `{"ids":[],"patch":{}}`); rec.Code != http.StatusBadRequest {
		t.Errorf("no ids: got %d", rec.Code)
	}
}

func TestReschedule(t *testing.T) {
	b, h := newTestServer(Options{})

	rec := do(h, http.MethodPost, "/api/reschedule", `{"type":"deal","id":"d1","new_date":"2024-02-01"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("got %d: %s", rec.Code, rec.Body)
	}
	if len(b.rescheduled) != 1 || b.rescheduled[0] != "deal/d1/2024-02-01" {
		t.Errorf("rescheduled = %v", b.rescheduled)
	}

	if rec := do(h, http.MethodPost, "/api/reschedule", `{"type":"invoice","id":"i1","new_date":"2024-02-01"}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("invoice: got %d", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/api/reschedule", `{"type":"meeting","id":"x","new_date":"2024-02-01"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown type: got %d", rec.Code)
	}
}

func TestDependencyRoutes(t *testing.T) {
	_, h := newTestServer(Options{})

	rec := do(h, http.MethodPost, "/api/tasks/b/dependencies", `{"predecessor":"a"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"depends_on":["a"]`) {
		t.Fatalf("add: %d %s", rec.Code, rec.Body)
	}
	rec = do(h, http.MethodDelete, "/api/tasks/b/dependencies/a", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"depends_on":[]`) {
		t.Fatalf("remove: %d %s", rec.Code, rec.Body)
	}
	if rec := do(h, http.MethodGet, "/api/dependencies", ""); rec.Code != http.StatusOK {
		t.Fatalf("edges: %d", rec.Code)
	}
}

func TestExportContentType(t *testing.T) {
	_, h := newTestServer(Options{})

	rec := do(h, http.MethodGet, "/api/calendar.ics?from=2024-01-01&to=2024-01-31", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "X-WR-CALNAME:bizcal") {
		t.Errorf("body = %q", rec.Body)
	}
}
