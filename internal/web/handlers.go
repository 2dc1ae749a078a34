package web

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"bizcal/internal/apperr"
	"bizcal/internal/calendar"
	"bizcal/internal/model"
	"bizcal/internal/schedule"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":     "ok",
		"week_start": strings.ToLower(s.opts.WeekStart.String()),
	}
	if s.opts.Status != nil {
		if at := s.opts.Status.RefreshedAt(); !at.IsZero() {
			resp["feeds_refreshed_at"] = at.UTC()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// window reads from/to (YYYY-MM-DD). A missing bound falls back to the
// configured backfill/horizon around today.
func (s *Server) window(r *http.Request) (calendar.Window, error) {
	today := model.DateOf(s.opts.Now())
	from := today.AddDate(0, 0, -s.opts.BackfillDays)
	to := today.AddDate(0, 0, s.opts.HorizonDays)

	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		d, err := model.ParseDate(v)
		if err != nil {
			return calendar.Window{}, fmt.Errorf("%w: from: %v", apperr.ErrInvalidInput, err)
		}
		from = d
	}
	if v := q.Get("to"); v != "" {
		d, err := model.ParseDate(v)
		if err != nil {
			return calendar.Window{}, fmt.Errorf("%w: to: %v", apperr.ErrInvalidInput, err)
		}
		to = d
	}
	return calendar.DayWindow(from, to), nil
}

func filterFrom(r *http.Request) (calendar.Filter, error) {
	q := r.URL.Query()
	owners, err := calendar.ParseOwners(q.Get("owners"))
	if err != nil {
		return calendar.Filter{}, fmt.Errorf("%w: owners: %v", apperr.ErrInvalidInput, err)
	}
	f := calendar.Filter{Owners: owners}
	if q.Has("types") {
		types, unknown := calendar.ParseTypes(q.Get("types"))
		if len(unknown) > 0 {
			return calendar.Filter{}, fmt.Errorf("%w: unknown event types %s", apperr.ErrInvalidInput, strings.Join(unknown, ","))
		}
		f.Types = types
	}
	return f, nil
}

type eventsResponse struct {
	From   string                `json:"from"`
	To     string                `json:"to"`
	Events []model.CalendarEvent `json:"events"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	win, err := s.window(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	f, err := filterFrom(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	events, err := s.backend.Events(r.Context(), win, f)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		From:   model.FormatDate(win.Start),
		To:     model.FormatDate(win.End),
		Events: events,
	})
}

func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	win, err := s.window(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	occ, err := s.backend.Occurrences(r.Context(), win)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"occurrences": occ})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	win, err := s.window(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	f, err := filterFrom(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := s.backend.ExportICS(r.Context(), &buf, win, f, "bizcal"); err != nil {
		writeErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="bizcal.ics"`)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.backend.Task(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// taskRequest carries dates as YYYY-MM-DD or RFC 3339 strings.
type taskRequest struct {
	Title          string           `json:"title"`
	Description    string           `json:"description"`
	Status         model.TaskStatus `json:"status"`
	Priority       model.Priority   `json:"priority"`
	OwnerID        model.OwnerID    `json:"owner_id"`
	StartDate      string           `json:"start_date"`
	DueDate        string           `json:"due_date"`
	RecurrenceRule string           `json:"recurrence_rule"`
	EndDate        string           `json:"end_date"`
	DependsOn      []string         `json:"depends_on"`
}

func (req taskRequest) toTask() (model.Task, error) {
	t := model.Task{
		Title:          req.Title,
		Description:    req.Description,
		Status:         req.Status,
		Priority:       req.Priority,
		OwnerID:        req.OwnerID,
		RecurrenceRule: req.RecurrenceRule,
		DependsOn:      req.DependsOn,
	}
	var err error
	if t.StartDate, err = optionalTime("start_date", req.StartDate); err != nil {
		return t, err
	}
	if t.DueDate, err = optionalTime("due_date", req.DueDate); err != nil {
		return t, err
	}
	if t.EndDate, err = optionalTime("end_date", req.EndDate); err != nil {
		return t, err
	}
	return t, nil
}

func optionalTime(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := model.ParseDateOrTime(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", apperr.ErrInvalidInput, field, err)
	}
	return t.Truncate(time.Second), nil
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	t, err := req.toTask()
	if err != nil {
		writeErr(w, r, err)
		return
	}
	created, err := s.backend.CreateTask(r.Context(), t)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// patchRequest mirrors schedule.Patch with string dates. An empty date
// string clears the field.
type patchRequest struct {
	Title          *string           `json:"title"`
	Description    *string           `json:"description"`
	Status         *model.TaskStatus `json:"status"`
	Priority       *model.Priority   `json:"priority"`
	OwnerID        *model.OwnerID    `json:"owner_id"`
	StartDate      *string           `json:"start_date"`
	DueDate        *string           `json:"due_date"`
	RecurrenceRule *string           `json:"recurrence_rule"`
	EndDate        *string           `json:"end_date"`
}

func (req patchRequest) toPatch() (schedule.Patch, error) {
	p := schedule.Patch{
		Title:          req.Title,
		Description:    req.Description,
		Status:         req.Status,
		Priority:       req.Priority,
		OwnerID:        req.OwnerID,
		RecurrenceRule: req.RecurrenceRule,
	}
	var err error
	if p.StartDate, err = patchTime("start_date", req.StartDate); err != nil {
		return p, err
	}
	if p.DueDate, err = patchTime("due_date", req.DueDate); err != nil {
		return p, err
	}
	if p.EndDate, err = patchTime("end_date", req.EndDate); err != nil {
		return p, err
	}
	return p, nil
}

func patchTime(field string, v *string) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	t, err := optionalTime(field, *v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request) {
	scope, err := schedule.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req patchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		writeErr(w, r, err)
		return
	}
	updated, err := s.backend.EditTask(r.Context(), chi.URLParam(r, "id"), patch, scope)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type bulkRequest struct {
	IDs   []string     `json:"ids"`
	Patch patchRequest `json:"patch"`
}

type bulkResponse struct {
	Updated []model.Task `json:"updated"`
	Errors  []string     `json:"errors,omitempty"`
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids are required")
		return
	}
	patch, err := req.Patch.toPatch()
	if err != nil {
		writeErr(w, r, err)
		return
	}
	updated, err := s.backend.BulkEdit(r.Context(), req.IDs, patch)
	if err != nil && len(updated) == 0 {
		writeErr(w, r, err)
		return
	}
	resp := bulkResponse{Updated: updated}
	if err != nil {
		resp.Errors = splitJoined(err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// splitJoined flattens an errors.Join result into its messages.
func splitJoined(err error) []string {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range j.Unwrap() {
			out = append(out, splitJoined(e)...)
		}
		return out
	}
	return []string{err.Error()}
}

type rescheduleRequest struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	NewDate string `json:"new_date"`
	Scope   string `json:"scope"`
}

func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	typ, ok := model.ParseEventType(req.Type)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown event type %q", req.Type))
		return
	}
	if req.ID == "" || req.NewDate == "" {
		writeError(w, http.StatusBadRequest, "id and new_date are required")
		return
	}
	newDate, err := model.ParseDateOrTime(req.NewDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "new_date: "+err.Error())
		return
	}
	scope, err := schedule.ParseScope(req.Scope)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.backend.Reschedule(r.Context(), typ, req.ID, newDate, scope); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type depsResponse struct {
	TaskID    string   `json:"task_id"`
	DependsOn []string `json:"depends_on"`
}

func writeDeps(w http.ResponseWriter, status int, id string, deps []string) {
	if deps == nil {
		deps = []string{}
	}
	writeJSON(w, status, depsResponse{TaskID: id, DependsOn: deps})
}

func (s *Server) handleListDeps(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deps, err := s.backend.Dependencies(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeDeps(w, http.StatusOK, id, deps)
}

func (s *Server) handleAddDep(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Predecessor string `json:"predecessor"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if req.Predecessor == "" {
		writeError(w, http.StatusBadRequest, "predecessor is required")
		return
	}
	deps, err := s.backend.AddDependency(r.Context(), id, req.Predecessor)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeDeps(w, http.StatusOK, id, deps)
}

func (s *Server) handleRemoveDep(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deps, err := s.backend.RemoveDependency(r.Context(), id, chi.URLParam(r, "dep"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeDeps(w, http.StatusOK, id, deps)
}

func (s *Server) handleEdges(w http.ResponseWriter, r *http.Request) {
	edges, err := s.backend.DependencyEdges(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"edges": edges})
}
