// Package web serves the calendar HTTP API.
package web

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bizcal/internal/calendar"
	"bizcal/internal/depgraph"
	appLog "bizcal/internal/log"
	"bizcal/internal/model"
	"bizcal/internal/schedule"
)

// Backend is the service the API fronts; *app.Service implements it.
type Backend interface {
	Events(ctx context.Context, w calendar.Window, f calendar.Filter) ([]model.CalendarEvent, error)
	Occurrences(ctx context.Context, w calendar.Window) ([]model.Task, error)
	Task(ctx context.Context, id string) (model.Task, error)
	CreateTask(ctx context.Context, t model.Task) (model.Task, error)
	EditTask(ctx context.Context, id string, patch schedule.Patch, scope schedule.Scope) (model.Task, error)
	BulkEdit(ctx context.Context, ids []string, patch schedule.Patch) ([]model.Task, error)
	Reschedule(ctx context.Context, typ model.EventType, id string, newDate time.Time, scope schedule.Scope) error
	Dependencies(ctx context.Context, taskID string) ([]string, error)
	AddDependency(ctx context.Context, taskID, predecessor string) ([]string, error)
	RemoveDependency(ctx context.Context, taskID, predecessor string) ([]string, error)
	DependencyEdges(ctx context.Context) ([]depgraph.Edge, error)
	ExportICS(ctx context.Context, out io.Writer, w calendar.Window, f calendar.Filter, name string) error
}

// FeedStatus reports when ICS feeds were last refreshed.
type FeedStatus interface {
	RefreshedAt() time.Time
}

type BasicAuth struct {
	Username string
	Password string
}

type Options struct {
	// BasicAuth, when set with both fields non-empty, protects every route
	// except /health.
	BasicAuth *BasicAuth

	// Default window when a request omits from/to:
	// [today - BackfillDays, today + HorizonDays].
	HorizonDays  int
	BackfillDays int
	WeekStart    time.Weekday

	Status FeedStatus

	// Now defaults to time.Now.
	Now func() time.Time
}

type Server struct {
	backend Backend
	opts    Options
	router  chi.Router
}

func NewServer(backend Backend, opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = 30
	}
	s := &Server{backend: backend, opts: opts}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.basicAuthEnabled() {
			appLog.Info("HTTP basic auth enabled")
			r.Use(s.basicAuth)
		}

		r.Get("/api/events", s.handleEvents)
		r.Get("/api/occurrences", s.handleOccurrences)
		r.Patch("/api/occurrences/{id}", s.handlePatchTask)
		r.Get("/api/calendar.ics", s.handleExport)

		r.Post("/api/tasks", s.handleCreateTask)
		r.Post("/api/tasks/bulk", s.handleBulk)
		r.Get("/api/tasks/{id}", s.handleGetTask)
		r.Patch("/api/tasks/{id}", s.handlePatchTask)

		r.Get("/api/tasks/{id}/dependencies", s.handleListDeps)
		r.Post("/api/tasks/{id}/dependencies", s.handleAddDep)
		r.Delete("/api/tasks/{id}/dependencies/{dep}", s.handleRemoveDep)
		r.Get("/api/dependencies", s.handleEdges)

		r.Post("/api/reschedule", s.handleReschedule)
	})
	return r
}

func (s *Server) basicAuthEnabled() bool {
	a := s.opts.BasicAuth
	return a != nil && a.Username != "" && a.Password != ""
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	username, password := s.opts.BasicAuth.Username, s.opts.BasicAuth.Password
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="bizcal", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"took", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
