// Package app assembles storage, ICS feeds, the scheduling engine and the
// HTTP API into a running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"bizcal/internal/calendar"
	"bizcal/internal/config"
	"bizcal/internal/ics"
	appLog "bizcal/internal/log"
	"bizcal/internal/model"
	"bizcal/internal/store"
	"bizcal/internal/web"
)

const shutdownTimeout = 10 * time.Second

// Runtime is a built application ready to serve or answer one-shot
// commands. Close releases the store when Runtime opened it.
type Runtime struct {
	Config  *config.Config
	Service *Service
	Feeds   *FeedSet

	closeStore func() error
}

func (r *Runtime) Close() error {
	if r.closeStore == nil {
		return nil
	}
	return r.closeStore()
}

// Build wires the application from options without starting anything.
func Build(opts ...Option) (*Runtime, error) {
	a := &application{}
	for _, opt := range opts {
		opt(a)
	}
	if a.config == nil {
		return nil, errors.New("config is required")
	}
	cfg := a.config
	appLog.Configure(cfg.LogLevel, cfg.LogConsole)

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}

	rt := &Runtime{Config: cfg}
	st := a.store
	if st == nil {
		db, err := store.Open(store.Config{Path: cfg.Storage.Path, BusyTimeout: cfg.Storage.BusyTimeout})
		if err != nil {
			return nil, err
		}
		st = db
		rt.closeStore = db.Close
	}

	feeds := make([]ics.Feed, 0, len(cfg.ICS))
	for _, fc := range cfg.ICS {
		feeds = append(feeds, ics.Feed{ID: fc.ID, Name: fc.Name, URL: fc.URL, OwnerID: model.OwnerID(fc.OwnerID)})
	}
	rt.Feeds = NewFeedSet(ics.NewFetcher(cfg.ICSCacheDir, a.httpClient), feeds, loc)
	rt.Service = NewService(st, rt.Feeds, paletteFrom(cfg.Colors))

	appLog.Info("application built",
		"storage", cfg.Storage.Path,
		"feeds", len(feeds),
		"timezone", cfg.Timezone,
		"refresh", cfg.RefreshCron,
	)
	return rt, nil
}

func paletteFrom(colors map[string]string) calendar.Palette {
	p := make(calendar.Palette, len(colors))
	for k, v := range colors {
		if t, ok := model.ParseEventType(k); ok {
			p[t] = v
		}
	}
	return p
}

// Run builds the application and serves the HTTP API until ctx is done.
// ICS feeds are refreshed once at startup and then on the configured cron
// schedule.
func Run(ctx context.Context, opts ...Option) error {
	rt, err := Build(opts...)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg := rt.Config

	srv := web.NewServer(rt.Service, web.Options{
		BasicAuth:    basicAuth(cfg),
		HorizonDays:  cfg.HorizonDays,
		BackfillDays: cfg.BackfillDays,
		WeekStart:    cfg.FirstWeekday(),
		Status:       rt.Feeds,
	})
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return runRefresher(gctx, rt.Feeds, cfg.RefreshCron)
	})

	g.Go(func() error {
		<-gctx.Done()
		appLog.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			appLog.Error("http shutdown failed", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		appLog.Error("application stopped with error", err)
		return err
	}
	appLog.Info("application stopped")
	return nil
}

// runRefresher refreshes feeds immediately and then on spec until ctx is
// cancelled. Refresh failures are logged, never fatal.
func runRefresher(ctx context.Context, feeds *FeedSet, spec string) error {
	_ = feeds.Refresh(ctx)

	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		_ = feeds.Refresh(ctx)
	}); err != nil {
		return fmt.Errorf("refresh schedule %q: %w", spec, err)
	}
	c.Start()
	appLog.Info("feed refresher started", "schedule", spec)

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func basicAuth(cfg *config.Config) *web.BasicAuth {
	if cfg.BasicAuth == nil {
		return nil
	}
	return &web.BasicAuth{Username: cfg.BasicAuth.Username, Password: cfg.BasicAuth.Password}
}
