package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bizcal/internal/ics"
	appLog "bizcal/internal/log"
	"bizcal/internal/model"
)

// FeedSet keeps the last parsed state of every subscribed ICS feed and
// expands it on demand. A feed that fails to refresh keeps its previous
// events.
type FeedSet struct {
	fetcher *ics.Fetcher
	feeds   []ics.Feed
	loc     *time.Location

	mu          sync.RWMutex
	parsed      map[string][]ics.ParsedEvent
	refreshedAt time.Time
}

func NewFeedSet(fetcher *ics.Fetcher, feeds []ics.Feed, loc *time.Location) *FeedSet {
	return &FeedSet{
		fetcher: fetcher,
		feeds:   feeds,
		loc:     loc,
		parsed:  make(map[string][]ics.ParsedEvent),
	}
}

// Refresh fetches and parses every feed.
func (f *FeedSet) Refresh(ctx context.Context) error {
	if len(f.feeds) == 0 {
		return nil
	}
	start := time.Now()
	results, fetchErr := f.fetcher.FetchAll(ctx, f.feeds)

	next := make(map[string][]ics.ParsedEvent, len(results))
	var errs []error
	if fetchErr != nil {
		errs = append(errs, fetchErr)
	}
	for _, res := range results {
		events, err := ics.Parse(res.Feed, res.Body, f.loc)
		if err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", res.Feed.ID, err))
			continue
		}
		next[res.Feed.ID] = events
	}

	f.mu.Lock()
	for id, events := range next {
		f.parsed[id] = events
	}
	f.refreshedAt = time.Now()
	f.mu.Unlock()

	err := errors.Join(errs...)
	if err != nil {
		appLog.Error("feed refresh incomplete", err, "feeds", len(f.feeds), "refreshed", len(next))
	} else {
		appLog.Info("feeds refreshed", "feeds", len(f.feeds), "took", time.Since(start).String())
	}
	return err
}

// Appointments expands the cached feeds over [from, to].
func (f *FeedSet) Appointments(from, to time.Time) []model.Appointment {
	f.mu.RLock()
	var all []ics.ParsedEvent
	for _, feed := range f.feeds {
		all = append(all, f.parsed[feed.ID]...)
	}
	f.mu.RUnlock()

	return ics.Expand(all, from, to).Appointments
}

func (f *FeedSet) RefreshedAt() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.refreshedAt
}
