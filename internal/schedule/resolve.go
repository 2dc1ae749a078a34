package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	appLog "bizcal/internal/log"
	"bizcal/internal/model"
)

var (
	// ErrSeriesNotFound is returned when the series parent of an occurrence
	// no longer exists.
	ErrSeriesNotFound = errors.New("series parent not found")
	// ErrNotSeriesLinked is returned when a scope-aware update is attempted
	// on a task that carries no series link.
	ErrNotSeriesLinked = errors.New("task is not linked to a series")
	ErrInvalidScope    = errors.New("invalid scope")
)

// Scope selects what a series-linked edit applies to.
type Scope string

const (
	ScopeThis Scope = "this"
	ScopeAll  Scope = "all"
)

// ParseScope accepts "this" and "all". An empty string defaults to "this".
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeThis:
		return ScopeThis, nil
	case ScopeAll:
		return ScopeAll, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidScope, s)
	}
}

// Store is the persistence the resolver writes through. Implementations
// must treat AddException as set insertion.
type Store interface {
	GetTask(ctx context.Context, id string) (model.Task, bool, error)
	UpdateTask(ctx context.Context, t model.Task) error
	CreateTask(ctx context.Context, t model.Task) (model.Task, error)
	AddException(ctx context.Context, seriesID, date string) error
	FindOverride(ctx context.Context, key model.OccurrenceKey) (model.Task, bool, error)
}

// Resolver applies edits to series-linked tasks.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// ApplyUpdate applies patch to a series-linked task.
//
//   - ScopeAll patches the series parent; every later expansion reflects it
//     and recorded exceptions are kept.
//   - ScopeThis records the occurrence date as an exception and stores the
//     patched occurrence as a standalone task. Repeating the edit updates
//     that same standalone task.
//
// It returns the persisted record that now carries the change.
func (r *Resolver) ApplyUpdate(ctx context.Context, t model.Task, patch Patch, scope Scope) (model.Task, error) {
	if !t.IsSeriesLinked() {
		return model.Task{}, fmt.Errorf("schedule: apply update to %q: %w", t.ID, ErrNotSeriesLinked)
	}

	parent, ok, err := r.store.GetTask(ctx, t.SeriesID)
	if err != nil {
		return model.Task{}, fmt.Errorf("schedule: load series %q: %w", t.SeriesID, err)
	}
	if !ok {
		appLog.Warn("schedule: series parent vanished; update rejected",
			"series", t.SeriesID, "occurrence", t.ID, "scope", string(scope))
		return model.Task{}, fmt.Errorf("schedule: series %q: %w", t.SeriesID, ErrSeriesNotFound)
	}

	switch scope {
	case ScopeAll:
		return r.updateSeries(ctx, parent, t, patch)
	case ScopeThis:
		return r.detachOccurrence(ctx, parent, t, patch)
	default:
		return model.Task{}, fmt.Errorf("schedule: %w: %q", ErrInvalidScope, scope)
	}
}

func (r *Resolver) updateSeries(ctx context.Context, parent, occ model.Task, patch Patch) (model.Task, error) {
	patch.applyToSeries(&parent, occ)
	if err := r.store.UpdateTask(ctx, parent); err != nil {
		return model.Task{}, fmt.Errorf("schedule: update series %q: %w", parent.ID, err)
	}
	appLog.Info("schedule: series updated", "series", parent.ID, "from_occurrence", occ.OriginalDate)
	return parent, nil
}

func (r *Resolver) detachOccurrence(ctx context.Context, parent, occ model.Task, patch Patch) (model.Task, error) {
	key, ok := occ.Key()
	if !ok {
		return model.Task{}, fmt.Errorf("schedule: occurrence %q has no original date: %w", occ.ID, ErrNotSeriesLinked)
	}

	// Write the override before suppressing the occurrence so a failure
	// never makes the date disappear from the calendar.
	override, found, err := r.store.FindOverride(ctx, key)
	if err != nil {
		return model.Task{}, fmt.Errorf("schedule: find override %s: %w", key, err)
	}
	if found {
		patch.applyToOverride(&override)
		if err := r.store.UpdateTask(ctx, override); err != nil {
			return model.Task{}, fmt.Errorf("schedule: update override %s: %w", key, err)
		}
	} else {
		override = standaloneFrom(occ, key)
		patch.applyToOverride(&override)
		override, err = r.store.CreateTask(ctx, override)
		if err != nil {
			return model.Task{}, fmt.Errorf("schedule: create override %s: %w", key, err)
		}
	}

	if !parent.HasException(key.Date) {
		if err := r.store.AddException(ctx, parent.ID, key.Date); err != nil {
			return model.Task{}, fmt.Errorf("schedule: add exception %s: %w", key, err)
		}
	}

	appLog.Info("schedule: occurrence detached", "series", parent.ID, "date", key.Date, "override", override.ID)
	return override, nil
}

// standaloneFrom turns a virtual occurrence into a plain task record.
func standaloneFrom(occ model.Task, key model.OccurrenceKey) model.Task {
	t := occ.Clone()
	t.ID = ""
	t.SeriesID = ""
	t.OriginalDate = ""
	t.RecurrenceRule = ""
	t.RecurrenceExceptions = nil
	t.EndDate = time.Time{}
	t.OverrideOf = key.String()
	return t
}

// Edit is the caller-side dispatch: series-linked tasks go through
// ApplyUpdate with scope, plain tasks are patched directly and scope is
// ignored.
func (r *Resolver) Edit(ctx context.Context, t model.Task, patch Patch, scope Scope) (model.Task, error) {
	if t.IsSeriesLinked() {
		return r.ApplyUpdate(ctx, t, patch, scope)
	}
	patch.Apply(&t)
	if err := r.store.UpdateTask(ctx, t); err != nil {
		return model.Task{}, fmt.Errorf("schedule: update task %q: %w", t.ID, err)
	}
	return t, nil
}

// ApplyBatch patches many tasks without prompting. Series-linked tasks are
// always edited with ScopeThis so a bulk change never rewrites a whole
// series. Failures do not stop the sweep; they are joined into the
// returned error.
func (r *Resolver) ApplyBatch(ctx context.Context, tasks []model.Task, patch Patch) ([]model.Task, error) {
	out := make([]model.Task, 0, len(tasks))
	var errs []error
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		updated, err := r.Edit(ctx, t, patch, ScopeThis)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, updated)
	}
	if len(errs) > 0 {
		appLog.Error("schedule: batch update incomplete", errors.Join(errs...),
			"requested", len(tasks), "applied", len(out))
	}
	return out, errors.Join(errs...)
}
