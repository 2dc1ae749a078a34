package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"bizcal/internal/model"
)

const taskColumns = `id, title, description, status, priority, owner_id,
	start_date, due_date, end_date, recurrence_rule, recurrence_exceptions,
	override_of, depends_on`

func scanTask(sc scanner) (model.Task, error) {
	var (
		t                           model.Task
		owner                       int64
		start, due, end             string
		exceptionsJSON, dependsJSON string
		status, priority            string
	)
	if err := sc.Scan(&t.ID, &t.Title, &t.Description, &status, &priority, &owner,
		&start, &due, &end, &t.RecurrenceRule, &exceptionsJSON,
		&t.OverrideOf, &dependsJSON); err != nil {
		return model.Task{}, err
	}
	t.Status = model.TaskStatus(status)
	t.Priority = model.Priority(priority)
	t.OwnerID = model.OwnerID(owner)

	var err error
	if t.StartDate, err = parseTime(start); err != nil {
		return model.Task{}, fmt.Errorf("task %s start_date: %w", t.ID, err)
	}
	if t.DueDate, err = parseTime(due); err != nil {
		return model.Task{}, fmt.Errorf("task %s due_date: %w", t.ID, err)
	}
	if t.EndDate, err = parseTime(end); err != nil {
		return model.Task{}, fmt.Errorf("task %s end_date: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(exceptionsJSON), &t.RecurrenceExceptions); err != nil {
		return model.Task{}, fmt.Errorf("task %s recurrence_exceptions: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(dependsJSON), &t.DependsOn); err != nil {
		return model.Task{}, fmt.Errorf("task %s depends_on: %w", t.ID, err)
	}
	if len(t.RecurrenceExceptions) == 0 {
		t.RecurrenceExceptions = nil
	}
	if len(t.DependsOn) == 0 {
		t.DependsOn = nil
	}
	return t, nil
}

func encodeList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	return string(b), err
}

// GetTask returns the persisted task with id. ok is false when it does not
// exist.
func (s *SQLite) GetTask(ctx context.Context, id string) (model.Task, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, false, nil
	}
	if err != nil {
		return model.Task{}, false, fmt.Errorf("store: get task %s: %w", id, err)
	}
	return t, true, nil
}

// ListTasks returns every persisted task ordered by creation.
func (s *SQLite) ListTasks(ctx context.Context) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer rows.Close()

	var out []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list tasks: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateTask inserts t, assigning an ID when empty.
func (s *SQLite) CreateTask(ctx context.Context, t model.Task) (model.Task, error) {
	if t.IsSeriesLinked() {
		return model.Task{}, fmt.Errorf("store: create task: %w", ErrVirtualTask)
	}
	if t.ID == "" {
		t.ID = newID()
	}
	exceptions, err := encodeList(t.RecurrenceExceptions)
	if err != nil {
		return model.Task{}, err
	}
	depends, err := encodeList(t.DependsOn)
	if err != nil {
		return model.Task{}, err
	}
	now := stamp()

	_, err = s.db.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority), int64(t.OwnerID),
		fmtTime(t.StartDate), fmtTime(t.DueDate), fmtTime(t.EndDate), t.RecurrenceRule, exceptions,
		t.OverrideOf, depends, now, now)
	if err != nil {
		return model.Task{}, fmt.Errorf("store: create task %s: %w", t.ID, err)
	}
	return t, nil
}

// UpdateTask overwrites the stored record with t.
func (s *SQLite) UpdateTask(ctx context.Context, t model.Task) error {
	if t.IsSeriesLinked() {
		return fmt.Errorf("store: update task %s: %w", t.ID, ErrVirtualTask)
	}
	exceptions, err := encodeList(t.RecurrenceExceptions)
	if err != nil {
		return err
	}
	depends, err := encodeList(t.DependsOn)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET
		title = ?, description = ?, status = ?, priority = ?, owner_id = ?,
		start_date = ?, due_date = ?, end_date = ?, recurrence_rule = ?,
		recurrence_exceptions = ?, override_of = ?, depends_on = ?, updated_at = ?
		WHERE id = ?`,
		t.Title, t.Description, string(t.Status), string(t.Priority), int64(t.OwnerID),
		fmtTime(t.StartDate), fmtTime(t.DueDate), fmtTime(t.EndDate), t.RecurrenceRule,
		exceptions, t.OverrideOf, depends, stamp(), t.ID)
	if err != nil {
		return fmt.Errorf("store: update task %s: %w", t.ID, err)
	}
	return expectOne(res, "task", t.ID)
}

// DeleteTask removes a task. Deleting a series parent leaves its overrides
// in place as plain tasks.
func (s *SQLite) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete task %s: %w", id, err)
	}
	return expectOne(res, "task", id)
}

// AddException adds date to the series' exception set. Adding a date that
// is already present is a no-op.
func (s *SQLite) AddException(ctx context.Context, seriesID, date string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx, `SELECT recurrence_exceptions FROM tasks WHERE id = ?`, seriesID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("store: series %s: %w", seriesID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("store: load exceptions %s: %w", seriesID, err)
		}
		var dates []string
		if err := json.Unmarshal([]byte(raw), &dates); err != nil {
			return fmt.Errorf("store: decode exceptions %s: %w", seriesID, err)
		}
		if slices.Contains(dates, date) {
			return nil
		}
		dates = append(dates, date)
		slices.Sort(dates)
		encoded, err := encodeList(dates)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE tasks SET recurrence_exceptions = ?, updated_at = ? WHERE id = ?`,
			encoded, stamp(), seriesID)
		if err != nil {
			return fmt.Errorf("store: add exception %s@%s: %w", seriesID, date, err)
		}
		return nil
	})
}

// FindOverride returns the standalone task that replaced the occurrence
// identified by key, if one was created.
func (s *SQLite) FindOverride(ctx context.Context, key model.OccurrenceKey) (model.Task, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE override_of = ? ORDER BY created_at LIMIT 1`, key.String())
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, false, nil
	}
	if err != nil {
		return model.Task{}, false, fmt.Errorf("store: find override %s: %w", key, err)
	}
	return t, true, nil
}

// SetDependencies replaces the dependency annotation of task id.
func (s *SQLite) SetDependencies(ctx context.Context, id string, deps []string) error {
	encoded, err := encodeList(deps)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET depends_on = ?, updated_at = ? WHERE id = ?`,
		encoded, stamp(), id)
	if err != nil {
		return fmt.Errorf("store: set dependencies %s: %w", id, err)
	}
	return expectOne(res, "task", id)
}

func (s *SQLite) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func expectOne(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("store: %s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
