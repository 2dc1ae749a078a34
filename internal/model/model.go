package model

import (
	"slices"
	"time"
)

// OwnerID identifies the user responsible for an entity. Unowned (0) marks
// global records that every owner filter lets through.
type OwnerID int64

const Unowned OwnerID = 0

type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Task is the schedulable unit.
//
// A series parent is persisted, has RecurrenceRule set and no SeriesID.
// A virtual occurrence has SeriesID and OriginalDate set, never carries a
// RecurrenceRule and only lives for the duration of one expansion.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status,omitempty"`
	Priority    Priority   `json:"priority,omitempty"`
	OwnerID     OwnerID    `json:"owner_id"`

	// StartDate / DueDate bound the working window. A zero StartDate means
	// the task is all-day on its DueDate.
	StartDate time.Time `json:"start_date,omitzero"`
	DueDate   time.Time `json:"due_date,omitzero"`

	// Series fields.
	RecurrenceRule       string    `json:"recurrence_rule,omitempty"`
	RecurrenceExceptions []string  `json:"recurrence_exceptions,omitempty"`
	EndDate              time.Time `json:"end_date,omitzero"`

	// Occurrence fields.
	SeriesID     string `json:"series_id,omitempty"`
	OriginalDate string `json:"original_date,omitempty"`

	// OverrideOf is set on a standalone task created by a single-occurrence
	// edit and holds the occurrence key it replaces. The task itself is
	// plain: no SeriesID, no RecurrenceRule.
	OverrideOf string `json:"override_of,omitempty"`

	// DependsOn is an annotation only; scheduling never reads it.
	DependsOn []string `json:"depends_on,omitempty"`
}

// IsSeriesParent reports whether t is a persisted recurring template.
func (t Task) IsSeriesParent() bool {
	return t.RecurrenceRule != "" && t.SeriesID == ""
}

// IsSeriesLinked reports whether edits to t need a scope decision.
func (t Task) IsSeriesLinked() bool {
	return t.SeriesID != ""
}

// Anchor returns StartDate, or DueDate when no start is set.
func (t Task) Anchor() time.Time {
	if !t.StartDate.IsZero() {
		return t.StartDate
	}
	return t.DueDate
}

// Duration is DueDate - StartDate, or zero when either bound is missing.
func (t Task) Duration() time.Duration {
	if t.StartDate.IsZero() || t.DueDate.IsZero() {
		return 0
	}
	return t.DueDate.Sub(t.StartDate)
}

// HasException reports whether date (YYYY-MM-DD) is suppressed.
func (t Task) HasException(date string) bool {
	return slices.Contains(t.RecurrenceExceptions, date)
}

// Key returns the occurrence key of a virtual occurrence.
func (t Task) Key() (OccurrenceKey, bool) {
	if t.SeriesID == "" || t.OriginalDate == "" {
		return OccurrenceKey{}, false
	}
	return OccurrenceKey{SeriesID: t.SeriesID, Date: t.OriginalDate}, true
}

// Clone returns a copy that shares no slices with t.
func (t Task) Clone() Task {
	c := t
	c.RecurrenceExceptions = slices.Clone(t.RecurrenceExceptions)
	c.DependsOn = slices.Clone(t.DependsOn)
	return c
}

// Deal is a sales opportunity; it appears on the calendar on CloseDate.
type Deal struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Stage     string    `json:"stage,omitempty"`
	Value     float64   `json:"value,omitempty"`
	OwnerID   OwnerID   `json:"owner_id"`
	CloseDate time.Time `json:"close_date,omitzero"`
}

// Project appears on the calendar on its Deadline.
type Project struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Status   string    `json:"status,omitempty"`
	OwnerID  OwnerID   `json:"owner_id"`
	Deadline time.Time `json:"deadline,omitzero"`
}

// Invoice appears on the calendar on its DueDate. Invoices carry no owner
// and are visible to everyone.
type Invoice struct {
	ID       string    `json:"id"`
	Number   string    `json:"number"`
	Customer string    `json:"customer,omitempty"`
	Amount   float64   `json:"amount,omitempty"`
	Status   string    `json:"status,omitempty"`
	DueDate  time.Time `json:"due_date,omitzero"`
}

// Appointment is a single concrete instance of an event from a subscribed
// ICS feed, after recurrence expansion.
type Appointment struct {
	SourceID string  `json:"source_id"` // feed ID from config
	UID      string  `json:"uid"`       // iCalendar UID
	OwnerID  OwnerID `json:"owner_id"`

	// InstanceKey identifies one occurrence of a recurring VEVENT; derived
	// from the UTC start time.
	InstanceKey string `json:"instance_key"`

	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	AllDay bool      `json:"all_day"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

// ID is unique across feeds and instances.
func (a Appointment) ID() string {
	return a.SourceID + "/" + a.UID + "/" + a.InstanceKey
}
