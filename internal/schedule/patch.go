package schedule

import (
	"time"

	"bizcal/internal/model"
)

// Patch is a partial task update. Nil fields are left untouched.
type Patch struct {
	Title       *string           `json:"title,omitempty"`
	Description *string           `json:"description,omitempty"`
	Status      *model.TaskStatus `json:"status,omitempty"`
	Priority    *model.Priority   `json:"priority,omitempty"`
	OwnerID     *model.OwnerID    `json:"owner_id,omitempty"`
	StartDate   *time.Time        `json:"start_date,omitempty"`
	DueDate     *time.Time        `json:"due_date,omitempty"`

	// Series fields; ignored for single-occurrence edits.
	RecurrenceRule *string    `json:"recurrence_rule,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p == Patch{}
}

// Apply writes every set field onto t.
func (p Patch) Apply(t *model.Task) {
	p.applyFields(t)
	if p.StartDate != nil {
		t.StartDate = *p.StartDate
	}
	if p.DueDate != nil {
		t.DueDate = *p.DueDate
	}
	if p.RecurrenceRule != nil {
		t.RecurrenceRule = *p.RecurrenceRule
	}
	if p.EndDate != nil {
		t.EndDate = *p.EndDate
	}
}

// applyFields writes the non-temporal fields.
func (p Patch) applyFields(t *model.Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.OwnerID != nil {
		t.OwnerID = *p.OwnerID
	}
}

// applyToSeries applies a patch expressed against occurrence occ onto the
// series parent. Date fields move the series by the same offset the
// occurrence moved; when the occurrence has no value for a date field the
// patched value is taken as-is.
func (p Patch) applyToSeries(parent *model.Task, occ model.Task) {
	p.applyFields(parent)

	if p.StartDate != nil {
		if occ.StartDate.IsZero() || parent.StartDate.IsZero() {
			parent.StartDate = *p.StartDate
		} else {
			parent.StartDate = parent.StartDate.Add(p.StartDate.Sub(occ.StartDate))
		}
	}
	if p.DueDate != nil {
		if occ.DueDate.IsZero() || parent.DueDate.IsZero() {
			parent.DueDate = *p.DueDate
		} else {
			parent.DueDate = parent.DueDate.Add(p.DueDate.Sub(occ.DueDate))
		}
	}
	if p.RecurrenceRule != nil {
		parent.RecurrenceRule = *p.RecurrenceRule
	}
	if p.EndDate != nil {
		parent.EndDate = *p.EndDate
	}
}

// applyToOverride applies the patch to a standalone override; series
// fields do not apply to a single date.
func (p Patch) applyToOverride(t *model.Task) {
	p.applyFields(t)
	if p.StartDate != nil {
		t.StartDate = *p.StartDate
	}
	if p.DueDate != nil {
		t.DueDate = *p.DueDate
	}
}

// Shift returns a patch that moves t so it starts on newDate, keeping
// its duration and time of day. All-day tasks only move their due date.
func Shift(t model.Task, newDate time.Time) Patch {
	anchor := t.Anchor()
	target := newDate.UTC()
	if !anchor.IsZero() {
		// Keep the time of day when a civil date is supplied.
		if target.Equal(model.DateOf(target)) {
			target = atTimeOfDay(target, anchor.UTC())
		}
	}
	delta := target.Sub(anchor)

	var p Patch
	if !t.StartDate.IsZero() {
		s := t.StartDate.Add(delta)
		p.StartDate = &s
	}
	if !t.DueDate.IsZero() {
		d := t.DueDate.Add(delta)
		p.DueDate = &d
	} else if t.StartDate.IsZero() {
		p.DueDate = &target
	}
	return p
}
