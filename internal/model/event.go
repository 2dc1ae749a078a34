package model

import (
	"strings"
	"time"
)

type EventType string

const (
	EventTask        EventType = "task"
	EventDeal        EventType = "deal"
	EventProject     EventType = "project"
	EventInvoice     EventType = "invoice"
	EventAppointment EventType = "appointment"
)

// EventTypes lists every type in aggregation order.
var EventTypes = []EventType{EventTask, EventDeal, EventProject, EventInvoice, EventAppointment}

// ParseEventType accepts the lower-case type names.
func ParseEventType(s string) (EventType, bool) {
	et := EventType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range EventTypes {
		if et == known {
			return et, true
		}
	}
	return "", false
}

// CalendarEvent is the unified projection of any schedulable entity. It is
// derived on every aggregation call and never stored.
type CalendarEvent struct {
	// ID is "<type>-<entity id>", or the occurrence key for virtual
	// task occurrences.
	ID       string    `json:"id"`
	Type     EventType `json:"type"`
	Date     time.Time `json:"date"`
	EndDate  time.Time `json:"end_date,omitzero"`
	Title    string    `json:"title"`
	Color    string    `json:"color"`
	IsAllDay bool      `json:"is_all_day"`
	OwnerID  OwnerID   `json:"owner_id"`

	// Data is the originating record: Task, Deal, Project, Invoice or
	// Appointment (by value).
	Data any `json:"data"`
}
