package calendar

import (
	"strconv"
	"strings"

	"bizcal/internal/model"
)

// OwnerSet is a set of owner ids.
type OwnerSet map[model.OwnerID]struct{}

func NewOwnerSet(ids ...model.OwnerID) OwnerSet {
	s := make(OwnerSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s OwnerSet) Has(id model.OwnerID) bool {
	_, ok := s[id]
	return ok
}

// TypeSet is a set of event types.
type TypeSet map[model.EventType]struct{}

func NewTypeSet(types ...model.EventType) TypeSet {
	s := make(TypeSet, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

// AllTypes returns a set holding every event type.
func AllTypes() TypeSet {
	return NewTypeSet(model.EventTypes...)
}

func (s TypeSet) Has(t model.EventType) bool {
	_, ok := s[t]
	return ok
}

// Filter selects visible events.
//
// A nil Owners disables owner filtering; otherwise an event passes when it
// is unowned or its owner is in the set. A nil Types allows every type; an
// empty non-nil set hides everything.
type Filter struct {
	Owners OwnerSet
	Types  TypeSet
}

// ownerFilterActive is false when the filter is disabled or already covers
// every known owner, in which case the per-event check is skipped.
func (f Filter) ownerFilterActive(known []model.OwnerID) bool {
	if f.Owners == nil {
		return false
	}
	for _, id := range known {
		if id != model.Unowned && !f.Owners.Has(id) {
			return true
		}
	}
	return false
}

func (f Filter) ownerVisible(id model.OwnerID) bool {
	return id == model.Unowned || f.Owners.Has(id)
}

func (f Filter) typeVisible(t model.EventType) bool {
	return f.Types == nil || f.Types.Has(t)
}

func ownersOf(events []model.CalendarEvent) []model.OwnerID {
	seen := make(OwnerSet)
	out := make([]model.OwnerID, 0)
	for _, ev := range events {
		if ev.OwnerID == model.Unowned || seen.Has(ev.OwnerID) {
			continue
		}
		seen[ev.OwnerID] = struct{}{}
		out = append(out, ev.OwnerID)
	}
	return out
}

// ParseOwners parses a comma-separated id list ("1,2,5"). An empty string
// returns nil (filter disabled); "none" returns an empty set.
func ParseOwners(s string) (OwnerSet, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	set := NewOwnerSet()
	if s == "none" {
		return set, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		set[model.OwnerID(n)] = struct{}{}
	}
	return set, nil
}

// ParseTypes parses a comma-separated type list. Unknown names are
// reported through the second return value. An empty string returns nil.
func ParseTypes(s string) (TypeSet, []string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	set := NewTypeSet()
	var unknown []string
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		t, ok := model.ParseEventType(part)
		if !ok {
			unknown = append(unknown, part)
			continue
		}
		set[t] = struct{}{}
	}
	return set, unknown
}
