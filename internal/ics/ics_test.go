package ics

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	ical "github.com/arran4/golang-ical"

	"bizcal/internal/model"
)

const sampleFeed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:weekly-1
DTSTAMP:20240101T000000Z
DTSTART:20240101T090000Z
DTEND:20240101T100000Z
RRULE:FREQ=WEEKLY;COUNT=5
EXDATE:20240115T090000Z
SUMMARY:Weekly sync
END:VEVENT
BEGIN:VEVENT
UID:weekly-1
DTSTAMP:20240101T000000Z
RECURRENCE-ID:20240122T090000Z
DTSTART:20240122T140000Z
DTEND:20240122T150000Z
SUMMARY:Weekly sync (moved)
END:VEVENT
BEGIN:VEVENT
UID:allday-1
DTSTAMP:20240101T000000Z
DTSTART;VALUE=DATE:20240110
DTEND;VALUE=DATE:20240111
SUMMARY:Holiday
END:VEVENT
BEGIN:VEVENT
UID:zoned-1
DTSTAMP:20240101T000000Z
DTSTART;TZID=Europe/Berlin:20240112T100000
DTEND;TZID=Europe/Berlin:20240112T110000
SUMMARY:Berlin review
END:VEVENT
BEGIN:VEVENT
DTSTAMP:20240101T000000Z
DTSTART:20240101T090000Z
SUMMARY:No UID
END:VEVENT
END:VCALENDAR
`

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

var teamFeed = Feed{ID: "team", Name: "Team", OwnerID: 7}

func TestParse(t *testing.T) {
	events, err := Parse(teamFeed, crlf(sampleFeed), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("events = %d, want 4 (UID-less VEVENT skipped)", len(events))
	}

	weekly := events[0]
	if weekly.RRule != "FREQ=WEEKLY;COUNT=5" || len(weekly.ExDates) != 1 {
		t.Errorf("weekly = %+v", weekly)
	}
	if events[1].RecurrenceID == nil || !events[1].RecurrenceID.Equal(time.Date(2024, 1, 22, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("override recurrence id = %v", events[1].RecurrenceID)
	}

	allDay := events[2]
	if !allDay.AllDay || !allDay.Start.Equal(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("all-day = %+v", allDay)
	}

	zoned := events[3]
	if !zoned.Start.Equal(time.Date(2024, 1, 12, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("zoned start = %v", zoned.Start)
	}
}

func TestParseRejectsEmptyBody(t *testing.T) {
	if _, err := Parse(teamFeed, []byte("  \n"), nil); err == nil {
		t.Error("expected error for empty body")
	}
}

func TestExpand(t *testing.T) {
	events, err := Parse(teamFeed, crlf(sampleFeed), nil)
	if err != nil {
		t.Fatal(err)
	}
	res := Expand(events, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC))

	var keys []string
	byKey := make(map[string]model.Appointment)
	for _, a := range res.Appointments {
		keys = append(keys, a.UID+"/"+a.InstanceKey)
		byKey[a.UID+"/"+a.InstanceKey] = a
		if a.OwnerID != 7 || a.SourceID != "team" {
			t.Errorf("appointment %s owner/source = %d/%s", a.ID(), a.OwnerID, a.SourceID)
		}
	}
	if len(res.Appointments) != 6 {
		t.Fatalf("appointments = %v", keys)
	}
	if _, ok := byKey["weekly-1/20240115T090000Z"]; ok {
		t.Error("EXDATE instance was expanded")
	}

	moved, ok := byKey["weekly-1/20240122T090000Z"]
	if !ok {
		t.Fatalf("override instance missing: %v", keys)
	}
	if moved.Summary != "Weekly sync (moved)" || moved.Start.Hour() != 14 {
		t.Errorf("override = %+v", moved)
	}

	if h := byKey["allday-1/20240110T000000Z"]; !h.AllDay || !h.End.Equal(time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("all-day appointment = %+v", h)
	}
	if w := byKey["weekly-1/20240108T090000Z"]; w.End.Sub(w.Start) != time.Hour {
		t.Errorf("duration not kept: %+v", w)
	}
}

func TestExpandInvertedWindow(t *testing.T) {
	events, _ := Parse(teamFeed, crlf(sampleFeed), nil)
	res := Expand(events, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if res.Appointments == nil || len(res.Appointments) != 0 {
		t.Errorf("appointments = %v", res.Appointments)
	}
}

func TestFetchUsesConditionalCache(t *testing.T) {
	var hits, notModified atomic.Int32
	fail := atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if fail.Load() {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(crlf(sampleFeed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	feed := Feed{ID: "team", URL: srv.URL + "/cal.ics?token=secret"}
	ctx := context.Background()

	first, err := f.FetchOne(ctx, feed)
	if err != nil || first.FromCache {
		t.Fatalf("first fetch: cache=%v err=%v", first.FromCache, err)
	}
	second, err := f.FetchOne(ctx, feed)
	if err != nil || !second.FromCache || notModified.Load() != 1 {
		t.Fatalf("second fetch: cache=%v 304s=%d err=%v", second.FromCache, notModified.Load(), err)
	}
	if !bytes.Equal(first.Body, second.Body) {
		t.Error("cached body differs")
	}

	fail.Store(true)
	third, err := f.FetchOne(ctx, feed)
	if err != nil || !third.FromCache {
		t.Fatalf("fallback fetch: cache=%v err=%v", third.FromCache, err)
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d", hits.Load())
	}
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	oversized := atomic.Bool{}
	oversized.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if oversized.Load() {
			_, _ = w.Write(bytes.Repeat([]byte("x"), maxFeedBytes+1))
			return
		}
		_, _ = w.Write(crlf(sampleFeed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	feed := Feed{ID: "huge", URL: srv.URL + "/cal.ics"}
	ctx := context.Background()

	if _, err := f.FetchOne(ctx, feed); err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("oversized without cache: err = %v", err)
	}

	oversized.Store(false)
	good, err := f.FetchOne(ctx, feed)
	if err != nil || good.FromCache {
		t.Fatalf("good fetch: cache=%v err=%v", good.FromCache, err)
	}

	oversized.Store(true)
	got, err := f.FetchOne(ctx, feed)
	if err != nil || !got.FromCache {
		t.Fatalf("oversized with cache: cache=%v err=%v", got.FromCache, err)
	}
	if !bytes.Equal(got.Body, good.Body) {
		t.Error("oversized body replaced the cached feed")
	}
}

func TestFetchAllJoinsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad.ics" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(crlf(sampleFeed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	res, err := f.FetchAll(context.Background(), []Feed{
		{ID: "good", URL: srv.URL + "/good.ics"},
		{ID: "bad", URL: srv.URL + "/bad.ics"},
	})
	if err == nil || !strings.Contains(err.Error(), "feed bad") {
		t.Errorf("err = %v", err)
	}
	if len(res) != 1 || res[0].Feed.ID != "good" {
		t.Errorf("results = %+v", res)
	}
}

func TestRedactURL(t *testing.T) {
	if got := redactURL("https://cal.example.com/private/abc.ics?token=x"); got != "https://cal.example.com/...(redacted)" {
		t.Errorf("redactURL = %q", got)
	}
}

func TestExportRoundTrip(t *testing.T) {
	events := []model.CalendarEvent{
		{ID: "s1@2024-01-03", Type: model.EventTask, Title: "Daily sync", IsAllDay: true,
			Date: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Color: "#3b82f6"},
		{ID: "task-t1", Type: model.EventTask, Title: "Review",
			Date:    time.Date(2024, 1, 4, 9, 0, 0, 0, time.UTC),
			EndDate: time.Date(2024, 1, 4, 12, 0, 0, 0, time.UTC)},
	}
	var buf bytes.Buffer
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := Export(&buf, events, "bizcal", now); err != nil {
		t.Fatalf("Export: %v", err)
	}

	cal, err := ical.ParseCalendar(&buf)
	if err != nil {
		t.Fatalf("ParseCalendar: %v", err)
	}
	got := cal.Events()
	if len(got) != 2 {
		t.Fatalf("events = %d", len(got))
	}
	if uid := got[0].GetProperty(ical.ComponentPropertyUniqueId).Value; uid != "s1@2024-01-03" {
		t.Errorf("uid = %q", uid)
	}
	start := got[0].GetProperty(ical.ComponentPropertyDtStart)
	if start.Value != "20240103" {
		t.Errorf("all-day DTSTART = %q", start.Value)
	}
	end, err := got[1].GetEndAt()
	if err != nil || !end.Equal(events[1].EndDate) {
		t.Errorf("DTEND = %v, %v", end, err)
	}
}
