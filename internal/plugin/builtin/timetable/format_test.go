package timetable

import (
	"strings"
	"testing"
	"time"

	"casebot/pkg/opentimetable"
)

func dublin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Dublin")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func TestTargetDateWeekendRoll(t *testing.T) {
	t.Parallel()
	loc := dublin(t)
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		// 2026-08-27 is a Thursday.
		{
			name: "weekday targets tomorrow",
			now:  time.Date(2026, 8, 27, 20, 0, 0, 0, loc),
			want: time.Date(2026, 8, 28, 0, 0, 0, 0, loc),
		},
		{
			name: "friday rolls to monday",
			now:  time.Date(2026, 8, 28, 20, 0, 0, 0, loc),
			want: time.Date(2026, 8, 31, 0, 0, 0, 0, loc),
		},
		{
			name: "saturday rolls to monday",
			now:  time.Date(2026, 8, 29, 20, 0, 0, 0, loc),
			want: time.Date(2026, 8, 31, 0, 0, 0, 0, loc),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := targetDate(tt.now, loc, false)
			if !got.Equal(tt.want) {
				t.Fatalf("targetDate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTargetDateTodayModeSkipsRoll(t *testing.T) {
	t.Parallel()
	loc := dublin(t)
	// A Saturday: today mode must stay on Saturday.
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, loc)
	got := targetDate(now, loc, true)
	want := time.Date(2026, 8, 29, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("targetDate = %v, want %v", got, want)
	}
}

func TestEventsOnFilterIsIdempotent(t *testing.T) {
	t.Parallel()
	loc := dublin(t)
	target := time.Date(2026, 8, 31, 0, 0, 0, 0, loc)

	events := []opentimetable.Event{
		{Label: "CA400", Start: time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC), End: time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)},
		{Label: "CA401", Start: time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC), End: time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)},
		{Label: "CA402", Start: time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC), End: time.Date(2026, 8, 31, 16, 0, 0, 0, time.UTC)},
	}

	once := eventsOn(events, target, loc)
	if len(once) != 2 {
		t.Fatalf("len(once) = %d, want 2", len(once))
	}
	twice := eventsOn(once, target, loc)
	if len(twice) != len(once) {
		t.Fatalf("filter not idempotent: %d -> %d", len(once), len(twice))
	}
}

func TestRenderBodyBlocks(t *testing.T) {
	t.Parallel()
	loc := dublin(t)
	target := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)

	events := []opentimetable.Event{
		{
			Label:    "CA400",
			Start:    time.Date(2026, 3, 2, 15, 0, 0, 0, loc),
			End:      time.Date(2026, 3, 2, 16, 0, 0, 0, loc),
			Location: "HG23",
		},
	}
	sortByStart(events)
	body := renderBody(events, target, loc)

	want := "**CA400** | 3:00PM - 4:00PM - 1h \nHG23\n\n"
	if body != want {
		t.Fatalf("body = %q, want %q", body, want)
	}
}

func TestRenderBodyPlaceholder(t *testing.T) {
	t.Parallel()
	loc := dublin(t)
	target := time.Date(2026, 3, 2, 0, 0, 0, 0, loc) // a Monday
	body := renderBody(nil, target, loc)
	if !strings.Contains(body, "Monday") {
		t.Fatalf("placeholder should name the weekday, got %q", body)
	}
}

func TestSortByStartAscending(t *testing.T) {
	t.Parallel()
	events := []opentimetable.Event{
		{Label: "B", Start: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)},
		{Label: "A", Start: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		{Label: "C", Start: time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)},
	}
	sortByStart(events)
	got := events[0].Label + events[1].Label + events[2].Label
	if got != "ABC" {
		t.Fatalf("order = %s, want ABC", got)
	}
}
