package timetable

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"casebot/pkg/opentimetable"
)

// eventsOn keeps events whose start date, converted to loc, equals target.
// The filter is idempotent: filtering an already-filtered slice is a no-op.
func eventsOn(events []opentimetable.Event, target time.Time, loc *time.Location) []opentimetable.Event {
	ty, tm, td := target.In(loc).Date()
	out := make([]opentimetable.Event, 0, len(events))
	for _, ev := range events {
		y, m, d := ev.Start.In(loc).Date()
		if y == ty && m == tm && d == td {
			out = append(out, ev)
		}
	}
	return out
}

func sortByStart(events []opentimetable.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})
}

// renderBody produces the embed description: one block per event, or the
// no-classes placeholder naming the target weekday.
func renderBody(events []opentimetable.Event, target time.Time, loc *time.Location) string {
	if len(events) == 0 {
		return fmt.Sprintf("No classes scheduled for %s.", target.In(loc).Weekday())
	}
	var b strings.Builder
	for _, ev := range events {
		start := ev.Start.In(loc)
		end := ev.End.In(loc)
		hours := int(end.Sub(start).Hours())
		fmt.Fprintf(&b, "**%s** | %s - %s - %dh \n%s\n\n",
			ev.Label, clock(start), clock(end), hours, ev.Location)
	}
	return b.String()
}

// clock renders a 12-hour time without a leading zero, e.g. "3:00PM".
func clock(t time.Time) string {
	return t.Format("3:04PM")
}
