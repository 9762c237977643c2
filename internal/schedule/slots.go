package schedule

import (
	"time"
)

// SuggestedSlot is a free start time on a specific resource.
type SuggestedSlot struct {
	Time     time.Time `json:"time"`
	Resource string    `json:"resource"`
}

// SlotQuery describes a free-slot search.
//
// Day may be any instant; its location defines the calendar day searched.
// Candidates are tried in order at every step, so earlier candidates win ties.
type SlotQuery struct {
	Day        time.Time
	Candidates []string
	Duration   time.Duration
	MaxResults int
	Step       time.Duration
	Now        time.Time
}

// FindSlots walks the target day in Step increments and returns up to
// MaxResults (time, resource) pairs whose [t, t+Duration) window overlaps no
// item on that resource. Results are ordered by time, then candidate order.
// When Day is today the walk starts at Now rounded up to the next step
// boundary; an instant already on a boundary is kept. The last start
// considered is the final step boundary before midnight, and a slot may
// extend past midnight. A day that has already ended yields nothing.
func FindSlots(q SlotQuery, items []ScheduledItem) []SuggestedSlot {
	out := []SuggestedSlot{}
	if q.MaxResults <= 0 || len(q.Candidates) == 0 {
		return out
	}
	step := q.Step
	if step <= 0 {
		step = DefaultStep
	}
	start, last := searchWindow(q.Day, q.Now, step)
	if last.Before(q.Now) {
		return out
	}

	byResource := map[string][]ScheduledItem{}
	for _, it := range items {
		byResource[it.Resource] = append(byResource[it.Resource], it)
	}

	for t := start; !t.After(last); t = t.Add(step) {
		end := t.Add(q.Duration)
		for _, res := range q.Candidates {
			if isFree(byResource[res], t, end) {
				out = append(out, SuggestedSlot{Time: t, Resource: res})
				if len(out) >= q.MaxResults {
					return out
				}
			}
		}
	}
	return out
}

func isFree(items []ScheduledItem, start, end time.Time) bool {
	for _, it := range items {
		if Overlaps(start, end, it.Start, it.End) {
			return false
		}
	}
	return true
}

// searchWindow returns the first and last start instants to probe on day.
func searchWindow(day, now time.Time, step time.Duration) (time.Time, time.Time) {
	loc := day.Location()
	y, m, d := day.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)
	last := time.Date(y, m, d+1, 0, 0, 0, 0, loc).Add(-time.Millisecond)

	start := midnight
	ny, nm, nd := now.In(loc).Date()
	if ny == y && nm == m && nd == d {
		start = RoundUp(now, midnight, step)
	}
	return start, last
}

// RoundUp returns the first instant at or after t that lies a whole number of
// steps after origin.
func RoundUp(t, origin time.Time, step time.Duration) time.Time {
	elapsed := t.Sub(origin)
	if elapsed <= 0 {
		return origin
	}
	n := elapsed / step
	if elapsed%step != 0 {
		n++
	}
	return origin.Add(n * step)
}

// Midnight returns the start of t's calendar day in loc.
func Midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
