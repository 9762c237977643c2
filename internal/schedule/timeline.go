// Package schedule holds the pure scheduling engine: timeline construction,
// free-slot search and the reschedule transformation. Nothing here touches
// storage, clocks or the network; callers pass "now" explicitly.
package schedule

import (
	"sort"
	"time"

	"termsched/internal/model"
)

const (
	// DefaultStep is the granularity of the automated slot search.
	DefaultStep = 15 * time.Minute
	// DefaultManualStep is the granularity offered by manual time pickers.
	DefaultManualStep = 30 * time.Minute
	// fallbackDuration applies to modalities missing from a Durations table.
	fallbackDuration = time.Hour
)

// Durations maps a modality to how long one operation occupies a resource.
type Durations map[model.Modality]time.Duration

// DefaultDurations returns the stock occupancy table.
func DefaultDurations() Durations {
	return Durations{
		model.ModalityTruck:  1 * time.Hour,
		model.ModalityRail:   2 * time.Hour,
		model.ModalityVessel: 4 * time.Hour,
	}
}

// Of returns the occupancy duration of m.
func (d Durations) Of(m model.Modality) time.Duration {
	if v, ok := d[m]; ok && v > 0 {
		return v
	}
	if v, ok := DefaultDurations()[m]; ok {
		return v
	}
	return fallbackDuration
}

// ScheduledItem is a half-open interval [Start, End) during which Resource is busy.
// Ref names the operation or hold that produced it.
type ScheduledItem struct {
	Resource string    `json:"resource"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Ref      string    `json:"ref,omitempty"`
}

// Occupies reports whether op takes up capacity on the timeline. Operations
// already flagged for rescheduling never block the search for their new slot.
func Occupies(op model.Operation) bool {
	return op.Status == model.StatusPlanned && op.CurrentStatus != model.CurrentRescheduleRequired
}

// BuildTimeline flattens operations and holds into per-resource busy intervals.
// Each occupying operation contributes one item per transfer line,
// starting at its ETA and lasting the modality duration. Holds contribute
// their own interval unchanged. Items are sorted by resource then start.
func BuildTimeline(ops []model.Operation, holds []model.Hold, durations Durations) []ScheduledItem {
	items := make([]ScheduledItem, 0, len(ops)+len(holds))
	for _, op := range ops {
		if !Occupies(op) {
			continue
		}
		end := op.ETA.Add(durations.Of(op.Modality))
		for _, line := range op.TransferPlan {
			items = append(items, ScheduledItem{
				Resource: line.InfrastructureID,
				Start:    op.ETA,
				End:      end,
				Ref:      op.ID,
			})
		}
	}
	for _, h := range holds {
		items = append(items, ScheduledItem{
			Resource: h.Resource,
			Start:    h.StartTime,
			End:      h.EndTime,
			Ref:      h.ID,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Resource != items[j].Resource {
			return items[i].Resource < items[j].Resource
		}
		return items[i].Start.Before(items[j].Start)
	})
	return items
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
// Touching endpoints do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	start := aStart
	if bStart.After(start) {
		start = bStart
	}
	end := aEnd
	if bEnd.Before(end) {
		end = bEnd
	}
	return start.Before(end)
}

// Conflicts returns the items on resource that overlap [start, end).
func Conflicts(items []ScheduledItem, resource string, start, end time.Time) []ScheduledItem {
	var out []ScheduledItem
	for _, it := range items {
		if it.Resource != resource {
			continue
		}
		if Overlaps(start, end, it.Start, it.End) {
			out = append(out, it)
		}
	}
	return out
}
