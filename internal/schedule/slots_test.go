package schedule

import (
	"testing"
	"time"

	"termsched/internal/model"
)

func at(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func TestFindSlotsHoldScenario(t *testing.T) {
	now := at(t, "2026-10-16T09:50:00Z")
	holds := []model.Hold{{ID: "h1", Resource: "BAY-1", StartTime: at(t, "2026-10-16T10:00:00Z"), EndTime: at(t, "2026-10-16T11:00:00Z")}}
	items := BuildTimeline(nil, holds, DefaultDurations())

	got := FindSlots(SlotQuery{
		Day:        now,
		Candidates: []string{"BAY-1", "BAY-2"},
		Duration:   time.Hour,
		MaxResults: 3,
		Now:        now,
	}, items)

	if len(got) != 3 {
		t.Fatalf("want 3 slots, got %d: %+v", len(got), got)
	}
	if got[0].Resource != "BAY-2" || !got[0].Time.Equal(at(t, "2026-10-16T10:00:00Z")) {
		t.Fatalf("first slot = %+v, want BAY-2 at 10:00", got[0])
	}
	for _, s := range got {
		if s.Resource == "BAY-1" && s.Time.Before(at(t, "2026-10-16T11:00:00Z")) {
			t.Fatalf("BAY-1 suggested during hold: %+v", s)
		}
	}
}

func TestFindSlotsNowClamping(t *testing.T) {
	now := at(t, "2026-10-16T14:07:00Z")
	got := FindSlots(SlotQuery{Day: now, Candidates: []string{"A"}, Duration: time.Hour, MaxResults: 2, Now: now}, nil)
	if len(got) != 2 {
		t.Fatalf("want 2 slots, got %d", len(got))
	}
	if !got[0].Time.Equal(at(t, "2026-10-16T14:15:00Z")) {
		t.Fatalf("first slot %s, want 14:15", got[0].Time)
	}
	if !got[1].Time.Equal(at(t, "2026-10-16T14:30:00Z")) {
		t.Fatalf("second slot %s, want 14:30", got[1].Time)
	}
}

func TestFindSlotsKeepsExactBoundary(t *testing.T) {
	now := at(t, "2026-10-16T14:15:00Z")
	got := FindSlots(SlotQuery{Day: now, Candidates: []string{"A"}, Duration: time.Hour, MaxResults: 1, Now: now}, nil)
	if len(got) != 1 || !got[0].Time.Equal(now) {
		t.Fatalf("want slot at 14:15, got %+v", got)
	}
}

func TestFindSlotsFutureDayStartsAtMidnight(t *testing.T) {
	now := at(t, "2026-10-16T14:07:00Z")
	day := at(t, "2026-10-17T12:00:00Z")
	got := FindSlots(SlotQuery{Day: day, Candidates: []string{"A"}, Duration: time.Hour, MaxResults: 1, Now: now}, nil)
	if len(got) != 1 || !got[0].Time.Equal(at(t, "2026-10-17T00:00:00Z")) {
		t.Fatalf("want midnight slot, got %+v", got)
	}
}

func TestFindSlotsLastStartBeforeMidnight(t *testing.T) {
	now := at(t, "2026-10-16T00:00:00Z")
	got := FindSlots(SlotQuery{Day: now, Candidates: []string{"A"}, Duration: time.Hour, MaxResults: 1000, Now: now}, nil)
	if len(got) != 96 {
		t.Fatalf("want 96 quarter-hour slots, got %d", len(got))
	}
	last := got[len(got)-1]
	if !last.Time.Equal(at(t, "2026-10-16T23:45:00Z")) {
		t.Fatalf("last slot %s, want 23:45", last.Time)
	}
}

func TestFindSlotsEmptyCases(t *testing.T) {
	now := at(t, "2026-10-16T08:00:00Z")
	cases := map[string]SlotQuery{
		"zero max":      {Day: now, Candidates: []string{"A"}, Duration: time.Hour, MaxResults: 0, Now: now},
		"no candidates": {Day: now, Duration: time.Hour, MaxResults: 5, Now: now},
		"past day":      {Day: at(t, "2026-10-15T08:00:00Z"), Candidates: []string{"A"}, Duration: time.Hour, MaxResults: 5, Now: now},
	}
	for name, q := range cases {
		if got := FindSlots(q, nil); len(got) != 0 {
			t.Fatalf("%s: want empty, got %+v", name, got)
		}
	}
}

func TestFindSlotsOrderingAndConflicts(t *testing.T) {
	now := at(t, "2026-10-16T06:00:00Z")
	ops := []model.Operation{
		{ID: "o1", Modality: model.ModalityTruck, ETA: at(t, "2026-10-16T06:00:00Z"), Status: model.StatusPlanned, CurrentStatus: model.CurrentScheduled,
			TransferPlan: []model.TransferLine{{InfrastructureID: "A"}}},
		{ID: "o2", Modality: model.ModalityRail, ETA: at(t, "2026-10-16T06:30:00Z"), Status: model.StatusPlanned, CurrentStatus: model.CurrentScheduled,
			TransferPlan: []model.TransferLine{{InfrastructureID: "B"}}},
	}
	items := BuildTimeline(ops, nil, DefaultDurations())
	q := SlotQuery{Day: now, Candidates: []string{"A", "B", "C"}, Duration: time.Hour, MaxResults: 40, Now: now}
	got := FindSlots(q, items)

	for i := 1; i < len(got); i++ {
		if got[i].Time.Before(got[i-1].Time) {
			t.Fatalf("results not earliest-first at %d: %+v", i, got)
		}
	}
	for _, s := range got {
		if c := Conflicts(items, s.Resource, s.Time, s.Time.Add(q.Duration)); len(c) > 0 {
			t.Fatalf("slot %+v overlaps %+v", s, c)
		}
	}
	// 06:00: A busy until 07:00, B busy from 06:30, C free.
	if got[0].Resource != "C" || !got[0].Time.Equal(now) {
		t.Fatalf("first = %+v, want C at 06:00", got[0])
	}
	again := FindSlots(q, items)
	if len(again) != len(got) {
		t.Fatalf("non-deterministic length")
	}
	for i := range got {
		if got[i] != again[i] {
			t.Fatalf("non-deterministic result at %d", i)
		}
	}
}

func TestFindSlotsTerminalLocation(t *testing.T) {
	loc := time.FixedZone("T", 2*3600)
	now := at(t, "2026-10-16T21:50:00Z") // 23:50 local
	got := FindSlots(SlotQuery{Day: now.In(loc), Candidates: []string{"A"}, Duration: time.Hour, MaxResults: 5, Now: now}, nil)
	if len(got) != 0 {
		t.Fatalf("local day has no step left after 23:50, got %+v", got)
	}
}

func TestRoundUp(t *testing.T) {
	origin := at(t, "2026-10-16T00:00:00Z")
	cases := []struct{ in, want string }{
		{"2026-10-16T00:00:00Z", "2026-10-16T00:00:00Z"},
		{"2026-10-16T00:00:01Z", "2026-10-16T00:15:00Z"},
		{"2026-10-16T14:07:00Z", "2026-10-16T14:15:00Z"},
		{"2026-10-16T14:45:00Z", "2026-10-16T14:45:00Z"},
	}
	for _, c := range cases {
		if got := RoundUp(at(t, c.in), origin, DefaultStep); !got.Equal(at(t, c.want)) {
			t.Fatalf("RoundUp(%s) = %s, want %s", c.in, got, c.want)
		}
	}
}
