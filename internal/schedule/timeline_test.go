package schedule

import (
	"testing"
	"time"

	"termsched/internal/model"
)

func TestBuildTimelineFiltersAndExpands(t *testing.T) {
	eta := at(t, "2026-10-16T08:00:00Z")
	ops := []model.Operation{
		{ID: "multi", Modality: model.ModalityVessel, ETA: eta, Status: model.StatusPlanned, CurrentStatus: model.CurrentScheduled,
			TransferPlan: []model.TransferLine{{InfrastructureID: "BERTH-1"}, {InfrastructureID: "BERTH-2"}}},
		{ID: "flagged", Modality: model.ModalityTruck, ETA: eta, Status: model.StatusPlanned, CurrentStatus: model.CurrentRescheduleRequired,
			TransferPlan: []model.TransferLine{{InfrastructureID: "BAY-1"}}},
		{ID: "active", Modality: model.ModalityTruck, ETA: eta, Status: model.StatusActive, CurrentStatus: model.CurrentInProgress,
			TransferPlan: []model.TransferLine{{InfrastructureID: "BAY-2"}}},
		{ID: "done", Modality: model.ModalityTruck, ETA: eta, Status: model.StatusCompleted, CurrentStatus: model.CurrentCompleted,
			TransferPlan: []model.TransferLine{{InfrastructureID: "BAY-3"}}},
	}
	holds := []model.Hold{{ID: "h", Resource: "BAY-1", StartTime: eta, EndTime: eta.Add(30 * time.Minute)}}

	items := BuildTimeline(ops, holds, DefaultDurations())
	if len(items) != 3 {
		t.Fatalf("want 3 items, got %d: %+v", len(items), items)
	}
	for _, it := range items {
		switch it.Ref {
		case "multi":
			if !it.End.Equal(eta.Add(4 * time.Hour)) {
				t.Fatalf("vessel end = %s", it.End)
			}
		case "h":
			if it.Resource != "BAY-1" || !it.End.Equal(eta.Add(30*time.Minute)) {
				t.Fatalf("hold item = %+v", it)
			}
		default:
			t.Fatalf("unexpected item %+v", it)
		}
	}
}

func TestDurationsOverride(t *testing.T) {
	d := Durations{model.ModalityTruck: 45 * time.Minute}
	if got := d.Of(model.ModalityTruck); got != 45*time.Minute {
		t.Fatalf("truck = %s", got)
	}
	if got := d.Of(model.ModalityRail); got != 2*time.Hour {
		t.Fatalf("rail falls back to default, got %s", got)
	}
	if got := d.Of("barge"); got != time.Hour {
		t.Fatalf("unknown modality = %s", got)
	}
}

func TestOverlapsHalfOpen(t *testing.T) {
	a := at(t, "2026-10-16T10:00:00Z")
	b := at(t, "2026-10-16T11:00:00Z")
	c := at(t, "2026-10-16T12:00:00Z")
	if Overlaps(a, b, b, c) {
		t.Fatal("touching intervals must not overlap")
	}
	if !Overlaps(a, c, b, c) {
		t.Fatal("nested intervals must overlap")
	}
}
