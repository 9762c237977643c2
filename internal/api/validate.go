package api

import (
	"fmt"
	"strings"
	"time"

	"termsched/internal/model"
	"termsched/internal/schedule"
)

// slotSearchRequest is the body of POST /v1/slots/search.
type slotSearchRequest struct {
	TargetDay          string         `json:"targetDay"`
	Modality           model.Modality `json:"modality"`
	Duration           string         `json:"duration,omitempty"`
	MaxResults         *int           `json:"maxResults,omitempty"`
	ExcludeOperationID string         `json:"excludeOperationId,omitempty"`
}

// rescheduleRequest is the body of POST /v1/operations/{id}/reschedule.
type rescheduleRequest struct {
	Time          *time.Time      `json:"time"`
	Resource      string          `json:"resource"`
	DetailUpdates model.Details   `json:"detailUpdates"`
	Origin        schedule.Origin `json:"origin,omitempty"`
	Version       *int            `json:"version,omitempty"`
}

type holdRequest struct {
	Resource  string    `json:"resource"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Reason    string    `json:"reason,omitempty"`
}

// parseDay accepts a calendar date (YYYY-MM-DD, read in loc) or an RFC3339 instant.
func parseDay(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("day is required")
	}
	if t, err := time.ParseInLocation("2006-01-02", v, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("day %q: want YYYY-MM-DD or RFC3339", v)
	}
	return t.In(loc), nil
}

func validateSlotSearch(req *slotSearchRequest, loc *time.Location) (time.Time, time.Duration, error) {
	day, err := parseDay(req.TargetDay, loc)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("targetDay: %w", err)
	}
	if !req.Modality.Valid() {
		return time.Time{}, 0, fmt.Errorf("modality must be one of vessel, truck, rail")
	}
	var d time.Duration
	if req.Duration != "" {
		d, err = time.ParseDuration(req.Duration)
		if err != nil || d <= 0 {
			return time.Time{}, 0, fmt.Errorf("duration must be a positive Go duration such as 90m")
		}
	}
	if req.MaxResults != nil && *req.MaxResults > 500 {
		return time.Time{}, 0, fmt.Errorf("maxResults must be at most 500")
	}
	return day, d, nil
}

func validateReschedule(req *rescheduleRequest) error {
	if !req.Origin.Valid() {
		return fmt.Errorf("origin must be %q or %q", schedule.OriginRequeue, schedule.OriginFromActive)
	}
	return nil
}
