package schedule

import (
	"fmt"
	"time"

	"termsched/internal/model"
)

// Origin tells ApplyReschedule where the operation is coming from.
type Origin string

const (
	// OriginRequeue reschedules an operation that is already in the planning pool.
	OriginRequeue Origin = "requeue"
	// OriginFromActive pulls an active or delayed operation back into planning.
	OriginFromActive Origin = "from_active"
)

func (o Origin) Valid() bool {
	return o == "" || o == OriginRequeue || o == OriginFromActive
}

// UnknownDelayReason stands in when an operation pulled from delay has no recorded reason.
const UnknownDelayReason = "Unknown"

// MessageTimeLayout renders times in UPDATE audit messages.
const MessageTimeLayout = "Mon 02 Jan 2006 15:04"

// Request is a chosen or manually entered slot plus the requeue context.
type Request struct {
	Time          *time.Time
	Resource      string
	DetailUpdates model.Details
	Origin        Origin
	User          string
}

// ApplyReschedule returns a copy of op moved to the requested slot together
// with the audit entries describing the change. op itself is never modified;
// on error the zero Operation is returned and nothing should be persisted.
//
// Audit entries carry Kind, Message, User, Time and OperationID only; ids and
// sequence numbers are assigned when the store appends them.
func ApplyReschedule(op model.Operation, req Request, now time.Time) (model.Operation, []model.AuditEntry, error) {
	if req.Time == nil || req.Time.IsZero() || req.Resource == "" {
		return model.Operation{}, nil, ErrIncompleteSelection
	}
	at := *req.Time
	if at.Before(now) {
		return model.Operation{}, nil, fmt.Errorf("%w: %s is before %s", ErrPastTimeSelection,
			at.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	if !req.Origin.Valid() {
		return model.Operation{}, nil, fmt.Errorf("%w: unknown origin %q", ErrInvalidTransition, req.Origin)
	}

	out := op.Clone()
	var entries []model.AuditEntry
	audit := func(kind model.AuditKind, msg string) {
		entries = append(entries, model.AuditEntry{
			OperationID: op.ID,
			Kind:        kind,
			Message:     msg,
			User:        req.User,
			Time:        now,
		})
	}

	targetStatus := op.Status
	if req.Origin == OriginFromActive {
		targetStatus = model.StatusPlanned
	}
	if err := CheckStatus(op.Status, targetStatus); err != nil {
		return model.Operation{}, nil, err
	}
	if err := CheckCurrentStatus(op.CurrentStatus, model.CurrentScheduled); err != nil {
		return model.Operation{}, nil, err
	}

	if req.Origin == OriginFromActive {
		original := UnknownDelayReason
		if op.Delay != nil && op.Delay.Reason != "" {
			original = op.Delay.Reason
		}
		details := req.DetailUpdates.Clone()
		details.Delay = &model.DelayDetail{OriginalReason: original}
		out.RequeueDetails = &model.RequeueDetails{
			Reason:  model.ReasonFromDelay,
			User:    req.User,
			Time:    now,
			Details: details,
		}
		if op.Status != targetStatus {
			out.Status = targetStatus
			audit(model.AuditRequeue, fmt.Sprintf("Status changed from %s to %s (sent back from delay: %s)",
				op.Status, targetStatus, original))
		}
	} else if out.RequeueDetails != nil {
		out.RequeueDetails.Details = out.RequeueDetails.Details.Merge(req.DetailUpdates)
	}

	out.ETA = at
	out.QueuePriority = at.UnixMilli()
	out.CurrentStatus = model.CurrentScheduled
	out.TruckStatus = model.TruckPlanned
	for i := range out.TransferPlan {
		out.TransferPlan[i].InfrastructureID = req.Resource
	}

	audit(model.AuditUpdate, fmt.Sprintf("Rescheduled to %s at %s", at.Format(MessageTimeLayout), req.Resource))
	return out, entries, nil
}
