package model

import "time"

// Modality is the transport mode of an operation. It selects the default
// occupancy duration and the resources an operation may use.
type Modality string

const (
	ModalityVessel Modality = "vessel"
	ModalityTruck  Modality = "truck"
	ModalityRail   Modality = "rail"
)

// Modalities lists every supported modality.
var Modalities = []Modality{ModalityVessel, ModalityTruck, ModalityRail}

// Valid reports whether m is a known modality.
func (m Modality) Valid() bool {
	switch m {
	case ModalityVessel, ModalityTruck, ModalityRail:
		return true
	}
	return false
}

// Status is the coarse lifecycle stage of an operation.
type Status string

const (
	StatusPlanned   Status = "planned"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// CurrentStatus is the fine-grained state label shown to planners.
type CurrentStatus string

const (
	CurrentScheduled          CurrentStatus = "Scheduled"
	CurrentRescheduleRequired CurrentStatus = "Reschedule Required"
	CurrentInProgress         CurrentStatus = "In Progress"
	CurrentDelayed            CurrentStatus = "Delayed"
	CurrentCompleted          CurrentStatus = "Completed"
)

// TruckStatus is the truck-specific sub-state.
type TruckStatus string

const (
	TruckPlanned  TruckStatus = "Planned"
	TruckArrived  TruckStatus = "Arrived"
	TruckLoading  TruckStatus = "Loading"
	TruckDeparted TruckStatus = "Departed"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Transfer struct {
	Customer  string    `json:"customer" yaml:"customer"`
	Product   string    `json:"product" yaml:"product"`
	Tonnes    float64   `json:"tonnes" yaml:"tonnes"`
	Direction Direction `json:"direction" yaml:"direction"`
}

// TransferLine binds one or more transfers to a single piece of infrastructure.
type TransferLine struct {
	InfrastructureID string     `json:"infrastructureId" yaml:"infrastructureId"`
	Transfers        []Transfer `json:"transfers" yaml:"transfers"`
}

// Delay records why an active operation fell behind.
type Delay struct {
	Reason string `json:"reason" yaml:"reason"`
}

// Operation is a transport's booking against terminal infrastructure.
type Operation struct {
	ID             string          `json:"id" yaml:"id"`
	TransportID    string          `json:"transportId" yaml:"transportId"`
	Modality       Modality        `json:"modality" yaml:"modality"`
	ETA            time.Time       `json:"eta" yaml:"eta"`
	Status         Status          `json:"status" yaml:"status"`
	CurrentStatus  CurrentStatus   `json:"currentStatus" yaml:"currentStatus"`
	TruckStatus    TruckStatus     `json:"truckStatus,omitempty" yaml:"truckStatus,omitempty"`
	QueuePriority  int64           `json:"queuePriority" yaml:"queuePriority"`
	TransferPlan   []TransferLine  `json:"transferPlan" yaml:"transferPlan"`
	Delay          *Delay          `json:"delay,omitempty" yaml:"delay,omitempty"`
	RequeueDetails *RequeueDetails `json:"requeueDetails,omitempty" yaml:"requeueDetails,omitempty"`
	Version        int             `json:"version" yaml:"-"`
}

// Clone returns a deep copy of the operation.
func (o Operation) Clone() Operation {
	out := o
	if o.TransferPlan != nil {
		out.TransferPlan = make([]TransferLine, len(o.TransferPlan))
		for i, line := range o.TransferPlan {
			out.TransferPlan[i] = TransferLine{
				InfrastructureID: line.InfrastructureID,
				Transfers:        append([]Transfer(nil), line.Transfers...),
			}
		}
	}
	if o.Delay != nil {
		d := *o.Delay
		out.Delay = &d
	}
	if o.RequeueDetails != nil {
		rd := *o.RequeueDetails
		rd.Details = o.RequeueDetails.Details.Clone()
		out.RequeueDetails = &rd
	}
	return out
}

// Resources returns the distinct infrastructure ids of the transfer plan in plan order.
func (o Operation) Resources() []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, line := range o.TransferPlan {
		if _, ok := seen[line.InfrastructureID]; ok {
			continue
		}
		seen[line.InfrastructureID] = struct{}{}
		out = append(out, line.InfrastructureID)
	}
	return out
}

// Hold is an administrative block on a resource.
type Hold struct {
	ID        string    `json:"id" yaml:"id"`
	Resource  string    `json:"resource" yaml:"resource"`
	StartTime time.Time `json:"startTime" yaml:"startTime"`
	EndTime   time.Time `json:"endTime" yaml:"endTime"`
	Reason    string    `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Infrastructure is a schedulable resource and the modality it serves.
type Infrastructure struct {
	ID       string   `json:"id" yaml:"id"`
	Modality Modality `json:"modality" yaml:"modality"`
}

// OperationFilter narrows operation listings. Zero values match everything.
type OperationFilter struct {
	Status   Status
	Modality Modality
	From     time.Time // inclusive lower bound on ETA
	To       time.Time // exclusive upper bound on ETA
}

// Match reports whether op satisfies the filter.
func (f OperationFilter) Match(op Operation) bool {
	if f.Status != "" && op.Status != f.Status {
		return false
	}
	if f.Modality != "" && op.Modality != f.Modality {
		return false
	}
	if !f.From.IsZero() && op.ETA.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !op.ETA.Before(f.To) {
		return false
	}
	return true
}

type SubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}

// Event types published on reschedule.
const (
	EventOperationRescheduled = "operation.rescheduled"
	EventOperationRequeued    = "operation.requeued"
)
