package model

import "time"

// RequeueReason explains why an operation went back to the planning pool.
type RequeueReason string

const (
	ReasonUnderloaded   RequeueReason = "Underloaded"
	ReasonOverloaded    RequeueReason = "Overloaded"
	ReasonDriverDelayed RequeueReason = "Driver Delayed"
	ReasonHoldConflict  RequeueReason = "Hold Conflict"
	ReasonFromDelay     RequeueReason = "From Delay"
)

// RequeueReasons is the closed set of reasons, in presentation order.
var RequeueReasons = []RequeueReason{
	ReasonUnderloaded,
	ReasonOverloaded,
	ReasonDriverDelayed,
	ReasonHoldConflict,
	ReasonFromDelay,
}

func (r RequeueReason) Valid() bool {
	return r.DetailKind() != ""
}

// DetailKind names the Details variant that is meaningful for a reason.
type DetailKind string

const (
	DetailTonnage      DetailKind = "tonnage"
	DetailDriverDelay  DetailKind = "driverDelay"
	DetailHoldConflict DetailKind = "holdConflict"
	DetailDelay        DetailKind = "delay"
)

// DetailKind returns the variant the reason selects, or "" for unknown reasons.
func (r RequeueReason) DetailKind() DetailKind {
	switch r {
	case ReasonUnderloaded, ReasonOverloaded:
		return DetailTonnage
	case ReasonDriverDelayed:
		return DetailDriverDelay
	case ReasonHoldConflict:
		return DetailHoldConflict
	case ReasonFromDelay:
		return DetailDelay
	}
	return ""
}

type TonnageDetail struct {
	Actual   float64 `json:"actual" yaml:"actual"`
	Expected float64 `json:"expected" yaml:"expected"`
}

type DriverDelayDetail struct {
	NewETA time.Time `json:"newEta" yaml:"newEta"`
}

type HoldConflictDetail struct {
	HoldID      string `json:"holdId,omitempty" yaml:"holdId,omitempty"`
	Description string `json:"description" yaml:"description"`
}

type DelayDetail struct {
	OriginalReason string `json:"originalReason" yaml:"originalReason"`
}

// Details carries the reason-specific payload of a requeue. Each variant is
// optional; merging replaces whole variants.
type Details struct {
	Tonnage      *TonnageDetail      `json:"tonnage,omitempty" yaml:"tonnage,omitempty"`
	DriverDelay  *DriverDelayDetail  `json:"driverDelay,omitempty" yaml:"driverDelay,omitempty"`
	HoldConflict *HoldConflictDetail `json:"holdConflict,omitempty" yaml:"holdConflict,omitempty"`
	Delay        *DelayDetail        `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// Has reports whether the variant for kind is populated.
func (d Details) Has(kind DetailKind) bool {
	switch kind {
	case DetailTonnage:
		return d.Tonnage != nil
	case DetailDriverDelay:
		return d.DriverDelay != nil
	case DetailHoldConflict:
		return d.HoldConflict != nil
	case DetailDelay:
		return d.Delay != nil
	}
	return false
}

// IsZero reports whether no variant is set.
func (d Details) IsZero() bool {
	return d.Tonnage == nil && d.DriverDelay == nil && d.HoldConflict == nil && d.Delay == nil
}

// Merge returns d with every variant set in u overwriting the one in d.
func (d Details) Merge(u Details) Details {
	out := d.Clone()
	c := u.Clone()
	if c.Tonnage != nil {
		out.Tonnage = c.Tonnage
	}
	if c.DriverDelay != nil {
		out.DriverDelay = c.DriverDelay
	}
	if c.HoldConflict != nil {
		out.HoldConflict = c.HoldConflict
	}
	if c.Delay != nil {
		out.Delay = c.Delay
	}
	return out
}

func (d Details) Clone() Details {
	var out Details
	if d.Tonnage != nil {
		v := *d.Tonnage
		out.Tonnage = &v
	}
	if d.DriverDelay != nil {
		v := *d.DriverDelay
		out.DriverDelay = &v
	}
	if d.HoldConflict != nil {
		v := *d.HoldConflict
		out.HoldConflict = &v
	}
	if d.Delay != nil {
		v := *d.Delay
		out.Delay = &v
	}
	return out
}

// RequeueDetails records who sent an operation back for planning and why.
type RequeueDetails struct {
	Reason  RequeueReason `json:"reason" yaml:"reason"`
	User    string        `json:"user" yaml:"user"`
	Time    time.Time     `json:"time" yaml:"time"`
	Details Details       `json:"details" yaml:"details"`
}
