package model

import "time"

// AuditKind classifies an audit log entry.
type AuditKind string

const (
	AuditRequeue AuditKind = "REQUEUE"
	AuditUpdate  AuditKind = "UPDATE"
)

// AuditEntry is one append-only line in an operation's history. Seq is
// assigned by the store and strictly increases per operation.
type AuditEntry struct {
	ID          string    `json:"id"`
	OperationID string    `json:"operationId"`
	Seq         int       `json:"seq"`
	Kind        AuditKind `json:"kind"`
	Message     string    `json:"message"`
	User        string    `json:"user,omitempty"`
	Time        time.Time `json:"time"`
}
