package store

import (
	"context"
	"errors"
	"time"

	"termsched/internal/model"
)

// Store is the persistence interface used by the planner and the API server.
type Store interface {
	// Operations
	GetOperation(ctx context.Context, id string) (model.Operation, error)
	ListOperations(ctx context.Context, filter model.OperationFilter) ([]model.Operation, error)
	PutOperation(ctx context.Context, op model.Operation) (model.Operation, error)

	// CommitReschedule replaces the operation and appends its audit entries in
	// one step, provided the stored version still equals expectedVersion.
	// It returns ErrConflict when the version moved on.
	CommitReschedule(ctx context.Context, op model.Operation, expectedVersion int, entries []model.AuditEntry) (model.Operation, []model.AuditEntry, error)
	ListAudit(ctx context.Context, operationID string) ([]model.AuditEntry, error)

	// Holds
	PutHold(ctx context.Context, h model.Hold) (model.Hold, error)
	// ListHolds returns holds intersecting [from, to). Zero bounds are open.
	ListHolds(ctx context.Context, from, to time.Time) ([]model.Hold, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, id string) error

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]WebhookDelivery, string, error)
	RetryWebhookDelivery(ctx context.Context, id string) error

	Ping(ctx context.Context) error
	Close() error
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a failed optimistic version check.
	ErrConflict = errors.New("version conflict")
)

// Delivery states.
const (
	DeliveryPending   = "pending"
	DeliveryRetry     = "retry"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// defaultPageSize applies when a listing is requested without a limit.
const defaultPageSize = 100

func pageSize(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultPageSize
	}
	return limit
}
