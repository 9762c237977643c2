package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"termsched/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu         sync.Mutex
	ops        map[string]model.Operation    // id -> operation
	audit      map[string][]model.AuditEntry // operation id -> entries in seq order
	holds      map[string]model.Hold         // id -> hold
	subs       []model.Subscription
	deliveries map[string]*WebhookDelivery // id -> delivery state
	order      []string                    // delivery ids in enqueue order
	dedup      map[string]string           // eventType|url|key -> delivery id
}

func NewMemory() *Memory {
	return &Memory{
		ops:        map[string]model.Operation{},
		audit:      map[string][]model.AuditEntry{},
		holds:      map[string]model.Hold{},
		deliveries: map[string]*WebhookDelivery{},
		dedup:      map[string]string{},
	}
}

func (m *Memory) GetOperation(ctx context.Context, id string) (model.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[id]
	if !ok {
		return model.Operation{}, ErrNotFound
	}
	return op.Clone(), nil
}

func (m *Memory) ListOperations(ctx context.Context, filter model.OperationFilter) ([]model.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Operation{}
	for _, op := range m.ops {
		if filter.Match(op) {
			out = append(out, op.Clone())
		}
	}
	sortOperations(out)
	return out, nil
}

// sortOperations orders by queue priority, then id for stability.
func sortOperations(ops []model.Operation) {
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].QueuePriority != ops[j].QueuePriority {
			return ops[i].QueuePriority < ops[j].QueuePriority
		}
		return ops[i].ID < ops[j].ID
	})
}

func (m *Memory) PutOperation(ctx context.Context, op model.Operation) (model.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if op.QueuePriority == 0 && !op.ETA.IsZero() {
		op.QueuePriority = op.ETA.UnixMilli()
	}
	if prev, ok := m.ops[op.ID]; ok {
		op.Version = prev.Version + 1
	} else {
		op.Version = 1
	}
	m.ops[op.ID] = op.Clone()
	return op, nil
}

func (m *Memory) CommitReschedule(ctx context.Context, op model.Operation, expectedVersion int, entries []model.AuditEntry) (model.Operation, []model.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.ops[op.ID]
	if !ok {
		return model.Operation{}, nil, ErrNotFound
	}
	if prev.Version != expectedVersion {
		return model.Operation{}, nil, ErrConflict
	}
	op.Version = expectedVersion + 1
	m.ops[op.ID] = op.Clone()

	log := m.audit[op.ID]
	seq := 0
	if n := len(log); n > 0 {
		seq = log[n-1].Seq
	}
	stored := make([]model.AuditEntry, 0, len(entries))
	for _, e := range entries {
		seq++
		e.Seq = seq
		e.OperationID = op.ID
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		log = append(log, e)
		stored = append(stored, e)
	}
	m.audit[op.ID] = log
	return op, stored, nil
}

func (m *Memory) ListAudit(ctx context.Context, operationID string) ([]model.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ops[operationID]; !ok {
		return nil, ErrNotFound
	}
	return append([]model.AuditEntry{}, m.audit[operationID]...), nil
}

func (m *Memory) PutHold(ctx context.Context, h model.Hold) (model.Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	m.holds[h.ID] = h
	return h, nil
}

func (m *Memory) ListHolds(ctx context.Context, from, to time.Time) ([]model.Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Hold{}
	for _, h := range m.holds {
		if !to.IsZero() && !h.StartTime.Before(to) {
			continue
		}
		if !from.IsZero() && !h.EndTime.After(from) {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: append([]string(nil), req.Events...), Secret: req.Secret}
	m.subs = append(m.subs, sub)
	return sub, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Subscription{}
	for _, s := range m.subs {
		if subscribed(s.Events, eventType) {
			out = append(out, s)
		}
	}
	return out, nil
}

func subscribed(events []string, eventType string) bool {
	for _, e := range events {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}

func (m *Memory) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = pageSize(limit)
	start := 0
	if cursor != "" {
		for i, s := range m.subs {
			if s.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []model.Subscription{}
	var next string
	for i := start; i < len(m.subs) && len(out) < limit; i++ {
		s := m.subs[i]
		s.Secret = ""
		out = append(out, s)
		next = s.ID
	}
	if start+len(out) >= len(m.subs) {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s.ID == id {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := eventType + "|" + url + "|" + computeDedupKey(payload)
	if id, ok := m.dedup[key]; ok {
		return id, nil
	}
	id := uuid.New().String()
	m.deliveries[id] = &WebhookDelivery{ID: id, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret,
		Payload: payload, Status: DeliveryPending, NextAttemptAt: time.Now()}
	m.order = append(m.order, id)
	m.dedup[key] = id
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.order {
		d := m.deliveries[id]
		if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
			out = append(out, *d)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = DeliveryDelivered
		now := time.Now()
		d.DeliveredAt = &now
		return nil
	}
	d.Status = DeliveryRetry
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = time.Now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = DeliveryFailed
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]WebhookDelivery, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = pageSize(limit)
	out := []WebhookDelivery{}
	started := cursor == ""
	var next string
	for _, id := range m.order {
		if !started {
			started = id == cursor
			continue
		}
		d := m.deliveries[id]
		if status != "" && d.Status != status {
			continue
		}
		if len(out) == limit {
			next = out[len(out)-1].ID
			break
		}
		out = append(out, *d)
	}
	return out, next, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Status = DeliveryPending
	d.NextAttemptAt = time.Now()
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
func (m *Memory) Close() error                   { return nil }
