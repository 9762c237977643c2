package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"termsched/internal/store"
)

// Envelope is the body POSTed to subscribers.
type Envelope struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`
	Data any       `json:"data"`
}

type Publisher struct {
	Store  store.Store
	Logger zerolog.Logger
}

func NewPublisher(s store.Store, logger zerolog.Logger) *Publisher {
	return &Publisher{Store: s, Logger: logger.With().Str("component", "webhooks").Logger()}
}

// Emit enqueues one delivery per subscription to eventType. Delivery itself
// happens in the Worker.
func (p *Publisher) Emit(ctx context.Context, eventType string, data any) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, eventType)
	if err != nil {
		p.Logger.Warn().Err(err).Str("event_type", eventType).Msg("load subscriptions")
		return
	}
	if len(subs) == 0 {
		return
	}
	body, err := json.Marshal(Envelope{ID: "evt_" + uuid.New().String(), Type: eventType, TS: time.Now().UTC(), Data: data})
	if err != nil {
		p.Logger.Error().Err(err).Str("event_type", eventType).Msg("encode event")
		return
	}
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, s.ID, eventType, s.URL, s.Secret, body); err != nil {
			p.Logger.Warn().Err(err).Str("subscription", s.ID).Msg("enqueue webhook")
		}
	}
}
