package api

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"termsched/internal/model"
	"termsched/internal/planner"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("op-1")
	other := b.Subscribe("op-2")

	evt := Event{Type: model.EventOperationRescheduled, OperationID: "op-1", Data: json.RawMessage(`{"x":1}`)}
	b.Publish("op-1", evt)

	select {
	case got := <-ch:
		if got.Type != evt.Type || string(got.Data) != `{"x":1}` {
			t.Fatalf("got %+v", got)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	select {
	case got := <-other:
		t.Fatalf("op-2 subscriber received %+v", got)
	default:
	}

	b.Unsubscribe("op-1", ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// A second unsubscribe is a no-op.
	b.Unsubscribe("op-1", ch)
	b.Unsubscribe("op-2", other)
	if len(b.subs) != 0 {
		t.Fatalf("subs left: %v", b.subs)
	}
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe(TopicAll)
	defer b.Unsubscribe(TopicAll, ch)
	for i := 0; i < 100; i++ {
		b.Publish(TopicAll, Event{Type: "t"})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("buffered %d of %d", len(ch), cap(ch))
	}
}

func TestEventNotifierPublishesToBothTopics(t *testing.T) {
	b := NewBroker()
	all := b.Subscribe(TopicAll)
	one := b.Subscribe("op-7")
	n := EventNotifier{Broker: b}
	n.Notify(context.Background(), planner.Change{
		Type:      model.EventOperationRequeued,
		Operation: model.Operation{ID: "op-7"},
	})
	for _, ch := range []chan Event{all, one} {
		select {
		case evt := <-ch:
			var body map[string]any
			if err := json.Unmarshal(evt.Data, &body); err != nil {
				t.Fatal(err)
			}
			if evt.Type != model.EventOperationRequeued || body["operationId"] != "op-7" {
				t.Fatalf("evt = %+v body = %v", evt, body)
			}
		default:
			t.Fatal("missing event")
		}
	}
}

func TestRedisBroker(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	b, err := NewRedisBrokerFromURL(url, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ch := b.Subscribe("op-r")
	defer b.Unsubscribe("op-r", ch)
	b.Publish("op-r", Event{Type: model.EventOperationRescheduled, OperationID: "op-r", Data: json.RawMessage(`{}`)})
	select {
	case got := <-ch:
		if got.OperationID != "op-r" {
			t.Fatalf("got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for redis event")
	}
}
