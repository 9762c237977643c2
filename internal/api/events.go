package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"termsched/internal/metrics"
	"termsched/internal/planner"
	"termsched/internal/webhooks"
)

// EventNotifier forwards committed planner changes to stream subscribers and
// webhook subscriptions.
type EventNotifier struct {
	Broker EventBroker
	Pub    *webhooks.Publisher
}

type changePayload struct {
	OperationID string `json:"operationId"`
	planner.Change
}

func (n EventNotifier) Notify(ctx context.Context, c planner.Change) {
	payload := changePayload{OperationID: c.Operation.ID, Change: c}
	if n.Broker != nil {
		data, err := json.Marshal(payload)
		if err == nil {
			evt := Event{Type: c.Type, OperationID: c.Operation.ID, Data: data}
			n.Broker.Publish(TopicAll, evt)
			n.Broker.Publish(c.Operation.ID, evt)
		}
	}
	if n.Pub != nil {
		n.Pub.Emit(ctx, c.Type, payload)
	}
}

var heartbeatInterval = 15 * time.Second

// EventsStreamHandler serves GET /v1/events/stream as Server-Sent Events.
// ?operationId= narrows the stream to one operation.
func (s *Server) EventsStreamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	topic := TopicAll
	if id := r.URL.Query().Get("operationId"); id != "" {
		topic = id
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.Broker.Subscribe(topic)
	defer s.Broker.Unsubscribe(topic, ch)
	metrics.EventSubscribers.WithLabelValues("sse").Inc()
	defer metrics.EventSubscribers.WithLabelValues("sse").Dec()

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"ts\":%q}\n\n", time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", evt.Data)
			flusher.Flush()
		case <-ticker.C:
			heartbeat()
		}
	}
}
