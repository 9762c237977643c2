package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"termsched/internal/auth"
	"termsched/internal/config"
	"termsched/internal/model"
	"termsched/internal/planner"
	"termsched/internal/store"
	"termsched/internal/webhooks"
)

var testNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	srv    *Server
	store  *store.Memory
	broker *Broker
	h      http.Handler
}

func newTestEnv(t *testing.T, opts ...func(*Options)) *testEnv {
	t.Helper()
	st := store.NewMemory()
	broker := NewBroker()
	pub := webhooks.NewPublisher(st, zerolog.Nop())
	p := planner.New(st, config.DefaultTerminal(),
		planner.WithClock(func() time.Time { return testNow }),
		planner.WithNotifier(EventNotifier{Broker: broker, Pub: pub}),
	)
	o := Options{Broker: broker, Logger: zerolog.Nop()}
	for _, fn := range opts {
		fn(&o)
	}
	s := NewServer(p, st, o)
	ctx := context.Background()
	for _, op := range []model.Operation{
		{ID: "op-1", TransportID: "TRK-1", Modality: model.ModalityTruck, ETA: testNow, Status: model.StatusPlanned,
			CurrentStatus: model.CurrentRescheduleRequired, TransferPlan: []model.TransferLine{{InfrastructureID: "BAY-1"}}},
		{ID: "op-2", TransportID: "TRK-2", Modality: model.ModalityTruck, ETA: testNow, Status: model.StatusPlanned,
			CurrentStatus: model.CurrentScheduled, TransferPlan: []model.TransferLine{{InfrastructureID: "BAY-2"}}},
		{ID: "op-3", TransportID: "TRK-3", Modality: model.ModalityTruck, ETA: testNow.Add(time.Hour), Status: model.StatusActive,
			CurrentStatus: model.CurrentDelayed, Delay: &model.Delay{Reason: "Gate queue"},
			TransferPlan: []model.TransferLine{{InfrastructureID: "BAY-3"}}},
	} {
		if _, err := st.PutOperation(ctx, op); err != nil {
			t.Fatal(err)
		}
	}
	return &testEnv{srv: s, store: st, broker: broker, h: s.Routes()}
}

func (e *testEnv) do(t *testing.T, method, path, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer tester:"+role)
	}
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	return rr
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) Problem {
	t.Helper()
	var p Problem
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode problem %q: %v", rr.Body.String(), err)
	}
	return p
}

func TestHealthReady(t *testing.T) {
	e := newTestEnv(t)
	if rr := e.do(t, http.MethodGet, "/healthz", "", nil); rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	if rr := e.do(t, http.MethodGet, "/readyz", "", nil); rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestSlotSearch(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(t, http.MethodPost, "/v1/slots/search", "viewer", map[string]any{
		"targetDay": "2024-05-01", "modality": "truck", "maxResults": 3,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("search: %d %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Slots []struct {
			Time     time.Time `json:"time"`
			Resource string    `json:"resource"`
		} `json:"slots"`
		Candidates []string `json:"candidates"`
		Step       string   `json:"step"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	// op-1 does not occupy BAY-1 (Reschedule Required); op-2 holds BAY-2 until 10:00;
	// op-3 is active and ignored.
	if len(resp.Slots) != 3 {
		t.Fatalf("slots = %+v", resp.Slots)
	}
	if !resp.Slots[0].Time.Equal(testNow) || resp.Slots[0].Resource != "BAY-1" ||
		resp.Slots[1].Resource != "BAY-3" || !resp.Slots[2].Time.Equal(testNow.Add(15*time.Minute)) {
		t.Fatalf("slots = %+v", resp.Slots)
	}
	if resp.Step != "15m0s" || len(resp.Candidates) != 3 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestSlotSearchValidation(t *testing.T) {
	e := newTestEnv(t)
	for _, body := range []any{
		map[string]any{"targetDay": "tomorrow", "modality": "truck"},
		map[string]any{"targetDay": "2024-05-01", "modality": "plane"},
		map[string]any{"targetDay": "2024-05-01", "modality": "truck", "duration": "-1h"},
	} {
		rr := e.do(t, http.MethodPost, "/v1/slots/search", "viewer", body)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("%v: got %d", body, rr.Code)
		}
	}
	if rr := e.do(t, http.MethodPost, "/v1/slots/search", "viewer", `{"targetDay":`); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad json: got %d", rr.Code)
	}
	if rr := e.do(t, http.MethodPost, "/v1/slots/search", "viewer", `{"targetDay":"2024-05-01","modality":"truck","bogus":1}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: got %d", rr.Code)
	}
}

func TestRescheduleFlow(t *testing.T) {
	e := newTestEnv(t)
	events := e.broker.Subscribe(TopicAll)
	defer e.broker.Unsubscribe(TopicAll, events)

	rr := e.do(t, http.MethodPost, "/v1/operations/op-1/reschedule", "planner", map[string]any{
		"time": "2024-05-01T14:00:00Z", "resource": "BAY-2",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("reschedule: %d %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Operation model.Operation    `json:"operation"`
		Audit     []model.AuditEntry `json:"audit"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Operation.TransferPlan[0].InfrastructureID != "BAY-2" || resp.Operation.CurrentStatus != model.CurrentScheduled {
		t.Fatalf("operation = %+v", resp.Operation)
	}
	if len(resp.Audit) != 1 || resp.Audit[0].User != "tester" || resp.Audit[0].Message != "Rescheduled to Wed 01 May 2024 14:00 at BAY-2" {
		t.Fatalf("audit = %+v", resp.Audit)
	}
	if rr.Header().Get("ETag") != `"2"` {
		t.Fatalf("etag = %q", rr.Header().Get("ETag"))
	}

	select {
	case evt := <-events:
		if evt.Type != model.EventOperationRescheduled || evt.OperationID != "op-1" {
			t.Fatalf("event = %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}

	rr = e.do(t, http.MethodGet, "/v1/operations/op-1/audit", "viewer", nil)
	if rr.Code != 200 || !strings.Contains(rr.Body.String(), `"seq":1`) {
		t.Fatalf("audit: %d %s", rr.Code, rr.Body.String())
	}
}

func TestRescheduleFromActive(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(t, http.MethodPost, "/v1/operations/op-3/reschedule", "admin", map[string]any{
		"time": "2024-05-01T16:00:00Z", "resource": "BAY-3", "origin": "from_active",
		"detailUpdates": map[string]any{"driverDelay": map[string]any{"newEta": "2024-05-01T15:30:00Z"}},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("reschedule: %d %s", rr.Code, rr.Body.String())
	}
	op, _ := e.store.GetOperation(context.Background(), "op-3")
	if op.Status != model.StatusPlanned || op.RequeueDetails == nil || op.RequeueDetails.Reason != model.ReasonFromDelay {
		t.Fatalf("op = %+v", op)
	}
	if op.RequeueDetails.Details.Delay.OriginalReason != "Gate queue" || op.RequeueDetails.Details.DriverDelay == nil {
		t.Fatalf("details = %+v", op.RequeueDetails.Details)
	}
}

func TestRescheduleErrors(t *testing.T) {
	e := newTestEnv(t)
	cases := []struct {
		name   string
		path   string
		role   string
		body   any
		status int
		code   string
	}{
		{"viewer forbidden", "/v1/operations/op-1/reschedule", "viewer",
			map[string]any{"time": "2024-05-01T14:00:00Z", "resource": "BAY-2"}, 403, ""},
		{"not found", "/v1/operations/nope/reschedule", "planner",
			map[string]any{"time": "2024-05-01T14:00:00Z", "resource": "BAY-2"}, 404, "NotFound"},
		{"incomplete", "/v1/operations/op-1/reschedule", "planner",
			map[string]any{"resource": "BAY-2"}, 422, "IncompleteSelection"},
		{"past", "/v1/operations/op-1/reschedule", "planner",
			map[string]any{"time": "2024-05-01T08:00:00Z", "resource": "BAY-2"}, 422, "PastTimeSelection"},
		{"incompatible", "/v1/operations/op-1/reschedule", "planner",
			map[string]any{"time": "2024-05-01T14:00:00Z", "resource": "BERTH-1"}, 422, "IncompatibleResource"},
		{"stale version", "/v1/operations/op-1/reschedule", "planner",
			map[string]any{"time": "2024-05-01T14:00:00Z", "resource": "BAY-2", "version": 9}, 409, "ConcurrentModification"},
		{"bad origin", "/v1/operations/op-1/reschedule", "planner",
			map[string]any{"time": "2024-05-01T14:00:00Z", "resource": "BAY-2", "origin": "nowhere"}, 422, "Validation"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := e.do(t, http.MethodPost, tc.path, tc.role, tc.body)
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tc.status, rr.Body.String())
			}
			if tc.code != "" {
				if p := decodeProblem(t, rr); p.Code != tc.code {
					t.Fatalf("code = %q, want %q", p.Code, tc.code)
				}
			}
		})
	}
	op, _ := e.store.GetOperation(context.Background(), "op-1")
	if op.Version != 1 || op.TransferPlan[0].InfrastructureID != "BAY-1" {
		t.Fatalf("rejected requests changed op-1: %+v", op)
	}
}

func TestIfMatchHeader(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/operations/op-1/reschedule",
		strings.NewReader(`{"time":"2024-05-01T14:00:00Z","resource":"BAY-2"}`))
	req.Header.Set("Authorization", "Bearer tester:planner")
	req.Header.Set("If-Match", `"3"`)
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestOperationsListAndGet(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(t, http.MethodGet, "/v1/operations?status=planned&day=2024-05-01", "viewer", nil)
	if rr.Code != 200 {
		t.Fatalf("list: %d", rr.Code)
	}
	var list struct {
		Items []model.Operation `json:"items"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &list)
	if len(list.Items) != 2 || list.Items[0].ID != "op-1" || list.Items[1].ID != "op-2" {
		t.Fatalf("items = %+v", list.Items)
	}
	if rr := e.do(t, http.MethodGet, "/v1/operations?status=bogus", "viewer", nil); rr.Code != 422 {
		t.Fatalf("bad status: %d", rr.Code)
	}
	if rr := e.do(t, http.MethodGet, "/v1/operations/op-2", "viewer", nil); rr.Code != 200 {
		t.Fatalf("get: %d", rr.Code)
	}
	if rr := e.do(t, http.MethodGet, "/v1/operations/missing", "viewer", nil); rr.Code != 404 {
		t.Fatalf("missing: %d", rr.Code)
	}
}

func TestHoldsAndSettings(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(t, http.MethodPost, "/v1/holds", "admin", map[string]any{
		"resource": "BAY-1", "startTime": "2024-05-01T10:00:00Z", "endTime": "2024-05-01T12:00:00Z", "reason": "repaint",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create hold: %d %s", rr.Code, rr.Body.String())
	}
	if rr := e.do(t, http.MethodPost, "/v1/holds", "planner", map[string]any{"resource": "BAY-1"}); rr.Code != 403 {
		t.Fatalf("planner hold: %d", rr.Code)
	}
	rr = e.do(t, http.MethodGet, "/v1/holds?day=2024-05-01", "viewer", nil)
	if rr.Code != 200 || !strings.Contains(rr.Body.String(), "repaint") {
		t.Fatalf("holds: %d %s", rr.Code, rr.Body.String())
	}

	rr = e.do(t, http.MethodGet, "/v1/terminal/settings", "viewer", nil)
	var settings terminalSettings
	_ = json.Unmarshal(rr.Body.Bytes(), &settings)
	if settings.Step != "15m0s" || settings.Durations["vessel"] != "4h0m0s" || len(settings.Infrastructure) != 5 {
		t.Fatalf("settings = %+v", settings)
	}

	rr = e.do(t, http.MethodGet, "/v1/requeue-reasons", "viewer", nil)
	if rr.Code != 200 || !strings.Contains(rr.Body.String(), `"reason":"Driver Delayed","detailKind":"driverDelay"`) {
		t.Fatalf("reasons: %s", rr.Body.String())
	}
}

func TestSubscriptionsAndDeliveries(t *testing.T) {
	e := newTestEnv(t)
	if rr := e.do(t, http.MethodPost, "/v1/subscriptions", "planner", map[string]any{"url": "http://x.test"}); rr.Code != 403 {
		t.Fatalf("planner subscribe: %d", rr.Code)
	}
	if rr := e.do(t, http.MethodPost, "/v1/subscriptions", "admin", map[string]any{"url": "ftp://x.test"}); rr.Code != 422 {
		t.Fatalf("bad url: %d", rr.Code)
	}
	rr := e.do(t, http.MethodPost, "/v1/subscriptions", "admin", map[string]any{
		"url": "http://hooks.test/in", "events": []string{model.EventOperationRescheduled}, "secret": "s",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("subscribe: %d %s", rr.Code, rr.Body.String())
	}
	var sub model.Subscription
	_ = json.Unmarshal(rr.Body.Bytes(), &sub)

	rr = e.do(t, http.MethodPost, "/v1/operations/op-2/reschedule", "planner", map[string]any{
		"time": "2024-05-01T18:00:00Z", "resource": "BAY-1",
	})
	if rr.Code != 200 {
		t.Fatalf("reschedule: %d", rr.Code)
	}

	rr = e.do(t, http.MethodGet, "/v1/admin/webhook-deliveries", "admin", nil)
	var deliveries struct {
		Items []store.WebhookDelivery `json:"items"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &deliveries)
	if len(deliveries.Items) != 1 || deliveries.Items[0].EventType != model.EventOperationRescheduled {
		t.Fatalf("deliveries = %s", rr.Body.String())
	}
	if rr := e.do(t, http.MethodPost, "/v1/admin/webhook-deliveries/"+deliveries.Items[0].ID+"/retry", "admin", nil); rr.Code != 202 {
		t.Fatalf("retry: %d", rr.Code)
	}
	if rr := e.do(t, http.MethodPost, "/v1/admin/webhook-deliveries/nope/retry", "admin", nil); rr.Code != 404 {
		t.Fatalf("retry missing: %d", rr.Code)
	}
	if rr := e.do(t, http.MethodDelete, "/v1/subscriptions/"+sub.ID, "admin", nil); rr.Code != 204 {
		t.Fatalf("delete: %d", rr.Code)
	}
	if rr := e.do(t, http.MethodDelete, "/v1/subscriptions/"+sub.ID, "admin", nil); rr.Code != 404 {
		t.Fatalf("delete again: %d", rr.Code)
	}
}

func TestAuthModes(t *testing.T) {
	e := newTestEnv(t, func(o *Options) { o.Auth = auth.NewVerifier("hmac", "k") })
	if rr := e.do(t, http.MethodGet, "/v1/operations", "", nil); rr.Code != 401 {
		t.Fatalf("missing token: %d", rr.Code)
	}
	if rr := e.do(t, http.MethodGet, "/v1/operations", "viewer", nil); rr.Code != 401 {
		t.Fatalf("dev token in hmac mode: %d", rr.Code)
	}
	tok, _ := auth.Issue([]byte("k"), "u1", "Kim", auth.RoleViewer, time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/v1/operations", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	if rr.Code != 200 {
		t.Fatalf("jwt: %d", rr.Code)
	}

	dev := newTestEnv(t)
	if rr := dev.do(t, http.MethodGet, "/v1/operations", "", nil); rr.Code != 200 {
		t.Fatalf("dev fallback: %d", rr.Code)
	}
}

func TestRateLimit(t *testing.T) {
	e := newTestEnv(t, func(o *Options) { o.RateRPS = 0.001; o.RateBurst = 1 })
	if rr := e.do(t, http.MethodGet, "/v1/requeue-reasons", "viewer", nil); rr.Code != 200 {
		t.Fatalf("first: %d", rr.Code)
	}
	rr := e.do(t, http.MethodGet, "/v1/requeue-reasons", "viewer", nil)
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("second: %d", rr.Code)
	}
	if rr := e.do(t, http.MethodGet, "/healthz", "", nil); rr.Code != 200 {
		t.Fatalf("health is not limited: %d", rr.Code)
	}
}

func TestOpenAPIAndDebug(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(t, http.MethodGet, "/openapi.json", "", nil)
	if rr.Code != 200 {
		t.Fatalf("openapi: %d %s", rr.Code, rr.Body.String())
	}
	var doc map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	paths, _ := doc["paths"].(map[string]any)
	if _, ok := paths["/v1/slots/search"]; !ok {
		t.Fatalf("paths = %v", paths)
	}
	if rr := e.do(t, http.MethodGet, "/debug/info", "", nil); rr.Code != 200 || !strings.Contains(rr.Body.String(), "goVersion") {
		t.Fatalf("debug: %d %s", rr.Code, rr.Body.String())
	}
}

func TestEventsSSE(t *testing.T) {
	e := newTestEnv(t)
	ts := httptest.NewServer(e.h)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events/stream?operationId=op-1", nil)
	req.Header.Set("Authorization", "Bearer tester:viewer")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	lines := bufio.NewScanner(resp.Body)
	if !lines.Scan() || lines.Text() != "event: heartbeat" {
		t.Fatalf("first line = %q", lines.Text())
	}

	go func() {
		at := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
		_, _, _ = e.srv.Planner.Reschedule(context.Background(), planner.RescheduleRequest{
			OperationID: "op-1", Time: &at, Resource: "BAY-1", User: "x",
		})
	}()

	deadline := time.After(2 * time.Second)
	found := make(chan string, 1)
	go func() {
		for lines.Scan() {
			if strings.HasPrefix(lines.Text(), "event: operation.") {
				found <- lines.Text()
				return
			}
		}
	}()
	select {
	case line := <-found:
		if line != "event: "+model.EventOperationRescheduled {
			t.Fatalf("line = %q", line)
		}
	case <-deadline:
		t.Fatal("no SSE event")
	}
}

func TestEventsWebSocket(t *testing.T) {
	e := newTestEnv(t)
	ts := httptest.NewServer(e.h)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events/ws?access_token=tester:viewer"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		t.Fatal(err)
	}
	var ack wsMessage
	if err := c.ReadJSON(&ack); err != nil || ack.Type != "connection_ack" {
		t.Fatalf("ack = %+v, %v", ack, err)
	}
	pl, _ := json.Marshal(WSSubscribe{Events: []string{model.EventOperationRescheduled}})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		t.Fatal(err)
	}
	// The subscribe is processed asynchronously; wait for the broker to see it.
	waitFor(t, func() bool {
		e.broker.mu.Lock()
		defer e.broker.mu.Unlock()
		return len(e.broker.subs[TopicAll]) > 0
	})

	at := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	if _, _, err := e.srv.Planner.Reschedule(context.Background(), planner.RescheduleRequest{
		OperationID: "op-1", Time: &at, Resource: "BAY-1",
	}); err != nil {
		t.Fatal(err)
	}
	var next wsMessage
	if err := c.ReadJSON(&next); err != nil {
		t.Fatal(err)
	}
	var evt Event
	_ = json.Unmarshal(next.Payload, &evt)
	if next.Type != "next" || next.ID != "1" || evt.Type != model.EventOperationRescheduled || evt.OperationID != "op-1" {
		t.Fatalf("next = %+v evt = %+v", next, evt)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}
