package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"termsched/internal/config"
	"termsched/internal/model"
	"termsched/internal/planner"
	"termsched/internal/store"
)

// SlotSearchHandler handles POST /v1/slots/search
func (s *Server) SlotSearchHandler(w http.ResponseWriter, r *http.Request) {
	var req slotSearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	term := s.Planner.Terminal()
	day, dur, err := validateSlotSearch(&req, term.Loc())
	if err != nil {
		writeCodedProblem(w, http.StatusUnprocessableEntity, "Validation", "Invalid slot search", err.Error(), r.URL.Path)
		return
	}
	maxResults := term.MaxResults
	if req.MaxResults != nil {
		maxResults = *req.MaxResults
	}
	res, err := s.Planner.Suggest(r.Context(), planner.SuggestRequest{
		Day:                day,
		Modality:           req.Modality,
		Duration:           dur,
		MaxResults:         maxResults,
		ExcludeOperationID: req.ExcludeOperationID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"slots":      res.Slots,
		"candidates": res.Candidates,
		"step":       res.Step.String(),
		"duration":   res.Duration.String(),
	})
}

// RescheduleHandler handles POST /v1/operations/{id}/reschedule
func (s *Server) RescheduleHandler(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateReschedule(&req); err != nil {
		writeCodedProblem(w, http.StatusUnprocessableEntity, "Validation", "Invalid reschedule", err.Error(), r.URL.Path)
		return
	}
	ifVersion := req.Version
	if v := r.Header.Get("If-Match"); v != "" && ifVersion == nil {
		n, err := strconv.Atoi(strings.Trim(v, `"`))
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid If-Match", "expected an operation version", r.URL.Path)
			return
		}
		ifVersion = &n
	}
	op, entries, err := s.Planner.Reschedule(r.Context(), planner.RescheduleRequest{
		OperationID:   chi.URLParam(r, "id"),
		Time:          req.Time,
		Resource:      req.Resource,
		DetailUpdates: req.DetailUpdates,
		Origin:        req.Origin,
		User:          principalFrom(r.Context()).User,
		IfVersion:     ifVersion,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(strconv.Itoa(op.Version)))
	writeJSON(w, http.StatusOK, map[string]any{"operation": op, "audit": entries})
}

// OperationsHandler handles GET /v1/operations?status=&day=
func (s *Server) OperationsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := model.Status(q.Get("status"))
	switch status {
	case "", model.StatusPlanned, model.StatusActive, model.StatusCompleted:
	default:
		writeCodedProblem(w, http.StatusUnprocessableEntity, "Validation", "Invalid status", string(status), r.URL.Path)
		return
	}
	var day time.Time
	if v := q.Get("day"); v != "" {
		var err error
		if day, err = parseDay(v, s.Planner.Terminal().Loc()); err != nil {
			writeCodedProblem(w, http.StatusUnprocessableEntity, "Validation", "Invalid day", err.Error(), r.URL.Path)
			return
		}
	}
	items, err := s.Planner.Operations(r.Context(), status, day)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) OperationHandler(w http.ResponseWriter, r *http.Request) {
	op, err := s.Planner.Operation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(strconv.Itoa(op.Version)))
	writeJSON(w, http.StatusOK, op)
}

func (s *Server) OperationAuditHandler(w http.ResponseWriter, r *http.Request) {
	items, err := s.Planner.Audit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// HoldsHandler handles GET /v1/holds?day=
func (s *Server) HoldsHandler(w http.ResponseWriter, r *http.Request) {
	var day time.Time
	if v := r.URL.Query().Get("day"); v != "" {
		var err error
		if day, err = parseDay(v, s.Planner.Terminal().Loc()); err != nil {
			writeCodedProblem(w, http.StatusUnprocessableEntity, "Validation", "Invalid day", err.Error(), r.URL.Path)
			return
		}
	}
	items, err := s.Planner.Holds(r.Context(), day)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) CreateHoldHandler(w http.ResponseWriter, r *http.Request) {
	var req holdRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	h, err := s.Planner.CreateHold(r.Context(), model.Hold{
		Resource:  req.Resource,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Reason:    req.Reason,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

// terminalSettings is the read-only view of the terminal layout.
type terminalSettings struct {
	Name           string                 `json:"name"`
	Timezone       string                 `json:"timezone"`
	Infrastructure []model.Infrastructure `json:"infrastructure"`
	Durations      map[string]string      `json:"durations"`
	Step           string                 `json:"step"`
	ManualStep     string                 `json:"manualStep"`
	MaxResults     int                    `json:"maxResults"`
}

func settingsView(t config.Terminal) terminalSettings {
	out := terminalSettings{
		Name:           t.Name,
		Timezone:       t.Loc().String(),
		Infrastructure: t.Infrastructure,
		Durations:      map[string]string{},
		Step:           t.Step.String(),
		ManualStep:     t.ManualStep.String(),
		MaxResults:     t.MaxResults,
	}
	for _, m := range model.Modalities {
		out.Durations[string(m)] = t.Durations.Of(m).String()
	}
	return out
}

func (s *Server) TerminalSettingsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, settingsView(s.Planner.Terminal()))
}

// RequeueReasonsHandler lists requeue reasons and the detail variant each carries.
func (s *Server) RequeueReasonsHandler(w http.ResponseWriter, r *http.Request) {
	type reason struct {
		Reason     model.RequeueReason `json:"reason"`
		DetailKind model.DetailKind    `json:"detailKind"`
	}
	items := make([]reason, 0, len(model.RequeueReasons))
	for _, rr := range model.RequeueReasons {
		items = append(items, reason{Reason: rr, DetailKind: rr.DetailKind()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Subscriptions (admin)

func (s *Server) CreateSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	var req model.SubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		writeCodedProblem(w, http.StatusUnprocessableEntity, "Validation", "Invalid subscription", "url must be http(s)", r.URL.Path)
		return
	}
	for _, e := range req.Events {
		if e != model.EventOperationRescheduled && e != model.EventOperationRequeued && e != "*" {
			writeCodedProblem(w, http.StatusUnprocessableEntity, "Validation", "Invalid subscription", "unknown event "+e, r.URL.Path)
			return
		}
	}
	if len(req.Events) == 0 {
		req.Events = []string{"*"}
	}
	sub, err := s.Store.CreateSubscription(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) ListSubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	items, next, err := s.Store.ListSubscriptions(r.Context(), r.URL.Query().Get("cursor"), queryInt(r, "limit", 100))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

func (s *Server) DeleteSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteSubscription(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Admin: webhook deliveries list and retry

func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, next, err := s.Store.ListWebhookDeliveries(r.Context(), q.Get("status"), q.Get("cursor"), queryInt(r, "limit", 100))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	err := s.Store.RetryWebhookDelivery(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Delivery not found", "", r.URL.Path)
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": 1})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
