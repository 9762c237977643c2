package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"termsched/internal/planner"
	"termsched/internal/schedule"
	"termsched/internal/store"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Code     string `json:"code,omitempty"`
}

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeCodedProblem(w, status, "", title, detail, instance)
}

func writeCodedProblem(w http.ResponseWriter, status int, code, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
		Code:     code,
	})
}

// decodeJSON reads a single JSON object from the body, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty body")
		}
		return err
	}
	return nil
}

// problemFor maps domain errors to a status and a stable code.
func problemFor(err error) (status int, code, title string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NotFound", "Not Found"
	case errors.Is(err, schedule.ErrConcurrentModification):
		return http.StatusConflict, "ConcurrentModification", "Concurrent modification"
	case errors.Is(err, schedule.ErrIncompleteSelection):
		return http.StatusUnprocessableEntity, "IncompleteSelection", "Incomplete selection"
	case errors.Is(err, schedule.ErrPastTimeSelection):
		return http.StatusUnprocessableEntity, "PastTimeSelection", "Selected time is in the past"
	case errors.Is(err, schedule.ErrInvalidTransition):
		return http.StatusUnprocessableEntity, "InvalidTransition", "Invalid status transition"
	case errors.Is(err, schedule.ErrIncompatibleResource):
		return http.StatusUnprocessableEntity, "IncompatibleResource", "Incompatible resource"
	case errors.Is(err, planner.ErrInvalidRequest):
		return http.StatusUnprocessableEntity, "Validation", "Invalid request"
	}
	return http.StatusInternalServerError, "", "Internal error"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, title := problemFor(err)
	if status == http.StatusInternalServerError {
		s.Log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeCodedProblem(w, status, code, title, err.Error(), r.URL.Path)
}
