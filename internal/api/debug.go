package api

import (
	"net/http"
	"time"

	"termsched/internal/buildinfo"
)

// DebugHandler serves GET /debug/info with build and non-secret config details.
func (s *Server) DebugHandler(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"build": buildinfo.Get(),
		"time":  time.Now().UTC().Format(time.RFC3339),
	}
	if c := s.Config; c != nil {
		info["config"] = map[string]any{
			"environment":        c.Environment,
			"port":               c.Port,
			"dbDriver":           c.DBDriver,
			"authMode":           c.AuthMode,
			"rateRps":            c.RateRPS,
			"rateBurst":          c.RateBurst,
			"webhookMaxAttempts": c.WebhookMaxAttempts,
			"hasDatabaseUrl":     c.DatabaseURL != "",
			"hasRedisUrl":        c.RedisURL != "",
			"terminal":           s.Planner.Terminal().Name,
			"timezone":           s.Planner.Terminal().Loc().String(),
		}
	}
	writeJSON(w, http.StatusOK, info)
}
