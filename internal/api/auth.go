// Package api implements the HTTP surface of the terminal scheduler.
package api

import (
	"context"
	"net/http"
	"strings"

	"termsched/internal/auth"
)

type ctxKeyPrincipal struct{}

func principalFrom(ctx context.Context) auth.Principal {
	p, _ := ctx.Value(ctxKeyPrincipal{}).(auth.Principal)
	return p
}

// authenticate resolves the caller from a bearer token. WebSocket and SSE
// clients that cannot set headers may pass access_token in the query.
// In dev mode a request without a token falls back to X-User / X-Role.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := ""
		if authz := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			tok = strings.TrimSpace(authz[len("Bearer "):])
		} else if q := r.URL.Query().Get("access_token"); q != "" {
			tok = q
		}

		var p auth.Principal
		switch {
		case tok != "":
			var err error
			p, err = s.Auth.Verify(tok)
			if err != nil {
				writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
				return
			}
		case s.Auth.Mode == "dev":
			p = auth.Principal{User: r.Header.Get("X-User"), Role: strings.ToLower(r.Header.Get("X-Role"))}
			if p.User == "" {
				p.User = "dev"
			}
			if p.Role == "" {
				p.Role = auth.RoleAdmin
			}
		default:
			writeProblem(w, http.StatusUnauthorized, "Unauthorized", "bearer token required", r.URL.Path)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyPrincipal{}, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePlanner admits admin and planner roles.
func requirePlanner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !principalFrom(r.Context()).CanReschedule() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "planner or admin required", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !principalFrom(r.Context()).IsAdmin() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}
