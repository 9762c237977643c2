package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"termsched/internal/auth"
	"termsched/internal/config"
	"termsched/internal/metrics"
	"termsched/internal/planner"
	"termsched/internal/store"
)

type Server struct {
	Planner *planner.Service
	Store   store.Store
	Auth    *auth.Verifier
	Broker  EventBroker
	Config  *config.Config
	Log     zerolog.Logger

	limiter *rate.Limiter
}

type Options struct {
	Auth      *auth.Verifier
	Broker    EventBroker
	Config    *config.Config
	Logger    zerolog.Logger
	RateRPS   float64
	RateBurst int
}

// NewServer wires handlers around an existing planner and store. A nil
// broker gets the in-process one; a nil verifier runs in dev mode.
func NewServer(p *planner.Service, st store.Store, opts Options) *Server {
	s := &Server{
		Planner: p,
		Store:   st,
		Auth:    opts.Auth,
		Broker:  opts.Broker,
		Config:  opts.Config,
		Log:     opts.Logger.With().Str("component", "api").Logger(),
	}
	if s.Auth == nil {
		s.Auth = auth.NewVerifier("dev", "")
	}
	if s.Broker == nil {
		s.Broker = NewBroker()
	}
	if opts.RateRPS > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateRPS), burst)
	}
	return s
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.HealthHandler)
	r.Get("/readyz", s.ReadyHandler)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	r.Get("/debug/info", s.DebugHandler)
	r.Get("/openapi.json", s.OpenAPIHandler)
	r.Get("/openapi.yaml", s.OpenAPIYAMLHandler)
	r.Get("/docs", s.DocsHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Use(s.authenticate)

		r.Post("/slots/search", s.SlotSearchHandler)

		r.Get("/operations", s.OperationsHandler)
		r.Get("/operations/{id}", s.OperationHandler)
		r.Get("/operations/{id}/audit", s.OperationAuditHandler)
		r.With(requirePlanner).Post("/operations/{id}/reschedule", s.RescheduleHandler)

		r.Get("/holds", s.HoldsHandler)
		r.With(requireAdmin).Post("/holds", s.CreateHoldHandler)
		r.Get("/terminal/settings", s.TerminalSettingsHandler)
		r.Get("/requeue-reasons", s.RequeueReasonsHandler)

		r.Get("/events/stream", s.EventsStreamHandler)
		r.Get("/events/ws", s.EventsWSHandler)

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Get("/subscriptions", s.ListSubscriptionsHandler)
			r.Post("/subscriptions", s.CreateSubscriptionHandler)
			r.Delete("/subscriptions/{id}", s.DeleteSubscriptionHandler)
			r.Get("/admin/webhook-deliveries", s.WebhookDeliveriesHandler)
			r.Post("/admin/webhook-deliveries/{id}/retry", s.WebhookDeliveryRetryHandler)
		})
	})
	return r
}

// accessLog records one structured line and the HTTP metrics per request.
// The wrapped writer keeps Flusher and Hijacker for SSE and WebSocket.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		dur := time.Since(start)
		code := strconv.Itoa(status)
		metrics.HTTPRequests.WithLabelValues(r.Method, route, code).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, route, code).Observe(dur.Seconds())

		ev := s.Log.Info()
		if status >= 500 {
			ev = s.Log.Error()
		} else if route == "/healthz" || route == "/readyz" || route == "/metrics" {
			ev = s.Log.Debug()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", dur).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("remote", r.RemoteAddr).
			Msg("http request")
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
