// Package planner is the application service around the scheduling engine.
// It snapshots the store, runs slot searches and commits reschedules under a
// per-operation lock with an optimistic version check.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"termsched/internal/config"
	"termsched/internal/lock"
	"termsched/internal/metrics"
	"termsched/internal/model"
	"termsched/internal/schedule"
	"termsched/internal/store"
)

// ErrInvalidRequest wraps caller input problems that are not engine rejections.
var ErrInvalidRequest = errors.New("invalid request")

// Change describes a committed reschedule.
type Change struct {
	Type      string             `json:"type"`
	Operation model.Operation    `json:"operation"`
	Audit     []model.AuditEntry `json:"audit"`
	Origin    schedule.Origin    `json:"origin,omitempty"`
	User      string             `json:"user,omitempty"`
}

// Notifier is told about every committed change. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, c Change)
}

type NotifierFunc func(ctx context.Context, c Change)

func (f NotifierFunc) Notify(ctx context.Context, c Change) { f(ctx, c) }

type Service struct {
	store     store.Store
	terminal  config.Terminal
	locker    lock.Locker
	now       func() time.Time
	notifiers []Notifier
	lockWait  time.Duration
	log       zerolog.Logger
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithLocker(l lock.Locker) Option { return func(s *Service) { s.locker = l } }

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifiers = append(s.notifiers, n) }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l.With().Str("component", "planner").Logger() }
}

// WithLockWait bounds how long Reschedule waits for the operation lock.
func WithLockWait(d time.Duration) Option { return func(s *Service) { s.lockWait = d } }

func New(st store.Store, terminal config.Terminal, opts ...Option) *Service {
	s := &Service{
		store:    st,
		terminal: terminal,
		locker:   lock.NewKeyed(),
		now:      time.Now,
		lockWait: 5 * time.Second,
		log:      zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Terminal returns the layout the service schedules against.
func (s *Service) Terminal() config.Terminal { return s.terminal }

// Now returns the service clock in the terminal location.
func (s *Service) Now() time.Time { return s.now().In(s.terminal.Loc()) }

// SuggestRequest asks for free slots on a day.
type SuggestRequest struct {
	Day                time.Time // any instant of the target day
	Modality           model.Modality
	Duration           time.Duration // zero means the modality default
	MaxResults         int
	ExcludeOperationID string
}

type Suggestion struct {
	Slots      []schedule.SuggestedSlot `json:"slots"`
	Candidates []string                 `json:"candidates"`
	Step       time.Duration            `json:"-"`
	Duration   time.Duration            `json:"-"`
}

// Suggest returns the earliest conflict-free (time, resource) pairs for the
// modality on the requested day. No candidate resources is not an error.
func (s *Service) Suggest(ctx context.Context, req SuggestRequest) (Suggestion, error) {
	if !req.Modality.Valid() {
		return Suggestion{}, fmt.Errorf("%w: unknown modality %q", ErrInvalidRequest, req.Modality)
	}
	if req.Day.IsZero() {
		return Suggestion{}, fmt.Errorf("%w: target day is required", ErrInvalidRequest)
	}
	if req.Duration < 0 {
		return Suggestion{}, fmt.Errorf("%w: duration must not be negative", ErrInvalidRequest)
	}
	started := time.Now()
	loc := s.terminal.Loc()
	dayStart := schedule.Midnight(req.Day, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	duration := req.Duration
	if duration == 0 {
		duration = s.terminal.Durations.Of(req.Modality)
	}
	out := Suggestion{Candidates: s.terminal.Candidates(req.Modality), Step: s.terminal.Step, Duration: duration, Slots: []schedule.SuggestedSlot{}}
	if len(out.Candidates) == 0 {
		s.log.Debug().Str("modality", string(req.Modality)).Msg("no candidate resources")
		metrics.SlotSearches.WithLabelValues(string(req.Modality), "no_candidates").Inc()
		return out, nil
	}

	items, err := s.timeline(ctx, dayStart, dayEnd.Add(duration), req.ExcludeOperationID)
	if err != nil {
		return Suggestion{}, err
	}
	out.Slots = schedule.FindSlots(schedule.SlotQuery{
		Day:        dayStart,
		Candidates: out.Candidates,
		Duration:   duration,
		MaxResults: req.MaxResults,
		Step:       s.terminal.Step,
		Now:        s.Now(),
	}, items)

	result := "found"
	if len(out.Slots) == 0 {
		result = "empty"
	}
	metrics.SlotSearches.WithLabelValues(string(req.Modality), result).Inc()
	metrics.SlotSearchDuration.Observe(time.Since(started).Seconds())
	s.log.Debug().
		Str("modality", string(req.Modality)).
		Time("day", dayStart).
		Int("items", len(items)).
		Int("slots", len(out.Slots)).
		Msg("slot search")
	return out, nil
}

// timeline loads every planned operation and hold that can touch [from, to).
func (s *Service) timeline(ctx context.Context, from, to time.Time, exclude string) ([]schedule.ScheduledItem, error) {
	longest := time.Duration(0)
	for _, m := range model.Modalities {
		if d := s.terminal.Durations.Of(m); d > longest {
			longest = d
		}
	}
	ops, err := s.store.ListOperations(ctx, model.OperationFilter{
		Status: model.StatusPlanned,
		From:   from.Add(-longest),
		To:     to,
	})
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	if exclude != "" {
		kept := ops[:0]
		for _, op := range ops {
			if op.ID != exclude {
				kept = append(kept, op)
			}
		}
		ops = kept
	}
	holds, err := s.store.ListHolds(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list holds: %w", err)
	}
	return schedule.BuildTimeline(ops, holds, s.terminal.Durations), nil
}

// RescheduleRequest carries a chosen or manually entered slot.
type RescheduleRequest struct {
	OperationID   string
	Time          *time.Time
	Resource      string
	DetailUpdates model.Details
	Origin        schedule.Origin
	User          string
	// IfVersion, when set, must match the stored version.
	IfVersion *int
}

// Reschedule moves an operation to a new slot and persists the result with
// its audit entries. Concurrent calls for the same operation are serialized;
// a writer that lost a race gets schedule.ErrConcurrentModification.
func (s *Service) Reschedule(ctx context.Context, req RescheduleRequest) (model.Operation, []model.AuditEntry, error) {
	origin := req.Origin
	if origin == "" {
		origin = schedule.OriginRequeue
	}
	op, entries, err := s.reschedule(ctx, req, origin)
	outcome := "ok"
	if err != nil {
		outcome = outcomeOf(err)
		s.log.Info().Err(err).Str("operation", req.OperationID).Str("outcome", outcome).Msg("reschedule rejected")
	}
	metrics.Reschedules.WithLabelValues(string(origin), outcome).Inc()
	return op, entries, err
}

func (s *Service) reschedule(ctx context.Context, req RescheduleRequest, origin schedule.Origin) (model.Operation, []model.AuditEntry, error) {
	if req.OperationID == "" {
		return model.Operation{}, nil, fmt.Errorf("%w: operation id is required", ErrInvalidRequest)
	}
	if !origin.Valid() {
		return model.Operation{}, nil, fmt.Errorf("%w: unknown origin %q", ErrInvalidRequest, origin)
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	unlock, err := s.locker.Lock(lockCtx, "operation:"+req.OperationID)
	if err != nil {
		return model.Operation{}, nil, fmt.Errorf("%w: %v", schedule.ErrConcurrentModification, err)
	}
	defer unlock()

	current, err := s.store.GetOperation(ctx, req.OperationID)
	if err != nil {
		return model.Operation{}, nil, err
	}
	if req.IfVersion != nil && *req.IfVersion != current.Version {
		return model.Operation{}, nil, fmt.Errorf("%w: have version %d, caller expected %d",
			schedule.ErrConcurrentModification, current.Version, *req.IfVersion)
	}
	var at *time.Time
	if req.Time != nil {
		t := req.Time.In(s.terminal.Loc())
		at = &t
	}
	next, entries, err := schedule.ApplyReschedule(current, schedule.Request{
		Time:          at,
		Resource:      req.Resource,
		DetailUpdates: req.DetailUpdates,
		Origin:        origin,
		User:          req.User,
	}, s.Now())
	if err != nil {
		return model.Operation{}, nil, err
	}
	if m, ok := s.terminal.ModalityOf(req.Resource); !ok || m != current.Modality {
		return model.Operation{}, nil, fmt.Errorf("%w: %s cannot take a %s operation",
			schedule.ErrIncompatibleResource, req.Resource, current.Modality)
	}

	saved, stored, err := s.store.CommitReschedule(ctx, next, current.Version, entries)
	if errors.Is(err, store.ErrConflict) {
		return model.Operation{}, nil, fmt.Errorf("%w: operation %s", schedule.ErrConcurrentModification, req.OperationID)
	}
	if err != nil {
		return model.Operation{}, nil, fmt.Errorf("commit reschedule: %w", err)
	}

	s.log.Info().
		Str("operation", saved.ID).
		Str("resource", req.Resource).
		Time("eta", saved.ETA).
		Str("origin", string(origin)).
		Str("user", req.User).
		Int("version", saved.Version).
		Msg("operation rescheduled")

	s.notify(ctx, Change{Type: model.EventOperationRescheduled, Operation: saved, Audit: stored, Origin: origin, User: req.User})
	if current.Status != saved.Status {
		s.notify(ctx, Change{Type: model.EventOperationRequeued, Operation: saved, Audit: stored, Origin: origin, User: req.User})
	}
	return saved, stored, nil
}

func (s *Service) notify(ctx context.Context, c Change) {
	for _, n := range s.notifiers {
		n.Notify(ctx, c)
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, schedule.ErrIncompleteSelection):
		return "incomplete"
	case errors.Is(err, schedule.ErrPastTimeSelection):
		return "past_time"
	case errors.Is(err, schedule.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, schedule.ErrIncompatibleResource):
		return "incompatible_resource"
	case errors.Is(err, schedule.ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	}
	return "error"
}

func (s *Service) Operation(ctx context.Context, id string) (model.Operation, error) {
	return s.store.GetOperation(ctx, id)
}

// Operations lists operations ordered by queue priority. A non-zero day
// restricts the listing to ETAs on that terminal day.
func (s *Service) Operations(ctx context.Context, status model.Status, day time.Time) ([]model.Operation, error) {
	f := model.OperationFilter{Status: status}
	if !day.IsZero() {
		f.From = schedule.Midnight(day, s.terminal.Loc())
		f.To = f.From.AddDate(0, 0, 1)
	}
	return s.store.ListOperations(ctx, f)
}

func (s *Service) Audit(ctx context.Context, operationID string) ([]model.AuditEntry, error) {
	return s.store.ListAudit(ctx, operationID)
}

// Holds lists holds intersecting the terminal day containing day.
func (s *Service) Holds(ctx context.Context, day time.Time) ([]model.Hold, error) {
	if day.IsZero() {
		return s.store.ListHolds(ctx, time.Time{}, time.Time{})
	}
	from := schedule.Midnight(day, s.terminal.Loc())
	return s.store.ListHolds(ctx, from, from.AddDate(0, 0, 1))
}
