package planner

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"termsched/internal/model"
)

// Fixtures is the YAML seed format accepted by `termsched seed`.
type Fixtures struct {
	Operations []model.Operation `yaml:"operations"`
	Holds      []model.Hold      `yaml:"holds"`
}

// ReadFixtures decodes fixtures and checks them against the terminal layout.
func (s *Service) ReadFixtures(r io.Reader) (Fixtures, error) {
	var f Fixtures
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return Fixtures{}, fmt.Errorf("decode fixtures: %w", err)
	}
	for i, op := range f.Operations {
		if op.ID == "" {
			return Fixtures{}, fmt.Errorf("operations[%d]: id is required", i)
		}
		if !op.Modality.Valid() {
			return Fixtures{}, fmt.Errorf("operations[%d] %s: unknown modality %q", i, op.ID, op.Modality)
		}
		if op.Status == "" {
			f.Operations[i].Status = model.StatusPlanned
		}
		if op.CurrentStatus == "" {
			f.Operations[i].CurrentStatus = model.CurrentScheduled
		}
		for _, res := range op.Resources() {
			if m, ok := s.terminal.ModalityOf(res); !ok || m != op.Modality {
				return Fixtures{}, fmt.Errorf("operations[%d] %s: resource %s does not serve %s", i, op.ID, res, op.Modality)
			}
		}
	}
	for i, h := range f.Holds {
		if _, ok := s.terminal.ModalityOf(h.Resource); !ok {
			return Fixtures{}, fmt.Errorf("holds[%d]: unknown resource %q", i, h.Resource)
		}
		if !h.EndTime.After(h.StartTime) {
			return Fixtures{}, fmt.Errorf("holds[%d]: endTime must be after startTime", i)
		}
	}
	return f, nil
}

// Seed writes fixtures to the store, replacing records with the same id.
func (s *Service) Seed(ctx context.Context, f Fixtures) (ops, holds int, err error) {
	for _, op := range f.Operations {
		if _, err := s.store.PutOperation(ctx, op); err != nil {
			return ops, holds, fmt.Errorf("put operation %s: %w", op.ID, err)
		}
		ops++
	}
	for _, h := range f.Holds {
		if _, err := s.store.PutHold(ctx, h); err != nil {
			return ops, holds, fmt.Errorf("put hold %s: %w", h.ID, err)
		}
		holds++
	}
	s.log.Info().Int("operations", ops).Int("holds", holds).Msg("fixtures seeded")
	return ops, holds, nil
}

// CreateHold validates and stores an administrative hold.
func (s *Service) CreateHold(ctx context.Context, h model.Hold) (model.Hold, error) {
	if _, ok := s.terminal.ModalityOf(h.Resource); !ok {
		return model.Hold{}, fmt.Errorf("%w: unknown resource %q", ErrInvalidRequest, h.Resource)
	}
	if h.StartTime.IsZero() || !h.EndTime.After(h.StartTime) {
		return model.Hold{}, fmt.Errorf("%w: endTime must be after startTime", ErrInvalidRequest)
	}
	return s.store.PutHold(ctx, h)
}
