package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"termsched/internal/model"
	"termsched/internal/schedule"
)

// DefaultMaxResults is the number of suggestions returned when a caller does not ask for a count.
const DefaultMaxResults = 5

// Terminal is the read-only layout the scheduler works against.
type Terminal struct {
	Name           string                 `json:"name"`
	Location       *time.Location         `json:"-"`
	Infrastructure []model.Infrastructure `json:"infrastructure"`
	Durations      schedule.Durations     `json:"-"`
	Step           time.Duration          `json:"-"`
	ManualStep     time.Duration          `json:"-"`
	MaxResults     int                    `json:"maxResults"`
}

// terminalFile is the on-disk YAML shape.
type terminalFile struct {
	Name           string                 `yaml:"name"`
	Timezone       string                 `yaml:"timezone"`
	Step           string                 `yaml:"step"`
	ManualStep     string                 `yaml:"manualStep"`
	MaxResults     int                    `yaml:"maxResults"`
	Durations      map[string]string      `yaml:"durations"`
	Infrastructure []model.Infrastructure `yaml:"infrastructure"`
}

// DefaultTerminal is used when no terminal file is configured.
func DefaultTerminal() Terminal {
	return Terminal{
		Name:     "default",
		Location: time.UTC,
		Infrastructure: []model.Infrastructure{
			{ID: "BAY-1", Modality: model.ModalityTruck},
			{ID: "BAY-2", Modality: model.ModalityTruck},
			{ID: "BAY-3", Modality: model.ModalityTruck},
			{ID: "RAIL-1", Modality: model.ModalityRail},
			{ID: "BERTH-1", Modality: model.ModalityVessel},
		},
		Durations:  schedule.DefaultDurations(),
		Step:       schedule.DefaultStep,
		ManualStep: schedule.DefaultManualStep,
		MaxResults: DefaultMaxResults,
	}
}

// LoadTerminal reads the terminal YAML at path. An empty path yields the
// defaults. A non-empty tz overrides the file's timezone.
func LoadTerminal(path, tz string) (Terminal, error) {
	t := DefaultTerminal()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Terminal{}, fmt.Errorf("read terminal config: %w", err)
		}
		if t, err = ParseTerminal(raw); err != nil {
			return Terminal{}, fmt.Errorf("terminal config %s: %w", path, err)
		}
	}
	if tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Terminal{}, fmt.Errorf("TERMINAL_TZ: %w", err)
		}
		t.Location = loc
	}
	return t, nil
}

// ParseTerminal decodes a terminal YAML document on top of the defaults.
func ParseTerminal(raw []byte) (Terminal, error) {
	var f terminalFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Terminal{}, err
	}
	t := DefaultTerminal()
	if f.Name != "" {
		t.Name = f.Name
	}
	if f.Timezone != "" {
		loc, err := time.LoadLocation(f.Timezone)
		if err != nil {
			return Terminal{}, fmt.Errorf("timezone: %w", err)
		}
		t.Location = loc
	}
	if f.Step != "" {
		d, err := parsePositive("step", f.Step)
		if err != nil {
			return Terminal{}, err
		}
		t.Step = d
	}
	if f.ManualStep != "" {
		d, err := parsePositive("manualStep", f.ManualStep)
		if err != nil {
			return Terminal{}, err
		}
		t.ManualStep = d
	}
	if f.MaxResults > 0 {
		t.MaxResults = f.MaxResults
	}
	for k, v := range f.Durations {
		m := model.Modality(k)
		if !m.Valid() {
			return Terminal{}, fmt.Errorf("durations: unknown modality %q", k)
		}
		d, err := parsePositive("durations."+k, v)
		if err != nil {
			return Terminal{}, err
		}
		t.Durations[m] = d
	}
	if len(f.Infrastructure) > 0 {
		seen := map[string]bool{}
		for _, inf := range f.Infrastructure {
			if inf.ID == "" {
				return Terminal{}, fmt.Errorf("infrastructure: empty id")
			}
			if !inf.Modality.Valid() {
				return Terminal{}, fmt.Errorf("infrastructure %s: unknown modality %q", inf.ID, inf.Modality)
			}
			if seen[inf.ID] {
				return Terminal{}, fmt.Errorf("infrastructure %s: duplicate id", inf.ID)
			}
			seen[inf.ID] = true
		}
		t.Infrastructure = f.Infrastructure
	}
	return t, nil
}

func parsePositive(field, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	return d, nil
}

// Candidates returns the resources serving m, in configured order.
func (t Terminal) Candidates(m model.Modality) []string {
	out := []string{}
	for _, inf := range t.Infrastructure {
		if inf.Modality == m {
			out = append(out, inf.ID)
		}
	}
	return out
}

// ModalityOf looks up the modality a resource serves.
func (t Terminal) ModalityOf(resource string) (model.Modality, bool) {
	for _, inf := range t.Infrastructure {
		if inf.ID == resource {
			return inf.Modality, true
		}
	}
	return "", false
}

// Loc returns the terminal location, defaulting to UTC.
func (t Terminal) Loc() *time.Location {
	if t.Location == nil {
		return time.UTC
	}
	return t.Location
}
