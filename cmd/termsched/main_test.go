package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"termsched/internal/schedule"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out.String()
}

func TestVersionCommand(t *testing.T) {
	if got := run(t, "version"); !strings.HasPrefix(got, "termsched dev") {
		t.Fatalf("version output = %q", got)
	}
}

func TestSeedThenSuggestOnSQLite(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TERMSCHED_ENV", "test")
	t.Setenv("DATABASE_URL", filepath.Join(dir, "termsched.db"))
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("AUTH_MODE", "dev")
	t.Setenv("TERMINAL_CONFIG", "")

	fixtures := filepath.Join(dir, "fixtures.yaml")
	if err := os.WriteFile(fixtures, []byte(`
operations:
  - id: op-1
    transportId: TRK-1
    modality: truck
    eta: 2999-01-01T00:00:00Z
    transferPlan:
      - infrastructureId: BAY-1
holds:
  - id: h-1
    resource: BAY-2
    startTime: 2999-01-01T00:00:00Z
    endTime: 2999-01-01T02:00:00Z
`), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := run(t, "seed", "--file", fixtures); !strings.Contains(got, "seeded 1 operations and 1 holds") {
		t.Fatalf("seed output = %q", got)
	}

	out := run(t, "suggest", "--day", "2999-01-01", "--modality", "truck", "--max", "2", "--json")
	var slots []schedule.SuggestedSlot
	if err := json.Unmarshal([]byte(out), &slots); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	midnight := time.Date(2999, 1, 1, 0, 0, 0, 0, time.UTC)
	if len(slots) != 2 || slots[0].Resource != "BAY-3" || !slots[0].Time.Equal(midnight) ||
		slots[1].Resource != "BAY-3" || !slots[1].Time.Equal(midnight.Add(15*time.Minute)) {
		t.Fatalf("slots = %+v", slots)
	}
}
