package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aphelia-health/aphelia/internal/trial"
	"github.com/aphelia-health/aphelia/internal/trial/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if APHELIA_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("APHELIA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("APHELIA_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] against a clean trials
// table. It calls t.Cleanup to close the store when the test finishes.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	ctx := context.Background()

	store, err := postgres.NewStore(ctx, testDSN(t))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)

	if _, err := store.Pool().Exec(ctx, `TRUNCATE trials`); err != nil {
		t.Fatalf("truncate trials: %v", err)
	}
	return store
}

func TestStore_RecordAndHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, target := range []string{"cup", "spoon", "plate"} {
		a := trial.Attempt{
			UserID:     "alice",
			TaskID:     "worksheet_1",
			Target:     target,
			Perceived:  target,
			Similarity: 1.0,
			Latency:    2 * time.Second,
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Record(ctx, a); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := store.History(ctx, "alice", 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Target != "plate" || got[1].Target != "spoon" {
		t.Errorf("newest first: got %q, %q", got[0].Target, got[1].Target)
	}
	if got[0].Latency != 2*time.Second {
		t.Errorf("Latency = %v, want 2s", got[0].Latency)
	}

	if history, err := store.History(ctx, "nobody", 10); err != nil || len(history) != 0 {
		t.Errorf("unknown user: history = %v, err = %v", history, err)
	}
}

func TestStore_Summarize(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := []trial.Attempt{
		{UserID: "alice", TaskID: "worksheet_1", Target: "cup", Perceived: "cup", Similarity: 1.0, Latency: 2 * time.Second},
		{UserID: "alice", TaskID: "worksheet_2", Target: "spoon", Perceived: "moon", Similarity: 0.5, Latency: 4 * time.Second},
	}
	for _, a := range seed {
		if err := store.Record(ctx, a); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	s, err := store.Summarize(ctx, "alice")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.TotalTrials != 2 || s.Accuracy != 75 || s.LatencySeconds != 3.0 {
		t.Errorf("summary = %+v", s)
	}
	if s.VocabVariance != 1 {
		t.Errorf("VocabVariance = %d, want 1", s.VocabVariance)
	}
}

func TestStore_Ping(t *testing.T) {
	store := newTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestProgress_DayRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	prog, err := postgres.NewProgress(ctx, store.Pool())
	if err != nil {
		t.Fatalf("NewProgress: %v", err)
	}
	if _, err := store.Pool().Exec(ctx, `TRUNCATE progress`); err != nil {
		t.Fatalf("truncate progress: %v", err)
	}

	day, err := prog.Day(ctx, "alice")
	if err != nil {
		t.Fatalf("Day: %v", err)
	}
	if day != 1 {
		t.Errorf("new patient day = %d, want 1", day)
	}

	if err := prog.SetDay(ctx, "alice", 3); err != nil {
		t.Fatalf("SetDay: %v", err)
	}
	// Upsert path.
	if err := prog.SetDay(ctx, "alice", 4); err != nil {
		t.Fatalf("SetDay again: %v", err)
	}

	day, err = prog.Day(ctx, "alice")
	if err != nil {
		t.Fatalf("Day: %v", err)
	}
	if day != 4 {
		t.Errorf("day = %d, want 4", day)
	}
}
