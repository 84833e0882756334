package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "state", "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestShouldRun_NoRecord(t *testing.T) {
	s := openStore(t)

	run, err := s.ShouldRun("u1", "aaaa", 0, time.Now())
	if err != nil {
		t.Fatalf("ShouldRun: %v", err)
	}
	if !run {
		t.Error("Expected run=true for unit with no prior record")
	}
}

func TestShouldRun_FingerprintMatch(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.Record(ctx, "u1", "aaaa", now); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if run, _ := s.ShouldRun("u1", "aaaa", 0, now); run {
		t.Error("Expected run=false for matching fingerprint")
	}
	if run, _ := s.ShouldRun("u1", "bbbb", 0, now); !run {
		t.Error("Expected run=true for changed fingerprint")
	}
}

func TestShouldRun_RefreshGate(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	recorded := time.Now()

	if err := s.Record(ctx, "git-sync:plugins", "aaaa", recorded); err != nil {
		t.Fatalf("Record: %v", err)
	}

	day := 24 * time.Hour

	// Fingerprint unchanged and record fresh: skip.
	if run, _ := s.ShouldRun("git-sync:plugins", "aaaa", day, recorded.Add(time.Hour)); run {
		t.Error("Expected run=false within refresh interval")
	}

	// Fingerprint unchanged but record a day old: the gate forces a run.
	if run, _ := s.ShouldRun("git-sync:plugins", "aaaa", day, recorded.Add(day)); !run {
		t.Error("Expected run=true at refresh boundary")
	}
}

func TestRecord_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	now := time.Now()
	if err := s.Record(ctx, "u1", "aaaa", now); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if run, _ := reopened.ShouldRun("u1", "aaaa", 0, time.Now()); run {
		t.Error("Expected record to survive reopen")
	}
	last, ok := reopened.LastRun("u1")
	if !ok {
		t.Fatal("Expected last-run time after reopen")
	}
	if !last.Equal(now) {
		t.Errorf("Expected last run %v, got %v", now, last)
	}
}

func TestForget(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, "u1", "aaaa", time.Now()); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Forget(ctx, "u1"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if run, _ := s.ShouldRun("u1", "aaaa", 0, time.Now()); !run {
		t.Error("Expected run=true after Forget")
	}
}
