package notify

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "notify.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMarkShown_FirstCallOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.MarkShown(ctx, "budget-75")
	if err != nil {
		t.Fatalf("MarkShown: %v", err)
	}
	if !first {
		t.Fatalf("first call reported as repeat")
	}

	again, err := s.MarkShown(ctx, "budget-75")
	if err != nil {
		t.Fatalf("MarkShown: %v", err)
	}
	if again {
		t.Fatalf("repeat call reported as first")
	}

	// the record is a set keyed by tag: repeats never grow it
	n, err := s.ShownCount(ctx)
	if err != nil {
		t.Fatalf("ShownCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("cardinality=%d want 1", n)
	}

	shown, err := s.IsShown(ctx, "budget-75")
	if err != nil || !shown {
		t.Fatalf("IsShown: %v %v", shown, err)
	}
	if shown, _ := s.IsShown(ctx, "budget-90"); shown {
		t.Fatalf("unfired tag reported shown")
	}
}

func TestPutReminder_ReplacesByTag(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	at := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	r := Reminder{Tag: TagFlight24h, FireAt: at, Payload: Request{Tag: TagFlight24h, Title: "Flight tomorrow"}}
	if err := s.PutReminder(ctx, r); err != nil {
		t.Fatalf("PutReminder: %v", err)
	}
	r.FireAt = at.Add(time.Hour)
	if err := s.PutReminder(ctx, r); err != nil {
		t.Fatalf("PutReminder: %v", err)
	}

	pending, err := s.PendingReminders(ctx)
	if err != nil {
		t.Fatalf("PendingReminders: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("len=%d want 1 (rescheduling must replace)", len(pending))
	}
	if !pending[0].FireAt.Equal(at.Add(time.Hour)) {
		t.Fatalf("fire_at=%v", pending[0].FireAt)
	}
	if pending[0].Payload.Title != "Flight tomorrow" {
		t.Fatalf("payload title=%q", pending[0].Payload.Title)
	}

	if err := s.DeleteReminder(ctx, TagFlight24h); err != nil {
		t.Fatalf("DeleteReminder: %v", err)
	}
	pending, _ = s.PendingReminders(ctx)
	if len(pending) != 0 {
		t.Fatalf("reminder survived delete")
	}
}
