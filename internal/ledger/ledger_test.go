package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dokzlo13/fadectl/internal/db"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestAppendAndBySession(t *testing.T) {
	l := newTestLedger(t)
	session := uuid.New()

	err := l.Append(EventFadeStarted, session, "api", map[string]any{"duration_ms": 1000})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := l.Append(EventFadeCompleted, session, "api", nil); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	// Unrelated session should not show up.
	if err := l.Append(EventFadeAborted, uuid.New(), "api", nil); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	entries, err := l.BySession(session)
	if err != nil {
		t.Fatalf("BySession failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("BySession returned %d entries, want 2", len(entries))
	}
	if entries[0].EventType != EventFadeStarted || entries[1].EventType != EventFadeCompleted {
		t.Errorf("entry order = [%s %s]", entries[0].EventType, entries[1].EventType)
	}
	if got := entries[0].Payload["duration_ms"]; got != float64(1000) {
		t.Errorf("payload duration_ms = %v, want 1000", got)
	}
}

func TestRecentOrder(t *testing.T) {
	l := newTestLedger(t)

	for _, typ := range []EventType{EventFadeStarted, EventFadeCompleted, EventSceneApplied} {
		if err := l.Append(typ, uuid.New(), "", nil); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	entries, err := l.Recent(2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Recent(2) returned %d entries", len(entries))
	}
	if entries[0].EventType != EventSceneApplied {
		t.Errorf("newest entry = %s, want scene_applied", entries[0].EventType)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	l := newTestLedger(t)

	if err := l.Append(EventFadeStarted, uuid.New(), "", nil); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// Nothing is older than a day yet.
	deleted, err := l.DeleteOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted %d entries, want 0", deleted)
	}

	// A zero retention sweeps everything written in the past.
	deleted, err = l.DeleteOlderThan(-time.Minute)
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted %d entries, want 1", deleted)
	}
}
