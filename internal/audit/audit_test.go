package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestRecordAndRecent(t *testing.T) {
	log, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer log.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		err := log.Record(ctx, Entry{
			SessionID: "sess-a",
			Principal: "alice",
			Kind:      "rule",
			Operation: "evaluate",
			ExitCode:  i % 2,
			ElapsedMs: int64(10 + i),
		})
		if err != nil {
			t.Fatalf("Record() #%d error = %v", i, err)
		}
	}
	if err := log.Record(ctx, Entry{SessionID: "sess-b", Principal: "bob", Kind: "logic", Operation: "query"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, err := log.RecentForSession(ctx, "sess-a", 2)
	if err != nil {
		t.Fatalf("RecentForSession() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	// Newest first.
	if got[0].ElapsedMs != 12 || got[1].ElapsedMs != 11 {
		t.Fatalf("order = %d, %d", got[0].ElapsedMs, got[1].ElapsedMs)
	}
	if got[0].CreatedAt.IsZero() || time.Since(got[0].CreatedAt) > time.Minute {
		t.Fatalf("created_at = %v", got[0].CreatedAt)
	}

	other, err := log.RecentForSession(ctx, "sess-c", 10)
	if err != nil || len(other) != 0 {
		t.Fatalf("unknown session = %v, %v", other, err)
	}
}
