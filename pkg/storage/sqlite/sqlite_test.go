package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rexliu/w3abridge/pkg/ids"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state.db"), Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return store
}

func TestStoreSessions(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if _, err := store.LoadSession(ctx, "client-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	now := time.Now().Truncate(time.Millisecond)
	rec := SessionRecord{
		ClientID:      "client-1",
		SessionID:     "sess-a",
		LoginProvider: "google",
		Response:      []byte(`{"sessionId":"sess-a"}`),
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Hour),
	}
	if err := store.SaveSession(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec.SessionID = "sess-b"
	rec.Response = []byte(`{"sessionId":"sess-b"}`)
	if err := store.SaveSession(ctx, rec); err != nil {
		t.Fatalf("save replace: %v", err)
	}

	got, err := store.LoadSession(ctx, "client-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.SessionID != "sess-b" || string(got.Response) != `{"sessionId":"sess-b"}` {
		t.Fatalf("unexpected session %+v", got)
	}
	if !got.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Fatalf("expires mismatch: %v vs %v", got.ExpiresAt, rec.ExpiresAt)
	}

	if err := store.DeleteSession(ctx, "client-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeleteSession(ctx, "client-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if err := store.SaveSession(ctx, SessionRecord{ClientID: "x"}); err == nil {
		t.Fatal("expected error for record without session id")
	}
}

func TestStoreJournal(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	base := time.Now().Add(-time.Hour)
	records := []DispatchRecord{
		{TraceID: "trc_1", Command: "init", Outcome: "success", StartedAt: base, Duration: 3 * time.Millisecond},
		{TraceID: "trc_2", Command: "login", Outcome: "error", Code: "LoginFailedException", StartedAt: base.Add(time.Minute), Duration: time.Second},
		{TraceID: "trc_3", Command: "frobnicate", Outcome: "not_implemented", StartedAt: base.Add(2 * time.Minute)},
	}
	for _, rec := range records {
		if err := store.RecordDispatch(ctx, rec); err != nil {
			t.Fatalf("record %s: %v", rec.TraceID, err)
		}
	}

	all, err := store.ListDispatches(ctx, JournalFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].TraceID != "trc_3" || all[2].TraceID != "trc_1" {
		t.Fatalf("unexpected order: %+v", all)
	}
	if all[1].Code != "LoginFailedException" || all[1].Duration != time.Second {
		t.Fatalf("unexpected row: %+v", all[1])
	}

	failed, err := store.ListDispatches(ctx, JournalFilter{Outcome: "error"})
	if err != nil {
		t.Fatalf("list errors: %v", err)
	}
	if len(failed) != 1 || failed[0].Command != "login" {
		t.Fatalf("unexpected filtered rows: %+v", failed)
	}

	removed, err := store.PruneDispatches(ctx, base.Add(90*time.Second))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 pruned rows, got %d", removed)
	}

	if err := store.RecordDispatch(ctx, DispatchRecord{TraceID: "trc_4", Command: "x", Outcome: "maybe", StartedAt: base}); err == nil {
		t.Fatal("expected check constraint failure")
	}
}

func TestRecordDispatchTakesStartFromTraceID(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	at := time.Now().Add(-time.Minute).Truncate(time.Millisecond)
	traceID := "trc_" + ids.NewAt(at)
	if err := store.RecordDispatch(ctx, DispatchRecord{TraceID: traceID, Command: "init", Outcome: "success"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	rows, err := store.ListDispatches(ctx, JournalFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || !rows[0].StartedAt.Equal(at) {
		t.Fatalf("unexpected rows: %+v", rows)
	}

	if err := store.RecordDispatch(ctx, DispatchRecord{TraceID: "trc_bogus", Command: "init", Outcome: "success"}); err == nil {
		t.Fatal("expected error for a trace id without a timestamp")
	}
}

func TestStoreRejectsUnknownPragma(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "state.db"), Options{JournalMode: "sometimes"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	if err := store.Init(context.Background()); err == nil {
		t.Fatal("expected pragma validation error")
	}
}
