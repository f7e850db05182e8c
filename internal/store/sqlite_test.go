package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/okulab/termgate/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return repo
}

func testInfo(id string) *domain.SessionInfo {
	now := time.Now().Truncate(time.Second)
	return &domain.SessionInfo{
		ID:           id,
		Name:         "test",
		Shell:        "default",
		State:        domain.StateRunning,
		Cols:         120,
		Rows:         30,
		LogPath:      "/tmp/test.log",
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

func TestSQLiteSessionRoundTrip(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	info := testInfo("s1")
	if err := repo.SaveSession(ctx, info); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	infos, err := repo.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("ListSessions returned %d rows, want 1", len(infos))
	}
	got := infos[0]
	if got.ID != info.ID || got.Name != info.Name || got.Shell != info.Shell ||
		got.State != info.State || got.Cols != info.Cols || got.Rows != info.Rows ||
		got.LogPath != info.LogPath {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, info)
	}
	if !got.CreatedAt.Equal(info.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, info.CreatedAt)
	}
}

func TestSQLiteSaveSessionUpsert(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	info := testInfo("s1")
	if err := repo.SaveSession(ctx, info); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	info.State = domain.StateTerminated
	info.Cols = 80
	if err := repo.SaveSession(ctx, info); err != nil {
		t.Fatalf("SaveSession update: %v", err)
	}

	infos, err := repo.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("upsert created %d rows, want 1", len(infos))
	}
	if infos[0].State != domain.StateTerminated || infos[0].Cols != 80 {
		t.Errorf("upsert did not apply: %+v", infos[0])
	}
}

func TestSQLiteUpdateSessionState(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.SaveSession(ctx, testInfo("s1")); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	at := time.Now().Add(time.Minute).Truncate(time.Second)
	if err := repo.UpdateSessionState(ctx, "s1", domain.StateTerminated, at); err != nil {
		t.Fatalf("UpdateSessionState: %v", err)
	}

	infos, _ := repo.ListSessions(ctx)
	if infos[0].State != domain.StateTerminated {
		t.Errorf("state = %s, want terminated", infos[0].State)
	}
	if !infos[0].LastActiveAt.Equal(at) {
		t.Errorf("LastActiveAt = %v, want %v", infos[0].LastActiveAt, at)
	}
}

func TestSQLiteCommandHistory(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	entries := []domain.CommandEntry{
		{Text: "ls", Mode: domain.InputModeLine, SentAt: time.Now().Truncate(time.Second)},
		{Text: "\x03", Mode: domain.InputModeRaw, SentAt: time.Now().Truncate(time.Second)},
		{Text: "pwd", Mode: domain.InputModeLine, SentAt: time.Now().Truncate(time.Second)},
	}
	for _, e := range entries {
		if err := repo.AppendCommand(ctx, "s1", e); err != nil {
			t.Fatalf("AppendCommand: %v", err)
		}
	}
	if err := repo.AppendCommand(ctx, "other", domain.CommandEntry{Text: "whoami", Mode: domain.InputModeLine, SentAt: time.Now()}); err != nil {
		t.Fatalf("AppendCommand: %v", err)
	}

	got, err := repo.CommandHistory(ctx, "s1")
	if err != nil {
		t.Fatalf("CommandHistory: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("history has %d entries, want %d", len(got), len(entries))
	}
	for i := range entries {
		if got[i].Text != entries[i].Text || got[i].Mode != entries[i].Mode {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], entries[i])
		}
	}
}

func TestSQLitePruneSessions(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	old := testInfo("old")
	old.State = domain.StateTerminated
	old.LastActiveAt = time.Now().Add(-48 * time.Hour)
	if err := repo.SaveSession(ctx, old); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := repo.AppendCommand(ctx, "old", domain.CommandEntry{Text: "ls", Mode: domain.InputModeLine, SentAt: old.LastActiveAt}); err != nil {
		t.Fatalf("AppendCommand: %v", err)
	}

	live := testInfo("live")
	if err := repo.SaveSession(ctx, live); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	staleButRunning := testInfo("stale-running")
	staleButRunning.LastActiveAt = time.Now().Add(-48 * time.Hour)
	if err := repo.SaveSession(ctx, staleButRunning); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	pruned, err := repo.PruneSessions(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneSessions: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned %d sessions, want 1", pruned)
	}

	infos, _ := repo.ListSessions(ctx)
	if len(infos) != 2 {
		t.Fatalf("%d sessions remain, want 2", len(infos))
	}
	for _, info := range infos {
		if info.ID == "old" {
			t.Error("pruned session still listed")
		}
	}

	history, err := repo.CommandHistory(ctx, "old")
	if err != nil {
		t.Fatalf("CommandHistory: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("pruned session still has %d history entries", len(history))
	}
}

func TestSQLiteTouchSession(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.SaveSession(ctx, testInfo("s1")); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	at := time.Now().Add(time.Hour).Truncate(time.Second)
	if err := repo.TouchSession(ctx, "s1", at); err != nil {
		t.Fatalf("TouchSession: %v", err)
	}

	infos, _ := repo.ListSessions(ctx)
	if !infos[0].LastActiveAt.Equal(at) {
		t.Errorf("LastActiveAt = %v, want %v", infos[0].LastActiveAt, at)
	}
}
