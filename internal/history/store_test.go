package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/audiolibrelab/disconium/internal/config"
	"github.com/audiolibrelab/disconium/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, retentionDays int) *Store {
	t.Helper()
	cfg := config.HistoryConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "nested", "history.db"), RetentionDays: retentionDays}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenDisabled(t *testing.T) {
	s, err := Open(context.Background(), config.HistoryConfig{}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Enabled() {
		t.Error("Expected disabled store")
	}
	if err := s.RecordAttempt(context.Background(), protocol.AttemptSettled{SessionID: "x"}); err != nil {
		t.Errorf("disabled write failed: %v", err)
	}
	got, err := s.Discoveries(context.Background(), 10)
	if err != nil || len(got) != 0 {
		t.Errorf("Expected empty read, got %v %v", got, err)
	}
}

func TestDiscoveriesNewestFirst(t *testing.T) {
	s := openStore(t, 0)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, title := range []string{"First", "Second", "Third"} {
		d := protocol.Discovery{
			SessionID:  title,
			Title:      title,
			Artists:    "Luna Wave",
			Score:      90,
			Source:     "general database",
			Links:      map[string]string{"spotify": "https://open.spotify.com/track/" + title},
			DetectedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.PublishDiscovery(ctx, d); err != nil {
			t.Fatalf("insert discovery: %v", err)
		}
	}

	got, err := s.Discoveries(ctx, 2)
	if err != nil {
		t.Fatalf("list discoveries: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 discoveries, got %d", len(got))
	}
	if got[0].Title != "Third" || got[1].Title != "Second" {
		t.Errorf("unexpected order: %s, %s", got[0].Title, got[1].Title)
	}
	if got[0].Links["spotify"] != "https://open.spotify.com/track/Third" {
		t.Errorf("links not round-tripped: %v", got[0].Links)
	}
	if !got[0].DetectedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("unexpected timestamp %v", got[0].DetectedAt)
	}
}

func TestAttempts(t *testing.T) {
	s := openStore(t, 0)
	ctx := context.Background()

	if err := s.RecordAttempt(ctx, protocol.AttemptSettled{SessionID: "a", State: "ERROR", Outcome: "provider_error", Code: 2004, Message: "fingerprint"}); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	got, err := s.Attempts(ctx, 10)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(got) != 1 || got[0].Code != 2004 || got[0].State != "ERROR" {
		t.Errorf("unexpected attempts %+v", got)
	}
	if got[0].SettledAt.IsZero() {
		t.Error("expected settled_at to default to now")
	}
}

func TestPruneByDays(t *testing.T) {
	s := openStore(t, 1)
	ctx := context.Background()

	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.PublishDiscovery(ctx, protocol.Discovery{SessionID: "old", Title: "Old", DetectedAt: old}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.RecordAttempt(ctx, protocol.AttemptSettled{SessionID: "old", State: "RESULT", SettledAt: old}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	fresh := old.Add(47 * time.Hour)
	if err := s.PublishDiscovery(ctx, protocol.Discovery{SessionID: "new", Title: "New", DetectedAt: fresh}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	got, err := s.Discoveries(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Title != "New" {
		t.Errorf("expected only the fresh discovery, got %+v", got)
	}
	attempts, err := s.Attempts(ctx, 10)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 0 {
		t.Errorf("expected old attempt pruned, got %+v", attempts)
	}
}
