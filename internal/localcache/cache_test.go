package localcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/calmind-app/calmind/internal/storage"
)

func TestLoadMissingFile(t *testing.T) {
	c := New(t.TempDir())

	snap, err := c.Load()
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if snap.Email != "" || snap.CompanionName != "" || len(snap.History) != 0 {
		t.Errorf("missing file should load as zero snapshot, got %+v", snap)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	c := New(t.TempDir())

	in := Snapshot{
		Email:         "a@x.com",
		CompanionName: "Nova",
		History: []storage.Message{
			{ID: "1", Owner: "a@x.com", Sender: storage.SenderUser, Body: "hello", CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
			{ID: "2", Owner: "a@x.com", Sender: storage.SenderCompanion, Body: "hi there", CreatedAt: time.Date(2026, 3, 1, 12, 0, 2, 0, time.UTC)},
		},
	}
	if err := c.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := c.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Email != in.Email || out.CompanionName != in.CompanionName {
		t.Errorf("identity fields = (%q, %q), want (%q, %q)", out.Email, out.CompanionName, in.Email, in.CompanionName)
	}
	if len(out.History) != len(in.History) {
		t.Fatalf("history length = %d, want %d", len(out.History), len(in.History))
	}
	for i := range in.History {
		if out.History[i].Body != in.History[i].Body || out.History[i].Sender != in.History[i].Sender {
			t.Errorf("message %d = %+v, want %+v", i, out.History[i], in.History[i])
		}
		if out.History[i].Owner != "a@x.com" {
			t.Errorf("message %d owner = %q, want a@x.com", i, out.History[i].Owner)
		}
	}
}

// Older cache files may lack keys entirely; they must decode to defaults
// rather than fail.
func TestLoadPartialBlob(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, cacheFileName), []byte(`{"companion_name":"Nova"}`), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	c := New(dir)
	snap, err := c.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Email != "" {
		t.Errorf("email = %q, want empty", snap.Email)
	}
	if snap.CompanionName != "Nova" {
		t.Errorf("companion name = %q, want Nova", snap.CompanionName)
	}
	if len(snap.History) != 0 {
		t.Errorf("history = %d messages, want 0", len(snap.History))
	}
}

func TestClear(t *testing.T) {
	c := New(t.TempDir())

	// Clearing an absent cache is not an error.
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear on missing file: %v", err)
	}

	if err := c.Save(Snapshot{Email: "a@x.com"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	snap, err := c.Load()
	if err != nil {
		t.Fatalf("Load after Clear: %v", err)
	}
	if snap.Email != "" {
		t.Errorf("snapshot after Clear = %+v, want zero", snap)
	}
}
