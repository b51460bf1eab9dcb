package sequencer

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

func TestFileStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)

	p := mustPattern(t, "Funky Drummer")
	p, _ = ToggleStep(p, 0, 0)
	p, _ = SetStepVelocity(p, 0, 0, 110)
	p, _ = SetStepMicroTiming(p, 0, 0, -12*time.Millisecond)
	p, _ = SetSwing(p, SwingMedium)

	if err := store.Save(p); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Equal(got) {
		t.Errorf("round trip changed the pattern:\nsaved:  %+v\nloaded: %+v", p, got)
	}
}

func TestFileStoreSaveRejectsInvalid(t *testing.T) {
	store := newTestStore(t)
	p := mustPattern(t, "test")
	p.Tempo = 500
	if err := store.Save(p); err == nil {
		t.Error("invalid pattern should not be persisted")
	}
}

func TestFileStoreLoadMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Load("nope"); err == nil {
		t.Error("loading a missing pattern should error")
	}
}

func TestFileStoreLoadRejectsCorrupt(t *testing.T) {
	store := newTestStore(t)
	if err := os.WriteFile(filepath.Join(store.dir, "bad.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load("bad"); err == nil {
		t.Error("corrupt file should error, not produce a zero pattern")
	}
}

func TestFileStoreListNewestFirst(t *testing.T) {
	store := newTestStore(t)

	a := mustPattern(t, "older")
	a.ModifiedAt = time.Now().Add(-time.Hour)
	if err := store.Save(a); err != nil {
		t.Fatal(err)
	}
	b := mustPattern(t, "newer")
	if err := store.Save(b); err != nil {
		t.Fatal(err)
	}

	infos, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(infos))
	}
	if infos[0].Name != "newer" || infos[1].Name != "older" {
		t.Errorf("order = [%s, %s], want newest first", infos[0].Name, infos[1].Name)
	}
}

func TestFileStoreListSkipsCorrupt(t *testing.T) {
	store := newTestStore(t)

	p := mustPattern(t, "good")
	if err := store.Save(p); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(store.dir, "junk.json"), []byte("oops"), 0644); err != nil {
		t.Fatal(err)
	}

	infos, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].Name != "good" {
		t.Errorf("List = %+v, want only the readable pattern", infos)
	}
}

func TestFileStoreDelete(t *testing.T) {
	store := newTestStore(t)
	p := mustPattern(t, "doomed")
	if err := store.Save(p); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(p.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(p.ID); err == nil {
		t.Error("deleted pattern should not load")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"simple", "simple"},
		{"with space", "with-space"},
		{"a/b\\c:d", "a-b-c-d"},
		{`q*u?e"s<t>s|`, "quests"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
