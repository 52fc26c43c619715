package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T, maxHistory int) *SettingsStore {
	t.Helper()
	store, err := NewSettingsStore(filepath.Join(t.TempDir(), "test.db"), maxHistory, nil)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewSettingsStore(t *testing.T) {
	tempDir := t.TempDir()

	t.Run("Valid Store Creation", func(t *testing.T) {
		dbPath := filepath.Join(tempDir, "test.db")
		store, err := NewSettingsStore(dbPath, 100, nil)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		defer store.Close()

		if store.dbPath != dbPath {
			t.Errorf("Expected dbPath %s, got %s", dbPath, store.dbPath)
		}
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("Expected database file to be created")
		}
	})

	t.Run("Store Creation with Nested Directory", func(t *testing.T) {
		dbPath := filepath.Join(tempDir, "nested", "dir", "test.db")
		store, err := NewSettingsStore(dbPath, 0, nil)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		defer store.Close()

		if _, err := os.Stat(filepath.Dir(dbPath)); os.IsNotExist(err) {
			t.Error("Expected nested directory to be created")
		}
	})
}

func TestSettings(t *testing.T) {
	store := newTestStore(t, 0)

	type preset struct {
		Name string
		Freq int64
		Mode string
	}

	t.Run("Save And Load", func(t *testing.T) {
		in := preset{Name: "40m ft8", Freq: 7074000, Mode: "PKTUSB"}
		if err := store.Save("preset/ft8", in); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
		var out preset
		if err := store.Load("preset/ft8", &out); err != nil {
			t.Fatalf("Failed to load: %v", err)
		}
		if out != in {
			t.Errorf("Expected %+v, got %+v", in, out)
		}
	})

	t.Run("Save Replaces", func(t *testing.T) {
		if err := store.Save("preset/ft8", preset{Name: "20m ft8", Freq: 14074000}); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
		var out preset
		if err := store.Load("preset/ft8", &out); err != nil {
			t.Fatalf("Failed to load: %v", err)
		}
		if out.Freq != 14074000 {
			t.Errorf("Expected 14074000, got %d", out.Freq)
		}
	})

	t.Run("Missing Key", func(t *testing.T) {
		var out preset
		err := store.Load("preset/none", &out)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("List By Prefix", func(t *testing.T) {
		if err := store.Save("preset/cw", preset{Name: "cw"}); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
		if err := store.Save("other", 42); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
		entries, err := store.List("preset/")
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("Expected 2 entries, got %d", len(entries))
		}
		if entries[0].Key != "preset/cw" || entries[1].Key != "preset/ft8" {
			t.Errorf("Expected sorted keys, got %s and %s", entries[0].Key, entries[1].Key)
		}
		if entries[0].Size == 0 {
			t.Error("Expected a non-empty value")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := store.Delete("other"); err != nil {
			t.Fatalf("Failed to delete: %v", err)
		}
		var n int
		if err := store.Load("other", &n); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound after delete, got %v", err)
		}
		if err := store.Delete("other"); err != nil {
			t.Errorf("Expected deleting a missing key to succeed, got %v", err)
		}
	})
}

func TestStateHistory(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Save And Restore State", func(t *testing.T) {
		store := newTestStore(t, 0)
		in := RigState{Timestamp: base, Model: 1035, Frequency: 7074000, Mode: "PKTUSB", Width: 3000, VFO: "VFOA"}
		if err := store.SaveState(in); err != nil {
			t.Fatalf("Failed to save state: %v", err)
		}
		out, err := store.LoadState(1035)
		if err != nil {
			t.Fatalf("Failed to load state: %v", err)
		}
		if out.Frequency != in.Frequency || out.Mode != in.Mode || out.Width != in.Width || out.VFO != in.VFO {
			t.Errorf("Expected %+v, got %+v", in, out)
		}
		if !out.Timestamp.Equal(base) {
			t.Errorf("Expected timestamp %v, got %v", base, out.Timestamp)
		}
		if _, err := store.LoadState(3073); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound for another model, got %v", err)
		}
	})

	t.Run("History Is Trimmed", func(t *testing.T) {
		store := newTestStore(t, 3)
		for i := 0; i < 5; i++ {
			st := RigState{Timestamp: base.Add(time.Duration(i) * time.Minute), Model: 1, Frequency: int64(14000000 + i)}
			if err := store.RecordState(st); err != nil {
				t.Fatalf("Failed to record state: %v", err)
			}
		}
		states, err := store.GetHistory(HistoryQuery{})
		if err != nil {
			t.Fatalf("Failed to get history: %v", err)
		}
		if len(states) != 3 {
			t.Fatalf("Expected 3 states, got %d", len(states))
		}
		if states[0].Frequency != 14000004 {
			t.Errorf("Expected newest first, got %d", states[0].Frequency)
		}
		if states[2].Frequency != 14000002 {
			t.Errorf("Expected oldest two trimmed, got %d", states[2].Frequency)
		}
	})

	t.Run("History Filters", func(t *testing.T) {
		store := newTestStore(t, 0)
		for i := 0; i < 6; i++ {
			model := 1
			if i%2 == 1 {
				model = 3073
			}
			st := RigState{Timestamp: base.Add(time.Duration(i) * time.Hour), Model: model, Frequency: int64(i)}
			if err := store.RecordState(st); err != nil {
				t.Fatalf("Failed to record state: %v", err)
			}
		}

		states, err := store.GetHistory(HistoryQuery{Model: 3073})
		if err != nil {
			t.Fatalf("Failed to get history: %v", err)
		}
		if len(states) != 3 {
			t.Errorf("Expected 3 states for model 3073, got %d", len(states))
		}

		since := base.Add(2 * time.Hour)
		until := base.Add(4 * time.Hour)
		states, err = store.GetHistory(HistoryQuery{Since: &since, Until: &until})
		if err != nil {
			t.Fatalf("Failed to get history: %v", err)
		}
		if len(states) != 3 {
			t.Errorf("Expected 3 states in range, got %d", len(states))
		}

		states, err = store.GetHistory(HistoryQuery{Limit: 2, Offset: 1})
		if err != nil {
			t.Fatalf("Failed to get history: %v", err)
		}
		if len(states) != 2 || states[0].Frequency != 4 {
			t.Errorf("Expected page starting at 4, got %+v", states)
		}

		stats, err := store.GetHistoryStats()
		if err != nil {
			t.Fatalf("Failed to get stats: %v", err)
		}
		if stats.Records != 6 || stats.Models != 2 {
			t.Errorf("Expected 6 records over 2 models, got %d over %d", stats.Records, stats.Models)
		}
		if !stats.Oldest.Equal(base) {
			t.Errorf("Expected oldest %v, got %v", base, stats.Oldest)
		}
		if !stats.Newest.Equal(base.Add(5 * time.Hour)) {
			t.Errorf("Expected newest %v, got %v", base.Add(5*time.Hour), stats.Newest)
		}
	})

	t.Run("Empty Stats", func(t *testing.T) {
		store := newTestStore(t, 0)
		stats, err := store.GetHistoryStats()
		if err != nil {
			t.Fatalf("Failed to get stats: %v", err)
		}
		if stats.Records != 0 || !stats.Oldest.IsZero() {
			t.Errorf("Expected empty stats, got %+v", stats)
		}
	})
}
