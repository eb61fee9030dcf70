package store

import (
	"context"
	"path/filepath"
	"testing"
)

func TestStoreGetSet(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "caller.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, ok, err := s.Get(ctx, "queueVolume"); err != nil || ok {
		t.Fatalf("Get on empty store: ok=%v err=%v", ok, err)
	}

	if err := s.Set(ctx, "queueVolume", "0.7"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "queueVolume", "0.35"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}

	got, ok, err := s.Get(ctx, "queueVolume")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got != "0.35" {
		t.Errorf("value = %q, want 0.35", got)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "caller.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set(ctx, "callHistory", `[]`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, ok, err := s2.Get(ctx, "callHistory")
	if err != nil || !ok || got != `[]` {
		t.Errorf("after reopen got=%q ok=%v err=%v", got, ok, err)
	}
}
