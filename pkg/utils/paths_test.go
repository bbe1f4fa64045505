package utils

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestResolveAndEnsureDBPathCreatesParent(t *testing.T) {
	dir := t.TempDir()
	want := filepath.Join(dir, "nested", "deeper", "resonance.db")

	got, err := ResolveAndEnsureDBPath(want)
	if err != nil {
		t.Fatalf("ResolveAndEnsureDBPath failed: %v", err)
	}
	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
	if info, err := os.Stat(filepath.Dir(want)); err != nil || !info.IsDir() {
		t.Errorf("Expected parent directory to exist, stat err: %v", err)
	}
}

func TestDefaultDBPathHonoursXDGDataHome(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("XDG_DATA_HOME is ignored on windows")
	}
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	want := filepath.Join(dir, "resonance", "resonance.db")
	if got := DefaultDBPath(); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	got, err := ExpandHome("~/data/r.db")
	if err != nil {
		t.Fatalf("ExpandHome failed: %v", err)
	}
	if want := filepath.Join(home, "data", "r.db"); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
	if got, _ := ExpandHome("/abs/r.db"); got != "/abs/r.db" {
		t.Errorf("Expected absolute path untouched, got %s", got)
	}
}
