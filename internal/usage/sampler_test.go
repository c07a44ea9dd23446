package usage

import (
	"os"
	"path/filepath"
	"testing"
)

func writeStat(t *testing.T, path string, lines string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(lines), 0644); err != nil {
		t.Fatalf("failed to write stat file: %v", err)
	}
}

func TestSamplerDeltas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stat")
	s := newSampler(path)

	writeStat(t, path, `cpu  200 0 100 700 0 0 0 0 0 0
cpu0 100 0 50 350 0 0 0 0 0 0
cpu1 100 0 50 350 0 0 0 0 0 0
`)
	if err := s.Sample(); err != nil {
		t.Fatalf("Sample: %v", err)
	}

	// First sample establishes the baseline only.
	if got := s.Busy(0); got != 0 {
		t.Errorf("first sample busy = %v, want 0", got)
	}

	// cpu0 spends 75 of 100 ticks busy, cpu1 stays idle.
	writeStat(t, path, `cpu  275 0 100 725 0 0 0 0 0 0
cpu0 175 0 50 375 0 0 0 0 0 0
cpu1 100 0 50 450 0 0 0 0 0 0
`)
	if err := s.Sample(); err != nil {
		t.Fatalf("Sample: %v", err)
	}

	if got := s.Busy(0); got != 0.75 {
		t.Errorf("cpu0 busy = %v, want 0.75", got)
	}
	if got := s.Busy(1); got != 0 {
		t.Errorf("cpu1 busy = %v, want 0", got)
	}

	if got := s.PoolUsage([]int{0, 1}); got != 0.75 {
		t.Errorf("PoolUsage = %v, want 0.75", got)
	}
}

func TestSamplerMissingFile(t *testing.T) {
	s := newSampler(filepath.Join(t.TempDir(), "missing"))
	if err := s.Sample(); err == nil {
		t.Fatal("expected error for missing stat file")
	}
}

func TestSamplerUnknownCoreIsZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stat")
	s := newSampler(path)
	writeStat(t, path, "cpu0 10 0 0 90 0 0 0 0 0 0\n")
	if err := s.Sample(); err != nil {
		t.Fatalf("Sample: %v", err)
	}

	if got := s.PoolUsage([]int{5, 6}); got != 0 {
		t.Errorf("PoolUsage of unseen cores = %v, want 0", got)
	}
}
