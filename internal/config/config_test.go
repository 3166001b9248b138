package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg != want {
		t.Fatalf("defaults drifted: got %+v, want %+v", cfg, want)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("JOB_QUEUE_CAPACITY", "128")
	t.Setenv("STORAGE_RETRIES", "6")
	t.Setenv("STORAGE_BACKOFF_MS", "500")
	t.Setenv("JOB_DEADLINE_SECONDS", "30")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Workers)
	}
	if cfg.QueueCapacity != 128 {
		t.Errorf("QueueCapacity = %d, want 128", cfg.QueueCapacity)
	}
	if cfg.StorageRetries != 6 {
		t.Errorf("StorageRetries = %d, want 6", cfg.StorageRetries)
	}
	if cfg.StorageBackoff != 500*time.Millisecond {
		t.Errorf("StorageBackoff = %s, want 500ms", cfg.StorageBackoff)
	}
	if cfg.JobDeadline != 30*time.Second {
		t.Errorf("JobDeadline = %s, want 30s", cfg.JobDeadline)
	}
}

func TestLoadRejectsBadCapacity(t *testing.T) {
	t.Setenv("JOB_QUEUE_CAPACITY", "0")
	if _, err := Load(nil); err == nil {
		t.Fatal("expected an error for zero queue capacity")
	}
}
