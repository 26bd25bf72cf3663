package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadRequiresPort(t *testing.T) {
	path := writeConfig(t, `{"auth":"secret"}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected missing port to fail validation")
	}
}

func TestLoadRequiresAuth(t *testing.T) {
	path := writeConfig(t, `{"port":8080}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected missing auth to fail validation")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"port":8080,"auth":"secret"}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.QueueSize != DefaultQueueSize {
		t.Fatalf("expected default queueSize, got %d", cfg.QueueSize)
	}
	if cfg.VMTimeout != DefaultVMTimeoutMs {
		t.Fatalf("expected default vmTimeout, got %d", cfg.VMTimeout)
	}
	if cfg.MaxChildProcessCount <= 0 {
		t.Fatalf("expected positive default worker count, got %d", cfg.MaxChildProcessCount)
	}
}

func TestLoadHonoursExplicitValues(t *testing.T) {
	path := writeConfig(t, `{"port":8080,"auth":"secret","queueSize":5,"vmTimeout":1000}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.QueueSize != 5 {
		t.Fatalf("expected explicit queueSize to win, got %d", cfg.QueueSize)
	}
	if cfg.VMTimeout != 1000 {
		t.Fatalf("expected explicit vmTimeout to win, got %d", cfg.VMTimeout)
	}
}
