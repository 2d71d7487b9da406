package bridgeconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsMatchFixedPaths(t *testing.T) {
	cfg := Defaults()
	if cfg.SocketPath != "/tmp/.bref/php-fpm.sock" {
		t.Errorf("SocketPath = %q", cfg.SocketPath)
	}
	if cfg.PidPath != "/tmp/.bref/php-fpm.pid" {
		t.Errorf("PidPath = %q", cfg.PidPath)
	}
	if cfg.ConfigPath != "/opt/bref/etc/php-fpm.conf" {
		t.Errorf("ConfigPath = %q", cfg.ConfigPath)
	}
	if cfg.StopGrace != 2*time.Second {
		t.Errorf("StopGrace = %v", cfg.StopGrace)
	}
}

func TestLoadReturnsDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SocketPath != Defaults().SocketPath {
		t.Fatalf("expected Defaults when file is missing, got %+v", cfg)
	}
}

func TestLoadOverridesDefaultsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.yaml")
	contents := "socket_path: /custom/worker.sock\nstop_grace: 5s\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SocketPath != "/custom/worker.sock" {
		t.Fatalf("SocketPath = %q", cfg.SocketPath)
	}
	if cfg.StopGrace != 5*time.Second {
		t.Fatalf("StopGrace = %v", cfg.StopGrace)
	}
	// Fields absent from the file keep their default value.
	if cfg.PidPath != Defaults().PidPath {
		t.Fatalf("PidPath = %q, want default to survive a partial override", cfg.PidPath)
	}
}
