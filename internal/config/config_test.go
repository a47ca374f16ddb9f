package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestNewAppConfig_Defaults(t *testing.T) {
	cfg, err := NewAppConfig(Path(filepath.Join(t.TempDir(), "missing.toml")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := Default()
	if cfg.PollInterval != d.PollInterval {
		t.Errorf("PollInterval = %v, want %v", cfg.PollInterval, d.PollInterval)
	}
	if cfg.NavigationTimeout != 8*time.Second {
		t.Errorf("NavigationTimeout = %v, want 8s", cfg.NavigationTimeout)
	}
	if cfg.ObserverMode != ModePoll {
		t.Errorf("ObserverMode = %q, want %q", cfg.ObserverMode, ModePoll)
	}
	if cfg.Level().Level() != zapcore.InfoLevel {
		t.Errorf("Level = %v, want info", cfg.Level().Level())
	}
}

func TestNewAppConfig_FileAndEnv(t *testing.T) {
	p := writeFile(t, t.TempDir(), `
observer_mode = "events"
poll_interval = "250ms"
listen_addr = "127.0.0.1:9999"
mpris_enabled = false
log_level = "debug"
`)
	t.Setenv("PLAYSYNC_LISTEN_ADDR", "127.0.0.1:7777")

	cfg, err := NewAppConfig(Path(p))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ObserverMode != ModeEvents {
		t.Errorf("ObserverMode = %q, want events", cfg.ObserverMode)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v, want 250ms", cfg.PollInterval)
	}
	if cfg.ListenAddr != "127.0.0.1:7777" {
		t.Errorf("ListenAddr = %q, env override not applied", cfg.ListenAddr)
	}
	if cfg.MPRISEnabled {
		t.Error("MPRISEnabled should be false from file")
	}
	if cfg.Level().Level() != zapcore.DebugLevel {
		t.Errorf("Level = %v, want debug", cfg.Level().Level())
	}
	if cfg.Path() != p {
		t.Errorf("Path = %q, want %q", cfg.Path(), p)
	}
}

func TestNewAppConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad mode", `observer_mode = "stream"`},
		{"bad level", `log_level = "chatty"`},
		{"negative cache", `enrichment_cache_size = -1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeFile(t, t.TempDir(), tt.body)
			_, err := NewAppConfig(Path(p))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestWatch_ReloadsLogLevel(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, `log_level = "info"`)

	cfg, err := NewAppConfig(Path(p))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = cfg.Watch(ctx, zap.NewNop())
	}()

	// Give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, `log_level = "warn"`)

	deadline := time.Now().Add(2 * time.Second)
	for cfg.Level().Level() != zapcore.WarnLevel {
		if time.Now().After(deadline) {
			t.Fatalf("log level not reloaded, still %v", cfg.Level().Level())
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	<-done
}
