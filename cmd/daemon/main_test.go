package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/genricoloni/playsync/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// TestAppGraphValidity verifies that the dependency graph is resolvable.
// This test will fail if you forget an fx.Provide for a required interface.
func TestAppGraphValidity(t *testing.T) {
	err := fx.ValidateApp(
		fx.Supply(config.Path("")),
		AppOptions,
	)
	if err != nil {
		t.Errorf("Dependency graph is not valid: %v", err)
	}
}

// TestNewLogger specifically verifies the logger configuration
func TestNewLogger(t *testing.T) {
	cfg, err := config.NewAppConfig(config.Path(t.TempDir() + "/missing.toml"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}
	logger.Info("Test logger initialization")

	if logger.Core().Enabled(zap.DebugLevel) {
		t.Error("debug should be disabled at the default info level")
	}
}

func TestVersionCommand(t *testing.T) {
	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), "playsyncd dev") {
		t.Errorf("unexpected output: %q", out.String())
	}
}
