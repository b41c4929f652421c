package config

import (
	"testing"
	"time"
)

func TestLoadValidateDefaults(t *testing.T) {
	cfg, err := Load("validate", []string{"--app", "demo"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AppPath != "demo" {
		t.Errorf("AppPath = %q", cfg.AppPath)
	}
	if cfg.InstallMode != InstallIfMissing {
		t.Errorf("InstallMode = %q, want %q", cfg.InstallMode, InstallIfMissing)
	}
	if cfg.BootTimeout != 12*time.Second {
		t.Errorf("BootTimeout = %v", cfg.BootTimeout)
	}
	if !cfg.RequireManifest {
		t.Error("RequireManifest should default to true")
	}
	if cfg.JSONOutput {
		t.Error("JSONOutput should default to false")
	}
}

func TestLoadValidateMissingApp(t *testing.T) {
	if _, err := Load("validate", nil); err == nil {
		t.Fatal("expected error for missing --app")
	}
}

func TestInstallModePrecedence(t *testing.T) {
	// Env applies when the flag is absent.
	t.Setenv("INSTALL_MODE", "never")
	cfg, err := Load("validate", []string{"--app", "demo"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.InstallMode != InstallNever {
		t.Errorf("env not applied: InstallMode = %q", cfg.InstallMode)
	}

	// Explicit flag wins over the environment.
	cfg, err = Load("validate", []string{"--app", "demo", "--install-mode", "always"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.InstallMode != InstallAlways {
		t.Errorf("flag lost to env: InstallMode = %q", cfg.InstallMode)
	}

	// An invalid env value is ignored, leaving the default.
	t.Setenv("INSTALL_MODE", "sometimes")
	cfg, err = Load("validate", []string{"--app", "demo"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.InstallMode != InstallIfMissing {
		t.Errorf("invalid env not ignored: InstallMode = %q", cfg.InstallMode)
	}
}

func TestLoadContractCheck(t *testing.T) {
	cfg, err := Load("contract:check", []string{"--cmd", "validate", "--file", "out.json"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ContractsDir != "contracts" {
		t.Errorf("ContractsDir = %q", cfg.ContractsDir)
	}

	if _, err := Load("contract:check", []string{"--cmd", "validate"}); err == nil {
		t.Fatal("expected error when neither --file nor --stdin given")
	}
	if _, err := Load("contract:check", []string{"--cmd", "validate", "--file", "a", "--stdin"}); err == nil {
		t.Fatal("expected error when both --file and --stdin given")
	}
}

func TestLoadValidateAllStallFlags(t *testing.T) {
	cfg, err := Load("validate-all", []string{"--stall-dump-dir", "diag"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StallDumpDir != "diag" {
		t.Errorf("StallDumpDir = %q", cfg.StallDumpDir)
	}
	if cfg.StallThreshold != 4*time.Minute {
		t.Errorf("StallThreshold = %v", cfg.StallThreshold)
	}

	if _, err := Load("validate-all", []string{"--stall-dump-dir", "diag", "--stall-threshold", "0s"}); err == nil {
		t.Fatal("expected error for non-positive stall threshold")
	}
}

func TestLoadContractRunMode(t *testing.T) {
	if _, err := Load("contract:run", []string{"--mode", "sync"}); err == nil {
		t.Fatal("expected error for invalid mode")
	}
	cfg, err := Load("contract:run", []string{"--mode", "update", "--yes"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != ModeUpdate || !cfg.Acknowledge {
		t.Errorf("Mode = %q, Acknowledge = %t", cfg.Mode, cfg.Acknowledge)
	}

	// The battery is pinned to the fixtures directory; there is no root knob.
	if _, err := Load("contract:run", []string{"--root", "apps"}); err == nil {
		t.Fatal("expected error for unsupported --root")
	}
}

func TestLoadUnknownCommand(t *testing.T) {
	if _, err := Load("frobnicate", nil); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestLoadOtelEndpointValidation(t *testing.T) {
	if _, err := Load("validate", []string{"--app", "demo", "--otel-endpoint", "collector:4318"}); err == nil {
		t.Fatal("expected error for schemeless endpoint")
	}
}

func TestRunningInCI(t *testing.T) {
	t.Setenv("CI", "")
	t.Setenv("GITHUB_ACTIONS", "")
	if RunningInCI() {
		t.Fatal("unexpected CI detection")
	}
	t.Setenv("CI", "true")
	if !RunningInCI() {
		t.Fatal("CI=true not detected")
	}
}
