package validate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"appvet/config"
	"appvet/logger"
	"appvet/manifest"
	"appvet/proc"
	"appvet/tracing"
)

const installTimeout = 3 * time.Minute

// RunValidation validates one application end to end: manifest integrity,
// dependency install, boot, then the template's check pipeline. It always
// returns a report; infrastructure problems surface as failed checks, not
// errors.
func RunValidation(cfg *config.Config, profiles *Profiles) Report {
	traceCtx, endTask := tracing.StartTask(context.Background(), "validate_app")
	defer endTask()
	tracing.Log(traceCtx, "app", cfg.AppPath)

	started := time.Now().UTC()
	report := Report{
		AppPath:   cfg.AppPath,
		StartedAt: started.Format(time.RFC3339),
	}
	finish := func() Report {
		finished := time.Now().UTC()
		report.FinishedAt = finished.Format(time.RFC3339)
		report.DurationMs = finished.Sub(started).Milliseconds()
		report.OK = report.FailureClass == nil
		return report
	}
	failEarly := func(check CheckResult) Report {
		report.Checks = append(report.Checks, check)
		report.FailureClass = check.FailureKind
		return finish()
	}

	endRegion := tracing.StartRegion(traceCtx, "manifest_integrity")
	integrity := manifest.VerifyIntegrity(cfg.AppPath, cfg.RequireManifest)
	endRegion()
	if !integrity.OK {
		details := map[string]interface{}{"error": integrity.Error}
		if integrity.Detail != "" {
			details["detail"] = integrity.Detail
		}
		if integrity.Error == manifest.ErrManifestDrift {
			details["expected"] = integrity.Expected
			details["current"] = integrity.Current
		}
		return failEarly(CheckResult{ID: "manifest", Required: true, OK: false,
			FailureKind: failPtr(FailSchema), Details: details})
	}
	report.Checks = append(report.Checks, CheckResult{ID: "manifest", Required: true, OK: true,
		Details: map[string]interface{}{"matches": integrity.Matches}})

	report.Template = resolveTemplate(cfg)
	profile, known := profiles.For(report.Template)
	if !known {
		logger.Warnf("no profile for template %q; using minimal boot+health profile", report.Template)
	}

	if check, ok := installDependencies(cfg, profile); !ok {
		return failEarly(check)
	} else if check.ID != "" {
		report.Checks = append(report.Checks, check)
	}

	port, err := proc.AllocateEphemeralPort()
	if err != nil {
		return failEarly(CheckResult{ID: "boot", Required: true, OK: false,
			FailureKind: failPtr(FailBoot),
			Details:     map[string]interface{}{"reason": "port_allocation", "error": err.Error()}})
	}
	report.BaseURL = fmt.Sprintf("http://127.0.0.1:%d", port)

	if len(profile.StartCommand) == 0 {
		return failEarly(CheckResult{ID: "boot", Required: true, OK: false,
			FailureKind: failPtr(FailBoot),
			Details:     map[string]interface{}{"reason": "no_start_command"}})
	}
	handle, err := proc.Start(profile.StartCommand[0], profile.StartCommand[1:], cfg.AppPath,
		map[string]string{"PORT": strconv.Itoa(port)})
	if err != nil {
		return failEarly(CheckResult{ID: "boot", Required: true, OK: false,
			FailureKind: failPtr(FailBoot),
			Details:     map[string]interface{}{"reason": "spawn_failed", "error": err.Error()}})
	}
	defer handle.Stop(true)

	base := CheckContext{
		Template:    report.Template,
		AppPath:     cfg.AppPath,
		BaseURL:     report.BaseURL,
		BootTimeout: cfg.BootTimeout,
		Handle:      handle,
	}
	endRegion = tracing.StartRegion(traceCtx, "check_pipeline")
	results, failureClass := RunPipeline(profile, base)
	endRegion()
	report.Checks = append(report.Checks, results...)
	report.FailureClass = failureClass
	return finish()
}

// resolveTemplate prefers the manifest's template, then the --profile flag.
func resolveTemplate(cfg *config.Config) string {
	if m, err := manifest.Load(cfg.AppPath); err == nil && m.Template != "" {
		return m.Template
	}
	if cfg.Profile != "" {
		return cfg.Profile
	}
	return "unknown"
}

// installDependencies honors the install mode and retries a failed install
// once before giving up. Returns the install check result and whether the
// pipeline may proceed; a zero-ID result means installation was skipped.
func installDependencies(cfg *config.Config, profile Profile) (CheckResult, bool) {
	switch cfg.InstallMode {
	case config.InstallNever:
		return CheckResult{}, true
	case config.InstallIfMissing:
		if profile.DependencyDir != "" {
			if info, err := os.Stat(filepath.Join(cfg.AppPath, profile.DependencyDir)); err == nil && info.IsDir() {
				return CheckResult{}, true
			}
		}
	}
	if len(profile.InstallCommand) == 0 {
		return CheckResult{}, true
	}

	var lastErr string
	var lastExit int
	for attempt := 1; attempt <= 2; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), installTimeout)
		res, err := proc.Run(ctx, profile.InstallCommand[0], profile.InstallCommand[1:], cfg.AppPath, nil)
		cancel()
		if err == nil && res.ExitCode == 0 {
			return CheckResult{ID: "install", Required: true, OK: true,
				Details: map[string]interface{}{"attempts": attempt}}, true
		}
		if err != nil {
			lastErr = err.Error()
		} else {
			lastErr = tail(res.Stderr, stderrTailBytes)
			lastExit = res.ExitCode
		}
		logger.Warnf("dependency install attempt %d failed", attempt)
	}
	return CheckResult{ID: "install", Required: true, OK: false,
		FailureKind: failPtr(FailBoot),
		Details: map[string]interface{}{
			"reason": "install_failed", "exitCode": lastExit, "stderrTail": lastErr,
		}}, false
}
