package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"appvet/config"
	"appvet/contract"
	"appvet/logger"
	"appvet/manifest"
	"appvet/output"
	"appvet/proc"
	"appvet/tracing"
	"appvet/update"
	"appvet/validate"
	"appvet/version"
)

const usage = `appvet %s - scaffold validation and contract integrity

Usage: appvet <command> [flags]

Commands:
  validate          Validate one application (exit 0/1/10/11/12/13)
  validate-all      Validate every application under a root directory
  manifest:init     Record a baseline manifest for an application
  manifest:refresh  Recompute the manifest baseline after intended changes
  contract:check    Compare a JSON result against its golden snapshot
  contract:update   Overwrite a golden snapshot (requires --yes)
  contract:run      Run the full contract battery against fixtures
  version           Print the version

Run 'appvet <command> -h' for command flags.
`

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, version.Version)
		return 2
	}
	command := os.Args[1]
	switch command {
	case "version", "--version", "-v":
		fmt.Println(version.Version)
		return 0
	case "help", "--help", "-h":
		fmt.Printf(usage, version.Version)
		return 0
	}

	cfg, err := config.Load(command, os.Args[2:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "appvet: %v\n", err)
		return 2
	}
	logger.Init(cfg.LogLevel)

	if err := tracing.Start(); err != nil {
		logger.Warnf("tracing disabled: %v", err)
	} else {
		defer tracing.Stop()
	}

	if !cfg.JSONOutput {
		if latest, notes, newer, err := update.CheckForUpdate(version.Version); err == nil && newer {
			if strings.Contains(strings.ToLower(notes), "security") {
				logger.Warnf("Update available: %s -> %s (security fixes included)", version.Version, latest)
			} else {
				logger.Infof("Update available: %s -> %s", version.Version, latest)
			}
		}
	}

	emitter := output.New(cfg)
	defer emitter.Close()

	go handleSignals(emitter)

	switch command {
	case "validate":
		profiles, err := validate.LoadProfiles(cfg.ProfilesFile)
		if err != nil {
			logger.Errorf("loading profiles: %v", err)
			return 2
		}
		report := validate.RunValidation(cfg, profiles)
		emitter.Report(report)
		return validate.ExitCodeFor(report.FailureClass)

	case "validate-all":
		profiles, err := validate.LoadProfiles(cfg.ProfilesFile)
		if err != nil {
			logger.Errorf("loading profiles: %v", err)
			return 2
		}
		aggregate, err := validate.RunAll(cfg, profiles)
		if err != nil {
			logger.Errorf("validate-all: %v", err)
			return 2
		}
		emitter.Aggregate(aggregate)
		if aggregate.OK {
			return 0
		}
		return 1

	case "manifest:init":
		m, err := manifest.Init(cfg.AppPath, cfg.Template, cfg.TemplateDir)
		if err != nil {
			logger.Errorf("manifest:init: %v", err)
			return 1
		}
		emitter.Manifest("manifest:init", cfg.AppPath, m.Fingerprint, len(m.FileMap))
		return 0

	case "manifest:refresh":
		m, err := manifest.Refresh(cfg.AppPath)
		if err != nil {
			logger.Errorf("manifest:refresh: %v", err)
			return 1
		}
		emitter.Manifest("manifest:refresh", cfg.AppPath, m.Fingerprint, len(m.FileMap))
		return 0

	case "contract:check":
		result, code := contract.CheckDocument(cfg)
		emitter.Document(result)
		return code

	case "contract:update":
		result, code := contract.UpdateDocument(cfg)
		emitter.Document(result)
		return code

	case "contract:run":
		result, err := contract.RunBattery(cfg)
		if err != nil {
			logger.Errorf("contract:run: %v", err)
			return 2
		}
		emitter.Contract(result)
		if result.OK {
			return 0
		}
		return 1
	}

	fmt.Fprintf(os.Stderr, usage, version.Version)
	return 2
}

// handleSignals reaps any child still running and flushes the log exporter
// before exiting; an interrupt must not orphan a validated app's process
// group or drop buffered exports.
func handleSignals(emitter *output.Emitter) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Interrupt signal received. Shutting down...")
	proc.StopAll(true)
	emitter.Close()
	os.Exit(130)
}
