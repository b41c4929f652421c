package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

// Install modes accepted by --install-mode and the INSTALL_MODE environment
// variable.
const (
	InstallAlways    = "always"
	InstallNever     = "never"
	InstallIfMissing = "if-missing"
)

// Contract run modes.
const (
	ModeCheck  = "check"
	ModeUpdate = "update"
)

// Config carries every knob of a single invocation. It is built once at the
// edge of the program; nothing below the command layer reads flags or the
// environment.
type Config struct {
	Command string

	// Shared
	LogLevel   string
	JSONOutput bool

	// validate / manifest:*
	AppPath         string
	Profile         string
	ProfilesFile    string
	InstallMode     string
	BootTimeout     time.Duration
	RequireManifest bool
	Template        string
	TemplateDir     string

	// validate-all
	RootPath       string
	RemediateDrift bool
	StallDumpDir   string
	StallThreshold time.Duration

	// contract:*
	ContractCmd  string
	InputFile    string
	UseStdin     bool
	ContractsDir string
	FixturesDir  string
	Mode         string
	Acknowledge  bool

	// Optional OTLP log export
	OtelEndpoint    string
	OtelFromEnv     bool
	OtelHeaders     map[string]string
	OtelServiceName string
	OtelTimeout     time.Duration
}

func defaults(command string) *Config {
	return &Config{
		Command:         command,
		LogLevel:        "info",
		InstallMode:     InstallIfMissing,
		BootTimeout:     12 * time.Second,
		RequireManifest: true,
		RootPath:        ".",
		ContractsDir:    "contracts",
		FixturesDir:     ".appvet-fixtures",
		Mode:            ModeCheck,
		StallThreshold:  4 * time.Minute,
		OtelHeaders:     map[string]string{},
		OtelServiceName: "appvet",
		OtelTimeout:     5 * time.Second,
	}
}

// Load parses the arguments of a single subcommand into a Config with the
// documented precedence: explicit flag, then environment, then default.
func Load(command string, args []string) (*Config, error) {
	cfg := defaults(command)

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	logLevel := fs.String("log-level", cfg.LogLevel, "Log level: debug, info, warn, error, fatal, or panic (default: info).")
	jsonOut := fs.Bool("json", cfg.JSONOutput, "Emit exactly one JSON object on stdout (default: false).")

	otelEndpoint := fs.String("otel-endpoint", cfg.OtelEndpoint, "OTLP/HTTP logs endpoint (default: none).")
	otelFromEnv := fs.Bool("otel-from-env", cfg.OtelFromEnv, "Allow OTEL endpoint fallback from OTEL environment variables (default: false).")
	otelHeaders := fs.String("otel-headers", "", "Comma-separated OTEL headers (key=value) for export (default: none).")
	otelServiceName := fs.String("otel-service-name", cfg.OtelServiceName, "OTEL service name for export (default: appvet).")
	otelTimeout := fs.Duration("otel-timeout", cfg.OtelTimeout, "OTEL export timeout (default: 5s).")

	var (
		appPath        *string
		profile        *string
		profilesFile   *string
		installMode    *string
		bootTimeout    *time.Duration
		noRequire      *bool
		template       *string
		templateDir    *string
		rootPath       *string
		remediateDrift *bool
		stallDumpDir   *string
		stallThreshold *time.Duration
		contractCmd    *string
		inputFile      *string
		useStdin       *bool
		contractsDir   *string
		fixturesDir    *string
		mode           *string
		acknowledge    *bool
	)

	switch command {
	case "validate":
		appPath = fs.String("app", "", "Path to the application directory to validate (required).")
		profile = fs.String("profile", "", "Validation profile name; defaults to the manifest template (default: none).")
		profilesFile = fs.String("profiles", "", "Path to a YAML file overriding the built-in profiles (default: none).")
		installMode = fs.String("install-mode", cfg.InstallMode, "Dependency install mode: always, never, or if-missing (default: if-missing).")
		bootTimeout = fs.Duration("boot-timeout", cfg.BootTimeout, "Overall deadline for the boot check (default: 12s).")
		noRequire = fs.Bool("no-require-manifest", false, "Tolerate a missing manifest instead of failing the integrity gate (default: false).")
	case "validate-all":
		rootPath = fs.String("root", cfg.RootPath, "Directory whose child app directories are validated (default: .).")
		remediateDrift = fs.Bool("remediate-drift", false, "Refresh the manifest and re-validate exactly once on drift-only failures (default: false).")
		stallDumpDir = fs.String("stall-dump-dir", "", "Directory for stall diagnostics; empty disables the watchdog (default: none).")
		stallThreshold = fs.Duration("stall-threshold", cfg.StallThreshold, "How long the sweep may sit on one app before diagnostics are dumped (default: 4m).")
		profilesFile = fs.String("profiles", "", "Path to a YAML file overriding the built-in profiles (default: none).")
		installMode = fs.String("install-mode", cfg.InstallMode, "Dependency install mode: always, never, or if-missing (default: if-missing).")
		bootTimeout = fs.Duration("boot-timeout", cfg.BootTimeout, "Overall deadline for the boot check (default: 12s).")
	case "manifest:init":
		appPath = fs.String("app", "", "Path to the application directory (required).")
		template = fs.String("template", "", "Template identifier recorded in the manifest (required).")
		templateDir = fs.String("template-dir", "", "Source template directory recorded in the manifest (default: none).")
	case "manifest:refresh":
		appPath = fs.String("app", "", "Path to the application directory (required).")
	case "contract:check", "contract:update":
		contractCmd = fs.String("cmd", "", "Contract command name, e.g. validate (required).")
		inputFile = fs.String("file", "", "Path to the JSON result to check (default: none).")
		useStdin = fs.Bool("stdin", false, "Read the JSON result from stdin (default: false).")
		contractsDir = fs.String("contracts-dir", cfg.ContractsDir, "Snapshot directory (default: contracts).")
		if command == "contract:update" {
			acknowledge = fs.Bool("yes", false, "Acknowledge that golden snapshots will be overwritten (required).")
		}
	case "contract:run":
		mode = fs.String("mode", cfg.Mode, "Battery mode: check or update (default: check).")
		contractsDir = fs.String("contracts-dir", cfg.ContractsDir, "Snapshot directory (default: contracts).")
		fixturesDir = fs.String("fixtures-dir", cfg.FixturesDir, "Directory where deterministic failure fixtures are materialized (default: .appvet-fixtures).")
		acknowledge = fs.Bool("yes", false, "Acknowledge snapshot overwrites in update mode (default: false).")
	default:
		return nil, fmt.Errorf("unknown command: %s", command)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	installModeSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "install-mode" {
			installModeSet = true
		}
	})

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(*logLevel))
	cfg.JSONOutput = *jsonOut
	cfg.OtelEndpoint = strings.TrimSpace(*otelEndpoint)
	cfg.OtelFromEnv = *otelFromEnv
	cfg.OtelHeaders = parseHeaders(*otelHeaders)
	cfg.OtelServiceName = strings.TrimSpace(*otelServiceName)
	cfg.OtelTimeout = *otelTimeout

	if appPath != nil {
		cfg.AppPath = strings.TrimSpace(*appPath)
	}
	if profile != nil {
		cfg.Profile = strings.TrimSpace(*profile)
	}
	if profilesFile != nil {
		cfg.ProfilesFile = strings.TrimSpace(*profilesFile)
	}
	if installMode != nil {
		cfg.InstallMode = strings.ToLower(strings.TrimSpace(*installMode))
	}
	if bootTimeout != nil {
		cfg.BootTimeout = *bootTimeout
	}
	if noRequire != nil {
		cfg.RequireManifest = !*noRequire
	}
	if template != nil {
		cfg.Template = strings.TrimSpace(*template)
	}
	if templateDir != nil {
		cfg.TemplateDir = strings.TrimSpace(*templateDir)
	}
	if rootPath != nil {
		cfg.RootPath = strings.TrimSpace(*rootPath)
	}
	if remediateDrift != nil {
		cfg.RemediateDrift = *remediateDrift
	}
	if stallDumpDir != nil {
		cfg.StallDumpDir = strings.TrimSpace(*stallDumpDir)
	}
	if stallThreshold != nil {
		cfg.StallThreshold = *stallThreshold
	}
	if contractCmd != nil {
		cfg.ContractCmd = strings.TrimSpace(*contractCmd)
	}
	if inputFile != nil {
		cfg.InputFile = strings.TrimSpace(*inputFile)
	}
	if useStdin != nil {
		cfg.UseStdin = *useStdin
	}
	if contractsDir != nil {
		cfg.ContractsDir = strings.TrimSpace(*contractsDir)
	}
	if fixturesDir != nil {
		cfg.FixturesDir = strings.TrimSpace(*fixturesDir)
	}
	if mode != nil {
		cfg.Mode = strings.ToLower(strings.TrimSpace(*mode))
	}
	if acknowledge != nil {
		cfg.Acknowledge = *acknowledge
	}

	// INSTALL_MODE: explicit flag wins, then the environment, then the default.
	if !installModeSet {
		if env := strings.ToLower(strings.TrimSpace(os.Getenv("INSTALL_MODE"))); env != "" {
			switch env {
			case InstallAlways, InstallNever, InstallIfMissing:
				cfg.InstallMode = env
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	switch cfg.InstallMode {
	case InstallAlways, InstallNever, InstallIfMissing:
	default:
		return fmt.Errorf("invalid install mode: %s", cfg.InstallMode)
	}
	if cfg.BootTimeout <= 0 {
		return fmt.Errorf("boot-timeout must be positive")
	}
	if cfg.OtelTimeout < 0 {
		return fmt.Errorf("otel-timeout must be zero or positive")
	}
	if cfg.OtelEndpoint != "" {
		if !strings.HasPrefix(cfg.OtelEndpoint, "http://") && !strings.HasPrefix(cfg.OtelEndpoint, "https://") {
			return fmt.Errorf("otel-endpoint must include scheme (http or https)")
		}
	}

	switch cfg.Command {
	case "validate", "manifest:refresh":
		if cfg.AppPath == "" {
			return fmt.Errorf("--app is required")
		}
	case "manifest:init":
		if cfg.AppPath == "" {
			return fmt.Errorf("--app is required")
		}
		if cfg.Template == "" {
			return fmt.Errorf("--template is required")
		}
	case "validate-all":
		if cfg.RootPath == "" {
			return fmt.Errorf("--root must not be empty")
		}
		if cfg.StallDumpDir != "" && cfg.StallThreshold <= 0 {
			return fmt.Errorf("stall-threshold must be positive")
		}
	case "contract:check", "contract:update":
		if cfg.ContractCmd == "" {
			return fmt.Errorf("--cmd is required")
		}
		if cfg.InputFile == "" && !cfg.UseStdin {
			return fmt.Errorf("one of --file or --stdin is required")
		}
		if cfg.InputFile != "" && cfg.UseStdin {
			return fmt.Errorf("--file and --stdin are mutually exclusive")
		}
	case "contract:run":
		if cfg.Mode != ModeCheck && cfg.Mode != ModeUpdate {
			return fmt.Errorf("invalid mode: %s", cfg.Mode)
		}
	}
	return nil
}

func parseHeaders(input string) map[string]string {
	headers := make(map[string]string)
	if input == "" {
		return headers
	}
	for _, item := range strings.Split(input, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		headers[key] = value
	}
	return headers
}

// RunningInCI reports whether the process appears to run under a CI system.
// Contract updates are refused unconditionally in that case.
func RunningInCI() bool {
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("CI"))); v == "1" || v == "true" || v == "yes" {
		return true
	}
	return os.Getenv("GITHUB_ACTIONS") != ""
}
