package contract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"appvet/config"
	"appvet/logger"
	"appvet/normalize"
	"appvet/proc"
	"appvet/snapshot"
	"appvet/validate"
)

const itemTimeout = 60 * time.Second

// BatteryItem is one sub-invocation of the tool itself. Fixture-pinned items
// always run against the materialized fixtures, never the caller's root, so
// their snapshots stay stable.
type BatteryItem struct {
	Cmd     string
	Kind    string
	Fixture string
	// ExpectedClass asserts the report's failureClass for deterministic
	// failure fixtures.
	ExpectedClass string
	// ExpectedManifestError asserts the integrity error code carried by the
	// manifest check, for the manifest fixtures.
	ExpectedManifestError string
}

// Battery returns the fixed, ordered list of contract items.
func Battery() []BatteryItem {
	return []BatteryItem{
		{Cmd: "validate@fixture:" + FixtureManifestMissing, Kind: "validate", Fixture: FixtureManifestMissing,
			ExpectedClass: validate.FailSchema, ExpectedManifestError: "MANIFEST_MISSING"},
		{Cmd: "validate@fixture:" + FixtureManifestDrift, Kind: "validate", Fixture: FixtureManifestDrift,
			ExpectedClass: validate.FailSchema, ExpectedManifestError: "MANIFEST_DRIFT"},
		{Cmd: "validate@fixture:" + FixtureBootExit, Kind: "validate", Fixture: FixtureBootExit,
			ExpectedClass: validate.FailBoot},
		{Cmd: "validate@fixture:" + FixtureHealthRefused, Kind: "validate", Fixture: FixtureHealthRefused,
			ExpectedClass: validate.FailHealth},
		{Cmd: "validate@fixture:" + FixtureSchemaMissing, Kind: "validate", Fixture: FixtureSchemaMissing,
			ExpectedClass: validate.FailSchema},
		{Cmd: "validate:all", Kind: "validate-all"},
	}
}

// ItemResult is the per-item row of a battery run.
type ItemResult struct {
	Cmd           string `json:"cmd"`
	SnapshotKey   string `json:"snapshotKey"`
	ExitCode      int    `json:"exitCode"`
	SchemaOK      bool   `json:"schemaOk"`
	ContractMatch bool   `json:"contractMatch"`
	ExpectationOK bool   `json:"expectationOk"`
}

// RunCounts aggregates battery failures by kind.
type RunCounts struct {
	SchemaFailCount      int `json:"schemaFailCount"`
	ContractFailCount    int `json:"contractFailCount"`
	CmdFailCount         int `json:"cmdFailCount"`
	ExpectationFailCount int `json:"expectationFailCount"`
}

// RunResult is the aggregate verdict of a battery run.
type RunResult struct {
	OK      bool         `json:"ok"`
	Mode    string       `json:"mode"`
	Counts  RunCounts    `json:"counts"`
	Results []ItemResult `json:"results"`
}

// RunBattery materializes the failure fixtures, drives every battery item
// through a sub-invocation of this executable, and compares (or, in update
// mode, overwrites) the stored snapshots.
func RunBattery(cfg *config.Config) (RunResult, error) {
	result := RunResult{Mode: cfg.Mode}

	if cfg.Mode == config.ModeUpdate {
		if config.RunningInCI() {
			return result, fmt.Errorf("contract:run --mode update is refused in CI environments")
		}
		if !cfg.Acknowledge {
			return result, fmt.Errorf("update mode overwrites golden snapshots; pass --yes to confirm")
		}
	}

	exe, err := os.Executable()
	if err != nil {
		return result, fmt.Errorf("resolving own executable: %w", err)
	}
	profilesPath, err := MaterializeFixtures(cfg.FixturesDir)
	if err != nil {
		return result, err
	}

	if cfg.Mode == config.ModeCheck {
		if stale, err := snapshot.VerifyIndex(cfg.ContractsDir); err == nil && len(stale) > 0 {
			logger.Warnf("snapshots edited since last update: %v", stale)
		}
	}

	items := Battery()
	bar := progressbar.NewOptions(len(items),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("contracts"),
		progressbar.OptionClearOnFinish(),
	)

	for _, item := range items {
		row := runItem(cfg, exe, profilesPath, item)
		result.Results = append(result.Results, row)
		if !row.SchemaOK {
			result.Counts.SchemaFailCount++
		}
		if !row.ContractMatch {
			result.Counts.ContractFailCount++
		}
		if !row.ExpectationOK {
			result.Counts.ExpectationFailCount++
		}
		// A nonzero exit is expected behavior once its snapshot vouches for
		// it; only unexplained nonzero exits count against the run.
		if row.ExitCode != 0 && !row.ContractMatch {
			result.Counts.CmdFailCount++
		}
		bar.Add(1)
	}
	bar.Finish()

	result.OK = result.Counts == RunCounts{}
	return result, nil
}

func (item BatteryItem) args(cfg *config.Config, profilesPath string) []string {
	common := []string{"--json", "--install-mode", "never", "--profiles", profilesPath, "--boot-timeout", "5s"}
	if item.Kind == "validate-all" {
		return append([]string{"validate-all", "--root", cfg.FixturesDir}, common...)
	}
	return append([]string{"validate", "--app", FixtureDir(cfg.FixturesDir, item.Fixture)}, common...)
}

func runItem(cfg *config.Config, exe, profilesPath string, item BatteryItem) ItemResult {
	row := ItemResult{Cmd: item.Cmd, SnapshotKey: item.Cmd}

	ctx, cancel := context.WithTimeout(context.Background(), itemTimeout)
	res, err := proc.Run(ctx, exe, item.args(cfg, profilesPath), "", nil)
	cancel()
	if err != nil {
		logger.Errorf("%s: sub-invocation failed to run: %v", item.Cmd, err)
		return row
	}
	row.ExitCode = res.ExitCode

	var payload interface{}
	if err := json.Unmarshal([]byte(res.Stdout), &payload); err != nil {
		logger.Errorf("%s: stdout is not a JSON document: %v", item.Cmd, err)
		return row
	}

	var issues []Issue
	if check := shapeFor(item.Kind); check != nil {
		issues = check(payload)
	}
	row.SchemaOK = len(issues) == 0
	for _, problem := range issues {
		logger.Warnf("%s: schema issue at %s: %s", item.Cmd, problem.Path, problem.Message)
	}

	doc := normalize.Wrap(item.Cmd, payload)
	path := snapshot.PathForKey(cfg.ContractsDir, item.Cmd)
	if cfg.Mode == config.ModeUpdate {
		if err := snapshot.WriteSnapshot(path, doc); err != nil {
			logger.Errorf("%s: writing snapshot: %v", item.Cmd, err)
		} else {
			row.ContractMatch = true
		}
	} else {
		expected, err := snapshot.ReadSnapshot(path)
		if err != nil {
			logger.Errorf("%s: no usable snapshot (run contract:run --mode update): %v", item.Cmd, err)
		} else {
			cmp := snapshot.CompareNormalized(expected, doc)
			row.ContractMatch = cmp.OK
			if !cmp.OK {
				logger.Warnf("%s: contract mismatch: %s", item.Cmd, cmp.DiffSummary)
			}
		}
	}

	row.ExpectationOK = expectationHolds(item, payload)
	return row
}

// expectationHolds asserts the declared diagnostic of a failure fixture
// against the actual report.
func expectationHolds(item BatteryItem, payload interface{}) bool {
	if item.ExpectedClass == "" && item.ExpectedManifestError == "" {
		return true
	}
	report, ok := payload.(map[string]interface{})
	if !ok {
		return false
	}
	if item.ExpectedClass != "" {
		if class, _ := report["failureClass"].(string); class != item.ExpectedClass {
			logger.Warnf("%s: expected failureClass %s, got %v", item.Cmd, item.ExpectedClass, report["failureClass"])
			return false
		}
	}
	if item.ExpectedManifestError != "" {
		if manifestErrorCode(report) != item.ExpectedManifestError {
			logger.Warnf("%s: expected manifest error %s", item.Cmd, item.ExpectedManifestError)
			return false
		}
	}
	return true
}

func manifestErrorCode(report map[string]interface{}) string {
	checks, _ := report["checks"].([]interface{})
	for _, raw := range checks {
		check, ok := raw.(map[string]interface{})
		if !ok || check["id"] != "manifest" {
			continue
		}
		details, _ := check["details"].(map[string]interface{})
		code, _ := details["error"].(string)
		return code
	}
	return ""
}
