package validate

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"

	"appvet/config"
	"appvet/diag"
	"appvet/logger"
	"appvet/manifest"
)

// AppStatus classifies one application inside an aggregate run.
const (
	StatusPass = "pass"
	StatusWarn = "warn"
	StatusFail = "fail"
)

// Remediation records a drift-refresh attempt made during validate-all.
type Remediation struct {
	Attempted   bool    `json:"attempted"`
	Refreshed   bool    `json:"refreshed"`
	Revalidated *Report `json:"revalidated,omitempty"`
}

// AppEntry is one application's outcome inside an AggregateReport.
type AppEntry struct {
	AppPath     string       `json:"appPath"`
	Status      string       `json:"status"`
	Report      Report       `json:"report"`
	Remediation *Remediation `json:"remediation,omitempty"`
}

// AggregateCounts summarizes an aggregate run.
type AggregateCounts struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Warned int `json:"warned"`
	Failed int `json:"failed"`
}

// AggregateReport is the result of validating every application under a root.
type AggregateReport struct {
	OK         bool            `json:"ok"`
	Root       string          `json:"root"`
	StartedAt  string          `json:"startedAt"`
	FinishedAt string          `json:"finishedAt"`
	DurationMs int64           `json:"durationMs"`
	Counts     AggregateCounts `json:"counts"`
	Apps       []AppEntry      `json:"apps"`
}

// DiscoverApps lists the immediate child directories of root that carry a
// manifest, in lexicographic order.
func DiscoverApps(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var apps []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if info, err := os.Stat(manifest.Path(dir)); err == nil && info.Mode().IsRegular() {
			apps = append(apps, dir)
		}
	}
	sort.Strings(apps)
	return apps, nil
}

// RunAll validates every discovered application. Manifest drift alone
// downgrades an app to warn instead of fail; with remediation enabled the
// manifest is refreshed once and the app revalidated.
func RunAll(cfg *config.Config, profiles *Profiles) (AggregateReport, error) {
	started := time.Now().UTC()
	aggregate := AggregateReport{
		Root:      cfg.RootPath,
		StartedAt: started.Format(time.RFC3339),
	}

	apps, err := DiscoverApps(cfg.RootPath)
	if err != nil {
		return aggregate, err
	}
	bar := progressbar.NewOptions(len(apps),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("validating"),
		progressbar.OptionClearOnFinish(),
	)

	var completed int64
	if cfg.StallDumpDir != "" {
		watchdog := diag.NewWatchdog(diag.Options{
			StallThreshold: cfg.StallThreshold,
			Dir:            cfg.StallDumpDir,
			ProgressFn:     func() int64 { return atomic.LoadInt64(&completed) },
		})
		watchdog.Start(context.Background())
		defer watchdog.Close()
	}

	for _, app := range apps {
		appCfg := *cfg
		appCfg.AppPath = app
		report := RunValidation(&appCfg, profiles)

		entry := AppEntry{AppPath: app, Report: report}
		switch {
		case report.OK:
			entry.Status = StatusPass
		case IsDriftOnly(report):
			entry.Status = StatusWarn
			logger.Warnf("%s: manifest drift (downgraded to warning)", app)
			if cfg.RemediateDrift {
				entry.Remediation = remediateDrift(&appCfg, profiles)
				if entry.Remediation.Revalidated != nil && entry.Remediation.Revalidated.OK {
					entry.Status = StatusPass
				}
			}
		default:
			entry.Status = StatusFail
		}

		aggregate.Apps = append(aggregate.Apps, entry)
		aggregate.Counts.Total++
		switch entry.Status {
		case StatusPass:
			aggregate.Counts.Passed++
		case StatusWarn:
			aggregate.Counts.Warned++
		default:
			aggregate.Counts.Failed++
		}
		atomic.AddInt64(&completed, 1)
		bar.Add(1)
	}
	bar.Finish()

	finished := time.Now().UTC()
	aggregate.FinishedAt = finished.Format(time.RFC3339)
	aggregate.DurationMs = finished.Sub(started).Milliseconds()
	aggregate.OK = aggregate.Counts.Failed == 0
	return aggregate, nil
}

// IsDriftOnly reports whether a failed report failed solely because the
// manifest fingerprint no longer matches.
func IsDriftOnly(report Report) bool {
	if report.FailureClass == nil || *report.FailureClass != FailSchema {
		return false
	}
	for _, check := range report.Checks {
		if check.OK {
			continue
		}
		if check.ID != "manifest" {
			return false
		}
		code, _ := check.Details["error"].(string)
		if code != manifest.ErrManifestDrift {
			return false
		}
	}
	return true
}

// remediateDrift refreshes the manifest once and revalidates.
func remediateDrift(cfg *config.Config, profiles *Profiles) *Remediation {
	remediation := &Remediation{Attempted: true}
	if _, err := manifest.Refresh(cfg.AppPath); err != nil {
		logger.Errorf("%s: manifest refresh failed: %v", cfg.AppPath, err)
		return remediation
	}
	remediation.Refreshed = true
	report := RunValidation(cfg, profiles)
	remediation.Revalidated = &report
	return remediation
}
