// Package output owns the primary output stream: machine mode emits exactly
// one JSON object per invocation on stdout, human mode prints a short
// summary, and either way diagnostics stay on stderr. Records can optionally
// be exported to an OTLP logs endpoint.
package output

import (
	"encoding/json"
	"fmt"
	"os"

	"appvet/config"
	"appvet/contract"
	"appvet/logger"
	"appvet/normalize"
	"appvet/validate"
)

// SchemaVersion tags every exported record.
const SchemaVersion = "1.0"

// Emitter writes results to stdout and, when configured, to OTLP.
type Emitter struct {
	cfg  *config.Config
	otel *otelLogger
}

func New(cfg *config.Config) *Emitter {
	e := &Emitter{cfg: cfg}
	otel, err := newOtelLogger(cfg)
	if err != nil {
		logger.Warnf("OTEL export disabled: %v", err)
	} else {
		e.otel = otel
		if otel != nil {
			logger.Debugf("OTEL export enabled: %s", otel.Endpoint())
		}
	}
	return e
}

// emitJSON writes the single machine-readable object for this invocation.
func (e *Emitter) emitJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logger.Errorf("encoding output: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, string(data))
}

// emitRecord exports the normalized form of a record, so no machine-local
// path, port, or timestamp leaves the host.
func (e *Emitter) emitRecord(recordType string, payload interface{}) {
	if e.otel == nil {
		return
	}
	e.otel.Emit(recordType, normalize.Normalize(payloadToMap(payload)))
}

// Report emits a single-app validation report.
func (e *Emitter) Report(report validate.Report) {
	if e.cfg.JSONOutput {
		e.emitJSON(report)
	} else if report.OK {
		fmt.Fprintf(os.Stdout, "PASS %s (template %s, %d checks, %dms)\n",
			report.AppPath, report.Template, len(report.Checks), report.DurationMs)
	} else {
		fmt.Fprintf(os.Stdout, "FAIL %s [%s] (%d checks, %dms)\n",
			report.AppPath, *report.FailureClass, len(report.Checks), report.DurationMs)
		for _, check := range report.Checks {
			if !check.OK {
				fmt.Fprintf(os.Stdout, "  %s: failed (required=%v)\n", check.ID, check.Required)
			}
		}
	}
	e.emitRecord("report", report)
}

// Aggregate emits a validate-all report.
func (e *Emitter) Aggregate(aggregate validate.AggregateReport) {
	if e.cfg.JSONOutput {
		e.emitJSON(aggregate)
	} else {
		fmt.Fprintf(os.Stdout, "%d apps: %d passed, %d warned, %d failed (%dms)\n",
			aggregate.Counts.Total, aggregate.Counts.Passed, aggregate.Counts.Warned,
			aggregate.Counts.Failed, aggregate.DurationMs)
		for _, app := range aggregate.Apps {
			fmt.Fprintf(os.Stdout, "  [%s] %s\n", app.Status, app.AppPath)
		}
	}
	e.emitRecord("aggregate", aggregate)
}

// Contract emits a battery run result.
func (e *Emitter) Contract(result contract.RunResult) {
	if e.cfg.JSONOutput {
		e.emitJSON(result)
	} else {
		verdict := "OK"
		if !result.OK {
			verdict = "FAIL"
		}
		fmt.Fprintf(os.Stdout, "contracts %s: %d items, schema=%d contract=%d cmd=%d expectation=%d\n",
			verdict, len(result.Results),
			result.Counts.SchemaFailCount, result.Counts.ContractFailCount,
			result.Counts.CmdFailCount, result.Counts.ExpectationFailCount)
		for _, row := range result.Results {
			status := "ok"
			if !row.SchemaOK || !row.ContractMatch || !row.ExpectationOK {
				status = "fail"
			}
			fmt.Fprintf(os.Stdout, "  [%s] %s (exit %d)\n", status, row.Cmd, row.ExitCode)
		}
	}
	e.emitRecord("contract", result)
}

// Document emits a single-document contract check/update result.
func (e *Emitter) Document(result contract.DocumentResult) {
	if e.cfg.JSONOutput {
		e.emitJSON(result)
	} else if result.Updated {
		fmt.Fprintf(os.Stdout, "updated snapshot %s\n", result.SnapshotKey)
	} else if result.Match && result.SchemaOK {
		fmt.Fprintf(os.Stdout, "contract %s: match\n", result.Cmd)
	} else {
		fmt.Fprintf(os.Stdout, "contract %s: MISMATCH %s\n", result.Cmd, result.DiffSummary)
		for _, issue := range result.Issues {
			fmt.Fprintf(os.Stdout, "  %s: %s\n", issue.Path, issue.Message)
		}
	}
	e.emitRecord("contract_document", result)
}

// Manifest emits the result of manifest:init / manifest:refresh.
func (e *Emitter) Manifest(action, appPath, fingerprint string, fileCount int) {
	if e.cfg.JSONOutput {
		e.emitJSON(map[string]interface{}{
			"action":      action,
			"appPath":     appPath,
			"fingerprint": fingerprint,
			"fileCount":   fileCount,
		})
	} else {
		fmt.Fprintf(os.Stdout, "%s %s: %d files, fingerprint %s\n", action, appPath, fileCount, fingerprint)
	}
	e.emitRecord("manifest", map[string]interface{}{
		"action": action, "appPath": appPath, "fingerprint": fingerprint, "fileCount": fileCount,
	})
}

// Close flushes the OTLP pipeline.
func (e *Emitter) Close() {
	if e.otel != nil {
		e.otel.Shutdown()
	}
}
