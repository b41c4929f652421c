// Package contract pins the tool's own JSON output to golden snapshots and
// drives the fixture battery that keeps failure behavior locked in.
package contract

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"appvet/config"
	"appvet/logger"
	"appvet/normalize"
	"appvet/snapshot"
)

// Exit codes for contract:check and contract:update.
const (
	ExitOK       = 0
	ExitMismatch = 1
	ExitInput    = 2
)

// DocumentResult is the outcome of checking or updating one document.
type DocumentResult struct {
	Cmd         string  `json:"cmd"`
	SnapshotKey string  `json:"snapshotKey"`
	SchemaOK    bool    `json:"schemaOk"`
	Issues      []Issue `json:"issues,omitempty"`
	Match       bool    `json:"match"`
	DiffSummary string  `json:"diffSummary,omitempty"`
	Updated     bool    `json:"updated"`
}

func readInput(cfg *config.Config) (interface{}, error) {
	var raw []byte
	var err error
	if cfg.UseStdin {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(cfg.InputFile)
	}
	if err != nil {
		return nil, err
	}
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("input is not valid JSON: %w", err)
	}
	return value, nil
}

// CheckDocument normalizes the input and compares it against the stored
// snapshot for the command. The returned exit code follows the contract
// surface: 0 match, 1 mismatch, 2 input error.
func CheckDocument(cfg *config.Config) (DocumentResult, int) {
	result := DocumentResult{Cmd: cfg.ContractCmd, SnapshotKey: cfg.ContractCmd, SchemaOK: true}

	payload, err := readInput(cfg)
	if err != nil {
		logger.Errorf("reading contract input: %v", err)
		return result, ExitInput
	}
	if check := shapeFor(cfg.ContractCmd); check != nil {
		result.Issues = check(payload)
		result.SchemaOK = len(result.Issues) == 0
	}

	doc := normalize.Wrap(cfg.ContractCmd, payload)
	expected, err := snapshot.ReadSnapshot(snapshot.PathForKey(cfg.ContractsDir, cfg.ContractCmd))
	if err != nil {
		logger.Errorf("no usable snapshot for %s: %v", cfg.ContractCmd, err)
		return result, ExitMismatch
	}

	cmp := snapshot.CompareNormalized(expected, normalize.Normalize(doc))
	result.Match = cmp.OK
	result.DiffSummary = cmp.DiffSummary
	if !cmp.OK || !result.SchemaOK {
		return result, ExitMismatch
	}
	return result, ExitOK
}

// UpdateDocument overwrites the stored snapshot with the normalized input.
// Refused under CI, and requires the explicit acknowledgment flag.
func UpdateDocument(cfg *config.Config) (DocumentResult, int) {
	result := DocumentResult{Cmd: cfg.ContractCmd, SnapshotKey: cfg.ContractCmd, SchemaOK: true}

	if config.RunningInCI() {
		logger.Error("contract:update is refused in CI environments")
		return result, ExitInput
	}
	if !cfg.Acknowledge {
		logger.Error("contract:update overwrites golden snapshots; pass --yes to confirm")
		return result, ExitInput
	}

	payload, err := readInput(cfg)
	if err != nil {
		logger.Errorf("reading contract input: %v", err)
		return result, ExitInput
	}
	if check := shapeFor(cfg.ContractCmd); check != nil {
		result.Issues = check(payload)
		result.SchemaOK = len(result.Issues) == 0
	}
	if !result.SchemaOK {
		return result, ExitMismatch
	}

	doc := normalize.Wrap(cfg.ContractCmd, payload)
	if err := snapshot.WriteSnapshot(snapshot.PathForKey(cfg.ContractsDir, cfg.ContractCmd), doc); err != nil {
		logger.Errorf("writing snapshot: %v", err)
		return result, ExitInput
	}
	result.Match = true
	result.Updated = true
	return result, ExitOK
}
