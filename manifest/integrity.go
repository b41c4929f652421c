package manifest

import (
	"os"
)

// Integrity error kinds. These gate validation: none of them is retried or
// bypassed once surfaced.
const (
	ErrAppNotFound              = "APP_NOT_FOUND"
	ErrManifestMissing          = "MANIFEST_MISSING"
	ErrManifestInvalid          = "MANIFEST_INVALID"
	ErrManifestNoFingerprint    = "MANIFEST_NO_FINGERPRINT"
	ErrFingerprintComputeFailed = "FINGERPRINT_COMPUTE_FAILED"
	ErrManifestDrift            = "MANIFEST_DRIFT"
)

// IntegrityResult is the outcome of the drift gate.
type IntegrityResult struct {
	OK       bool   `json:"ok"`
	Matches  bool   `json:"matches"`
	Expected string `json:"expected,omitempty"`
	Current  string `json:"current,omitempty"`
	Error    string `json:"error,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// VerifyIntegrity recomputes the directory fingerprint and compares it to
// the manifest baseline. A missing manifest is tolerated only when
// requireManifest is false, in which case the gate passes vacuously.
func VerifyIntegrity(appRoot string, requireManifest bool) IntegrityResult {
	info, err := os.Stat(appRoot)
	if err != nil || !info.IsDir() {
		return IntegrityResult{Error: ErrAppNotFound, Detail: appRoot}
	}

	if _, err := os.Stat(Path(appRoot)); err != nil {
		if !requireManifest {
			return IntegrityResult{OK: true, Matches: true}
		}
		return IntegrityResult{Error: ErrManifestMissing, Detail: Path(appRoot)}
	}

	m, err := Load(appRoot)
	if err != nil {
		return IntegrityResult{Error: ErrManifestInvalid, Detail: err.Error()}
	}
	if m.Fingerprint == "" {
		return IntegrityResult{Error: ErrManifestNoFingerprint}
	}

	rules := m.IgnoreRules
	if len(rules.ExcludedDirs) == 0 && len(rules.ExcludedFiles) == 0 {
		rules = DefaultIgnoreRules()
	}
	current, err := ComputeFingerprintCached(appRoot, rules)
	if err != nil {
		return IntegrityResult{Error: ErrFingerprintComputeFailed, Detail: err.Error(), Expected: m.Fingerprint}
	}

	if current != m.Fingerprint {
		return IntegrityResult{
			Matches:  false,
			Expected: m.Fingerprint,
			Current:  current,
			Error:    ErrManifestDrift,
		}
	}
	return IntegrityResult{OK: true, Matches: true, Expected: m.Fingerprint, Current: current}
}
