// Package manifest implements the content-addressed baseline an application
// directory is checked against: the per-file SHA-256 fileMap, the directory
// fingerprint derived from it, and the drift gate that runs before any
// process is spawned.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"appvet/utils"
)

// FileName is the manifest persisted at the application root.
const FileName = "builder.manifest.json"

// SchemaVersion is bumped whenever the persisted manifest shape changes.
const SchemaVersion = 2

// InternalDir holds appvet-owned state inside an application directory
// (fingerprint cache, materialized fixtures). Always excluded from the
// fileMap.
const InternalDir = ".appvet"

// IgnoreRules describes what the fileMap walker skips.
type IgnoreRules struct {
	ExcludedDirs  []string `json:"excludedDirs"`
	ExcludedFiles []string `json:"excludedFiles"`
}

// DefaultIgnoreRules returns the fixed ignore set: version control,
// dependency trees, appvet's own state, the manifest itself, lockfiles and
// OS noise. Lockfiles churn on install and must not affect the fingerprint.
func DefaultIgnoreRules() IgnoreRules {
	return IgnoreRules{
		ExcludedDirs: []string{".git", "node_modules", InternalDir},
		ExcludedFiles: []string{
			FileName,
			"package-lock.json",
			"yarn.lock",
			"pnpm-lock.yaml",
			".DS_Store",
			"Thumbs.db",
		},
	}
}

// Manifest is the persisted baseline record.
type Manifest struct {
	ManifestSchemaVersion  int               `json:"manifestSchemaVersion"`
	Template               string            `json:"template"`
	TemplateDir            *string           `json:"templateDir"`
	Fingerprint            string            `json:"fingerprint"`
	FileMap                map[string]string `json:"fileMap"`
	IgnoreRules            IgnoreRules       `json:"ignoreRules"`
	LastManifestInitUtc    string            `json:"lastManifestInitUtc,omitempty"`
	LastManifestRefreshUtc string            `json:"lastManifestRefreshUtc,omitempty"`
}

// Path returns the manifest location for an application root.
func Path(appRoot string) string {
	return filepath.Join(appRoot, FileName)
}

// Load reads and decodes the manifest at the application root.
func Load(appRoot string) (*Manifest, error) {
	data, err := os.ReadFile(Path(appRoot))
	if err != nil {
		return nil, err
	}
	// The file must be a JSON object; a bare array or scalar is invalid even
	// if it would decode into the zero Manifest.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("manifest is not a JSON object: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest decode failed: %w", err)
	}
	return &m, nil
}

// Save writes the manifest atomically. Map keys are serialized sorted, so
// the on-disk form is stable across runs.
func (m *Manifest) Save(appRoot string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return utils.WriteFileAtomic(Path(appRoot), data, 0o644)
}

// Init creates the baseline manifest for a freshly generated application.
// It fails if the root does not exist; it overwrites any previous manifest.
func Init(appRoot, template, templateDir string) (*Manifest, error) {
	fileMap, err := BuildFileMap(appRoot, DefaultIgnoreRules())
	if err != nil {
		return nil, err
	}
	m := &Manifest{
		ManifestSchemaVersion: SchemaVersion,
		Template:              template,
		Fingerprint:           FingerprintFromFileMap(fileMap),
		FileMap:               fileMap,
		IgnoreRules:           DefaultIgnoreRules(),
		LastManifestInitUtc:   time.Now().UTC().Format(time.RFC3339),
	}
	if templateDir != "" {
		m.TemplateDir = &templateDir
	}
	if err := m.Save(appRoot); err != nil {
		return nil, err
	}
	return m, nil
}

// Refresh recomputes the fileMap and fingerprint against the current
// directory content and rewrites the manifest. This is the only path that
// mutates a baseline; validation never does.
func Refresh(appRoot string) (*Manifest, error) {
	m, err := Load(appRoot)
	if err != nil {
		return nil, err
	}
	rules := m.IgnoreRules
	if len(rules.ExcludedDirs) == 0 && len(rules.ExcludedFiles) == 0 {
		rules = DefaultIgnoreRules()
	}
	fileMap, err := BuildFileMap(appRoot, rules)
	if err != nil {
		return nil, err
	}
	m.ManifestSchemaVersion = SchemaVersion
	m.FileMap = fileMap
	m.Fingerprint = FingerprintFromFileMap(fileMap)
	m.IgnoreRules = rules
	m.LastManifestRefreshUtc = time.Now().UTC().Format(time.RFC3339)
	if err := m.Save(appRoot); err != nil {
		return nil, err
	}
	return m, nil
}
