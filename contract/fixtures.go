package contract

import (
	"fmt"
	"os"
	"path/filepath"

	"appvet/manifest"
	"appvet/utils"
)

// Fixture names, in battery order. Each one fails validation in exactly one
// deterministic way so its report can be pinned as a golden snapshot.
const (
	FixtureManifestMissing = "err_manifest_missing"
	FixtureManifestDrift   = "err_manifest_drift"
	FixtureBootExit        = "err_boot_exit"
	FixtureHealthRefused   = "err_health_refused"
	FixtureSchemaMissing   = "err_schema_missing"
)

// fixtureProfilesYAML maps the fixture templates to deliberately small
// profiles. The idle template keeps a process alive without ever binding the
// probe port, so health sees a clean connection refusal.
const fixtureProfilesYAML = `fixture-exit:
  installCommand: []
  startCommand: ["sh", "-c", "exit 7"]
  checks:
    - id: boot
      required: true
      config:
        timeoutMs: 3000
fixture-idle:
  installCommand: []
  startCommand: ["sh", "-c", "sleep 30"]
  checks:
    - id: health
      required: true
fixture-schema:
  installCommand: []
  startCommand: ["sh", "-c", "sleep 30"]
  checks:
    - id: schema
      required: true
      config:
        candidates: ["openapi.json"]
`

type fixtureSpec struct {
	name         string
	template     string
	withManifest bool
	// driftFile, when set, is rewritten after the manifest baseline is taken.
	driftFile string
}

func fixtureSpecs() []fixtureSpec {
	return []fixtureSpec{
		{name: FixtureManifestMissing, template: "fixture-idle"},
		{name: FixtureManifestDrift, template: "fixture-idle", withManifest: true, driftFile: "app.txt"},
		{name: FixtureBootExit, template: "fixture-exit", withManifest: true},
		{name: FixtureHealthRefused, template: "fixture-idle", withManifest: true},
		{name: FixtureSchemaMissing, template: "fixture-schema", withManifest: true},
	}
}

// MaterializeFixtures rebuilds the fixture directories from scratch under
// dir and returns the path of the profiles file the sub-invocations must
// use. Rebuilding every run keeps fixtures immune to leftover state.
func MaterializeFixtures(dir string) (string, error) {
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clearing fixtures: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating fixtures dir: %w", err)
	}

	for _, spec := range fixtureSpecs() {
		appDir := filepath.Join(dir, spec.name)
		if err := os.MkdirAll(appDir, 0o755); err != nil {
			return "", err
		}
		if err := utils.WriteFileAtomic(filepath.Join(appDir, "app.txt"), []byte("fixture: "+spec.name+"\n"), 0o644); err != nil {
			return "", err
		}
		if spec.withManifest {
			if _, err := manifest.Init(appDir, spec.template, ""); err != nil {
				return "", fmt.Errorf("fixture %s: %w", spec.name, err)
			}
		}
		if spec.driftFile != "" {
			if err := utils.WriteFileAtomic(filepath.Join(appDir, spec.driftFile), []byte("tampered after baseline\n"), 0o644); err != nil {
				return "", err
			}
		}
	}

	profilesPath := filepath.Join(dir, "profiles.yaml")
	if err := utils.WriteFileAtomic(profilesPath, []byte(fixtureProfilesYAML), 0o644); err != nil {
		return "", err
	}
	return profilesPath, nil
}

// FixtureDir returns the app directory of a fixture under the fixtures root.
func FixtureDir(root, name string) string {
	return filepath.Join(root, name)
}
