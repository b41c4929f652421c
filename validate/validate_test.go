package validate

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		class *string
		want  int
	}{
		{nil, 0},
		{failPtr(FailBoot), 10},
		{failPtr(FailHealth), 11},
		{failPtr(FailEndpoint), 12},
		{failPtr(FailSchema), 13},
		{failPtr(FailUnknown), 1},
		{failPtr("SOMETHING_ELSE"), 1},
	}
	for _, tc := range cases {
		if got := ExitCodeFor(tc.class); got != tc.want {
			t.Errorf("ExitCodeFor(%v) = %d, want %d", tc.class, got, tc.want)
		}
	}
}

func TestProfilesBuiltinAndFallback(t *testing.T) {
	profiles, err := LoadProfiles("")
	if err != nil {
		t.Fatal(err)
	}
	p, known := profiles.For("node-express")
	if !known || len(p.Checks) == 0 || p.Checks[0].ID != "boot" {
		t.Fatalf("node-express profile = %+v known=%v", p, known)
	}
	p, known = profiles.For("no-such-template")
	if known {
		t.Fatal("unexpected profile for unknown template")
	}
	if len(p.Checks) != 2 || p.Checks[0].ID != "boot" || p.Checks[1].ID != "health" {
		t.Fatalf("minimal fallback = %+v", p.Checks)
	}
}

func TestProfilesYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	content := `node-express:
  installCommand: ["true"]
  startCommand: ["./serve"]
  dependencyDir: deps
  checks:
    - id: boot
      required: true
      config:
        timeoutMs: 500
    - id: health
      required: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	profiles, err := LoadProfiles(path)
	if err != nil {
		t.Fatal(err)
	}
	p, known := profiles.For("node-express")
	if !known {
		t.Fatal("override dropped the template")
	}
	if p.DependencyDir != "deps" || len(p.Checks) != 2 {
		t.Fatalf("override not applied: %+v", p)
	}
	if ms, ok := cfgInt(p.Checks[0].Config, "timeoutMs"); !ok || ms != 500 {
		t.Fatalf("nested YAML config not normalized: %+v", p.Checks[0].Config)
	}
	if p.Checks[1].Required {
		t.Fatal("required flag not honored")
	}
}

func TestPipelineUnknownCheck(t *testing.T) {
	profile := Profile{Checks: []CheckSpec{
		{ID: "nonexistent", Required: false},
		{ID: "schema", Required: false, Config: map[string]interface{}{
			"candidates": []interface{}{"nope.json"},
		}},
	}}
	results, class := RunPipeline(profile, CheckContext{AppPath: t.TempDir()})
	if class != nil {
		t.Fatalf("failureClass = %v, want nil", *class)
	}
	if len(results) != 2 {
		t.Fatalf("optional failures must not short-circuit: %+v", results)
	}
	if !results[0].OK {
		t.Fatal("optional unknown check should pass")
	}
	if results[1].OK {
		t.Fatal("schema check should fail with no candidates present")
	}
}

func TestPipelineRequiredUnknownCheckFails(t *testing.T) {
	profile := Profile{Checks: []CheckSpec{
		{ID: "nonexistent", Required: true},
		{ID: "schema", Required: false},
	}}
	results, class := RunPipeline(profile, CheckContext{AppPath: t.TempDir()})
	if class == nil || *class != FailUnknown {
		t.Fatalf("failureClass = %v, want UNKNOWN_FAIL", class)
	}
	if len(results) != 1 {
		t.Fatalf("required failure must short-circuit: %+v", results)
	}
}

func TestPipelineShortCircuitsOnRequiredFailure(t *testing.T) {
	profile := Profile{Checks: []CheckSpec{
		{ID: "schema", Required: true, Config: map[string]interface{}{
			"candidates": []interface{}{"missing.json"},
		}},
		{ID: "health", Required: true},
	}}
	results, class := RunPipeline(profile, CheckContext{AppPath: t.TempDir()})
	if len(results) != 1 {
		t.Fatalf("expected stop after first required failure, got %d results", len(results))
	}
	if class == nil || *class != FailSchema {
		t.Fatalf("failureClass = %v, want SCHEMA_FAIL", class)
	}
}

func healthServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func strictHealthConfig() map[string]interface{} {
	return map[string]interface{}{
		"path": "/health",
		"expectJson": map[string]interface{}{
			"status":       "ok",
			"requiredKeys": []interface{}{"status", "uptimeSeconds", "timestamp"},
			"types": map[string]interface{}{
				"uptimeSeconds": "number",
				"timestamp":     "string",
			},
		},
	}
}

func TestCheckHealthPassesOnWellFormedPayload(t *testing.T) {
	srv := healthServer(t, 200, `{"status":"ok","uptimeSeconds":4.2,"timestamp":"2026-01-01T00:00:00Z"}`)
	res := checkHealth(CheckContext{BaseURL: srv.URL, Required: true, Config: strictHealthConfig()})
	if !res.OK {
		t.Fatalf("health failed: %+v", res.Details)
	}
}

func TestCheckHealthReasons(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		reason string
	}{
		{"non-json body", 200, "pong", "invalid_json"},
		{"wrong status field", 200, `{"status":"degraded","uptimeSeconds":1,"timestamp":"t"}`, "status_field_mismatch"},
		{"missing key", 200, `{"status":"ok","uptimeSeconds":1}`, "missing_key"},
		{"wrong type", 200, `{"status":"ok","uptimeSeconds":"1","timestamp":"t"}`, "type_mismatch"},
		{"http status", 503, `{"status":"ok"}`, "status_mismatch"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := healthServer(t, tc.status, tc.body)
			res := checkHealth(CheckContext{BaseURL: srv.URL, Required: true, Config: strictHealthConfig()})
			if res.OK {
				t.Fatal("expected failure")
			}
			if res.FailureKind == nil || *res.FailureKind != FailHealth {
				t.Fatalf("kind = %v", res.FailureKind)
			}
			if got := res.Details["reason"]; got != tc.reason {
				t.Fatalf("reason = %v, want %v", got, tc.reason)
			}
		})
	}
}

func TestCheckEndpointsCollectsAllFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(200)
		default:
			w.WriteHeader(404)
		}
	}))
	defer srv.Close()

	res := checkEndpoints(CheckContext{BaseURL: srv.URL, Required: true, Config: map[string]interface{}{
		"endpoints": []interface{}{
			map[string]interface{}{"method": "GET", "path": "/ok", "expectStatus": 200},
			map[string]interface{}{"method": "GET", "path": "/missing-a"},
			map[string]interface{}{"method": "POST", "path": "/missing-b", "expectStatus": 201},
		},
	}})
	if res.OK {
		t.Fatal("expected endpoint failures")
	}
	failures, _ := res.Details["failures"].([]map[string]interface{})
	if len(failures) != 2 {
		t.Fatalf("expected both failures recorded, got %+v", res.Details)
	}
	if res.Details["checked"] != 3 {
		t.Fatalf("checked = %v", res.Details["checked"])
	}
}

func TestCheckSchemaMatchesFirstCandidate(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "schema.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}
	res := checkSchema(CheckContext{AppPath: dir, Required: false, Config: map[string]interface{}{
		"candidates": []interface{}{"openapi.json", "schema.json"},
	}})
	if !res.OK || res.Details["matched"] != "schema.json" {
		t.Fatalf("schema check = %+v", res)
	}
}

func TestCheckBootAcceptsAnyStatus(t *testing.T) {
	srv := healthServer(t, 500, "starting up")
	res := checkBoot(CheckContext{
		BaseURL:     srv.URL,
		BootTimeout: 2 * time.Second,
		Required:    true,
	})
	if !res.OK {
		t.Fatalf("boot should accept any HTTP response: %+v", res.Details)
	}
}

func TestIsDriftOnly(t *testing.T) {
	drift := Report{
		FailureClass: failPtr(FailSchema),
		Checks: []CheckResult{{
			ID: "manifest", Required: true, OK: false,
			FailureKind: failPtr(FailSchema),
			Details:     map[string]interface{}{"error": "MANIFEST_DRIFT"},
		}},
	}
	if !IsDriftOnly(drift) {
		t.Fatal("drift-only report not recognized")
	}

	missing := drift
	missing.Checks = []CheckResult{{
		ID: "manifest", Required: true, OK: false,
		FailureKind: failPtr(FailSchema),
		Details:     map[string]interface{}{"error": "MANIFEST_MISSING"},
	}}
	if IsDriftOnly(missing) {
		t.Fatal("MANIFEST_MISSING must not downgrade")
	}

	boot := Report{FailureClass: failPtr(FailBoot), Checks: []CheckResult{{
		ID: "boot", OK: false, FailureKind: failPtr(FailBoot),
	}}}
	if IsDriftOnly(boot) {
		t.Fatal("boot failure must not downgrade")
	}
}
