package validate

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/h2non/filetype"

	"appvet/probe"
	"appvet/proc"
)

// CheckContext carries everything a check needs about the app under test.
type CheckContext struct {
	Template    string
	AppPath     string
	BaseURL     string
	BootTimeout time.Duration
	Handle      *proc.Handle
	Required    bool
	Config      map[string]interface{}
}

type checkFunc func(ctx CheckContext) CheckResult

var checkRegistry = map[string]checkFunc{
	"boot":      checkBoot,
	"health":    checkHealth,
	"endpoints": checkEndpoints,
	"schema":    checkSchema,
}

const stderrTailBytes = 2048

// checkBoot polls the health URL until anything answers or the deadline
// passes. Any HTTP status counts as booted; the health check judges content.
func checkBoot(ctx CheckContext) CheckResult {
	deadline := ctx.BootTimeout
	if ms, ok := cfgInt(ctx.Config, "timeoutMs"); ok {
		deadline = time.Duration(ms) * time.Millisecond
	}
	path := cfgString(ctx.Config, "path", "/health")

	var exited func() bool
	if ctx.Handle != nil {
		exited = func() bool { return !ctx.Handle.IsRunning() }
	}
	res := probe.Probe(ctx.BaseURL+path, probe.Options{
		OverallDeadline: deadline,
		AcceptAnyStatus: true,
		ProcessExited:   exited,
	})
	if res.OK {
		return CheckResult{ID: "boot", Required: ctx.Required, OK: true,
			Details: map[string]interface{}{"attempts": res.Attempts}}
	}
	details := map[string]interface{}{
		"reason":   res.FailureKind,
		"attempts": res.Attempts,
	}
	// An exited process is a boot failure; a live process that never answers
	// is a health failure. Without a handle the process state is unknown and
	// the failure stays attributed to boot.
	class := FailBoot
	if ctx.Handle != nil {
		if ctx.Handle.IsRunning() {
			class = FailHealth
		} else {
			details["exitCode"] = ctx.Handle.ExitCode()
			details["stderrTail"] = tail(ctx.Handle.Stderr(), stderrTailBytes)
		}
	}
	return CheckResult{ID: "boot", Required: ctx.Required, OK: false,
		FailureKind: failPtr(class), Details: details}
}

// checkHealth issues a single GET and, when expectJson is configured,
// asserts the body's shape. Failure reasons name the first mismatch.
func checkHealth(ctx CheckContext) CheckResult {
	path := cfgString(ctx.Config, "path", "/health")
	expectStatus, hasStatus := cfgInt(ctx.Config, "expectStatus")
	if !hasStatus {
		expectStatus = http.StatusOK
	}

	res := probe.Get(ctx.BaseURL+path, 0)
	fail := func(reason string, extra map[string]interface{}) CheckResult {
		details := map[string]interface{}{"reason": reason, "path": path}
		for k, v := range extra {
			details[k] = v
		}
		return CheckResult{ID: "health", Required: ctx.Required, OK: false,
			FailureKind: failPtr(FailHealth), Details: details}
	}

	if res.FailureKind != "" && res.FailureKind != probe.KindHTTPNon2xx {
		return fail(res.FailureKind, nil)
	}
	if res.StatusCode != expectStatus {
		return fail("status_mismatch", map[string]interface{}{
			"expected": expectStatus, "actual": res.StatusCode,
		})
	}

	expectJSON, _ := ctx.Config["expectJson"].(map[string]interface{})
	if expectJSON != nil {
		if res.JSON == nil {
			return fail("invalid_json", nil)
		}
		if want, ok := expectJSON["status"]; ok {
			got, present := res.JSON["status"]
			if !present || fmt.Sprint(got) != fmt.Sprint(want) {
				return fail("status_field_mismatch", map[string]interface{}{
					"expected": want, "actual": got,
				})
			}
		}
		for _, key := range cfgStrings(expectJSON, "requiredKeys") {
			if _, present := res.JSON[key]; !present {
				return fail("missing_key", map[string]interface{}{"key": key})
			}
		}
		if types, ok := expectJSON["types"].(map[string]interface{}); ok {
			for key, want := range types {
				value, present := res.JSON[key]
				if !present {
					continue
				}
				if got := jsonTypeOf(value); got != fmt.Sprint(want) {
					return fail("type_mismatch", map[string]interface{}{
						"key": key, "expected": want, "actual": got,
					})
				}
			}
		}
	}
	return CheckResult{ID: "health", Required: ctx.Required, OK: true,
		Details: map[string]interface{}{"path": path, "status": res.StatusCode}}
}

// checkEndpoints hits every configured endpoint and reports the full list of
// mismatches. Individual failures never stop the sweep.
func checkEndpoints(ctx CheckContext) CheckResult {
	endpoints, _ := ctx.Config["endpoints"].([]interface{})
	client := &http.Client{Timeout: probe.DefaultPerAttemptTimeout}
	var failures []map[string]interface{}
	checked := 0

	for _, raw := range endpoints {
		spec, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		method := strings.ToUpper(cfgString(spec, "method", "GET"))
		path := cfgString(spec, "path", "/")
		expected, hasExpected := cfgInt(spec, "expectStatus")
		if !hasExpected {
			expected = http.StatusOK
		}
		checked++

		req, err := http.NewRequest(method, ctx.BaseURL+path, nil)
		if err != nil {
			failures = append(failures, map[string]interface{}{
				"method": method, "path": path, "error": err.Error(),
			})
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			failures = append(failures, map[string]interface{}{
				"method": method, "path": path, "error": err.Error(),
			})
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != expected {
			failures = append(failures, map[string]interface{}{
				"method": method, "path": path,
				"expected": expected, "actual": resp.StatusCode,
			})
		}
	}

	if len(failures) > 0 {
		return CheckResult{ID: "endpoints", Required: ctx.Required, OK: false,
			FailureKind: failPtr(FailEndpoint),
			Details: map[string]interface{}{
				"checked": checked, "failures": failures,
			}}
	}
	return CheckResult{ID: "endpoints", Required: ctx.Required, OK: true,
		Details: map[string]interface{}{"checked": checked}}
}

// checkSchema passes when at least one candidate exists as a regular file.
func checkSchema(ctx CheckContext) CheckResult {
	candidates := cfgStrings(ctx.Config, "candidates")
	if len(candidates) == 0 {
		candidates = []string{"openapi.json", "openapi.yaml", "schema.json"}
	}
	for _, candidate := range candidates {
		full := filepath.Join(ctx.AppPath, filepath.FromSlash(candidate))
		info, err := os.Stat(full)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		details := map[string]interface{}{"matched": candidate}
		if mime := sniffMIME(full); mime != "" {
			details["contentType"] = mime
		}
		return CheckResult{ID: "schema", Required: ctx.Required, OK: true, Details: details}
	}
	return CheckResult{ID: "schema", Required: ctx.Required, OK: false,
		FailureKind: failPtr(FailSchema),
		Details:     map[string]interface{}{"candidates": candidates}}
}

// sniffMIME reads the file header and asks filetype what it is. Plain text
// schemas match nothing, which is fine; the detail is informational.
func sniffMIME(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	head := make([]byte, 262)
	n, _ := io.ReadFull(f, head)
	kind, err := filetype.Match(head[:n])
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return kind.MIME.Value
}

func jsonTypeOf(v interface{}) string {
	switch v.(type) {
	case string:
		return "string"
	case float64, json.Number:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return "unknown"
	}
}

func cfgString(m map[string]interface{}, key, fallback string) string {
	if m == nil {
		return fallback
	}
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func cfgInt(m map[string]interface{}, key string) (int, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func cfgStrings(m map[string]interface{}, key string) []string {
	if m == nil {
		return nil
	}
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
