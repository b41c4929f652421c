package contract

import (
	"fmt"
	"strings"
)

// Issue is one structural problem found while shape-checking a payload.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

type shapeCheck func(v interface{}) []Issue

// shapeFor resolves a command kind or contract key to its structural check.
// Fixture-pinned keys (validate@fixture:<name>) carry a validate payload.
// Unknown kinds have no expected shape and always pass.
func shapeFor(kind string) shapeCheck {
	if i := strings.Index(kind, "@"); i >= 0 {
		kind = kind[:i]
	}
	switch kind {
	case "validate":
		return checkValidateShape
	case "validate-all", "validate:all":
		return checkValidateAllShape
	default:
		return nil
	}
}

func issue(path, format string, args ...interface{}) Issue {
	return Issue{Path: path, Message: fmt.Sprintf(format, args...)}
}

func asObject(v interface{}, path string, issues *[]Issue) map[string]interface{} {
	obj, ok := v.(map[string]interface{})
	if !ok {
		*issues = append(*issues, issue(path, "expected object, got %s", jsonKind(v)))
		return nil
	}
	return obj
}

func requireBool(obj map[string]interface{}, key, path string, issues *[]Issue) {
	if _, ok := obj[key].(bool); !ok {
		*issues = append(*issues, issue(path+"."+key, "expected boolean, got %s", jsonKind(obj[key])))
	}
}

func requireString(obj map[string]interface{}, key, path string, issues *[]Issue) {
	if _, ok := obj[key].(string); !ok {
		*issues = append(*issues, issue(path+"."+key, "expected string, got %s", jsonKind(obj[key])))
	}
}

func requireNumber(obj map[string]interface{}, key, path string, issues *[]Issue) {
	if _, ok := obj[key].(float64); !ok {
		*issues = append(*issues, issue(path+"."+key, "expected number, got %s", jsonKind(obj[key])))
	}
}

func requireStringOrNull(obj map[string]interface{}, key, path string, issues *[]Issue) {
	if obj[key] == nil {
		return
	}
	if _, ok := obj[key].(string); !ok {
		*issues = append(*issues, issue(path+"."+key, "expected string or null, got %s", jsonKind(obj[key])))
	}
}

// checkValidateShape asserts the shape of a single-app validation report.
func checkValidateShape(v interface{}) []Issue {
	var issues []Issue
	obj := asObject(v, "$", &issues)
	if obj == nil {
		return issues
	}
	requireBool(obj, "ok", "$", &issues)
	requireString(obj, "template", "$", &issues)
	requireString(obj, "appPath", "$", &issues)
	requireNumber(obj, "durationMs", "$", &issues)
	requireStringOrNull(obj, "failureClass", "$", &issues)

	checks, ok := obj["checks"].([]interface{})
	if !ok {
		issues = append(issues, issue("$.checks", "expected array, got %s", jsonKind(obj["checks"])))
		return issues
	}
	for i, raw := range checks {
		path := fmt.Sprintf("$.checks[%d]", i)
		check := asObject(raw, path, &issues)
		if check == nil {
			continue
		}
		requireString(check, "id", path, &issues)
		requireBool(check, "required", path, &issues)
		requireBool(check, "ok", path, &issues)
		requireStringOrNull(check, "failureKind", path, &issues)
	}

	// Consistency between the verdict and the classification.
	okVal, okIsBool := obj["ok"].(bool)
	if okIsBool {
		_, hasClass := obj["failureClass"].(string)
		if okVal && hasClass {
			issues = append(issues, issue("$.failureClass", "must be null when ok is true"))
		}
		if !okVal && !hasClass {
			issues = append(issues, issue("$.failureClass", "must be set when ok is false"))
		}
	}
	return issues
}

// checkValidateAllShape asserts the shape of an aggregate report.
func checkValidateAllShape(v interface{}) []Issue {
	var issues []Issue
	obj := asObject(v, "$", &issues)
	if obj == nil {
		return issues
	}
	requireBool(obj, "ok", "$", &issues)
	requireString(obj, "root", "$", &issues)
	requireNumber(obj, "durationMs", "$", &issues)

	counts := asObject(obj["counts"], "$.counts", &issues)
	if counts != nil {
		for _, key := range []string{"total", "passed", "warned", "failed"} {
			requireNumber(counts, key, "$.counts", &issues)
		}
	}

	apps, ok := obj["apps"].([]interface{})
	if !ok {
		issues = append(issues, issue("$.apps", "expected array, got %s", jsonKind(obj["apps"])))
		return issues
	}
	for i, raw := range apps {
		path := fmt.Sprintf("$.apps[%d]", i)
		app := asObject(raw, path, &issues)
		if app == nil {
			continue
		}
		requireString(app, "appPath", path, &issues)
		requireString(app, "status", path, &issues)
		if report := asObject(app["report"], path+".report", &issues); report != nil {
			issues = append(issues, prefixIssues(checkValidateShape(report), path+".report")...)
		}
	}
	return issues
}

func prefixIssues(issues []Issue, prefix string) []Issue {
	out := make([]Issue, len(issues))
	for i, item := range issues {
		out[i] = Issue{Path: prefix + item.Path[1:], Message: item.Message}
	}
	return out
}

func jsonKind(v interface{}) string {
	switch v.(type) {
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return "unknown"
	}
}
