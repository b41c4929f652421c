package output

import (
	"testing"

	otelLog "go.opentelemetry.io/otel/log"

	"appvet/config"
	"appvet/validate"
)

func TestResolveOtelEndpointPrecedence(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT", "http://env-logs:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://env-generic:4318")

	cfg := &config.Config{OtelEndpoint: "http://flag:4318", OtelFromEnv: true}
	if got := resolveOtelEndpoint(cfg); got != "http://flag:4318" {
		t.Fatalf("explicit endpoint must win: %s", got)
	}

	cfg = &config.Config{OtelFromEnv: true}
	if got := resolveOtelEndpoint(cfg); got != "http://env-logs:4318" {
		t.Fatalf("logs endpoint must beat generic: %s", got)
	}

	t.Setenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT", "")
	if got := resolveOtelEndpoint(cfg); got != "http://env-generic:4318" {
		t.Fatalf("generic fallback: %s", got)
	}

	cfg = &config.Config{OtelFromEnv: false}
	if got := resolveOtelEndpoint(cfg); got != "" {
		t.Fatalf("env must be ignored without --otel-from-env: %s", got)
	}
}

func TestNewOtelLoggerDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	otel, err := newOtelLogger(&config.Config{})
	if err != nil || otel != nil {
		t.Fatalf("otel = %v err = %v, want disabled", otel, err)
	}
}

func TestReportSemanticAttributes(t *testing.T) {
	class := validate.FailBoot
	report := validate.Report{
		OK:           false,
		Template:     "node-express",
		FailureClass: &class,
		Checks:       []validate.CheckResult{{ID: "boot"}},
	}

	attrs := semanticAttributes("report", report)
	byKey := map[string]otelLog.Value{}
	for _, kv := range attrs {
		byKey[kv.Key] = kv.Value
	}
	if v, ok := byKey["appvet.report.ok"]; !ok || v.AsBool() {
		t.Fatalf("ok attribute = %v", v)
	}
	if v := byKey["appvet.report.failure_class"]; v.AsString() != "BOOT_FAIL" {
		t.Fatalf("failure_class = %v", v)
	}
	if v := byKey["appvet.report.check_count"]; v.AsInt64() != 1 {
		t.Fatalf("check_count = %v", v)
	}
}

func TestToLogValueNestedStructures(t *testing.T) {
	value := toLogValue(map[string]interface{}{
		"ok":     true,
		"counts": map[string]interface{}{"total": float64(3)},
		"apps":   []interface{}{"a", "b"},
	})
	if value.Kind() != otelLog.KindMap {
		t.Fatalf("kind = %v", value.Kind())
	}

	if toLogValue(struct{}{}).Kind() != otelLog.KindEmpty {
		t.Fatal("unsupported types must map to the empty value")
	}
}
