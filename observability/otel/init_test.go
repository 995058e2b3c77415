package otel

import (
	"context"
	"testing"
)

func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestConfigFromEnvDisabledWithoutEndpoint(t *testing.T) {
	cfg := configFromLookup("lendingctl", "local", lookupFrom(nil))
	if cfg.Enabled() {
		t.Fatalf("expected telemetry to be disabled, got %+v", cfg)
	}
	if cfg.ServiceName != "lendingctl" || cfg.Environment != "local" {
		t.Fatalf("unexpected identity %+v", cfg)
	}
}

func TestConfigFromEnvParsesEndpoint(t *testing.T) {
	cfg := configFromLookup("lendingctl", "rinkeby", lookupFrom(map[string]string{
		"OTEL_EXPORTER_OTLP_ENDPOINT": "http://collector:4318/",
		"OTEL_EXPORTER_OTLP_HEADERS":  "authorization=Bearer abc, x-team=lending",
		"OTEL_METRICS_EXPORTER":       "none",
	}))
	if cfg.Endpoint != "collector:4318" || !cfg.Insecure {
		t.Fatalf("unexpected endpoint %+v", cfg)
	}
	if !cfg.Traces || cfg.Metrics {
		t.Fatalf("unexpected signals %+v", cfg)
	}
	if cfg.Headers["authorization"] != "Bearer abc" || cfg.Headers["x-team"] != "lending" {
		t.Fatalf("unexpected headers %#v", cfg.Headers)
	}
}

func TestConfigFromEnvInsecureOverride(t *testing.T) {
	cfg := configFromLookup("lendingctl", "", lookupFrom(map[string]string{
		"OTEL_EXPORTER_OTLP_ENDPOINT": "https://otel.example.com",
		"OTEL_EXPORTER_OTLP_INSECURE": "true",
	}))
	if cfg.Endpoint != "otel.example.com" || !cfg.Insecure {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestParseHeadersSkipsMalformedPairs(t *testing.T) {
	headers := ParseHeaders("a=1,,broken, =2,b = 3")
	if len(headers) != 2 || headers["a"] != "1" || headers["b"] != "3" {
		t.Fatalf("unexpected headers %#v", headers)
	}
}

func TestResourceCarriesRunIdentity(t *testing.T) {
	cfg := Config{ServiceName: "lendingctl", Environment: "rinkeby", RunID: "run-1"}
	res, err := cfg.resource()
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	if got["service.name"] != "lendingctl" || got["deployment.environment"] != "rinkeby" {
		t.Fatalf("missing service attributes %v", got)
	}
	if got[string(RunIDKey)] != "run-1" {
		t.Fatalf("missing run id %v", got)
	}
}

func TestInitRequiresEndpoint(t *testing.T) {
	if _, err := Init(context.Background(), Config{ServiceName: "lendingctl", Traces: true}); err == nil {
		t.Fatalf("expected error without endpoint")
	}
	if _, err := Init(context.Background(), Config{Endpoint: "collector:4318", Traces: true}); err == nil {
		t.Fatalf("expected error without service name")
	}
}
