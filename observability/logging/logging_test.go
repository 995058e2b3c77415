package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupEmitsStructuredJSON(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	var buf bytes.Buffer
	logger, closer := Setup("lendingctl", "local", WithWriter(&buf))
	defer closer.Close()
	logger.Info("deployed", slog.String("contract", "LendingToken"), slog.String("private_key", "abcd"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["message"] != "deployed" || entry["severity"] != "INFO" {
		t.Fatalf("unexpected entry %#v", entry)
	}
	if entry["service"] != "lendingctl" || entry["env"] != "local" {
		t.Fatalf("missing service attrs %#v", entry)
	}
	if entry["private_key"] != RedactedValue {
		t.Fatalf("expected private key to be redacted, got %#v", entry["private_key"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Fatalf("expected timestamp key")
	}
}

func TestSetupWritesRotatedFile(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	path := filepath.Join(t.TempDir(), "run.log")
	logger, closer := Setup("lendingctl", "", WithFile(path, 1, 0))
	logger.Warn("repay failed")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(contents), `"severity":"WARN"`) {
		t.Fatalf("unexpected log file contents %q", contents)
	}
}

func TestMaskField(t *testing.T) {
	if attr := MaskField("signer_key_env", "PRIVATE_KEY"); attr.Value.String() != "PRIVATE_KEY" {
		t.Fatalf("non-sensitive key should not be masked: %v", attr)
	}
	if attr := MaskField("APIKey", "abc"); attr.Value.String() != RedactedValue {
		t.Fatalf("expected api key to be masked: %v", attr)
	}
	if attr := MaskField("passphrase", ""); attr.Value.String() != "" {
		t.Fatalf("empty values stay empty: %v", attr)
	}
}

func TestSetupKeepsContractAddresses(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	var buf bytes.Buffer
	logger, closer := Setup("lendingctl", "local", WithWriter(&buf))
	defer closer.Close()
	logger.Info("run complete",
		slog.String("token", "0x0000000000000000000000000000000000001001"),
		slog.String("lending", "0x0000000000000000000000000000000000001002"),
		slog.String("api_token", "etherscan-key"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["token"] != "0x0000000000000000000000000000000000001001" {
		t.Fatalf("token address was masked: %#v", entry["token"])
	}
	if entry["lending"] != "0x0000000000000000000000000000000000001002" {
		t.Fatalf("lending address was masked: %#v", entry["lending"])
	}
	if entry["api_token"] != RedactedValue {
		t.Fatalf("expected api token to be redacted, got %#v", entry["api_token"])
	}
	for _, key := range []string{"token_address", "Token", "tokens"} {
		if IsSensitive(key) {
			t.Fatalf("%q should not be treated as secret", key)
		}
	}
	for _, key := range []string{"access_token", "AUTH_TOKEN", "etherscan_api_key"} {
		if !IsSensitive(key) {
			t.Fatalf("%q should be treated as secret", key)
		}
	}
}
