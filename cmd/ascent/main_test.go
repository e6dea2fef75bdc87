package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/ascent-controller/internal/config"
	"github.com/signalsfoundry/ascent-controller/internal/logging"
)

const dryRunConfig = `
mission:
  targetApoapsis: 80000
runtime:
  pollInterval: 100ms
  provider:
    kind: fake
  metricsAddr: 127.0.0.1:0
  apiAddr: 127.0.0.1:0
  statusAddr: 127.0.0.1:0
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ascent.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-config", "flight.yaml", "-provider", "fake", "-print-mission"}, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	want := Options{ConfigPath: "flight.yaml", Provider: "fake", PrintMission: true}
	if opts != want {
		t.Fatalf("opts = %+v, want %+v", opts, want)
	}

	if _, err := parseFlags([]string{"extra"}, io.Discard); err == nil {
		t.Fatalf("expected error for positional arguments")
	}
}

func TestPrintMission(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), Options{PrintMission: true, Provider: "fake"}, &out, logging.Noop()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "targetApoapsis: 80000") {
		t.Fatalf("mission dump missing target apoapsis:\n%s", out.String())
	}
}

func TestRejectsUnknownProvider(t *testing.T) {
	err := run(context.Background(), Options{Provider: "mock"}, io.Discard, logging.Noop())
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("run error = %v, want ErrInvalid", err)
	}
}

func TestDryRunFliesToOrbit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var out bytes.Buffer
	opts := Options{ConfigPath: writeConfig(t, dryRunConfig)}
	if err := run(ctx, opts, &out, logging.Noop()); err != nil {
		t.Fatalf("run: %v", err)
	}

	var status map[string]any
	if err := json.Unmarshal(out.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out.String())
	}
	if status["phase"] != "complete" || status["payloadDeployed"] != true {
		t.Fatalf("final status = %v", status)
	}
}
