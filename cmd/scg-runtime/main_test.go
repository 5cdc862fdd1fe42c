package main

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	berr "github.com/next-trace/scg-service-runtime/contract/errors"
)

func parseFlags(t *testing.T, args ...string) (config, error) {
	t.Helper()

	v := newViper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addGlobalFlags(flags)

	if err := v.BindPFlags(flags); err != nil {
		t.Fatalf("bind: %v", err)
	}

	if err := flags.Parse(args); err != nil {
		t.Fatalf("parse: %v", err)
	}

	return readConfig(v)
}

func TestReadConfig_Defaults(t *testing.T) {
	cfg, err := parseFlags(t)
	if err != nil {
		t.Fatalf("config: %v", err)
	}

	if cfg.Transport != "memory" || cfg.Codec != "json" || cfg.CallTimeout != 30*time.Second || cfg.KafkaTopic != "scg.events" {
		t.Fatalf("defaults: %+v", cfg)
	}
}

func TestReadConfig_Precedence(t *testing.T) {
	t.Setenv("SCG_TRANSPORT", "nats")
	t.Setenv("SCG_CODEC", "json")
	t.Setenv("SCG_KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := parseFlags(t, "--codec=cbor")
	if err != nil {
		t.Fatalf("config: %v", err)
	}

	if cfg.Transport != "nats" {
		t.Fatalf("env must override default: %q", cfg.Transport)
	}

	if cfg.Codec != "cbor" {
		t.Fatalf("flag must override env: %q", cfg.Codec)
	}

	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers: %v", cfg.KafkaBrokers)
	}
}

func TestReadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scg.yaml")
	if err := os.WriteFile(path, []byte("transport: nats\nlog-level: debug\ncall-timeout: 5s\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := parseFlags(t, "--config", path)
	if err != nil {
		t.Fatalf("config: %v", err)
	}

	if cfg.Transport != "nats" || cfg.LogLevel != "debug" || cfg.CallTimeout != 5*time.Second {
		t.Fatalf("file values: %+v", cfg)
	}

	if _, err := parseFlags(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestReadConfig_UnknownTransport(t *testing.T) {
	if _, err := parseFlags(t, "--transport", "carrier-pigeon"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := newLogger(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Fatalf("output: %s", buf.String())
	}

	if _, err := newLogger(&buf, "loud", "text"); err == nil {
		t.Fatalf("expected level error")
	}

	if _, err := newLogger(&buf, "info", "xml"); err == nil {
		t.Fatalf("expected format error")
	}
}

func TestParseArgs(t *testing.T) {
	got, err := parseArgs([]string{`{"account":"ACC-1"}`})
	if err != nil || got["account"] != "ACC-1" {
		t.Fatalf("parse: %v %v", got, err)
	}

	if got, err := parseArgs(nil); err != nil || len(got) != 0 {
		t.Fatalf("empty: %v %v", got, err)
	}

	if _, err := parseArgs([]string{"[1,2]"}); err == nil {
		t.Fatalf("expected object error")
	}
}

func TestDemoCommand(t *testing.T) {
	var out bytes.Buffer

	cmd := newRootCommand()
	cmd.SetArgs([]string{"demo", "--log-level", "error"})
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)

	if err := cmd.ExecuteContext(t.Context()); err != nil {
		t.Fatalf("demo: %v\n%s", err, out.String())
	}

	for _, want := range []string{
		"ok    forward success",
		"ok    compensation",
		"ok    retry exhaustion",
		"ok    unknown method    Unknown method: withdraw_all",
	} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("missing %q in:\n%s", want, out.String())
		}
	}
}

func TestCallCommand_NoResponders(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"call", "accounts", "get_balance", `{"account":"ACC-1"}`, "--call-timeout", "200ms"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.ExecuteContext(t.Context())
	if !errors.Is(err, berr.ErrNoResponders) {
		t.Fatalf("expected no responders, got %v", err)
	}
}

func TestServeCommand_RejectsUnknownService(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"serve", "--services", "accounts,billing"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	if err := cmd.ExecuteContext(t.Context()); err == nil || !strings.Contains(err.Error(), "billing") {
		t.Fatalf("expected unknown service error, got %v", err)
	}
}
