package app_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/raysh454/fatt/internal/app"
)

func TestDefaultConfig_Valid(t *testing.T) {
	t.Parallel()
	if err := app.DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadConfig_NoFileGivesDefaults(t *testing.T) {
	cfg, err := app.LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := app.DefaultConfig()
	if cfg.Scanner != want.Scanner || cfg.Master != want.Master || cfg.Store != want.Store {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fatt.yaml")
	content := `input: targets.txt
scanner:
  concurrency: 7
  dns_only: true
resolver:
  timeout: 2s
  nameservers:
    - 9.9.9.9
    - 1.1.1.1:53
master:
  listen_addr: 127.0.0.1:9000
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := app.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.InputPath != "targets.txt" || cfg.RulesPath != "rules.yaml" {
		t.Errorf("unexpected paths %q %q", cfg.InputPath, cfg.RulesPath)
	}
	if cfg.Scanner.Concurrency != 7 || !cfg.Scanner.DNSOnly {
		t.Errorf("scanner not overridden: %+v", cfg.Scanner)
	}
	if cfg.Scanner.RuleConcurrency != 4 {
		t.Errorf("unset keys should keep defaults, got %+v", cfg.Scanner)
	}
	if cfg.Resolver.Timeout != 2*time.Second {
		t.Errorf("expected 2s timeout, got %s", cfg.Resolver.Timeout)
	}
	if want := []string{"9.9.9.9", "1.1.1.1:53"}; !reflect.DeepEqual(cfg.Resolver.Nameservers, want) {
		t.Errorf("nameservers = %v, want %v", cfg.Resolver.Nameservers, want)
	}
	if cfg.Master.ListenAddr != "127.0.0.1:9000" || cfg.Log.Level != "debug" {
		t.Errorf("unexpected master/log config %+v %+v", cfg.Master, cfg.Log)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fatt.yaml")
	if err := os.WriteFile(path, []byte("scanner:\n  concurrency: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FATT_SCANNER_CONCURRENCY", "11")
	t.Setenv("FATT_WORKER_MASTER_ADDR", "10.1.1.1:7878")

	cfg, err := app.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Scanner.Concurrency != 11 {
		t.Errorf("expected env override 11, got %d", cfg.Scanner.Concurrency)
	}
	if cfg.Worker.MasterAddr != "10.1.1.1:7878" {
		t.Errorf("expected env master addr, got %q", cfg.Worker.MasterAddr)
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	t.Parallel()
	if _, err := app.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	t.Parallel()
	cfg := app.DefaultConfig()
	cfg.Scanner.Concurrency = 0
	cfg.Log.Level = "loud"
	err := cfg.Validate()
	if !errors.Is(err, app.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidateScanInputs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := app.DefaultConfig()
	cfg.InputPath = filepath.Join(dir, "domains.txt")
	cfg.RulesPath = filepath.Join(dir, "rules.yaml")
	if err := cfg.ValidateScanInputs(); !errors.Is(err, app.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for missing files, got %v", err)
	}
	_ = os.WriteFile(cfg.InputPath, []byte("a.com\n"), 0o644)
	_ = os.WriteFile(cfg.RulesPath, []byte("rules: []\n"), 0o644)
	if err := cfg.ValidateScanInputs(); err != nil {
		t.Fatalf("ValidateScanInputs: %v", err)
	}
}

func TestResolverConfig_RaisesGateToEngineConcurrency(t *testing.T) {
	t.Parallel()
	cfg := app.DefaultConfig()
	cfg.Resolver.MaxConcurrent = 10
	cfg.Scanner.Concurrency = 40
	if got := cfg.ResolverConfig().MaxConcurrent; got != 40 {
		t.Errorf("expected gate 40, got %d", got)
	}
	cfg.Resolver.MaxConcurrent = 200
	if got := cfg.ResolverConfig().MaxConcurrent; got != 200 {
		t.Errorf("expected gate 200, got %d", got)
	}
}
