package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server != Default().Server || cfg.Output != "table" {
		t.Errorf("Load() = %+v, want defaults", cfg)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.yaml")
	data := "server: https://collector:5080\noutput: json\ntls:\n  ca_file: /etc/jalsync/ca.pem\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("JALSYNC_CLI_TOKEN", "s3cret")
	t.Setenv("JALSYNC_CLI_OUTPUT", "yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server != "https://collector:5080" {
		t.Errorf("Server = %q", cfg.Server)
	}
	if cfg.Token != "s3cret" {
		t.Errorf("Token = %q, want value from env", cfg.Token)
	}
	if cfg.Output != "yaml" {
		t.Errorf("Output = %q, want env to override file", cfg.Output)
	}
	if cfg.TLS.CAFile != "/etc/jalsync/ca.pem" {
		t.Errorf("TLS.CAFile = %q", cfg.TLS.CAFile)
	}
}
