package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
)

func TestLoad_EmbeddedThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datalinkd.yaml")
	if err := os.WriteFile(path, []byte("state:\n  tail_lines: 80\n"), 0644); err != nil {
		t.Fatal(err)
	}
	gf := globalFlags{
		configPath: path,
		envFile:    filepath.Join(t.TempDir(), "absent.env"),
		httpAddr:   "127.0.0.1:8080",
	}

	cfg, err := gf.load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.State.TailLines != 80 {
		t.Errorf("TailLines = %d, want file value", cfg.State.TailLines)
	}
	if cfg.HTTP.Addr != "127.0.0.1:8080" {
		t.Errorf("Addr = %q, want flag value", cfg.HTTP.Addr)
	}
	if len(cfg.HTTP.CORSOrigins) != 2 {
		t.Errorf("CORSOrigins = %v, want embedded list", cfg.HTTP.CORSOrigins)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	gf := globalFlags{configPath: "", envFile: "", storeDriver: "mongo"}
	if _, err := gf.load(); err == nil {
		t.Fatal("expected error for unknown store driver")
	}
}

func TestMachineStatus(t *testing.T) {
	color.NoColor = true
	tests := []struct {
		configured, running bool
		want                string
	}{
		{true, true, "running"},
		{false, true, "orphaned"},
		{true, false, "idle"},
		{false, false, "standby"},
	}
	for _, tt := range tests {
		if got := machineStatus(tt.configured, tt.running); got != tt.want {
			t.Errorf("machineStatus(%v, %v) = %q, want %q", tt.configured, tt.running, got, tt.want)
		}
	}
}
