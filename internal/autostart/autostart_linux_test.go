//go:build linux

package autostart

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestUnitFile(t *testing.T) {
	unit := unitFile("/usr/local/bin/datalinkd", []string{"serve", "--config", "/etc/plc datalink/d.yaml"})

	want := `ExecStart=/usr/local/bin/datalinkd serve --config "/etc/plc datalink/d.yaml"`
	if !strings.Contains(unit, want) {
		t.Errorf("unit missing %q:\n%s", want, unit)
	}
	if !strings.Contains(unit, "KillMode=process") {
		t.Error("unit must not kill collectors on restart")
	}
}

func TestUninstall_RemovesUnit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plc-datalink.service")
	if err := os.WriteFile(path, []byte("[Unit]\n"), 0644); err != nil {
		t.Fatal(err)
	}

	var calls []string
	m := &linuxManager{
		unitPath: path,
		run: func(name string, args ...string) error {
			calls = append(calls, name+" "+strings.Join(args, " "))
			return nil
		},
	}

	installed, err := m.IsInstalled()
	if err != nil || !installed {
		t.Fatalf("IsInstalled() = (%v, %v), want (true, nil)", installed, err)
	}
	if err := m.Uninstall(); err != nil {
		t.Fatal(err)
	}
	if installed, _ := m.IsInstalled(); installed {
		t.Error("unit file still present after Uninstall")
	}
	if len(calls) != 3 || calls[0] != "systemctl stop plc-datalink" {
		t.Errorf("systemctl calls = %v", calls)
	}
}
