//go:build linux

package autostart

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

const (
	serviceName = "plc-datalink"
	unitPath    = "/etc/systemd/system/plc-datalink.service"
	dataDir     = "/var/lib/plc-datalink"
)

// unitTemplate is the systemd unit written during installation.
// KillMode=process leaves the collectors running across daemon restarts;
// the daemon finds them again by their arguments.
const unitTemplate = `[Unit]
Description=PLC Datalink collector manager
After=network-online.target couchdb.service
Wants=network-online.target

[Service]
Type=simple
ExecStart={exec}
Restart=always
RestartSec=10
KillMode=process
StandardOutput=journal
StandardError=journal
SyslogIdentifier=plc-datalink

[Install]
WantedBy=multi-user.target
`

type linuxManager struct {
	unitPath string
	run      func(name string, args ...string) error
}

// New returns a Manager that uses systemd for service management.
func New() Manager {
	return &linuxManager{
		unitPath: unitPath,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// ServiceName returns the systemd service name.
func (l *linuxManager) ServiceName() string { return serviceName }

// IsInstalled checks whether the systemd unit file exists.
func (l *linuxManager) IsInstalled() (bool, error) {
	_, err := os.Stat(l.unitPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking unit file: %w", err)
	}
	return true, nil
}

// Install writes the unit file, reloads systemd, then enables and starts the service.
func (l *linuxManager) Install(execPath string, args []string) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(l.unitPath, []byte(unitFile(execPath, args)), 0644); err != nil {
		return fmt.Errorf("writing unit file: %w", err)
	}

	commands := [][]string{
		{"systemctl", "daemon-reload"},
		{"systemctl", "enable", serviceName},
		{"systemctl", "start", serviceName},
	}
	for _, c := range commands {
		if err := l.run(c[0], c[1:]...); err != nil {
			return fmt.Errorf("running %s: %w", strings.Join(c, " "), err)
		}
	}
	return nil
}

// Uninstall stops, disables and removes the systemd service. Running
// collectors are left alone.
func (l *linuxManager) Uninstall() error {
	_ = l.run("systemctl", "stop", serviceName)
	_ = l.run("systemctl", "disable", serviceName)

	if err := os.Remove(l.unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing unit file: %w", err)
	}

	_ = l.run("systemctl", "daemon-reload")
	return nil
}

// unitFile renders the unit for execPath and args. Arguments containing
// spaces are double-quoted as systemd expects.
func unitFile(execPath string, args []string) string {
	parts := []string{execPath}
	for _, a := range args {
		if strings.ContainsAny(a, " \t") {
			a = `"` + a + `"`
		}
		parts = append(parts, a)
	}
	return strings.ReplaceAll(unitTemplate, "{exec}", strings.Join(parts, " "))
}
