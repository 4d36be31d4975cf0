// Package autostart registers datalinkd with the host's service manager so
// it starts at boot.
package autostart

import "errors"

// ErrUnsupported is returned on platforms without a supported service manager.
var ErrUnsupported = errors.New("autostart is not supported on this platform")

// Manager provides platform-specific autostart installation.
type Manager interface {
	IsInstalled() (bool, error)
	// Install registers execPath, invoked with args, and starts it.
	Install(execPath string, args []string) error
	Uninstall() error
	ServiceName() string
}
