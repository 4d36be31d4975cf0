//go:build !windows

package setup

import (
	"fmt"
	"os"
)

// CheckElevation verifies the process runs as root.
func CheckElevation() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("installation requires root privileges\n\nRun with sudo:\n  sudo %s install", os.Args[0])
	}
	return nil
}
