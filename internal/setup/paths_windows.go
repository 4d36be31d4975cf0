//go:build windows

package setup

import (
	"os"
	"path/filepath"
)

// DefaultPaths returns the system-wide install locations.
func DefaultPaths() Paths {
	programData := os.Getenv("ProgramData")
	programFiles := os.Getenv("ProgramFiles")
	return Paths{
		BinDir:     filepath.Join(programFiles, "PLCDatalink"),
		BinPath:    filepath.Join(programFiles, "PLCDatalink", "datalinkd.exe"),
		ConfigDir:  filepath.Join(programData, "PLCDatalink"),
		ConfigPath: filepath.Join(programData, "PLCDatalink", "datalinkd.yaml"),
		DataDir:    filepath.Join(programData, "PLCDatalink"),
	}
}
