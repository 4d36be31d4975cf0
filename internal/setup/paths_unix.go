//go:build !windows

package setup

// DefaultPaths returns the system-wide install locations.
func DefaultPaths() Paths {
	return Paths{
		BinDir:     "/opt/plc-datalink",
		BinPath:    "/opt/plc-datalink/datalinkd",
		ConfigDir:  "/etc/plc-datalink",
		ConfigPath: "/etc/plc-datalink/datalinkd.yaml",
		DataDir:    "/var/lib/plc-datalink",
	}
}
