//go:build !windows

package setup

// SystemPaths returns the system-wide install locations.
func SystemPaths() Paths {
	return Paths{
		BinDir:     "/usr/local/bin",
		BinPath:    "/usr/local/bin/pingtel",
		ConfigDir:  "/etc/pingtel",
		ConfigPath: "/etc/pingtel/pingtel.yaml",
		DataDir:    "/var/lib/pingtel",
	}
}
