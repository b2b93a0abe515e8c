//go:build windows

package setup

import (
	"os"
	"path/filepath"
)

// SystemPaths returns the system-wide install locations.
func SystemPaths() Paths {
	programData := os.Getenv("ProgramData")
	programFiles := os.Getenv("ProgramFiles")
	return Paths{
		BinDir:     filepath.Join(programFiles, "Pingtel"),
		BinPath:    filepath.Join(programFiles, "Pingtel", "pingtel.exe"),
		ConfigDir:  filepath.Join(programData, "Pingtel"),
		ConfigPath: filepath.Join(programData, "Pingtel", "pingtel.yaml"),
		DataDir:    filepath.Join(programData, "Pingtel"),
	}
}
