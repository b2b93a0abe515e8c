//go:build !windows

package config

import (
	"os"
	"path/filepath"
)

func configSearchPaths() []string {
	home, _ := os.UserHomeDir()
	return []string{
		filepath.Join(home, ".pingtel", "config.yaml"),
		"/etc/pingtel/pingtel.yaml",
	}
}
