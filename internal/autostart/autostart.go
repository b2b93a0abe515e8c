// Package autostart registers pingtel with the host's service manager so the
// agent starts at boot and receives a termination signal on shutdown, which
// lets it run its final drain.
package autostart

import "errors"

// ErrUnsupported is returned on platforms without a known service manager.
var ErrUnsupported = errors.New("autostart is not supported on this platform")

// Options describes the command the service manager runs.
type Options struct {
	// ExecPath is the absolute path of the pingtel binary.
	ExecPath string

	// Args are passed to the binary, normally "run --config <path>".
	Args []string

	// DataDir must stay writable for the agent; it holds the buffer file.
	DataDir string
}

// Manager provides platform-specific autostart installation.
type Manager interface {
	IsInstalled() (bool, error)
	Install(opts Options) error
	Uninstall() error
	ServiceName() string
}
