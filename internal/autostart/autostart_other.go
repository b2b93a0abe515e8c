//go:build !linux && !darwin && !windows

package autostart

type unsupported struct{}

// New returns a Manager that reports ErrUnsupported.
func New() Manager { return unsupported{} }

func (unsupported) IsInstalled() (bool, error) { return false, ErrUnsupported }
func (unsupported) Install(Options) error      { return ErrUnsupported }
func (unsupported) Uninstall() error           { return ErrUnsupported }
func (unsupported) ServiceName() string        { return "pingtel" }
