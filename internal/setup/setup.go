// Package setup installs pingtel as a boot-time service: it copies the
// binary, writes the resolved configuration and registers the service.
package setup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Guliveer/pingtel/internal/autostart"
	"github.com/Guliveer/pingtel/internal/config"
)

// bufferFileName is the buffer file created under Paths.DataDir.
const bufferFileName = "buffer.ndjson"

// Paths are the install locations.
type Paths struct {
	BinDir     string
	BinPath    string
	ConfigDir  string
	ConfigPath string
	DataDir    string
}

// Installer performs installation and removal.
type Installer struct {
	Paths   Paths
	Manager autostart.Manager
	Out     io.Writer

	// executable returns the running binary; replaced in tests.
	executable func() (string, error)
}

// NewInstaller creates an installer for the system-wide locations.
func NewInstaller(mgr autostart.Manager, out io.Writer) *Installer {
	return &Installer{
		Paths:      SystemPaths(),
		Manager:    mgr,
		Out:        out,
		executable: os.Executable,
	}
}

// Install writes cfg to the config path with the buffer moved under the data
// directory, copies the binary and registers the service. cfg must already be
// valid for a probing run.
func (in *Installer) Install(version string, cfg *config.Config) error {
	fmt.Fprintf(in.Out, "\nPingtel Setup %s\n\n", version)

	for _, dir := range []string{in.Paths.BinDir, in.Paths.ConfigDir, in.Paths.DataDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
		fmt.Fprintf(in.Out, "  ✓ Created %s\n", dir)
	}

	copied, err := in.copyBinary()
	if err != nil {
		return fmt.Errorf("copying binary: %w", err)
	}
	if copied {
		fmt.Fprintf(in.Out, "  ✓ Copied binary → %s\n", in.Paths.BinPath)
	} else {
		fmt.Fprintf(in.Out, "  (binary already in place)\n")
	}

	installed := *cfg
	installed.Buffer.Path = filepath.Join(in.Paths.DataDir, bufferFileName)
	// The service manager captures stdout.
	installed.Logging.File = ""
	if err := config.WriteConfig(&installed, in.Paths.ConfigPath); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(in.Out, "  ✓ Written config → %s\n", in.Paths.ConfigPath)

	if err := in.Manager.Install(autostart.Options{
		ExecPath: in.Paths.BinPath,
		Args:     []string{"run", "--config", in.Paths.ConfigPath},
		DataDir:  in.Paths.DataDir,
	}); err != nil {
		return fmt.Errorf("registering service: %w", err)
	}
	fmt.Fprintf(in.Out, "  ✓ Registered service (%s)\n", in.Manager.ServiceName())

	fmt.Fprintln(in.Out, "\nDone! Agent is running.")
	return nil
}

// Uninstall stops and removes the service. The config, binary and any
// buffered records stay on disk.
func (in *Installer) Uninstall() error {
	ok, err := in.Manager.IsInstalled()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(in.Out, "Service %s is not installed\n", in.Manager.ServiceName())
		return nil
	}
	if err := in.Manager.Uninstall(); err != nil {
		return fmt.Errorf("removing service: %w", err)
	}
	fmt.Fprintf(in.Out, "  ✓ Removed service (%s)\n", in.Manager.ServiceName())
	fmt.Fprintf(in.Out, "  Buffered records remain in %s\n", in.Paths.DataDir)
	return nil
}

// copyBinary copies the current executable to the install path. It reports
// false when the binary already runs from there.
func (in *Installer) copyBinary() (bool, error) {
	src, err := in.executable()
	if err != nil {
		return false, err
	}
	src, err = filepath.Abs(filepath.Clean(src))
	if err != nil {
		return false, err
	}
	dst, err := filepath.Abs(filepath.Clean(in.Paths.BinPath))
	if err != nil {
		return false, err
	}
	if src == dst {
		return false, nil
	}

	r, err := os.Open(src)
	if err != nil {
		return false, err
	}
	defer r.Close()
	w, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return false, err
	}
	return true, w.Close()
}
