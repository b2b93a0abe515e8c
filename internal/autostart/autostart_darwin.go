//go:build darwin

package autostart

import (
	"fmt"
	"html"
	"os"
	"os/exec"
	"strings"
)

const (
	serviceLabel = "com.pingtel.agent"
	plistPath    = "/Library/LaunchDaemons/com.pingtel.agent.plist"
)

const plistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>com.pingtel.agent</string>
    <key>ProgramArguments</key>
    <array>
{arguments}
    </array>
    <key>WorkingDirectory</key>
    <string>{dataDir}</string>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>ExitTimeOut</key>
    <integer>45</integer>
    <key>StandardOutPath</key>
    <string>/var/log/pingtel.stdout.log</string>
    <key>StandardErrorPath</key>
    <string>/var/log/pingtel.stderr.log</string>
</dict>
</plist>
`

// darwinManager installs pingtel as a launchd daemon.
type darwinManager struct{}

// New returns a Manager that uses launchd.
func New() Manager { return &darwinManager{} }

func (d *darwinManager) ServiceName() string { return serviceLabel }

func (d *darwinManager) IsInstalled() (bool, error) {
	_, err := os.Stat(plistPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking plist file: %w", err)
	}
	return true, nil
}

func (d *darwinManager) Install(opts Options) error {
	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(plistPath, []byte(renderPlist(opts)), 0644); err != nil {
		return fmt.Errorf("creating plist: %w", err)
	}
	if err := exec.Command("launchctl", "load", "-w", plistPath).Run(); err != nil {
		return fmt.Errorf("loading plist: %w", err)
	}
	return nil
}

func (d *darwinManager) Uninstall() error {
	_ = exec.Command("launchctl", "unload", plistPath).Run()
	if err := os.Remove(plistPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing plist: %w", err)
	}
	return nil
}

func renderPlist(opts Options) string {
	var args strings.Builder
	for i, a := range append([]string{opts.ExecPath}, opts.Args...) {
		if i > 0 {
			args.WriteByte('\n')
		}
		args.WriteString("        <string>" + html.EscapeString(a) + "</string>")
	}
	plist := strings.ReplaceAll(plistTemplate, "{arguments}", args.String())
	return strings.ReplaceAll(plist, "{dataDir}", html.EscapeString(opts.DataDir))
}
