//go:build linux

package autostart

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderUnit(t *testing.T) {
	unit := renderUnit(Options{
		ExecPath: "/usr/local/bin/pingtel",
		Args:     []string{"run", "--config", "/etc/pingtel/pingtel.yaml"},
		DataDir:  "/var/lib/pingtel",
	})

	require.Contains(t, unit, "ExecStart=/usr/local/bin/pingtel run --config /etc/pingtel/pingtel.yaml\n")
	require.Contains(t, unit, "ReadWritePaths=/var/lib/pingtel\n")
	require.Contains(t, unit, "KillSignal=SIGTERM\n")
	require.NotContains(t, unit, "{")
}

func TestRenderUnit_QuotesArgumentsWithSpaces(t *testing.T) {
	unit := renderUnit(Options{
		ExecPath: "/opt/ping tel/pingtel",
		Args:     []string{"run"},
		DataDir:  "/var/lib/pingtel",
	})
	require.Contains(t, unit, `ExecStart="/opt/ping tel/pingtel" run`)
}

func TestLinuxManager_ServiceName(t *testing.T) {
	require.Equal(t, "pingtel", New().ServiceName())
}
