// Host identity lookup used as the default record source.
package collector

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// HostIdentity returns the host name reported by the operating system.
func HostIdentity(ctx context.Context) (string, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("reading host info: %w", err)
	}
	name := strings.TrimSpace(info.Hostname)
	if name == "" {
		return "", fmt.Errorf("host name is empty")
	}
	return name, nil
}
