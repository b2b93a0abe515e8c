// Package collector defines the measurement Source interface and its ICMP
// implementation. A source performs exactly one probe per call and turns
// the raw outcome into a normalized measurement record.
package collector

import (
	"context"

	"github.com/Guliveer/pingtel/internal/models"
)

// Source is the interface that every measurement source must implement.
type Source interface {
	// Name returns the unique identifier for this source.
	Name() string

	// Measure probes target once. A missing reply is reported as a timeout
	// measurement, not as an error; errors are reserved for probes that
	// could not be issued at all.
	Measure(ctx context.Context, target string) (models.Measurement, error)
}
