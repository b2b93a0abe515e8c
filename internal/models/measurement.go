// Package models defines the measurement record shared by the probers, the
// uploaders and the durable buffer. Records are serialized to JSON with the
// exact field names expected by the ingestion service.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"time"
)

// ObservableKind tells how ObservableValue should be read.
type ObservableKind string

const (
	// KindResponseTime records carry the round-trip time in milliseconds.
	KindResponseTime ObservableKind = "responseTime"

	// KindTimeout records carry TimeoutValue.
	KindTimeout ObservableKind = "timeout"
)

const (
	// RecordType is the constant "type" field of every record.
	RecordType = "ping"

	// TimeoutValue is the observable value stored for timeouts.
	TimeoutValue = 1.0

	// TimestampLayout is ISO-8601 UTC with a millisecond fraction.
	TimestampLayout = "2006-01-02T15:04:05.000Z"
)

// ErrInvalidTarget is returned for targets that are not IPv4 addresses.
var ErrInvalidTarget = errors.New("invalid target address")

// Measurement is one probe outcome against one target.
type Measurement struct {
	Timestamp      time.Time
	Target         string
	Kind           ObservableKind
	Value          float64
	Source         string
	FailureSession *string
}

// NewResponseTime builds a successful measurement. The timestamp is
// truncated to millisecond precision in UTC.
func NewResponseTime(ts time.Time, target, source string, rtt time.Duration) Measurement {
	ms := float64(rtt) / float64(time.Millisecond)
	return Measurement{
		Timestamp: normalizeTime(ts),
		Target:    target,
		Kind:      KindResponseTime,
		Value:     math.Round(ms*1000) / 1000,
		Source:    source,
	}
}

// NewTimeout builds a timeout measurement.
func NewTimeout(ts time.Time, target, source string) Measurement {
	return Measurement{
		Timestamp: normalizeTime(ts),
		Target:    target,
		Kind:      KindTimeout,
		Value:     TimeoutValue,
		Source:    source,
	}
}

// WithFailureSession returns a copy stamped with the given session id.
// A record that already carries a session keeps it.
func (m Measurement) WithFailureSession(id string) Measurement {
	if m.FailureSession != nil {
		return m
	}
	m.FailureSession = &id
	return m
}

// FailureSessionID returns the session id or "" when the record was never buffered.
func (m Measurement) FailureSessionID() string {
	if m.FailureSession == nil {
		return ""
	}
	return *m.FailureSession
}

// Validate checks a record read from disk or built by hand.
func (m Measurement) Validate() error {
	if m.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if _, err := ValidateTarget(m.Target); err != nil {
		return err
	}
	switch m.Kind {
	case KindResponseTime:
		if m.Value < 0 {
			return fmt.Errorf("negative response time %v", m.Value)
		}
	case KindTimeout:
	default:
		return fmt.Errorf("unknown observable type %q", m.Kind)
	}
	if m.Source == "" {
		return errors.New("source is required")
	}
	return nil
}

// ValidateTarget checks that s is a dotted-quad IPv4 address and returns
// its canonical form.
func ValidateTarget(s string) (string, error) {
	s = strings.TrimSpace(s)
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil || strings.Contains(s, ":") {
		return "", fmt.Errorf("%w: %q", ErrInvalidTarget, s)
	}
	return ip.To4().String(), nil
}

// ValidateTargets validates every target and rejects duplicates.
func ValidateTargets(targets []string) ([]string, error) {
	if len(targets) == 0 {
		return nil, errors.New("at least one target is required")
	}
	seen := make(map[string]bool, len(targets))
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		ip, err := ValidateTarget(t)
		if err != nil {
			return nil, err
		}
		if seen[ip] {
			return nil, fmt.Errorf("duplicate target %s", ip)
		}
		seen[ip] = true
		out = append(out, ip)
	}
	return out, nil
}

// record is the wire and on-disk form.
type record struct {
	Timestamp       string         `json:"timestamp"`
	Type            string         `json:"type"`
	DstIP           string         `json:"dstIp"`
	ObservableType  ObservableKind `json:"observableType"`
	ObservableValue float64        `json:"observableValue"`
	Source          string         `json:"source"`
	FailureID       *string        `json:"failureId"`
}

// MarshalJSON implements json.Marshaler.
func (m Measurement) MarshalJSON() ([]byte, error) {
	return json.Marshal(record{
		Timestamp:       normalizeTime(m.Timestamp).Format(TimestampLayout),
		Type:            RecordType,
		DstIP:           m.Target,
		ObservableType:  m.Kind,
		ObservableValue: m.Value,
		Source:          m.Source,
		FailureID:       m.FailureSession,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Measurement) UnmarshalJSON(data []byte) error {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	if r.Type != "" && r.Type != RecordType {
		return fmt.Errorf("unexpected record type %q", r.Type)
	}
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return fmt.Errorf("parsing timestamp: %w", err)
	}
	*m = Measurement{
		Timestamp:      normalizeTime(ts),
		Target:         r.DstIP,
		Kind:           r.ObservableType,
		Value:          r.ObservableValue,
		Source:         r.Source,
		FailureSession: r.FailureID,
	}
	return nil
}

func normalizeTime(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Millisecond)
}
