// Package atlas talks to the RIPE Atlas measurement platform: probe
// discovery, one-off ping creation, status polling and result download.
package atlas

import (
	"context"
	"net/netip"
	"strconv"

	"github.com/SAWassermann/DisNETPerf/asdata"
)

// ProbeID identifies an Atlas probe.
type ProbeID uint32

func (id ProbeID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseProbeID parses a decimal probe id.
func ParseProbeID(s string) (ProbeID, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return ProbeID(n), nil
}

// MeasurementID identifies a measurement job on the platform.
type MeasurementID uint64

func (id MeasurementID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseMeasurementID parses a decimal measurement id.
func ParseMeasurementID(s string) (MeasurementID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return MeasurementID(n), nil
}

// Probe is a probe as reported by the platform.
type Probe struct {
	ID          ProbeID
	Address     netip.Addr
	ASN         asdata.ASN
	CountryCode string
}

// Sample is the outcome of one probe in a ping measurement.
type Sample struct {
	Measurement MeasurementID
	Probe       ProbeID
	From        netip.Addr // public address of the probe
	Src         netip.Addr
	Dst         netip.Addr
	MinRTT      float64 // milliseconds, valid when Responded
	Responded   bool
}

// Status is the platform's name for a measurement state.
type Status string

const (
	StatusSpecified    Status = "Specified"
	StatusScheduled    Status = "Scheduled"
	StatusOngoing      Status = "Ongoing"
	StatusStopped      Status = "Stopped"
	StatusForcedToStop Status = "Forced to stop"
	StatusNoSuitable   Status = "No suitable probes"
	StatusFailed       Status = "Failed"
	StatusArchived     Status = "Archived"
)

// Running reports whether the measurement may still produce results.
// Every other status counts as finished.
func (s Status) Running() bool {
	switch s {
	case StatusSpecified, StatusScheduled, StatusOngoing:
		return true
	}
	return false
}

// PingRequest describes a one-off ICMP ping from a set of probes.
type PingRequest struct {
	Target      netip.Addr
	Description string
	Packets     int
	Probes      []ProbeID
}

// Platform is the subset of the measurement platform the finder needs.
type Platform interface {
	CreatePing(ctx context.Context, req PingRequest) (MeasurementID, error)
	Status(ctx context.Context, id MeasurementID) (Status, error)
	Results(ctx context.Context, id MeasurementID) ([]Sample, error)
	ProbesInAS(ctx context.Context, asn asdata.ASN) ([]Probe, error)
}
