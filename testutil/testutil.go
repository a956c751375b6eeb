// Package testutil provides an in-memory measurement platform and file
// fixtures for tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/SAWassermann/DisNETPerf/asdata"
	"github.com/SAWassermann/DisNETPerf/atlas"
)

// ErrInjected is returned by the fake platform for injected failures.
var ErrInjected = errors.New("injected platform failure")

// Platform is an in-memory atlas.Platform. Measurements finish on the
// first status query unless statuses are scripted with SetStatuses, and
// results are synthesized from the RTT table unless set with SetResults.
type Platform struct {
	mu sync.Mutex

	// Probes lists the probes hosted in each AS.
	Probes map[asdata.ASN][]atlas.Probe

	// RTT is the minimum RTT each probe reports. Probes without an entry
	// do not answer.
	RTT map[atlas.ProbeID]float64

	// CreateHook, StatusHook, ResultsHook and ProbesHook can fail a call;
	// n counts calls of that kind starting at 1.
	CreateHook  func(n int, req atlas.PingRequest) error
	StatusHook  func(n int, id atlas.MeasurementID) error
	ResultsHook func(n int, id atlas.MeasurementID) error
	ProbesHook  func(n int, asn asdata.ASN) error

	nextID   atlas.MeasurementID
	requests map[atlas.MeasurementID]atlas.PingRequest
	statuses map[atlas.MeasurementID][]atlas.Status
	results  map[atlas.MeasurementID][]atlas.Sample
	empty    map[atlas.MeasurementID]int

	createCalls  int
	statusCalls  int
	resultsCalls int
	probesCalls  int
	probeQueries []asdata.ASN
}

// NewPlatform returns an empty fake platform.
func NewPlatform() *Platform {
	return &Platform{
		Probes:   map[asdata.ASN][]atlas.Probe{},
		RTT:      map[atlas.ProbeID]float64{},
		nextID:   1000,
		requests: map[atlas.MeasurementID]atlas.PingRequest{},
		statuses: map[atlas.MeasurementID][]atlas.Status{},
		results:  map[atlas.MeasurementID][]atlas.Sample{},
		empty:    map[atlas.MeasurementID]int{},
	}
}

// AddProbes places probes with the given ids in asn.
func (p *Platform) AddProbes(asn asdata.ASN, ids ...atlas.ProbeID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		p.Probes[asn] = append(p.Probes[asn], atlas.Probe{ID: id, Address: ProbeAddr(id), ASN: asn})
	}
}

// SetStatuses scripts the answers to successive status queries of id; the
// last one repeats.
func (p *Platform) SetStatuses(id atlas.MeasurementID, statuses ...atlas.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[id] = statuses
}

// SetEmptyResults makes the next n result downloads of id come back empty.
func (p *Platform) SetEmptyResults(id atlas.MeasurementID, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.empty[id] = n
}

// SetResults fixes the samples returned for id.
func (p *Platform) SetResults(id atlas.MeasurementID, samples []atlas.Sample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[id] = samples
}

func (p *Platform) CreatePing(ctx context.Context, req atlas.PingRequest) (atlas.MeasurementID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createCalls++
	if p.CreateHook != nil {
		if err := p.CreateHook(p.createCalls, req); err != nil {
			return 0, err
		}
	}
	p.nextID++
	req.Probes = append([]atlas.ProbeID(nil), req.Probes...)
	p.requests[p.nextID] = req
	return p.nextID, nil
}

func (p *Platform) Status(ctx context.Context, id atlas.MeasurementID) (atlas.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusCalls++
	if p.StatusHook != nil {
		if err := p.StatusHook(p.statusCalls, id); err != nil {
			return "", err
		}
	}
	seq, ok := p.statuses[id]
	if !ok || len(seq) == 0 {
		return atlas.StatusStopped, nil
	}
	st := seq[0]
	if len(seq) > 1 {
		p.statuses[id] = seq[1:]
	}
	return st, nil
}

func (p *Platform) Results(ctx context.Context, id atlas.MeasurementID) ([]atlas.Sample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resultsCalls++
	if p.ResultsHook != nil {
		if err := p.ResultsHook(p.resultsCalls, id); err != nil {
			return nil, err
		}
	}
	if p.empty[id] > 0 {
		p.empty[id]--
		return []atlas.Sample{}, nil
	}
	if samples, ok := p.results[id]; ok {
		return append([]atlas.Sample(nil), samples...), nil
	}

	req, ok := p.requests[id]
	if !ok {
		return nil, fmt.Errorf("measurement %s: %w", id, ErrInjected)
	}
	samples := make([]atlas.Sample, 0, len(req.Probes))
	for _, probe := range req.Probes {
		s := atlas.Sample{
			Measurement: id,
			Probe:       probe,
			From:        ProbeAddr(probe),
			Src:         ProbeAddr(probe),
			Dst:         req.Target,
		}
		if rtt, ok := p.RTT[probe]; ok {
			s.MinRTT, s.Responded = rtt, true
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func (p *Platform) ProbesInAS(ctx context.Context, asn asdata.ASN) ([]atlas.Probe, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probesCalls++
	p.probeQueries = append(p.probeQueries, asn)
	if p.ProbesHook != nil {
		if err := p.ProbesHook(p.probesCalls, asn); err != nil {
			return nil, err
		}
	}
	return append([]atlas.Probe(nil), p.Probes[asn]...), nil
}

// CreateCalls returns the number of CreatePing calls, failed ones included.
func (p *Platform) CreateCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.createCalls
}

// StatusCalls returns the number of Status calls.
func (p *Platform) StatusCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusCalls
}

// ResultsCalls returns the number of Results calls.
func (p *Platform) ResultsCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resultsCalls
}

// ProbeQueries returns the ASes queried with ProbesInAS, in call order.
func (p *Platform) ProbeQueries() []asdata.ASN {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]asdata.ASN(nil), p.probeQueries...)
}

// Request returns the ping request that created id.
func (p *Platform) Request(id atlas.MeasurementID) (atlas.PingRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.requests[id]
	return req, ok
}

// ProbeAddr is the public address the fake assigns to a probe.
func ProbeAddr(id atlas.ProbeID) netip.Addr {
	return netip.AddrFrom4([4]byte{198, 18, byte(id >> 8), byte(id)})
}

// WriteFile writes content to name in dir and returns the path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// FleetFile writes a fleet file with probes 1..n spread over ASes
// 65000..65009 and returns its path.
func FleetFile(t *testing.T, dir string, n int) string {
	t.Helper()
	var sb strings.Builder
	for i := 1; i <= n; i++ {
		id := atlas.ProbeID(i)
		fmt.Fprintf(&sb, "%d\t%s\tNL\t%d\n", i, ProbeAddr(id), 65000+i%10)
	}
	return WriteFile(t, dir, "fleet.txt", sb.String())
}
