package psbox

import (
	"fmt"
	"net/netip"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/SAWassermann/DisNETPerf/asdata"
	"github.com/SAWassermann/DisNETPerf/atlas"
)

// Run is the context shared by every stage of one closest-probe run.
type Run struct {
	State  *RunState
	Probes *ProbeASCache

	mu         sync.Mutex
	candidates map[asdata.ASN][]atlas.ProbeID
	targets    map[netip.Addr]*Target
	order      []netip.Addr
}

// NewRun returns an empty run with the given id.
func NewRun(id ulid.ULID) *Run {
	return &Run{
		State:      NewRunState(id),
		Probes:     NewProbeASCache(),
		candidates: map[asdata.ASN][]atlas.ProbeID{},
		targets:    map[netip.Addr]*Target{},
	}
}

// AddTarget registers addr in the Unresolved state. Adding an address
// twice returns the existing target.
func (r *Run) AddTarget(addr netip.Addr) *Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.targets[addr]; ok {
		return t
	}
	t := &Target{Addr: addr, State: StateUnresolved}
	r.targets[addr] = t
	r.order = append(r.order, addr)
	return t
}

// Target returns the target for addr.
func (r *Run) Target(addr netip.Addr) (*Target, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[addr]
	return t, ok
}

// Targets returns all targets in the order they were added.
func (r *Run) Targets() []*Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Target, 0, len(r.order))
	for _, addr := range r.order {
		out = append(out, r.targets[addr])
	}
	return out
}

// Candidates returns the probes cached for asn in this run. An empty,
// non-nil result with ok set means the AS has no usable probes.
func (r *Run) Candidates(asn asdata.ASN) ([]atlas.ProbeID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids, ok := r.candidates[asn]
	return slices.Clone(ids), ok
}

// SetCandidates caches the probe list for asn.
func (r *Run) SetCandidates(asn asdata.ASN, ids []atlas.ProbeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ids == nil {
		ids = []atlas.ProbeID{}
	}
	r.candidates[asn] = slices.Clone(ids)
}

// AttachJobs records the jobs of a dispatched target in the run state and
// on the target itself, then moves it to Dispatched.
func (r *Run) AttachJobs(t *Target, ids []atlas.MeasurementID) error {
	if !t.State.CanTransition(StateDispatched) {
		return fmt.Errorf("%s: %s -> %s: %w", t.Addr, t.State, StateDispatched, ErrIllegalTransition)
	}
	if err := r.State.AddJobs(t.Addr, ids); err != nil {
		return err
	}
	t.jobs = append(t.jobs, ids...)
	return t.Transition(StateDispatched)
}

// Restore re-creates a target dispatched by an earlier, interrupted run.
func (r *Run) Restore(addr netip.Addr, label Label, ids []atlas.MeasurementID) (*Target, error) {
	t := r.AddTarget(addr)
	t.Label = label
	t.Recovered = true

	next := StateCandidatesOK
	if label != LabelOK {
		next = StateCandidatesRandom
	}
	if err := t.Transition(next); err != nil {
		return nil, err
	}
	if err := r.AttachJobs(t, ids); err != nil {
		return nil, err
	}
	return t, nil
}
