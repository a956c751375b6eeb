package psbox

import (
	"fmt"
	"net/netip"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/SAWassermann/DisNETPerf/atlas"
)

// RunState tracks the measurement jobs of a run and the target owning
// each of them.
type RunState struct {
	ID ulid.ULID

	mu          sync.Mutex
	owner       map[atlas.MeasurementID]netip.Addr
	outstanding map[atlas.MeasurementID]struct{}
	jobs        map[netip.Addr][]atlas.MeasurementID
}

func NewRunState(id ulid.ULID) *RunState {
	return &RunState{
		ID:          id,
		owner:       map[atlas.MeasurementID]netip.Addr{},
		outstanding: map[atlas.MeasurementID]struct{}{},
		jobs:        map[netip.Addr][]atlas.MeasurementID{},
	}
}

// AddJobs attaches ids to target and marks them outstanding. Either all
// ids are added or, if one already has an owner, none are.
func (rs *RunState) AddJobs(target netip.Addr, ids []atlas.MeasurementID) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	seen := map[atlas.MeasurementID]bool{}
	for _, id := range ids {
		if owner, ok := rs.owner[id]; ok || seen[id] {
			if !ok {
				owner = target
			}
			return fmt.Errorf("job %s for %s (owner %s): %w", id, target, owner, ErrJobOwned)
		}
		seen[id] = true
	}

	for _, id := range ids {
		rs.owner[id] = target
		rs.outstanding[id] = struct{}{}
	}
	rs.jobs[target] = append(rs.jobs[target], ids...)
	return nil
}

// Owner returns the target a job belongs to.
func (rs *RunState) Owner(id atlas.MeasurementID) (netip.Addr, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	addr, ok := rs.owner[id]
	return addr, ok
}

// Jobs returns the jobs of target in dispatch order.
func (rs *RunState) Jobs(target netip.Addr) []atlas.MeasurementID {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return slices.Clone(rs.jobs[target])
}

// Outstanding returns the unfinished jobs in ascending id order.
func (rs *RunState) Outstanding() []atlas.MeasurementID {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	ids := make([]atlas.MeasurementID, 0, len(rs.outstanding))
	for id := range rs.outstanding {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Finish marks a job as no longer outstanding.
func (rs *RunState) Finish(id atlas.MeasurementID) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	delete(rs.outstanding, id)
}
