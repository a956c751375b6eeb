package psbox

import (
	"fmt"
	"net/netip"
	"slices"

	"github.com/SAWassermann/DisNETPerf/asdata"
	"github.com/SAWassermann/DisNETPerf/atlas"
)

// Target is an address a closest probe is searched for.
type Target struct {
	Addr   netip.Addr
	ASN    asdata.ASN
	Mapped bool
	Label  Label
	State  State

	// Recovered is set for targets restored from the journal.
	Recovered bool

	jobs []atlas.MeasurementID
}

// Transition moves the target to next, refusing moves the lifecycle does
// not allow.
func (t *Target) Transition(next State) error {
	if !t.State.CanTransition(next) {
		return fmt.Errorf("%s: %s -> %s: %w", t.Addr, t.State, next, ErrIllegalTransition)
	}
	t.State = next
	return nil
}

// Jobs returns the target's measurement jobs in dispatch order.
func (t *Target) Jobs() []atlas.MeasurementID {
	return slices.Clone(t.jobs)
}
