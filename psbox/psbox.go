// Package psbox holds the state of one closest-probe run: the targets and
// their lifecycle, the probe to AS cache, the per-AS candidate cache and
// the measurement jobs owned by each target.
package psbox

//go:generate go tool github.com/dmarkham/enumer -type=Label -trimprefix=Label -transform=snake-upper
//go:generate go tool github.com/dmarkham/enumer -type=State -trimprefix=State

import "errors"

var (
	// ErrIllegalTransition is returned when a target is moved to a state
	// that does not follow its current one.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrJobOwned is returned when a measurement job is attached to a
	// second target.
	ErrJobOwned = errors.New("measurement job already owned")
)

// Label records how a target's candidate probes were chosen.
type Label uint8

const (
	LabelOK     Label = iota // same AS or neighbouring ASes
	LabelNoAS                // target address not mapped to an AS
	LabelRandom              // mapped, but no probes in the AS or its neighbours
)

// State is the lifecycle position of a target within a run.
type State uint8

const (
	StateUnresolved State = iota
	StateCandidatesOK
	StateCandidatesRandom
	StateDispatched
	StatePolled
	StateAggregated
	StateAbandoned
)

var transitions = map[State][]State{
	StateUnresolved:       {StateCandidatesOK, StateCandidatesRandom, StateAbandoned},
	StateCandidatesOK:     {StateDispatched, StateAbandoned},
	StateCandidatesRandom: {StateDispatched, StateAbandoned},
	StateDispatched:       {StatePolled, StateAbandoned},
	StatePolled:           {StateAggregated},
}

// CanTransition reports whether a target in state s may move to next.
func (s State) CanTransition(next State) bool {
	for _, st := range transitions[s] {
		if st == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}
