// Package journal persists enough of a run to resume it after a crash:
// the run id, every probe to AS discovery and, per dispatched target, its
// measurement jobs and label.
package journal

import (
	"context"
	"errors"
	"net/netip"

	"github.com/oklog/ulid/v2"

	"github.com/SAWassermann/DisNETPerf/asdata"
	"github.com/SAWassermann/DisNETPerf/atlas"
	"github.com/SAWassermann/DisNETPerf/psbox"
)

// ErrNoJournal is returned by Replay when no run has been journaled.
var ErrNoJournal = errors.New("no recovery journal")

// Record is a journal entry: a ProbeRecord or a TargetRecord.
type Record interface {
	isRecord()
}

// ProbeRecord is a probe whose AS became known during the run.
type ProbeRecord struct {
	Probe atlas.ProbeID
	ASN   asdata.ASN
}

// TargetRecord is a target whose jobs were all created.
type TargetRecord struct {
	Target netip.Addr
	Label  psbox.Label
	Jobs   []atlas.MeasurementID
}

func (ProbeRecord) isRecord()  {}
func (TargetRecord) isRecord() {}

// Journal is the recovery store of a run.
type Journal interface {
	// Reset discards any previous run and starts a new one.
	Reset(ctx context.Context, runID ulid.ULID) error

	// Append durably adds a record to the current run.
	Append(ctx context.Context, rec Record) error

	// Replay calls fn for every record of the journaled run, probe records
	// first, then target records in append order, and returns the run id.
	// It returns ErrNoJournal if there is no run.
	Replay(ctx context.Context, fn func(Record) error) (ulid.ULID, error)

	Close() error
}

// Snapshot is the replayed content of a journal.
type Snapshot struct {
	RunID   ulid.ULID
	Probes  map[atlas.ProbeID]asdata.ASN
	Targets []TargetRecord
}

// Load replays j into a Snapshot. A probe journaled twice keeps its first
// AS.
func Load(ctx context.Context, j Journal) (*Snapshot, error) {
	snap := &Snapshot{Probes: map[atlas.ProbeID]asdata.ASN{}}
	id, err := j.Replay(ctx, func(rec Record) error {
		switch r := rec.(type) {
		case ProbeRecord:
			if _, ok := snap.Probes[r.Probe]; !ok {
				snap.Probes[r.Probe] = r.ASN
			}
		case TargetRecord:
			snap.Targets = append(snap.Targets, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	snap.RunID = id
	return snap, nil
}
