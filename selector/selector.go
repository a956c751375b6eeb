package selector

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/tracing"
	"go.opentelemetry.io/otel/attribute"

	"github.com/SAWassermann/DisNETPerf/asdata"
	"github.com/SAWassermann/DisNETPerf/atlas"
	"github.com/SAWassermann/DisNETPerf/fleet"
	"github.com/SAWassermann/DisNETPerf/journal"
	"github.com/SAWassermann/DisNETPerf/psbox"
	"github.com/SAWassermann/DisNETPerf/retry"
)

// DefaultRandomProbes is the size of a random candidate set.
const DefaultRandomProbes = 100

var (
	// ErrLookupFailed is returned when the platform could not list the
	// probes of an AS; the target is abandoned.
	ErrLookupFailed = errors.New("probe lookup failed")

	// ErrEmptyFleet is returned when a random selection finds no probes.
	ErrEmptyFleet = errors.New("probe fleet is empty")

	errJournal = errors.New("journal write failed")
)

// Graph answers AS adjacency queries.
type Graph interface {
	Neighbors(asn asdata.ASN) ([]asdata.ASN, error)
}

// Selection is the candidate set chosen for a target.
type Selection struct {
	Label  psbox.Label
	Probes []atlas.ProbeID
}

// Options tune a Selector. Zero values select the defaults.
type Options struct {
	RandomProbes int
	Lookup       retry.Policy
	Metrics      *Metrics
	Rand         *rand.Rand
}

// Selector picks candidate probes for targets.
type Selector struct {
	platform     atlas.Platform
	graph        Graph
	fleet        fleet.Fleet
	journal      journal.Journal
	randomProbes int
	lookup       retry.Policy
	metrics      *Metrics
	rng          *rand.Rand
}

// New returns a selector using platform for AS probe lookups, graph for
// neighbours and fl for random selection. Discovered probes are written
// to j.
func New(platform atlas.Platform, graph Graph, fl fleet.Fleet, j journal.Journal, opts Options) *Selector {
	s := &Selector{
		platform:     platform,
		graph:        graph,
		fleet:        fl,
		journal:      j,
		randomProbes: opts.RandomProbes,
		lookup:       opts.Lookup,
		metrics:      opts.Metrics,
		rng:          opts.Rand,
	}
	if s.randomProbes <= 0 {
		s.randomProbes = DefaultRandomProbes
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return s
}

// Select chooses the candidates of target and moves it to CandidatesOK or
// CandidatesRandom. When the platform lookups fail the target is moved to
// Abandoned and an error wrapping ErrLookupFailed is returned. An error
// wrapping asdata.ErrLookupUnavailable means the adjacency data is
// missing and the run cannot continue.
func (s *Selector) Select(ctx context.Context, run *psbox.Run, target *psbox.Target) (Selection, error) {
	ctx, span := tracing.Start(ctx, "selector.Select")
	defer span.End()
	span.SetAttributes(attribute.String("target", target.Addr.String()))

	log := logger.FromContext(ctx).With("target", target.Addr)

	if !target.Mapped {
		log.DebugContext(ctx, "target has no AS, using random probes")
		return s.selectRandom(ctx, run, target, psbox.LabelNoAS)
	}

	ids, cached := run.Candidates(target.ASN)
	if cached {
		if s.metrics != nil {
			s.metrics.CacheHits.Inc()
		}
	} else {
		var err error
		ids, err = s.discover(ctx, run, target.ASN)
		if err != nil {
			if errors.Is(err, asdata.ErrLookupUnavailable) || errors.Is(err, errJournal) || ctx.Err() != nil {
				return Selection{}, err
			}
			log.WarnContext(ctx, "abandoning target", "asn", target.ASN, "err", err)
			if terr := target.Transition(psbox.StateAbandoned); terr != nil {
				return Selection{}, terr
			}
			return Selection{}, fmt.Errorf("%s: %w: %w", target.Addr, ErrLookupFailed, err)
		}
		run.SetCandidates(target.ASN, ids)
	}

	if len(ids) == 0 {
		log.DebugContext(ctx, "no probes in AS or neighbours, using random probes", "asn", target.ASN)
		return s.selectRandom(ctx, run, target, psbox.LabelRandom)
	}

	log.DebugContext(ctx, "candidates found", "asn", target.ASN, "probes", len(ids), "cached", cached)
	return s.finish(target, psbox.LabelOK, psbox.StateCandidatesOK, ids)
}

// discover looks up the probes of asn, widening to its neighbours when it
// hosts none. The result keeps first-seen order without duplicates.
func (s *Selector) discover(ctx context.Context, run *psbox.Run, asn asdata.ASN) ([]atlas.ProbeID, error) {
	probes, err := s.probesInAS(ctx, asn, "own")
	if err != nil {
		return nil, err
	}

	if len(probes) == 0 {
		neighbors, err := s.graph.Neighbors(asn)
		if err != nil {
			return nil, err
		}
		logger.FromContext(ctx).DebugContext(ctx, "searching neighbour ASes", "asn", asn, "neighbours", len(neighbors))
		for _, n := range neighbors {
			ps, err := s.probesInAS(ctx, n, "neighbour")
			if err != nil {
				return nil, err
			}
			probes = append(probes, ps...)
		}
	}

	ids := make([]atlas.ProbeID, 0, len(probes))
	seen := make(map[atlas.ProbeID]bool, len(probes))
	for _, p := range probes {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		ids = append(ids, p.ID)
		if err := s.remember(ctx, run, p.ID, p.ASN); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (s *Selector) probesInAS(ctx context.Context, asn asdata.ASN, scope string) ([]atlas.Probe, error) {
	probes, err := retry.Do(ctx, s.lookup, "probes in AS"+asn.String(),
		func(ctx context.Context) ([]atlas.Probe, error) {
			return s.platform.ProbesInAS(ctx, asn)
		})
	if s.metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		s.metrics.ProbeLookups.WithLabelValues(scope, result).Inc()
	}
	return probes, err
}

func (s *Selector) selectRandom(ctx context.Context, run *psbox.Run, target *psbox.Target, label psbox.Label) (Selection, error) {
	entries := s.fleet.Sample(s.randomProbes, s.rng)
	if len(entries) == 0 {
		if err := target.Transition(psbox.StateAbandoned); err != nil {
			return Selection{}, err
		}
		return Selection{}, fmt.Errorf("%s: %w", target.Addr, ErrEmptyFleet)
	}

	ids := make([]atlas.ProbeID, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
		if err := s.remember(ctx, run, e.ID, e.ASN); err != nil {
			return Selection{}, err
		}
	}
	return s.finish(target, label, psbox.StateCandidatesRandom, ids)
}

// remember records a probe's AS the first time it is seen and journals it.
func (s *Selector) remember(ctx context.Context, run *psbox.Run, id atlas.ProbeID, asn asdata.ASN) error {
	if !run.Probes.Add(id, asn) {
		return nil
	}
	if s.journal == nil {
		return nil
	}
	if err := s.journal.Append(ctx, journal.ProbeRecord{Probe: id, ASN: asn}); err != nil {
		return fmt.Errorf("%w: probe %s: %w", errJournal, id, err)
	}
	return nil
}

func (s *Selector) finish(target *psbox.Target, label psbox.Label, state psbox.State, ids []atlas.ProbeID) (Selection, error) {
	if err := target.Transition(state); err != nil {
		return Selection{}, err
	}
	target.Label = label
	if s.metrics != nil {
		s.metrics.Selections.WithLabelValues(label.String()).Inc()
		s.metrics.CandidateSize.Observe(float64(len(ids)))
	}
	return Selection{Label: label, Probes: ids}, nil
}
