// Package finder runs the closest-probe search end to end: it resolves
// targets to ASes, selects and dispatches candidate probes, waits for the
// measurements and reports the closest probe of every target.
package finder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"

	"github.com/SAWassermann/DisNETPerf/aggregate"
	"github.com/SAWassermann/DisNETPerf/asdata"
	"github.com/SAWassermann/DisNETPerf/atlas"
	"github.com/SAWassermann/DisNETPerf/config"
	"github.com/SAWassermann/DisNETPerf/dispatch"
	"github.com/SAWassermann/DisNETPerf/fleet"
	"github.com/SAWassermann/DisNETPerf/journal"
	"github.com/SAWassermann/DisNETPerf/poller"
	"github.com/SAWassermann/DisNETPerf/psbox"
	"github.com/SAWassermann/DisNETPerf/runid"
	"github.com/SAWassermann/DisNETPerf/selector"
)

// Options carry the optional collaborators of a Finder.
type Options struct {
	// Registerer receives the metrics of every stage; nil disables them.
	Registerer prometheus.Registerer

	// Echo, if set, gets a copy of every report line.
	Echo io.Writer

	Rand *rand.Rand
	Now  func() time.Time
}

// Summary describes a finished run.
type Summary struct {
	RunID     ulid.ULID
	Report    string
	Targets   int
	Recovered int
	Abandoned int
	Results   []aggregate.Result
}

// Finder runs closest-probe searches.
type Finder struct {
	cfg      *config.Config
	platform atlas.Platform
	journal  journal.Journal
	opts     Options

	selectorMetrics  *selector.Metrics
	dispatchMetrics  *dispatch.Metrics
	pollerMetrics    *poller.Metrics
	aggregateMetrics *aggregate.Metrics
}

func New(cfg *config.Config, platform atlas.Platform, j journal.Journal, opts Options) *Finder {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	f := &Finder{cfg: cfg, platform: platform, journal: j, opts: opts}
	if reg := opts.Registerer; reg != nil {
		f.selectorMetrics = selector.NewMetrics(reg)
		f.dispatchMetrics = dispatch.NewMetrics(reg)
		f.pollerMetrics = poller.NewMetrics(reg)
		f.aggregateMetrics = aggregate.NewMetrics(reg)
	}
	return f
}

// Run performs one run for the targets of req. With req.Recover set the
// journaled run is resumed: its targets are not selected or dispatched
// again, their jobs are awaited and its report file is appended to.
//
// Errors are typed for the caller: *InputError and ErrInputUnreadable
// before any side effect, journal.ErrNoJournal when there is nothing to
// recover, and anything else for failures that ended the run early. The
// returned Summary is non-nil once the run id is known.
func (f *Finder) Run(ctx context.Context, req Request) (sum *Summary, err error) {
	ctx, span := tracing.Start(ctx, "finder.Run")
	defer span.End()

	log := logger.FromContext(ctx)

	addrs, err := req.Targets(f.cfg.Data.InputDir)
	if err != nil {
		return nil, err
	}

	ranges, err := asdata.LoadRanges(f.cfg.Data.Ranges)
	if err != nil {
		return nil, err
	}
	fl, err := fleet.Load(f.cfg.Data.Fleet)
	if err != nil {
		return nil, fmt.Errorf("probe fleet: %w", err)
	}
	graph := asdata.NewGraph(f.cfg.Data.Neighbours)

	run, err := f.start(ctx, req.Recover)
	if err != nil {
		return nil, err
	}

	sum = &Summary{RunID: run.State.ID, Recovered: len(run.Targets())}
	span.SetAttributes(
		attribute.String("run", run.State.ID.String()),
		attribute.Bool("recover", req.Recover),
		attribute.Int("targets", len(addrs)),
	)
	log = log.With("run", run.State.ID)
	ctx = logger.NewContext(ctx, log)

	report, err := f.openReport(run.State.ID)
	if err != nil {
		return sum, err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(report))
	sum.Report = report.Name()

	var out io.Writer = report
	if f.opts.Echo != nil {
		out = io.MultiWriter(report, f.opts.Echo)
	}

	log.InfoContext(ctx, "starting run", "targets", len(addrs), "recovered", sum.Recovered, "report", sum.Report)

	pending := make([]netip.Addr, 0, len(addrs))
	for _, addr := range addrs {
		if _, ok := run.Target(addr); ok {
			log.DebugContext(ctx, "target recovered from journal", "target", addr)
			continue
		}
		pending = append(pending, addr)
	}

	abandoned, err := f.dispatchAll(ctx, run, ranges.Resolve(pending), pending, graph, fl)
	sum.Abandoned = abandoned
	sum.Targets = len(run.Targets())
	if err != nil {
		return sum, err
	}

	p := poller.New(f.platform, poller.Options{
		Interval: f.cfg.Polling.Interval,
		Status:   f.cfg.Polling.Status.Policy(),
		Metrics:  f.pollerMetrics,
		OnFinish: func(id atlas.MeasurementID, st atlas.Status) {
			run.State.Finish(id)
			log.DebugContext(ctx, "measurement finished", "id", id, "status", st)
		},
	})
	if err := p.Await(ctx, run.State.Outstanding()); err != nil {
		return sum, err
	}

	sum.Results, err = f.aggregateAll(ctx, run, aggregate.NewReportWriter(out))
	if err != nil {
		return sum, err
	}

	log.InfoContext(ctx, "run complete",
		"targets", sum.Targets, "results", len(sum.Results), "abandoned", sum.Abandoned)
	return sum, nil
}

// start begins a fresh run or rebuilds the journaled one.
func (f *Finder) start(ctx context.Context, resume bool) (*psbox.Run, error) {
	log := logger.FromContext(ctx)

	if !resume {
		id, err := runid.New(f.opts.Now())
		if err != nil {
			return nil, fmt.Errorf("run id: %w", err)
		}
		if err := f.journal.Reset(ctx, id); err != nil {
			return nil, fmt.Errorf("reset journal: %w", err)
		}
		return psbox.NewRun(id), nil
	}

	snap, err := journal.Load(ctx, f.journal)
	if err != nil {
		return nil, err
	}

	run := psbox.NewRun(snap.RunID)
	for id, asn := range snap.Probes {
		run.Probes.Add(id, asn)
	}
	for _, rec := range snap.Targets {
		if _, err := run.Restore(rec.Target, rec.Label, rec.Jobs); err != nil {
			return nil, fmt.Errorf("restore %s: %w", rec.Target, err)
		}
	}

	log.InfoContext(ctx, "recovering run", "run", snap.RunID,
		"started", runid.Started(snap.RunID), "targets", len(snap.Targets), "probes", len(snap.Probes))
	return run, nil
}

func (f *Finder) openReport(id ulid.ULID) (*os.File, error) {
	if err := os.MkdirAll(f.cfg.Output.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("report directory: %w", err)
	}
	path := filepath.Join(f.cfg.Output.Dir, id.String()+"_psbox.txt")
	report, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	return report, nil
}

// dispatchAll selects candidates for and dispatches every pending target
// in order. Abandoned targets are counted; with halt on abandon set the
// first one stops dispatching and the remaining targets stay unresolved.
func (f *Finder) dispatchAll(ctx context.Context, run *psbox.Run, mapping asdata.Mapping, pending []netip.Addr, graph selector.Graph, fl fleet.Fleet) (int, error) {
	ctx, span := tracing.Start(ctx, "finder.dispatch")
	defer span.End()

	log := logger.FromContext(ctx)

	sel := selector.New(f.platform, graph, fl, f.journal, selector.Options{
		RandomProbes: f.cfg.Selection.RandomProbes,
		Lookup:       f.cfg.Selection.Lookup.Policy(),
		Metrics:      f.selectorMetrics,
		Rand:         f.opts.Rand,
	})
	disp := dispatch.New(f.platform, f.journal, dispatch.Options{
		BatchSize: f.cfg.Dispatch.BatchSize,
		Packets:   f.cfg.Dispatch.Packets,
		Create:    f.cfg.Dispatch.Create.Policy(),
		Metrics:   f.dispatchMetrics,
	})

	abandoned := 0
	halted := false
	for _, addr := range pending {
		t := run.AddTarget(addr)
		t.ASN, t.Mapped = mapping.Lookup(addr)
		if halted {
			continue
		}

		err := f.dispatchOne(ctx, run, sel, disp, t)
		switch {
		case err == nil:
		case errors.Is(err, dispatch.ErrAbandoned),
			errors.Is(err, selector.ErrLookupFailed),
			errors.Is(err, selector.ErrEmptyFleet):
			abandoned++
			log.WarnContext(ctx, "target abandoned", "target", addr, "err", err)
			if f.cfg.HaltOnAbandon() {
				halted = true
				log.WarnContext(ctx, "not dispatching remaining targets")
			}
		default:
			return abandoned, err
		}
	}

	span.SetAttributes(attribute.Int("abandoned", abandoned))
	return abandoned, nil
}

func (f *Finder) dispatchOne(ctx context.Context, run *psbox.Run, sel *selector.Selector, disp *dispatch.Dispatcher, t *psbox.Target) error {
	selection, err := sel.Select(ctx, run, t)
	if err != nil {
		return err
	}
	_, err = disp.Dispatch(ctx, run, t, selection.Probes)
	return err
}

// aggregateAll reports the closest probe of every dispatched target in
// the order the targets were added.
func (f *Finder) aggregateAll(ctx context.Context, run *psbox.Run, rw *aggregate.ReportWriter) ([]aggregate.Result, error) {
	ctx, span := tracing.Start(ctx, "finder.aggregate")
	defer span.End()

	agg := aggregate.New(f.platform, aggregate.Options{
		Results:     f.cfg.Results.Fetch.Policy(),
		Concurrency: f.cfg.Results.Concurrency,
		Metrics:     f.aggregateMetrics,
	})

	var results []aggregate.Result
	for _, t := range run.Targets() {
		if t.State != psbox.StateDispatched {
			continue
		}
		if err := t.Transition(psbox.StatePolled); err != nil {
			return results, err
		}
		res, ok, err := agg.Aggregate(ctx, run, t)
		if err != nil {
			return results, err
		}
		if !ok {
			continue
		}
		if err := rw.Write(res); err != nil {
			return results, fmt.Errorf("write report: %w", err)
		}
		results = append(results, res)
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}
