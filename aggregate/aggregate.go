// Package aggregate downloads ping results and picks, per target, the
// probe with the lowest round-trip time.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/prometheus/client_golang/prometheus"
	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/tracing"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/SAWassermann/DisNETPerf/asdata"
	"github.com/SAWassermann/DisNETPerf/atlas"
	"github.com/SAWassermann/DisNETPerf/psbox"
	"github.com/SAWassermann/DisNETPerf/retry"
)

// DefaultConcurrency bounds parallel result downloads for one target.
const DefaultConcurrency = 4

var errNotReady = errors.New("no results yet")

// Result is the closest probe found for a target.
type Result struct {
	Target    netip.Addr
	Probe     atlas.ProbeID
	ProbeAddr netip.Addr
	ProbeASN  asdata.ASN
	ASNKnown  bool
	MinRTT    float64
	Label     psbox.Label
}

// Best returns the sample with the lowest RTT. Samples without a reply
// and replies from the target itself are ignored; on equal RTTs the lower
// probe id wins. ok is false when no sample qualifies.
func Best(samples []atlas.Sample) (best atlas.Sample, ok bool) {
	for _, s := range samples {
		if !s.Responded || s.Src == s.Dst {
			continue
		}
		if !ok || s.MinRTT < best.MinRTT || (s.MinRTT == best.MinRTT && s.Probe < best.Probe) {
			best, ok = s, true
		}
	}
	return best, ok
}

// Metrics counts result downloads and outcomes.
type Metrics struct {
	Fetches *prometheus.CounterVec
	Targets *prometheus.CounterVec
	MinRTT  prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "psbox_result_fetches_total",
			Help: "Result downloads per job by outcome",
		}, []string{"result"}),
		Targets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "psbox_targets_aggregated_total",
			Help: "Aggregated targets by whether a closest probe was found",
		}, []string{"found"}),
		MinRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "psbox_closest_probe_rtt_milliseconds",
			Help:    "Minimum RTT of the closest probe per target",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}
	reg.MustRegister(m.Fetches, m.Targets, m.MinRTT)
	return m
}

// Options tune an Aggregator. Zero values select the defaults.
type Options struct {
	Results     retry.Policy
	Concurrency int
	Metrics     *Metrics
}

// Aggregator turns a polled target's jobs into a Result.
type Aggregator struct {
	platform atlas.Platform
	opts     Options
}

func New(platform atlas.Platform, opts Options) *Aggregator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Aggregator{platform: platform, opts: opts}
}

// Aggregate fetches the samples of every job of target and selects the
// closest probe. An empty answer counts as not ready and is retried; a job
// that never yields results is skipped. The target moves from Polled to
// Aggregated whether or not a result is found; ok reports which.
func (a *Aggregator) Aggregate(ctx context.Context, run *psbox.Run, target *psbox.Target) (Result, bool, error) {
	ctx, span := tracing.Start(ctx, "aggregate.Aggregate")
	defer span.End()
	span.SetAttributes(attribute.String("target", target.Addr.String()))

	log := logger.FromContext(ctx).With("target", target.Addr)

	if !target.State.CanTransition(psbox.StateAggregated) {
		return Result{}, false, fmt.Errorf("%s: %s -> %s: %w",
			target.Addr, target.State, psbox.StateAggregated, psbox.ErrIllegalTransition)
	}

	jobs := target.Jobs()
	perJob := make([][]atlas.Sample, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)
	for i, id := range jobs {
		g.Go(func() error {
			samples, err := retry.Do(gctx, a.opts.Results, "measurement results",
				func(ctx context.Context) ([]atlas.Sample, error) {
					samples, err := a.platform.Results(ctx, id)
					if err == nil && len(samples) == 0 {
						err = errNotReady
					}
					return samples, err
				})
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				a.countFetch("skipped")
				log.WarnContext(ctx, "no results for measurement, skipping", "id", id, "err", err)
				return nil
			}
			a.countFetch("ok")
			perJob[i] = samples
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, false, err
	}

	var all []atlas.Sample
	for _, samples := range perJob {
		all = append(all, samples...)
	}

	if err := target.Transition(psbox.StateAggregated); err != nil {
		return Result{}, false, err
	}

	best, ok := Best(all)
	if a.opts.Metrics != nil {
		a.opts.Metrics.Targets.WithLabelValues(fmt.Sprint(ok)).Inc()
	}
	if !ok {
		log.InfoContext(ctx, "target unreachable from all candidates", "samples", len(all))
		return Result{}, false, nil
	}

	res := Result{
		Target:    target.Addr,
		Probe:     best.Probe,
		ProbeAddr: best.From,
		MinRTT:    best.MinRTT,
		Label:     target.Label,
	}
	res.ProbeASN, res.ASNKnown = run.Probes.Lookup(best.Probe)
	if a.opts.Metrics != nil {
		a.opts.Metrics.MinRTT.Observe(best.MinRTT)
	}
	log.InfoContext(ctx, "closest probe", "probe", res.Probe, "rtt", res.MinRTT, "label", res.Label)
	return res, true, nil
}

func (a *Aggregator) countFetch(result string) {
	if a.opts.Metrics != nil {
		a.opts.Metrics.Fetches.WithLabelValues(result).Inc()
	}
}
