// Package dispatch turns a target's candidate probes into one-off ping
// measurements on the platform.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/tracing"
	"go.opentelemetry.io/otel/attribute"

	"github.com/SAWassermann/DisNETPerf/atlas"
	"github.com/SAWassermann/DisNETPerf/journal"
	"github.com/SAWassermann/DisNETPerf/psbox"
	"github.com/SAWassermann/DisNETPerf/retry"
)

const (
	// DefaultBatchSize is the largest number of probes in one job.
	DefaultBatchSize = 500
	// DefaultPackets is the number of echo requests each probe sends.
	DefaultPackets = 10
)

// ErrAbandoned is returned when a job of the target could not be created.
var ErrAbandoned = errors.New("target abandoned")

// Batches splits ids into consecutive chunks of at most size ids.
func Batches(ids []atlas.ProbeID, size int) [][]atlas.ProbeID {
	if size <= 0 {
		size = DefaultBatchSize
	}
	batches := make([][]atlas.ProbeID, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		batches = append(batches, ids[start:end])
	}
	return batches
}

// Metrics counts measurement creation outcomes.
type Metrics struct {
	JobsCreated      prometheus.Counter
	CreateFailures   prometheus.Counter
	TargetsAbandoned prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "psbox_jobs_created_total",
			Help: "Ping measurements created on the platform",
		}),
		CreateFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "psbox_job_create_failures_total",
			Help: "Ping measurements that could not be created after all attempts",
		}),
		TargetsAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "psbox_targets_abandoned_total",
			Help: "Targets abandoned during dispatch",
		}),
	}
	reg.MustRegister(m.JobsCreated, m.CreateFailures, m.TargetsAbandoned)
	return m
}

// Options tune a Dispatcher. Zero values select the defaults.
type Options struct {
	BatchSize int
	Packets   int
	Create    retry.Policy
	Metrics   *Metrics
}

// Dispatcher creates the ping jobs of a target.
type Dispatcher struct {
	platform  atlas.Platform
	journal   journal.Journal
	batchSize int
	packets   int
	create    retry.Policy
	metrics   *Metrics
}

func New(platform atlas.Platform, j journal.Journal, opts Options) *Dispatcher {
	d := &Dispatcher{
		platform:  platform,
		journal:   j,
		batchSize: opts.BatchSize,
		packets:   opts.Packets,
		create:    opts.Create,
		metrics:   opts.Metrics,
	}
	if d.batchSize <= 0 {
		d.batchSize = DefaultBatchSize
	}
	if d.packets <= 0 {
		d.packets = DefaultPackets
	}
	if d.create.Permanent == nil {
		d.create.Permanent = atlas.IsPermanent
	}
	return d
}

// Dispatch creates one ping job per batch of candidates. Only when every
// job exists are they attached to the target, which moves to Dispatched,
// and journaled together with its label. If a batch cannot be created the
// target is moved to Abandoned and an error wrapping ErrAbandoned is
// returned; jobs already created for it are left running.
func (d *Dispatcher) Dispatch(ctx context.Context, run *psbox.Run, target *psbox.Target, candidates []atlas.ProbeID) ([]atlas.MeasurementID, error) {
	ctx, span := tracing.Start(ctx, "dispatch.Dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("target", target.Addr.String()),
		attribute.Int("candidates", len(candidates)),
	)

	log := logger.FromContext(ctx).With("target", target.Addr)

	batches := Batches(candidates, d.batchSize)
	ids := make([]atlas.MeasurementID, 0, len(batches))

	for i, batch := range batches {
		req := atlas.PingRequest{
			Target:      target.Addr,
			Description: "Ping target=" + target.Addr.String(),
			Packets:     d.packets,
			Probes:      batch,
		}
		id, err := retry.Do(ctx, d.create, "create ping", func(ctx context.Context) (atlas.MeasurementID, error) {
			return d.platform.CreatePing(ctx, req)
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if d.metrics != nil {
				d.metrics.CreateFailures.Inc()
				d.metrics.TargetsAbandoned.Inc()
			}
			log.ErrorContext(ctx, "could not create measurement, abandoning target",
				"batch", i+1, "batches", len(batches), "created", ids, "err", err)
			if terr := target.Transition(psbox.StateAbandoned); terr != nil {
				return nil, terr
			}
			return nil, fmt.Errorf("%s: %w: %w", target.Addr, ErrAbandoned, err)
		}
		if d.metrics != nil {
			d.metrics.JobsCreated.Inc()
		}
		log.DebugContext(ctx, "measurement created", "id", id, "probes", len(batch))
		ids = append(ids, id)
	}

	if err := run.AttachJobs(target, ids); err != nil {
		return nil, err
	}
	if d.journal != nil {
		rec := journal.TargetRecord{Target: target.Addr, Label: target.Label, Jobs: ids}
		if err := d.journal.Append(ctx, rec); err != nil {
			return nil, fmt.Errorf("journal target %s: %w", target.Addr, err)
		}
	}

	log.InfoContext(ctx, "measurements created", "jobs", ids, "label", target.Label)
	return ids, nil
}
