// Package poller waits for measurement jobs to finish.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/tracing"
	"go.opentelemetry.io/otel/attribute"

	"github.com/SAWassermann/DisNETPerf/atlas"
	"github.com/SAWassermann/DisNETPerf/retry"
)

// DefaultInterval is the pause between two polling passes.
const DefaultInterval = 180 * time.Second

// ErrAbort is returned when the status of a job could not be read within
// the retry budget.
var ErrAbort = errors.New("status polling aborted")

// JobStatus is the status of one job as seen in a pass.
type JobStatus struct {
	ID     atlas.MeasurementID
	Status atlas.Status
}

// Metrics describes the polling loop.
type Metrics struct {
	Passes        prometheus.Counter
	StatusQueries *prometheus.CounterVec
	Outstanding   prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Passes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "psbox_poll_passes_total",
			Help: "Status polling passes over the outstanding jobs",
		}),
		StatusQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "psbox_status_queries_total",
			Help: "Job status queries by result",
		}, []string{"result"}),
		Outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "psbox_outstanding_jobs",
			Help: "Jobs still running after the last pass",
		}),
	}
	reg.MustRegister(m.Passes, m.StatusQueries, m.Outstanding)
	return m
}

// Options tune a Poller. Zero values select the defaults.
type Options struct {
	Interval time.Duration
	Status   retry.Policy
	Metrics  *Metrics

	// OnFinish, if set, is called once for every job seen finished.
	OnFinish func(atlas.MeasurementID, atlas.Status)
}

// Poller queries job statuses until none is running.
type Poller struct {
	platform atlas.Platform
	opts     Options
}

func New(platform atlas.Platform, opts Options) *Poller {
	if opts.Interval < 0 {
		opts.Interval = 0
	}
	return &Poller{platform: platform, opts: opts}
}

// Await returns once every job has left the running statuses. Each pass
// queries all unfinished jobs; finished ones are not queried again. An
// error wrapping ErrAbort is returned as soon as one job's status cannot
// be read.
func (p *Poller) Await(ctx context.Context, jobs []atlas.MeasurementID) error {
	ctx, span := tracing.Start(ctx, "poller.Await")
	defer span.End()
	span.SetAttributes(attribute.Int("jobs", len(jobs)))

	log := logger.FromContext(ctx)

	pending := dedupe(jobs)
	for pass := 1; len(pending) > 0; pass++ {
		statuses, err := p.Check(ctx, pending)
		if err != nil {
			return err
		}

		running := pending[:0:0]
		for _, js := range statuses {
			if js.Status.Running() {
				running = append(running, js.ID)
				continue
			}
			if p.opts.OnFinish != nil {
				p.opts.OnFinish(js.ID, js.Status)
			}
		}
		pending = running

		if p.opts.Metrics != nil {
			p.opts.Metrics.Passes.Inc()
			p.opts.Metrics.Outstanding.Set(float64(len(pending)))
		}
		if len(pending) == 0 {
			break
		}

		log.InfoContext(ctx, "waiting for measurements", "pass", pass, "running", len(pending), "wait", p.opts.Interval)

		timer := time.NewTimer(p.opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// Check performs one pass and returns the status of every job in order.
func (p *Poller) Check(ctx context.Context, jobs []atlas.MeasurementID) ([]JobStatus, error) {
	out := make([]JobStatus, 0, len(jobs))
	for _, id := range jobs {
		st, err := retry.Do(ctx, p.opts.Status, "measurement status", func(ctx context.Context) (atlas.Status, error) {
			return p.platform.Status(ctx, id)
		})
		if p.opts.Metrics != nil {
			result := "ok"
			if err != nil {
				result = "error"
			}
			p.opts.Metrics.StatusQueries.WithLabelValues(result).Inc()
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("measurement %s: %w: %w", id, ErrAbort, err)
		}
		out = append(out, JobStatus{ID: id, Status: st})
	}
	return out, nil
}

func dedupe(ids []atlas.MeasurementID) []atlas.MeasurementID {
	seen := make(map[atlas.MeasurementID]bool, len(ids))
	out := make([]atlas.MeasurementID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
