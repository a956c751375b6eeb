package dispatch

import (
	"context"
	"net/http"
	"net/netip"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAWassermann/DisNETPerf/atlas"
	"github.com/SAWassermann/DisNETPerf/journal"
	"github.com/SAWassermann/DisNETPerf/psbox"
	"github.com/SAWassermann/DisNETPerf/retry"
	"github.com/SAWassermann/DisNETPerf/runid"
	"github.com/SAWassermann/DisNETPerf/testutil"
)

func probeIDs(n int) []atlas.ProbeID {
	ids := make([]atlas.ProbeID, n)
	for i := range ids {
		ids[i] = atlas.ProbeID(i + 1)
	}
	return ids
}

func TestBatches(t *testing.T) {
	tests := []struct {
		n     int
		sizes []int
	}{
		{0, nil},
		{1, []int{1}},
		{500, []int{500}},
		{501, []int{500, 1}},
		{1200, []int{500, 500, 200}},
	}
	for _, tt := range tests {
		ids := probeIDs(tt.n)
		batches := Batches(ids, 500)

		var sizes []int
		var joined []atlas.ProbeID
		for _, b := range batches {
			assert.LessOrEqual(t, len(b), 500)
			sizes = append(sizes, len(b))
			joined = append(joined, b...)
		}
		assert.Equal(t, tt.sizes, sizes, "n=%d", tt.n)
		assert.Equal(t, len(ids), len(joined))
		if tt.n > 0 {
			assert.Equal(t, ids, joined, "order kept")
		}
	}
}

type fixture struct {
	platform *testutil.Platform
	journal  *journal.FileJournal
	run      *psbox.Run
	target   *psbox.Target
	metrics  *Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	id, err := runid.New(time.Now())
	require.NoError(t, err)

	j, err := journal.NewFileJournal(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	require.NoError(t, j.Reset(context.Background(), id))

	run := psbox.NewRun(id)
	tgt := run.AddTarget(netip.MustParseAddr("192.0.2.1"))
	require.NoError(t, tgt.Transition(psbox.StateCandidatesOK))
	tgt.Label = psbox.LabelOK

	return &fixture{
		platform: testutil.NewPlatform(),
		journal:  j,
		run:      run,
		target:   tgt,
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
}

func (f *fixture) dispatcher() *Dispatcher {
	return New(f.platform, f.journal, Options{
		Create:  retry.Policy{Attempts: 5},
		Metrics: f.metrics,
	})
}

func TestDispatch(t *testing.T) {
	f := newFixture(t)

	ids, err := f.dispatcher().Dispatch(context.Background(), f.run, f.target, probeIDs(1200))
	require.NoError(t, err)
	require.Len(t, ids, 3)

	assert.Equal(t, psbox.StateDispatched, f.target.State)
	assert.Equal(t, ids, f.target.Jobs())
	assert.Equal(t, ids, f.run.State.Jobs(f.target.Addr))

	for i, want := range []int{500, 500, 200} {
		req, ok := f.platform.Request(ids[i])
		require.True(t, ok)
		assert.Len(t, req.Probes, want)
		assert.Equal(t, DefaultPackets, req.Packets)
		assert.Equal(t, f.target.Addr, req.Target)
		assert.Equal(t, "Ping target=192.0.2.1", req.Description)
	}

	snap, err := journal.Load(context.Background(), f.journal)
	require.NoError(t, err)
	require.Len(t, snap.Targets, 1)
	assert.Equal(t, ids, snap.Targets[0].Jobs)
	assert.Equal(t, psbox.LabelOK, snap.Targets[0].Label)

	assert.Equal(t, float64(3), promtestutil.ToFloat64(f.metrics.JobsCreated))
}

func TestDispatchRetries(t *testing.T) {
	f := newFixture(t)
	f.platform.CreateHook = func(n int, _ atlas.PingRequest) error {
		if n <= 4 {
			return testutil.ErrInjected
		}
		return nil
	}

	ids, err := f.dispatcher().Dispatch(context.Background(), f.run, f.target, probeIDs(10))
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	assert.Equal(t, 5, f.platform.CreateCalls())
}

func TestDispatchAbandons(t *testing.T) {
	f := newFixture(t)
	// the first batch succeeds, the second never does
	f.platform.CreateHook = func(n int, _ atlas.PingRequest) error {
		if n == 1 {
			return nil
		}
		return testutil.ErrInjected
	}

	ids, err := f.dispatcher().Dispatch(context.Background(), f.run, f.target, probeIDs(700))
	assert.ErrorIs(t, err, ErrAbandoned)
	assert.ErrorIs(t, err, testutil.ErrInjected)
	assert.Nil(t, ids)
	assert.Equal(t, 6, f.platform.CreateCalls())

	assert.Equal(t, psbox.StateAbandoned, f.target.State)
	assert.Empty(t, f.target.Jobs())
	assert.Empty(t, f.run.State.Outstanding(), "partial jobs are not tracked")

	snap, err := journal.Load(context.Background(), f.journal)
	require.NoError(t, err)
	assert.Empty(t, snap.Targets, "nothing journaled for an abandoned target")
	assert.Equal(t, float64(1), promtestutil.ToFloat64(f.metrics.TargetsAbandoned))
}

func TestDispatchPermanentError(t *testing.T) {
	f := newFixture(t)
	f.platform.CreateHook = func(int, atlas.PingRequest) error {
		return &atlas.APIError{StatusCode: http.StatusForbidden}
	}

	_, err := f.dispatcher().Dispatch(context.Background(), f.run, f.target, probeIDs(3))
	assert.ErrorIs(t, err, ErrAbandoned)
	assert.Equal(t, 1, f.platform.CreateCalls())
}

func TestDispatchCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.platform.CreateHook = func(int, atlas.PingRequest) error {
		cancel()
		return testutil.ErrInjected
	}

	d := New(f.platform, f.journal, Options{Create: retry.Policy{Attempts: 5, Delay: time.Hour}})
	_, err := d.Dispatch(ctx, f.run, f.target, probeIDs(3))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrAbandoned)
	assert.Equal(t, psbox.StateCandidatesOK, f.target.State)
}
