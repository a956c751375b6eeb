package selector

import (
	"context"
	"math/rand/v2"
	"net/netip"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAWassermann/DisNETPerf/asdata"
	"github.com/SAWassermann/DisNETPerf/atlas"
	"github.com/SAWassermann/DisNETPerf/fleet"
	"github.com/SAWassermann/DisNETPerf/journal"
	"github.com/SAWassermann/DisNETPerf/psbox"
	"github.com/SAWassermann/DisNETPerf/retry"
	"github.com/SAWassermann/DisNETPerf/runid"
	"github.com/SAWassermann/DisNETPerf/testutil"
)

type fixture struct {
	platform *testutil.Platform
	journal  *journal.FileJournal
	run      *psbox.Run
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

	return &fixture{
		platform: testutil.NewPlatform(),
		journal:  j,
		run:      psbox.NewRun(id),
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
}

func (f *fixture) selector(graph Graph, fl fleet.Fleet) *Selector {
	return New(f.platform, graph, fl, f.journal, Options{
		Lookup:  retry.Policy{Attempts: 3},
		Metrics: f.metrics,
		Rand:    rand.New(rand.NewPCG(7, 9)),
	})
}

func (f *fixture) target(addr string, asn asdata.ASN, mapped bool) *psbox.Target {
	t := f.run.AddTarget(netip.MustParseAddr(addr))
	t.ASN, t.Mapped = asn, mapped
	return t
}

func graphOf(t *testing.T, edges string) *asdata.Graph {
	t.Helper()
	g, err := asdata.NewGraphFromReader(strings.NewReader(edges))
	require.NoError(t, err)
	return g
}

func bigFleet(n int) fleet.Fleet {
	var fl fleet.Fleet
	for i := 1; i <= n; i++ {
		fl = append(fl, fleet.Entry{ID: atlas.ProbeID(10000 + i), ASN: asdata.ASN(64000 + i%17)})
	}
	return fl
}

func TestSelectSameAS(t *testing.T) {
	f := newFixture(t)
	f.platform.AddProbes(100, 10, 11)
	// never read: the AS has its own probes
	graph := asdata.NewGraph(filepath.Join(t.TempDir(), "missing.txt"))

	tgt := f.target("192.0.2.1", 100, true)
	sel, err := f.selector(graph, nil).Select(context.Background(), f.run, tgt)
	require.NoError(t, err)

	assert.Equal(t, psbox.LabelOK, sel.Label)
	assert.Equal(t, []atlas.ProbeID{10, 11}, sel.Probes)
	assert.Equal(t, psbox.StateCandidatesOK, tgt.State)
	assert.Equal(t, psbox.LabelOK, tgt.Label)
	assert.Equal(t, []asdata.ASN{100}, f.platform.ProbeQueries())
}

func TestSelectNeighbours(t *testing.T) {
	f := newFixture(t)
	f.platform.AddProbes(2, 20, 21)
	f.platform.AddProbes(3, 21, 30)
	graph := graphOf(t, "1|2|-1\n3|1|0\n")

	tgt := f.target("192.0.2.1", 1, true)
	sel, err := f.selector(graph, nil).Select(context.Background(), f.run, tgt)
	require.NoError(t, err)

	assert.Equal(t, psbox.LabelOK, sel.Label)
	assert.Equal(t, []atlas.ProbeID{20, 21, 30}, sel.Probes)
	assert.Equal(t, []asdata.ASN{1, 2, 3}, f.platform.ProbeQueries())

	asn, ok := f.run.Probes.Lookup(30)
	assert.True(t, ok)
	assert.EqualValues(t, 3, asn)
	asn, _ = f.run.Probes.Lookup(21)
	assert.EqualValues(t, 2, asn, "first sighting wins")

	snap, err := journal.Load(context.Background(), f.journal)
	require.NoError(t, err)
	assert.Len(t, snap.Probes, 3)
	assert.EqualValues(t, 2, snap.Probes[20])
}

func TestSelectRandomWhenNoProbes(t *testing.T) {
	f := newFixture(t)
	graph := graphOf(t, "1|2|0\n")

	tgt := f.target("192.0.2.1", 1, true)
	sel, err := f.selector(graph, bigFleet(500)).Select(context.Background(), f.run, tgt)
	require.NoError(t, err)

	assert.Equal(t, psbox.LabelRandom, sel.Label)
	assert.Equal(t, psbox.StateCandidatesRandom, tgt.State)
	require.Len(t, sel.Probes, DefaultRandomProbes)

	seen := map[atlas.ProbeID]bool{}
	for _, id := range sel.Probes {
		assert.False(t, seen[id])
		seen[id] = true
		_, ok := f.run.Probes.Lookup(id)
		assert.True(t, ok, "probe %d AS recorded", id)
	}

	ids, cached := f.run.Candidates(1)
	assert.True(t, cached, "empty candidate set is cached")
	assert.Empty(t, ids)

	assert.Equal(t, float64(1), promtestutil.ToFloat64(f.metrics.Selections.WithLabelValues("RANDOM")))
}

func TestSelectUnmapped(t *testing.T) {
	f := newFixture(t)

	tgt := f.target("203.0.113.1", 0, false)
	sel, err := f.selector(graphOf(t, ""), bigFleet(150)).Select(context.Background(), f.run, tgt)
	require.NoError(t, err)

	assert.Equal(t, psbox.LabelNoAS, sel.Label)
	assert.Len(t, sel.Probes, 100)
	assert.Equal(t, psbox.StateCandidatesRandom, tgt.State)
	assert.Empty(t, f.platform.ProbeQueries())
}

func TestSelectCachesPerAS(t *testing.T) {
	f := newFixture(t)
	f.platform.AddProbes(100, 10)
	s := f.selector(graphOf(t, ""), nil)

	for _, addr := range []string{"192.0.2.1", "192.0.2.2"} {
		sel, err := s.Select(context.Background(), f.run, f.target(addr, 100, true))
		require.NoError(t, err)
		assert.Equal(t, []atlas.ProbeID{10}, sel.Probes)
	}

	assert.Equal(t, []asdata.ASN{100}, f.platform.ProbeQueries())
	assert.Equal(t, float64(1), promtestutil.ToFloat64(f.metrics.CacheHits))
}

func TestSelectLookupFailureAbandons(t *testing.T) {
	f := newFixture(t)
	f.platform.ProbesHook = func(int, asdata.ASN) error { return testutil.ErrInjected }

	tgt := f.target("192.0.2.1", 100, true)
	_, err := f.selector(graphOf(t, ""), bigFleet(10)).Select(context.Background(), f.run, tgt)

	assert.ErrorIs(t, err, ErrLookupFailed)
	assert.ErrorIs(t, err, testutil.ErrInjected)
	assert.Equal(t, psbox.StateAbandoned, tgt.State)
	assert.Len(t, f.platform.ProbeQueries(), 3, "lookup retried")

	_, cached := f.run.Candidates(100)
	assert.False(t, cached, "failed lookups are not cached")
}

func TestSelectGraphUnavailable(t *testing.T) {
	f := newFixture(t)
	graph := asdata.NewGraph(filepath.Join(t.TempDir(), "missing.txt"))

	tgt := f.target("192.0.2.1", 100, true)
	_, err := f.selector(graph, bigFleet(10)).Select(context.Background(), f.run, tgt)

	assert.ErrorIs(t, err, asdata.ErrLookupUnavailable)
	assert.NotErrorIs(t, err, ErrLookupFailed)
}

func TestSelectEmptyFleet(t *testing.T) {
	f := newFixture(t)

	tgt := f.target("203.0.113.1", 0, false)
	_, err := f.selector(graphOf(t, ""), nil).Select(context.Background(), f.run, tgt)

	assert.ErrorIs(t, err, ErrEmptyFleet)
	assert.Equal(t, psbox.StateAbandoned, tgt.State)
}
