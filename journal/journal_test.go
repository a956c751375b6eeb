package journal

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAWassermann/DisNETPerf/atlas"
	"github.com/SAWassermann/DisNETPerf/psbox"
	"github.com/SAWassermann/DisNETPerf/runid"
)

type backend struct {
	name string
	open func(t *testing.T, dir string) Journal
}

var backends = []backend{
	{"file", func(t *testing.T, dir string) Journal {
		j, err := NewFileJournal(dir)
		require.NoError(t, err)
		return j
	}},
	{"badger", func(t *testing.T, dir string) Journal {
		j, err := OpenBadger(dir, nil)
		require.NoError(t, err)
		return j
	}},
}

func newRunID(t *testing.T) ulid.ULID {
	t.Helper()
	id, err := runid.New(time.Now())
	require.NoError(t, err)
	return id
}

func TestReplayWithoutRun(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			j := b.open(t, t.TempDir())
			defer j.Close()

			_, err := Load(context.Background(), j)
			assert.ErrorIs(t, err, ErrNoJournal)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := netip.MustParseAddr("192.0.2.1")
	b6 := netip.MustParseAddr("2001:db8::1")

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			dir := t.TempDir()
			id := newRunID(t)

			j := b.open(t, dir)
			require.NoError(t, j.Reset(ctx, id))
			require.NoError(t, j.Append(ctx, ProbeRecord{Probe: 10, ASN: 64500}))
			require.NoError(t, j.Append(ctx, ProbeRecord{Probe: 11, ASN: 64501}))
			require.NoError(t, j.Append(ctx, TargetRecord{Target: a, Label: psbox.LabelOK, Jobs: []atlas.MeasurementID{100, 101}}))
			require.NoError(t, j.Close())

			// reopened, as after a crash
			j = b.open(t, dir)
			defer j.Close()
			require.NoError(t, j.Append(ctx, ProbeRecord{Probe: 10, ASN: 1}))
			require.NoError(t, j.Append(ctx, TargetRecord{Target: b6, Label: psbox.LabelNoAS, Jobs: []atlas.MeasurementID{102}}))

			snap, err := Load(ctx, j)
			require.NoError(t, err)
			assert.Equal(t, id, snap.RunID)
			assert.EqualValues(t, 64500, snap.Probes[10], "first AS wins")
			assert.EqualValues(t, 64501, snap.Probes[11])
			assert.Equal(t, []TargetRecord{
				{Target: a, Label: psbox.LabelOK, Jobs: []atlas.MeasurementID{100, 101}},
				{Target: b6, Label: psbox.LabelNoAS, Jobs: []atlas.MeasurementID{102}},
			}, snap.Targets)
		})
	}
}

func TestResetDiscardsPreviousRun(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			j := b.open(t, t.TempDir())
			defer j.Close()

			require.NoError(t, j.Reset(ctx, newRunID(t)))
			require.NoError(t, j.Append(ctx, ProbeRecord{Probe: 1, ASN: 2}))
			require.NoError(t, j.Append(ctx, TargetRecord{
				Target: netip.MustParseAddr("192.0.2.5"), Label: psbox.LabelRandom, Jobs: []atlas.MeasurementID{9},
			}))

			id := newRunID(t)
			require.NoError(t, j.Reset(ctx, id))

			snap, err := Load(ctx, j)
			require.NoError(t, err)
			assert.Equal(t, id, snap.RunID)
			assert.Empty(t, snap.Probes)
			assert.Empty(t, snap.Targets)
		})
	}
}

func TestFileJournalFormat(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	id := newRunID(t)

	j, err := NewFileJournal(dir)
	require.NoError(t, err)
	require.NoError(t, j.Reset(ctx, id))
	require.NoError(t, j.Append(ctx, ProbeRecord{Probe: 10, ASN: 64500}))
	require.NoError(t, j.Append(ctx, TargetRecord{
		Target: netip.MustParseAddr("192.0.2.1"), Label: psbox.LabelOK, Jobs: []atlas.MeasurementID{100, 101},
	}))
	require.NoError(t, j.Close())

	probes, err := os.ReadFile(filepath.Join(dir, probeFileName))
	require.NoError(t, err)
	assert.Equal(t, "10\t64500\n", string(probes))

	targets, err := os.ReadFile(filepath.Join(dir, targetFileName))
	require.NoError(t, err)
	assert.Equal(t, id.String()+"\n100\t101\t192.0.2.1\tOK\n", string(targets))
}

func TestFileJournalTornWrite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	j, err := NewFileJournal(dir)
	require.NoError(t, err)
	require.NoError(t, j.Reset(ctx, newRunID(t)))
	require.NoError(t, j.Append(ctx, TargetRecord{
		Target: netip.MustParseAddr("192.0.2.1"), Label: psbox.LabelOK, Jobs: []atlas.MeasurementID{1},
	}))
	require.NoError(t, j.Close())

	f, err := os.OpenFile(filepath.Join(dir, targetFileName), os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("2\t3\t192.0.2")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	j, err = NewFileJournal(dir)
	require.NoError(t, err)
	defer j.Close()

	snap, err := Load(ctx, j)
	require.NoError(t, err)
	require.Len(t, snap.Targets, 1, "torn line ignored")

	require.NoError(t, j.Append(ctx, TargetRecord{
		Target: netip.MustParseAddr("192.0.2.2"), Label: psbox.LabelRandom, Jobs: []atlas.MeasurementID{4},
	}))
	snap, err = Load(ctx, j)
	require.NoError(t, err)
	require.Len(t, snap.Targets, 2)
	assert.Equal(t, netip.MustParseAddr("192.0.2.2"), snap.Targets[1].Target)
}

func TestFileJournalCorruptLine(t *testing.T) {
	dir := t.TempDir()
	content := newRunID(t).String() + "\nnot-a-record\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, targetFileName), []byte(content), 0o644))

	j, err := NewFileJournal(dir)
	require.NoError(t, err)
	defer j.Close()

	_, err = Load(context.Background(), j)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoJournal)
}

func TestDecodeTarget(t *testing.T) {
	rec, err := decodeTarget("5\t6\t7\t203.0.113.9\tRANDOM")
	require.NoError(t, err)
	assert.Equal(t, []atlas.MeasurementID{5, 6, 7}, rec.Jobs)
	assert.Equal(t, psbox.LabelRandom, rec.Label)

	_, err = decodeTarget("203.0.113.9\tOK")
	assert.Error(t, err)

	_, err = decodeTarget("x\t203.0.113.9\tOK")
	assert.Error(t, err)
}
