package fleet

import (
	"bytes"
	"math/rand/v2"
	"net/netip"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAWassermann/DisNETPerf/asdata"
	"github.com/SAWassermann/DisNETPerf/atlas"
)

func TestRead(t *testing.T) {
	data := "1\t192.0.2.1\tNL\t3333\n\n2\t\tDE\t15169\r\n"
	fl, err := Read(strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, Fleet{{ID: 1, ASN: 3333}, {ID: 2, ASN: 15169}}, fl)

	_, err = Read(strings.NewReader("1\t192.0.2.1\n"))
	assert.Error(t, err)

	_, err = Read(strings.NewReader("x\t\t\t1\n"))
	assert.Error(t, err)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}

func TestSample(t *testing.T) {
	var fl Fleet
	for i := 1; i <= 500; i++ {
		fl = append(fl, Entry{ID: atlas.ProbeID(i), ASN: asdata.ASN(i % 7)})
	}
	rng := rand.New(rand.NewPCG(1, 2))

	got := fl.Sample(100, rng)
	assert.Len(t, got, 100)

	seen := map[atlas.ProbeID]bool{}
	for _, e := range got {
		assert.False(t, seen[e.ID], "duplicate probe %d", e.ID)
		seen[e.ID] = true
	}

	small := fl[:10].Sample(100, rng)
	assert.Len(t, small, 10)
}

func TestWriteRoundTrip(t *testing.T) {
	probes := []atlas.Probe{
		{ID: 10, Address: netip.MustParseAddr("192.0.2.10"), ASN: 64500, CountryCode: "FR"},
		{ID: 11, ASN: 64501},
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, probes))

	fl, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, Fleet{{ID: 10, ASN: 64500}, {ID: 11, ASN: 64501}}, fl)
}
