package asdata

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go4.org/netipx"
)

func addrFromInt(n uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
}

func table(rows ...[3]uint32) RangeTable {
	rt := RangeTable{}
	for _, r := range rows {
		rt = append(rt, Range{
			IPRange: netipx.IPRangeFrom(addrFromInt(r[0]), addrFromInt(r[1])),
			ASN:     ASN(r[2]),
		})
	}
	return rt
}

func TestResolve(t *testing.T) {
	rt := table([3]uint32{100, 200, 1}, [3]uint32{300, 400, 2})

	m := rt.Resolve([]netip.Addr{addrFromInt(350), addrFromInt(150), addrFromInt(250)})

	asn, ok := m.Lookup(addrFromInt(150))
	assert.True(t, ok)
	assert.Equal(t, ASN(1), asn)

	_, ok = m.Lookup(addrFromInt(250))
	assert.False(t, ok, "250 falls between ranges")

	asn, ok = m.Lookup(addrFromInt(350))
	assert.True(t, ok)
	assert.Equal(t, ASN(2), asn)
}

func TestResolveBounds(t *testing.T) {
	rt := table([3]uint32{100, 200, 1}, [3]uint32{201, 201, 7})

	m := rt.Resolve([]netip.Addr{
		addrFromInt(99), addrFromInt(100), addrFromInt(200),
		addrFromInt(201), addrFromInt(202),
	})

	_, ok := m.Lookup(addrFromInt(99))
	assert.False(t, ok)
	assert.Equal(t, ASN(1), m[addrFromInt(100)])
	assert.Equal(t, ASN(1), m[addrFromInt(200)])
	assert.Equal(t, ASN(7), m[addrFromInt(201)])
	_, ok = m.Lookup(addrFromInt(202))
	assert.False(t, ok, "past the last range")
}

func TestResolveComparisonBound(t *testing.T) {
	var rows [][3]uint32
	for i := uint32(0); i < 50; i++ {
		rows = append(rows, [3]uint32{i * 1000, i*1000 + 499, i + 1})
	}
	rt := table(rows...)

	var targets []netip.Addr
	for i := uint32(0); i < 80; i++ {
		targets = append(targets, addrFromInt(i*613))
	}

	m, comparisons := rt.resolve(targets)
	assert.LessOrEqual(t, comparisons, len(targets)+len(rt))

	// every answer agrees with a linear scan
	for _, addr := range targets {
		var want ASN
		found := false
		for _, r := range rt {
			if r.Contains(addr) {
				want, found = r.ASN, true
				break
			}
		}
		got, ok := m.Lookup(addr)
		assert.Equal(t, found, ok, "addr %s", addr)
		if found {
			assert.Equal(t, want, got, "addr %s", addr)
		}
	}
}

func TestResolveMixedFamilies(t *testing.T) {
	rt := RangeTable{
		{IPRange: netipx.MustParseIPRange("10.0.0.0-10.0.0.255"), ASN: 10},
		{IPRange: netipx.MustParseIPRange("2001:db8::-2001:db8::ffff"), ASN: 20},
	}
	v4 := netip.MustParseAddr("10.0.0.7")
	v6 := netip.MustParseAddr("2001:db8::1")

	m := rt.Resolve([]netip.Addr{v6, v4})
	assert.Equal(t, ASN(10), m[v4])
	assert.Equal(t, ASN(20), m[v6])
}

func TestReadRanges(t *testing.T) {
	data := strings.Join([]string{
		`16777472,16778239,"AS4134 CHINANET-BACKBONE"`,
		`16777216,16777471,"AS15169 Google Inc."`,
		`16778240,16779263,"AS9737 TOT Public Company, Limited"`,
		``,
	}, "\n")

	rt, err := ReadRanges(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, rt, 3)

	assert.Equal(t, "1.0.0.0", rt[0].From().String())
	assert.Equal(t, "1.0.0.255", rt[0].To().String())
	assert.Equal(t, ASN(15169), rt[0].ASN)
	assert.Equal(t, ASN(4134), rt[1].ASN)
	assert.Equal(t, ASN(9737), rt[2].ASN)

	m := rt.Resolve([]netip.Addr{netip.MustParseAddr("1.0.1.1")})
	assert.Equal(t, ASN(4134), m[netip.MustParseAddr("1.0.1.1")])
}

func TestReadRangesErrors(t *testing.T) {
	_, err := ReadRanges(strings.NewReader(`abc,200,"AS1 x"`))
	assert.Error(t, err)

	_, err = ReadRanges(strings.NewReader(`300,200,"AS1 x"`))
	assert.Error(t, err, "inverted range")

	_, err = ReadRanges(strings.NewReader(`100,200,"NOPE x"`))
	assert.Error(t, err)

	_, err = ReadRanges(strings.NewReader(`4294967296,4294967300,"AS1 x"`))
	assert.Error(t, err, "integer bounds are IPv4 only")

	_, err = ReadRanges(strings.NewReader(`16777216,::ff,"AS1 x"`))
	assert.Error(t, err, "mixed families")
}

func TestReadRangesIPv6(t *testing.T) {
	data := strings.Join([]string{
		`::1,::ff,"AS64510 Loopback Six"`,
		`1,255,"AS64511 Low Four"`,
		`2001:db8::,2001:db8::ffff,"AS64512 Documentation"`,
	}, "\n")

	rt, err := ReadRanges(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, rt, 3)

	m := rt.Resolve([]netip.Addr{
		netip.MustParseAddr("::10"),
		netip.MustParseAddr("0.0.0.16"),
		netip.MustParseAddr("2001:db8::1"),
	})
	assert.Equal(t, ASN(64510), m[netip.MustParseAddr("::10")])
	assert.Equal(t, ASN(64511), m[netip.MustParseAddr("0.0.0.16")])
	assert.Equal(t, ASN(64512), m[netip.MustParseAddr("2001:db8::1")])
}

func TestLoadRangesUnavailable(t *testing.T) {
	_, err := LoadRanges(filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorIs(t, err, ErrLookupUnavailable)
}

func TestParseASN(t *testing.T) {
	for _, s := range []string{"15169", "AS15169", "as15169", " AS15169 "} {
		asn, err := ParseASN(s)
		require.NoError(t, err, s)
		assert.Equal(t, ASN(15169), asn)
	}
	_, err := ParseASN("ASX")
	assert.Error(t, err)
}

func TestGraphNeighbors(t *testing.T) {
	data := `# source:topology|BGP
# comment line

1|11537|0
11537|2|-1
3|1|-1
garbage
x|y|0
1|11537|0
`
	g, err := NewGraphFromReader(strings.NewReader(data))
	require.NoError(t, err)

	n, err := g.Neighbors(1)
	require.NoError(t, err)
	assert.Equal(t, []ASN{3, 11537}, n)

	n, err = g.Neighbors(11537)
	require.NoError(t, err)
	assert.Equal(t, []ASN{1, 2}, n)

	n, err = g.Neighbors(99)
	require.NoError(t, err)
	assert.Empty(t, n)
}

func TestGraphLazyLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neighbours.txt")
	g := NewGraph(path)

	// the file is only read on first use
	require.NoError(t, os.WriteFile(path, []byte("5|6|0\n"), 0o644))

	n, err := g.Neighbors(5)
	require.NoError(t, err)
	assert.Equal(t, []ASN{6}, n)

	missing := NewGraph(filepath.Join(t.TempDir(), "missing.txt"))
	_, err = missing.Neighbors(5)
	assert.ErrorIs(t, err, ErrLookupUnavailable)
}
