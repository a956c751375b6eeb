package asdata

import (
	"encoding/binary"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"slices"
	"strconv"
	"strings"

	"go4.org/netipx"
)

// Range is one row of the address range table.
type Range struct {
	netipx.IPRange
	ASN ASN
}

// RangeTable is a list of non-overlapping ranges sorted by start address.
type RangeTable []Range

// Mapping is the result of resolving a set of targets. Targets without an
// entry are unmapped.
type Mapping map[netip.Addr]ASN

// Lookup returns the AS of addr; ok is false if addr is unmapped.
func (m Mapping) Lookup(addr netip.Addr) (ASN, bool) {
	asn, ok := m[addr]
	return asn, ok
}

// LoadRanges reads a range table file. Each line has the form
//
//	<low-int>,<high-int>,"AS<number> <name>"
//
// An integer bound is an IPv4 address; IPv6 ranges give both bounds as
// textual addresses.
func LoadRanges(path string) (RangeTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLookupUnavailable, err)
	}
	defer f.Close()

	rt, err := ReadRanges(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rt, nil
}

// ReadRanges parses range table rows from r. The result is sorted by start
// address.
func ReadRanges(r io.Reader) (RangeTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	var rt RangeTable
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 3 {
			continue
		}
		line, _ := cr.FieldPos(0)

		low, err := parseBound(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		high, err := parseBound(rec[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ipr := netipx.IPRangeFrom(low, high)
		if !ipr.IsValid() {
			return nil, fmt.Errorf("line %d: invalid range %s-%s", line, low, high)
		}

		// "AS15169 Google Inc." -> 15169
		name := strings.Fields(rec[2])
		if len(name) == 0 {
			return nil, fmt.Errorf("line %d: missing AS", line)
		}
		asn, err := ParseASN(name[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		rt = append(rt, Range{IPRange: ipr, ASN: asn})
	}

	slices.SortStableFunc(rt, func(a, b Range) int {
		return a.From().Compare(b.From())
	})

	return rt, nil
}

// parseBound reads one range bound. Integers are IPv4 only, so a small
// number is never taken for an IPv6 address.
func parseBound(s string) (netip.Addr, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(n))
		return netip.AddrFrom4(b), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid range bound %q", s)
	}
	return addr.Unmap(), nil
}

// Resolve maps each target to the AS of the range containing it.
//
// Targets are visited in ascending address order while a single cursor
// walks the table forward; the cursor is never rewound, so resolving N
// targets costs at most N+M range comparisons for a table of M ranges.
func (rt RangeTable) Resolve(targets []netip.Addr) Mapping {
	m, _ := rt.resolve(targets)
	return m
}

// resolve also returns the number of range comparisons made.
func (rt RangeTable) resolve(targets []netip.Addr) (Mapping, int) {
	sorted := slices.Clone(targets)
	slices.SortFunc(sorted, netip.Addr.Compare)
	sorted = slices.Compact(sorted)

	m := make(Mapping, len(sorted))
	cursor := 0
	comparisons := 0

	for _, addr := range sorted {
		for cursor < len(rt) {
			comparisons++
			r := rt[cursor]
			if r.To().Less(addr) {
				cursor++
				continue
			}
			if r.Contains(addr) {
				m[addr] = r.ASN
			}
			// otherwise the range starts above addr: unmapped
			break
		}
	}

	return m, comparisons
}
