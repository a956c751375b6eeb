// Package asdata holds the autonomous system lookups used to shortlist
// probes: the address range table that maps targets to their AS and the
// AS adjacency graph used to widen the search to neighbours.
package asdata

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrLookupUnavailable is returned when the range or adjacency data
// cannot be read.
var ErrLookupUnavailable = errors.New("as lookup unavailable")

// ASN is an autonomous system number.
type ASN uint32

func (a ASN) String() string {
	return strconv.FormatUint(uint64(a), 10)
}

// ParseASN accepts "15169", "AS15169" and "as15169".
func ParseASN(s string) (ASN, error) {
	s = strings.TrimSpace(s)
	if len(s) > 2 && strings.EqualFold(s[:2], "as") {
		s = s[2:]
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid ASN %q: %w", s, err)
	}
	return ASN(n), nil
}
