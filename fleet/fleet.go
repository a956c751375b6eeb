// Package fleet loads the list of connected probes used for random
// candidate selection.
package fleet

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"github.com/SAWassermann/DisNETPerf/asdata"
	"github.com/SAWassermann/DisNETPerf/atlas"
)

// Entry is one probe of the fleet.
type Entry struct {
	ID  atlas.ProbeID
	ASN asdata.ASN
}

// Fleet is the set of connected probes in file order.
type Fleet []Entry

// Load reads a fleet file. Lines are tab separated with the probe id in
// the first field and its AS in the fourth; other fields are ignored.
func Load(path string) (Fleet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fl, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fl, nil
}

// Read parses fleet lines from r. Blank lines are skipped.
func Read(r io.Reader) (Fleet, error) {
	var fl Fleet

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 4 {
			return nil, fmt.Errorf("line %d: expected at least 4 fields, got %d", lineNo, len(fields))
		}
		id, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: probe id: %w", lineNo, err)
		}
		asn, err := asdata.ParseASN(fields[3])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		fl = append(fl, Entry{ID: atlas.ProbeID(id), ASN: asn})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return fl, nil
}

// Sample picks n distinct entries uniformly at random. When the fleet has
// fewer than n entries all of them are returned in random order.
func (fl Fleet) Sample(n int, rng *rand.Rand) []Entry {
	idx := rng.Perm(len(fl))
	if n < len(idx) {
		idx = idx[:n]
	}
	out := make([]Entry, 0, len(idx))
	for _, i := range idx {
		out = append(out, fl[i])
	}
	return out
}

// Write stores probes in the fleet file format: id, address, country
// code and AS, tab separated.
func Write(w io.Writer, probes []atlas.Probe) error {
	bw := bufio.NewWriter(w)
	for _, p := range probes {
		addr := ""
		if p.Address.IsValid() {
			addr = p.Address.String()
		}
		_, err := fmt.Fprintf(bw, "%d\t%s\t%s\t%d\n", p.ID, addr, p.CountryCode, p.ASN)
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}
