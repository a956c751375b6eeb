package asdata

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
)

// Graph answers AS adjacency queries from a CAIDA style relationship file
// with lines of the form "AS1|AS2|relationship". The file is read the
// first time it is needed.
type Graph struct {
	path string

	once  sync.Once
	err   error
	edges map[ASN][]ASN
}

// NewGraph returns a graph backed by the file at path.
func NewGraph(path string) *Graph {
	return &Graph{path: path}
}

// NewGraphFromReader builds an already loaded graph from r.
func NewGraphFromReader(r io.Reader) (*Graph, error) {
	g := &Graph{}
	g.once.Do(func() {
		g.edges, g.err = readEdges(r)
	})
	return g, g.err
}

// Neighbors returns the ASes sharing an edge with asn, sorted ascending.
func (g *Graph) Neighbors(asn ASN) ([]ASN, error) {
	g.once.Do(g.load)
	if g.err != nil {
		return nil, g.err
	}
	return slices.Clone(g.edges[asn]), nil
}

func (g *Graph) load() {
	f, err := os.Open(g.path)
	if err != nil {
		g.err = fmt.Errorf("%w: %w", ErrLookupUnavailable, err)
		return
	}
	defer f.Close()

	g.edges, err = readEdges(f)
	if err != nil {
		g.err = fmt.Errorf("%w: %s: %w", ErrLookupUnavailable, g.path, err)
	}
}

func readEdges(r io.Reader) (map[ASN][]ASN, error) {
	sets := map[ASN]map[ASN]struct{}{}
	add := func(a, b ASN) {
		if sets[a] == nil {
			sets[a] = map[ASN]struct{}{}
		}
		sets[a][b] = struct{}{}
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < 2 {
			continue
		}
		a, err := ParseASN(fields[0])
		if err != nil {
			continue
		}
		b, err := ParseASN(fields[1])
		if err != nil {
			continue
		}
		if a == b {
			continue
		}
		add(a, b)
		add(b, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	edges := make(map[ASN][]ASN, len(sets))
	for asn, set := range sets {
		list := make([]ASN, 0, len(set))
		for n := range set {
			list = append(list, n)
		}
		slices.Sort(list)
		edges[asn] = list
	}
	return edges, nil
}
