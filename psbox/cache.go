package psbox

import (
	"maps"
	"sync"

	"github.com/SAWassermann/DisNETPerf/asdata"
	"github.com/SAWassermann/DisNETPerf/atlas"
)

// ProbeASCache remembers the AS of every probe seen during a run. Entries
// are never replaced or removed.
type ProbeASCache struct {
	mu sync.RWMutex
	m  map[atlas.ProbeID]asdata.ASN
}

// NewProbeASCache returns an empty cache.
func NewProbeASCache() *ProbeASCache {
	return &ProbeASCache{m: map[atlas.ProbeID]asdata.ASN{}}
}

// Add records asn for id. It returns false, leaving the cache unchanged,
// if id is already known.
func (c *ProbeASCache) Add(id atlas.ProbeID, asn asdata.ASN) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.m[id]; ok {
		return false
	}
	c.m[id] = asn
	return true
}

// Lookup returns the AS recorded for id.
func (c *ProbeASCache) Lookup(id atlas.ProbeID) (asdata.ASN, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	asn, ok := c.m[id]
	return asn, ok
}

func (c *ProbeASCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// Snapshot returns a copy of the cache contents.
func (c *ProbeASCache) Snapshot() map[atlas.ProbeID]asdata.ASN {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.m)
}
