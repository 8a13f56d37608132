package netcore

import "sync"

// MaxNeighbors bounds the per-interface neighbor cache, spec §4.12.
const MaxNeighbors = 32

type neighborEntry struct {
	ip  IPv4
	mac MAC
	set bool
}

// NeighborCache is a per-interface ring of capacity MaxNeighbors: inserts
// on learning, resolves by linear scan, spec §4.12.
type NeighborCache struct {
	mu      sync.Mutex
	entries [MaxNeighbors]neighborEntry
	cursor  int
}

// Learn remembers ip -> mac, overwriting any existing entry for ip, or
// evicting the oldest slot (round-robin) if ip is new and the cache is
// full.
func (c *NeighborCache) Learn(ip IPv4, mac MAC) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		if c.entries[i].set && c.entries[i].ip == ip {
			c.entries[i].mac = mac
			return
		}
	}
	c.entries[c.cursor] = neighborEntry{ip: ip, mac: mac, set: true}
	c.cursor = (c.cursor + 1) % MaxNeighbors
}

// Resolve returns the MAC for ip. 255.255.255.255 always resolves to the
// Ethernet broadcast address, spec §4.12.
func (c *NeighborCache) Resolve(ip IPv4) (MAC, bool) {
	if ip == BroadcastIPv4 {
		return BroadcastMAC, true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.set && e.ip == ip {
			return e.mac, true
		}
	}
	return MAC{}, false
}
