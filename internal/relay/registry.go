// Package relay implements the UDP game-session relay: endpoint liveness
// tracking, datagram classification and broadcast fan-out.
package relay

import (
	"hash/maphash"
	"iter"
	"net/netip"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// DefaultActivityWindow is how long after its last datagram an endpoint is
// considered live.
const DefaultActivityWindow = 2 * time.Minute

var shardSeed = maphash.MakeSeed()

func shardEndpoint(ep netip.AddrPort) uint32 {
	return uint32(maphash.Comparable(shardSeed, ep))
}

// Registry maps client endpoints to the time their most recent datagram was
// seen. Entries are sharded so concurrent writers of different endpoints do
// not contend on a single lock.
//
// Invariant: an endpoint has an entry iff a datagram was received from it and
// it has not since been evicted.
type Registry struct {
	now     func() time.Time
	entries cmap.ConcurrentMap[netip.AddrPort, time.Time]
}

// NewRegistry returns an empty Registry reading time from now.
// A nil now uses time.Now.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		now:     now,
		entries: cmap.NewWithCustomShardingFunction[netip.AddrPort, time.Time](shardEndpoint),
	}
}

// Touch records the current time as the last-seen time of ep.
// An entry is never moved backwards in time, so concurrent touches leave the
// latest timestamp in place.
func (r *Registry) Touch(ep netip.AddrPort) {
	r.entries.Upsert(ep, r.now(), func(exists bool, current, seen time.Time) time.Time {
		if exists && current.After(seen) {
			return current
		}
		return seen
	})
}

// LastSeen returns the last-seen time of ep.
func (r *Registry) LastSeen(ep netip.AddrPort) (time.Time, bool) {
	return r.entries.Get(ep)
}

// Len returns the number of tracked endpoints, live or not.
func (r *Registry) Len() int {
	return r.entries.Count()
}

// SnapshotLiveExcept returns the endpoints seen within window of the call
// time. excluded is left out when it is a valid address; pass the zero
// AddrPort to include every live endpoint.
//
// The sequence is lazy and can be ranged over once. It is a best-effort view:
// touches that land while it is consumed may or may not be reflected.
func (r *Registry) SnapshotLiveExcept(excluded netip.AddrPort, window time.Duration) iter.Seq[netip.AddrPort] {
	cutoff := r.now().Add(-window)
	items := r.entries.IterBuffered()
	return func(yield func(netip.AddrPort) bool) {
		for item := range items {
			if excluded.IsValid() && item.Key == excluded {
				continue
			}
			if item.Val.Before(cutoff) {
				continue
			}
			if !yield(item.Key) {
				return
			}
		}
	}
}

// Evict removes every endpoint whose last-seen time is older than olderThan
// and returns the number removed. An endpoint touched between the scan and
// its removal is kept.
func (r *Registry) Evict(olderThan time.Duration) int {
	cutoff := r.now().Add(-olderThan)
	removed := 0
	for _, ep := range r.entries.Keys() {
		if r.entries.RemoveCb(ep, func(_ netip.AddrPort, seen time.Time, exists bool) bool {
			return exists && seen.Before(cutoff)
		}) {
			removed++
		}
	}
	return removed
}
