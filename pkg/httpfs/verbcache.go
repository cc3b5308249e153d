package httpfs

import (
	"net/url"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// VerbBitset is a bitset of HTTP verbs an endpoint is known to admit, learned
// via OPTIONS. A nil *or* zero bitset observed through the cache's Unknown
// marker means "OPTIONS was rejected; do not retry advanced verbs" (spec §4.2).
type VerbBitset uint32

const (
	VerbGet VerbBitset = 1 << iota
	VerbPut
	VerbDelete
	VerbHead
	VerbPropfind
	VerbMkcol
	VerbOptions
	VerbCopy

	// VerbUnknown is the special "do not retry advanced verbs" marker; it is
	// never OR'd with any real verb bit.
	VerbUnknown VerbBitset = 1 << 31
)

func (v VerbBitset) Has(bit VerbBitset) bool { return v&bit != 0 }
func (v VerbBitset) IsUnknown() bool         { return v&VerbUnknown != 0 }

// VerbCacheKey is "scheme://host:port/<first-path-segment>" per spec's
// GLOSSARY entry for "Verb cache key".
type VerbCacheKey string

// SplitVerbCacheKey extracts the verb cache key from u and returns it
// together with the remainder of the URL, which the caller still needs to
// issue the original request (spec §4.2: "a mutating helper simultaneously
// returns the rest of the URL").
func SplitVerbCacheKey(u *url.URL) (key VerbCacheKey, rest string) {
	path := u.Path
	firstSegment := ""
	trimmed := strings.TrimPrefix(path, "/")
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		firstSegment = trimmed[:idx]
		rest = trimmed[idx:]
	} else {
		firstSegment = trimmed
		rest = ""
	}
	k := u.Scheme + "://" + u.Host
	if firstSegment != "" {
		k += "/" + firstSegment
	}
	return VerbCacheKey(k), rest
}

// VerbCache is the process-wide, reader-writer-locked memoization of which
// verbs an endpoint admits (spec §2.2, §4.2). A bloom filter of keys known to
// have an Unknown entry sits in front of the map lookup so a miss for an
// endpoint that has never answered OPTIONS doesn't need the read lock on the
// hot path; it is purely an optimization. Keys are only ever added to the
// filter, never removed, so a false positive or a key later re-inserted with
// a real bitset only ever costs an extra map probe.
type VerbCache struct {
	mu       sync.RWMutex
	entries  map[VerbCacheKey]VerbBitset
	rejected *bloom.BloomFilter
}

// NewVerbCache returns an empty VerbCache sized for expectedKeys distinct
// origins.
func NewVerbCache(expectedKeys uint) *VerbCache {
	if expectedKeys == 0 {
		expectedKeys = 1024
	}
	return &VerbCache{
		entries:  make(map[VerbCacheKey]VerbBitset),
		rejected: bloom.NewWithEstimates(expectedKeys, 0.01),
	}
}

// Lookup returns the cached bitset for key, and whether it was present.
func (c *VerbCache) Lookup(key VerbCacheKey) (VerbBitset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// IsRejected reports whether key is known to reject OPTIONS (an Unknown
// marker was previously inserted for it). The bloom filter makes the common
// case -- an endpoint that has never been asked -- a single hash-table-free
// check instead of a read-locked map probe.
func (c *VerbCache) IsRejected(key VerbCacheKey) bool {
	if !c.rejected.TestString(string(key)) {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return ok && v.IsUnknown()
}

// Insert records the allowed-verb bitset learned for key via OPTIONS.
func (c *VerbCache) Insert(key VerbCacheKey, bitset VerbBitset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = bitset
	if bitset.IsUnknown() {
		c.rejected.AddString(string(key))
	}
}

// MarkUnknown records that OPTIONS failed for key: advanced verbs must not
// be retried against it (spec §4.6 "OPTIONS op specifics").
func (c *VerbCache) MarkUnknown(key VerbCacheKey) {
	c.Insert(key, VerbUnknown)
}
