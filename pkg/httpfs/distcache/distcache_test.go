package distcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrdhttp/curlfs/pkg/httpfs"
)

// Lookup/Insert exercise a live Redis connection and are not covered here;
// shardFor and New's validation are pure and don't need one.

func TestNewRequiresAtLeastOneAddr(t *testing.T) {
	_, err := New(nil, time.Minute)
	assert.Error(t, err)
}

func TestNewBuildsOneShardPerAddr(t *testing.T) {
	d, err := New([]string{"127.0.0.1:6379", "127.0.0.1:6380", "127.0.0.1:6381"}, time.Minute)
	require.NoError(t, err)
	assert.Len(t, d.shards, 3)
}

func TestShardForIsStableForSameKey(t *testing.T) {
	d, err := New([]string{"127.0.0.1:6379", "127.0.0.1:6380", "127.0.0.1:6381"}, time.Minute)
	require.NoError(t, err)

	key := httpfs.VerbCacheKey("https://example.org/data")
	first := d.shardFor(string(key))
	for i := 0; i < 10; i++ {
		assert.Same(t, first, d.shardFor(string(key)))
	}
}

func TestShardForDistributesAcrossShards(t *testing.T) {
	d, err := New([]string{"127.0.0.1:6379", "127.0.0.1:6380", "127.0.0.1:6381"}, time.Minute)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		key := httpfs.VerbCacheKey(time.Duration(i).String() + "-key")
		c := d.shardFor(string(key))
		seen[c.Options().Addr] = true
	}
	assert.Greater(t, len(seen), 1)
}
