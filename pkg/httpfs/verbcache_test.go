package httpfs

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitVerbCacheKey(t *testing.T) {
	u, err := url.Parse("https://example.org:443/foo/bar/baz")
	require.NoError(t, err)

	key, rest := SplitVerbCacheKey(u)
	assert.Equal(t, VerbCacheKey("https://example.org:443/foo"), key)
	assert.Equal(t, "/bar/baz", rest)
}

func TestSplitVerbCacheKeyNoSubPath(t *testing.T) {
	u, err := url.Parse("https://example.org/foo")
	require.NoError(t, err)

	key, rest := SplitVerbCacheKey(u)
	assert.Equal(t, VerbCacheKey("https://example.org/foo"), key)
	assert.Equal(t, "", rest)
}

func TestSplitVerbCacheKeyRoot(t *testing.T) {
	u, err := url.Parse("https://example.org/")
	require.NoError(t, err)

	key, rest := SplitVerbCacheKey(u)
	assert.Equal(t, VerbCacheKey("https://example.org"), key)
	assert.Equal(t, "", rest)
}

func TestVerbBitsetHasAndUnknown(t *testing.T) {
	v := VerbGet | VerbPut
	assert.True(t, v.Has(VerbGet))
	assert.True(t, v.Has(VerbPut))
	assert.False(t, v.Has(VerbDelete))
	assert.False(t, v.IsUnknown())

	assert.True(t, VerbUnknown.IsUnknown())
}

func TestVerbCacheLookupMiss(t *testing.T) {
	c := NewVerbCache(0)
	_, ok := c.Lookup(VerbCacheKey("https://example.org/foo"))
	assert.False(t, ok)
	assert.False(t, c.IsRejected(VerbCacheKey("https://example.org/foo")))
}

func TestVerbCacheInsertAndLookup(t *testing.T) {
	c := NewVerbCache(8)
	key := VerbCacheKey("https://example.org/foo")
	c.Insert(key, VerbGet|VerbHead)

	got, ok := c.Lookup(key)
	require.True(t, ok)
	assert.True(t, got.Has(VerbGet))
	assert.True(t, got.Has(VerbHead))
	assert.False(t, got.Has(VerbPut))
	assert.False(t, c.IsRejected(key))
}

func TestVerbCacheMarkUnknown(t *testing.T) {
	c := NewVerbCache(8)
	key := VerbCacheKey("https://example.org/foo")
	c.MarkUnknown(key)

	got, ok := c.Lookup(key)
	require.True(t, ok)
	assert.True(t, got.IsUnknown())
	assert.True(t, c.IsRejected(key))
}
