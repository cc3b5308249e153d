package httpfs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePropfindResponseFS = `<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:">
  <D:response>
    <D:href>/data/</D:href>
    <D:propstat><D:prop><D:resourcetype><D:collection/></D:resourcetype></D:prop></D:propstat>
  </D:response>
  <D:response>
    <D:href>/data/file1.txt</D:href>
    <D:propstat><D:prop><D:getcontentlength>42</D:getcontentlength></D:prop></D:propstat>
  </D:response>
</D:multistatus>`

func TestNewFilesystemClearsPathAndQuery(t *testing.T) {
	factory := newTestFactory(t)
	fs, err := NewFilesystem(factory, "https://example.org/some/path?x=1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.org", fs.baseURL)
}

func TestFilesystemDirList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "PROPFIND", r.Method)
		assert.Equal(t, "1", r.Header.Get("Depth"))
		w.WriteHeader(http.StatusMultiStatus)
		w.Write([]byte(samplePropfindResponseFS))
	}))
	defer srv.Close()

	factory := newTestFactory(t)
	fs, err := NewFilesystem(factory, srv.URL)
	require.NoError(t, err)

	entries, err := fs.DirList(context.Background(), "/data")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "file1.txt", entries[0].Name)
	assert.Equal(t, int64(42), entries[0].Size)
}

func TestFilesystemMkDir(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	factory := newTestFactory(t)
	fs, err := NewFilesystem(factory, srv.URL)
	require.NoError(t, err)

	require.NoError(t, fs.MkDir(context.Background(), "/newdir", false))
	assert.Equal(t, "MKCOL", gotMethod)
}

func TestFilesystemRmAndRmDir(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "DELETE", r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	factory := newTestFactory(t)
	fs, err := NewFilesystem(factory, srv.URL)
	require.NoError(t, err)

	require.NoError(t, fs.Rm(context.Background(), "/file"))
	require.NoError(t, fs.RmDir(context.Background(), "/dir"))
}

func TestFilesystemStat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "HEAD", r.Method)
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	factory := newTestFactory(t)
	fs, err := NewFilesystem(factory, srv.URL)
	require.NoError(t, err)

	info, err := fs.Stat(context.Background(), "/file")
	require.NoError(t, err)
	assert.Equal(t, int64(100), info.Size)
	assert.False(t, info.IsDir)
}

func TestFilesystemStatDirectoryBySuffix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	factory := newTestFactory(t)
	fs, err := NewFilesystem(factory, srv.URL)
	require.NoError(t, err)

	info, err := fs.Stat(context.Background(), "/dir/")
	require.NoError(t, err)
	assert.True(t, info.IsDir)
}

func TestFilesystemQueryChecksum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "crc32c", r.Header.Get("Want-Digest"))
		w.Header().Set("Digest", "crc32c=AAAAAA==")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	factory := newTestFactory(t)
	fs, err := NewFilesystem(factory, srv.URL)
	require.NoError(t, err)

	result, err := fs.QueryChecksum(context.Background(), "/file", "crc32c")
	require.NoError(t, err)
	assert.Equal(t, "crc32c AAAAAA==", result)
}

func TestFilesystemQueryChecksumMissingDigest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	factory := newTestFactory(t)
	fs, err := NewFilesystem(factory, srv.URL)
	require.NoError(t, err)

	_, err = fs.QueryChecksum(context.Background(), "/file", "crc32c")
	assert.Error(t, err)
}

func TestFilesystemLocate(t *testing.T) {
	factory := newTestFactory(t)
	fs, err := NewFilesystem(factory, "https://example.org")
	require.NoError(t, err)

	loc, err := fs.Locate(context.Background(), "/a/b")
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/a/b", loc)
}

func TestFilesystemSubHandleForSameKeyReused(t *testing.T) {
	factory := newTestFactory(t)
	fs, err := NewFilesystem(factory, "https://example.org")
	require.NoError(t, err)

	sub1, err := fs.subHandleFor("https://other.org/x")
	require.NoError(t, err)
	sub2, err := fs.subHandleFor("https://other.org/y")
	require.NoError(t, err)
	assert.Same(t, sub1, sub2)
}

func TestFilesystemCalloutsForSameHostUsesOwn(t *testing.T) {
	factory := newTestFactory(t)
	fs, err := NewFilesystem(factory, "https://example.org")
	require.NoError(t, err)

	hc, cc := fs.calloutsFor("https://example.org/a/b")
	assert.Equal(t, fs.headerCallout, hc)
	assert.Equal(t, fs.connCallout, cc)
}

func TestFilesystemCalloutsForDifferentHostUsesSubHandle(t *testing.T) {
	factory := newTestFactory(t)
	fs, err := NewFilesystem(factory, "https://example.org")
	require.NoError(t, err)

	hc, _ := fs.calloutsFor("https://other.org/a/b")
	sub, err := fs.subHandleFor("https://other.org/a/b")
	require.NoError(t, err)
	assert.Equal(t, sub.headerCallout, hc)
}

func TestFilesystemGetSetProperty(t *testing.T) {
	factory := newTestFactory(t)
	fs, err := NewFilesystem(factory, "https://example.org")
	require.NoError(t, err)

	fs.SetProperty("foo", "bar")
	v, ok := fs.GetProperty("foo")
	require.True(t, ok)
	assert.Equal(t, "bar", v)
}
