package httpfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatusLine(t *testing.T) {
	status, reason, err := ParseStatusLine("HTTP/1.1 200 OK")
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, "OK", reason)

	_, _, err = ParseStatusLine("garbage")
	assert.Error(t, err)

	_, _, err = ParseStatusLine("HTTP/1.1 999 Nonsense")
	assert.Error(t, err)
}

func TestCanonicalHeaderName(t *testing.T) {
	name, err := CanonicalHeaderName("content-length")
	require.NoError(t, err)
	assert.Equal(t, "Content-Length", name)

	name, err = CanonicalHeaderName("ETAG")
	require.NoError(t, err)
	assert.Equal(t, "Etag", name)

	_, err = CanonicalHeaderName("bad name")
	assert.Error(t, err)
}

func TestParseHeaderLineContentLength(t *testing.T) {
	h := NewParsedHeaders()
	require.NoError(t, h.ParseHeaderLine("Content-Length: 1024"))
	assert.Equal(t, int64(1024), h.ContentLength)
}

func TestParseHeaderLineContentRange(t *testing.T) {
	h := NewParsedHeaders()
	require.NoError(t, h.ParseHeaderLine("Content-Range: bytes 100-199/1000"))
	assert.True(t, h.HasRange)
	assert.Equal(t, int64(100), h.RangeStart)
	assert.Equal(t, int64(199), h.RangeEnd)
}

func TestParseHeaderLineMultipart(t *testing.T) {
	h := NewParsedHeaders()
	require.NoError(t, h.ParseHeaderLine(`Content-Type: multipart/byteranges; boundary="THIS_STRING_SEPARATES"`))
	assert.True(t, h.IsMultipart)
	assert.Equal(t, "THIS_STRING_SEPARATES", h.Boundary)
}

func TestParseHeaderLineAllow(t *testing.T) {
	h := NewParsedHeaders()
	require.NoError(t, h.ParseHeaderLine("Allow: GET, HEAD, PUT"))
	assert.True(t, h.Allow["GET"])
	assert.True(t, h.Allow["HEAD"])
	assert.True(t, h.Allow["PUT"])
	assert.False(t, h.Allow["DELETE"])
}

func TestParseHeaderLineEtag(t *testing.T) {
	h := NewParsedHeaders()
	require.NoError(t, h.ParseHeaderLine(`ETag: "abc123"`))
	assert.Equal(t, "abc123", h.ETag)
}

func TestParseHeaderLineDigest(t *testing.T) {
	h := NewParsedHeaders()
	require.NoError(t, h.ParseHeaderLine("Digest: crc32c=AAAAAA==,md5=deadbeefdeadbeefdeadbeefdeadbeef"))
	assert.Equal(t, "AAAAAA==", h.Digests["crc32c"])
	assert.Equal(t, "deadbeefdeadbeefdeadbeefdeadbeef", h.Digests["md5"])
}

func TestParseHeaderLineMalformed(t *testing.T) {
	h := NewParsedHeaders()
	assert.Error(t, h.ParseHeaderLine("no colon here"))
	assert.Error(t, h.ParseHeaderLine("Content-Length: not-a-number"))
}

func TestIsRedirectIsError(t *testing.T) {
	h := NewParsedHeaders()
	h.Status = 302
	assert.True(t, h.IsRedirect())
	assert.False(t, h.IsError())

	h.Status = 404
	assert.False(t, h.IsRedirect())
	assert.True(t, h.IsError())
}

func TestDecodeBase64Digest(t *testing.T) {
	data, err := DecodeBase64Digest("AAAAAA==")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, data)

	_, err = DecodeBase64Digest("not-a-multiple-of-four-plus-one")
	assert.Error(t, err)
}
