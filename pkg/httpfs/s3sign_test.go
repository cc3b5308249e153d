package httpfs

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3SignerRewriteHeaders(t *testing.T) {
	fixed := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	signer := &S3Signer{
		AccessKey: "AKIDEXAMPLE",
		SecretKey: "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY",
		Region:    "us-east-1",
		Now:       func() time.Time { return fixed },
	}

	headers := make(http.Header)
	out, err := signer.RewriteHeaders("GET", "https://examplebucket.s3.amazonaws.com/test.txt", headers)
	require.NoError(t, err)

	assert.Equal(t, "20240315T120000Z", out.Get("X-Amz-Date"))
	assert.Equal(t, "examplebucket.s3.amazonaws.com", out.Get("Host"))
	assert.Contains(t, out.Get("Authorization"), "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20240315/us-east-1/s3/aws4_request")
	assert.Contains(t, out.Get("Authorization"), "SignedHeaders=")
	assert.Contains(t, out.Get("Authorization"), "Signature=")
}

func TestS3SignerDeterministic(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	signer := &S3Signer{AccessKey: "AK", SecretKey: "SK", Region: "us-west-2", Now: func() time.Time { return fixed }}

	h1, err := signer.RewriteHeaders("PUT", "https://bucket.s3.amazonaws.com/key", make(http.Header))
	require.NoError(t, err)
	h2, err := signer.RewriteHeaders("PUT", "https://bucket.s3.amazonaws.com/key", make(http.Header))
	require.NoError(t, err)
	assert.Equal(t, h1.Get("Authorization"), h2.Get("Authorization"))
}

func TestCanonicalURI(t *testing.T) {
	u, err := url.Parse("https://example.org")
	require.NoError(t, err)
	assert.Equal(t, "/", canonicalURI(u))

	u, err = url.Parse("https://example.org/a/b%20c")
	require.NoError(t, err)
	assert.Equal(t, "/a/b%20c", canonicalURI(u))
}

func TestCanonicalQuery(t *testing.T) {
	u, err := url.Parse("https://example.org/?b=2&a=1")
	require.NoError(t, err)
	assert.Equal(t, "a=1&b=2", canonicalQuery(u))
}

func TestStripS3AuthzParam(t *testing.T) {
	out, err := StripS3AuthzParam("https://example.org/x?authz=token123&foo=bar")
	require.NoError(t, err)
	assert.Contains(t, out, "foo=bar")
	assert.NotContains(t, out, "authz")
}
