package httpfs

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// S3Signer is the HeaderCallout implementation that computes and appends an
// Authorization header per spec §4.10/§6's fixed AWS SigV4 wire format.
type S3Signer struct {
	AccessKey string
	SecretKey string
	Region    string

	// Now is injectable for deterministic tests; defaults to time.Now.
	Now func() time.Time
}

func (s *S3Signer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// RewriteHeaders implements HeaderCallout.
func (s *S3Signer) RewriteHeaders(verb, rawurl string, headers http.Header) (http.Header, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("s3 signer: parse url: %w", err)
	}

	now := s.now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")

	out := headers.Clone()
	if out == nil {
		out = make(http.Header)
	}
	out.Set("X-Amz-Date", amzDate)
	if out.Get("Host") == "" {
		out.Set("Host", u.Host)
	}

	payloadHash := out.Get("X-Amz-Content-Sha256")
	if payloadHash == "" {
		payloadHash = "UNSIGNED-PAYLOAD"
	}

	signedHeaderNames, canonicalHeaders := canonicalizeHeaders(out)
	canonicalRequest := strings.Join([]string{
		strings.ToUpper(verb),
		canonicalURI(u),
		canonicalQuery(u),
		canonicalHeaders,
		signedHeaderNames,
		payloadHash,
	}, "\n")

	scope := fmt.Sprintf("%s/%s/s3/aws4_request", dateStamp, s.Region)
	hashed := sha256.Sum256([]byte(canonicalRequest))
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		hex.EncodeToString(hashed[:]),
	}, "\n")

	signingKey := s.deriveSigningKey(dateStamp)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	auth := fmt.Sprintf("AWS4-HMAC-SHA256 Credential=%s/%s,SignedHeaders=%s,Signature=%s",
		s.AccessKey, scope, signedHeaderNames, signature)
	out.Set("Authorization", auth)
	return out, nil
}

func (s *S3Signer) deriveSigningKey(dateStamp string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+s.SecretKey), dateStamp)
	kRegion := hmacSHA256(kDate, s.Region)
	kService := hmacSHA256(kRegion, "s3")
	return hmacSHA256(kService, "aws4_request")
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func canonicalURI(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		return "/"
	}
	return p
}

func canonicalQuery(u *url.URL) string {
	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		vals := append([]string(nil), q[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(parts, "&")
}

func canonicalizeHeaders(h http.Header) (signedHeaderNames, canonicalHeaders string) {
	names := make([]string, 0, len(h))
	for k := range h {
		names = append(names, strings.ToLower(k))
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		values := h.Values(http.CanonicalHeaderKey(name))
		trimmed := make([]string, len(values))
		for i, v := range values {
			trimmed[i] = strings.TrimSpace(v)
		}
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(strings.Join(trimmed, ","))
		b.WriteByte('\n')
	}
	return strings.Join(names, ";"), b.String()
}

// StripS3AuthzParam removes the "authz=<token>" query parameter from a
// URL before signing, per spec §6 ("stripped by the object-name cleaner
// before signing").
func StripS3AuthzParam(rawurl string) (string, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Del("authz")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
