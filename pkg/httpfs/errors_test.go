package httpfs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusToKind(t *testing.T) {
	assert.Equal(t, KindNotFound, StatusToKind(404))
	assert.Equal(t, KindNotAuthorized, StatusToKind(401))
	assert.Equal(t, KindConflict, StatusToKind(409))
	assert.Equal(t, KindServerError, StatusToKind(500))
	assert.Equal(t, KindOverQuota, StatusToKind(507))
	assert.Equal(t, KindUnknown, StatusToKind(200))
	assert.Equal(t, KindUnknown, StatusToKind(999))
}

func TestClassifyTransportError(t *testing.T) {
	cases := []struct {
		err  error
		want TransportKind
	}{
		{errors.New("dial tcp: lookup example.org: no such host"), TransportDNSFailure},
		{errors.New("x509: certificate signed by unknown authority"), TransportTLSFailure},
		{errors.New("dial tcp 127.0.0.1:80: connect: connection refused"), TransportConnectionRefused},
		{errors.New("unexpected EOF"), TransportSendRecvFailure},
		{errors.New("context deadline exceeded"), TransportTimedOut},
		{errors.New(`unsupported protocol scheme "ftp"`), TransportUnsupportedProtocol},
		{errors.New("parse \"://bad\": missing protocol scheme"), TransportMalformedURL},
		{errors.New("stopped after 10 redirects"), TransportTooManyRedirects},
		{errors.New("something else entirely"), TransportOther},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ClassifyTransportError(c.err), c.err.Error())
	}
	assert.Equal(t, TransportOther, ClassifyTransportError(nil))
}

func TestTransportToKind(t *testing.T) {
	assert.Equal(t, KindInvalidAddr, TransportToKind(TransportDNSFailure))
	assert.Equal(t, KindRedirectLimit, TransportToKind(TransportTooManyRedirects))
}

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(KindNotFound, "GET", "https://example.org/x", "missing", cause)
	assert.Contains(t, err.Error(), "GET")
	assert.Contains(t, err.Error(), "https://example.org/x")
	assert.Contains(t, err.Error(), "NotFound")
	assert.Contains(t, err.Error(), "missing")
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "NotFound", KindNotFound.String())
	assert.Equal(t, "Unknown", ErrorKind(999).String())
}
