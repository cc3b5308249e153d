package httpfs

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassthroughHeaderCallout(t *testing.T) {
	h := make(http.Header)
	h.Set("X-Foo", "bar")
	out, err := PassthroughHeaderCallout{}.RewriteHeaders("GET", "https://example.org/x", h)
	require.NoError(t, err)
	assert.Equal(t, "bar", out.Get("X-Foo"))
}

type fakeCallout struct {
	conn net.Conn
	err  error
}

func (f *fakeCallout) BeginCallout(ctx context.Context, network, addr string) (<-chan struct{}, error) {
	ready := make(chan struct{})
	close(ready)
	return ready, nil
}

func (f *fakeCallout) FinishCallout(ctx context.Context) (net.Conn, error) {
	return f.conn, f.err
}

func TestDialContextWithCalloutSuccess(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	callout := &fakeCallout{conn: client}

	dial := DialContextWithCallout(callout)
	conn, err := dial(context.Background(), "tcp", "example.org:443")
	require.NoError(t, err)
	assert.Same(t, client, conn)
}

func TestDialContextWithCalloutContextCancelled(t *testing.T) {
	blocking := &blockingCallout{}
	dial := DialContextWithCallout(blocking)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := dial(ctx, "tcp", "example.org:443")
	assert.Error(t, err)
}

type blockingCallout struct{}

func (blockingCallout) BeginCallout(ctx context.Context, network, addr string) (<-chan struct{}, error) {
	return make(chan struct{}), nil
}

func (blockingCallout) FinishCallout(ctx context.Context) (net.Conn, error) {
	return nil, nil
}
