package httpfs

import (
	"context"
	"net"
	"net/http"
)

// ConnectionCallout is the optional pluggable socket provider of spec §2.5/
// §4.5: a two-step (begin, finish) contract producing a ready-connected
// connection. BeginCallout is started synchronously and returns a channel
// that is closed when the dial is ready for FinishCallout to collect;
// closing the channel is this module's Go-native stand-in for "a file
// descriptor that becomes readable" since Go has no user-facing raw-fd wait
// primitive for arbitrary readiness events.
type ConnectionCallout interface {
	// BeginCallout starts dialing network/addr out-of-band and returns a
	// channel that closes once FinishCallout is ready to be called.
	BeginCallout(ctx context.Context, network, addr string) (ready <-chan struct{}, err error)

	// FinishCallout returns the connected net.Conn, or an error if the dial
	// failed.
	FinishCallout(ctx context.Context) (net.Conn, error)
}

// HeaderCallout lets an outer layer (notably an S3 signer) rewrite outgoing
// headers per verb+URL, per spec §2.10/§4.10. The default implementation
// passes headers through unchanged.
type HeaderCallout interface {
	RewriteHeaders(verb, url string, headers http.Header) (http.Header, error)
}

// PassthroughHeaderCallout is the default HeaderCallout: it returns headers
// unmodified.
type PassthroughHeaderCallout struct{}

func (PassthroughHeaderCallout) RewriteHeaders(verb, url string, headers http.Header) (http.Header, error) {
	return headers, nil
}

// DialContextWithCallout adapts a ConnectionCallout into an
// http.Transport.DialContext hook: it runs BeginCallout, waits for readiness
// (or ctx cancellation), then FinishCallout, giving the worker's retry-once
// policy (spec §4.5 "tried at most once, triggered on CouldNotConnect") a
// single integration point.
func DialContextWithCallout(callout ConnectionCallout) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		ready, err := callout.BeginCallout(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return callout.FinishCallout(ctx)
	}
}
