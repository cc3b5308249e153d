package httpfs

import (
	"fmt"
	"sync"
)

// pendingWrite is one queued host Write, per spec §3 ("pending-write deque
// {buffer_or_ownedbuffer, callback}").
type pendingWrite struct {
	buf      []byte
	callback func(err error)
}

// putSource is the PUT pipeline state machine of spec §4.8.4: a single
// PutResponseHandler-equivalent guarding access to the in-flight upload,
// draining queued writes one at a time as the streaming request body asks
// for more.
type putSource struct {
	mu sync.Mutex

	active          bool
	nextOffset      int64 // accumulated-offset: bytes queued/accepted so far
	advertisedSize  int64 // -1 = unknown (oss.asize)
	uploaded        int64
	pending         []pendingWrite
	current         []byte // bytes available to the body-reader right now
	final           bool
	drainInProgress bool
	finishCallback  func(err error) // Close's callback, resolved by Complete once the real PUT response is known
	completed       bool            // Complete already ran, e.g. the op failed before Close ever called Finish
	completionErr   error
}

func newPutSource(advertisedSize int64) *putSource {
	return &putSource{advertisedSize: advertisedSize}
}

// Write implements the sequential-offset contract of spec §4.8.4 and §8:
// the first write must start at 0, and each subsequent write's offset must
// equal the accumulated byte count already queued.
func (p *putSource) Write(offset int64, buf []byte, cb func(err error)) error {
	p.mu.Lock()
	if offset != p.nextOffset {
		p.mu.Unlock()
		return NewError(KindInvalidArgs, "Write", "", fmt.Sprintf("offset %d does not match expected %d", offset, p.nextOffset), nil)
	}
	p.nextOffset += int64(len(buf))
	p.pending = append(p.pending, pendingWrite{buf: buf, callback: cb})
	p.active = true
	p.mu.Unlock()
	return nil
}

// Finish marks the write sequence complete, per spec §4.8.2. Unlike an
// ordinary Write, cb is not fired optimistically as soon as it reaches the
// front of the queue: Close legitimately wants to know whether the upload
// actually succeeded, so cb is held until Complete reports the real PUT
// outcome — or, if Complete already ran (the op failed before Close was
// even called), cb fires immediately with that already-known outcome
// instead of waiting for a Complete that will never come again.
func (p *putSource) Finish(cb func(err error)) {
	p.mu.Lock()
	p.final = true
	if p.completed {
		err := p.completionErr
		p.mu.Unlock()
		if cb != nil {
			cb(err)
		}
		return
	}
	p.finishCallback = cb
	p.mu.Unlock()
}

// NextChunk is called from the streaming PUT body reader (spec §4.4's
// "PUT/write" callback contract): it returns the next chunk of bytes to
// send, or (nil, true) if the upload is complete, or (nil, false) if no data
// is currently available and the caller should pause.
func (p *putSource) NextChunk() (chunk []byte, done bool, hasData bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.current) > 0 {
		chunk, p.current = p.current, nil
		return chunk, false, true
	}
	if len(p.pending) == 0 {
		if p.final {
			return nil, true, true
		}
		return nil, false, false
	}
	next := p.pending[0]
	p.pending = p.pending[1:]
	if next.callback != nil {
		defer next.callback(nil)
	}
	if len(next.buf) == 0 {
		if p.final && len(p.pending) == 0 {
			return nil, true, true
		}
		return nil, false, false
	}
	p.uploaded += int64(len(next.buf))
	return next.buf, false, true
}

// FailAll fails every write still queued with err. Writes already handed
// out by NextChunk were acked at that point and are not failed again.
func (p *putSource) FailAll(err error) {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()
	for _, w := range pending {
		if w.callback != nil {
			w.callback(err)
		}
	}
}

// Complete resolves the real outcome of the PUT operation this putSource
// backs, once the HTTP response (or a transport failure) is known. On
// failure it also fails every write still queued but not yet handed to the
// transport, per spec §4.8.4's "fail the active callback and every queued
// callback" — those already popped by NextChunk were acked optimistically
// and cannot be un-acked, matching ordinary buffered-write semantics.
func (p *putSource) Complete(err error) {
	p.mu.Lock()
	p.completed = true
	p.completionErr = err
	finish := p.finishCallback
	p.finishCallback = nil
	p.mu.Unlock()

	if err != nil {
		p.FailAll(err)
	}
	if finish != nil {
		finish(err)
	}
}

// Uploaded returns the number of bytes accepted into the upload body so far,
// used by Close to validate against an advertised oss.asize (spec §4.8.2).
func (p *putSource) Uploaded() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uploaded
}
