package httpfs

import (
	"sync"
	"sync/atomic"
)

const prefetchFullObject = int64(1) << 62 // stand-in for the spec's INT64_MAX sentinel

// prefetchState is the per-file prefetch pipeline of spec §4.8.3: a single
// long-lived streaming GET that consecutive sequential Reads chain onto,
// each pulling its own byte slice off the shared body via
// Operation.RequestChunk instead of waiting for the whole response.
type prefetchState struct {
	mu sync.Mutex

	enabled      bool
	prefetchSize int64 // -1 = size unknown, prefetchFullObject = "to end"
	op           *Operation
	nextExpected int64 // atomic-compare-swapped offset
	done         bool
}

func newPrefetchState(prefetchSize int64) *prefetchState {
	return &prefetchState{enabled: prefetchSize != -1, prefetchSize: prefetchSize}
}

// prefetchOutcome tells the caller (File.Read) what to do next.
type prefetchOutcome int

const (
	prefetchSkip prefetchOutcome = iota
	prefetchStartedNew
	prefetchAppended
)

// TryAttach implements the prefetch-path contract of spec §4.8.3 steps 1-4.
// On prefetchStartedNew, newOp is invoked (under p's lock, so a second Read
// can never also observe a nil op and race to start its own) with the
// RangeEnd the new streaming GET should carry — unbounded only for a
// whole-object prefetch, otherwise clipped to the configured prefetch
// window — to build the op; the caller must still Produce it. On
// prefetchAppended, the returned channel already has this Read's chunk
// request enqueued against the existing op, in the same order TryAttach
// calls were serialized in, so a later-offset Read can never jump the
// queue ahead of an earlier one. newOp is called while p.mu is held, so it
// must not itself call back into p.
func (p *prefetchState) TryAttach(offset int64, size int, newOp func(rangeEnd int64) *Operation) (prefetchOutcome, *Operation, chan chunkResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled || p.prefetchSize == -1 {
		return prefetchSkip, nil, nil
	}
	if p.op == nil {
		rangeEnd := int64(-1)
		if p.prefetchSize != prefetchFullObject {
			rangeEnd = offset + p.prefetchSize - 1
		}
		op := newOp(rangeEnd)
		result := op.RequestChunk(size)
		p.op = op
		p.nextExpected = offset + int64(size)
		return prefetchStartedNew, op, result
	}
	if p.done {
		return prefetchSkip, nil, nil
	}
	if !atomic.CompareAndSwapInt64(&p.nextExpected, offset, offset+int64(size)) {
		return prefetchSkip, nil, nil
	}
	return prefetchAppended, p.op, p.op.RequestChunk(size)
}

// MarkDone records that the underlying streaming GET has finished, so
// future Reads fall straight through to a standalone ranged GET instead of
// attaching to a stream nobody is draining anymore.
func (p *prefetchState) MarkDone() {
	p.mu.Lock()
	p.done = true
	p.mu.Unlock()
}

// SetOp installs an already-enqueued streaming GET as the prefetch op
// directly, bypassing TryAttach's own-construction branch, for
// full-download-on-open (spec §4.8.1) where the op is created eagerly in
// Open rather than lazily on the first Read.
func (p *prefetchState) SetOp(op *Operation) {
	p.mu.Lock()
	p.op = op
	p.nextExpected = 0
	p.mu.Unlock()
}

func (p *prefetchState) Op() *Operation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.op
}

func (p *prefetchState) Reset(prefetchSize int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.op = nil
	p.done = false
	p.enabled = prefetchSize != -1
	p.prefetchSize = prefetchSize
	p.nextExpected = 0
}
