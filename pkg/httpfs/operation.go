package httpfs

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Verb is the tagged-variant discriminator for Operation, replacing the
// virtual-dispatch hierarchy spec §9 explicitly asks to avoid.
type Verb int

const (
	VerbOpGet Verb = iota
	VerbOpPut
	VerbOpDelete
	VerbOpHead
	VerbOpPropfind
	VerbOpMkcol
	VerbOpOptions
	VerbOpCopy
)

func (v Verb) String() string {
	switch v {
	case VerbOpGet:
		return "GET"
	case VerbOpPut:
		return "PUT"
	case VerbOpDelete:
		return "DELETE"
	case VerbOpHead:
		return "HEAD"
	case VerbOpPropfind:
		return "PROPFIND"
	case VerbOpMkcol:
		return "MKCOL"
	case VerbOpOptions:
		return "OPTIONS"
	case VerbOpCopy:
		return "COPY"
	default:
		return "UNKNOWN"
	}
}

// OpState is the Operation lifecycle state from spec §3.
type OpState int

const (
	StatePending OpState = iota
	StateInFlight
	StatePaused
	StateDoneSuccess
	StateDoneFail
)

// RedirectAction is the result of Operation.Redirect (spec §4.4, §4.6).
type RedirectAction int

const (
	RedirectFail RedirectAction = iota
	RedirectReinvoke
	RedirectReinvokeAfterAllow
)

// CompletionCallback is invoked exactly once per terminal transition, with
// the bytes delivered so far (for GET/PgRead) and an error, which is nil on
// success.
type CompletionCallback func(delivered []byte, headers *ParsedHeaders, err error)

// Stats holds the per-operation transfer statistics from spec §3.
type Stats struct {
	BytesMoved       int64
	HeaderPhase      time.Duration
	BodyPhase        time.Duration
	PauseDuration    time.Duration
	RateEMA          float64 // bytes/sec exponential moving average
	headerStart      time.Time
	bodyStart        time.Time
	lastByteAt       time.Time
	pauseStart       time.Time
}

// Operation is the per-request object described in spec §2.4/§3. Verb-
// specific payload lives in the GET/PUT/Propfind fields; only the field
// matching Verb is meaningful.
type Operation struct {
	Verb    Verb
	URL     string
	Headers http.Header

	ConnectionCallout ConnectionCallout
	HeaderCallout     HeaderCallout

	HeaderDeadline    time.Time
	StallDeadline     time.Time // rolling, bumped on byte flow
	OperationDeadline time.Time

	Stats Stats

	mu          sync.Mutex
	state       OpState
	triedCallout int32 // atomic bool via 0/1
	receivedHdr  int32
	hasFailed    int32

	ErrorKind ErrorKind
	CbErrCode string
	CbErrMsg  string

	onComplete CompletionCallback
	onDefault  CompletionCallback

	parsedHeaders *ParsedHeaders

	// GET-specific
	RangeStart, RangeEnd int64 // RangeEnd == -1 means "to end"
	readSink             io.Writer
	overflow             []byte
	pauseCh              chan readResume

	// chunkRequests is non-nil only for a prefetch streaming GET
	// (EnableChunkStreaming): each continuation record chained onto this op
	// pulls exactly its own requested byte count off the body instead of
	// the worker draining the whole response before completing (spec
	// §4.8.3).
	chunkRequests chan chunkRequest

	// PUT-specific
	writeSource  *putSource
	advertisedSize int64 // -1 = unknown

	// PROPFIND/body-accumulating
	bodyBuf    []byte
	bodyLimit  int

	// OPTIONS chaining (spec §4.6 step 2 and §4.4's "Redirect ... produces
	// ReinvokeAfterAllow"): an OPTIONS op references the parent it gates.
	parent      *Operation
	isOptionsOp bool
	verbKey     VerbCacheKey

	ctx    context.Context
	cancel context.CancelFunc
}

type readResume struct {
	buf      []byte
	shutdown bool
}

// chunkRequest asks a chunk-streaming Operation for the next n bytes of
// body, with the reply delivered on result.
type chunkRequest struct {
	size   int
	result chan chunkResult
}

type chunkResult struct {
	data []byte
	err  error
}

// EnableChunkStreaming equips op to serve its body in caller-sized slices
// via RequestChunk instead of only exposing the whole delivered buffer on
// Success, so a long-lived prefetch GET can hand consecutive continuation
// records their own bytes as they arrive (spec §4.8.3).
func (op *Operation) EnableChunkStreaming() {
	op.chunkRequests = make(chan chunkRequest, 4096)
}

// RequestChunk enqueues a request for the next n bytes of op's body and
// returns the channel the reply will arrive on. Safe to call while holding
// an external lock that must also order this request relative to others
// (see prefetchState.TryAttach), since the send only blocks if the
// request backlog is implausibly deep.
func (op *Operation) RequestChunk(n int) chan chunkResult {
	result := make(chan chunkResult, 1)
	op.chunkRequests <- chunkRequest{size: n, result: result}
	return result
}

// Done returns the context channel that closes once op reaches a terminal
// state, letting a chunk waiter give up instead of blocking forever if the
// stream ended before its request was served.
func (op *Operation) Done() <-chan struct{} { return op.ctx.Done() }

// NewOperation constructs a pending Operation for verb against url.
func NewOperation(ctx context.Context, verb Verb, url string, cb CompletionCallback) *Operation {
	c, cancel := context.WithCancel(ctx)
	return &Operation{
		Verb:           verb,
		URL:            url,
		Headers:        make(http.Header),
		state:          StatePending,
		onComplete:     cb,
		RangeEnd:       -1,
		advertisedSize: -1,
		bodyLimit:      4096,
		ctx:            c,
		cancel:         cancel,
	}
}

func (op *Operation) State() OpState {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state
}

// HasFailed reports whether the terminal transition has already marked this
// op as failed; external holders use it to reject late continuations (spec
// §3 invariants).
func (op *Operation) HasFailed() bool { return atomic.LoadInt32(&op.hasFailed) != 0 }

func (op *Operation) markTerminal(success bool) {
	op.mu.Lock()
	if success {
		op.state = StateDoneSuccess
	} else {
		op.state = StateDoneFail
		atomic.StoreInt32(&op.hasFailed, 1)
	}
	op.mu.Unlock()
	op.cancel()
}

// Success performs the terminal success transition and invokes the
// completion callback exactly once (spec §3, §4.4).
func (op *Operation) Success(delivered []byte) {
	if op.HasFailed() || op.State() == StateDoneSuccess {
		return
	}
	op.markTerminal(true)
	if op.onComplete != nil {
		op.onComplete(delivered, op.parsedHeaders, nil)
	}
}

// Fail performs the terminal failure transition and invokes the completion
// callback (or the default callback if the primary has already been
// consumed) exactly once.
func (op *Operation) Fail(err error) {
	if op.HasFailed() {
		return
	}
	op.markTerminal(false)
	cb := op.onComplete
	if cb == nil {
		cb = op.onDefault
	}
	if cb != nil {
		cb(nil, op.parsedHeaders, err)
	}
}

// Pause transitions to the Paused state, invoking the callback with the
// partial result delivered so far; ContinueHandle resumes it later.
func (op *Operation) Pause(delivered []byte) {
	op.mu.Lock()
	if op.state == StateDoneSuccess || op.state == StateDoneFail {
		op.mu.Unlock()
		return
	}
	op.state = StatePaused
	op.Stats.pauseStart = time.Now()
	op.mu.Unlock()
	if op.onComplete != nil {
		op.onComplete(delivered, op.parsedHeaders, nil)
	}
}

// ContinueHandle resumes a paused GET by delivering the next buffer to fill,
// or resumes a paused PUT by indicating more write data is available. It is
// a no-op, reported via the bool return, if the op has already terminated.
func (op *Operation) ContinueHandle(buf []byte) bool {
	if op.HasFailed() || op.State() == StateDoneSuccess {
		return false
	}
	op.mu.Lock()
	if op.Stats.pauseStart.After(time.Time{}) {
		op.Stats.PauseDuration += time.Since(op.Stats.pauseStart)
		op.Stats.pauseStart = time.Time{}
	}
	op.state = StateInFlight
	op.mu.Unlock()
	if op.pauseCh != nil {
		select {
		case op.pauseCh <- readResume{buf: buf}:
		default:
		}
	}
	return true
}

// SetDefaultCallback installs the "default" callback used once the primary
// has been consumed, e.g. a stall detected after a PUT writer went idle.
func (op *Operation) SetDefaultCallback(cb CompletionCallback) { op.onDefault = cb }

// MarkCalloutTried reports whether the connection callout has already been
// attempted once for this op, and marks it tried (spec §4.5: "at most once").
func (op *Operation) MarkCalloutTried() (alreadyTried bool) {
	return !atomic.CompareAndSwapInt32(&op.triedCallout, 0, 1)
}

// MarkHeaderReceived records that the first header byte has arrived, for
// HeaderTimeoutExpired evaluation.
func (op *Operation) MarkHeaderReceived() {
	atomic.StoreInt32(&op.receivedHdr, 1)
	op.mu.Lock()
	op.Stats.headerStart = time.Time{}
	op.mu.Unlock()
}

func (op *Operation) HeaderReceived() bool { return atomic.LoadInt32(&op.receivedHdr) != 0 }

// CheckTimeouts evaluates the timeout rules of spec §4.4 and returns a
// non-nil ErrorKind if the op should be failed.
func (op *Operation) CheckTimeouts(now time.Time, minimumRate float64) ErrorKind {
	if !op.HeaderDeadline.IsZero() && !op.HeaderReceived() && now.After(op.HeaderDeadline) {
		return KindTimerExpired // HeaderTimeout
	}
	if !op.OperationDeadline.IsZero() && now.After(op.OperationDeadline) {
		return KindOperationExpired
	}
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.state == StatePaused {
		// Stall/slow-rate detection disabled during client-side pause per
		// spec §5, except TransferClientStall itself.
		if op.HeaderReceived() && !op.StallDeadline.IsZero() && now.After(op.StallDeadline) {
			return KindTimerExpired // TransferClientStall
		}
		return KindNone
	}
	if op.HeaderReceived() && !op.StallDeadline.IsZero() && now.After(op.StallDeadline) {
		return KindTimerExpired // TransferStall
	}
	if op.Stats.RateEMA > 0 && op.Stats.RateEMA < minimumRate && op.HeaderReceived() {
		return KindTimerExpired // TransferSlow
	}
	return KindNone
}

// RecordBytes updates transfer stats after delivering n bytes, bumping the
// rolling stall deadline and updating the rate EMA (spec §4.4).
func (op *Operation) RecordBytes(n int, stallInterval time.Duration) {
	op.mu.Lock()
	defer op.mu.Unlock()
	now := time.Now()
	if !op.Stats.lastByteAt.IsZero() {
		dt := now.Sub(op.Stats.lastByteAt).Seconds()
		if dt > 0 {
			inst := float64(n) / dt
			const alpha = 0.2
			if op.Stats.RateEMA == 0 {
				op.Stats.RateEMA = inst
			} else {
				op.Stats.RateEMA = alpha*inst + (1-alpha)*op.Stats.RateEMA
			}
		}
	}
	op.Stats.lastByteAt = now
	op.Stats.BytesMoved += int64(n)
	op.StallDeadline = now.Add(stallInterval)
}
