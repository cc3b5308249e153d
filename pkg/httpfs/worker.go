package httpfs

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xrdhttp/curlfs/pkg/common/logging"
)

// WorkerConfig tunes a Worker's behavior. Defaults match spec §4.6/§4.7.
type WorkerConfig struct {
	MaxInFlight       int           // default 20, spec §4.6 step 2
	MaintenancePeriod time.Duration // default 5s, spec §4.6 step 3
	PollInterval      time.Duration // default 50ms, spec §4.6 step 4
	StallTimeout      time.Duration // default 60s, spec §4.4
	MinimumRate       float64       // default 256KB/s, spec §4.4
	CalloutWaitLimit  time.Duration // default 20s, spec §4.6 step 3
}

// DefaultWorkerConfig returns the spec-mandated defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		MaxInFlight:       20,
		MaintenancePeriod: 5 * time.Second,
		PollInterval:      50 * time.Millisecond,
		StallTimeout:      60 * time.Second,
		MinimumRate:       256 * 1024,
		CalloutWaitLimit:  20 * time.Second,
	}
}

// Worker is the Go rendering of spec §2.6/§4.6's "thread owning a
// multi-handle": instead of one OS thread driving libcurl's non-blocking
// multi-handle poll loop, a Worker goroutine owns a semaphore-bounded set of
// per-Operation goroutines, each doing ordinary blocking net/http I/O, with
// redirect/OPTIONS-chaining handled explicitly because http.Client's
// automatic redirect following is disabled (spec §9: the transport is
// "treated as a black box exposing ... pause and resume individual
// transfers", which Go's reactor-free goroutine model satisfies without a
// poll()-driven multi-handle).
type Worker struct {
	id     int
	cfg    WorkerConfig
	client *http.Client
	queue  *HandlerQueue
	verbs  *VerbCache
	log    *logging.Logger

	metrics WorkerMetrics

	inFlight  int32 // atomic
	sem       chan struct{}

	continueCh chan continueRequest
	shutdownCh chan struct{}
	doneCh     chan struct{}

	calloutMu      sync.Mutex
	calloutWaiters map[*Operation]time.Time
}

// WorkerMetrics is the optional metrics sink a Worker reports into; nil-safe
// so the core engine has no hard dependency on any particular backend (see
// pkg/httpfs/metrics for the Prometheus-backed implementation).
type WorkerMetrics interface {
	OperationStarted(verb string)
	OperationSucceeded(verb string, duration time.Duration)
	OperationFailed(verb string, kind ErrorKind)
	QueueDepth(n int)
	InFlight(n int)
}

type noopMetrics struct{}

func (noopMetrics) OperationStarted(string)                    {}
func (noopMetrics) OperationSucceeded(string, time.Duration)    {}
func (noopMetrics) OperationFailed(string, ErrorKind)           {}
func (noopMetrics) QueueDepth(int)                              {}
func (noopMetrics) InFlight(int)                                {}

type continueRequest struct {
	op  *Operation
	buf []byte
}

// NewWorker constructs a Worker bound to queue, sharing verbs as its Verb
// Cache (spec §4.2: the cache is process-wide, shared across workers).
func NewWorker(id int, cfg WorkerConfig, queue *HandlerQueue, verbs *VerbCache, client *http.Client, log *logging.Logger, metrics WorkerMetrics) *Worker {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if client == nil {
		client = &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &Worker{
		id:             id,
		cfg:            cfg,
		client:         client,
		queue:          queue,
		verbs:          verbs,
		log:            log.WithComponent(fmt.Sprintf("worker-%d", id)),
		metrics:        metrics,
		sem:            make(chan struct{}, cfg.MaxInFlight),
		continueCh:     make(chan continueRequest, cfg.MaxInFlight*2),
		shutdownCh:     make(chan struct{}),
		doneCh:         make(chan struct{}),
		calloutWaiters: make(map[*Operation]time.Time),
	}
}

// Run is the worker's main loop (spec §4.6 steps 1-6), intended to run in
// its own goroutine. It returns as soon as Shutdown is called; transfers
// still in flight are neither failed nor waited for.
func (w *Worker) Run() {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.cfg.MaintenancePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.shutdownCh:
			return
		case req := <-w.continueCh:
			// Step 1: drain continue queue.
			if req.op.HasFailed() {
				continue
			}
			req.op.ContinueHandle(req.buf)
		case <-ticker.C:
			// Step 3: maintenance.
			w.queue.Expire()
			w.sweepCalloutWaiters()
		default:
			// Step 2: drain intake queue while under the in-flight cap.
			op := w.queue.TryConsume()
			if op == nil {
				w.metrics.QueueDepth(w.queue.Len())
				time.Sleep(w.cfg.PollInterval)
				continue
			}
			w.dispatch(op)
		}
	}
}

// Shutdown signals Run to stop and waits for it to exit.
func (w *Worker) Shutdown() {
	close(w.shutdownCh)
	<-w.doneCh
}

// Continue enqueues more host-provided data/buffer for op (spec §4.6 step 1
// "Drain continue queue").
func (w *Worker) Continue(op *Operation, buf []byte) {
	select {
	case w.continueCh <- continueRequest{op: op, buf: buf}:
	case <-w.shutdownCh:
	}
}

// dispatch implements intake-queue handling, including the OPTIONS-chaining
// protocol of spec §4.6 step 2.
func (w *Worker) dispatch(op *Operation) {
	if requiresOptions(op) {
		u, err := url.Parse(op.URL)
		if err == nil {
			key, _ := SplitVerbCacheKey(u)
			if bits, ok := w.verbs.Lookup(key); !ok || (!bits.IsUnknown() && !verbAllowed(bits, op.Verb)) {
				if w.verbs.IsRejected(key) {
					op.Fail(NewError(KindErrorResponse, op.Verb.String(), op.URL, "endpoint previously rejected OPTIONS", nil))
					return
				}
				optOp := w.buildOptionsOp(op, key)
				w.runOperation(optOp)
				return
			}
		}
	}
	w.runOperation(op)
}

func requiresOptions(op *Operation) bool {
	return op.Verb == VerbOpPropfind || op.Verb == VerbOpMkcol
}

func verbAllowed(bits VerbBitset, verb Verb) bool {
	switch verb {
	case VerbOpPropfind:
		return bits.Has(VerbPropfind)
	case VerbOpMkcol:
		return bits.Has(VerbMkcol)
	default:
		return true
	}
}

func (w *Worker) buildOptionsOp(parent *Operation, key VerbCacheKey) *Operation {
	optOp := NewOperation(context.Background(), VerbOpOptions, parent.URL, nil)
	optOp.isOptionsOp = true
	optOp.parent = parent
	optOp.verbKey = key
	return optOp
}

func (w *Worker) acquireSlot() {
	w.sem <- struct{}{}
	atomic.AddInt32(&w.inFlight, 1)
	w.metrics.InFlight(int(atomic.LoadInt32(&w.inFlight)))
}

func (w *Worker) releaseSlot() {
	<-w.sem
	atomic.AddInt32(&w.inFlight, -1)
	w.metrics.InFlight(int(atomic.LoadInt32(&w.inFlight)))
}

// runOperation executes op against the transport, one goroutine per
// transfer, which is this module's analogue of a libcurl easy handle
// attached to the worker's multi-handle (spec §4.6 steps 4-6).
func (w *Worker) runOperation(op *Operation) {
	w.acquireSlot()
	w.metrics.OperationStarted(op.Verb.String())
	go func() {
		defer w.releaseSlot()
		start := time.Now()
		w.execute(op)
		if !op.HasFailed() {
			w.metrics.OperationSucceeded(op.Verb.String(), time.Since(start))
		}
	}()
}

func (w *Worker) execute(op *Operation) {
	w.executeWithClient(op, w.client)
}

func (w *Worker) executeWithClient(op *Operation, client *http.Client) {
	req, err := w.buildRequest(op)
	if err != nil {
		w.fail(op, NewError(KindInvalidArgs, op.Verb.String(), op.URL, "building request", err))
		return
	}

	resp, err := client.Do(req)
	if err != nil {
		w.handleTransportError(op, err)
		return
	}
	defer resp.Body.Close()

	op.MarkHeaderReceived()
	headers := headersFromResponse(resp)
	op.parsedHeaders = headers

	if headers.IsRedirect() {
		w.handleRedirect(op, headers)
		return
	}
	if headers.IsError() {
		w.handleErrorResponse(op, headers, resp.Body)
		return
	}

	if op.isOptionsOp {
		w.handleOptionsSuccess(op, headers)
		return
	}

	w.streamBody(op, resp.Body)
}

func (w *Worker) buildRequest(op *Operation) (*http.Request, error) {
	var body io.Reader
	if op.Verb == VerbOpPut && op.writeSource != nil {
		body = newPutReader(op.writeSource)
	}
	req, err := http.NewRequest(op.Verb.String(), op.URL, body)
	if err != nil {
		return nil, err
	}
	if op.Verb == VerbOpGet && (op.RangeStart != 0 || op.RangeEnd != -1) {
		if op.RangeEnd == -1 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", op.RangeStart))
		} else {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", op.RangeStart, op.RangeEnd))
		}
	}
	if op.Verb == VerbOpOptions {
		req.Header.Set("Content-Length", "0")
	}
	for k, vs := range op.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if op.HeaderCallout != nil {
		rewritten, err := op.HeaderCallout.RewriteHeaders(op.Verb.String(), op.URL, req.Header)
		if err != nil {
			return nil, err
		}
		req.Header = rewritten
	}
	return req, nil
}

func headersFromResponse(resp *http.Response) *ParsedHeaders {
	h := NewParsedHeaders()
	h.Status = resp.StatusCode
	h.Reason = resp.Status
	for k, vs := range resp.Header {
		for _, v := range vs {
			_ = h.ParseHeaderLine(k + ": " + v)
		}
	}
	return h
}

func (w *Worker) handleErrorResponse(op *Operation, headers *ParsedHeaders, body io.Reader) {
	if op.isOptionsOp {
		w.verbs.MarkUnknown(op.verbKey)
		if op.parent != nil {
			w.runOperation(op.parent)
		}
		return
	}
	buf := make([]byte, 4096)
	n, _ := io.ReadFull(body, buf)
	msg := string(buf[:n])
	kind := StatusToKind(headers.Status)
	w.metrics.OperationFailed(op.Verb.String(), kind)
	op.Fail(NewError(kind, op.Verb.String(), op.URL, msg, nil))
}

func (w *Worker) handleOptionsSuccess(op *Operation, headers *ParsedHeaders) {
	bits := allowHeaderToBitset(headers.Allow)
	w.verbs.Insert(op.verbKey, bits)
	if op.parent != nil {
		w.runOperation(op.parent)
	}
}

func allowHeaderToBitset(allow map[string]bool) VerbBitset {
	var bits VerbBitset
	if allow["GET"] {
		bits |= VerbGet
	}
	if allow["PUT"] {
		bits |= VerbPut
	}
	if allow["DELETE"] {
		bits |= VerbDelete
	}
	if allow["HEAD"] {
		bits |= VerbHead
	}
	if allow["PROPFIND"] {
		bits |= VerbPropfind
	}
	if allow["MKCOL"] {
		bits |= VerbMkcol
	}
	if allow["OPTIONS"] {
		bits |= VerbOptions
	}
	if allow["COPY"] {
		bits |= VerbCopy
	}
	return bits
}

// handleRedirect implements spec §4.6's redirect protocol.
func (w *Worker) handleRedirect(op *Operation, headers *ParsedHeaders) {
	if headers.Location == "" {
		w.fail(op, NewError(KindInvalidResponse, op.Verb.String(), op.URL, "redirect with no Location", nil))
		return
	}
	target, err := resolveRedirect(op.URL, headers.Location)
	if err != nil {
		w.fail(op, NewError(KindInvalidResponse, op.Verb.String(), op.URL, "malformed Location header", err))
		return
	}

	switch op.redirectAction(target) {
	case RedirectReinvoke:
		op.URL = target
		w.runOperation(op)
	case RedirectReinvokeAfterAllow:
		u, err := url.Parse(target)
		if err != nil {
			w.fail(op, NewError(KindInvalidArgs, op.Verb.String(), target, "malformed redirect target", err))
			return
		}
		key, _ := SplitVerbCacheKey(u)
		op.URL = target
		optOp := w.buildOptionsOp(op, key)
		w.runOperation(optOp)
	default:
		w.fail(op, NewError(KindErrorResponse, op.Verb.String(), op.URL, "redirect target rejected", nil))
	}
}

func resolveRedirect(base, location string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(ref).String(), nil
}

// redirectAction implements spec §4.4/§4.6: GET/HEAD/DELETE/PUT can always
// reinvoke directly; PROPFIND/MKCOL ("advanced" verbs) need the verb cache
// to confirm support at the new target first.
func (op *Operation) redirectAction(target string) RedirectAction {
	switch op.Verb {
	case VerbOpPropfind, VerbOpMkcol:
		return RedirectReinvokeAfterAllow
	default:
		return RedirectReinvoke
	}
}

func (w *Worker) handleTransportError(op *Operation, err error) {
	tkind := ClassifyTransportError(err)
	if tkind == TransportConnectionRefused && op.ConnectionCallout != nil && !op.MarkCalloutTried() {
		w.startCallout(op)
		return
	}
	kind := TransportToKind(tkind)
	w.metrics.OperationFailed(op.Verb.String(), kind)
	if op.isOptionsOp {
		w.verbs.MarkUnknown(op.verbKey)
		if op.parent != nil {
			w.runOperation(op.parent)
		}
		return
	}
	op.Fail(NewError(kind, op.Verb.String(), op.URL, "transport error", err))
}

func (w *Worker) startCallout(op *Operation) {
	w.calloutMu.Lock()
	w.calloutWaiters[op] = time.Now()
	w.calloutMu.Unlock()

	transport := &http.Transport{DialContext: DialContextWithCallout(op.ConnectionCallout)}
	client := &http.Client{Transport: transport, CheckRedirect: w.client.CheckRedirect}
	w.executeWithClient(op, client)

	w.calloutMu.Lock()
	delete(w.calloutWaiters, op)
	w.calloutMu.Unlock()
}

func (w *Worker) sweepCalloutWaiters() {
	w.calloutMu.Lock()
	defer w.calloutMu.Unlock()
	now := time.Now()
	for op, started := range w.calloutWaiters {
		if now.Sub(started) > w.cfg.CalloutWaitLimit {
			delete(w.calloutWaiters, op)
			op.Fail(NewError(KindConnectionError, op.Verb.String(), op.URL, "connection callout timed out", nil))
		}
	}
}

func (w *Worker) fail(op *Operation, err *Error) {
	w.metrics.OperationFailed(op.Verb.String(), err.Kind)
	op.Fail(err)
}

// streamBody delivers a response body: PROPFIND/listing bodies accumulate
// up to 10MB, chunk-streaming prefetch GETs go through streamBodyChunked,
// and any other body is read whole into memory and handed to op.Success at
// EOF. The operation is never paused against a caller buffer here.
func (w *Worker) streamBody(op *Operation, body io.Reader) {
	if op.Verb == VerbOpPropfind {
		w.accumulateBody(op, body)
		return
	}
	if op.chunkRequests != nil {
		w.streamBodyChunked(op, body)
		return
	}

	reader := bufio.NewReaderSize(body, 32*1024)
	buf := make([]byte, 32*1024)
	var delivered bytes.Buffer
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			op.RecordBytes(n, w.cfg.StallTimeout)
			delivered.Write(buf[:n])
		}
		if err == io.EOF {
			op.Success(delivered.Bytes())
			return
		}
		if err != nil {
			op.Fail(NewError(KindDataError, op.Verb.String(), op.URL, "reading body", err))
			return
		}
	}
}

// streamBodyChunked drives a chunk-streaming prefetch GET (spec §4.8.3):
// each pending chunkRequest pulls exactly its own byte count off body
// before replying, so consecutive continuation records each get their own
// slice as it arrives instead of the worker buffering the whole response.
// The op completes the moment a request comes up short against the body
// (server-side EOF) or the body is exactly drained after a full reply.
func (w *Worker) streamBodyChunked(op *Operation, body io.Reader) {
	reader := bufio.NewReaderSize(body, 32*1024)
	for {
		select {
		case req, ok := <-op.chunkRequests:
			if !ok {
				rest, _ := io.ReadAll(reader)
				if len(rest) > 0 {
					op.RecordBytes(len(rest), w.cfg.StallTimeout)
				}
				op.Success(rest)
				return
			}
			buf := make([]byte, req.size)
			n, err := io.ReadFull(reader, buf)
			if n > 0 {
				op.RecordBytes(n, w.cfg.StallTimeout)
			}
			switch {
			case err == nil:
				req.result <- chunkResult{data: buf}
				if _, peekErr := reader.Peek(1); peekErr != nil {
					op.Success(buf)
					return
				}
			case err == io.EOF || err == io.ErrUnexpectedEOF:
				req.result <- chunkResult{data: buf[:n]}
				op.Success(buf[:n])
				return
			default:
				req.result <- chunkResult{err: err}
				op.Fail(NewError(KindDataError, op.Verb.String(), op.URL, "reading body", err))
				return
			}
		case <-op.ctx.Done():
			return
		}
	}
}

func (w *Worker) accumulateBody(op *Operation, body io.Reader) {
	limited := io.LimitReader(body, maxPropfindBody+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		op.Fail(NewError(KindServerError, op.Verb.String(), op.URL, "reading propfind body", err))
		return
	}
	if len(data) > maxPropfindBody {
		op.Fail(NewError(KindServerError, op.Verb.String(), op.URL, "propfind response exceeds 10MB", nil))
		return
	}
	op.Success(data)
}

// putReader adapts a putSource's pull-based NextChunk into an io.Reader for
// http.NewRequest's body, blocking briefly when no data is currently
// available rather than ending the stream (spec §4.4's "PUT/write" pause
// semantics, rendered as an ordinary blocking Read since Go's http.Client
// already streams request bodies without needing a paused multi-handle).
type putReader struct {
	src *putSource
}

func newPutReader(src *putSource) *putReader { return &putReader{src: src} }

func (r *putReader) Read(p []byte) (int, error) {
	for {
		chunk, done, has := r.src.NextChunk()
		if has {
			if len(chunk) == 0 && done {
				return 0, io.EOF
			}
			return copy(p, chunk), nil
		}
		if done {
			return 0, io.EOF
		}
		time.Sleep(5 * time.Millisecond)
	}
}
