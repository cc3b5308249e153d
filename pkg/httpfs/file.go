package httpfs

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// OpenFlags mirrors the host framework's open-flag bits relevant to File
// (spec §3: "Open flags").
type OpenFlags int

const (
	OpenRead OpenFlags = 1 << iota
	OpenWrite
	OpenCreate
	OpenDelete
)

func (f OpenFlags) has(bit OpenFlags) bool { return f&bit != 0 }

// File is the per-open state machine of spec §2.8/§4.8: it issues
// operations for Open/Read/Write/Close and owns the prefetch and PUT state
// machines.
type File struct {
	factory *Factory

	mu          sync.RWMutex
	canonicalURL string
	lastURL      string
	props        *PropertyMap

	opened     int32 // atomic bool
	flags      OpenFlags
	fullDownload bool

	headerTimeout time.Duration

	prefetch *prefetchState
	put      *putSource

	contentLength int64
	etag          string
	cacheControl  string

	advertisedUploadSize int64 // oss.asize, -1 = unknown

	connCallout ConnectionCallout
	headerCallout HeaderCallout
}

// NewFile constructs an unopened File bound to factory.
func NewFile(factory *Factory) *File {
	return &File{
		factory:              factory,
		props:                NewPropertyMap(),
		advertisedUploadSize: -1,
		headerCallout:        PassthroughHeaderCallout{},
	}
}

// Open implements spec §4.8.1.
func (f *File) Open(ctx context.Context, rawurl string, flags OpenFlags) error {
	if !atomic.CompareAndSwapInt32(&f.opened, 0, 1) {
		return NewError(KindInvalidOp, "Open", rawurl, "file already open", nil)
	}
	f.mu.Lock()
	f.flags = flags
	f.mu.Unlock()

	u, err := url.Parse(rawurl)
	if err != nil {
		atomic.StoreInt32(&f.opened, 0)
		return NewError(KindInvalidArgs, "Open", rawurl, "malformed URL", err)
	}

	q := u.Query()
	if asize := q.Get("oss.asize"); asize != "" {
		if n, err := strconv.ParseInt(asize, 10, 64); err == nil {
			f.advertisedUploadSize = n
		}
		q.Del("oss.asize")
	}
	if f.headerTimeout > 0 {
		q.Set("xrdclcurl.timeout", f.headerTimeout.String())
	}
	u.RawQuery = q.Encode()

	f.mu.Lock()
	f.canonicalURL = u.String()
	f.lastURL = f.canonicalURL
	f.mu.Unlock()

	fullDownload, _ := f.props.Get(PropFullDownload)
	f.fullDownload = fullDownload == "true"

	if f.fullDownload && !flags.has(OpenWrite) {
		return f.openFullDownload(ctx)
	}
	return f.openStandard(ctx, flags)
}

// openStandard issues a HEAD (or PROPFIND, for endpoints where HEAD is
// insufficient) to establish content length/ETag/Cache-Control, per spec
// §4.8.1.
func (f *File) openStandard(ctx context.Context, flags OpenFlags) error {
	done := make(chan error, 1)
	op := NewOperation(ctx, VerbOpHead, f.currentURL(), func(body []byte, headers *ParsedHeaders, err error) {
		if err != nil {
			if asErr, ok := err.(*Error); ok && asErr.Kind == KindNotFound &&
				(flags.has(OpenWrite) || flags.has(OpenCreate) || flags.has(OpenDelete)) {
				f.contentLength = 0
				done <- nil
				return
			}
			done <- err
			return
		}
		f.publishHeaders(headers)
		done <- nil
	})
	op.ConnectionCallout = f.connCallout
	op.HeaderCallout = f.headerCallout
	f.factory.Produce(op)
	return <-done
}

// openFullDownload implements spec §4.8.1's full-download-on-open path: a
// streaming GET over [0, MAX) begins immediately, with the open-callback
// conceptually firing on the first body byte; since this Go rendering
// already returns from Open only after the prefetch op has been created and
// enqueued (not after the whole body has arrived), the semantics match.
func (f *File) openFullDownload(ctx context.Context) error {
	f.prefetch = newPrefetchState(prefetchFullObject)
	op := NewOperation(ctx, VerbOpGet, f.currentURL(), func(body []byte, headers *ParsedHeaders, err error) {
		f.prefetch.MarkDone()
		if err == nil && headers != nil {
			f.publishHeaders(headers)
		}
	})
	op.EnableChunkStreaming()
	op.RangeEnd = -1
	op.ConnectionCallout = f.connCallout
	op.HeaderCallout = f.headerCallout
	f.prefetch.SetOp(op)
	f.factory.Produce(op)
	return nil
}

func (f *File) publishHeaders(headers *ParsedHeaders) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contentLength = headers.ContentLength
	f.etag = headers.ETag
	f.cacheControl = headers.CacheControl
	f.props.Set(PropContentLen, strconv.FormatInt(headers.ContentLength, 10))
	f.props.Set(PropETag, headers.ETag)
	f.props.Set(PropCacheControl, headers.CacheControl)
	f.props.Set(PropLastURL, f.lastURL)
}

func (f *File) currentURL() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	base := f.canonicalURL
	if qp, ok := f.props.Get(PropQueryParam); ok && qp != "" {
		u, err := url.Parse(base)
		if err == nil {
			merged, err := MergeQueryParam(u.RawQuery, qp)
			if err == nil {
				u.RawQuery = merged
				return u.String()
			}
		}
	}
	return base
}

// Close implements spec §4.8.2.
func (f *File) Close(ctx context.Context) error {
	if atomic.LoadInt32(&f.opened) == 0 {
		return NewError(KindInvalidOp, "Close", f.canonicalURL, "file not open", nil)
	}
	if !atomic.CompareAndSwapInt32(&f.opened, 1, 0) {
		return NewError(KindInvalidOp, "Close", f.canonicalURL, "file already closed", nil)
	}

	if f.put != nil {
		if f.advertisedUploadSize >= 0 && f.put.Uploaded() != f.advertisedUploadSize {
			return NewError(KindInvalidOp, "Close", f.canonicalURL, "cannot close file with partial size", nil)
		}
		done := make(chan error, 1)
		f.put.Finish(func(err error) { done <- err })
		return <-done
	}

	f.mu.RLock()
	writeOnly := f.flags.has(OpenWrite) && !f.flags.has(OpenRead)
	f.mu.RUnlock()
	if writeOnly {
		return f.synthesizeEmptyPut(ctx)
	}
	return nil
}

func (f *File) synthesizeEmptyPut(ctx context.Context) error {
	f.put = newPutSource(0)
	done := make(chan error, 1)
	op := NewOperation(ctx, VerbOpPut, f.currentURL(), func(body []byte, headers *ParsedHeaders, err error) {
		done <- err
	})
	op.writeSource = f.put
	op.ConnectionCallout = f.connCallout
	op.HeaderCallout = f.headerCallout
	f.put.Finish(nil)
	f.factory.Produce(op)
	return <-done
}

// Read implements spec §4.8.3: it tries the prefetch path first, falling
// through to a standalone ranged GET on miss.
func (f *File) Read(ctx context.Context, offset int64, size int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}

	f.mu.RLock()
	fullDownload := f.fullDownload
	f.mu.RUnlock()

	if f.prefetch != nil {
		newOp := func(rangeEnd int64) *Operation { return f.newPrefetchOp(ctx, offset, rangeEnd) }
		outcome, op, result := f.prefetch.TryAttach(offset, size, newOp)
		switch outcome {
		case prefetchStartedNew:
			f.factory.Produce(op)
			return f.deliverChunk(ctx, op, result, offset, size)
		case prefetchAppended:
			return f.deliverChunk(ctx, op, result, offset, size)
		case prefetchSkip:
			if fullDownload {
				return nil, NewError(KindInvalidOp, "Read", f.canonicalURL, "non-sequential read in full-download mode", nil)
			}
		}
	}
	return f.standaloneRead(ctx, offset, size)
}

// newPrefetchOp builds (but does not enqueue) the streaming GET backing a
// new prefetch window starting at offset, per spec §4.8.3. It is called by
// prefetchState.TryAttach while still holding its own lock, immediately
// followed by the first RequestChunk against the returned op, so chunk
// streaming must already be enabled before this returns.
func (f *File) newPrefetchOp(ctx context.Context, offset, rangeEnd int64) *Operation {
	op := NewOperation(ctx, VerbOpGet, f.currentURL(), func(body []byte, headers *ParsedHeaders, err error) {
		f.prefetch.MarkDone()
		if err == nil && headers != nil {
			f.publishHeaders(headers)
		}
	})
	op.EnableChunkStreaming()
	op.RangeStart = offset
	op.RangeEnd = rangeEnd
	op.ConnectionCallout = f.connCallout
	op.HeaderCallout = f.headerCallout
	return op
}

// deliverChunk waits for the reply to a chunk request already enqueued
// against op (spec §4.8.3: each Read chained onto a streaming GET gets its
// own slice as bytes arrive, never the whole remainder of the object). If
// op terminates without ever serving this particular request — because an
// earlier request on the same chain failed or the stream ended short —
// this falls back to an independent standalone ranged GET instead of
// blocking forever.
func (f *File) deliverChunk(ctx context.Context, op *Operation, result chan chunkResult, offset int64, size int) ([]byte, error) {
	select {
	case r := <-result:
		return r.data, r.err
	case <-op.Done():
		select {
		case r := <-result:
			return r.data, r.err
		default:
		}
		return f.standaloneRead(ctx, offset, size)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *File) standaloneRead(ctx context.Context, offset int64, size int) ([]byte, error) {
	done := make(chan struct {
		data []byte
		err  error
	}, 1)
	op := NewOperation(ctx, VerbOpGet, f.currentURL(), func(body []byte, headers *ParsedHeaders, err error) {
		done <- struct {
			data []byte
			err  error
		}{body, err}
	})
	op.RangeStart = offset
	op.RangeEnd = offset + int64(size) - 1
	op.ConnectionCallout = f.connCallout
	op.HeaderCallout = f.headerCallout
	f.factory.Produce(op)
	r := <-done
	return r.data, r.err
}

// Write implements spec §4.8.4.
func (f *File) Write(ctx context.Context, offset int64, buf []byte) error {
	f.mu.Lock()
	if f.put == nil {
		if offset != 0 {
			f.mu.Unlock()
			return NewError(KindInvalidOp, "Write", f.canonicalURL, "first write must start at offset 0", nil)
		}
		f.put = newPutSource(f.advertisedUploadSize)
		put := f.put
		f.mu.Unlock()

		done := make(chan error, 1)
		op := NewOperation(ctx, VerbOpPut, f.currentURL(), func(body []byte, headers *ParsedHeaders, err error) {
			put.Complete(err)
		})
		op.writeSource = put
		op.ConnectionCallout = f.connCallout
		op.HeaderCallout = f.headerCallout
		if err := put.Write(offset, buf, func(err error) { done <- err }); err != nil {
			return err
		}
		f.factory.Produce(op)
		return <-done
	}
	put := f.put
	f.mu.Unlock()

	done := make(chan error, 1)
	if err := put.Write(offset, buf, func(err error) { done <- err }); err != nil {
		return err
	}
	return <-done
}

// PgRead implements spec §4.8.5: an ordinary Read plus a CRC32C per 4KiB
// page.
func (f *File) PgRead(ctx context.Context, offset int64, size int) ([]byte, []PageChecksum, error) {
	data, err := f.Read(ctx, offset, size)
	if err != nil {
		return nil, nil, err
	}
	return data, ComputePageChecksums(data, offset), nil
}

// VectorRead implements spec §4.8.6.
func (f *File) VectorRead(ctx context.Context, chunks []ChunkRequest) (*VectorReadInfo, error) {
	if info, empty := PlanVectorRead(chunks); empty {
		return info, nil
	}

	first := chunks[0]
	last := chunks[len(chunks)-1]
	lo, hi := first.Offset, last.Offset+int64(last.Length)
	for _, c := range chunks {
		if c.Offset < lo {
			lo = c.Offset
		}
		if c.Offset+int64(c.Length) > hi {
			hi = c.Offset + int64(c.Length)
		}
	}

	done := make(chan struct {
		data    []byte
		headers *ParsedHeaders
		err     error
	}, 1)
	op := NewOperation(ctx, VerbOpGet, f.currentURL(), func(body []byte, headers *ParsedHeaders, err error) {
		done <- struct {
			data    []byte
			headers *ParsedHeaders
			err     error
		}{body, headers, err}
	})
	op.RangeStart = lo
	op.RangeEnd = hi - 1
	op.ConnectionCallout = f.connCallout
	op.HeaderCallout = f.headerCallout
	f.factory.Produce(op)
	r := <-done
	if r.err != nil {
		return nil, r.err
	}

	if r.headers.IsMultipart {
		results, err := ParseMultipartByteranges(r.data, r.headers.Boundary, chunks)
		if err != nil {
			return nil, err
		}
		return &VectorReadInfo{Size: sumResultSizes(results), Results: results}, nil
	}
	res, err := ParseSinglePartRange(r.headers, first, r.data)
	if err != nil {
		return nil, err
	}
	return &VectorReadInfo{Size: int64(len(res.Data)), Results: []ChunkResult{res}}, nil
}

func sumResultSizes(results []ChunkResult) int64 {
	var total int64
	for _, r := range results {
		total += int64(len(r.Data))
	}
	return total
}

// GetProperty / SetProperty implement spec §4.8.7.
func (f *File) GetProperty(key string) (string, bool) {
	switch key {
	case PropCurrentURL:
		return f.currentURL(), true
	case PropIsPrefetch:
		if f.prefetch != nil {
			return "true", true
		}
		return "false", true
	}
	return f.props.Get(key)
}

func (f *File) SetProperty(key, value string) error {
	switch key {
	case PropFullDownload:
		f.mu.Lock()
		f.fullDownload = value == "true"
		f.mu.Unlock()
	case PropStallTimeout:
		if _, err := ParseStallTimeout(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	case PropMaintenancePeriod:
		if _, err := ParseMaintenancePeriod(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	case PropPrefetchSize:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		if f.prefetch != nil {
			f.prefetch.Reset(n)
		} else {
			f.prefetch = newPrefetchState(n)
		}
	}
	f.props.Set(key, value)
	return nil
}

// SetConnectionCallout installs a connection callout for operations issued
// by this file, per spec §4.8.7's XrdClConnectionCallout property.
func (f *File) SetConnectionCallout(c ConnectionCallout) { f.connCallout = c }

// SetHeaderCallout installs a header callout, per spec §4.8.7's
// XrdClCurlHeaderCallout property.
func (f *File) SetHeaderCallout(c HeaderCallout) {
	if c == nil {
		c = PassthroughHeaderCallout{}
	}
	f.headerCallout = c
}
