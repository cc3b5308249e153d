package httpfs

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// StatInfo is the result of Filesystem.Stat.
type StatInfo struct {
	Size       int64
	IsDir      bool
	ModTime    string
	Executable bool
}

// Filesystem issues the non-file operations of spec §2.9/§4.9: DirList,
// MkDir, Rm, RmDir, Stat, Query, Locate.
type Filesystem struct {
	factory *Factory
	baseURL string
	props   *PropertyMap

	mu            sync.Mutex
	subHandles    map[string]*Filesystem // keyed by scheme://host:port, per spec §3
	headerCallout HeaderCallout
	connCallout   ConnectionCallout
}

// NewFilesystem constructs a Filesystem rooted at baseURL (path and query
// params cleared, per spec §3's "per-endpoint Filesystem owns: base URL
// (with path and params cleared)").
func NewFilesystem(factory *Factory, baseURL string) (*Filesystem, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	u.Path = ""
	u.RawQuery = ""
	return &Filesystem{
		factory:       factory,
		baseURL:       u.String(),
		props:         NewPropertyMap(),
		subHandles:    make(map[string]*Filesystem),
		headerCallout: PassthroughHeaderCallout{},
	}, nil
}

// subHandleFor lazily constructs a per-scheme sub-handle keyed by
// scheme://host:port, per spec §3.
func (fs *Filesystem) subHandleFor(rawurl string) (*Filesystem, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	key := u.Scheme + "://" + u.Host
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if sub, ok := fs.subHandles[key]; ok {
		return sub, nil
	}
	sub := &Filesystem{
		factory:       fs.factory,
		baseURL:       key,
		props:         NewPropertyMap(),
		subHandles:    make(map[string]*Filesystem),
		headerCallout: fs.headerCallout,
		connCallout:   fs.connCallout,
	}
	fs.subHandles[key] = sub
	return sub, nil
}

func (fs *Filesystem) resolve(p string) string {
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p
	}
	base := strings.TrimRight(fs.baseURL, "/")
	return base + "/" + strings.TrimLeft(p, "/")
}

// calloutsFor returns the callouts that should drive an operation against
// resolved. Most paths resolve under fs's own baseURL and use fs's own
// callouts; a path that escapes to a different scheme://host (an absolute
// path argument, or a cross-host redirect target threaded back in by a
// caller) is routed through that host's lazily-built sub-handle instead, per
// spec §3's per-endpoint callout scoping.
func (fs *Filesystem) calloutsFor(resolved string) (HeaderCallout, ConnectionCallout) {
	base, err := url.Parse(fs.baseURL)
	if err != nil {
		return fs.headerCallout, fs.connCallout
	}
	u, err := url.Parse(resolved)
	if err != nil || u.Host == "" || u.Host == base.Host {
		return fs.headerCallout, fs.connCallout
	}
	sub, err := fs.subHandleFor(resolved)
	if err != nil {
		return fs.headerCallout, fs.connCallout
	}
	return sub.headerCallout, sub.connCallout
}

// DirList issues a PROPFIND with Depth: 1, per spec §4.9.
func (fs *Filesystem) DirList(ctx context.Context, path string) ([]DirEntry, error) {
	resolved := fs.resolve(path)
	done := make(chan struct {
		entries []DirEntry
		err     error
	}, 1)
	op := NewOperation(ctx, VerbOpPropfind, resolved, func(body []byte, headers *ParsedHeaders, err error) {
		if err != nil {
			done <- struct {
				entries []DirEntry
				err     error
			}{nil, err}
			return
		}
		entries, parseErr := ParsePropfindResponse(bytes.NewReader(body))
		done <- struct {
			entries []DirEntry
			err     error
		}{entries, parseErr}
	})
	op.Headers.Set("Depth", "1")
	op.HeaderCallout, op.ConnectionCallout = fs.calloutsFor(resolved)
	fs.factory.Produce(op)
	r := <-done
	return r.entries, r.err
}

// MkDir issues MKCOL, optionally creating intermediate path segments when
// makePath is set (spec §4.9, §8 scenario 5).
func (fs *Filesystem) MkDir(ctx context.Context, path string, makePath bool) error {
	if makePath {
		segments := strings.Split(strings.Trim(path, "/"), "/")
		built := ""
		for _, seg := range segments {
			if seg == "" {
				continue
			}
			built += "/" + seg
			if err := fs.mkcolOne(ctx, built); err != nil {
				if asErr, ok := err.(*Error); !ok || asErr.Kind != KindConflict {
					return err
				}
			}
		}
		return nil
	}
	return fs.mkcolOne(ctx, path)
}

func (fs *Filesystem) mkcolOne(ctx context.Context, path string) error {
	resolved := fs.resolve(path)
	done := make(chan error, 1)
	op := NewOperation(ctx, VerbOpMkcol, resolved, func(body []byte, headers *ParsedHeaders, err error) {
		done <- err
	})
	op.HeaderCallout, op.ConnectionCallout = fs.calloutsFor(resolved)
	fs.factory.Produce(op)
	return <-done
}

// Rm issues DELETE on a file path, per spec §4.9.
func (fs *Filesystem) Rm(ctx context.Context, path string) error {
	return fs.delete(ctx, path)
}

// RmDir issues DELETE on a directory path; identical to Rm per spec §4.9.
func (fs *Filesystem) RmDir(ctx context.Context, path string) error {
	return fs.delete(ctx, path)
}

func (fs *Filesystem) delete(ctx context.Context, path string) error {
	resolved := fs.resolve(path)
	done := make(chan error, 1)
	op := NewOperation(ctx, VerbOpDelete, resolved, func(body []byte, headers *ParsedHeaders, err error) {
		done <- err
	})
	op.HeaderCallout, op.ConnectionCallout = fs.calloutsFor(resolved)
	fs.factory.Produce(op)
	return <-done
}

// Stat issues HEAD, per spec §4.9; a path ending in "/" or a Content-Type
// of httpd/unix-directory marks a directory. No PROPFIND is issued.
func (fs *Filesystem) Stat(ctx context.Context, path string) (*StatInfo, error) {
	done := make(chan struct {
		info *StatInfo
		err  error
	}, 1)
	resolved := fs.resolve(path)
	op := NewOperation(ctx, VerbOpHead, resolved, func(body []byte, headers *ParsedHeaders, err error) {
		if err != nil {
			done <- struct {
				info *StatInfo
				err  error
			}{nil, err}
			return
		}
		isDir := strings.HasSuffix(path, "/")
		if ct := headers.Raw["Content-Type"]; len(ct) > 0 && ct[0] == "httpd/unix-directory" {
			isDir = true
		}
		done <- struct {
			info *StatInfo
			err  error
		}{&StatInfo{Size: headers.ContentLength, IsDir: isDir}, nil}
	})
	op.HeaderCallout, op.ConnectionCallout = fs.calloutsFor(resolved)
	fs.factory.Produce(op)
	r := <-done
	return r.info, r.err
}

// QueryChecksum issues HEAD with Want-Digest for the requested algorithm
// (falling back to crc32c for an unrecognized algo, per spec §9), returning
// "<algo> <value>" with the digest value exactly as the server sent it.
func (fs *Filesystem) QueryChecksum(ctx context.Context, path, algo string) (string, error) {
	want := WantDigestHeaderValue(algo)
	done := make(chan struct {
		value string
		err   error
	}, 1)
	resolved := fs.resolve(path)
	op := NewOperation(ctx, VerbOpHead, resolved, func(body []byte, headers *ParsedHeaders, err error) {
		if err != nil {
			done <- struct {
				value string
				err   error
			}{"", err}
			return
		}
		digest, ok := headers.Digests[want]
		if !ok {
			done <- struct {
				value string
				err   error
			}{"", NewError(KindNotSupported, "Query", path, "server did not return requested digest", nil)}
			return
		}
		done <- struct {
			value string
			err   error
		}{FormatDigestResult(want, digest), nil}
	})
	op.Headers.Set("Want-Digest", want)
	op.HeaderCallout, op.ConnectionCallout = fs.calloutsFor(resolved)
	fs.factory.Produce(op)
	r := <-done
	return r.value, r.err
}

// QueryXAttr issues a raw query for the given extended-attribute name, per
// spec §4.9.
func (fs *Filesystem) QueryXAttr(ctx context.Context, path, name string) (string, error) {
	u, err := url.Parse(fs.resolve(path))
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("xattr", name)
	u.RawQuery = q.Encode()

	done := make(chan struct {
		value string
		err   error
	}, 1)
	resolved := u.String()
	op := NewOperation(ctx, VerbOpHead, resolved, func(body []byte, headers *ParsedHeaders, err error) {
		if err != nil {
			done <- struct {
				value string
				err   error
			}{"", err}
			return
		}
		done <- struct {
			value string
			err   error
		}{strconv.FormatInt(headers.ContentLength, 10), nil}
	})
	op.HeaderCallout, op.ConnectionCallout = fs.calloutsFor(resolved)
	fs.factory.Produce(op)
	r := <-done
	return r.value, r.err
}

// Locate is a trivial single-location echo, per spec §4.9.
func (fs *Filesystem) Locate(ctx context.Context, path string) (string, error) {
	return fs.resolve(path), nil
}

// Factory returns the Factory this Filesystem issues operations through, for
// callers (e.g. the debug FUSE adapter) that need to construct their own
// Files against the same origin.
func (fs *Filesystem) Factory() *Factory { return fs.factory }

// GetProperty / SetProperty implement the Filesystem's share of spec
// §4.8.7's property map.
func (fs *Filesystem) GetProperty(key string) (string, bool) { return fs.props.Get(key) }
func (fs *Filesystem) SetProperty(key, value string)         { fs.props.Set(key, value) }

// SetHeaderCallout installs a header callout for every operation this
// Filesystem (and its sub-handles) issues.
func (fs *Filesystem) SetHeaderCallout(c HeaderCallout) {
	if c == nil {
		c = PassthroughHeaderCallout{}
	}
	fs.headerCallout = c
}

func (fs *Filesystem) SetConnectionCallout(c ConnectionCallout) { fs.connCallout = c }
