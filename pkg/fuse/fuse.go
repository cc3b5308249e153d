// Package fuse is a debug harness that mounts an httpfs.Filesystem onto a
// local directory with FUSE, for interactively poking at an origin's tree
// during development. It is not part of the host data-transfer client's
// plugin contract -- that contract only ever goes through
// httpfs.File/httpfs.Filesystem directly.
package fuse

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/xrdhttp/curlfs/pkg/httpfs"
)

// Mount mounts hfs at mountpoint and returns the running server at once;
// the caller's server.Wait() blocks until the FUSE session ends (typically
// via unmount). Read-only: Create/Write/Mkdir/Rm are left
// unimplemented since this harness exists to browse an origin, not author one.
func Mount(mountpoint string, hfs *httpfs.Filesystem) (*fuse.Server, error) {
	root := &dirNode{fs: hfs, path: "/"}
	server, err := fs.Mount(mountpoint, root, &fs.Options{
		MountOptions: fuse.MountOptions{FsName: "curlfs", Name: "curlfs"},
	})
	if err != nil {
		return nil, err
	}
	return server, nil
}

// dirNode represents one directory in the mounted origin tree.
type dirNode struct {
	fs.Inode
	fs  *httpfs.Filesystem
	path string
}

var _ fs.NodeLookuper = (*dirNode)(nil)
var _ fs.NodeReaddirer = (*dirNode)(nil)
var _ fs.NodeGetattrer = (*dirNode)(nil)

func (d *dirNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0o755 | syscall.S_IFDIR
	return 0
}

func (d *dirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := d.fs.DirList(ctx, d.path)
	if err != nil {
		return nil, toErrno(err)
	}
	list := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(syscall.S_IFREG)
		if e.IsDir {
			mode = syscall.S_IFDIR
		}
		list = append(list, fuse.DirEntry{Name: e.Name, Mode: mode})
	}
	return fs.NewListDirStream(list), 0
}

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := d.path
	if childPath != "/" {
		childPath += "/"
	}
	childPath += name

	info, err := d.fs.Stat(ctx, childPath)
	if err != nil {
		return nil, toErrno(err)
	}
	if info.IsDir {
		child := &dirNode{fs: d.fs, path: childPath}
		return d.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFDIR}), 0
	}
	child := &fileNode{fs: d.fs, path: childPath, size: info.Size}
	out.Size = uint64(info.Size)
	return d.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFREG}), 0
}

// fileNode represents one remote file, read via httpfs.File's standalone-read
// path on every Read call (no local caching -- this is a debug tool, not a
// production data path).
type fileNode struct {
	fs.Inode
	fs   *httpfs.Filesystem
	path string
	size int64
}

var _ fs.NodeGetattrer = (*fileNode)(nil)
var _ fs.NodeOpener = (*fileNode)(nil)
var _ fs.NodeReader = (*fileNode)(nil)

func (f *fileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0o644 | syscall.S_IFREG
	out.Size = uint64(f.size)
	out.Mtime = uint64(time.Now().Unix())
	return 0
}

func (f *fileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	url, err := f.fs.Locate(ctx, f.path)
	if err != nil {
		return nil, 0, toErrno(err)
	}
	file := httpfs.NewFile(f.fs.Factory())
	if err := file.Open(ctx, url, httpfs.OpenRead); err != nil {
		return nil, 0, toErrno(err)
	}
	return &openFile{file: file}, fuse.FOPEN_DIRECT_IO, 0
}

type openFile struct {
	file *httpfs.File
}

var _ fs.FileReader = (*openFile)(nil)
var _ fs.FileReleaser = (*openFile)(nil)

func (o *openFile) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := o.file.Read(ctx, off, len(dest))
	if err != nil {
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(data), 0
}

func (o *openFile) Release(ctx context.Context) syscall.Errno {
	o.file.Close(ctx)
	return 0
}

func toErrno(err error) syscall.Errno {
	herr, ok := err.(*httpfs.Error)
	if !ok {
		return syscall.EIO
	}
	switch herr.Kind {
	case httpfs.KindNotFound:
		return syscall.ENOENT
	case httpfs.KindNotAuthorized:
		return syscall.EACCES
	case httpfs.KindConflict:
		return syscall.EEXIST
	default:
		return syscall.EIO
	}
}
