package fuse

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xrdhttp/curlfs/pkg/httpfs"
)

func TestToErrno(t *testing.T) {
	cases := []struct {
		err  error
		want syscall.Errno
	}{
		{httpfs.NewError(httpfs.KindNotFound, "Stat", "/x", "not found", nil), syscall.ENOENT},
		{httpfs.NewError(httpfs.KindNotAuthorized, "Stat", "/x", "forbidden", nil), syscall.EACCES},
		{httpfs.NewError(httpfs.KindConflict, "MkDir", "/x", "exists", nil), syscall.EEXIST},
		{httpfs.NewError(httpfs.KindServerError, "Stat", "/x", "boom", nil), syscall.EIO},
		{assert.AnError, syscall.EIO},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, toErrno(c.err))
	}
}
