// Package httpfs turns an HTTP, WebDAV, or S3 origin into a random-access,
// POSIX-like file system for a host data-transfer client. It owns the HTTP
// operation engine: a pool of Workers, each driving a bounded set of
// concurrent transfers, coordinating per-operation pause/resume so that
// synchronous host calls (Read returning a buffer) can ride a streaming HTTP
// body that arrives asynchronously.
//
// The package is organized the way the host framework sees it: a File for
// open-file operations (Open/Read/Write/Close/PgRead/VectorRead), a
// Filesystem for non-file operations (DirList/MkDir/Rm/RmDir/Stat/Query/
// Locate), and a Factory that owns the process-wide Worker pool both are
// built on top of.
package httpfs
