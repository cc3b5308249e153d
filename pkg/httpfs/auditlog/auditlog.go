// Package auditlog durably records completed operations (verb, URL, status,
// error kind, duration, bytes moved) for post-hoc debugging of transfer
// failures, per SPEC_FULL.md's domain stack section. migrate owns the
// "operations" table schema; Writer batches inserts off the hot path via a
// buffered channel so it never blocks a Worker.
package auditlog

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Record is one completed operation.
type Record struct {
	Verb       string
	URL        string
	Status     int
	ErrorKind  string
	Duration   time.Duration
	BytesMoved int64
	At         time.Time
}

// Writer buffers Records and flushes them in batches.
type Writer struct {
	pool    *pgxpool.Pool
	records chan Record
	done    chan struct{}
}

// Migrate applies all pending schema migrations against dsn. lib/pq is
// imported solely to satisfy golang-migrate's "postgres" source/driver name
// registration used by some deployments' migrate CLI; the Writer itself
// talks to Postgres through pgx.
func Migrate(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("building migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// NewWriter connects to dsn and starts a background batching flush loop.
func NewWriter(ctx context.Context, dsn string) (*Writer, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to audit log database: %w", err)
	}
	w := &Writer{pool: pool, records: make(chan Record, 1024), done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Writer) run() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	var batch []Record
	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.insertBatch(batch)
		batch = nil
	}
	for {
		select {
		case r := <-w.records:
			batch = append(batch, r)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.done:
			flush()
			w.done <- struct{}{}
			return
		}
	}
}

func (w *Writer) insertBatch(batch []Record) {
	ctx := context.Background()
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return
	}
	defer tx.Rollback(ctx)

	var errs *multierror.Error
	for _, r := range batch {
		_, err := tx.Exec(ctx,
			`INSERT INTO operations (verb, url, status, error_kind, duration_ms, bytes_moved, occurred_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.Verb, r.URL, r.Status, r.ErrorKind, r.Duration.Milliseconds(), r.BytesMoved, r.At)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if errs.ErrorOrNil() == nil {
		tx.Commit(ctx)
	}
}

// Record queues r for the next batch flush without ever blocking the
// caller; when the buffer is full, r is dropped.
func (w *Writer) Record(r Record) {
	select {
	case w.records <- r:
	default:
	}
}

// Close stops the flush loop after a final flush and closes the pool.
func (w *Writer) Close() {
	w.done <- struct{}{}
	<-w.done
	w.pool.Close()
}
