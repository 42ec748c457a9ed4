package recorder

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on dispatches(action, seq) for trace filtering
const currentSchemaVersion = 1

// Recorder persists store pipeline events to SQLite.
//
// Recorder implements fluxtor.Observer. OnEvent serializes the event on the
// dispatching goroutine and hands it to a queue; a single writer goroutine
// started by Start drains the queue into the database.
type Recorder struct {
	db     *sql.DB
	queue  *recordQueue
	logger *slog.Logger

	started   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	// writeMu serializes writes between the writer goroutine and
	// synchronous drains.
	writeMu sync.Mutex

	errMu    sync.Mutex
	writeErr error
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger used for write failures.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Open creates or opens a trace database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
func Open(path string, opts ...Option) (*Recorder, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	r := &Recorder{
		db:     db,
		queue:  newRecordQueue(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start launches the writer goroutine. Calling Start more than once has no
// effect. Cancelling ctx stops the writer; records still queued are written
// by Close.
func (r *Recorder) Start(ctx context.Context) {
	if r.started.CompareAndSwap(false, true) {
		go r.run(ctx)
	}
}

// Flush blocks until every record queued before the call is written.
// Without a running writer, Flush writes the queue itself.
func (r *Recorder) Flush(ctx context.Context) error {
	if !r.isRunning() {
		r.drain(ctx)
		return r.Err()
	}

	marker := make(chan struct{})
	if !r.queue.Enqueue(record{flushed: marker}) {
		return r.Err()
	}

	select {
	case <-marker:
		return r.Err()
	case <-r.done:
		r.drain(ctx)
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events, writes everything still queued and closes
// the database. It returns the first write error, if any.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		r.queue.Close()
		if r.started.Load() {
			<-r.done
		}
		r.drain(context.Background())
		r.closeErr = errors.Join(r.Err(), r.db.Close())
	})
	return r.closeErr
}

// Err returns the first error hit while writing, or nil.
func (r *Recorder) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.writeErr
}

// DB returns the underlying sql.DB for direct queries.
func (r *Recorder) DB() *sql.DB {
	return r.db
}

// isRunning reports whether the writer goroutine is alive.
func (r *Recorder) isRunning() bool {
	if !r.started.Load() {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

func (r *Recorder) run(ctx context.Context) {
	defer close(r.done)
	// Cancellation stops the loop, never a write in progress
	writeCtx := context.WithoutCancel(ctx)
	for {
		if ctx.Err() != nil {
			return
		}
		if rec, ok := r.queue.TryDequeue(); ok {
			r.handle(writeCtx, rec)
			continue
		}
		if r.queue.Drained() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-r.queue.Wait():
		}
	}
}

// drain writes every queued record on the calling goroutine.
func (r *Recorder) drain(ctx context.Context) {
	for {
		rec, ok := r.queue.TryDequeue()
		if !ok {
			return
		}
		r.handle(ctx, rec)
	}
}

func (r *Recorder) handle(ctx context.Context, rec record) {
	if rec.flushed != nil {
		close(rec.flushed)
		return
	}

	r.writeMu.Lock()
	err := r.write(ctx, rec)
	r.writeMu.Unlock()
	if err != nil {
		r.logger.Warn("trace write failed",
			"event", string(rec.eventType),
			"dispatch_id", rec.dispatchID,
			"error", err,
		)
		r.errMu.Lock()
		if r.writeErr == nil {
			r.writeErr = err
		}
		r.errMu.Unlock()
	}
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_dispatches_action
		ON dispatches(action, seq)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (r *Recorder) verifyPragma(name, expected string) error {
	var value string
	if err := r.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
