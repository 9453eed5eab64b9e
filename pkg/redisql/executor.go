package redisql

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/JayabrataBasu/redisql/internal/logger"
	"github.com/JayabrataBasu/redisql/pkg/observability"
)

// Executor runs command text against a store and shapes the replies.
// Each command borrows its own connection from the source and returns it
// before the call completes. The database chosen with SELECT is remembered
// and applied to every later connection.
type Executor struct {
	src   ConnSource
	log   *logger.Logger
	stats *observability.Statistics

	mu   sync.Mutex
	db   int
	last *Metadata
}

// NewExecutor creates an executor. A nil logger or stats tracker is replaced
// with a no-op logger and a private tracker.
func NewExecutor(src ConnSource, log *logger.Logger, stats *observability.Statistics) *Executor {
	if log == nil {
		log = logger.NewNop()
	}
	if stats == nil {
		stats = observability.NewStatistics()
	}
	return &Executor{
		src:   src,
		log:   log,
		stats: stats,
		db:    src.DB(),
	}
}

// Execute runs text and returns its tabular result.
func (e *Executor) Execute(ctx context.Context, text string) (*Result, error) {
	res, _, err := e.execute(ctx, text)
	return res, err
}

// Query runs text and returns a cursor over its result.
func (e *Executor) Query(ctx context.Context, text string) (*Cursor, error) {
	res, _, err := e.execute(ctx, text)
	if err != nil {
		return nil, err
	}
	return NewCursor(res)
}

// Exec runs text and returns an update count: 1 for an OK status, the value
// of an integer or numeric reply, and 1 for anything else.
func (e *Executor) Exec(ctx context.Context, text string) (int64, error) {
	_, reply, err := e.execute(ctx, text)
	if err != nil {
		return 0, err
	}
	return UpdateCount(reply), nil
}

// Cancel is not supported; commands run to completion.
func (e *Executor) Cancel() error {
	return fmt.Errorf("%w: cancel", ErrUnsupported)
}

// LastMetadata describes the most recent successful result, or nil.
func (e *Executor) LastMetadata() *Metadata {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Database returns the logical database commands currently run against.
func (e *Executor) Database() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.db
}

// Stats returns the executor's statistics tracker.
func (e *Executor) Stats() *observability.Statistics {
	return e.stats
}

func (e *Executor) execute(ctx context.Context, text string) (*Result, Reply, error) {
	start := time.Now()
	id := uuid.NewString()

	cmd, err := Parse(text)
	if err != nil {
		e.stats.Record(observability.Execution{FailureClass: ErrorClass(err), Duration: time.Since(start)})
		return nil, Reply{}, err
	}

	_, known := Lookup(cmd.Verb)
	reply, err := e.dispatch(ctx, cmd)
	elapsed := time.Since(start)
	if err != nil {
		e.stats.Record(observability.Execution{
			Verb:         cmd.Verb,
			Passthrough:  !known,
			FailureClass: ErrorClass(err),
			Duration:     elapsed,
		})
		if errors.Is(err, ErrStore) {
			e.log.Warn("command failed", "id", id, "verb", cmd.Verb, "error", err)
		} else {
			e.log.Debug("command rejected", "id", id, "verb", cmd.Verb, "error", err)
		}
		return nil, Reply{}, err
	}

	res := Shape(reply)
	e.mu.Lock()
	e.last = NewMetadata(res.Columns)
	e.mu.Unlock()

	e.stats.Record(observability.Execution{
		Verb:        cmd.Verb,
		Passthrough: !known,
		Rows:        res.RowCount(),
		Duration:    elapsed,
	})
	e.log.Debug("command executed",
		"id", id,
		"verb", cmd.Verb,
		"args", len(cmd.Args),
		"reply", reply.Kind.String(),
		"rows", res.RowCount(),
		"passthrough", !known,
		"duration", elapsed,
	)
	return res, reply, nil
}

func (e *Executor) dispatch(ctx context.Context, cmd *Command) (Reply, error) {
	conn, err := e.src.Acquire(ctx)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: acquire connection: %v", ErrStore, err)
	}
	defer e.release(ctx, conn)

	e.mu.Lock()
	db := e.db
	e.mu.Unlock()
	if db != e.src.DB() {
		if err := selectDB(ctx, conn, db); err != nil {
			return Reply{}, storeError("SELECT", err)
		}
	}

	reply, err := Dispatch(ctx, conn, cmd)
	if err != nil {
		return Reply{}, err
	}

	if cmd.Verb == "SELECT" {
		n, _ := strconv.Atoi(cmd.Args[0])
		e.mu.Lock()
		e.db = n
		e.mu.Unlock()
	}
	return reply, nil
}

// release puts a connection that was moved to another database back on the
// default one before closing it.
func (e *Executor) release(ctx context.Context, conn Conn) {
	e.mu.Lock()
	db := e.db
	e.mu.Unlock()

	if db != e.src.DB() {
		if err := selectDB(ctx, conn, e.src.DB()); err != nil {
			e.log.Warn("failed to reset database", "db", e.src.DB(), "error", err)
		}
	}
	if err := conn.Close(); err != nil {
		e.log.Warn("failed to release connection", "error", err)
	}
}

func selectDB(ctx context.Context, conn Conn, db int) error {
	cmd := redis.NewStatusCmd(ctx, "select", db)
	_ = conn.Process(ctx, cmd)
	return cmd.Err()
}

// UpdateCount converts a reply into the number reported by Exec.
func UpdateCount(r Reply) int64 {
	switch r.Kind {
	case KindInteger:
		return r.Int
	case KindString:
		if r.Str == "OK" {
			return 1
		}
		if n, err := strconv.ParseInt(r.Str, 10, 64); err == nil {
			return n
		}
	}
	return 1
}

// ErrorClass names the sentinel an error wraps, for statistics and logs.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrArgument):
		return "argument"
	case errors.Is(err, ErrStore):
		return "store"
	case errors.Is(err, ErrState):
		return "state"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	default:
		return "other"
	}
}
