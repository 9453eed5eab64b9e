// Package driver registers a database/sql driver named "redisql" that runs
// Redis commands and returns their replies as rows.
//
//	db, err := sql.Open("redisql", "redis://localhost:6379/0")
//	rows, err := db.Query(`HGETALL "user:1"`)
//
// Each query string is a single command. Placeholder parameters and
// transactions are not supported.
package driver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/JayabrataBasu/redisql/internal/logger"
	"github.com/JayabrataBasu/redisql/pkg/observability"
	"github.com/JayabrataBasu/redisql/pkg/redisql"
	"github.com/JayabrataBasu/redisql/pkg/store"
)

// DriverName is the name the driver is registered under.
const DriverName = "redisql"

func init() {
	sql.Register(DriverName, &Driver{})
}

// --- Driver implementation ---

// Driver is the database/sql driver. The data source name is a connection
// URL accepted by store.ParseURL.
type Driver struct{}

// Open returns a connection with its own pool. database/sql prefers
// OpenConnector, which shares one pool across connections.
func (d *Driver) Open(name string) (driver.Conn, error) {
	c, err := d.OpenConnector(name)
	if err != nil {
		return nil, err
	}
	conn, err := c.Connect(context.Background())
	if err != nil {
		_ = c.(*Connector).Close()
		return nil, err
	}
	conn.(*Conn).ownedPool = c.(*Connector).pool
	return conn, nil
}

// OpenConnector parses name and opens the pool shared by every connection.
func (d *Driver) OpenConnector(name string) (driver.Connector, error) {
	pool, err := store.OpenURL(name)
	if err != nil {
		return nil, fmt.Errorf("redisql: %w", err)
	}
	c := NewConnector(pool, nil, nil)
	c.driver = d
	c.ownsPool = true
	return c, nil
}

// --- Connector implementation ---

// Connector creates connections that share one store pool and one
// statistics tracker.
type Connector struct {
	pool     *store.Pool
	log      *logger.Logger
	stats    *observability.Statistics
	driver   driver.Driver
	ownsPool bool
}

// NewConnector wraps an existing pool, for use with sql.OpenDB. The pool is
// not closed with the database. A nil log or stats gets a default.
func NewConnector(pool *store.Pool, log *logger.Logger, stats *observability.Statistics) *Connector {
	if log == nil {
		log = logger.NewNop()
	}
	if stats == nil {
		stats = observability.NewStatistics()
	}
	return &Connector{pool: pool, log: log, stats: stats, driver: &Driver{}}
}

// Connect returns a new connection.
func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Conn{
		pool: c.pool,
		exec: redisql.NewExecutor(c.pool, c.log, c.stats),
	}, nil
}

// Driver returns the underlying driver.
func (c *Connector) Driver() driver.Driver {
	return c.driver
}

// Stats returns the tracker shared by the connector's connections.
func (c *Connector) Stats() *observability.Statistics {
	return c.stats
}

// Close closes the pool when the connector opened it. database/sql calls it
// from DB.Close.
func (c *Connector) Close() error {
	if !c.ownsPool {
		return nil
	}
	return c.pool.Close()
}

// --- Connection implementation ---

// Conn is one logical connection. It borrows a store connection per
// command, so it holds no network resources between calls.
type Conn struct {
	pool      *store.Pool
	exec      *redisql.Executor
	ownedPool *store.Pool
	closed    bool
}

var (
	_ driver.Conn               = (*Conn)(nil)
	_ driver.ConnPrepareContext = (*Conn)(nil)
	_ driver.QueryerContext     = (*Conn)(nil)
	_ driver.ExecerContext      = (*Conn)(nil)
	_ driver.Pinger             = (*Conn)(nil)
	_ driver.ConnBeginTx        = (*Conn)(nil)
)

// Prepare returns a statement for query. Nothing is sent to the store.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

// PrepareContext returns a statement for query.
func (c *Conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if c.closed {
		return nil, driver.ErrBadConn
	}
	return &Stmt{conn: c, query: query}, nil
}

// Close marks the connection closed.
func (c *Conn) Close() error {
	c.closed = true
	if c.ownedPool != nil {
		return c.ownedPool.Close()
	}
	return nil
}

// Begin is not supported.
func (c *Conn) Begin() (driver.Tx, error) {
	return nil, fmt.Errorf("redisql: transactions: %w", redisql.ErrUnsupported)
}

// BeginTx is not supported.
func (c *Conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	return c.Begin()
}

// Ping checks that the store is reachable.
func (c *Conn) Ping(ctx context.Context) error {
	if c.closed {
		return driver.ErrBadConn
	}
	if err := c.pool.Ping(ctx); err != nil {
		return fmt.Errorf("redisql: ping: %w", err)
	}
	return nil
}

// QueryContext runs query and returns its rows.
func (c *Conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if err := c.check(args); err != nil {
		return nil, err
	}
	cur, err := c.exec.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("redisql: %w", err)
	}
	return &Rows{cursor: cur}, nil
}

// ExecContext runs query and reports its update count as rows affected.
func (c *Conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if err := c.check(args); err != nil {
		return nil, err
	}
	n, err := c.exec.Exec(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("redisql: %w", err)
	}
	return Result{rowsAffected: n}, nil
}

// Executor exposes the connection's executor, for callers that use
// sql.Conn.Raw to reach cursor navigation or metadata.
func (c *Conn) Executor() *redisql.Executor {
	return c.exec
}

func (c *Conn) check(args []driver.NamedValue) error {
	if c.closed {
		return driver.ErrBadConn
	}
	if len(args) > 0 {
		return fmt.Errorf("redisql: query parameters: %w", redisql.ErrUnsupported)
	}
	return nil
}

// --- Statement implementation ---

// Stmt is a command string. Preparing has no effect on the store.
type Stmt struct {
	conn  *Conn
	query string
}

var (
	_ driver.StmtQueryContext = (*Stmt)(nil)
	_ driver.StmtExecContext  = (*Stmt)(nil)
)

// Close closes the statement.
func (s *Stmt) Close() error {
	return nil
}

// NumInput returns 0; commands take no placeholder parameters.
func (s *Stmt) NumInput() int {
	return 0
}

func (s *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), namedValues(args))
}

func (s *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), namedValues(args))
}

func (s *Stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	return s.conn.ExecContext(ctx, s.query, args)
}

func (s *Stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	return s.conn.QueryContext(ctx, s.query, args)
}

func namedValues(args []driver.Value) []driver.NamedValue {
	named := make([]driver.NamedValue, len(args))
	for i, v := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return named
}

// --- Result implementation ---

// Result reports the update count of a command.
type Result struct {
	rowsAffected int64
}

// LastInsertId is not supported.
func (r Result) LastInsertId() (int64, error) {
	return 0, errors.New("redisql: LastInsertId is not supported")
}

// RowsAffected returns the command's update count.
func (r Result) RowsAffected() (int64, error) {
	return r.rowsAffected, nil
}

// --- Rows implementation ---

// Rows iterates a materialized result through a cursor.
type Rows struct {
	cursor *redisql.Cursor
}

var (
	_ driver.RowsColumnTypeDatabaseTypeName = (*Rows)(nil)
	_ driver.RowsColumnTypeScanType         = (*Rows)(nil)
	_ driver.RowsColumnTypeNullable         = (*Rows)(nil)
)

func (r *Rows) columns() []redisql.Column {
	md, err := r.cursor.Metadata()
	if err != nil {
		return nil
	}
	return md.Columns()
}

// Columns returns the column names.
func (r *Rows) Columns() []string {
	cols := r.columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// Close releases the cursor.
func (r *Rows) Close() error {
	return r.cursor.Close()
}

// Next fills dest with the next row, or returns io.EOF.
func (r *Rows) Next(dest []driver.Value) error {
	ok, err := r.cursor.Next()
	if err != nil {
		return err
	}
	if !ok {
		return io.EOF
	}
	for i := range dest {
		v, err := r.cursor.Value(i + 1)
		if err != nil {
			return err
		}
		dest[i] = v.Interface()
	}
	return nil
}

// ColumnTypeDatabaseTypeName returns VARCHAR or BIGINT.
func (r *Rows) ColumnTypeDatabaseTypeName(index int) string {
	cols := r.columns()
	if index < 0 || index >= len(cols) {
		return ""
	}
	return cols[index].Type.String()
}

var (
	scanTypeText    = reflect.TypeOf(sql.NullString{})
	scanTypeInteger = reflect.TypeOf(sql.NullInt64{})
)

// ColumnTypeScanType returns the nullable Go type a column scans into.
func (r *Rows) ColumnTypeScanType(index int) reflect.Type {
	cols := r.columns()
	if index >= 0 && index < len(cols) && cols[index].Type == redisql.TypeInteger {
		return scanTypeInteger
	}
	return scanTypeText
}

// ColumnTypeNullable reports every column as nullable.
func (r *Rows) ColumnTypeNullable(index int) (nullable, ok bool) {
	return true, true
}
