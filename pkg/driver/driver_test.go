package driver

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"

	"github.com/JayabrataBasu/redisql/pkg/observability"
	"github.com/JayabrataBasu/redisql/pkg/redisql"
	"github.com/JayabrataBasu/redisql/pkg/store"
)

func openTestDB(t *testing.T) (*miniredis.Miniredis, *sqlx.DB) {
	t.Helper()
	m := miniredis.RunT(t)
	db, err := sqlx.Open(DriverName, "redis://"+m.Addr())
	if err != nil {
		t.Fatalf("sqlx.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return m, db
}

type hashEntry struct {
	Field string `db:"field"`
	Value string `db:"value"`
}

func TestSelectHash(t *testing.T) {
	m, db := openTestDB(t)
	m.HSet("user:1", "lang", "go")
	m.HSet("user:1", "name", "ada")

	var entries []hashEntry
	if err := db.Select(&entries, `HGETALL "user:1"`); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0] != (hashEntry{"lang", "go"}) || entries[1] != (hashEntry{"name", "ada"}) {
		t.Errorf("unexpected entries %+v", entries)
	}
}

func TestGetCount(t *testing.T) {
	m, db := openTestDB(t)
	m.Push("queue", "a", "b", "c")

	var n int64
	if err := db.Get(&n, "LLEN queue"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n != 3 {
		t.Errorf("LLEN = %d, want 3", n)
	}
}

func TestQueryNullValue(t *testing.T) {
	_, db := openTestDB(t)

	var v sql.NullString
	if err := db.QueryRow("GET missing").Scan(&v); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if v.Valid {
		t.Errorf("expected null, got %q", v.String)
	}
}

func TestQueryList(t *testing.T) {
	m, db := openTestDB(t)
	m.Push("l", "x", "y", "z")

	rows, err := db.Queryx("LRANGE l 0 -1")
	if err != nil {
		t.Fatalf("Queryx: %v", err)
	}
	defer rows.Close()

	var got []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			t.Fatalf("Scan: %v", err)
		}
		got = append(got, s)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(got) != 3 || got[0] != "x" || got[2] != "z" {
		t.Errorf("rows = %v", got)
	}
}

func TestColumnTypes(t *testing.T) {
	m, db := openTestDB(t)
	m.Set("k", "v")

	tests := []struct {
		query    string
		name     string
		typeName string
		scanType string
	}{
		{"GET k", "value", "VARCHAR", "NullString"},
		{"STRLEN k", "count", "BIGINT", "NullInt64"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rows, err := db.Query(tt.query)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			defer rows.Close()

			types, err := rows.ColumnTypes()
			if err != nil {
				t.Fatalf("ColumnTypes: %v", err)
			}
			if len(types) != 1 {
				t.Fatalf("expected 1 column, got %d", len(types))
			}
			ct := types[0]
			if ct.Name() != tt.name {
				t.Errorf("name = %s, want %s", ct.Name(), tt.name)
			}
			if ct.DatabaseTypeName() != tt.typeName {
				t.Errorf("type = %s, want %s", ct.DatabaseTypeName(), tt.typeName)
			}
			if ct.ScanType().Name() != tt.scanType {
				t.Errorf("scan type = %s, want %s", ct.ScanType().Name(), tt.scanType)
			}
			if nullable, ok := ct.Nullable(); !ok || !nullable {
				t.Error("expected nullable column")
			}
		})
	}
}

func TestExec(t *testing.T) {
	m, db := openTestDB(t)

	tests := []struct {
		query string
		want  int64
	}{
		{`SET greeting "hello world"`, 1},
		{"RPUSH l a b", 2},
		{"DEL l greeting", 2},
	}
	for _, tt := range tests {
		res, err := db.Exec(tt.query)
		if err != nil {
			t.Fatalf("Exec(%q): %v", tt.query, err)
		}
		n, err := res.RowsAffected()
		if err != nil || n != tt.want {
			t.Errorf("Exec(%q) rows affected = %d, %v; want %d", tt.query, n, err, tt.want)
		}
		if _, err := res.LastInsertId(); err == nil {
			t.Error("LastInsertId should not be supported")
		}
	}

	if m.Exists("greeting") {
		t.Error("greeting should have been deleted")
	}
}

func TestPreparedStatement(t *testing.T) {
	m, db := openTestDB(t)
	m.Set("k", "v")

	stmt, err := db.Prepare("GET k")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer stmt.Close()

	for i := 0; i < 2; i++ {
		var s string
		if err := stmt.QueryRow().Scan(&s); err != nil {
			t.Fatalf("QueryRow: %v", err)
		}
		if s != "v" {
			t.Errorf("got %q, want v", s)
		}
	}

	if _, err := stmt.Exec("extra"); err == nil {
		t.Error("expected error for placeholder argument")
	}
}

func TestUnsupported(t *testing.T) {
	_, db := openTestDB(t)

	if _, err := db.Begin(); !errors.Is(err, redisql.ErrUnsupported) {
		t.Errorf("Begin: expected ErrUnsupported, got %v", err)
	}
	if _, err := db.Query("GET k", "arg"); !errors.Is(err, redisql.ErrUnsupported) {
		t.Errorf("Query with args: expected ErrUnsupported, got %v", err)
	}
}

func TestErrorsPropagate(t *testing.T) {
	m, db := openTestDB(t)
	m.Set("str", "v")

	tests := []struct {
		query string
		want  error
	}{
		{"", redisql.ErrParse},
		{"HGET onlykey", redisql.ErrArgument},
		{"LPUSH str x", redisql.ErrStore},
	}
	for _, tt := range tests {
		_, err := db.Query(tt.query)
		if !errors.Is(err, tt.want) {
			t.Errorf("Query(%q) error = %v, want %v", tt.query, err, tt.want)
		}
	}
}

func TestPing(t *testing.T) {
	m, db := openTestDB(t)
	if err := db.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	m.Close()
	if err := db.Ping(); err == nil {
		t.Error("expected ping to fail after server shutdown")
	}
}

func TestOpenInvalidURL(t *testing.T) {
	db, err := sql.Open(DriverName, "mysql://localhost")
	if err == nil {
		// sql.Open defers errors from OpenConnector on some versions.
		defer db.Close()
		err = db.Ping()
	}
	if !errors.Is(err, store.ErrInvalidURL) {
		t.Errorf("expected ErrInvalidURL, got %v", err)
	}
}

func TestConnectorSharedStats(t *testing.T) {
	m := miniredis.RunT(t)
	m.Set("k", "v")

	pool, err := store.Open(store.Options{
		Addrs:    []string{m.Addr()},
		PoolSize: 2,
	})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer pool.Close()

	stats := observability.NewStatistics()
	db := sqlx.NewDb(sql.OpenDB(NewConnector(pool, nil, stats)), DriverName)
	defer db.Close()

	for i := 0; i < 3; i++ {
		var s string
		if err := db.Get(&s, "GET k"); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}

	if got := stats.Snapshot().Verbs["GET"]; got != 3 {
		t.Errorf("GET count = %d, want 3", got)
	}

	// The pool is owned by the caller and stays usable after db.Close.
	_ = db.Close()
	if err := pool.Ping(context.Background()); err != nil {
		t.Errorf("pool closed with db: %v", err)
	}
}

func TestRawConnMetadata(t *testing.T) {
	m, db := openTestDB(t)
	m.HSet("h", "f", "v")
	ctx := context.Background()

	conn, err := db.Conn(ctx)
	if err != nil {
		t.Fatalf("Conn: %v", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "HGETALL h"); err != nil {
		t.Fatalf("Exec: %v", err)
	}

	err = conn.Raw(func(dc interface{}) error {
		md := dc.(*Conn).Executor().LastMetadata()
		if md == nil {
			return errors.New("no metadata")
		}
		if md.ColumnCount() != 2 {
			return errors.New("expected two columns")
		}
		return nil
	})
	if err != nil {
		t.Error(err)
	}
}
