package redisql

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestExecutorShapes(t *testing.T) {
	m, _, e := newTestExecutor(t)
	m.Push("letters", "a", "b", "c")
	m.HSet("user", "name", "ada")
	m.HSet("user", "lang", "go")
	m.Set("greeting", "hello")

	tests := []struct {
		text    string
		columns []string
		rows    [][]string
	}{
		{"GET missing", []string{"value"}, [][]string{{"<nil>"}}},
		{"GET greeting", []string{"value"}, [][]string{{"hello"}}},
		{"LRANGE letters 0 -1", []string{"value"}, [][]string{{"a"}, {"b"}, {"c"}}},
		{"LRANGE empty 0 -1", []string{"value"}, [][]string{{"<nil>"}}},
		{"LLEN letters", []string{"count"}, [][]string{{"3"}}},
		{"HGETALL user", []string{"field", "value"}, [][]string{{"lang", "go"}, {"name", "ada"}}},
		{"HGETALL nobody", []string{"field", "value"}, [][]string{{"<nil>", "<nil>"}}},
		{"SMEMBERS none", []string{"value"}, [][]string{{"<nil>"}}},
		{"TYPE letters", []string{"value"}, [][]string{{"list"}}},
		{"EXISTS greeting missing", []string{"count"}, [][]string{{"1"}}},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			res := mustResult(t, e, tt.text)
			if got := res.ColumnNames(); !reflect.DeepEqual(got, tt.columns) {
				t.Errorf("columns = %v, want %v", got, tt.columns)
			}
			if got := cells(res); !reflect.DeepEqual(got, tt.rows) {
				t.Errorf("rows = %v, want %v", got, tt.rows)
			}
		})
	}
}

func TestExecutorQuery(t *testing.T) {
	m, _, e := newTestExecutor(t)
	m.Push("l", "x", "y")

	c, err := e.Query(context.Background(), "lrange l 0 -1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	defer c.Close()

	if c.RowCount() != 2 {
		t.Fatalf("RowCount = %d, want 2", c.RowCount())
	}
	if ok, _ := c.Last(); !ok {
		t.Fatal("Last failed")
	}
	if s, _ := c.String(1); s != "y" {
		t.Errorf("last = %q, want y", s)
	}
}

func TestExecutorExec(t *testing.T) {
	m, _, e := newTestExecutor(t)
	m.Set("n", "41")
	ctx := context.Background()

	tests := []struct {
		text string
		want int64
	}{
		{"SET k v", 1},
		{"RPUSH l a b c", 3},
		{"INCR n", 42},
		{"DEL l k", 2},
		{"GET n", 42},
		{"TYPE n", 1},
		{"GET missing", 1},
		{"FLUSHDB", 1},
	}

	for _, tt := range tests {
		got, err := e.Exec(ctx, tt.text)
		if err != nil {
			t.Fatalf("Exec(%q): %v", tt.text, err)
		}
		if got != tt.want {
			t.Errorf("Exec(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestUpdateCount(t *testing.T) {
	tests := []struct {
		reply Reply
		want  int64
	}{
		{StringReply("OK"), 1},
		{IntegerReply(0), 0},
		{IntegerReply(7), 7},
		{StringReply("12"), 12},
		{StringReply("QUEUED"), 1},
		{NullReply(), 1},
		{ListReply(), 1},
	}
	for _, tt := range tests {
		if got := UpdateCount(tt.reply); got != tt.want {
			t.Errorf("UpdateCount(%+v) = %d, want %d", tt.reply, got, tt.want)
		}
	}
}

func TestExecutorReleasesConnections(t *testing.T) {
	m, src, e := newTestExecutor(t)
	m.Set("str", "v")
	ctx := context.Background()

	texts := []string{
		"GET str",           // success
		"HGET str",          // arity error
		"LPUSH str x",       // store error
		"NOSUCHCOMMAND",     // passthrough failure
		"LRANGE str zero 1", // coercion error
	}
	for _, text := range texts {
		_, _ = e.Execute(ctx, text)
		if n := src.borrowed(); n != 0 {
			t.Errorf("after %q: %d connections still borrowed", text, n)
		}
	}

	if src.acquired != len(texts) {
		t.Errorf("acquired %d connections, want %d", src.acquired, len(texts))
	}

	// Parse errors fail before a connection is needed.
	if _, err := e.Execute(ctx, "  "); !errors.Is(err, ErrParse) {
		t.Errorf("expected ErrParse, got %v", err)
	}
	if src.acquired != len(texts) {
		t.Error("parse error acquired a connection")
	}
}

func TestExecutorArityNeverReachesStore(t *testing.T) {
	m, _, e := newTestExecutor(t)
	before := m.CommandCount()

	for _, text := range []string{"HGET k", "HGET k f x"} {
		if _, err := e.Execute(context.Background(), text); !errors.Is(err, ErrArgument) {
			t.Errorf("%q: expected ErrArgument, got %v", text, err)
		}
	}

	if after := m.CommandCount(); after != before {
		t.Errorf("store saw %d commands, want none", after-before)
	}
}

func TestExecutorSelect(t *testing.T) {
	m, _, e := newTestExecutor(t)
	ctx := context.Background()

	if _, err := e.Execute(ctx, "SELECT 3"); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if e.Database() != 3 {
		t.Fatalf("Database() = %d, want 3", e.Database())
	}

	// Each command borrows a fresh connection; the selection must follow.
	if _, err := e.Execute(ctx, "SET k in-three"); err != nil {
		t.Fatalf("SET: %v", err)
	}
	if got, err := m.DB(3).Get("k"); err != nil || got != "in-three" {
		t.Errorf("db 3 k = %q (%v)", got, err)
	}
	if m.Exists("k") {
		t.Error("key written to db 0")
	}

	if _, err := e.Execute(ctx, "SELECT 0"); err != nil {
		t.Fatalf("SELECT 0: %v", err)
	}
	res := mustResult(t, e, "GET k")
	if !res.Rows[0][0].Null {
		t.Error("expected k to be absent in db 0")
	}
}

func TestExecutorLastMetadata(t *testing.T) {
	m, _, e := newTestExecutor(t)
	m.HSet("h", "f", "v")

	if e.LastMetadata() != nil {
		t.Error("expected no metadata before any command")
	}

	mustResult(t, e, "HGETALL h")
	md := e.LastMetadata()
	if md == nil || md.ColumnCount() != 2 {
		t.Fatalf("unexpected metadata %+v", md)
	}

	mustResult(t, e, "HLEN h")
	md = e.LastMetadata()
	if typ, _ := md.ColumnTypeName(1); typ != "BIGINT" {
		t.Errorf("column type = %s, want BIGINT", typ)
	}

	// A failed command leaves the previous metadata in place.
	_, _ = e.Execute(context.Background(), "HGET h")
	if e.LastMetadata() != md {
		t.Error("failed command replaced metadata")
	}
}

func TestExecutorCancel(t *testing.T) {
	_, _, e := newTestExecutor(t)
	if err := e.Cancel(); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestExecutorStats(t *testing.T) {
	m, _, e := newTestExecutor(t)
	m.Set("k", "v")
	ctx := context.Background()

	_, _ = e.Execute(ctx, "GET k")
	_, _ = e.Execute(ctx, "STRLEN k")
	_, _ = e.Execute(ctx, "GET")
	_, _ = e.Execute(ctx, "")

	s := e.Stats().Snapshot()
	if s.CommandsExecuted != 4 || s.CommandsSucceeded != 2 || s.CommandsFailed != 2 {
		t.Errorf("unexpected counts %+v", s)
	}
	if s.Passthrough != 1 {
		t.Errorf("passthrough = %d, want 1", s.Passthrough)
	}
	if s.Failures["argument"] != 1 || s.Failures["parse"] != 1 {
		t.Errorf("failures = %v", s.Failures)
	}
	if s.Verbs["GET"] != 2 {
		t.Errorf("GET count = %d, want 2", s.Verbs["GET"])
	}
}

func TestErrorClass(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{argumentError("GET", "bad"), "argument"},
		{storeError("GET", errors.New("boom")), "store"},
		{ErrState, "state"},
		{ErrNotFound, "not_found"},
		{ErrUnsupported, "unsupported"},
		{ErrParse, "parse"},
		{errors.New("x"), "other"},
	}
	for _, tt := range tests {
		if got := ErrorClass(tt.err); got != tt.want {
			t.Errorf("ErrorClass(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
