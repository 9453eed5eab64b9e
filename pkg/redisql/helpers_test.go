package redisql

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// testSource hands out connections to a miniredis server and counts how
// many are still borrowed.
type testSource struct {
	client *redis.Client
	db     int

	mu          sync.Mutex
	acquired    int
	outstanding int
}

type trackedConn struct {
	*redis.Conn
	src *testSource
}

func (c *trackedConn) Close() error {
	c.src.mu.Lock()
	c.src.outstanding--
	c.src.mu.Unlock()
	return c.Conn.Close()
}

func (s *testSource) Acquire(ctx context.Context) (Conn, error) {
	s.mu.Lock()
	s.acquired++
	s.outstanding++
	s.mu.Unlock()
	return &trackedConn{Conn: s.client.Conn(), src: s}, nil
}

func (s *testSource) DB() int { return s.db }

func (s *testSource) borrowed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding
}

func newTestSource(t *testing.T) (*miniredis.Miniredis, *testSource) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr(), Protocol: 2})
	t.Cleanup(func() { _ = client.Close() })
	return m, &testSource{client: client}
}

func newTestExecutor(t *testing.T) (*miniredis.Miniredis, *testSource, *Executor) {
	t.Helper()
	m, src := newTestSource(t)
	return m, src, NewExecutor(src, nil, nil)
}

func mustResult(t *testing.T, e *Executor, text string) *Result {
	t.Helper()
	res, err := e.Execute(context.Background(), text)
	if err != nil {
		t.Fatalf("Execute(%q): %v", text, err)
	}
	return res
}

// cells renders every row as strings, with "<nil>" for nulls.
func cells(res *Result) [][]string {
	out := make([][]string, len(res.Rows))
	for i, row := range res.Rows {
		out[i] = make([]string, len(row))
		for j, v := range row {
			if v.Null {
				out[i][j] = "<nil>"
			} else {
				out[i][j] = v.String()
			}
		}
	}
	return out
}
