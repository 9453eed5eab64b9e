package pgwire

import (
	"bufio"
	"bytes"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lib/pq"

	"github.com/JayabrataBasu/redisql/pkg/auth"
	"github.com/JayabrataBasu/redisql/pkg/observability"
	"github.com/JayabrataBasu/redisql/pkg/store"
)

// TestProtocolMessages tests the message encoding/decoding functions.
func TestProtocolMessages(t *testing.T) {
	buf := NewBuffer()
	buf.WriteInt32(12345)
	buf.WriteInt16(100)
	_ = buf.WriteByte('X')
	buf.WriteString("hello")
	buf.WriteBytes([]byte{1, 2, 3})

	p := &payloadReader{data: buf.Bytes()}
	if v := p.readInt32(); v != 12345 {
		t.Errorf("Expected 12345, got %d", v)
	}
	if v := p.readInt16(); v != 100 {
		t.Errorf("Expected 100, got %d", v)
	}
	if v := p.readByte(); v != 'X' {
		t.Errorf("Expected 'X', got %c", v)
	}
	if s := p.readCString(); s != "hello" {
		t.Errorf("Expected 'hello', got %q", s)
	}
	p.skip(3)
	if p.err != nil {
		t.Fatalf("unexpected error: %v", p.err)
	}

	p.readInt32()
	if p.err == nil {
		t.Error("expected truncation error reading past the end")
	}
}

// TestMessageWriter tests writing messages.
func TestMessageWriter(t *testing.T) {
	var buf bytes.Buffer
	mw := NewMessageWriter(&buf)

	payload := []byte("test payload")
	if err := mw.WriteMessage('Q', payload); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	data := buf.Bytes()
	if data[0] != 'Q' {
		t.Errorf("Expected type 'Q', got %c", data[0])
	}
	length := binary.BigEndian.Uint32(data[1:5])
	if length != uint32(4+len(payload)) {
		t.Errorf("Expected length %d, got %d", 4+len(payload), length)
	}
	if !bytes.Equal(data[5:], payload) {
		t.Errorf("Payload mismatch")
	}
}

// TestMessageReader tests reading messages.
func TestMessageReader(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("GET key\x00")
	_ = NewMessageWriter(&buf).WriteMessage('Q', payload)

	mr := NewMessageReader(&buf)
	msgType, msgPayload, err := mr.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if msgType != 'Q' {
		t.Errorf("Expected type 'Q', got %c", msgType)
	}
	if !bytes.Equal(msgPayload, payload) {
		t.Errorf("Payload mismatch: expected %q, got %q", payload, msgPayload)
	}
}

// TestStartupMessage tests reading startup messages.
func TestStartupMessage(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(startupMessage(map[string]string{"user": "tester"}))

	payload, err := NewMessageReader(&buf).ReadStartup()
	if err != nil {
		t.Fatalf("ReadStartup failed: %v", err)
	}

	p := &payloadReader{data: payload}
	if ver := p.readInt32(); ver != ProtocolVersionNumber {
		t.Errorf("Expected protocol version %d, got %d", ProtocolVersionNumber, ver)
	}
	if key, val := p.readCString(), p.readCString(); key != "user" || val != "tester" {
		t.Errorf("unexpected parameter %q=%q", key, val)
	}
}

func TestShortStartupRejected(t *testing.T) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, int32(6))
	buf.Write([]byte{0, 0})

	if _, err := NewMessageReader(&buf).ReadStartup(); err == nil {
		t.Error("expected error for short startup message")
	}
}

// --- helpers ---

func startTestServer(t *testing.T, mutate func(*ServerConfig)) (*miniredis.Miniredis, *Server) {
	t.Helper()
	m := miniredis.RunT(t)

	opts := store.DefaultOptions()
	opts.Addrs = []string{m.Addr()}
	pool, err := store.Open(opts)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	cfg := ServerConfig{Source: pool, Stats: observability.NewStatistics()}
	if mutate != nil {
		mutate(&cfg)
	}
	server := NewServer(cfg)
	if err := server.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return m, server
}

func openPQ(t *testing.T, server *Server, userinfo string) *sql.DB {
	t.Helper()
	addr := server.Addr().(*net.TCPAddr)
	dsn := fmt.Sprintf("postgres://%s@127.0.0.1:%d/redis?sslmode=disable", userinfo, addr.Port)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func startupMessage(params map[string]string) []byte {
	var body bytes.Buffer
	_ = binary.Write(&body, binary.BigEndian, int32(ProtocolVersionNumber))
	for k, v := range params {
		body.WriteString(k)
		body.WriteByte(0)
		body.WriteString(v)
		body.WriteByte(0)
	}
	body.WriteByte(0)

	out := make([]byte, 4, 4+body.Len())
	binary.BigEndian.PutUint32(out, uint32(4+body.Len()))
	return append(out, body.Bytes()...)
}

type backendMsg struct {
	typ     byte
	payload []byte
}

// rawClient speaks the protocol directly for flows database/sql never uses.
type rawClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialRaw(t *testing.T, server *Server) *rawClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", server.Addr().String(), 5*time.Second)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	return &rawClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *rawClient) send(typ byte, payload []byte) {
	c.t.Helper()
	if err := NewMessageWriter(c.conn).WriteMessage(typ, payload); err != nil {
		c.t.Fatalf("send %c: %v", typ, err)
	}
}

func (c *rawClient) read() backendMsg {
	c.t.Helper()
	var header [5]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		c.t.Fatalf("read header: %v", err)
	}
	n := int(binary.BigEndian.Uint32(header[1:])) - 4
	payload := make([]byte, n)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		c.t.Fatalf("read payload: %v", err)
	}
	return backendMsg{typ: header[0], payload: payload}
}

// untilReady collects backend messages up to and including ReadyForQuery.
func (c *rawClient) untilReady() []backendMsg {
	c.t.Helper()
	var msgs []backendMsg
	for {
		m := c.read()
		msgs = append(msgs, m)
		if m.typ == MsgReadyForQuery {
			return msgs
		}
	}
}

func (c *rawClient) startup() {
	c.t.Helper()
	if _, err := c.conn.Write(startupMessage(map[string]string{"user": "tester"})); err != nil {
		c.t.Fatalf("Failed to send startup: %v", err)
	}
	msgs := c.untilReady()
	if msgs[0].typ != MsgAuthentication {
		c.t.Fatalf("expected AuthenticationOK first, got %c", msgs[0].typ)
	}
}

// errorCode extracts the SQLSTATE from a lib/pq error.
func errorCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func msgTypes(msgs []backendMsg) string {
	b := make([]byte, len(msgs))
	for i, m := range msgs {
		b[i] = m.typ
	}
	return string(b)
}

func dataRowValues(m backendMsg) []string {
	p := &payloadReader{data: m.payload}
	n := int(p.readInt16())
	out := make([]string, n)
	for i := 0; i < n; i++ {
		size := p.readInt32()
		if size < 0 {
			out[i] = "<nil>"
			continue
		}
		out[i] = string(p.data[:size])
		p.skip(int(size))
	}
	return out
}

// --- server tests ---

func TestServerStartStop(t *testing.T) {
	_, server := startTestServer(t, nil)

	if server.Addr() == nil {
		t.Fatal("expected a listening address")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	// A second stop is a no-op.
	if err := server.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
}

func TestQueryThroughPQ(t *testing.T) {
	m, server := startTestServer(t, nil)
	db := openPQ(t, server, "tester")
	m.HSet("user:1", "name", "ada")
	m.HSet("user:1", "lang", "go")

	rows, err := db.Query(`HGETALL "user:1"`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		t.Fatalf("Columns: %v", err)
	}
	if len(cols) != 2 || cols[0] != "field" || cols[1] != "value" {
		t.Fatalf("unexpected columns %v", cols)
	}

	var got []string
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			t.Fatalf("Scan: %v", err)
		}
		got = append(got, field+"="+value)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(got) != 2 || got[0] != "lang=go" || got[1] != "name=ada" {
		t.Errorf("unexpected rows %v", got)
	}
}

func TestIntegerAndNullThroughPQ(t *testing.T) {
	m, server := startTestServer(t, nil)
	db := openPQ(t, server, "tester")
	m.Push("queue", "a", "b", "c")

	var n int64
	if err := db.QueryRow("LLEN queue").Scan(&n); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if n != 3 {
		t.Errorf("LLEN = %d, want 3", n)
	}

	var v sql.NullString
	if err := db.QueryRow("GET missing").Scan(&v); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if v.Valid {
		t.Errorf("expected NULL, got %q", v.String)
	}
}

func TestExecThroughPQ(t *testing.T) {
	m, server := startTestServer(t, nil)
	db := openPQ(t, server, "tester")

	res, err := db.Exec("SET greeting hello;")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		t.Errorf("RowsAffected = %d (%v), want 1", n, err)
	}
	m.CheckGet(t, "greeting", "hello")
}

func TestErrorThroughPQ(t *testing.T) {
	_, server := startTestServer(t, nil)
	db := openPQ(t, server, "tester")

	tests := []struct {
		query string
		code  string
	}{
		{`GET "unterminated`, StateSyntaxError},
		{"GET", StateInvalidParameter},
		{"SET k v EX soon", StateInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			_, err := db.Query(tt.query)
			if err == nil {
				t.Fatal("expected error")
			}
			if code := errorCode(err); code != tt.code {
				t.Errorf("expected SQLSTATE %s, got %q (%v)", tt.code, code, err)
			}
		})
	}

	// The connection stays usable after errors.
	var pong string
	if err := db.QueryRow("PING").Scan(&pong); err != nil {
		t.Fatalf("PING after error: %v", err)
	}
	if pong != "PONG" {
		t.Errorf("PING = %q", pong)
	}
}

func TestSelectPersistsPerSession(t *testing.T) {
	m, server := startTestServer(t, nil)
	db := openPQ(t, server, "tester")

	if _, err := db.Exec("SELECT 4"); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if _, err := db.Exec("SET k v"); err != nil {
		t.Fatalf("SET: %v", err)
	}
	if got, err := m.DB(4).Get("k"); err != nil || got != "v" {
		t.Errorf("expected k=v in db 4, got %q (%v)", got, err)
	}
	if m.Exists("k") {
		t.Error("key leaked into db 0")
	}
}

func TestPasswordAuthentication(t *testing.T) {
	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	users, err := auth.NewUserCatalog(map[string]string{"app": hash})
	if err != nil {
		t.Fatalf("NewUserCatalog: %v", err)
	}
	_, server := startTestServer(t, func(cfg *ServerConfig) { cfg.Users = users })

	good := openPQ(t, server, "app:s3cret")
	if err := good.Ping(); err != nil {
		t.Fatalf("Ping with valid password: %v", err)
	}

	bad := openPQ(t, server, "app:wrong")
	err = bad.Ping()
	if err == nil {
		t.Fatal("expected authentication failure")
	}
	if code := errorCode(err); code != StateInvalidPassword {
		t.Errorf("expected SQLSTATE %s, got %q (%v)", StateInvalidPassword, code, err)
	}
}

func TestConnectionLimit(t *testing.T) {
	_, server := startTestServer(t, func(cfg *ServerConfig) { cfg.MaxConnections = 1 })

	first := dialRaw(t, server)
	first.startup()

	second := dialRaw(t, server)
	msg := second.read()
	if msg.typ != MsgErrorResponse {
		t.Fatalf("expected ErrorResponse, got %c", msg.typ)
	}
	if !bytes.Contains(msg.payload, []byte(StateTooManyConnections)) {
		t.Errorf("expected SQLSTATE %s in %q", StateTooManyConnections, msg.payload)
	}
}

// TestSSLRequest tests that the server correctly rejects SSL requests.
func TestSSLRequest(t *testing.T) {
	_, server := startTestServer(t, nil)
	c := dialRaw(t, server)

	sslRequest := make([]byte, 8)
	binary.BigEndian.PutUint32(sslRequest[0:4], 8)
	binary.BigEndian.PutUint32(sslRequest[4:8], SSLRequestCode)
	if _, err := c.conn.Write(sslRequest); err != nil {
		t.Fatalf("Failed to send SSL request: %v", err)
	}

	b, err := c.r.ReadByte()
	if err != nil {
		t.Fatalf("Failed to read SSL response: %v", err)
	}
	if b != 'N' {
		t.Errorf("Expected 'N' for SSL rejection, got %c", b)
	}

	// The client may continue in plaintext.
	c.startup()
}

func TestEmptyQuery(t *testing.T) {
	_, server := startTestServer(t, nil)
	c := dialRaw(t, server)
	c.startup()

	c.send(MsgQuery, []byte("  ;\x00"))
	if got := msgTypes(c.untilReady()); got != "IZ" {
		t.Errorf("expected EmptyQueryResponse then ReadyForQuery, got %q", got)
	}
}

func TestPortalPaging(t *testing.T) {
	m, server := startTestServer(t, nil)
	m.Push("queue", "a", "b", "c", "d", "e")
	c := dialRaw(t, server)
	c.startup()

	parse := NewBuffer()
	parse.WriteString("")
	parse.WriteString("LRANGE queue 0 -1")
	parse.WriteInt16(0)
	c.send(MsgParse, parse.Bytes())

	bind := NewBuffer()
	bind.WriteString("")
	bind.WriteString("")
	bind.WriteInt16(0)
	bind.WriteInt16(0)
	bind.WriteInt16(0)
	c.send(MsgBind, bind.Bytes())

	describe := NewBuffer()
	_ = describe.WriteByte('P')
	describe.WriteString("")
	c.send(MsgDescribe, describe.Bytes())

	execute := func(maxRows int32) {
		b := NewBuffer()
		b.WriteString("")
		b.WriteInt32(maxRows)
		c.send(MsgExecute, b.Bytes())
	}
	execute(2)
	execute(2)
	execute(2)
	c.send(MsgSync, nil)

	msgs := c.untilReady()
	if got, want := msgTypes(msgs), "12TDDsDDsDCZ"; got != want {
		t.Fatalf("message sequence %q, want %q", got, want)
	}

	var values []string
	for _, msg := range msgs {
		if msg.typ == MsgDataRow {
			values = append(values, dataRowValues(msg)...)
		}
	}
	if fmt.Sprint(values) != "[a b c d e]" {
		t.Errorf("unexpected rows %v", values)
	}

	complete := msgs[len(msgs)-2]
	if tag := string(bytes.TrimRight(complete.payload, "\x00")); tag != "SELECT 5" {
		t.Errorf("command tag %q, want SELECT 5", tag)
	}
}

func TestBindParametersRejected(t *testing.T) {
	_, server := startTestServer(t, nil)
	c := dialRaw(t, server)
	c.startup()

	parse := NewBuffer()
	parse.WriteString("stmt")
	parse.WriteString("GET k")
	parse.WriteInt16(0)
	c.send(MsgParse, parse.Bytes())

	bind := NewBuffer()
	bind.WriteString("")
	bind.WriteString("stmt")
	bind.WriteInt16(0)
	bind.WriteInt16(1)
	bind.WriteInt32(1)
	bind.WriteBytes([]byte("x"))
	bind.WriteInt16(0)
	c.send(MsgBind, bind.Bytes())

	// Ignored until Sync.
	c.send(MsgExecute, []byte("\x00\x00\x00\x00\x00"))
	c.send(MsgSync, nil)

	msgs := c.untilReady()
	if got := msgTypes(msgs); got != "1EZ" {
		t.Fatalf("message sequence %q, want 1EZ", got)
	}
	if !bytes.Contains(msgs[1].payload, []byte(StateFeatureNotSupported)) {
		t.Errorf("expected SQLSTATE %s in %q", StateFeatureNotSupported, msgs[1].payload)
	}
}

func TestStatisticsShared(t *testing.T) {
	stats := observability.NewStatistics()
	_, server := startTestServer(t, func(cfg *ServerConfig) { cfg.Stats = stats })

	for i := 0; i < 2; i++ {
		db := openPQ(t, server, "tester")
		if err := db.Ping(); err != nil {
			t.Fatalf("Ping: %v", err)
		}
		if _, err := db.Exec("PING"); err != nil {
			t.Fatalf("Exec: %v", err)
		}
	}

	if snap := stats.Snapshot(); snap.CommandsExecuted != 2 {
		t.Errorf("CommandsExecuted = %d, want 2", snap.CommandsExecuted)
	}
}
