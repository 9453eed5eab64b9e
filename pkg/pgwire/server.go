package pgwire

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/JayabrataBasu/redisql/internal/logger"
	"github.com/JayabrataBasu/redisql/pkg/auth"
	"github.com/JayabrataBasu/redisql/pkg/observability"
	"github.com/JayabrataBasu/redisql/pkg/redisql"
)

// Server implements a PostgreSQL wire protocol server in front of a store.
type Server struct {
	listener net.Listener
	logger   *logger.Logger
	source   redisql.ConnSource
	stats    *observability.Statistics
	users    *auth.UserCatalog
	maxConns int

	// Connection management
	connID  atomic.Uint32
	conns   map[uint32]*Conn
	connsMu sync.Mutex

	// Lifecycle
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	serverVersion string
}

// ServerConfig holds configuration for the pgwire server.
type ServerConfig struct {
	Logger *logger.Logger
	Source redisql.ConnSource
	Stats  *observability.Statistics
	// Users enables cleartext password authentication when non-empty.
	Users          *auth.UserCatalog
	MaxConnections int
	ServerVersion  string
}

// NewServer creates a new PostgreSQL wire protocol server.
func NewServer(cfg ServerConfig) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	serverVersion := cfg.ServerVersion
	if serverVersion == "" {
		serverVersion = "14.0 (redisql)"
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	stats := cfg.Stats
	if stats == nil {
		stats = observability.NewStatistics()
	}

	return &Server{
		logger:        log,
		source:        cfg.Source,
		stats:         stats,
		users:         cfg.Users,
		maxConns:      cfg.MaxConnections,
		conns:         make(map[uint32]*Conn),
		ctx:           ctx,
		cancel:        cancel,
		serverVersion: serverVersion,
	}
}

// Start starts the server listening on addr (host:port).
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.running.Store(true)

	s.logger.Info("pgwire server started", "address", listener.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every client connection, then waits for
// their handlers to finish.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()

	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.connsMu.Lock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	s.logger.Info("pgwire server stopped")
	return nil
}

// ConnectionCount returns the number of open client connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() {
				s.logger.Error("accept error", "error", err)
			}
			continue
		}

		id := s.connID.Add(1)
		pgConn := newConn(id, conn, s)

		s.connsMu.Lock()
		full := s.maxConns > 0 && len(s.conns) >= s.maxConns
		if !full {
			s.conns[id] = pgConn
		}
		s.connsMu.Unlock()

		if full {
			s.logger.Warn("connection limit reached", "remote", conn.RemoteAddr(), "max", s.maxConns)
			_ = pgConn.sendError("FATAL", StateTooManyConnections, "too many connections")
			_ = pgConn.bufW.Flush()
			pgConn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(pgConn)
	}
}

func (s *Server) handleConnection(c *Conn) {
	defer s.wg.Done()
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, c.id)
		s.connsMu.Unlock()
		c.Close()
		for _, p := range c.portals {
			p.close()
		}
	}()

	s.logger.Debug("new connection", "id", c.id, "remote", c.conn.RemoteAddr())

	if err := c.handleStartup(); err != nil {
		if !errors.Is(err, io.EOF) {
			s.logger.Warn("startup failed", "id", c.id, "error", err)
		}
		return
	}

	c.run()
	s.logger.Debug("connection closed", "id", c.id, "session", c.session)
}

// Conn represents a single client connection.
type Conn struct {
	id      uint32
	session string
	conn    net.Conn
	server  *Server
	reader  *MessageReader
	writer  *MessageWriter
	bufW    *bufio.Writer
	log     *logger.Logger

	exec       *redisql.Executor
	parameters map[string]string

	// Extended query protocol state
	statements     map[string]*PreparedStatement
	portals        map[string]*Portal
	ignoreTillSync bool

	closed atomic.Bool
}

// PreparedStatement holds a command string from a Parse message.
type PreparedStatement struct {
	Name      string
	Query     string
	ParamOIDs []int32
}

// Portal holds a bound statement. The cursor is created on the first
// Describe or Execute and paged through by later Executes.
type Portal struct {
	Name      string
	Statement *PreparedStatement
	cursor    *redisql.Cursor
	sent      int
	done      bool
}

func newConn(id uint32, conn net.Conn, server *Server) *Conn {
	bufW := bufio.NewWriter(conn)
	session := uuid.NewString()
	return &Conn{
		id:         id,
		session:    session,
		conn:       conn,
		server:     server,
		reader:     NewMessageReader(conn),
		writer:     NewMessageWriter(bufW),
		bufW:       bufW,
		log:        server.logger.With("conn", id, "session", session),
		parameters: make(map[string]string),
		statements: make(map[string]*PreparedStatement),
		portals:    make(map[string]*Portal),
	}
}

// Close closes the connection.
func (c *Conn) Close() {
	if c.closed.Swap(true) {
		return
	}
	_ = c.conn.Close()
}

func (c *Conn) handleStartup() error {
	payload, err := c.reader.ReadStartup()
	if err != nil {
		return fmt.Errorf("read startup: %w", err)
	}

	p := &payloadReader{data: payload}
	code := p.readInt32()

	switch code {
	case SSLRequestCode, GSSENCRequestCode:
		// No encryption; the client retries in plaintext.
		if _, err := c.conn.Write([]byte{'N'}); err != nil {
			return err
		}
		return c.handleStartup()

	case CancelRequestCode:
		pid := p.readInt32()
		c.log.Info("cancel request rejected", "target", pid)
		return io.EOF

	case ProtocolVersionNumber:
		return c.processStartup(p)

	default:
		return fmt.Errorf("unsupported protocol version: %d", code)
	}
}

func (c *Conn) processStartup(p *payloadReader) error {
	for len(p.data) > 1 {
		key := p.readCString()
		if key == "" {
			break
		}
		c.parameters[key] = p.readCString()
	}
	if p.err != nil {
		return fmt.Errorf("startup parameters: %w", p.err)
	}

	if err := c.authenticate(); err != nil {
		return err
	}

	c.exec = redisql.NewExecutor(c.server.source, c.log, c.server.stats)

	buf := NewBuffer()
	buf.WriteInt32(AuthOK)
	if err := c.writer.WriteMessage(MsgAuthentication, buf.Bytes()); err != nil {
		return err
	}

	serverParams := [][2]string{
		{"server_version", c.server.serverVersion},
		{"server_encoding", "UTF8"},
		{"client_encoding", "UTF8"},
		{"DateStyle", "ISO, MDY"},
		{"TimeZone", "UTC"},
		{"integer_datetimes", "on"},
		{"standard_conforming_strings", "on"},
	}
	for _, kv := range serverParams {
		buf.Reset()
		buf.WriteString(kv[0])
		buf.WriteString(kv[1])
		if err := c.writer.WriteMessage(MsgParameterStatus, buf.Bytes()); err != nil {
			return err
		}
	}

	// Cancel requests are never honored, so the secret is a placeholder.
	buf.Reset()
	buf.WriteInt32(int32(c.id))
	buf.WriteInt32(0)
	if err := c.writer.WriteMessage(MsgBackendKeyData, buf.Bytes()); err != nil {
		return err
	}

	if err := c.sendReadyForQuery(); err != nil {
		return err
	}

	c.log.Info("client connected", "user", c.parameters["user"], "application", c.parameters["application_name"])
	return c.bufW.Flush()
}

// authenticate requests a cleartext password when users are configured.
func (c *Conn) authenticate() error {
	users := c.server.users
	if users == nil || !users.Enabled() {
		return nil
	}

	buf := NewBuffer()
	buf.WriteInt32(AuthCleartextPassword)
	if err := c.writer.WriteMessage(MsgAuthentication, buf.Bytes()); err != nil {
		return err
	}
	if err := c.bufW.Flush(); err != nil {
		return err
	}

	msgType, payload, err := c.reader.ReadMessage()
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	if msgType != MsgPassword {
		return c.fatal(StateProtocolViolation, fmt.Sprintf("expected password message, got %q", msgType))
	}

	p := &payloadReader{data: payload}
	password := p.readCString()
	user := c.parameters["user"]
	if err := users.Authenticate(user, password); err != nil {
		c.log.Warn("authentication failed", "user", user, "error", err)
		return c.fatal(StateInvalidPassword, fmt.Sprintf("password authentication failed for user %q", user))
	}
	return nil
}

// fatal reports a FATAL error to the client and returns it for the caller.
func (c *Conn) fatal(code, message string) error {
	_ = c.sendError("FATAL", code, message)
	_ = c.bufW.Flush()
	return errors.New(message)
}

func (c *Conn) sendReadyForQuery() error {
	return c.writer.WriteMessage(MsgReadyForQuery, []byte{TxnStatusIdle})
}

func (c *Conn) run() {
	for !c.closed.Load() {
		msgType, payload, err := c.reader.ReadMessage()
		if err != nil {
			if !errors.Is(err, io.EOF) && !c.closed.Load() {
				c.log.Error("read message error", "error", err)
			}
			return
		}

		if c.ignoreTillSync && msgType != MsgSync && msgType != MsgTerminate {
			continue
		}

		if err := c.handleMessage(msgType, payload); err != nil {
			c.log.Debug("message failed", "type", string(msgType), "error", err)
			if err2 := c.sendError("ERROR", sqlState(err), err.Error()); err2 != nil {
				c.log.Error("sendError failed", "error", err2)
				return
			}
			c.ignoreTillSync = true
			if err2 := c.bufW.Flush(); err2 != nil {
				c.log.Error("flush failed", "error", err2)
				return
			}
		}
	}
}

func (c *Conn) handleMessage(msgType byte, payload []byte) error {
	switch msgType {
	case MsgQuery:
		return c.handleQuery(payload)
	case MsgParse:
		return c.handleParse(payload)
	case MsgBind:
		return c.handleBind(payload)
	case MsgDescribe:
		return c.handleDescribe(payload)
	case MsgExecute:
		return c.handleExecute(payload)
	case MsgSync:
		return c.handleSync()
	case MsgClose:
		return c.handleClose(payload)
	case MsgTerminate:
		c.Close()
		return nil
	case MsgFlush:
		return c.bufW.Flush()
	default:
		return fmt.Errorf("%w: message type %q", redisql.ErrUnsupported, msgType)
	}
}

// cleanQuery trims whitespace and a trailing semicolon.
func cleanQuery(q string) string {
	q = strings.TrimSpace(q)
	q = strings.TrimSuffix(q, ";")
	return strings.TrimSpace(q)
}

// handleQuery implements the simple query protocol. Errors are reported
// inline and never abort the connection.
func (c *Conn) handleQuery(payload []byte) error {
	p := &payloadReader{data: payload}
	query := cleanQuery(p.readCString())

	if query == "" {
		if err := c.writer.WriteMessage(MsgEmptyQueryResponse, nil); err != nil {
			return err
		}
	} else if err := c.runQuery(query); err != nil {
		return err
	}

	if err := c.sendReadyForQuery(); err != nil {
		return err
	}
	return c.bufW.Flush()
}

func (c *Conn) runQuery(query string) error {
	cur, err := c.exec.Query(c.server.ctx, query)
	if err != nil {
		return c.sendError("ERROR", sqlState(err), err.Error())
	}
	defer cur.Close()

	if err := c.sendRowDescription(cur); err != nil {
		return err
	}
	sent, _, err := c.sendRows(cur, 0)
	if err != nil {
		return err
	}
	return c.sendCommandComplete(sent)
}

func (c *Conn) sendRowDescription(cur *redisql.Cursor) error {
	md, err := cur.Metadata()
	if err != nil {
		return err
	}

	cols := md.Columns()
	buf := NewBuffer()
	buf.WriteInt16(int16(len(cols)))
	for _, col := range cols {
		oid, size := typeInfo(col.Type)
		buf.WriteString(col.Name)
		buf.WriteInt32(0) // table OID
		buf.WriteInt16(0) // column attribute number
		buf.WriteInt32(oid)
		buf.WriteInt16(size)
		buf.WriteInt32(-1) // type modifier
		buf.WriteInt16(0)  // text format
	}
	return c.writer.WriteMessage(MsgRowDescription, buf.Bytes())
}

// sendRows writes up to maxRows rows (all when maxRows <= 0) from the
// cursor's current position and reports whether rows remain.
func (c *Conn) sendRows(cur *redisql.Cursor, maxRows int32) (int, bool, error) {
	md, err := cur.Metadata()
	if err != nil {
		return 0, false, err
	}
	ncols := md.ColumnCount()

	sent := 0
	buf := NewBuffer()
	for maxRows <= 0 || int32(sent) < maxRows {
		ok, err := cur.Next()
		if err != nil {
			return sent, false, err
		}
		if !ok {
			return sent, false, nil
		}

		buf.Reset()
		buf.WriteInt16(int16(ncols))
		for i := 1; i <= ncols; i++ {
			v, err := cur.Value(i)
			if err != nil {
				return sent, false, err
			}
			if v.Null {
				buf.WriteInt32(-1)
				continue
			}
			text := v.String()
			buf.WriteInt32(int32(len(text)))
			buf.WriteBytes([]byte(text))
		}
		if err := c.writer.WriteMessage(MsgDataRow, buf.Bytes()); err != nil {
			return sent, false, err
		}
		sent++
	}

	more := cur.Row() < cur.RowCount()
	return sent, more, nil
}

func (c *Conn) sendCommandComplete(rows int) error {
	buf := NewBuffer()
	buf.WriteString(fmt.Sprintf("SELECT %d", rows))
	return c.writer.WriteMessage(MsgCommandComplete, buf.Bytes())
}

func (c *Conn) sendError(severity, code, message string) error {
	buf := NewBuffer()
	_ = buf.WriteByte(FieldSeverity)
	buf.WriteString(severity)
	_ = buf.WriteByte(FieldSQLStateCode)
	buf.WriteString(code)
	_ = buf.WriteByte(FieldMessage)
	buf.WriteString(message)
	_ = buf.WriteByte(0)
	return c.writer.WriteMessage(MsgErrorResponse, buf.Bytes())
}

// Extended Query Protocol handlers

func (c *Conn) handleParse(payload []byte) error {
	p := &payloadReader{data: payload}
	name := p.readCString()
	query := cleanQuery(p.readCString())
	numParams := p.readInt16()

	paramOIDs := make([]int32, 0, max(int(numParams), 0))
	for i := int16(0); i < numParams; i++ {
		paramOIDs = append(paramOIDs, p.readInt32())
	}
	if p.err != nil {
		return fmt.Errorf("parse message: %w", p.err)
	}

	c.statements[name] = &PreparedStatement{
		Name:      name,
		Query:     query,
		ParamOIDs: paramOIDs,
	}
	return c.writer.WriteMessage(MsgParseComplete, nil)
}

func (c *Conn) handleBind(payload []byte) error {
	p := &payloadReader{data: payload}
	portalName := p.readCString()
	stmtName := p.readCString()

	numFormats := p.readInt16()
	p.skip(int(numFormats) * 2)
	numValues := p.readInt16()
	if p.err != nil {
		return fmt.Errorf("bind message: %w", p.err)
	}

	stmt, ok := c.statements[stmtName]
	if !ok {
		return fmt.Errorf("%w: prepared statement %q", redisql.ErrNotFound, stmtName)
	}
	if numValues > 0 {
		return fmt.Errorf("%w: query parameters", redisql.ErrUnsupported)
	}

	if old, ok := c.portals[portalName]; ok {
		old.close()
	}
	c.portals[portalName] = &Portal{Name: portalName, Statement: stmt}

	return c.writer.WriteMessage(MsgBindComplete, nil)
}

func (c *Conn) handleDescribe(payload []byte) error {
	p := &payloadReader{data: payload}
	descType := p.readByte()
	name := p.readCString()
	if p.err != nil {
		return fmt.Errorf("describe message: %w", p.err)
	}

	switch descType {
	case 'S':
		stmt, ok := c.statements[name]
		if !ok {
			return fmt.Errorf("%w: prepared statement %q", redisql.ErrNotFound, name)
		}

		buf := NewBuffer()
		buf.WriteInt16(int16(len(stmt.ParamOIDs)))
		for _, oid := range stmt.ParamOIDs {
			buf.WriteInt32(oid)
		}
		if err := c.writer.WriteMessage(MsgParameterDesc, buf.Bytes()); err != nil {
			return err
		}
		// The shape of a reply is only known once the command has run.
		return c.writer.WriteMessage(MsgNoData, nil)

	case 'P':
		portal, ok := c.portals[name]
		if !ok {
			return fmt.Errorf("%w: portal %q", redisql.ErrNotFound, name)
		}
		if err := c.openPortal(portal); err != nil {
			return err
		}
		if portal.cursor == nil {
			return c.writer.WriteMessage(MsgNoData, nil)
		}
		return c.sendRowDescription(portal.cursor)

	default:
		return fmt.Errorf("unknown describe type: %q", descType)
	}
}

// openPortal runs the portal's command once.
func (c *Conn) openPortal(portal *Portal) error {
	if portal.cursor != nil || portal.done || portal.Statement.Query == "" {
		return nil
	}
	cur, err := c.exec.Query(c.server.ctx, portal.Statement.Query)
	if err != nil {
		portal.done = true
		return err
	}
	portal.cursor = cur
	return nil
}

func (c *Conn) handleExecute(payload []byte) error {
	p := &payloadReader{data: payload}
	portalName := p.readCString()
	maxRows := p.readInt32()
	if p.err != nil {
		return fmt.Errorf("execute message: %w", p.err)
	}

	portal, ok := c.portals[portalName]
	if !ok {
		return fmt.Errorf("%w: portal %q", redisql.ErrNotFound, portalName)
	}
	if portal.Statement.Query == "" {
		return c.writer.WriteMessage(MsgEmptyQueryResponse, nil)
	}
	if err := c.openPortal(portal); err != nil {
		return err
	}
	if portal.cursor == nil {
		return c.sendCommandComplete(portal.sent)
	}

	sent, more, err := c.sendRows(portal.cursor, maxRows)
	portal.sent += sent
	if err != nil {
		return err
	}
	if more {
		return c.writer.WriteMessage(MsgPortalSuspended, nil)
	}

	portal.close()
	return c.sendCommandComplete(portal.sent)
}

func (c *Conn) handleSync() error {
	c.ignoreTillSync = false
	// Unnamed portals do not survive the end of an implicit transaction.
	if p, ok := c.portals[""]; ok {
		p.close()
		delete(c.portals, "")
	}
	if err := c.sendReadyForQuery(); err != nil {
		return err
	}
	return c.bufW.Flush()
}

func (c *Conn) handleClose(payload []byte) error {
	p := &payloadReader{data: payload}
	closeType := p.readByte()
	name := p.readCString()
	if p.err != nil {
		return fmt.Errorf("close message: %w", p.err)
	}

	switch closeType {
	case 'S':
		delete(c.statements, name)
	case 'P':
		if portal, ok := c.portals[name]; ok {
			portal.close()
			delete(c.portals, name)
		}
	}
	return c.writer.WriteMessage(MsgCloseComplete, nil)
}

func (p *Portal) close() {
	if p.cursor != nil {
		_ = p.cursor.Close()
		p.cursor = nil
	}
	p.done = true
}
