// Package pgwire serves redisql over the PostgreSQL wire protocol (version
// 3.0), so PostgreSQL clients such as psql or lib/pq can send Redis commands
// as query strings and read the replies as rows.
package pgwire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/JayabrataBasu/redisql/pkg/redisql"
)

// Protocol version 3.0
const (
	ProtocolVersionNumber = 196608 // 3 << 16
	SSLRequestCode        = 80877103
	GSSENCRequestCode     = 80877104
	CancelRequestCode     = 80877102
)

// Frontend message types (client -> server)
const (
	MsgBind      byte = 'B'
	MsgClose     byte = 'C'
	MsgDescribe  byte = 'D'
	MsgExecute   byte = 'E'
	MsgFlush     byte = 'H'
	MsgParse     byte = 'P'
	MsgPassword  byte = 'p'
	MsgQuery     byte = 'Q'
	MsgSync      byte = 'S'
	MsgTerminate byte = 'X'
)

// Backend message types (server -> client)
const (
	MsgAuthentication     byte = 'R'
	MsgBackendKeyData     byte = 'K'
	MsgBindComplete       byte = '2'
	MsgCloseComplete      byte = '3'
	MsgCommandComplete    byte = 'C'
	MsgDataRow            byte = 'D'
	MsgEmptyQueryResponse byte = 'I'
	MsgErrorResponse      byte = 'E'
	MsgNoData             byte = 'n'
	MsgParameterDesc      byte = 't'
	MsgParameterStatus    byte = 'S'
	MsgParseComplete      byte = '1'
	MsgPortalSuspended    byte = 's'
	MsgReadyForQuery      byte = 'Z'
	MsgRowDescription     byte = 'T'
)

// Authentication request codes
const (
	AuthOK                = 0
	AuthCleartextPassword = 3
)

// TxnStatusIdle is the only transaction status reported; commands are never
// grouped into transactions.
const TxnStatusIdle byte = 'I'

// Error field types for ErrorResponse
const (
	FieldSeverity     byte = 'S'
	FieldSQLStateCode byte = 'C'
	FieldMessage      byte = 'M'
)

// SQLSTATE codes reported to clients
const (
	StateSyntaxError         = "42601"
	StateInvalidParameter    = "22023"
	StateInvalidCursorState  = "24000"
	StateUndefinedColumn     = "42703"
	StateFeatureNotSupported = "0A000"
	StateInvalidPassword     = "28P01"
	StateTooManyConnections  = "53300"
	StateProtocolViolation   = "08P01"
	StateInternalError       = "XX000"
)

// PostgreSQL type OIDs used in row descriptions
const (
	OIDInt8 = 20
	OIDText = 25
)

// typeInfo returns the OID and fixed size of a column type; -1 is variable.
func typeInfo(t redisql.ColumnType) (int32, int16) {
	if t == redisql.TypeInteger {
		return OIDInt8, 8
	}
	return OIDText, -1
}

// sqlState picks the SQLSTATE code for an execution error.
func sqlState(err error) string {
	switch {
	case errors.Is(err, redisql.ErrParse):
		return StateSyntaxError
	case errors.Is(err, redisql.ErrArgument):
		return StateInvalidParameter
	case errors.Is(err, redisql.ErrState):
		return StateInvalidCursorState
	case errors.Is(err, redisql.ErrNotFound):
		return StateUndefinedColumn
	case errors.Is(err, redisql.ErrUnsupported):
		return StateFeatureNotSupported
	default:
		return StateInternalError
	}
}

// MessageReader reads PostgreSQL protocol messages from a connection.
type MessageReader struct {
	r io.Reader
}

// NewMessageReader creates a new message reader.
func NewMessageReader(r io.Reader) *MessageReader {
	return &MessageReader{r: r}
}

// ReadStartup reads the startup message (no type byte, just length + payload).
func (mr *MessageReader) ReadStartup() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(mr.r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := int32(binary.BigEndian.Uint32(lenBuf[:]))

	if length < 8 || length > 10000 {
		return nil, fmt.Errorf("invalid startup message length: %d", length)
	}

	payload := make([]byte, length-4)
	if _, err := io.ReadFull(mr.r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// ReadMessage reads a frontend message (type byte + length + payload).
func (mr *MessageReader) ReadMessage() (byte, []byte, error) {
	var header [5]byte
	if _, err := io.ReadFull(mr.r, header[:]); err != nil {
		return 0, nil, err
	}
	msgType := header[0]
	length := int32(binary.BigEndian.Uint32(header[1:]))

	if length < 4 {
		return 0, nil, fmt.Errorf("invalid message length: %d", length)
	}

	// The length counts itself but not the type byte.
	payloadLen := length - 4
	if payloadLen > 1<<20 {
		return 0, nil, fmt.Errorf("message too large: %d bytes", payloadLen)
	}

	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(mr.r, payload); err != nil {
			return 0, nil, err
		}
	}
	return msgType, payload, nil
}

// MessageWriter writes PostgreSQL protocol messages to a connection.
type MessageWriter struct {
	w io.Writer
}

// NewMessageWriter creates a new message writer.
func NewMessageWriter(w io.Writer) *MessageWriter {
	return &MessageWriter{w: w}
}

// WriteMessage writes a backend message.
func (mw *MessageWriter) WriteMessage(msgType byte, payload []byte) error {
	buf := make([]byte, 5+len(payload))
	buf[0] = msgType
	binary.BigEndian.PutUint32(buf[1:5], uint32(4+len(payload)))
	copy(buf[5:], payload)

	_, err := mw.w.Write(buf)
	return err
}

// Buffer builds message payloads.
type Buffer struct {
	data []byte
}

// NewBuffer creates a new buffer.
func NewBuffer() *Buffer {
	return &Buffer{data: make([]byte, 0, 256)}
}

func (b *Buffer) WriteInt32(v int32) {
	b.data = binary.BigEndian.AppendUint32(b.data, uint32(v))
}

func (b *Buffer) WriteInt16(v int16) {
	b.data = binary.BigEndian.AppendUint16(b.data, uint16(v))
}

func (b *Buffer) WriteByte(v byte) error {
	b.data = append(b.data, v)
	return nil
}

// WriteString appends a null-terminated string.
func (b *Buffer) WriteString(s string) {
	b.data = append(b.data, s...)
	b.data = append(b.data, 0)
}

func (b *Buffer) WriteBytes(data []byte) {
	b.data = append(b.data, data...)
}

func (b *Buffer) Bytes() []byte {
	return b.data
}

func (b *Buffer) Reset() {
	b.data = b.data[:0]
}

// payloadReader consumes fields from a message payload and remembers the
// first short read.
type payloadReader struct {
	data []byte
	err  error
}

func (p *payloadReader) fail() {
	if p.err == nil {
		p.err = errors.New("message payload truncated")
	}
}

func (p *payloadReader) readInt16() int16 {
	if len(p.data) < 2 {
		p.fail()
		return 0
	}
	v := int16(binary.BigEndian.Uint16(p.data))
	p.data = p.data[2:]
	return v
}

func (p *payloadReader) readInt32() int32 {
	if len(p.data) < 4 {
		p.fail()
		return 0
	}
	v := int32(binary.BigEndian.Uint32(p.data))
	p.data = p.data[4:]
	return v
}

func (p *payloadReader) readByte() byte {
	if len(p.data) < 1 {
		p.fail()
		return 0
	}
	v := p.data[0]
	p.data = p.data[1:]
	return v
}

// readCString reads a null-terminated string.
func (p *payloadReader) readCString() string {
	for i, b := range p.data {
		if b == 0 {
			s := string(p.data[:i])
			p.data = p.data[i+1:]
			return s
		}
	}
	p.fail()
	return ""
}

func (p *payloadReader) skip(n int) {
	if n < 0 || len(p.data) < n {
		p.fail()
		p.data = nil
		return
	}
	p.data = p.data[n:]
}
