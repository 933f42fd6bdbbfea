// SPDX-License-Identifier: GPL-3.0-or-later
//
// Restructured from other_examples wang-xuemin/go-mssqldb's channel-based
// startReading/processSingleResponse loop into a pull-based Next() iterator:
// the token.go reference decodes one token per loop iteration and fans it
// out over a channel to a separate consumer goroutine; here the caller
// drives decoding directly by calling Next(), which better matches this
// core's bind/execute phase split (spec §4.9) and needs no extra goroutine
// per result stream.

// Package token implements the streaming TDS token-stream decoder.
package token

import (
	"bufio"
	"fmt"
	"io"

	"github.com/hugr-lab/mssql-extension/internal/encoding"
)

// Parser decodes a TDS response token stream one token at a time from an
// underlying reader, typically a [*wire.MessageReader].
type Parser struct {
	r *bufio.Reader

	// columns is the "current column set": the most recently seen
	// COLMETADATA, against which ROW/NBCROW tokens are decoded until a
	// new COLMETADATA or a final DONE (spec §4.3).
	columns []ColumnMetadata
}

// NewParser returns a [*Parser] reading from r.
func NewParser(r io.Reader) *Parser {
	return &Parser{r: bufio.NewReader(r)}
}

// Columns returns the current column set, valid after a COLMETADATA token
// has been observed.
func (p *Parser) Columns() []ColumnMetadata {
	return p.columns
}

// Token is a tagged variant over every response token this core acts on.
// Exactly one field other than Tag is meaningful for a given Tag value.
type Token struct {
	Tag Tag

	ColMetadata  []ColumnMetadata
	Row          []Value
	Done         Done
	EnvChange    EnvChange
	Info         ServerMessage
	Error        ServerMessage
	LoginAck     LoginAck
	FedAuthInfo  []FedAuthInfoEntry
	Order        []uint16
	ReturnStatus int32
	ReturnValue  ReturnValue
}

// Value is one decoded cell, tagged with its logical nullness separately
// from the value bits (spec's Value entity).
type Value struct {
	Null bool
	Data any
}

// ReturnValue describes a RETURNVALUE token (an output parameter or
// function return value).
type ReturnValue struct {
	ParamName string
	Value     Value
}

// Next decodes and returns the next token from the stream.
func (p *Parser) Next() (Token, error) {
	tagByte, err := p.r.ReadByte()
	if err != nil {
		return Token{}, err
	}
	tag := Tag(tagByte)
	switch tag {
	case TagColMetadata:
		cols, err := p.parseColMetadata()
		if err != nil {
			return Token{}, err
		}
		p.columns = cols
		return Token{Tag: tag, ColMetadata: cols}, nil

	case TagRow:
		vals, err := p.parseRow(false)
		if err != nil {
			return Token{}, err
		}
		return Token{Tag: tag, Row: vals}, nil

	case TagNbcRow:
		vals, err := p.parseRow(true)
		if err != nil {
			return Token{}, err
		}
		return Token{Tag: tag, Row: vals}, nil

	case TagDone, TagDoneProc, TagDoneInProc:
		d, err := p.parseDone()
		if err != nil {
			return Token{}, err
		}
		return Token{Tag: tag, Done: d}, nil

	case TagEnvChange:
		size, err := p.readUint16()
		if err != nil {
			return Token{}, err
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(p.r, body); err != nil {
			return Token{}, fmt.Errorf("token: truncated ENVCHANGE body: %w", err)
		}
		ec, err := ParseEnvChange(body)
		if err != nil {
			return Token{}, err
		}
		return Token{Tag: tag, EnvChange: ec}, nil

	case TagInfo, TagError:
		msg, err := p.parseServerMessage()
		if err != nil {
			return Token{}, err
		}
		if tag == TagInfo {
			return Token{Tag: tag, Info: msg}, nil
		}
		return Token{Tag: tag, Error: msg}, nil

	case TagLoginAck:
		ack, err := p.parseLoginAck()
		if err != nil {
			return Token{}, err
		}
		return Token{Tag: tag, LoginAck: ack}, nil

	case TagFedAuthInfo:
		entries, err := p.parseFedAuthInfo()
		if err != nil {
			return Token{}, err
		}
		return Token{Tag: tag, FedAuthInfo: entries}, nil

	case TagOrder:
		order, err := p.parseOrder()
		if err != nil {
			return Token{}, err
		}
		return Token{Tag: tag, Order: order}, nil

	case TagReturnStatus:
		v, err := p.readInt32()
		if err != nil {
			return Token{}, err
		}
		return Token{Tag: tag, ReturnStatus: v}, nil

	case TagReturnValue:
		rv, err := p.parseReturnValue()
		if err != nil {
			return Token{}, err
		}
		return Token{Tag: tag, ReturnValue: rv}, nil

	case TagSSPI, TagFeatureExtAck:
		size, err := p.readUint16()
		if err != nil {
			return Token{}, err
		}
		if _, err := io.CopyN(io.Discard, p.r, int64(size)); err != nil {
			return Token{}, fmt.Errorf("token: skipping tag 0x%x body: %w", tagByte, err)
		}
		return Token{Tag: tag}, nil

	default:
		return Token{}, fmt.Errorf("token: unrecognized token tag 0x%x", tagByte)
	}
}

func (p *Parser) readByte() (byte, error) {
	return p.r.ReadByte()
}

func (p *Parser) readN(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *Parser) readUint16() (uint16, error) {
	b, err := p.readN(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

func (p *Parser) readUint32() (uint32, error) {
	b, err := p.readN(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

func (p *Parser) readInt32() (int32, error) {
	v, err := p.readUint32()
	return int32(v), err
}

func (p *Parser) readUint64() (uint64, error) {
	b, err := p.readN(8)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

// readBVarChar reads a 1-byte length (in UTF-16 code units) followed by
// that many UTF-16LE code units.
func (p *Parser) readBVarChar() (string, error) {
	n, err := p.readByte()
	if err != nil {
		return "", err
	}
	b, err := p.readN(int(n) * 2)
	if err != nil {
		return "", err
	}
	return encoding.DecodeUTF16LE(b)
}

// readUSVarChar reads a 2-byte length (in UTF-16 code units) followed by
// that many UTF-16LE code units.
func (p *Parser) readUSVarChar() (string, error) {
	n, err := p.readUint16()
	if err != nil {
		return "", err
	}
	b, err := p.readN(int(n) * 2)
	if err != nil {
		return "", err
	}
	return encoding.DecodeUTF16LE(b)
}

func (p *Parser) parseColMetadata() ([]ColumnMetadata, error) {
	count, err := p.readUint16()
	if err != nil {
		return nil, err
	}
	if count == 0xFFFF {
		return nil, nil
	}
	cols := make([]ColumnMetadata, count)
	for i := range cols {
		userType, err := p.readUint32()
		if err != nil {
			return nil, err
		}
		flags, err := p.readUint16()
		if err != nil {
			return nil, err
		}
		head, err := p.readN(1)
		if err != nil {
			return nil, err
		}
		rest, _ := p.r.Peek(8)
		typeInfo, consumed, err := ParseTypeInfo(append(head, rest...))
		if err != nil {
			return nil, err
		}
		// consumed includes the type byte itself; we already consumed
		// it via head, so discard the remaining consumed-1 bytes that
		// ParseTypeInfo inspected via the peeked buffer.
		if _, err := p.readN(consumed - 1); err != nil {
			return nil, err
		}
		name, err := p.readBVarChar()
		if err != nil {
			return nil, err
		}
		cols[i] = ColumnMetadata{
			UserType: userType,
			Flags:    flags,
			Type:     typeInfo,
			Name:     name,
		}
	}
	return cols, nil
}

func (p *Parser) parseRow(nbc bool) ([]Value, error) {
	cols := p.columns
	var nullBitmap []byte
	if nbc {
		nb, err := p.readN((len(cols) + 7) / 8)
		if err != nil {
			return nil, err
		}
		nullBitmap = nb
	}
	vals := make([]Value, len(cols))
	for i, col := range cols {
		if nbc && nullBitmap[i/8]&(1<<(uint(i)%8)) != 0 {
			vals[i] = Value{Null: true}
			continue
		}
		v, err := p.decodeValue(col.Type)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func (p *Parser) decodeValue(t TypeInfo) (Value, error) {
	if t.Type.IsFixedLength() {
		n := t.Type.FixedLength()
		if n == 0 {
			return Value{Null: true}, nil
		}
		b, err := p.readN(n)
		if err != nil {
			return Value{}, err
		}
		return Value{Data: b}, nil
	}

	width := lengthPrefixWidth(t.Type)
	var length int
	if width == 2 {
		n, err := p.readUint16()
		if err != nil {
			return Value{}, err
		}
		length = int(n)
	} else {
		n, err := p.readByte()
		if err != nil {
			return Value{}, err
		}
		length = int(n)
	}
	// The NULL sentinel is 0xFFFF for 2-byte-prefixed types and 0xFF for
	// 1-byte-prefixed types.
	if (width == 2 && length == 0xFFFF) || (width == 1 && length == 0xFF) {
		return Value{Null: true}, nil
	}
	b, err := p.readN(length)
	if err != nil {
		return Value{}, err
	}
	return Value{Data: b}, nil
}

func (p *Parser) parseDone() (Done, error) {
	status, err := p.readUint16()
	if err != nil {
		return Done{}, err
	}
	curCmd, err := p.readUint16()
	if err != nil {
		return Done{}, err
	}
	rowCount, err := p.readUint64()
	if err != nil {
		return Done{}, err
	}
	return Done{Status: status, CurCmd: curCmd, RowCount: rowCount}, nil
}

func (p *Parser) parseServerMessage() (ServerMessage, error) {
	if _, err := p.readUint16(); err != nil { // token length, unused: fields are self-delimiting
		return ServerMessage{}, err
	}
	number, err := p.readInt32()
	if err != nil {
		return ServerMessage{}, err
	}
	state, err := p.readByte()
	if err != nil {
		return ServerMessage{}, err
	}
	severity, err := p.readByte()
	if err != nil {
		return ServerMessage{}, err
	}
	message, err := p.readUSVarChar()
	if err != nil {
		return ServerMessage{}, err
	}
	server, err := p.readBVarChar()
	if err != nil {
		return ServerMessage{}, err
	}
	proc, err := p.readBVarChar()
	if err != nil {
		return ServerMessage{}, err
	}
	line, err := p.readInt32()
	if err != nil {
		return ServerMessage{}, err
	}
	return ServerMessage{
		Number: number, State: state, Severity: severity,
		Message: message, Server: server, Proc: proc, Line: line,
	}, nil
}

func (p *Parser) parseLoginAck() (LoginAck, error) {
	if _, err := p.readUint16(); err != nil {
		return LoginAck{}, err
	}
	iface, err := p.readByte()
	if err != nil {
		return LoginAck{}, err
	}
	tdsVersion, err := p.readUint32()
	if err != nil {
		return LoginAck{}, err
	}
	progName, err := p.readBVarChar()
	if err != nil {
		return LoginAck{}, err
	}
	var ver [4]byte
	b, err := p.readN(4)
	if err != nil {
		return LoginAck{}, err
	}
	copy(ver[:], b)
	return LoginAck{Interface: iface, TDSVersion: tdsVersion, ProgName: progName, ServerVersion: ver}, nil
}

func (p *Parser) parseFedAuthInfo() ([]FedAuthInfoEntry, error) {
	totalLen, err := p.readUint32()
	if err != nil {
		return nil, err
	}
	body, err := p.readN(int(totalLen))
	if err != nil {
		return nil, err
	}
	if len(body) < 4 {
		return nil, fmt.Errorf("token: truncated FEDAUTHINFO")
	}
	count := uint32(body[0]) | uint32(body[1])<<8 | uint32(body[2])<<16 | uint32(body[3])<<24
	off := 4
	type rawOpt struct {
		id          uint32
		dataLen     uint32
		dataOffset  uint32
	}
	opts := make([]rawOpt, count)
	for i := range opts {
		if off+9 > len(body) {
			return nil, fmt.Errorf("token: truncated FEDAUTHINFO option header")
		}
		id := body[off]
		dataLen := uint32(body[off+1]) | uint32(body[off+2])<<8 | uint32(body[off+3])<<16 | uint32(body[off+4])<<24
		dataOffset := uint32(body[off+5]) | uint32(body[off+6])<<8 | uint32(body[off+7])<<16 | uint32(body[off+8])<<24
		opts[i] = rawOpt{id: uint32(id), dataLen: dataLen, dataOffset: dataOffset}
		off += 9
	}
	entries := make([]FedAuthInfoEntry, len(opts))
	for i, o := range opts {
		start := int(o.dataOffset) - 4
		end := start + int(o.dataLen)
		if start < 0 || end > len(body) {
			return nil, fmt.Errorf("token: FEDAUTHINFO option %d data out of range", i)
		}
		s, err := encoding.DecodeUTF16LE(body[start:end])
		if err != nil {
			return nil, err
		}
		entries[i] = FedAuthInfoEntry{InfoID: o.id, Data: s}
	}
	return entries, nil
}

func (p *Parser) parseOrder() ([]uint16, error) {
	length, err := p.readUint16()
	if err != nil {
		return nil, err
	}
	n := int(length) / 2
	out := make([]uint16, n)
	for i := range out {
		v, err := p.readUint16()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (p *Parser) parseReturnValue() (ReturnValue, error) {
	if _, err := p.readUint16(); err != nil { // ordinal, unused
		return ReturnValue{}, err
	}
	name, err := p.readBVarChar()
	if err != nil {
		return ReturnValue{}, err
	}
	if _, err := p.readByte(); err != nil { // status
		return ReturnValue{}, err
	}
	if _, err := p.readUint32(); err != nil { // user type
		return ReturnValue{}, err
	}
	if _, err := p.readUint16(); err != nil { // flags
		return ReturnValue{}, err
	}
	head, err := p.readN(1)
	if err != nil {
		return ReturnValue{}, err
	}
	rest, _ := p.r.Peek(8)
	typeInfo, consumed, err := ParseTypeInfo(append(head, rest...))
	if err != nil {
		return ReturnValue{}, err
	}
	if _, err := p.readN(consumed - 1); err != nil {
		return ReturnValue{}, err
	}
	val, err := p.decodeValue(typeInfo)
	if err != nil {
		return ReturnValue{}, err
	}
	return ReturnValue{ParamName: name, Value: val}, nil
}
