// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: other_examples wang-xuemin/go-mssqldb's
// tokenProcessor.iterateResponse/nextToken (the priority between a
// cancellation signal and the next token, and the non-final-DONE skip
// during multi-statement batches), restructured to pull directly from
// [token.Parser] instead of a goroutine-fed channel — this repo's parser
// is already a pull-based iterator, so the channel indirection the
// reference implementation needs is unnecessary here.
package resultstream

import (
	"context"
	"fmt"

	"github.com/hugr-lab/mssql-extension/internal/connstate"
	"github.com/hugr-lab/mssql-extension/internal/encoding"
	"github.com/hugr-lab/mssql-extension/internal/token"
	"github.com/hugr-lab/mssql-extension/internal/typemap"
	"github.com/hugr-lab/mssql-extension/internal/wire"
)

// Logger is the subset of mssql.SLogger this package depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}

// ColumnSchema is one output column's shape, derived from COLMETADATA.
type ColumnSchema struct {
	Name string
	// Type is the raw wire type; most callers want HostType instead, the
	// logical type spec §4.12's output schema is defined in terms of.
	Type      token.SQLType
	HostType  typemap.HostType
	Nullable  bool
	MaxLength int
	Precision byte
	Scale     byte
	Collation []byte
}

// Chunk is one columnar batch of decoded rows.
type Chunk struct {
	Columns  [][]any
	Nulls    [][]bool
	RowCount int
}

// State is a Stream's execution phase (spec §4.9).
type State int

const (
	Bound State = iota
	Executing
	Completed
	Cancelling
	Cancelled
)

// Stream drives the token parser for one SQL batch, producing the output
// schema at Bind and columnar chunks at each subsequent Next.
type Stream struct {
	conn      *connstate.Connection
	parser    *token.Parser
	mr        *wire.MessageReader
	logger    Logger
	chunkSize int

	Columns  []ColumnSchema
	state    State
	warnings []string
	pending  error // accumulated ERROR token raised at the final DONE
}

// Config configures Bind's chunk sizing and logging.
type Config struct {
	ChunkSize int
	Logger    Logger
}

// Bind submits sql on conn and reads tokens until either the first
// COLMETADATA or a final DONE with no columns, skipping non-final DONEs
// so multi-statement batches ("create temp table; select ...") advance to
// the final SELECT's schema instead of closing at the first statement's
// DONE (spec §4.9).
func Bind(ctx context.Context, conn *connstate.Connection, sql string, cfg Config) (*Stream, error) {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1024
	}
	logger := cfg.Logger
	if logger == nil {
		logger = discardLogger{}
	}

	utf16, err := encoding.EncodeUTF16LE(sql)
	if err != nil {
		return nil, fmt.Errorf("resultstream: encoding batch: %w", err)
	}
	var header []byte
	if conn.TransactionDescriptor != nil {
		header = encodeAllHeaders(*conn.TransactionDescriptor)
	}
	if err := conn.Stream.WriteMessage(ctx, wire.PacketSQLBatch, append(header, utf16...)); err != nil {
		return nil, fmt.Errorf("resultstream: sending batch: %w", err)
	}

	mr := wire.NewMessageReader(conn.Stream)
	s := &Stream{
		conn:      conn,
		parser:    token.NewParser(mr),
		mr:        mr,
		logger:    logger,
		chunkSize: cfg.ChunkSize,
		state:     Bound,
	}

	var errs []token.ServerMessage
	for {
		tok, err := s.parser.Next()
		if err != nil {
			return nil, fmt.Errorf("resultstream: reading bind response: %w", err)
		}
		switch tok.Tag {
		case token.TagColMetadata:
			cols, err := toColumnSchema(tok.ColMetadata)
			if err != nil {
				return nil, fmt.Errorf("resultstream: binding schema: %w", err)
			}
			s.Columns = cols
			return s, nil
		case token.TagInfo:
			s.warnings = append(s.warnings, tok.Info.Message)
		case token.TagError:
			if tok.Error.IsFailure() {
				errs = append(errs, tok.Error)
			}
		case token.TagDone, token.TagDoneProc, token.TagDoneInProc:
			if !tok.Done.IsFinal() {
				continue // multi-statement: advance past intermediate statements
			}
			if len(errs) > 0 {
				return nil, combineErrors(errs)
			}
			// Final DONE with no columns at all: a non-query batch
			// (e.g. a bare DDL/DML statement with no SELECT).
			s.state = Completed
			return s, nil
		}
	}
}

func combineErrors(errs []token.ServerMessage) error {
	if len(errs) == 1 {
		return fmt.Errorf("%s", errs[0].Message)
	}
	msg := errs[0].Message
	for _, e := range errs[1:] {
		msg += "; " + e.Message
	}
	return fmt.Errorf("%s", msg)
}

// toColumnSchema derives each column's logical HostType via
// [typemap.MapReadType], rejecting a COLMETADATA that names a type spec
// §4.12 has no host mapping for rather than letting it reach the row
// decoder unclassified.
func toColumnSchema(cols []token.ColumnMetadata) ([]ColumnSchema, error) {
	out := make([]ColumnSchema, len(cols))
	for i, c := range cols {
		hostType, err := typemap.MapReadType(c.Type.Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c.Name, err)
		}
		out[i] = ColumnSchema{
			Name:      c.Name,
			Type:      c.Type.Type,
			HostType:  hostType,
			Nullable:  c.Nullable(),
			MaxLength: c.Type.MaxLength,
			Precision: c.Type.Precision,
			Scale:     c.Type.Scale,
			Collation: c.Type.Collation,
		}
	}
	return out, nil
}

// Next decodes up to chunkSize rows, returning the chunk and whether the
// stream has reached its final DONE.
func (s *Stream) Next(ctx context.Context) (*Chunk, bool, error) {
	if s.state == Completed {
		return nil, true, nil
	}
	s.state = Executing

	ncols := len(s.Columns)
	chunk := &Chunk{Columns: make([][]any, ncols), Nulls: make([][]bool, ncols)}

	for chunk.RowCount < s.chunkSize {
		select {
		case <-ctx.Done():
			s.cancel(context.Background())
			return chunk, true, ctx.Err()
		default:
		}

		tok, err := s.parser.Next()
		if err != nil {
			return nil, true, fmt.Errorf("resultstream: reading row: %w", err)
		}
		switch tok.Tag {
		case token.TagRow:
			appendRow(chunk, tok.Row)
		case token.TagInfo:
			s.warnings = append(s.warnings, tok.Info.Message)
		case token.TagError:
			if tok.Error.IsFailure() {
				s.pending = fmt.Errorf("%s", tok.Error.Message)
			}
		case token.TagDone, token.TagDoneProc, token.TagDoneInProc:
			if !tok.Done.IsFinal() {
				continue
			}
			s.state = Completed
			if s.pending != nil {
				return chunk, true, s.pending
			}
			return chunk, true, nil
		}
	}
	return chunk, false, nil
}

func appendRow(chunk *Chunk, values []token.Value) {
	for i, v := range values {
		if i >= len(chunk.Columns) {
			break
		}
		chunk.Columns[i] = append(chunk.Columns[i], v.Data)
		chunk.Nulls[i] = append(chunk.Nulls[i], v.Null)
	}
	chunk.RowCount++
}

// Cancel requests cooperative cancellation: send a TDS attention packet,
// then drain until a DONE confirms the cancel; if sending attention or
// draining fails, the connection is marked Dirty instead (spec §4.9).
func (s *Stream) Cancel(ctx context.Context) {
	s.cancel(ctx)
}

func (s *Stream) cancel(ctx context.Context) {
	s.state = Cancelling
	if err := s.conn.Stream.WriteMessage(ctx, wire.PacketAttention, nil); err != nil {
		s.conn.MarkDirty()
		s.state = Cancelled
		return
	}
	for {
		tok, err := s.parser.Next()
		if err != nil {
			s.conn.MarkDirty()
			s.state = Cancelled
			return
		}
		if (tok.Tag == token.TagDone || tok.Tag == token.TagDoneProc || tok.Tag == token.TagDoneInProc) && tok.Done.IsFinal() {
			s.state = Cancelled
			return
		}
	}
}

// Warnings returns any accumulated INFO token messages, surfaced when the
// stream is torn down (spec §4.9).
func (s *Stream) Warnings() []string {
	return s.warnings
}

// State returns the stream's current phase.
func (s *Stream) State() State {
	return s.state
}

// encodeAllHeaders builds the ALL_HEADERS block a batch must prepend
// while a transaction descriptor is pinned to the connection (spec
// §4.5): a 4-byte total-length, a 4-byte header length, a 2-byte header
// type (0x0002, transaction descriptor), the 8-byte descriptor, and a
// 4-byte outstanding-request count (always 1 for a non-MARS connection).
func encodeAllHeaders(descriptor uint64) []byte {
	const headerType = 0x0002
	buf := make([]byte, 4+4+2+8+4)
	headerLen := uint32(len(buf) - 4)
	totalLen := uint32(len(buf))
	putUint32LE(buf[0:4], totalLen)
	putUint32LE(buf[4:8], headerLen)
	buf[8] = headerType
	buf[9] = 0
	putUint64LE(buf[10:18], descriptor)
	putUint32LE(buf[18:22], 1)
	return buf
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
