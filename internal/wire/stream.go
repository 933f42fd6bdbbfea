// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: bassosimone/nop's two-level (Info/Debug) structured logging
// convention (slogger.go) and its use of github.com/bassosimone/safeconn for
// nil-safe net.Conn address logging (connect.go, tls.go).

package wire

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"

	"github.com/bassosimone/safeconn"
)

// Logger is the subset of mssql.SLogger that this package depends on. It is
// declared locally (rather than imported) so internal/wire has no
// dependency on the root package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// discardLogger is used when a Stream is constructed without an explicit
// Logger.
type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}

// Stream reads and writes TDS messages that may span multiple packets,
// tracking the packet-id sequence independently per direction as required
// by MS-TDS (receivers must not validate monotonicity, but the wire layer
// still increments its own send-side counter).
type Stream struct {
	conn       net.Conn
	r          *bufio.Reader
	logger     Logger
	packetSize int
	spid       uint16
	sendPktID  byte
}

// NewStream wraps conn in a Stream using packetSize as the outbound
// fragmentation size (the negotiated TDS packet size, or
// [DefaultPacketSize] before negotiation).
func NewStream(conn net.Conn, packetSize int, logger Logger) *Stream {
	if logger == nil {
		logger = discardLogger{}
	}
	if packetSize <= HeaderSize {
		packetSize = DefaultPacketSize
	}
	return &Stream{
		conn:       conn,
		r:          bufio.NewReaderSize(conn, packetSize),
		logger:     logger,
		packetSize: packetSize,
		sendPktID:  1,
	}
}

// SetPacketSize updates the outbound fragmentation size, used after
// PRELOGIN negotiates the server's preferred packet size.
func (s *Stream) SetPacketSize(n int) {
	if n > HeaderSize {
		s.packetSize = n
	}
}

// WriteMessage fragments payload into packets of at most
// packetSize-HeaderSize bytes, marking the last fragment's header with
// [StatusEOM], and writes them all to the underlying connection.
func (s *Stream) WriteMessage(ctx context.Context, pktType PacketType, payload []byte) error {
	chunkSize := s.packetSize - HeaderSize
	if chunkSize <= 0 {
		chunkSize = DefaultPacketSize - HeaderSize
	}
	if len(payload) == 0 {
		return s.writeFragment(pktType, nil, true)
	}
	for off := 0; off < len(payload); off += chunkSize {
		end := off + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		last := end == len(payload)
		if err := s.writeFragment(pktType, payload[off:end], last); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stream) writeFragment(pktType PacketType, chunk []byte, last bool) error {
	status := StatusNormal
	if last {
		status = StatusEOM
	}
	h := Header{
		Type:     pktType,
		Status:   status,
		Length:   uint16(HeaderSize + len(chunk)),
		SPID:     s.spid,
		PacketID: s.sendPktID,
	}
	s.sendPktID++
	hdr := EncodeHeader(h)
	s.logger.Debug("packetSent",
		"localAddr", safeconn.LocalAddr(s.conn),
		"remoteAddr", safeconn.RemoteAddr(s.conn),
		"packetType", int(pktType), "length", h.Length, "eom", last)
	if _, err := s.conn.Write(hdr[:]); err != nil {
		return fmt.Errorf("wire: writing packet header: %w", err)
	}
	if len(chunk) > 0 {
		if _, err := s.conn.Write(chunk); err != nil {
			return fmt.Errorf("wire: writing packet payload: %w", err)
		}
	}
	return nil
}

// ReadMessage reads packets until one with [StatusEOM] set is observed and
// returns the type of the first packet (all packets of one message share a
// type) along with the reassembled payload.
func (s *Stream) ReadMessage(ctx context.Context) (PacketType, []byte, error) {
	var msgType PacketType
	var buf []byte
	for i := 0; ; i++ {
		var hdr [HeaderSize]byte
		if _, err := io.ReadFull(s.r, hdr[:]); err != nil {
			return 0, nil, fmt.Errorf("wire: reading packet header: %w", err)
		}
		h, err := DecodeHeader(hdr[:])
		if err != nil {
			return 0, nil, err
		}
		if i == 0 {
			msgType = h.Type
		}
		payload := make([]byte, int(h.Length)-HeaderSize)
		if len(payload) > 0 {
			if _, err := io.ReadFull(s.r, payload); err != nil {
				return 0, nil, fmt.Errorf("wire: reading packet payload: %w", err)
			}
		}
		s.logger.Debug("packetRecv",
			"localAddr", safeconn.LocalAddr(s.conn),
			"remoteAddr", safeconn.RemoteAddr(s.conn),
			"packetType", int(h.Type), "length", h.Length, "eom", IsEOM(h.Status))
		buf = append(buf, payload...)
		if IsEOM(h.Status) {
			break
		}
	}
	return msgType, buf, nil
}

// MessageReader reads one logical TDS message incrementally, pulling the
// next packet from the stream only when its currently-buffered payload is
// exhausted. This lets [token.Parser] decode a large result-set response
// without materializing the whole message in memory up front.
type MessageReader struct {
	stream  *Stream
	pending []byte
	msgType PacketType
	done    bool
	started bool
}

// NewMessageReader returns a [*MessageReader] over the next inbound
// logical message on s.
func NewMessageReader(s *Stream) *MessageReader {
	return &MessageReader{stream: s}
}

// Type returns the packet type of the message, valid only once at least
// one byte has been read.
func (m *MessageReader) Type() PacketType {
	return m.msgType
}

// Read implements io.Reader, pulling additional packets from the
// underlying stream as needed and returning io.EOF once the packet with
// [StatusEOM] set has been fully consumed.
func (m *MessageReader) Read(p []byte) (int, error) {
	for len(m.pending) == 0 {
		if m.done {
			return 0, io.EOF
		}
		var hdr [HeaderSize]byte
		if _, err := io.ReadFull(m.stream.r, hdr[:]); err != nil {
			return 0, fmt.Errorf("wire: reading packet header: %w", err)
		}
		h, err := DecodeHeader(hdr[:])
		if err != nil {
			return 0, err
		}
		if !m.started {
			m.msgType = h.Type
			m.started = true
		}
		payload := make([]byte, int(h.Length)-HeaderSize)
		if len(payload) > 0 {
			if _, err := io.ReadFull(m.stream.r, payload); err != nil {
				return 0, fmt.Errorf("wire: reading packet payload: %w", err)
			}
		}
		m.stream.logger.Debug("packetRecv",
			"localAddr", safeconn.LocalAddr(m.stream.conn),
			"remoteAddr", safeconn.RemoteAddr(m.stream.conn),
			"packetType", int(h.Type), "length", h.Length, "eom", IsEOM(h.Status))
		m.pending = payload
		if IsEOM(h.Status) {
			m.done = true
		}
	}
	n := copy(p, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

// Conn returns the underlying connection, for callers that need to upgrade
// it to TLS or inspect its address.
func (s *Stream) Conn() net.Conn {
	return s.conn
}

// Rebind replaces the underlying connection (used after a TLS handshake
// tunneled inside PRELOGIN completes) while preserving the packet-id
// sequence and configured packet size.
func (s *Stream) Rebind(conn net.Conn) {
	s.conn = conn
	s.r = bufio.NewReaderSize(conn, s.packetSize)
}
