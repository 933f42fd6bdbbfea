// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: other_examples ha1tch-aulsql (protocol/tds connection
// handling, ReadPacket/WritePacket shape) and joaobrasildev
// poc-connection-pooling-for-some-rds (tds-pinning.go header field names).

// Package wire implements TDS packet framing: the 8-byte header, packet
// fragmentation/reassembly into logical messages, and the TLS tunnel
// negotiated inside the PRELOGIN/LOGIN handshake.
package wire

import "fmt"

// PacketType is the first byte of the TDS packet header, identifying the
// kind of message the packet carries.
type PacketType byte

// Packet types relevant to a client implementation (MS-TDS 2.2.3.1.1).
const (
	PacketSQLBatch    PacketType = 1
	PacketRPCRequest  PacketType = 3
	PacketTabularResult PacketType = 4
	PacketAttention   PacketType = 6
	PacketBulkLoad    PacketType = 7
	PacketFedAuthToken PacketType = 8
	PacketTransMgr    PacketType = 14
	PacketLogin7      PacketType = 16
	PacketSSPI        PacketType = 17
	PacketPrelogin    PacketType = 18
)

// Status bits of the TDS packet header (MS-TDS 2.2.3.1.2).
const (
	StatusNormal     byte = 0x00
	StatusEOM        byte = 0x01 // End Of Message: this packet completes the logical message
	StatusIgnore     byte = 0x02
	StatusResetConn  byte = 0x08
)

// HeaderSize is the fixed size in bytes of a TDS packet header.
const HeaderSize = 8

// DefaultPacketSize is used before PRELOGIN negotiates a server-preferred
// size; 4096 matches the TDS default negotiated packet size.
const DefaultPacketSize = 4096

// Header is the 8-byte framing header prefixed to every TDS packet.
//
// Length is big-endian and includes the header itself: the payload length
// is Length-HeaderSize. Receivers must not validate PacketID monotonicity;
// SPID sequencing varies by server.
type Header struct {
	Type     PacketType
	Status   byte
	Length   uint16
	SPID     uint16
	PacketID byte
	Window   byte
}

// Packet is one on-the-wire TDS packet: a header plus its payload.
type Packet struct {
	Header  Header
	Payload []byte
}

// EncodeHeader serializes h into an 8-byte big-endian buffer.
func EncodeHeader(h Header) [HeaderSize]byte {
	var buf [HeaderSize]byte
	buf[0] = byte(h.Type)
	buf[1] = h.Status
	buf[2] = byte(h.Length >> 8)
	buf[3] = byte(h.Length)
	buf[4] = byte(h.SPID >> 8)
	buf[5] = byte(h.SPID)
	buf[6] = h.PacketID
	buf[7] = h.Window
	return buf
}

// DecodeHeader parses an 8-byte big-endian header buffer.
//
// Returns a [*ProtocolError]-shaped error (via fmt.Errorf, classified as
// protocol by the caller) if the declared length is less than [HeaderSize]:
// a TDS framing invariant that can never legitimately happen.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, fmt.Errorf("wire: header must be %d bytes, got %d", HeaderSize, len(buf))
	}
	h := Header{
		Type:     PacketType(buf[0]),
		Status:   buf[1],
		Length:   uint16(buf[2])<<8 | uint16(buf[3]),
		SPID:     uint16(buf[4])<<8 | uint16(buf[5]),
		PacketID: buf[6],
		Window:   buf[7],
	}
	if h.Length < HeaderSize {
		return Header{}, fmt.Errorf("wire: framing error, declared length %d is less than header size", h.Length)
	}
	return h, nil
}

// IsEOM reports whether status has the End-Of-Message bit set.
func IsEOM(status byte) bool {
	return status&StatusEOM != 0
}
