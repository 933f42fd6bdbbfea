// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: other_examples ha1tch-aulsql protocol/tds-connection.go's
// handshake() flow shape (PRELOGIN → optional TLS → LOGIN7 → LOGINACK),
// reworked from the server side it implements to the client side this core
// needs. Option-record byte layout and id/encryption values are the public
// MS-TDS PRELOGIN constants (spec §4.4), not specific to any pack file.

// Package handshake implements the TDS PRELOGIN/LOGIN7 framing and the
// pluggable authentication strategies (password, federated-auth via
// provider, federated-auth via pre-provided token).
package handshake

import "fmt"

// PRELOGIN option ids (MS-TDS 2.2.6.4).
const (
	optVersion         byte = 0x00
	optEncryption      byte = 0x01
	optInstOpt         byte = 0x02
	optThreadID        byte = 0x03
	optMARS            byte = 0x04
	optFedAuthRequired byte = 0x06
	optTerminator      byte = 0xFF
)

// Encryption negotiation values (MS-TDS 2.2.6.4).
const (
	EncryptOff    byte = 0x00
	EncryptOn     byte = 0x01
	EncryptNotSup byte = 0x02
	EncryptReq    byte = 0x03
)

// Prelogin is the decoded PRELOGIN option set, either offered by the
// client or echoed back by the server.
type Prelogin struct {
	Version         [6]byte
	Encryption      byte
	Instance        string
	ThreadID        uint32
	MARS            byte
	FedAuthRequired *bool // nil when the option is absent (pre-federated-auth format)
}

// EncodePrelogin serializes p into the PRELOGIN option-record format: a
// list of {id, offset, length} records terminated by [optTerminator],
// followed by the data block the records point into.
//
// Absence of FedAuthRequired produces a byte-for-byte identical layout to
// the pre-FEDAUTH format, per spec §4.4's backward-compatibility
// requirement.
func EncodePrelogin(p Prelogin) []byte {
	type record struct {
		id   byte
		data []byte
	}
	records := []record{
		{optVersion, p.Version[:]},
		{optEncryption, []byte{p.Encryption}},
		{optInstOpt, append([]byte(p.Instance), 0)},
		{optThreadID, encodeUint32LE(p.ThreadID)},
		{optMARS, []byte{p.MARS}},
	}
	if p.FedAuthRequired != nil {
		v := byte(0)
		if *p.FedAuthRequired {
			v = 1
		}
		records = append(records, record{optFedAuthRequired, []byte{v}})
	}

	headerLen := len(records)*5 + 1
	var data []byte
	var header []byte
	offset := headerLen
	for _, r := range records {
		header = append(header, r.id, byte(offset>>8), byte(offset), byte(len(r.data)>>8), byte(len(r.data)))
		data = append(data, r.data...)
		offset += len(r.data)
	}
	header = append(header, optTerminator)
	return append(header, data...)
}

// DecodePrelogin parses a PRELOGIN option-record byte stream.
func DecodePrelogin(b []byte) (Prelogin, error) {
	var p Prelogin
	offsets := map[byte][2]int{}
	i := 0
	for {
		if i >= len(b) {
			return Prelogin{}, fmt.Errorf("handshake: truncated PRELOGIN option records")
		}
		id := b[i]
		if id == optTerminator {
			i++
			break
		}
		if i+5 > len(b) {
			return Prelogin{}, fmt.Errorf("handshake: truncated PRELOGIN option record")
		}
		off := int(b[i+1])<<8 | int(b[i+2])
		length := int(b[i+3])<<8 | int(b[i+4])
		offsets[id] = [2]int{off, length}
		i += 5
	}
	for id, ol := range offsets {
		off, length := ol[0], ol[1]
		if off+length > len(b) {
			return Prelogin{}, fmt.Errorf("handshake: PRELOGIN option 0x%x out of range", id)
		}
		field := b[off : off+length]
		switch id {
		case optVersion:
			copy(p.Version[:], field)
		case optEncryption:
			if len(field) >= 1 {
				p.Encryption = field[0]
			}
		case optInstOpt:
			p.Instance = trimNulTail(field)
		case optThreadID:
			if len(field) >= 4 {
				p.ThreadID = decodeUint32LE(field)
			}
		case optMARS:
			if len(field) >= 1 {
				p.MARS = field[0]
			}
		case optFedAuthRequired:
			v := len(field) >= 1 && field[0] == 1
			p.FedAuthRequired = &v
		}
	}
	return p, nil
}

func trimNulTail(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func encodeUint32LE(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func decodeUint32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
