// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: other_examples wang-xuemin/go-mssqldb token.go, which
// decodes TDS strings via unicode.UTF16(unicode.LittleEndian,
// unicode.IgnoreBOM). The ASCII fast path is new code (spec §4.2).

// Package encoding implements the wire-level scalar codecs TDS uses:
// UTF-16LE strings, decimal/money, date/time, and mixed-endian GUIDs.
package encoding

import (
	"fmt"
	"unicode/utf16"

	"golang.org/x/text/encoding/unicode"
)

var utf16Decoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
var utf16Encoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()

// DecodeUTF16LE decodes a UTF-16LE byte string as found in TDS string
// fields (column names, NVARCHAR values, login fields).
func DecodeUTF16LE(b []byte) (string, error) {
	if isASCIIFast(b) {
		return decodeASCIIFast(b), nil
	}
	out, err := utf16Decoder.Bytes(b)
	if err != nil {
		return "", fmt.Errorf("encoding: decoding UTF-16LE: %w", err)
	}
	return string(out), nil
}

// EncodeUTF16LE encodes s as UTF-16LE for use in TDS string fields.
func EncodeUTF16LE(s string) ([]byte, error) {
	out, err := utf16Encoder.Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encoding: encoding UTF-16LE: %w", err)
	}
	return out, nil
}

// isASCIIFast reports whether b, interpreted as a sequence of UTF-16LE code
// units, is entirely 7-bit ASCII: every low byte has its high bit clear and
// every corresponding high byte is zero. When true, decoding can skip the
// general UTF-16 surrogate-pair machinery.
func isASCIIFast(b []byte) bool {
	if len(b)%2 != 0 {
		return false
	}
	for i := 0; i < len(b); i += 2 {
		if b[i]&0x80 != 0 || b[i+1] != 0 {
			return false
		}
	}
	return true
}

// decodeASCIIFast decodes b (already verified ASCII by [isASCIIFast]) by
// dropping the zero high byte of every UTF-16LE code unit.
func decodeASCIIFast(b []byte) string {
	out := make([]byte, len(b)/2)
	for i := range out {
		out[i] = b[i*2]
	}
	return string(out)
}

// runeLengthUTF16 returns the number of UTF-16 code units s encodes to,
// used by callers that must size a fixed wire field in UTF-16 code units
// rather than bytes.
func runeLengthUTF16(s string) int {
	return len(utf16.Encode([]rune(s)))
}
