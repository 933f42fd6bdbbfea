// SPDX-License-Identifier: GPL-3.0-or-later
//
// Uses github.com/google/uuid for parsing/formatting; the mixed-endian wire
// byte-swap itself is new code grounded on spec §4.2.

package encoding

import (
	"fmt"

	"github.com/google/uuid"
)

// DecodeGUID decodes a TDS UNIQUEIDENTIFIER wire value. The wire format is
// mixed-endian: the first 4 bytes are little-endian, the next 2 bytes are
// little-endian, the next 2 bytes are little-endian, and the final 8 bytes
// are big-endian — the reverse of [uuid.UUID]'s big-endian byte layout for
// the first three fields.
func DecodeGUID(b []byte) (uuid.UUID, error) {
	if len(b) != 16 {
		return uuid.UUID{}, fmt.Errorf("encoding: GUID payload must be 16 bytes, got %d", len(b))
	}
	var out uuid.UUID
	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	out[4], out[5] = b[5], b[4]
	out[6], out[7] = b[7], b[6]
	copy(out[8:], b[8:16])
	return out, nil
}

// EncodeGUID encodes id as a TDS UNIQUEIDENTIFIER wire value.
func EncodeGUID(id uuid.UUID) []byte {
	out := make([]byte, 16)
	out[0], out[1], out[2], out[3] = id[3], id[2], id[1], id[0]
	out[4], out[5] = id[5], id[4]
	out[6], out[7] = id[7], id[6]
	copy(out[8:], id[8:16])
	return out
}
