// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: other_examples wang-xuemin/go-mssqldb's processEnvChg (the
// type-dispatch shape: a BYTELEN-prefixed "new value" then "old value" per
// sub-type, with BEGIN_TRANS/COMMIT_TRANS/ROLLBACK_TRANS instead using a
// BVarByte transaction descriptor). Restructured here as a pure decode
// function returning an [EnvChange], not a session-mutating procedure.

package token

import "fmt"

// ParseEnvChange decodes one ENVCHANGE token body (the bytes following the
// 2-byte token length, which the caller has already consumed) into an
// [EnvChange].
func ParseEnvChange(b []byte) (EnvChange, error) {
	if len(b) < 1 {
		return EnvChange{}, fmt.Errorf("token: truncated ENVCHANGE")
	}
	typ := b[0]
	rest := b[1:]

	switch typ {
	case EnvTypBeginTran, EnvTypCommitTran, EnvTypRollbackTran:
		newVal, tail, err := readBVarByte(rest)
		if err != nil {
			return EnvChange{}, err
		}
		oldVal, _, err := readBVarByte(tail)
		if err != nil {
			return EnvChange{}, err
		}
		return EnvChange{Type: typ, New: newVal, Old: oldVal}, nil

	case EnvSqlCollation:
		newVal, tail, err := readBVarByte(rest)
		if err != nil {
			return EnvChange{}, err
		}
		oldVal, _, err := readBVarByte(tail)
		if err != nil {
			return EnvChange{}, err
		}
		return EnvChange{Type: typ, New: newVal, Old: oldVal}, nil

	case EnvTypRouting:
		// ROUTING carries a routing structure rather than a new/old pair;
		// the raw remainder is stored as New so no information is lost.
		return EnvChange{Type: typ, New: rest}, nil

	default:
		// DATABASE, LANGUAGE, CHARSET, PACKET_SIZE, SORT_ID, SORT_FLAGS,
		// and any other type: BVarChar new value then BVarChar old value,
		// kept as raw UTF-16LE bytes. If the new value cannot be read, the
		// raw remainder is stored as New.
		newVal, tail, err := readBVarByteLenient(rest)
		if err != nil {
			return EnvChange{Type: typ, New: rest}, nil
		}
		oldVal, _, err := readBVarByteLenient(tail)
		if err != nil {
			return EnvChange{Type: typ, New: newVal}, nil
		}
		return EnvChange{Type: typ, New: newVal, Old: oldVal}, nil
	}
}

// readBVarByte reads a 1-byte length prefix followed by that many raw
// bytes (BVARBYTE, used by the transaction descriptor and SQL collation
// sub-fields).
func readBVarByte(b []byte) (value []byte, rest []byte, err error) {
	if len(b) < 1 {
		return nil, nil, fmt.Errorf("token: truncated BVARBYTE length")
	}
	n := int(b[0])
	if len(b) < 1+n {
		return nil, nil, fmt.Errorf("token: truncated BVARBYTE payload")
	}
	return b[1 : 1+n], b[1+n:], nil
}

// readBVarByteLenient reads a BVARCHAR field as raw bytes: a 1-byte length
// in UTF-16 code units followed by twice that many bytes. Unlike
// [readBVarByte], empty input yields an empty value rather than an error,
// matching how ENVCHANGE sub-types the core does not act on are tolerated;
// a short remainder is still an error.
func readBVarByteLenient(b []byte) (value []byte, rest []byte, err error) {
	if len(b) < 1 {
		return nil, nil, nil
	}
	n := 2 * int(b[0])
	if len(b) < 1+n {
		return nil, nil, fmt.Errorf("token: truncated ENVCHANGE sub-field")
	}
	return b[1 : 1+n], b[1+n:], nil
}

// TransactionDescriptor extracts the 8-byte little-endian transaction
// descriptor from a BEGIN_TRANS ENVCHANGE's New field.
func (e EnvChange) TransactionDescriptor() (uint64, error) {
	if len(e.New) != 8 {
		return 0, fmt.Errorf("token: invalid transaction descriptor length %d", len(e.New))
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(e.New[i])
	}
	return v, nil
}
