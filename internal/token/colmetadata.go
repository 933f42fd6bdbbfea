// SPDX-License-Identifier: GPL-3.0-or-later
//
// Type codes are the standard MS-TDS TYPE_INFO byte values (public protocol
// constants, not specific to any pack repo); decode shape follows spec
// §4.2/§4.3 and §4.12's read-side type mapping, including its list of
// unsupported deprecated wire types.

package token

import "fmt"

// SQLType is a TDS TYPE_INFO type byte.
type SQLType byte

const (
	TypeNull      SQLType = 0x1F
	TypeInt1      SQLType = 0x30
	TypeBit       SQLType = 0x32
	TypeInt2      SQLType = 0x34
	TypeInt4      SQLType = 0x38
	TypeDateTim4  SQLType = 0x3A
	TypeFlt4      SQLType = 0x3B
	TypeMoney     SQLType = 0x3C
	TypeDateTime  SQLType = 0x3D
	TypeFlt8      SQLType = 0x3E
	TypeMoney4    SQLType = 0x7A
	TypeInt8      SQLType = 0x7F
	TypeGUID      SQLType = 0x24
	TypeIntN      SQLType = 0x26
	TypeBitN      SQLType = 0x68
	TypeDecimalN  SQLType = 0x6A
	TypeNumericN  SQLType = 0x6C
	TypeFltN      SQLType = 0x6D
	TypeMoneyN    SQLType = 0x6E
	TypeDateTimeN SQLType = 0x6F
	TypeDateN     SQLType = 0x28
	TypeTimeN     SQLType = 0x29
	TypeDateTime2N       SQLType = 0x2A
	TypeDateTimeOffsetN  SQLType = 0x2B
	TypeBinary    SQLType = 0x2D
	TypeVarBinary SQLType = 0x25
	TypeBigVarBin SQLType = 0xA5
	TypeBigVarChr SQLType = 0xA7
	TypeBigBinary SQLType = 0xAD
	TypeBigChar   SQLType = 0xAF
	TypeNVarChar  SQLType = 0xE7
	TypeNChar     SQLType = 0xEF

	// Deprecated types unsupported per spec §4.12: scanning a column of
	// one of these fails with a precise type-name error rather than a
	// best-effort decode.
	TypeXML      SQLType = 0xF1
	TypeUDT      SQLType = 0xF0
	TypeText     SQLType = 0x23
	TypeNText    SQLType = 0x63
	TypeImage    SQLType = 0x22
	TypeVariant  SQLType = 0x62
)

// unsupportedTypeNames names the deprecated types spec §4.12 rejects.
var unsupportedTypeNames = map[SQLType]string{
	TypeXML:     "XML",
	TypeUDT:     "UDT",
	TypeText:    "TEXT",
	TypeNText:   "NTEXT",
	TypeImage:   "IMAGE",
	TypeVariant: "SQL_VARIANT",
}

// IsUnsupported reports whether t is one of the deprecated wire types this
// core refuses to decode, and if so its display name for the scan-time
// error.
func IsUnsupported(t SQLType) (name string, unsupported bool) {
	name, unsupported = unsupportedTypeNames[t]
	return
}

// TypeInfo is the decoded TYPE_INFO for one column, including the
// precision/scale/length metadata needed to size and interpret ROW/NBCROW
// values for that column.
type TypeInfo struct {
	Type       SQLType
	MaxLength  int
	Precision  byte
	Scale      byte
	Collation  []byte // 5 bytes when present, else nil
	Nullable   bool
	Identity   bool
	Updatable  bool
	CaseSensitive bool
}

// IsFixedLength reports whether values of t are fixed-width (no
// length-prefix byte/word precedes each ROW value).
func (t SQLType) IsFixedLength() bool {
	switch t {
	case TypeNull, TypeInt1, TypeBit, TypeInt2, TypeInt4, TypeDateTim4,
		TypeFlt4, TypeMoney, TypeDateTime, TypeFlt8, TypeMoney4, TypeInt8:
		return true
	default:
		return false
	}
}

// FixedLength returns the fixed byte width of t, valid only when
// [SQLType.IsFixedLength] is true.
func (t SQLType) FixedLength() int {
	switch t {
	case TypeNull:
		return 0
	case TypeInt1, TypeBit:
		return 1
	case TypeInt2:
		return 2
	case TypeInt4, TypeDateTim4, TypeFlt4, TypeMoney4:
		return 4
	case TypeMoney, TypeDateTime, TypeFlt8, TypeInt8:
		return 8
	default:
		return 0
	}
}

// lengthPrefixWidth returns the number of bytes used to encode the
// variable-length prefix for t: 1 for the common BYTELEN types, 2 for
// USHORTLEN types. Scale-carrying NTYPE variants (INTN, DECIMALN, ...) use
// a 1-byte prefix holding their fixed per-value width.
func lengthPrefixWidth(t SQLType) int {
	switch t {
	case TypeBigVarChr, TypeBigChar, TypeNVarChar, TypeNChar, TypeBigVarBin, TypeBigBinary:
		return 2
	default:
		return 1
	}
}

// ParseTypeInfo decodes the TYPE_INFO structure for one COLMETADATA
// column from b, returning the decoded [TypeInfo] and the number of bytes
// consumed.
func ParseTypeInfo(b []byte) (TypeInfo, int, error) {
	if len(b) < 1 {
		return TypeInfo{}, 0, fmt.Errorf("token: truncated TYPE_INFO")
	}
	typ := SQLType(b[0])
	off := 1

	if name, unsupported := IsUnsupported(typ); unsupported {
		return TypeInfo{}, 0, fmt.Errorf("token: unsupported column type %s", name)
	}

	info := TypeInfo{Type: typ}

	switch {
	case typ.IsFixedLength():
		info.MaxLength = typ.FixedLength()

	case typ == TypeIntN || typ == TypeBitN || typ == TypeFltN || typ == TypeMoneyN:
		if off >= len(b) {
			return TypeInfo{}, 0, fmt.Errorf("token: truncated TYPE_INFO for type 0x%x", byte(typ))
		}
		info.MaxLength = int(b[off])
		off++

	case typ == TypeDateTimeN:
		if off >= len(b) {
			return TypeInfo{}, 0, fmt.Errorf("token: truncated datetimeN TYPE_INFO")
		}
		info.MaxLength = int(b[off])
		off++

	case typ == TypeDateN:
		info.MaxLength = 3

	case typ == TypeTimeN || typ == TypeDateTime2N || typ == TypeDateTimeOffsetN:
		if off >= len(b) {
			return TypeInfo{}, 0, fmt.Errorf("token: truncated time-family TYPE_INFO")
		}
		info.Scale = b[off]
		off++

	case typ == TypeDecimalN || typ == TypeNumericN:
		if off+2 >= len(b) {
			return TypeInfo{}, 0, fmt.Errorf("token: truncated decimal TYPE_INFO")
		}
		info.MaxLength = int(b[off])
		info.Precision = b[off+1]
		info.Scale = b[off+2]
		off += 3

	case typ == TypeGUID:
		if off >= len(b) {
			return TypeInfo{}, 0, fmt.Errorf("token: truncated GUID TYPE_INFO")
		}
		info.MaxLength = int(b[off])
		off++

	case typ == TypeBinary || typ == TypeVarBinary:
		if off+1 >= len(b) {
			return TypeInfo{}, 0, fmt.Errorf("token: truncated binary TYPE_INFO")
		}
		info.MaxLength = int(b[off]) | int(b[off+1])<<8
		off += 2

	case typ == TypeBigVarBin || typ == TypeBigBinary:
		if off+1 >= len(b) {
			return TypeInfo{}, 0, fmt.Errorf("token: truncated binary TYPE_INFO")
		}
		info.MaxLength = int(b[off]) | int(b[off+1])<<8
		off += 2

	case typ == TypeBigVarChr || typ == TypeBigChar:
		if off+1 >= len(b) {
			return TypeInfo{}, 0, fmt.Errorf("token: truncated char TYPE_INFO")
		}
		info.MaxLength = int(b[off]) | int(b[off+1])<<8
		off += 2
		if off+5 > len(b) {
			return TypeInfo{}, 0, fmt.Errorf("token: truncated collation")
		}
		info.Collation = append([]byte(nil), b[off:off+5]...)
		off += 5

	case typ == TypeNVarChar || typ == TypeNChar:
		if off+1 >= len(b) {
			return TypeInfo{}, 0, fmt.Errorf("token: truncated nchar TYPE_INFO")
		}
		info.MaxLength = (int(b[off]) | int(b[off+1])<<8) / 2
		off += 2
		if off+5 > len(b) {
			return TypeInfo{}, 0, fmt.Errorf("token: truncated collation")
		}
		info.Collation = append([]byte(nil), b[off:off+5]...)
		off += 5

	default:
		return TypeInfo{}, 0, fmt.Errorf("token: unrecognized column type 0x%x", byte(typ))
	}

	return info, off, nil
}

// ColumnMetadata describes one COLMETADATA column.
type ColumnMetadata struct {
	UserType  uint32
	Flags     uint16
	Type      TypeInfo
	TableName []string
	Name      string
}

// Nullable reports whether [ColumnMetadata.Flags] has the nullable bit set.
func (c ColumnMetadata) Nullable() bool {
	return c.Flags&ColFlagNullable != 0
}

// Identity reports whether [ColumnMetadata.Flags] has the identity bit set.
func (c ColumnMetadata) Identity() bool {
	return c.Flags&ColFlagIdentity != 0
}
