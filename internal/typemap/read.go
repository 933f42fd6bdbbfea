// SPDX-License-Identifier: GPL-3.0-or-later
//
// Grounded on spec §4.12's read-side mapping table and, conceptually, on
// other_examples wang-xuemin/go-mssqldb's typeInfo.Reader dispatch (a
// type-info-keyed function table) — retargeted here from driver.Value to
// this repo's logical HostType enum.
package typemap

import (
	"fmt"
	"strings"

	"github.com/hugr-lab/mssql-extension/internal/token"
)

// MapReadType returns the logical host type a wire column decodes into.
// Deprecated/unsupported wire types are rejected with the column's exact
// type name (spec §4.12), mirroring [token.IsUnsupported].
func MapReadType(t token.SQLType) (HostType, error) {
	if name, unsupported := token.IsUnsupported(t); unsupported {
		return "", fmt.Errorf("typemap: unsupported column type %s", name)
	}
	switch t {
	case token.TypeBit, token.TypeBitN:
		return HostBoolean, nil
	case token.TypeInt1:
		return HostTinyInt, nil
	case token.TypeInt2:
		return HostSmallInt, nil
	case token.TypeInt4:
		return HostInteger, nil
	case token.TypeInt8:
		return HostBigInt, nil
	case token.TypeIntN:
		return HostBigInt, nil // width-specific narrowing is done by the decoder, not the logical type
	case token.TypeFlt4:
		return HostFloat, nil
	case token.TypeFlt8, token.TypeFltN:
		return HostDouble, nil
	case token.TypeMoney, token.TypeMoney4, token.TypeMoneyN:
		return HostDecimal, nil // MONEY -> DECIMAL(19,4), SMALLMONEY -> DECIMAL(10,4)
	case token.TypeDecimalN, token.TypeNumericN:
		return HostDecimal, nil
	case token.TypeGUID:
		return HostUUID, nil
	case token.TypeDateN:
		return HostDate, nil
	case token.TypeTimeN:
		return HostTime, nil
	case token.TypeDateTime, token.TypeDateTim4, token.TypeDateTimeN,
		token.TypeDateTime2N, token.TypeDateTimeOffsetN:
		return HostTimestamp, nil
	case token.TypeBinary, token.TypeVarBinary, token.TypeBigVarBin, token.TypeBigBinary:
		return HostBlob, nil
	case token.TypeBigVarChr, token.TypeBigChar, token.TypeNVarChar, token.TypeNChar:
		return HostVarchar, nil
	default:
		return "", fmt.Errorf("typemap: unrecognized wire type 0x%x", byte(t))
	}
}

// MoneyScale returns the fixed scale MONEY (19,4) and SMALLMONEY (10,4)
// decode into as DECIMAL, per spec §4.12.
func MoneyScale(t token.SQLType) (precision, scale int) {
	if t == token.TypeMoney4 {
		return 10, 4
	}
	return 19, 4
}

// RequiresUTF16Cast reports whether a scan of a column with the given
// sys.types name and collation must wrap it in CAST(col AS NVARCHAR(MAX))
// to come back on the wire as UTF-16 instead of the collation's code page
// (spec §4.12). NCHAR/NVARCHAR/TEXT-wide columns and every non-character
// type already decode as UTF-16LE (or a fixed binary layout) and never
// need the cast, and neither does a CHAR/VARCHAR column using a Latin1
// collation, whose code page round-trips through UTF-8 losslessly.
func RequiresUTF16Cast(typeName, collation string) bool {
	switch strings.ToLower(typeName) {
	case "char", "varchar", "text":
	default:
		return false
	}
	return !strings.Contains(collation, "Latin1_General")
}

// TrimCharPadding strips the trailing spaces SQL Server pads fixed-width
// CHAR/NCHAR values with, per spec §4.12 ("CHAR(n) strips trailing
// spaces"). VARCHAR/NVARCHAR values are never padded and pass through
// unchanged (trimming would incorrectly remove user data).
func TrimCharPadding(t token.SQLType, value string) string {
	switch t {
	case token.TypeBigChar, token.TypeNChar:
		return strings.TrimRight(value, " ")
	default:
		return value
	}
}
