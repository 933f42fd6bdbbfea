// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: other_examples sqldef/sqldef's adapter/mssql/mssql.go
// identifier-quoting (`[name]`, doubled `]`) and reserved-word handling;
// literal-formatting rules are spec §4.12's host→T-SQL literal table.
package typemap

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// EscapeIdentifier brackets name, doubling any literal ']' (MS-TDS/T-SQL
// quoted-identifier convention).
func EscapeIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// QualifiedName brackets schema and table separately and joins them.
func QualifiedName(schema, table string) string {
	return EscapeIdentifier(schema) + "." + EscapeIdentifier(table)
}

// BoolLiteral renders a BOOLEAN host value as T-SQL's BIT literal.
func BoolLiteral(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// IntLiteral renders a signed host integer (TINYINT..BIGINT) as a plain
// decimal literal.
func IntLiteral(v int64) string {
	return strconv.FormatInt(v, 10)
}

// UBigIntLiteral renders an unsigned 64-bit host integer, which does not
// fit BIGINT's signed range, as `CAST(... AS DECIMAL(20,0))`.
func UBigIntLiteral(v uint64) string {
	return fmt.Sprintf("CAST(%d AS DECIMAL(20,0))", v)
}

// HugeIntLiteral renders a 128-bit host integer (given as a base-10
// string) as `CAST(... AS DECIMAL(38,0))`.
func HugeIntLiteral(decimalDigits string) string {
	return fmt.Sprintf("CAST(%s AS DECIMAL(38,0))", decimalDigits)
}

// FloatLiteral renders a host FLOAT/DOUBLE, rejecting NaN and ±Inf since
// T-SQL's float/real types cannot represent them.
func FloatLiteral(v float64) (string, error) {
	if math.IsNaN(v) {
		return "", fmt.Errorf("typemap: NaN has no T-SQL float representation")
	}
	if math.IsInf(v, 0) {
		return "", fmt.Errorf("typemap: infinite value has no T-SQL float representation")
	}
	return strconv.FormatFloat(v, 'g', -1, 64), nil
}

// DecimalLiteral renders an exact-precision host DECIMAL(p,s) value,
// preserving scale.
func DecimalLiteral(v *big.Rat, scale int) string {
	return v.FloatString(scale)
}

// StringLiteral renders a host string as an N-prefixed (Unicode) T-SQL
// string literal, doubling embedded single quotes.
func StringLiteral(s string) string {
	return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// UUIDLiteral renders a host UUID as a quoted T-SQL string literal; the
// UNIQUEIDENTIFIER column type, not the literal syntax, is what makes SQL
// Server interpret it as a GUID.
func UUIDLiteral(id uuid.UUID) string {
	return "'" + id.String() + "'"
}

// BlobLiteral renders opaque bytes as a T-SQL hex literal (`0x...`).
func BlobLiteral(b []byte) string {
	var sb strings.Builder
	sb.WriteString("0x")
	const hexDigits = "0123456789abcdef"
	for _, c := range b {
		sb.WriteByte(hexDigits[c>>4])
		sb.WriteByte(hexDigits[c&0xF])
	}
	return sb.String()
}

// DateLiteral renders a host DATE as 'YYYY-MM-DD'.
func DateLiteral(year, month, day int) string {
	return fmt.Sprintf("'%04d-%02d-%02d'", year, month, day)
}

// TimeLiteral renders a host TIME as 'HH:MM:SS.fffffff'.
func TimeLiteral(hour, minute, second, fractionalNanos int) string {
	return fmt.Sprintf("'%02d:%02d:%02d.%07d'", hour, minute, second, fractionalNanos/100)
}

// HostType names a logical host column type for DDL generation.
type HostType string

const (
	HostBoolean   HostType = "BOOLEAN"
	HostTinyInt   HostType = "TINYINT"
	HostSmallInt  HostType = "SMALLINT"
	HostInteger   HostType = "INTEGER"
	HostBigInt    HostType = "BIGINT"
	HostUBigInt   HostType = "UBIGINT"
	HostHugeInt   HostType = "HUGEINT"
	HostFloat     HostType = "FLOAT"
	HostDouble    HostType = "DOUBLE"
	HostDecimal   HostType = "DECIMAL"
	HostVarchar   HostType = "VARCHAR"
	HostUUID      HostType = "UUID"
	HostBlob      HostType = "BLOB"
	HostDate      HostType = "DATE"
	HostTime      HostType = "TIME"
	HostTimestamp HostType = "TIMESTAMP"
)

// DDLColumnType maps a host logical type (with precision/scale/length as
// applicable) to the T-SQL type name used in CREATE TABLE.
func DDLColumnType(t HostType, precision, scale, maxLength int) (string, error) {
	switch t {
	case HostBoolean:
		return "BIT", nil
	case HostTinyInt:
		return "TINYINT", nil
	case HostSmallInt:
		return "SMALLINT", nil
	case HostInteger:
		return "INT", nil
	case HostBigInt:
		return "BIGINT", nil
	case HostUBigInt:
		return "DECIMAL(20,0)", nil
	case HostHugeInt:
		return "DECIMAL(38,0)", nil
	case HostFloat:
		return "REAL", nil
	case HostDouble:
		return "FLOAT", nil
	case HostDecimal:
		if precision <= 0 {
			precision = 38
		}
		return fmt.Sprintf("DECIMAL(%d,%d)", precision, scale), nil
	case HostVarchar:
		if maxLength <= 0 {
			return "NVARCHAR(MAX)", nil
		}
		return fmt.Sprintf("NVARCHAR(%d)", maxLength), nil
	case HostUUID:
		return "UNIQUEIDENTIFIER", nil
	case HostBlob:
		if maxLength <= 0 {
			return "VARBINARY(MAX)", nil
		}
		return fmt.Sprintf("VARBINARY(%d)", maxLength), nil
	case HostDate:
		return "DATE", nil
	case HostTime:
		return "TIME", nil
	case HostTimestamp:
		return "DATETIME2", nil
	default:
		return "", fmt.Errorf("typemap: unmapped host type %q", t)
	}
}

// ColumnDDL renders one CREATE TABLE column definition.
func ColumnDDL(name string, t HostType, precision, scale, maxLength int, nullable bool) (string, error) {
	typeName, err := DDLColumnType(t, precision, scale, maxLength)
	if err != nil {
		return "", err
	}
	nullability := "NOT NULL"
	if nullable {
		nullability = "NULL"
	}
	return fmt.Sprintf("%s %s %s", EscapeIdentifier(name), typeName, nullability), nil
}
