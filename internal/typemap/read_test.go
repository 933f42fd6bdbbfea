package typemap

import (
	"testing"

	"github.com/hugr-lab/mssql-extension/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapReadType(t *testing.T) {
	cases := []struct {
		name string
		wire token.SQLType
		want HostType
	}{
		{"bit", token.TypeBit, HostBoolean},
		{"bitN", token.TypeBitN, HostBoolean},
		{"int1", token.TypeInt1, HostTinyInt},
		{"int2", token.TypeInt2, HostSmallInt},
		{"int4", token.TypeInt4, HostInteger},
		{"int8", token.TypeInt8, HostBigInt},
		{"intN", token.TypeIntN, HostBigInt},
		{"flt4", token.TypeFlt4, HostFloat},
		{"flt8", token.TypeFlt8, HostDouble},
		{"fltN", token.TypeFltN, HostDouble},
		{"money", token.TypeMoney, HostDecimal},
		{"money4", token.TypeMoney4, HostDecimal},
		{"moneyN", token.TypeMoneyN, HostDecimal},
		{"decimalN", token.TypeDecimalN, HostDecimal},
		{"numericN", token.TypeNumericN, HostDecimal},
		{"guid", token.TypeGUID, HostUUID},
		{"dateN", token.TypeDateN, HostDate},
		{"timeN", token.TypeTimeN, HostTime},
		{"datetime", token.TypeDateTime, HostTimestamp},
		{"datetim4", token.TypeDateTim4, HostTimestamp},
		{"datetimeN", token.TypeDateTimeN, HostTimestamp},
		{"datetime2N", token.TypeDateTime2N, HostTimestamp},
		{"datetimeoffsetN", token.TypeDateTimeOffsetN, HostTimestamp},
		{"binary", token.TypeBinary, HostBlob},
		{"varbinary", token.TypeVarBinary, HostBlob},
		{"bigvarbin", token.TypeBigVarBin, HostBlob},
		{"bigbinary", token.TypeBigBinary, HostBlob},
		{"bigvarchr", token.TypeBigVarChr, HostVarchar},
		{"bigchar", token.TypeBigChar, HostVarchar},
		{"nvarchar", token.TypeNVarChar, HostVarchar},
		{"nchar", token.TypeNChar, HostVarchar},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := MapReadType(c.wire)
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}

	t.Run("rejects deprecated unsupported types by name", func(t *testing.T) {
		_, err := MapReadType(token.TypeXML)
		assert.ErrorContains(t, err, "XML")
	})

	t.Run("rejects unrecognized byte value", func(t *testing.T) {
		_, err := MapReadType(token.SQLType(0x99))
		assert.Error(t, err)
	})
}

func TestMoneyScale(t *testing.T) {
	p, s := MoneyScale(token.TypeMoney4)
	assert.Equal(t, 10, p)
	assert.Equal(t, 4, s)

	p, s = MoneyScale(token.TypeMoney)
	assert.Equal(t, 19, p)
	assert.Equal(t, 4, s)

	p, s = MoneyScale(token.TypeMoneyN)
	assert.Equal(t, 19, p)
	assert.Equal(t, 4, s)
}

func TestTrimCharPadding(t *testing.T) {
	t.Run("char is trimmed", func(t *testing.T) {
		assert.Equal(t, "abc", TrimCharPadding(token.TypeBigChar, "abc   "))
	})

	t.Run("nchar is trimmed", func(t *testing.T) {
		assert.Equal(t, "abc", TrimCharPadding(token.TypeNChar, "abc   "))
	})

	t.Run("varchar is left alone", func(t *testing.T) {
		assert.Equal(t, "abc   ", TrimCharPadding(token.TypeBigVarChr, "abc   "))
	})

	t.Run("nvarchar is left alone", func(t *testing.T) {
		assert.Equal(t, "abc   ", TrimCharPadding(token.TypeNVarChar, "abc   "))
	})
}

func TestRequiresUTF16Cast(t *testing.T) {
	t.Run("latin1 varchar needs no cast", func(t *testing.T) {
		assert.False(t, RequiresUTF16Cast("varchar", "SQL_Latin1_General_CP1_CI_AS"))
	})

	t.Run("non-latin1 varchar needs a cast", func(t *testing.T) {
		assert.True(t, RequiresUTF16Cast("varchar", "Japanese_CI_AS"))
	})

	t.Run("non-latin1 char needs a cast", func(t *testing.T) {
		assert.True(t, RequiresUTF16Cast("char", "Chinese_PRC_CI_AS"))
	})

	t.Run("non-latin1 text needs a cast", func(t *testing.T) {
		assert.True(t, RequiresUTF16Cast("text", "Japanese_CI_AS"))
	})

	t.Run("nvarchar never needs a cast regardless of collation", func(t *testing.T) {
		assert.False(t, RequiresUTF16Cast("nvarchar", "Japanese_CI_AS"))
	})

	t.Run("non-character type never needs a cast", func(t *testing.T) {
		assert.False(t, RequiresUTF16Cast("int", "Japanese_CI_AS"))
	})
}
