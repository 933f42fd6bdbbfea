package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTypeInfoFixedLength(t *testing.T) {
	cases := []struct {
		name   string
		typ    SQLType
		length int
	}{
		{"bit", TypeBit, 1},
		{"int1", TypeInt1, 1},
		{"int2", TypeInt2, 2},
		{"int4", TypeInt4, 4},
		{"int8", TypeInt8, 8},
		{"flt4", TypeFlt4, 4},
		{"flt8", TypeFlt8, 8},
		{"money", TypeMoney, 8},
		{"money4", TypeMoney4, 4},
		{"datetime", TypeDateTime, 8},
		{"datetim4", TypeDateTim4, 4},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			info, n, err := ParseTypeInfo([]byte{byte(c.typ)})
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			assert.Equal(t, c.typ, info.Type)
			assert.Equal(t, c.length, info.MaxLength)
		})
	}
}

func TestParseTypeInfoVariableWidth(t *testing.T) {
	t.Run("intN", func(t *testing.T) {
		info, n, err := ParseTypeInfo([]byte{byte(TypeIntN), 8})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, 8, info.MaxLength)
	})

	t.Run("dateN is a 3-byte fixed field", func(t *testing.T) {
		info, n, err := ParseTypeInfo([]byte{byte(TypeDateN)})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, 3, info.MaxLength)
	})

	t.Run("timeN carries scale", func(t *testing.T) {
		info, n, err := ParseTypeInfo([]byte{byte(TypeTimeN), 7})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, byte(7), info.Scale)
	})

	t.Run("decimalN carries precision and scale", func(t *testing.T) {
		info, n, err := ParseTypeInfo([]byte{byte(TypeDecimalN), 17, 38, 10})
		require.NoError(t, err)
		assert.Equal(t, 4, n)
		assert.Equal(t, 17, info.MaxLength)
		assert.Equal(t, byte(38), info.Precision)
		assert.Equal(t, byte(10), info.Scale)
	})

	t.Run("guid", func(t *testing.T) {
		info, n, err := ParseTypeInfo([]byte{byte(TypeGUID), 16})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, 16, info.MaxLength)
	})

	t.Run("varbinary", func(t *testing.T) {
		info, n, err := ParseTypeInfo([]byte{byte(TypeVarBinary), 0xFF, 0x00})
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, 0xFF, info.MaxLength)
	})

	t.Run("bigvarchr with collation", func(t *testing.T) {
		b := []byte{byte(TypeBigVarChr), 0xFF, 0xFF, 1, 2, 3, 4, 5}
		info, n, err := ParseTypeInfo(b)
		require.NoError(t, err)
		assert.Equal(t, 8, n)
		assert.Equal(t, 0xFFFF, info.MaxLength)
		assert.Equal(t, []byte{1, 2, 3, 4, 5}, info.Collation)
	})

	t.Run("nvarchar length is halved and collation captured", func(t *testing.T) {
		b := []byte{byte(TypeNVarChar), 100, 0, 1, 2, 3, 4, 5}
		info, n, err := ParseTypeInfo(b)
		require.NoError(t, err)
		assert.Equal(t, 8, n)
		assert.Equal(t, 50, info.MaxLength)
		assert.Equal(t, []byte{1, 2, 3, 4, 5}, info.Collation)
	})

	t.Run("truncated payload is rejected", func(t *testing.T) {
		_, _, err := ParseTypeInfo([]byte{byte(TypeIntN)})
		assert.Error(t, err)
	})
}

func TestParseTypeInfoUnsupportedTypes(t *testing.T) {
	cases := []struct {
		typ  SQLType
		name string
	}{
		{TypeXML, "XML"},
		{TypeUDT, "UDT"},
		{TypeText, "TEXT"},
		{TypeNText, "NTEXT"},
		{TypeImage, "IMAGE"},
		{TypeVariant, "SQL_VARIANT"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			name, unsupported := IsUnsupported(c.typ)
			assert.True(t, unsupported)
			assert.Equal(t, c.name, name)

			_, _, err := ParseTypeInfo([]byte{byte(c.typ)})
			assert.ErrorContains(t, err, c.name)
		})
	}

	t.Run("supported types are not flagged", func(t *testing.T) {
		_, unsupported := IsUnsupported(TypeInt4)
		assert.False(t, unsupported)
	})
}

func TestColumnMetadataFlags(t *testing.T) {
	t.Run("nullable", func(t *testing.T) {
		c := ColumnMetadata{Flags: ColFlagNullable}
		assert.True(t, c.Nullable())
		assert.False(t, c.Identity())
	})

	t.Run("identity", func(t *testing.T) {
		c := ColumnMetadata{Flags: ColFlagIdentity}
		assert.True(t, c.Identity())
		assert.False(t, c.Nullable())
	})

	t.Run("neither set", func(t *testing.T) {
		c := ColumnMetadata{}
		assert.False(t, c.Nullable())
		assert.False(t, c.Identity())
	})
}
