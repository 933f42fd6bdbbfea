package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvChangeBeginTran(t *testing.T) {
	descriptor := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	b := append([]byte{EnvTypBeginTran, byte(len(descriptor))}, descriptor...)
	b = append(b, 0) // empty old value

	ec, err := ParseEnvChange(b)
	require.NoError(t, err)
	assert.Equal(t, EnvTypBeginTran, ec.Type)
	assert.Equal(t, descriptor, ec.New)
	assert.Empty(t, ec.Old)
}

func TestTransactionDescriptor(t *testing.T) {
	t.Run("little-endian 8-byte value", func(t *testing.T) {
		ec := EnvChange{New: []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}}
		v, err := ec.TransactionDescriptor()
		require.NoError(t, err)
		assert.Equal(t, uint64(1), v)
	})

	t.Run("full width value", func(t *testing.T) {
		ec := EnvChange{New: []byte{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}}
		v, err := ec.TransactionDescriptor()
		require.NoError(t, err)
		assert.Equal(t, uint64(0x0102030405060708), v)
	})

	t.Run("rejects wrong length", func(t *testing.T) {
		ec := EnvChange{New: []byte{1, 2, 3}}
		_, err := ec.TransactionDescriptor()
		assert.Error(t, err)
	})
}

func TestParseEnvChangeDatabase(t *testing.T) {
	// DATABASE is a BVarChar new/old pair: 1-byte length in UTF-16 code
	// units, followed by that many code units.
	newName, _ := encodeBVarCharForTest("newdb")
	oldName, _ := encodeBVarCharForTest("olddb")
	b := append([]byte{EnvTypDatabase}, newName...)
	b = append(b, oldName...)

	ec, err := ParseEnvChange(b)
	require.NoError(t, err)
	assert.Equal(t, EnvTypDatabase, ec.Type)
}

func TestParseEnvChangeRejectsEmptyBody(t *testing.T) {
	_, err := ParseEnvChange(nil)
	assert.Error(t, err)
}

// encodeBVarCharForTest builds a BVarChar-style length-prefixed ASCII field
// (1-byte unit count, then 2 bytes per unit) for constructing raw ENVCHANGE
// test fixtures without pulling in the full UTF-16 encoder.
func encodeBVarCharForTest(s string) ([]byte, error) {
	out := []byte{byte(len(s))}
	for _, r := range s {
		out = append(out, byte(r), 0)
	}
	return out, nil
}
