package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUTF16RoundTrip(t *testing.T) {
	t.Run("ascii fast path", func(t *testing.T) {
		want := "dbo.Orders"
		enc, err := EncodeUTF16LE(want)
		require.NoError(t, err)
		assert.True(t, isASCIIFast(enc))

		got, err := DecodeUTF16LE(enc)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("general path with non-ascii characters", func(t *testing.T) {
		want := "Müller — café"
		enc, err := EncodeUTF16LE(want)
		require.NoError(t, err)
		assert.False(t, isASCIIFast(enc))

		got, err := DecodeUTF16LE(enc)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("surrogate pairs", func(t *testing.T) {
		want := "\U0001F600" // outside the BMP, requires a surrogate pair
		enc, err := EncodeUTF16LE(want)
		require.NoError(t, err)
		got, err := DecodeUTF16LE(enc)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("empty string", func(t *testing.T) {
		enc, err := EncodeUTF16LE("")
		require.NoError(t, err)
		assert.Empty(t, enc)
		got, err := DecodeUTF16LE(enc)
		require.NoError(t, err)
		assert.Equal(t, "", got)
	})
}

func TestIsASCIIFast(t *testing.T) {
	t.Run("odd length is never fast", func(t *testing.T) {
		assert.False(t, isASCIIFast([]byte{0x41}))
	})

	t.Run("high bit set rejects fast path", func(t *testing.T) {
		assert.False(t, isASCIIFast([]byte{0x80, 0x00}))
	})

	t.Run("non-zero high byte rejects fast path", func(t *testing.T) {
		assert.False(t, isASCIIFast([]byte{0x41, 0x01}))
	})
}

func TestRuneLengthUTF16(t *testing.T) {
	assert.Equal(t, 5, runeLengthUTF16("hello"))
	assert.Equal(t, 2, runeLengthUTF16("\U0001F600")) // surrogate pair counts as 2 code units
}
