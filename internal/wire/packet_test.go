package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Type:     PacketTabularResult,
		Status:   StatusEOM,
		Length:   123,
		SPID:     7,
		PacketID: 3,
		Window:   0,
	}
	enc := EncodeHeader(h)
	got, err := DecodeHeader(enc[:])
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestEncodeHeaderIsBigEndian(t *testing.T) {
	h := Header{Length: 0x0102, SPID: 0x0304}
	enc := EncodeHeader(h)
	assert.Equal(t, byte(0x01), enc[2])
	assert.Equal(t, byte(0x02), enc[3])
	assert.Equal(t, byte(0x03), enc[4])
	assert.Equal(t, byte(0x04), enc[5])
}

func TestDecodeHeaderRejectsWrongSize(t *testing.T) {
	_, err := DecodeHeader([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDecodeHeaderRejectsLengthBelowHeaderSize(t *testing.T) {
	h := Header{Length: 4}
	enc := EncodeHeader(h)
	_, err := DecodeHeader(enc[:])
	assert.Error(t, err)
}

func TestIsEOM(t *testing.T) {
	assert.True(t, IsEOM(StatusEOM))
	assert.True(t, IsEOM(StatusEOM|StatusIgnore))
	assert.False(t, IsEOM(StatusNormal))
	assert.False(t, IsEOM(StatusIgnore))
}
