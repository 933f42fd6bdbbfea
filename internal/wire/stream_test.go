package wire

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamWriteMessageFragmentsLargePayloads(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	// HeaderSize(8) + packetSize(16) means each fragment carries 8 payload
	// bytes, so a 20-byte payload must span three packets.
	s := NewStream(clientConn, HeaderSize+8, nil)
	payload := make([]byte, 20)
	for i := range payload {
		payload[i] = byte(i)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.WriteMessage(context.Background(), PacketSQLBatch, payload)
	}()

	serverStream := NewStream(serverConn, HeaderSize+8, nil)
	gotType, gotPayload, err := serverStream.ReadMessage(context.Background())
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, PacketSQLBatch, gotType)
	assert.Equal(t, payload, gotPayload)
}

func TestStreamWriteMessageEmptyPayload(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	s := NewStream(clientConn, DefaultPacketSize, nil)
	done := make(chan error, 1)
	go func() {
		done <- s.WriteMessage(context.Background(), PacketAttention, nil)
	}()

	serverStream := NewStream(serverConn, DefaultPacketSize, nil)
	gotType, gotPayload, err := serverStream.ReadMessage(context.Background())
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, PacketAttention, gotType)
	assert.Empty(t, gotPayload)
}

func TestMessageReaderPullsAcrossPackets(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	s := NewStream(clientConn, HeaderSize+4, nil)
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	done := make(chan error, 1)
	go func() {
		done <- s.WriteMessage(context.Background(), PacketTabularResult, payload)
	}()

	serverStream := NewStream(serverConn, HeaderSize+4, nil)
	mr := NewMessageReader(serverStream)
	got, err := io.ReadAll(mr)
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, payload, got)
	assert.Equal(t, PacketTabularResult, mr.Type())
}

func TestStreamSetPacketSize(t *testing.T) {
	clientConn, _ := net.Pipe()
	defer clientConn.Close()
	s := NewStream(clientConn, DefaultPacketSize, nil)
	s.SetPacketSize(2048)
	assert.Equal(t, 2048, s.packetSize)

	t.Run("ignores sizes too small to hold a header", func(t *testing.T) {
		s.SetPacketSize(4)
		assert.Equal(t, 2048, s.packetSize)
	})
}

func TestStreamRebindPreservesPacketIDSequence(t *testing.T) {
	clientConn, _ := net.Pipe()
	defer clientConn.Close()
	s := NewStream(clientConn, DefaultPacketSize, nil)
	s.sendPktID = 5

	newConn, _ := net.Pipe()
	defer newConn.Close()
	s.Rebind(newConn)
	assert.Equal(t, byte(5), s.sendPktID)
	assert.Equal(t, newConn, s.Conn())
}
