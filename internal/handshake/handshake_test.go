package handshake

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugr-lab/mssql-extension/internal/token"
	"github.com/hugr-lab/mssql-extension/internal/wire"
)

func putUint16LE(buf *bytes.Buffer, v uint16) {
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
}

func putUint32LE(buf *bytes.Buffer, v uint32) {
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v >> 16))
	buf.WriteByte(byte(v >> 24))
}

func writeBVarChar(buf *bytes.Buffer, s string) {
	buf.WriteByte(byte(len(s)))
	for _, r := range s {
		buf.WriteByte(byte(r))
		buf.WriteByte(0)
	}
}

func writeDone(buf *bytes.Buffer, status uint16) {
	buf.WriteByte(byte(token.TagDone))
	putUint16LE(buf, status)
	putUint16LE(buf, 0)
	for i := 0; i < 8; i++ {
		buf.WriteByte(0)
	}
}

func writeLoginAck(buf *bytes.Buffer) {
	var inner bytes.Buffer
	inner.WriteByte(1)
	putUint32LE(&inner, 0x74000004)
	writeBVarChar(&inner, "mssql-extension")
	inner.Write([]byte{15, 0, 0, 0})

	buf.WriteByte(byte(token.TagLoginAck))
	putUint16LE(buf, uint16(inner.Len()))
	buf.Write(inner.Bytes())
}

func writeServerError(buf *bytes.Buffer, severity byte, message string) {
	var inner bytes.Buffer
	putUint32LE(&inner, 18456)
	inner.WriteByte(1)
	inner.WriteByte(severity)
	putUint16LE(&inner, uint16(len(message)))
	for _, r := range message {
		inner.WriteByte(byte(r))
		inner.WriteByte(0)
	}
	writeBVarChar(&inner, "srv")
	writeBVarChar(&inner, "proc")
	putUint32LE(&inner, 1)

	buf.WriteByte(byte(token.TagError))
	putUint16LE(buf, uint16(inner.Len()))
	buf.Write(inner.Bytes())
}

type fedAuthEntry struct {
	id   uint32
	data string
}

func writeFedAuthInfo(buf *bytes.Buffer, entries []fedAuthEntry) {
	headerSize := 4 + 9*len(entries)
	type encoded struct {
		id         byte
		dataLen    uint32
		dataOffset uint32
		data       []byte
	}
	var encs []encoded
	off := headerSize
	for _, e := range entries {
		var data bytes.Buffer
		for _, r := range e.data {
			data.WriteByte(byte(r))
			data.WriteByte(0)
		}
		encs = append(encs, encoded{
			id:         byte(e.id),
			dataLen:    uint32(data.Len()),
			dataOffset: uint32(off) + 4,
			data:       data.Bytes(),
		})
		off += data.Len()
	}

	var body bytes.Buffer
	putUint32LE(&body, uint32(len(entries)))
	for _, e := range encs {
		body.WriteByte(e.id)
		putUint32LE(&body, e.dataLen)
		putUint32LE(&body, e.dataOffset)
	}
	for _, e := range encs {
		body.Write(e.data)
	}

	buf.WriteByte(byte(token.TagFedAuthInfo))
	putUint32LE(buf, uint32(body.Len()))
	buf.Write(body.Bytes())
}

// fakeServer reads one message and writes back resp for each entry in
// script, in order; it stops silently once the pipe is closed.
func fakeServer(t *testing.T, conn net.Conn, script [][]byte) {
	t.Helper()
	s := wire.NewStream(conn, wire.DefaultPacketSize, nil)
	go func() {
		for _, resp := range script {
			if _, _, err := s.ReadMessage(context.Background()); err != nil {
				return
			}
			if err := s.WriteMessage(context.Background(), wire.PacketTabularResult, resp); err != nil {
				return
			}
		}
	}()
}

func preloginResponse(encryption byte) []byte {
	return EncodePrelogin(Prelogin{Encryption: encryption})
}

func TestDoCompletesPasswordHandshake(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	var loginResp bytes.Buffer
	writeLoginAck(&loginResp)
	writeDone(&loginResp, token.DoneFinal)

	fakeServer(t, server, [][]byte{
		preloginResponse(EncryptNotSup),
		loginResp.Bytes(),
	})

	s := wire.NewStream(client, wire.DefaultPacketSize, nil)
	result, err := Do(context.Background(), s, PasswordStrategy{Username: "u", Password: "p"}, Params{
		Hostname:   "host",
		AppName:    "app",
		ServerName: "srv",
		Database:   "db",
		PacketSize: wire.DefaultPacketSize,
	})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "mssql-extension", result.LoginAck.ProgName)
	assert.Nil(t, result.TransactionDescriptor)
}

func TestDoRunsFedAuthInfoRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	var fedAuthResp bytes.Buffer
	writeFedAuthInfo(&fedAuthResp, []fedAuthEntry{
		{id: token.FedAuthInfoSPN, data: "spn"},
		{id: token.FedAuthInfoSTSURL, data: "https://sts.example/"},
	})
	var loginResp bytes.Buffer
	writeLoginAck(&loginResp)
	writeDone(&loginResp, token.DoneFinal)

	fakeServer(t, server, [][]byte{
		preloginResponse(EncryptNotSup),
		fedAuthResp.Bytes(),
		loginResp.Bytes(),
	})

	s := wire.NewStream(client, wire.DefaultPacketSize, nil)
	provider := &recordingTokenProvider{token: "minted-token"}
	result, err := Do(context.Background(), s, &ProviderStrategy{Provider: provider}, Params{
		Hostname:   "host",
		PacketSize: wire.DefaultPacketSize,
	})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "spn", provider.gotSPN)
	assert.Equal(t, "https://sts.example/", provider.gotSTSURL)
}

// recordingTokenProvider is a TokenProvider distinct from auth_test.go's
// fakeTokenProvider, used here to also capture the spn/stsURL Do passed
// through from the server's FEDAUTHINFO token.
type recordingTokenProvider struct {
	token     string
	gotSPN    string
	gotSTSURL string
}

func (p *recordingTokenProvider) Token(ctx context.Context, spn, stsURL string) (string, error) {
	p.gotSPN = spn
	p.gotSTSURL = stsURL
	return p.token, nil
}

func TestDoReturnsErrorWhenServerRejectsLogin(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	var loginResp bytes.Buffer
	writeServerError(&loginResp, 14, "login failed")
	writeDone(&loginResp, token.DoneFinal|token.DoneError)

	fakeServer(t, server, [][]byte{
		preloginResponse(EncryptNotSup),
		loginResp.Bytes(),
	})

	s := wire.NewStream(client, wire.DefaultPacketSize, nil)
	_, err := Do(context.Background(), s, PasswordStrategy{Username: "u", Password: "p"}, Params{
		PacketSize: wire.DefaultPacketSize,
	})
	assert.Error(t, err)
}

func TestDoErrorsWhenEncryptionRequiredButNotSupported(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	fakeServer(t, server, [][]byte{preloginResponse(EncryptNotSup)})

	s := wire.NewStream(client, wire.DefaultPacketSize, nil)
	_, err := Do(context.Background(), s, PasswordStrategy{Username: "u", Password: "p"}, Params{
		PacketSize:        wire.DefaultPacketSize,
		RequireEncryption: true,
	})
	assert.Error(t, err)
}

type erroringStrategy struct{}

func (erroringStrategy) Prepare(ctx context.Context) (Login7, error) {
	return Login7{}, fmt.Errorf("credentials unavailable")
}

func (erroringStrategy) OnFedAuthInfo(ctx context.Context, spn, stsURL string) (string, error) {
	return "", fmt.Errorf("unused")
}

func TestDoPropagatesStrategyPrepareError(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	fakeServer(t, server, [][]byte{preloginResponse(EncryptNotSup)})

	s := wire.NewStream(client, wire.DefaultPacketSize, nil)
	_, err := Do(context.Background(), s, erroringStrategy{}, Params{PacketSize: wire.DefaultPacketSize})
	assert.ErrorContains(t, err, "credentials unavailable")
}
