// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: bassosimone/nop's tls.go (TLSEngine/TLSConn abstraction,
// structured handshake Start/Done logging). The tunnel itself — running the
// TLS handshake bytes through TDS packet framing before the connection
// becomes a plain TLS socket — has no analog in the teacher or the
// retrieval pack; its behavior follows spec §4.1 directly.

package wire

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/safeconn"
)

// Endpoint classifies the target server for TLS verification purposes.
// Cloud endpoints require hostname verification; on-premises servers
// commonly present self-signed certificates and allow it to be skipped.
type Endpoint string

const (
	EndpointAzureSQL    Endpoint = "azuresql"
	EndpointFabric      Endpoint = "fabric"
	EndpointSynapse     Endpoint = "synapse"
	EndpointOnPremises  Endpoint = "onpremises"
)

// ClassifyEndpoint applies the case-insensitive hostname-suffix rules of
// spec §4.1 to determine whether host requires cloud-grade TLS
// verification.
func ClassifyEndpoint(host string) Endpoint {
	h := strings.ToLower(host)
	switch {
	case strings.HasSuffix(h, ".database.windows.net"):
		return EndpointAzureSQL
	case strings.HasSuffix(h, ".datawarehouse.fabric.microsoft.com"),
		strings.HasSuffix(h, ".pbidedicated.windows.net"):
		return EndpointFabric
	case strings.HasSuffix(h, ".sql.azuresynapse.net"):
		return EndpointSynapse
	default:
		return EndpointOnPremises
	}
}

// RequiresHostnameVerification reports whether e is a cloud endpoint kind
// for which hostname verification (and InsecureSkipVerify=false) is
// mandatory.
func RequiresHostnameVerification(e Endpoint) bool {
	return e != EndpointOnPremises
}

// TunnelHandshake performs the TLS handshake tunneled inside TDS PRELOGIN
// packets: handshake bytes are boxed into and unboxed from PacketPrelogin
// frames via s, exactly as the server expects during the PRELOGIN exchange.
//
// On success, it returns a [*tls.Conn] whose underlying transport is the
// raw connection directly (no more tunnel boxing): subsequent application
// data is TLS application records whose decrypted plaintext is itself
// ordinary 8-byte-framed TDS packets, so the caller rebinds its [*Stream]
// onto the returned conn with [*Stream.Rebind] and continues using normal
// [*Stream.ReadMessage]/[*Stream.WriteMessage].
func TunnelHandshake(ctx context.Context, s *Stream, tlsConfig *tls.Config, logger Logger) (*tls.Conn, error) {
	runtimex.Assert(tlsConfig != nil)
	if logger == nil {
		logger = discardLogger{}
	}

	tunneled := &tunnelConn{stream: s}
	tconn := tls.Client(tunneled, tlsConfig.Clone())

	t0 := time.Now()
	logger.Info("tlsHandshakeStart",
		"localAddr", safeconn.LocalAddr(s.Conn()),
		"remoteAddr", safeconn.RemoteAddr(s.Conn()),
		"serverName", tlsConfig.ServerName, "t0", t0)

	err := tconn.HandshakeContext(ctx)
	state := tconn.ConnectionState()
	logger.Info("tlsHandshakeDone",
		"localAddr", safeconn.LocalAddr(s.Conn()),
		"remoteAddr", safeconn.RemoteAddr(s.Conn()),
		"err", err, "tlsVersion", tls.VersionName(state.Version),
		"cipherSuite", tls.CipherSuiteName(state.CipherSuite))
	if err != nil {
		tconn.Close()
		return nil, fmt.Errorf("wire: TLS handshake: %w", err)
	}
	return tconn, nil
}

// tunnelConn adapts a [*Stream] to [net.Conn] for the duration of the
// PRELOGIN-tunneled TLS handshake: writes are boxed as PacketPrelogin
// messages, reads unbox the next such message's payload.
type tunnelConn struct {
	stream  *Stream
	pending []byte
}

var _ net.Conn = (*tunnelConn)(nil)

func (t *tunnelConn) Read(p []byte) (int, error) {
	for len(t.pending) == 0 {
		_, payload, err := t.stream.ReadMessage(context.Background())
		if err != nil {
			return 0, err
		}
		t.pending = payload
	}
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *tunnelConn) Write(p []byte) (int, error) {
	if err := t.stream.WriteMessage(context.Background(), PacketPrelogin, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (t *tunnelConn) Close() error                       { return t.stream.Conn().Close() }
func (t *tunnelConn) LocalAddr() net.Addr                { return t.stream.Conn().LocalAddr() }
func (t *tunnelConn) RemoteAddr() net.Addr               { return t.stream.Conn().RemoteAddr() }
func (t *tunnelConn) SetDeadline(tm time.Time) error      { return t.stream.Conn().SetDeadline(tm) }
func (t *tunnelConn) SetReadDeadline(tm time.Time) error  { return t.stream.Conn().SetReadDeadline(tm) }
func (t *tunnelConn) SetWriteDeadline(tm time.Time) error { return t.stream.Conn().SetWriteDeadline(tm) }
