// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: other_examples ha1tch-aulsql protocol/tds-connection.go's
// handshake() method (PRELOGIN exchange → optional TLS → LOGIN7 →
// authenticate), reworked client-side and generalized over [Strategy]
// instead of a single password Authenticator.

package handshake

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"

	"github.com/hugr-lab/mssql-extension/internal/encoding"
	"github.com/hugr-lab/mssql-extension/internal/token"
	"github.com/hugr-lab/mssql-extension/internal/wire"
)

// Logger is the subset of mssql.SLogger this package depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}

// Params carries everything the handshake needs beyond the strategy: the
// connection-identifying LOGIN7 fields and the TLS posture to negotiate.
type Params struct {
	Hostname   string
	AppName    string
	ServerName string
	Database   string
	Language   string
	PacketSize uint32

	TLSConfig          *tls.Config
	RequireEncryption  bool // PRELOGIN ENCRYPTION byte ENCRYPT_REQ instead of ENCRYPT_ON
	RequireFedAuth     bool // set PRELOGIN FEDAUTHREQUIRED

	Logger Logger
}

// Result is what a successful handshake produces.
type Result struct {
	LoginAck           token.LoginAck
	NegotiatedPacket   int
	TransactionDescriptor *uint64
}

// Do runs PRELOGIN, the optional tunneled TLS upgrade, LOGIN7, and the
// FEDAUTHINFO/LOGINACK token loop over s, returning once the server has
// authenticated the connection or reports a failure.
func Do(ctx context.Context, s *wire.Stream, strategy Strategy, p Params) (*Result, error) {
	logger := p.Logger
	if logger == nil {
		logger = discardLogger{}
	}

	encryption := EncryptOn
	if p.RequireEncryption {
		encryption = EncryptReq
	}
	fedAuthReq := p.RequireFedAuth
	pre := Prelogin{
		Version:    [6]byte{0, 0, 0, 0, 0, 0},
		Encryption: encryption,
		MARS:       0,
	}
	if fedAuthReq {
		pre.FedAuthRequired = &fedAuthReq
	}
	preBody := EncodePrelogin(pre)
	if err := s.WriteMessage(ctx, wire.PacketPrelogin, preBody); err != nil {
		return nil, fmt.Errorf("handshake: sending PRELOGIN: %w", err)
	}
	_, respBody, err := s.ReadMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("handshake: reading PRELOGIN response: %w", err)
	}
	resp, err := DecodePrelogin(respBody)
	if err != nil {
		return nil, fmt.Errorf("handshake: decoding PRELOGIN response: %w", err)
	}
	logger.Debug("preloginNegotiated", "encryption", resp.Encryption, "fedAuthRequired", resp.FedAuthRequired != nil)

	if resp.Encryption != EncryptNotSup && p.TLSConfig != nil {
		conn, err := wire.TunnelHandshake(ctx, s, p.TLSConfig, toWireLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("handshake: TLS tunnel: %w", err)
		}
		s.Rebind(conn)
		logger.Info("tlsEstablished")
	} else if resp.Encryption == EncryptNotSup && p.RequireEncryption {
		return nil, fmt.Errorf("handshake: server does not support encryption but it was required")
	}

	login, err := strategy.Prepare(ctx)
	if err != nil {
		return nil, fmt.Errorf("handshake: preparing credentials: %w", err)
	}
	login.Hostname = p.Hostname
	login.AppName = p.AppName
	login.ServerName = p.ServerName
	login.Database = p.Database
	login.Language = p.Language
	login.PacketSize = p.PacketSize
	login.TDSVersion = 0x74000004 // TDS 7.4

	body, err := EncodeLogin7(login)
	if err != nil {
		return nil, fmt.Errorf("handshake: encoding LOGIN7: %w", err)
	}
	if err := s.WriteMessage(ctx, wire.PacketLogin7, body); err != nil {
		return nil, fmt.Errorf("handshake: sending LOGIN7: %w", err)
	}

	return drainUntilAuthenticated(ctx, s, strategy, logger)
}

// drainUntilAuthenticated reads tokens from the LOGIN7 response, handling
// a FEDAUTHINFO round-trip (mint a token via the strategy, send it as a
// standalone Federated Authentication Token message) until LOGINACK
// succeeds or an ERROR/failed DONE terminates the handshake.
func drainUntilAuthenticated(ctx context.Context, s *wire.Stream, strategy Strategy, logger Logger) (*Result, error) {
	mr := wire.NewMessageReader(s)
	p := token.NewParser(mr)

	var result Result
	var spn, stsURL string
	for {
		tok, err := p.Next()
		if err != nil {
			return nil, fmt.Errorf("handshake: reading login response: %w", err)
		}
		switch tok.Tag {
		case token.TagFedAuthInfo:
			for _, e := range tok.FedAuthInfo {
				switch e.InfoID {
				case token.FedAuthInfoSPN:
					spn = e.Data
				case token.FedAuthInfoSTSURL:
					stsURL = e.Data
				}
			}
			newToken, err := strategy.OnFedAuthInfo(ctx, spn, stsURL)
			if err != nil {
				return nil, fmt.Errorf("handshake: minting federated auth token: %w", err)
			}
			if err := sendFedAuthToken(ctx, s, newToken); err != nil {
				return nil, err
			}

		case token.TagError:
			if tok.Error.IsFailure() {
				return nil, fmt.Errorf("handshake: server rejected login: %s", tok.Error.Message)
			}

		case token.TagLoginAck:
			result.LoginAck = tok.LoginAck

		case token.TagEnvChange:
			if tok.EnvChange.Type == token.EnvTypBeginTran {
				if desc, err := tok.EnvChange.TransactionDescriptor(); err == nil {
					result.TransactionDescriptor = &desc
				}
			}

		case token.TagDone, token.TagDoneProc, token.TagDoneInProc:
			if tok.Done.IsFinal() {
				if tok.Done.Status&token.DoneError != 0 {
					return nil, fmt.Errorf("handshake: login batch failed")
				}
				return &result, nil
			}
		}
	}
}

// sendFedAuthToken sends a standalone Federated Authentication Token
// message (MS-TDS 2.2.7.1): a 4-byte length prefix followed by the
// UTF-16LE-encoded token.
func sendFedAuthToken(ctx context.Context, s *wire.Stream, tok string) error {
	utf16, err := encoding.EncodeUTF16LE(tok)
	if err != nil {
		return fmt.Errorf("handshake: encoding federated auth token: %w", err)
	}
	buf := make([]byte, 4+len(utf16))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(utf16)))
	copy(buf[4:], utf16)
	if err := s.WriteMessage(ctx, wire.PacketFedAuthToken, buf); err != nil {
		return fmt.Errorf("handshake: sending federated auth token: %w", err)
	}
	return nil
}

type wireLoggerAdapter struct{ l Logger }

func (a wireLoggerAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a wireLoggerAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }

func toWireLogger(l Logger) wire.Logger { return wireLoggerAdapter{l} }
