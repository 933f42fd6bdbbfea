// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: other_examples ha1tch-aulsql protocol/tds-connection.go's
// Authenticator interface and DefaultAuthenticator (the pluggable
// credential-check abstraction the handshake calls into), generalized
// here from a single server-side password check into a client-side
// strategy with three implementations per spec §4.4.

package handshake

import (
	"context"
	"fmt"
	"time"
)

// Strategy produces the credentials the LOGIN7 packet (and, for
// federated auth, any post-LOGINACK token refresh) needs.
type Strategy interface {
	// Prepare returns the Login7 fields this strategy contributes before
	// the first LOGIN7 is sent. For password auth this fills in
	// Username/Password; for federated auth it fills in FedAuthToken
	// (fetching one eagerly if the strategy has no deferred-fetch path).
	Prepare(ctx context.Context) (Login7, error)

	// OnFedAuthInfo is called when the server responds with a
	// FEDAUTHINFO token naming the STS URL and SPN to authenticate
	// against. Password strategies return an error.
	OnFedAuthInfo(ctx context.Context, spn, stsURL string) (token string, err error)
}

// PasswordStrategy authenticates with a plaintext SQL-auth username and
// password, obfuscated on the wire per MS-TDS 2.2.6.3.
type PasswordStrategy struct {
	Username string
	Password string
}

func (s PasswordStrategy) Prepare(ctx context.Context) (Login7, error) {
	return Login7{Username: s.Username, Password: s.Password}, nil
}

func (s PasswordStrategy) OnFedAuthInfo(ctx context.Context, spn, stsURL string) (string, error) {
	return "", fmt.Errorf("handshake: server requires federated auth but a password strategy is configured")
}

// TokenProvider fetches a fresh access token for the given STS URL and
// SPN (audience), as used by managed-identity and service-principal
// credential chains.
type TokenProvider interface {
	Token(ctx context.Context, spn, stsURL string) (string, error)
}

// ProviderStrategy defers token acquisition until the server names the
// SPN/STS URL in a FEDAUTHINFO token, per spec §4.4's "federated-auth via
// provider" mode.
type ProviderStrategy struct {
	Provider TokenProvider
}

func (s ProviderStrategy) Prepare(ctx context.Context) (Login7, error) {
	var fedAuthRequired = true
	_ = fedAuthRequired
	return Login7{}, nil
}

func (s ProviderStrategy) OnFedAuthInfo(ctx context.Context, spn, stsURL string) (string, error) {
	if s.Provider == nil {
		return "", fmt.Errorf("handshake: federated auth requested but no token provider configured")
	}
	tok, err := s.Provider.Token(ctx, spn, stsURL)
	if err != nil {
		return "", fmt.Errorf("handshake: fetching federated auth token: %w", err)
	}
	return tok, nil
}

// StaticTokenStrategy authenticates with a single pre-acquired access
// token, validating its exp/aud claims locally before use (spec §4.4's
// "federated-auth via pre-provided token" mode).
type StaticTokenStrategy struct {
	Token string
	// ExpectedAudience, when set, is checked against the token's aud
	// claim; leave empty to skip audience validation (e.g. when the
	// caller already trusts the token's provenance).
	ExpectedAudience string
	Now              func() time.Time
}

func (s StaticTokenStrategy) Prepare(ctx context.Context) (Login7, error) {
	now := s.Now
	if now == nil {
		now = time.Now
	}
	if err := ValidateJWT(s.Token, s.ExpectedAudience, now()); err != nil {
		return Login7{}, fmt.Errorf("handshake: static token invalid: %w", err)
	}
	return Login7{FedAuthToken: s.Token}, nil
}

func (s StaticTokenStrategy) OnFedAuthInfo(ctx context.Context, spn, stsURL string) (string, error) {
	now := s.Now
	if now == nil {
		now = time.Now
	}
	if err := ValidateJWT(s.Token, s.ExpectedAudience, now()); err != nil {
		return "", fmt.Errorf("handshake: static token invalid on refresh: %w", err)
	}
	return s.Token, nil
}
