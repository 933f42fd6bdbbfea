// SPDX-License-Identifier: GPL-3.0-or-later

package handshake

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type jwtClaims struct {
	Exp int64       `json:"exp"`
	Aud interface{} `json:"aud"`
}

// ValidateJWT performs the local sanity checks spec §4.4 requires before a
// pre-provided federated-auth token is placed on the wire: that it parses
// as a three-part JWT, that its exp claim is in the future relative to
// now, and (when expectedAudience is non-empty) that its aud claim
// contains expectedAudience. It does not verify the token's signature —
// the STS that issued it, not this core, is the trust anchor.
func ValidateJWT(token, expectedAudience string, now time.Time) error {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return fmt.Errorf("handshake: malformed JWT (expected 3 dot-separated parts, got %d)", len(parts))
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return fmt.Errorf("handshake: decoding JWT payload: %w", err)
	}
	var claims jwtClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return fmt.Errorf("handshake: parsing JWT claims: %w", err)
	}
	if claims.Exp != 0 && time.Unix(claims.Exp, 0).Before(now) {
		return fmt.Errorf("handshake: JWT expired at %s", time.Unix(claims.Exp, 0))
	}
	if expectedAudience == "" {
		return nil
	}
	switch aud := claims.Aud.(type) {
	case string:
		if aud != expectedAudience {
			return fmt.Errorf("handshake: JWT audience %q does not match expected %q", aud, expectedAudience)
		}
	case []interface{}:
		for _, a := range aud {
			if s, ok := a.(string); ok && s == expectedAudience {
				return nil
			}
		}
		return fmt.Errorf("handshake: JWT audience list does not contain expected %q", expectedAudience)
	default:
		return fmt.Errorf("handshake: JWT has no usable aud claim")
	}
	return nil
}
