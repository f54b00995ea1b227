package token

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ExpiryFromToken decodes a JWT-shaped bearer token's "exp" claim
// without verifying its signature — the Token Manager trusts the
// auth provider that issued it and only needs the expiry to schedule
// renewal.
func ExpiryFromToken(tok string) (time.Time, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("token: not a JWT (expected 3 segments, got %d)", len(parts))
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("token: decode claims segment: %w", err)
	}

	var claims struct {
		Exp float64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, fmt.Errorf("token: parse claims: %w", err)
	}
	if claims.Exp == 0 {
		return time.Time{}, fmt.Errorf("token: claims missing exp")
	}

	return time.Unix(int64(claims.Exp), 0), nil
}
