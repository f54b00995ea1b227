package worker

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// newVerificationToken generates a cryptographically random per-row
// token, per §4.4 Step 5(c). It doubles as the payload delivered to
// the recipient and as an input to the idempotency key.
func newVerificationToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("worker: generate verification token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// idempotencyKey computes SHA-256("{mailingId}-{email}-{token}") hex
// encoded, the stable per-row idempotency key sent to the provider.
func idempotencyKey(mailingID uuid.UUID, email, token string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s-%s", mailingID.String(), email, token)))
	return hex.EncodeToString(sum[:])
}
