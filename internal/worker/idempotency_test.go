package worker

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVerificationToken_ProducesDistinctHexStrings(t *testing.T) {
	a, err := newVerificationToken()
	require.NoError(t, err)
	b, err := newVerificationToken()
	require.NoError(t, err)

	assert.Len(t, a, 32) // 16 random bytes, hex-encoded
	assert.NotEqual(t, a, b)
}

func TestIdempotencyKey_IsStableForSameInputs(t *testing.T) {
	mailingID := uuid.New()
	k1 := idempotencyKey(mailingID, "person@example.com", "tok123")
	k2 := idempotencyKey(mailingID, "person@example.com", "tok123")
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64) // sha256 hex digest
}

func TestIdempotencyKey_DiffersOnAnyInputChange(t *testing.T) {
	mailingID := uuid.New()
	base := idempotencyKey(mailingID, "person@example.com", "tok123")

	assert.NotEqual(t, base, idempotencyKey(uuid.New(), "person@example.com", "tok123"))
	assert.NotEqual(t, base, idempotencyKey(mailingID, "other@example.com", "tok123"))
	assert.NotEqual(t, base, idempotencyKey(mailingID, "person@example.com", "tokXYZ"))
}
