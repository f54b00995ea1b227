package token

import (
	"encoding/base64"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeSegment(t *testing.T, raw string) string {
	t.Helper()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func TestExpiryFromToken_DecodesExpClaim(t *testing.T) {
	exp := time.Now().Add(1 * time.Hour).Unix()
	header := encodeSegment(t, `{"alg":"none"}`)
	payload := encodeSegment(t, `{"exp":`+strconv.FormatInt(exp, 10)+`}`)
	tok := header + "." + payload + ".sig"

	got, err := ExpiryFromToken(tok)
	require.NoError(t, err)
	assert.Equal(t, exp, got.Unix())
}

func TestExpiryFromToken_RejectsNonJWTShape(t *testing.T) {
	_, err := ExpiryFromToken("not-a-jwt")
	assert.Error(t, err)
}

func TestExpiryFromToken_RejectsMissingExpClaim(t *testing.T) {
	header := encodeSegment(t, `{"alg":"none"}`)
	payload := encodeSegment(t, `{"sub":"user"}`)
	tok := header + "." + payload + ".sig"

	_, err := ExpiryFromToken(tok)
	assert.Error(t, err)
}
