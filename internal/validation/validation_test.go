package validation

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/baechuer/mailblast/internal/models"
)

func newTestValidator(enableDisposable, enableMX bool, mx MXLookup) *Validator {
	v := New(enableDisposable, enableMX)
	if mx != nil {
		v.LookupMX = mx
	}
	return v
}

func TestValidate_RejectsBlankAddress(t *testing.T) {
	v := newTestValidator(false, false, nil)
	res := v.Validate(context.Background(), "")
	assert.False(t, res.Valid)
	assert.Equal(t, models.InvalidSyntax, res.Reason)
}

func TestValidate_RejectsMalformedSyntax(t *testing.T) {
	v := newTestValidator(false, false, nil)
	cases := []string{"not-an-email", "a@b", "a@@b.com", "a..b@example.com", "@example.com"}
	for _, email := range cases {
		res := v.Validate(context.Background(), email)
		assert.False(t, res.Valid, "expected %q to be invalid", email)
		assert.Equal(t, models.InvalidSyntax, res.Reason)
	}
}

func TestValidate_AcceptsWellFormedAddress(t *testing.T) {
	v := newTestValidator(false, false, nil)
	res := v.Validate(context.Background(), "person@example.com")
	assert.True(t, res.Valid)
}

func TestValidate_RejectsDisposableDomainWhenEnabled(t *testing.T) {
	v := newTestValidator(true, false, nil)
	res := v.Validate(context.Background(), "person@mailinator.com")
	assert.False(t, res.Valid)
	assert.Equal(t, models.InvalidDisposable, res.Reason)
}

func TestValidate_SkipsDisposableCheckWhenDisabled(t *testing.T) {
	v := newTestValidator(false, false, nil)
	res := v.Validate(context.Background(), "person@mailinator.com")
	assert.True(t, res.Valid)
}

func TestValidate_RejectsOnMXFailureWhenEnabled(t *testing.T) {
	v := newTestValidator(false, true, func(ctx context.Context, domain string) ([]*net.MX, error) {
		return nil, errors.New("no such domain")
	})
	res := v.Validate(context.Background(), "person@example.com")
	assert.False(t, res.Valid)
	assert.Equal(t, models.InvalidMXFail, res.Reason)
}

func TestValidate_AcceptsOnMXSuccessWhenEnabled(t *testing.T) {
	v := newTestValidator(false, true, func(ctx context.Context, domain string) ([]*net.MX, error) {
		return []*net.MX{{Host: "mx.example.com", Pref: 10}}, nil
	})
	res := v.Validate(context.Background(), "person@example.com")
	assert.True(t, res.Valid)
}

func TestValidate_ShortCircuitsBeforeMXOnSyntaxFailure(t *testing.T) {
	called := false
	v := newTestValidator(false, true, func(ctx context.Context, domain string) ([]*net.MX, error) {
		called = true
		return nil, nil
	})
	v.Validate(context.Background(), "not-an-email")
	assert.False(t, called)
}
