// Package validation implements the three-layer email address check
// in spec §4.4 Step 5(b): syntax, disposable-domain, and MX lookup,
// short-circuiting on the first failure. The regex/length-cap shape
// is grounded on email-service/app/validation, generalized from URL
// validation to the RFC-lite email rules the spec calls for.
package validation

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/baechuer/mailblast/internal/models"
)

const (
	maxLocalPartLength = 64
	maxDomainLength    = 255
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Result is the outcome of validating a single address.
type Result struct {
	Valid  bool
	Reason models.InvalidReason
	Detail string
}

// MXLookup abstracts net.LookupMX so tests can fake DNS results.
type MXLookup func(ctx context.Context, domain string) ([]*net.MX, error)

// Validator runs the three validation layers. DisposableDomains and
// the MX lookup are each individually toggled, per
// ENABLE_DISPOSABLE_CHECK / ENABLE_MX_CHECK.
type Validator struct {
	EnableDisposable bool
	EnableMX         bool
	Disposable       map[string]struct{}
	LookupMX         MXLookup
}

// New constructs a Validator with the bundled disposable-domain set
// and the standard library's resolver for MX lookups.
func New(enableDisposable, enableMX bool) *Validator {
	return &Validator{
		EnableDisposable: enableDisposable,
		EnableMX:         enableMX,
		Disposable:       DefaultDisposableDomains(),
		LookupMX: func(ctx context.Context, domain string) ([]*net.MX, error) {
			return net.DefaultResolver.LookupMX(ctx, domain)
		},
	}
}

// Validate runs syntax, then disposable-domain, then MX checks,
// stopping at the first failure.
func (v *Validator) Validate(ctx context.Context, email string) Result {
	email = strings.TrimSpace(email)

	if r := v.validateSyntax(email); !r.Valid {
		return r
	}

	domain := domainOf(email)

	if v.EnableDisposable {
		if _, disposable := v.Disposable[strings.ToLower(domain)]; disposable {
			return Result{Reason: models.InvalidDisposable, Detail: fmt.Sprintf("domain %q is a known disposable provider", domain)}
		}
	}

	if v.EnableMX {
		mxs, err := v.LookupMX(ctx, domain)
		if err != nil || len(mxs) == 0 {
			detail := "no MX records"
			if err != nil {
				detail = err.Error()
			}
			return Result{Reason: models.InvalidMXFail, Detail: detail}
		}
	}

	return Result{Valid: true}
}

func (v *Validator) validateSyntax(email string) Result {
	if email == "" {
		return Result{Reason: models.InvalidSyntax, Detail: "empty address"}
	}
	if !emailRegex.MatchString(email) {
		return Result{Reason: models.InvalidSyntax, Detail: "does not match email pattern"}
	}
	if strings.Count(email, "@") != 1 {
		return Result{Reason: models.InvalidSyntax, Detail: "must contain exactly one '@'"}
	}

	parts := strings.SplitN(email, "@", 2)
	local, domain := parts[0], parts[1]

	if len(local) == 0 || len(local) > maxLocalPartLength {
		return Result{Reason: models.InvalidSyntax, Detail: "local part length out of bounds"}
	}
	if len(domain) == 0 || len(domain) > maxDomainLength {
		return Result{Reason: models.InvalidSyntax, Detail: "domain length out of bounds"}
	}
	if !strings.Contains(domain, ".") {
		return Result{Reason: models.InvalidSyntax, Detail: "domain must contain a dot"}
	}
	if strings.Contains(email, "..") {
		return Result{Reason: models.InvalidSyntax, Detail: "consecutive dots not allowed"}
	}

	return Result{Valid: true}
}

func domainOf(email string) string {
	idx := strings.LastIndex(email, "@")
	if idx < 0 {
		return ""
	}
	return email[idx+1:]
}
