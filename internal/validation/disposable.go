package validation

// DefaultDisposableDomains returns a small bundled set of well-known
// disposable-email domains. A production deployment would load a
// larger, periodically refreshed list; this set is enough to exercise
// the disposable-domain layer end to end.
func DefaultDisposableDomains() map[string]struct{} {
	domains := []string{
		"mailinator.com",
		"10minutemail.com",
		"guerrillamail.com",
		"yopmail.com",
		"tempmail.com",
		"trashmail.com",
		"getnada.com",
		"sharklasers.com",
		"dispostable.com",
		"throwawaymail.com",
	}
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		set[d] = struct{}{}
	}
	return set
}
