package licensing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/LicenseFox/app/models"
	"github.com/ManuelReschke/LicenseFox/app/repository"
)

// Decision is the outcome of DomainAuthorizer.Authorize.
type Decision struct {
	Allowed    bool
	Registered bool
	Reason     Reason
	Domain     string

	MaxDomains       int
	CurrentDomains   int
	RemainingDomains int
}

// DomainAuthorizer decides whether a domain may use a license and registers
// new domains under the license's domain cap.
type DomainAuthorizer struct {
	now func() time.Time
}

func NewDomainAuthorizer() *DomainAuthorizer {
	return &DomainAuthorizer{now: time.Now}
}

// Authorize must run inside a transaction: tx is bound to it, and the license
// row lock taken before registering is held until commit.
//
// Matching order: exact active domain, then "*.suffix" entries, then first-use
// registration when the license has no active domains, then mode. Limit
// violations come back as *DomainLimitError.
func (a *DomainAuthorizer) Authorize(ctx context.Context, tx *repository.Repositories, license *models.License, rawDomain string, mode VerificationMode) (Decision, error) {
	domain := NormalizeDomain(rawDomain)
	maxDomains := license.EffectiveMaxDomains()
	if domain == "" || IsWildcard(domain) {
		return a.deny(ctx, tx, license, domain, ReasonDomainNotAuthorized)
	}

	active, err := tx.Domain.ActiveDomainsFor(ctx, license.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("load active domains: %w", err)
	}

	if match := findMatch(active, domain); match != nil {
		if err := tx.Domain.Touch(ctx, match.ID, a.now()); err != nil {
			return Decision{}, fmt.Errorf("touch domain: %w", err)
		}
		return allowed(domain, false, maxDomains, len(active)), nil
	}

	firstUse := len(active) == 0
	if !firstUse && mode != ModeAutoRegister {
		return a.deny(ctx, tx, license, domain, ReasonDomainNotAuthorized)
	}
	return a.register(ctx, tx, license, domain, mode, firstUse)
}

// Register adds a domain to a license regardless of mode, still subject to
// the domain cap. Used by direct license registration.
func (a *DomainAuthorizer) Register(ctx context.Context, tx *repository.Repositories, license *models.License, rawDomain string) (Decision, error) {
	domain := NormalizeDomain(rawDomain)
	if domain == "" || IsWildcard(domain) {
		return a.deny(ctx, tx, license, domain, ReasonDomainNotAuthorized)
	}
	return a.register(ctx, tx, license, domain, ModeAutoRegister, false)
}

func (a *DomainAuthorizer) register(ctx context.Context, tx *repository.Repositories, license *models.License, domain string, mode VerificationMode, firstUse bool) (Decision, error) {
	locked, err := tx.License.LockByID(ctx, license.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("lock license: %w", err)
	}
	maxDomains := locked.EffectiveMaxDomains()
	now := a.now()

	existing, err := tx.Domain.FindByNormalizedDomain(ctx, license.ID, domain)
	if err != nil {
		return Decision{}, fmt.Errorf("find domain: %w", err)
	}

	// read under the lock; plain reads miss domains committed while waiting
	count, err := tx.Domain.CountActiveLocked(ctx, license.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("count domains: %w", err)
	}
	current := int(count)

	if existing != nil && existing.IsActive() {
		if err := tx.Domain.Touch(ctx, existing.ID, now); err != nil {
			return Decision{}, fmt.Errorf("touch domain: %w", err)
		}
		return allowed(domain, false, maxDomains, current), nil
	}

	// another request registered a domain after the first-use check
	if firstUse && current > 0 && mode != ModeAutoRegister {
		return denied(domain, ReasonDomainNotAuthorized, maxDomains, current), nil
	}

	if current >= maxDomains {
		return Decision{}, newDomainLimitError(domain, locked.LicenseType, maxDomains, current)
	}

	if existing != nil {
		if err := tx.Domain.Activate(ctx, existing.ID, now); err != nil {
			return Decision{}, fmt.Errorf("activate domain: %w", err)
		}
		return allowed(domain, true, maxDomains, current+1), nil
	}

	row := &models.LicenseDomain{
		LicenseID:  license.ID,
		Domain:     domain,
		Status:     models.DOMAIN_STATUS_ACTIVE,
		AddedAt:    now,
		LastUsedAt: &now,
	}
	created, _, err := tx.Domain.CreateIfAbsent(ctx, row)
	if err != nil {
		return Decision{}, fmt.Errorf("create domain: %w", err)
	}
	if created {
		current++
	}
	return allowed(domain, created, maxDomains, current), nil
}

func (a *DomainAuthorizer) deny(ctx context.Context, tx *repository.Repositories, license *models.License, domain string, reason Reason) (Decision, error) {
	count, err := tx.Domain.CountActive(ctx, license.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("count domains: %w", err)
	}
	return denied(domain, reason, license.EffectiveMaxDomains(), int(count)), nil
}

// DecisionFromError turns a *DomainLimitError into a denial. Other errors are
// reported as not handled.
func DecisionFromError(err error) (Decision, bool) {
	var limitErr *DomainLimitError
	if !errors.As(err, &limitErr) {
		return Decision{}, false
	}
	return denied(limitErr.Domain, ReasonDomainLimitExceeded, limitErr.MaxDomains, limitErr.CurrentDomains), true
}

func findMatch(active []models.LicenseDomain, domain string) *models.LicenseDomain {
	for i := range active {
		if NormalizeDomain(active[i].Domain) == domain {
			return &active[i]
		}
	}
	for i := range active {
		if MatchesWildcard(NormalizeDomain(active[i].Domain), domain) {
			return &active[i]
		}
	}
	return nil
}

func allowed(domain string, registered bool, maxDomains, current int) Decision {
	return Decision{
		Allowed:          true,
		Registered:       registered,
		Domain:           domain,
		MaxDomains:       maxDomains,
		CurrentDomains:   current,
		RemainingDomains: remaining(maxDomains, current),
	}
}

func denied(domain string, reason Reason, maxDomains, current int) Decision {
	return Decision{
		Reason:           reason,
		Domain:           domain,
		MaxDomains:       maxDomains,
		CurrentDomains:   current,
		RemainingDomains: remaining(maxDomains, current),
	}
}

func remaining(maxDomains, current int) int {
	if current >= maxDomains {
		return 0
	}
	return maxDomains - current
}
