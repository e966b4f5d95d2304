package licensing

import (
	"fmt"
	"net"
	"strings"
)

// NormalizeDomain reduces user input and stored domains to the comparable
// form: lower case host without scheme, leading "www.", port, path or
// trailing dot. Wildcard entries keep their "*." prefix.
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	for _, scheme := range []string{"https://", "http://"} {
		if strings.HasPrefix(d, scheme) {
			d = d[len(scheme):]
			break
		}
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if host, _, err := net.SplitHostPort(d); err == nil {
		d = host
	}
	d = strings.TrimPrefix(d, "www.")
	d = strings.TrimSuffix(d, ".")
	return d
}

// IsWildcard reports whether a normalized stored domain is a "*.suffix" entry.
func IsWildcard(domain string) bool {
	return strings.HasPrefix(domain, "*.") && len(domain) > 2
}

// MatchesWildcard reports whether domain is a strict subdomain of the
// wildcard pattern's suffix. "*.example.com" matches "a.example.com" and
// "a.b.example.com" but neither "example.com" nor "notexample.com".
func MatchesWildcard(pattern, domain string) bool {
	if !IsWildcard(pattern) {
		return false
	}
	suffix := pattern[1:] // ".example.com"
	return len(domain) > len(suffix) && strings.HasSuffix(domain, suffix)
}

// DomainLimitError is returned when registering one more domain would exceed
// the license's domain allowance.
type DomainLimitError struct {
	Domain           string
	LicenseType      string
	MaxDomains       int
	CurrentDomains   int
	RemainingDomains int
}

func (e *DomainLimitError) Error() string {
	plural := ""
	if e.MaxDomains != 1 {
		plural = "s"
	}
	return fmt.Sprintf("license has reached its maximum domain limit (%d domain%s), cannot register new domain: %s",
		e.MaxDomains, plural, e.Domain)
}

func newDomainLimitError(domain, licenseType string, maxDomains, current int) *DomainLimitError {
	return &DomainLimitError{
		Domain:           domain,
		LicenseType:      licenseType,
		MaxDomains:       maxDomains,
		CurrentDomains:   current,
		RemainingDomains: remaining(maxDomains, current),
	}
}
