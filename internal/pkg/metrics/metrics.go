package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LicenseMetrics instruments verification outcomes.
type LicenseMetrics struct {
	verifications      *prometheus.CounterVec
	envatoLookups      *prometheus.CounterVec
	domainRegistration *prometheus.CounterVec
	expiredLicenses    prometheus.Counter
}

var (
	instance *LicenseMetrics
	once     sync.Once
)

// Get returns the process-wide metrics, registering them on first use.
func Get() *LicenseMetrics {
	once.Do(func() {
		instance = newLicenseMetrics(prometheus.DefaultRegisterer)
	})
	return instance
}

func newLicenseMetrics(reg prometheus.Registerer) *LicenseMetrics {
	m := &LicenseMetrics{
		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "licensefox",
				Subsystem: "license",
				Name:      "verifications_total",
				Help:      "License verifications by operation and outcome reason",
			},
			[]string{"operation", "reason"},
		),
		envatoLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "licensefox",
				Subsystem: "envato",
				Name:      "lookups_total",
				Help:      "Envato purchase lookups by result",
			},
			[]string{"result"},
		),
		domainRegistration: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "licensefox",
				Subsystem: "license",
				Name:      "domain_registrations_total",
				Help:      "Domain registration attempts by result",
			},
			[]string{"result"},
		),
		expiredLicenses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "licensefox",
				Subsystem: "license",
				Name:      "expired_by_sweep_total",
				Help:      "Licenses marked expired by the expiry sweep",
			},
		),
	}

	reg.MustRegister(
		m.verifications,
		m.envatoLookups,
		m.domainRegistration,
		m.expiredLicenses,
	)
	return m
}

// RecordVerification counts one finished operation; reason "" means success.
func (m *LicenseMetrics) RecordVerification(operation, reason string) {
	if reason == "" {
		reason = "OK"
	}
	m.verifications.WithLabelValues(operation, reason).Inc()
}

// RecordEnvatoLookup counts one Envato lookup: "found", "not_found" or "error".
func (m *LicenseMetrics) RecordEnvatoLookup(result string) {
	m.envatoLookups.WithLabelValues(result).Inc()
}

// RecordDomainRegistration counts "registered", "limit_exceeded" or "error".
func (m *LicenseMetrics) RecordDomainRegistration(result string) {
	m.domainRegistration.WithLabelValues(result).Inc()
}

// RecordExpired adds n licenses expired by the sweep.
func (m *LicenseMetrics) RecordExpired(n int64) {
	if n > 0 {
		m.expiredLicenses.Add(float64(n))
	}
}
