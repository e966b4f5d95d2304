package models

import "time"

// DailyStats is the number of verification attempts on one day (UTC).
type DailyStats struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// VerificationStats aggregates audit records over a time range.
type VerificationStats struct {
	TotalAttempts       int64        `json:"total_attempts"`
	SuccessfulAttempts  int64        `json:"successful_attempts"`
	FailedAttempts      int64        `json:"failed_attempts"`
	RateLimitedAttempts int64        `json:"rate_limited_attempts"`
	UniqueDomains       int64        `json:"unique_domains"`
	UniqueIPs           int64        `json:"unique_ips"`
	Daily               []DailyStats `json:"daily"`
}

// SuccessRate returns the share of successful attempts in percent.
func (s *VerificationStats) SuccessRate() float64 {
	if s.TotalAttempts == 0 {
		return 0
	}
	return float64(s.SuccessfulAttempts) * 100 / float64(s.TotalAttempts)
}

// SuspiciousIP is an address with many failed attempts in a window.
type SuspiciousIP struct {
	IPAddress    string    `json:"ip_address"`
	AttemptCount int64     `json:"attempt_count"`
	LastAttempt  time.Time `json:"last_attempt"`
}
