package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuelReschke/LicenseFox/app/models"
	"github.com/ManuelReschke/LicenseFox/app/repository"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/logging"
)

const (
	maxDomainLength    = 191
	maxUserAgentLength = 500
	maxIPLength        = 45
)

// Only these request fields are ever stored.
var requestWhitelist = []string{"purchase_code", "product_slug", "domain", "verification_key"}

// Values of these fields are masked wherever they appear.
var maskedFields = map[string]struct{}{
	"purchase_code":    {},
	"license_key":      {},
	"verification_key": {},
}

// Attempt is one verification attempt as seen by the caller.
type Attempt struct {
	LicenseID *uint
	Source    string
	Domain    string
	IPAddress string
	UserAgent string
	Status    string
	Reason    string
	Request   map[string]any
	Response  map[string]any
}

// Logger is the append-only verification audit log.
type Logger struct {
	repo   repository.VerificationLogRepository
	logger zerolog.Logger
}

func NewLogger(repo repository.VerificationLogRepository) *Logger {
	return &Logger{repo: repo, logger: logging.Component("audit")}
}

// Record whitelists and masks the snapshots and appends the attempt.
func (l *Logger) Record(ctx context.Context, a Attempt) error {
	source := a.Source
	if source == "" {
		source = "api"
	}
	entry := &models.LicenseVerificationLog{
		LicenseID:    a.LicenseID,
		Source:       source,
		Domain:       truncate(a.Domain, maxDomainLength),
		IPAddress:    truncate(a.IPAddress, maxIPLength),
		UserAgent:    truncate(a.UserAgent, maxUserAgentLength),
		Status:       a.Status,
		Reason:       a.Reason,
		RequestData:  SanitizeRequest(a.Request),
		ResponseData: SanitizeResponse(a.Response),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		return fmt.Errorf("record verification attempt: %w", err)
	}

	l.logger.Debug().
		Str("status", entry.Status).
		Str("reason", entry.Reason).
		Str("domain", entry.Domain).
		Str("ip", entry.IPAddress).
		Msg("verification attempt recorded")
	return nil
}

// Stats aggregates attempts of the last hours.
func (l *Logger) Stats(ctx context.Context, hours int) (*models.VerificationStats, error) {
	return l.repo.Stats(ctx, since(hours))
}

// SuspiciousActivity lists addresses with at least minAttempts failed
// attempts in the last hours.
func (l *Logger) SuspiciousActivity(ctx context.Context, hours, minAttempts int) ([]models.SuspiciousIP, error) {
	if minAttempts <= 0 {
		minAttempts = 10
	}
	return l.repo.SuspiciousIPs(ctx, since(hours), minAttempts)
}

func since(hours int) time.Time {
	if hours <= 0 {
		hours = 24
	}
	return time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
}

// SanitizeRequest keeps whitelisted fields only and masks secrets.
func SanitizeRequest(in map[string]any) map[string]any {
	out := make(map[string]any, len(requestWhitelist))
	for _, key := range requestWhitelist {
		v, ok := in[key]
		if !ok || v == nil {
			continue
		}
		out[key] = maskValue(key, v)
	}
	return out
}

// SanitizeResponse copies the response snapshot and masks secrets.
func SanitizeResponse(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = maskValue(k, v)
	}
	return out
}

func maskValue(key string, v any) any {
	if _, ok := maskedFields[key]; !ok {
		return v
	}
	s, ok := v.(string)
	if !ok {
		return v
	}
	return Mask(s)
}

// Mask keeps the first four characters and replaces the rest with '*'.
// Values of four characters or fewer are masked entirely.
func Mask(s string) string {
	r := []rune(s)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:4]) + strings.Repeat("*", len(r)-4)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
