package licensing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuelReschke/LicenseFox/app/models"
	"github.com/ManuelReschke/LicenseFox/app/repository"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/audit"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/env"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/envato"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/logging"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/metrics"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/ratelimit"
)

// PurchaseVerifier checks purchase codes against the marketplace.
type PurchaseVerifier interface {
	VerifyPurchase(ctx context.Context, purchaseCode string) (*envato.Sale, error)
}

// AuditRecorder appends verification attempts.
type AuditRecorder interface {
	Record(ctx context.Context, attempt audit.Attempt) error
}

// UsageCounter counts successful verifications per license.
type UsageCounter interface {
	Add(ctx context.Context, licenseID uint) error
}

type Config struct {
	ServerSecret            string
	RateLimitAttempts       int
	RateLimitGlobalAttempts int
	RateLimitWindow         time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		ServerSecret:            env.GetEnv("LICENSE_SERVER_SECRET", ""),
		RateLimitAttempts:       env.GetEnvInt("LICENSE_RATE_LIMIT_ATTEMPTS", 10),
		RateLimitGlobalAttempts: env.GetEnvInt("LICENSE_RATE_LIMIT_GLOBAL_ATTEMPTS", 50),
		RateLimitWindow:         env.GetEnvDuration("LICENSE_RATE_LIMIT_WINDOW", 5*time.Minute),
	}
}

// Deps are the collaborators of the engine. Usage is optional.
type Deps struct {
	Repos    *repository.Repositories
	Tx       repository.Transactor
	Verifier PurchaseVerifier
	Limiter  ratelimit.Limiter
	Audit    AuditRecorder
	Usage    UsageCounter
}

// Engine resolves purchase codes and license keys to licenses and authorizes
// domains against them.
type Engine struct {
	repos      *repository.Repositories
	tx         repository.Transactor
	verifier   PurchaseVerifier
	limiter    ratelimit.Limiter
	audit      AuditRecorder
	usage      UsageCounter
	authorizer *DomainAuthorizer
	cfg        Config
	now        func() time.Time
	logger     zerolog.Logger
	metrics    *metrics.LicenseMetrics
}

func NewEngine(deps Deps, cfg Config) *Engine {
	tx := deps.Tx
	if tx == nil {
		tx = deps.Repos
	}
	e := &Engine{
		repos:      deps.Repos,
		tx:         tx,
		verifier:   deps.Verifier,
		limiter:    deps.Limiter,
		audit:      deps.Audit,
		usage:      deps.Usage,
		authorizer: NewDomainAuthorizer(),
		cfg:        cfg,
		now:        time.Now,
		logger:     logging.Component("licensing"),
		metrics:    metrics.Get(),
	}
	e.authorizer.now = e.clock
	if cfg.ServerSecret == "" {
		e.logger.Warn().Msg("LICENSE_SERVER_SECRET is empty, verification keys are not secret")
	}
	return e
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// Verify resolves the identifier for the product and authorizes the domain.
// Verify may write: the first verification of a valid marketplace purchase
// creates the license, and unknown domains may be registered.
func (e *Engine) Verify(ctx context.Context, req VerifyRequest) VerifyResult {
	req.Identifier = strings.TrimSpace(req.Identifier)
	req.ProductSlug = strings.TrimSpace(req.ProductSlug)

	attempt := audit.Attempt{
		Source:    "api",
		Domain:    NormalizeDomain(req.Domain),
		IPAddress: req.ClientIP,
		UserAgent: req.UserAgent,
		Request: map[string]any{
			"purchase_code":    req.Identifier,
			"product_slug":     req.ProductSlug,
			"domain":           req.Domain,
			"verification_key": req.VerificationKey,
		},
	}

	rules := ratelimit.VerifyRules(req.ClientIP, req.Identifier,
		e.cfg.RateLimitAttempts, e.cfg.RateLimitGlobalAttempts, e.cfg.RateLimitWindow)
	ok, err := ratelimit.CheckAll(ctx, e.limiter, rules)
	if err != nil {
		e.logger.Error().Err(err).Str("ip", req.ClientIP).Msg("rate limiter unavailable")
		return e.finish(ctx, "verify", attempt, failure(ReasonInternalError))
	}
	if !ok {
		return e.finish(ctx, "verify", attempt, failure(ReasonRateLimited))
	}

	result, err := e.verify(ctx, req)
	if err != nil {
		e.logger.Error().Err(err).
			Str("purchase_code", audit.Mask(req.Identifier)).
			Str("product_slug", req.ProductSlug).
			Str("domain", attempt.Domain).
			Str("ip", req.ClientIP).
			Msg("license verification failed")
		result = failure(ReasonInternalError)
	}
	if result.LicenseID != 0 {
		id := result.LicenseID
		attempt.LicenseID = &id
	}
	return e.finish(ctx, "verify", attempt, result)
}

func (e *Engine) verify(ctx context.Context, req VerifyRequest) (VerifyResult, error) {
	product, err := e.repos.Product.GetBySlug(ctx, req.ProductSlug)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("find product: %w", err)
	}
	if product == nil {
		return failure(ReasonProductNotFound), nil
	}

	if req.VerificationKey != "" && !CheckVerificationKey(req.VerificationKey, product.ID, product.Slug, e.cfg.ServerSecret) {
		return failure(ReasonInvalidVerificationKey), nil
	}

	now := e.clock()
	license, err := e.repos.License.FindByIdentifierAndProduct(ctx, req.Identifier, product.ID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("find license: %w", err)
	}

	// The marketplace call happens before the transaction so no row locks
	// are held while waiting on Envato.
	var sale *envato.Sale
	if license == nil {
		sale = e.lookupPurchase(ctx, product, req.Identifier)
		if sale == nil {
			return failure(ReasonLicenseNotFound), nil
		}
	} else if !license.IsUsable(now) {
		return licenseFailure(license, unusableReason(license, now)), nil
	}

	var result VerifyResult
	err = e.tx.Transaction(ctx, func(tx *repository.Repositories) error {
		method := MethodDatabaseOnly
		if sale != nil {
			created, stored, err := tx.License.CreateIfAbsent(ctx, newMarketplaceLicense(product, req.Identifier, sale, now))
			if err != nil {
				return fmt.Errorf("create license: %w", err)
			}
			if created {
				method = MethodEnvatoAutoCreated
				e.logger.Info().
					Uint("license_id", stored.ID).
					Str("product_slug", product.Slug).
					Msg("license created from envato purchase")
			}
			license = stored
			if !license.IsUsable(now) {
				result = licenseFailure(license, unusableReason(license, now))
				return nil
			}
		}

		maxDomains := license.EffectiveMaxDomains()
		current := -1
		registered := false
		if strings.TrimSpace(req.Domain) != "" {
			decision, err := e.authorizer.Authorize(ctx, tx, license, req.Domain, req.Mode)
			if err != nil {
				if denial, ok := DecisionFromError(err); ok {
					e.metrics.RecordDomainRegistration("limit_exceeded")
					result = domainFailure(license, denial)
					return nil
				}
				e.metrics.RecordDomainRegistration("error")
				return err
			}
			if !decision.Allowed {
				result = domainFailure(license, decision)
				return nil
			}
			if decision.Registered {
				e.metrics.RecordDomainRegistration("registered")
			}
			maxDomains, current, registered = decision.MaxDomains, decision.CurrentDomains, decision.Registered
		}
		if current < 0 {
			count, err := tx.Domain.CountActive(ctx, license.ID)
			if err != nil {
				return fmt.Errorf("count domains: %w", err)
			}
			current = int(count)
		}

		if err := tx.License.MarkVerified(ctx, license.ID, now); err != nil {
			return fmt.Errorf("mark verified: %w", err)
		}
		result = success(license, method, maxDomains, current, registered)
		return nil
	})
	if err != nil {
		return VerifyResult{}, err
	}
	return result, nil
}

// lookupPurchase returns the sale when Envato confirms the code for this
// product. Any failure counts as "not found" for this request.
func (e *Engine) lookupPurchase(ctx context.Context, product *models.Product, code string) *envato.Sale {
	if e.verifier == nil {
		return nil
	}
	sale, err := e.verifier.VerifyPurchase(ctx, code)
	switch {
	case err == nil && sale != nil:
	case err == nil, errors.Is(err, envato.ErrNotFound), errors.Is(err, envato.ErrInvalidCode):
		e.metrics.RecordEnvatoLookup("not_found")
		return nil
	default:
		e.metrics.RecordEnvatoLookup("error")
		e.logger.Warn().Err(err).
			Str("purchase_code", audit.Mask(code)).
			Str("product_slug", product.Slug).
			Msg("envato purchase lookup failed")
		return nil
	}

	itemID := strings.TrimSpace(product.EnvatoItemID)
	if itemID == "" || itemID != strconv.FormatInt(sale.Item.ID, 10) {
		e.metrics.RecordEnvatoLookup("item_mismatch")
		e.logger.Info().
			Int64("envato_item_id", sale.Item.ID).
			Str("product_slug", product.Slug).
			Msg("envato purchase belongs to another item")
		return nil
	}
	e.metrics.RecordEnvatoLookup("found")
	return sale
}

func newMarketplaceLicense(product *models.Product, code string, sale *envato.Sale, now time.Time) *models.License {
	licenseType := product.EffectiveLicenseType()
	support := now.Add(product.SupportWindow())
	license := &models.License{
		ProductID:        product.ID,
		PurchaseCode:     code,
		LicenseKey:       code,
		LicenseType:      licenseType,
		Status:           models.LICENSE_STATUS_ACTIVE,
		MaxDomains:       models.DefaultMaxDomains(licenseType),
		Source:           models.LICENSE_SOURCE_ENVATO,
		BuyerName:        sale.Buyer,
		BuyerEmail:       sale.BuyerEmail,
		SupportExpiresAt: &support,
		VerifiedAt:       &now,
	}
	if licenseType == models.LICENSE_TYPE_EXTENDED {
		expires := now.AddDate(1, 0, 0)
		license.LicenseExpiresAt = &expires
	}
	return license
}

// finish audits, counts and returns the result. Audit failures are logged
// only.
func (e *Engine) finish(ctx context.Context, operation string, attempt audit.Attempt, result VerifyResult) VerifyResult {
	switch {
	case result.Reason == ReasonRateLimited:
		attempt.Status = models.VERIFICATION_STATUS_RATE_LIMITED
	case result.Valid:
		attempt.Status = models.VERIFICATION_STATUS_SUCCESS
	default:
		attempt.Status = models.VERIFICATION_STATUS_FAILED
	}
	attempt.Reason = string(result.Reason)
	attempt.Response = result.snapshot()

	e.record(ctx, attempt)
	e.metrics.RecordVerification(operation, string(result.Reason))
	if result.Valid && e.usage != nil {
		if err := e.usage.Add(ctx, result.LicenseID); err != nil {
			e.logger.Warn().Err(err).Uint("license_id", result.LicenseID).Msg("could not count verification")
		}
	}
	return result
}

func (e *Engine) record(ctx context.Context, attempt audit.Attempt) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, attempt); err != nil {
		e.logger.Error().Err(err).Str("status", attempt.Status).Msg("could not write verification audit record")
	}
}
