package licensing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/LicenseFox/app/models"
	"github.com/ManuelReschke/LicenseFox/app/repository"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/audit"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/envato"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/ratelimit"
)

// memStore backs the repository interfaces with maps. Transactions are
// serialized and restore a snapshot on error, which is all the engine relies
// on from the database.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	products map[uint]*models.Product
	licenses map[uint]*models.License
	domains  map[uint]*models.LicenseDomain
	nextID   uint

	licenseCalls int64
	domainCalls  int64

	productErr      error
	domainCreateErr error

	// committedLater holds domain IDs that plain reads do not see, as if
	// another transaction committed them after this one's snapshot.
	committedLater map[uint]bool
}

func newMemStore() *memStore {
	return &memStore{
		products: map[uint]*models.Product{},
		licenses: map[uint]*models.License{},
		domains:  map[uint]*models.LicenseDomain{},
	}
}

func (s *memStore) repos() *repository.Repositories {
	return &repository.Repositories{
		Product: &memProducts{s: s},
		License: &memLicenses{s: s},
		Domain:  &memDomains{s: s},
	}
}

func (s *memStore) Transaction(ctx context.Context, fn func(tx *repository.Repositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(s.repos()); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	licenses map[uint]models.License
	domains  map[uint]models.LicenseDomain
	nextID   uint
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		licenses: map[uint]models.License{},
		domains:  map[uint]models.LicenseDomain{},
		nextID:   s.nextID,
	}
	for id, l := range s.licenses {
		snap.licenses[id] = *l
	}
	for id, d := range s.domains {
		snap.domains[id] = *d
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.licenses = map[uint]*models.License{}
	s.domains = map[uint]*models.LicenseDomain{}
	for id, l := range snap.licenses {
		l := l
		s.licenses[id] = &l
	}
	for id, d := range snap.domains {
		d := d
		s.domains[id] = &d
	}
	s.nextID = snap.nextID
}

func (s *memStore) id() uint {
	s.nextID++
	return s.nextID
}

func (s *memStore) addProduct(p models.Product) *models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.id()
	s.products[p.ID] = &p
	cp := p
	return &cp
}

func (s *memStore) addLicense(l models.License) *models.License {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.ID = s.id()
	s.licenses[l.ID] = &l
	cp := l
	return &cp
}

func (s *memStore) addDomain(d models.LicenseDomain) *models.LicenseDomain {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = s.id()
	s.domains[d.ID] = &d
	cp := d
	return &cp
}

func (s *memStore) licenseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.licenses)
}

func (s *memStore) domainsOf(licenseID uint) []models.LicenseDomain {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LicenseDomain
	for _, d := range s.domains {
		if d.LicenseID == licenseID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) activeCount(licenseID uint) int {
	n := 0
	for _, d := range s.domainsOf(licenseID) {
		if d.IsActive() {
			n++
		}
	}
	return n
}

func (s *memStore) visibleToPlainReads(d models.LicenseDomain) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.committedLater[d.ID]
}

func (s *memStore) license(id uint) *models.License {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.licenses[id]
	if !ok {
		return nil
	}
	cp := *l
	return &cp
}

type memProducts struct{ s *memStore }

func (r *memProducts) GetByID(_ context.Context, id uint) (*models.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.products[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memProducts) GetBySlug(_ context.Context, slug string) (*models.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.productErr != nil {
		return nil, r.s.productErr
	}
	for _, p := range r.s.products {
		if p.Slug == slug {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

type memLicenses struct{ s *memStore }

func (r *memLicenses) touch() { atomic.AddInt64(&r.s.licenseCalls, 1) }

func (r *memLicenses) GetByID(_ context.Context, id uint) (*models.License, error) {
	r.touch()
	if l := r.s.license(id); l != nil {
		return l, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memLicenses) FindByIdentifierAndProduct(ctx context.Context, identifier string, productID uint) (*models.License, error) {
	l, err := r.FindByPurchaseCodeAndProduct(ctx, identifier, productID)
	if err != nil || l != nil {
		return l, err
	}
	return r.FindByLicenseKeyAndProduct(ctx, identifier, productID)
}

func (r *memLicenses) find(match func(*models.License) bool) *models.License {
	r.touch()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, l := range r.s.licenses {
		if match(l) {
			cp := *l
			return &cp
		}
	}
	return nil
}

func (r *memLicenses) FindByLicenseKeyAndProduct(_ context.Context, key string, productID uint) (*models.License, error) {
	return r.find(func(l *models.License) bool { return l.LicenseKey == key && l.ProductID == productID }), nil
}

func (r *memLicenses) FindByPurchaseCodeAndProduct(_ context.Context, code string, productID uint) (*models.License, error) {
	return r.find(func(l *models.License) bool { return l.PurchaseCode == code && l.ProductID == productID }), nil
}

func (r *memLicenses) LockByID(ctx context.Context, id uint) (*models.License, error) {
	return r.GetByID(ctx, id)
}

func (r *memLicenses) CreateIfAbsent(ctx context.Context, license *models.License) (bool, *models.License, error) {
	if existing, _ := r.FindByPurchaseCodeAndProduct(ctx, license.PurchaseCode, license.ProductID); existing != nil {
		return false, existing, nil
	}
	stored := *license
	stored.CreatedAt = time.Now()
	return true, r.s.addLicense(stored), nil
}

func (r *memLicenses) update(id uint, fn func(*models.License)) error {
	r.touch()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.licenses[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	fn(l)
	return nil
}

func (r *memLicenses) UpdateStatus(_ context.Context, id uint, status string) error {
	return r.update(id, func(l *models.License) { l.Status = status })
}

func (r *memLicenses) UpdateExpiry(_ context.Context, id uint, licenseExpiresAt, supportExpiresAt *time.Time) error {
	return r.update(id, func(l *models.License) {
		l.LicenseExpiresAt = licenseExpiresAt
		if supportExpiresAt != nil {
			l.SupportExpiresAt = supportExpiresAt
		}
	})
}

func (r *memLicenses) MarkVerified(_ context.Context, id uint, at time.Time) error {
	return r.update(id, func(l *models.License) { l.VerifiedAt = &at })
}

func (r *memLicenses) ExpireOverdue(_ context.Context, now time.Time) (int64, error) {
	r.touch()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, l := range r.s.licenses {
		if l.Status == models.LICENSE_STATUS_ACTIVE && l.IsExpired(now) {
			l.Status = models.LICENSE_STATUS_EXPIRED
			n++
		}
	}
	return n, nil
}

type memDomains struct{ s *memStore }

func (r *memDomains) touch() { atomic.AddInt64(&r.s.domainCalls, 1) }

func (r *memDomains) ActiveDomainsFor(_ context.Context, licenseID uint) ([]models.LicenseDomain, error) {
	r.touch()
	var out []models.LicenseDomain
	for _, d := range r.s.domainsOf(licenseID) {
		if d.IsActive() && r.s.visibleToPlainReads(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *memDomains) FindByNormalizedDomain(_ context.Context, licenseID uint, domain string) (*models.LicenseDomain, error) {
	r.touch()
	for _, d := range r.s.domainsOf(licenseID) {
		if d.Domain == domain {
			d := d
			return &d, nil
		}
	}
	return nil, nil
}

func (r *memDomains) CountActive(_ context.Context, licenseID uint) (int64, error) {
	r.touch()
	var n int64
	for _, d := range r.s.domainsOf(licenseID) {
		if d.IsActive() && r.s.visibleToPlainReads(d) {
			n++
		}
	}
	return n, nil
}

func (r *memDomains) CountActiveLocked(_ context.Context, licenseID uint) (int64, error) {
	r.touch()
	return int64(r.s.activeCount(licenseID)), nil
}

func (r *memDomains) CreateIfAbsent(ctx context.Context, domain *models.LicenseDomain) (bool, *models.LicenseDomain, error) {
	if r.s.domainCreateErr != nil {
		return false, nil, r.s.domainCreateErr
	}
	if existing, _ := r.FindByNormalizedDomain(ctx, domain.LicenseID, domain.Domain); existing != nil {
		return false, existing, nil
	}
	return true, r.s.addDomain(*domain), nil
}

func (r *memDomains) update(id uint, fn func(*models.LicenseDomain)) error {
	r.touch()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.domains[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	fn(d)
	return nil
}

func (r *memDomains) Activate(_ context.Context, id uint, at time.Time) error {
	return r.update(id, func(d *models.LicenseDomain) {
		d.Status = models.DOMAIN_STATUS_ACTIVE
		d.LastUsedAt = &at
	})
}

func (r *memDomains) Touch(_ context.Context, id uint, at time.Time) error {
	return r.update(id, func(d *models.LicenseDomain) { d.LastUsedAt = &at })
}

type fakeVerifier struct {
	mu    sync.Mutex
	sales map[string]*envato.Sale
	err   error
	calls int
}

func (f *fakeVerifier) VerifyPurchase(_ context.Context, code string) (*envato.Sale, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	sale, ok := f.sales[code]
	if !ok {
		return nil, envato.ErrNotFound
	}
	return sale, nil
}

func (f *fakeVerifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAudit struct {
	mu       sync.Mutex
	attempts []audit.Attempt
	err      error
}

func (f *fakeAudit) Record(_ context.Context, a audit.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, a)
	return f.err
}

func (f *fakeAudit) last() audit.Attempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[len(f.attempts)-1]
}

func (f *fakeAudit) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attempts)
}

type fakeUsage struct {
	mu  sync.Mutex
	ids []uint
}

func (f *fakeUsage) Add(_ context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return nil
}

const (
	testSecret    = "secret"
	testItemID    = "4711"
	testProduct   = "acme-plugin"
	validCode     = "8f3c1a2b-0000-4000-8000-123456789abc"
	unknownCode   = "BAD-CODE"
	testClientIP  = "203.0.113.7"
	testUserAgent = "acme-plugin/1.0"
)

type testEnv struct {
	engine   *Engine
	store    *memStore
	verifier *fakeVerifier
	audit    *fakeAudit
	usage    *fakeUsage
	product  *models.Product
	now      time.Time
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	store := newMemStore()
	product := store.addProduct(models.Product{
		Name:         "Acme Plugin",
		Slug:         testProduct,
		Version:      "1.2.0",
		EnvatoItemID: testItemID,
		LicenseType:  models.LICENSE_TYPE_SINGLE,
		SupportDays:  180,
		IsActive:     true,
	})

	verifier := &fakeVerifier{sales: map[string]*envato.Sale{
		validCode: {Item: envato.Item{ID: 4711, Name: "Acme Plugin"}, Buyer: "jdoe", License: "Regular License"},
	}}
	auditLog := &fakeAudit{}
	usage := &fakeUsage{}

	limiter := ratelimit.NewMemoryLimiter()
	t.Cleanup(limiter.Stop)

	if cfg.ServerSecret == "" {
		cfg.ServerSecret = testSecret
	}
	if cfg.RateLimitAttempts == 0 {
		cfg.RateLimitAttempts = 1000
	}
	if cfg.RateLimitGlobalAttempts == 0 {
		cfg.RateLimitGlobalAttempts = 1000
	}
	if cfg.RateLimitWindow == 0 {
		cfg.RateLimitWindow = time.Minute
	}

	engine := NewEngine(Deps{
		Repos:    store.repos(),
		Tx:       store,
		Verifier: verifier,
		Limiter:  limiter,
		Audit:    auditLog,
		Usage:    usage,
	}, cfg)

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	return &testEnv{
		engine:   engine,
		store:    store,
		verifier: verifier,
		audit:    auditLog,
		usage:    usage,
		product:  product,
		now:      now,
	}
}

func (te *testEnv) activeLicense(code string, maxDomains int) *models.License {
	return te.store.addLicense(models.License{
		ProductID:    te.product.ID,
		PurchaseCode: code,
		LicenseKey:   code,
		LicenseType:  models.LICENSE_TYPE_SINGLE,
		Status:       models.LICENSE_STATUS_ACTIVE,
		MaxDomains:   maxDomains,
		Source:       models.LICENSE_SOURCE_DIRECT,
	})
}

func (te *testEnv) verify(identifier, domain string, mode VerificationMode) VerifyResult {
	return te.engine.Verify(context.Background(), VerifyRequest{
		Identifier:  identifier,
		ProductSlug: testProduct,
		Domain:      domain,
		Mode:        mode,
		ClientIP:    testClientIP,
		UserAgent:   testUserAgent,
	})
}

var errBoom = errors.New("boom")
