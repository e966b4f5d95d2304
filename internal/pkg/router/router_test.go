package router

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/LicenseFox/app/models"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/licensing"
)

type okLicenses struct{}

func (okLicenses) Verify(context.Context, licensing.VerifyRequest) licensing.VerifyResult {
	return licensing.VerifyResult{Valid: true, Message: "License verified successfully", LicenseID: 1}
}

func (okLicenses) Register(context.Context, licensing.RegisterRequest) licensing.RegisterResult {
	return licensing.RegisterResult{Success: true, Message: "License already exists"}
}

func (okLicenses) Status(context.Context, licensing.StatusRequest) licensing.StatusResult {
	return licensing.StatusResult{Valid: true, License: &licensing.LicenseStatus{ID: 1}}
}

func (okLicenses) CheckUpdates(context.Context, licensing.UpdateCheckRequest) licensing.UpdateCheckResult {
	return licensing.UpdateCheckResult{Valid: true, CurrentVersion: "1.0.0", LatestVersion: "1.0.0"}
}

func (okLicenses) LatestVersion(context.Context, string) licensing.LatestVersionResult {
	return licensing.LatestVersionResult{Version: "1.0.0"}
}

type noAdmin struct{}

func (noAdmin) GetLicense(context.Context, uint) (*models.License, error) {
	return nil, licensing.ErrLicenseNotFound
}
func (noAdmin) SetStatus(context.Context, uint, string) error { return licensing.ErrLicenseNotFound }
func (noAdmin) UpdateExpiry(context.Context, uint, *time.Time, *time.Time) error {
	return licensing.ErrLicenseNotFound
}
func (noAdmin) Stats(context.Context, int) (*models.VerificationStats, error) {
	return &models.VerificationStats{}, nil
}
func (noAdmin) SuspiciousActivity(context.Context, int, int) ([]models.SuspiciousIP, error) {
	return nil, nil
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	t.Setenv("ADMIN_USER", "admin")
	t.Setenv("ADMIN_PASSWORD", "pw")

	hash, err := models.HashAPIToken("api-token")
	require.NoError(t, err)

	app := fiber.New()
	InstallRouter(app, Services{
		Licenses:  okLicenses{},
		Admin:     noAdmin{},
		Reports:   noAdmin{},
		TokenHash: func() string { return hash },
	})
	return app
}

func send(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) int {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestLicenseRoutes(t *testing.T) {
	app := newTestApp(t)
	body := `{"purchase_code":"DIRECT-SALE-0001","product_slug":"acme"}`

	assert.Equal(t, fiber.StatusUnauthorized, send(t, app, http.MethodPost, "/api/v1/license/verify", body, nil))
	assert.Equal(t, fiber.StatusOK, send(t, app, http.MethodPost, "/api/v1/license/verify", body,
		map[string]string{"Authorization": "Bearer api-token"}))
	assert.Equal(t, fiber.StatusUnauthorized, send(t, app, http.MethodPost, "/api/v1/license/register", body, nil))
	assert.Equal(t, fiber.StatusOK, send(t, app, http.MethodPost, "/api/v1/license/register", body,
		map[string]string{"Authorization": "Bearer api-token"}))

	// status needs no token
	assert.Equal(t, fiber.StatusOK, send(t, app, http.MethodPost, "/api/v1/license/status",
		`{"license_key":"KEY","product_slug":"acme"}`, nil))

	updates := `{"purchase_code":"DIRECT-SALE-0001","product_slug":"acme","current_version":"1.0.0"}`
	assert.Equal(t, fiber.StatusUnauthorized, send(t, app, http.MethodPost, "/api/v1/license/check-updates", updates, nil))
	assert.Equal(t, fiber.StatusOK, send(t, app, http.MethodPost, "/api/v1/license/check-updates", updates,
		map[string]string{"Authorization": "Bearer api-token"}))
	assert.Equal(t, fiber.StatusOK, send(t, app, http.MethodGet, "/api/v1/license/latest-version?product_slug=acme", "", nil))
}

func TestAdminRoutesRequireBasicAuth(t *testing.T) {
	app := newTestApp(t)
	auth := map[string]string{"Authorization": "Basic " + base64.StdEncoding.EncodeToString([]byte("admin:pw"))}

	assert.Equal(t, fiber.StatusUnauthorized, send(t, app, http.MethodGet, "/api/v1/admin/verification/stats", "", nil))
	assert.Equal(t, fiber.StatusOK, send(t, app, http.MethodGet, "/api/v1/admin/verification/stats", "", auth))
	assert.Equal(t, fiber.StatusNotFound, send(t, app, http.MethodPatch, "/api/v1/admin/licenses/3/status", `{"status":"active"}`, auth))
	assert.Equal(t, fiber.StatusUnauthorized, send(t, app, http.MethodGet, "/metrics/prometheus", "", nil))
	assert.Equal(t, fiber.StatusOK, send(t, app, http.MethodGet, "/metrics/prometheus", "", auth))
}
