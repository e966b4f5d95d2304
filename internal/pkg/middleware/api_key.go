package middleware

import (
	"crypto/sha256"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/ManuelReschke/LicenseFox/app/models"
	"github.com/ManuelReschke/LicenseFox/app/repository"
)

// TokenHashSource returns the bcrypt hash of the license API token.
type TokenHashSource func() string

// SettingsTokenHash reads the hash from the in-memory settings snapshot.
func SettingsTokenHash() string {
	return models.GetLicenseSettings().GetAPITokenHash()
}

// LicenseAPITokenMiddleware requires "Authorization: Bearer <token>" matching
// the configured API token. Without a configured token every request is
// rejected.
func LicenseAPITokenMiddleware(source TokenHashSource) fiber.Handler {
	verified := &tokenCache{}
	return func(c *fiber.Ctx) error {
		token := extractBearerToken(c)
		hash := source()
		if hash == "" {
			log.Warn().Str("path", c.Path()).Msg("license api token not configured, rejecting request")
			return unauthorized(c)
		}
		if token == "" || !verified.check(token, hash) {
			return unauthorized(c)
		}
		return c.Next()
	}
}

// tokenCache remembers the digest of the last token that matched a hash so
// bcrypt runs once per token rotation instead of once per request.
type tokenCache struct {
	mu     sync.Mutex
	hash   string
	digest [32]byte
}

func (tc *tokenCache) check(token, hash string) bool {
	digest := sha256.Sum256([]byte(token))
	tc.mu.Lock()
	if tc.hash == hash && tc.digest == digest {
		tc.mu.Unlock()
		return true
	}
	tc.mu.Unlock()

	if !models.CheckAPIToken(token, hash) {
		return false
	}
	tc.mu.Lock()
	tc.hash, tc.digest = hash, digest
	tc.mu.Unlock()
	return true
}

// BootstrapAPIToken stores the hash of token when no hash is configured yet
// and refreshes the settings snapshot. An empty token is a no-op.
func BootstrapAPIToken(repo repository.SettingRepository, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	current, err := repo.GetValue(models.SETTING_API_TOKEN_HASH)
	if err != nil {
		return err
	}
	if current != "" {
		return nil
	}

	hash, err := models.HashAPIToken(token)
	if err != nil {
		return err
	}
	if err := repo.SetValue(models.SETTING_API_TOKEN_HASH, hash); err != nil {
		return err
	}

	settings := models.GetLicenseSettings()
	models.SetLicenseSettings(&models.LicenseSettings{
		AutoRegisterDomains: settings.IsAutoRegisterDomainsEnabled(),
		APITokenHash:        hash,
	})
	log.Info().Msg("license api token hash stored in settings")
	return nil
}

func extractBearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"valid":      false,
		"message":    "Unauthorized",
		"error_code": "UNAUTHORIZED",
	})
}
