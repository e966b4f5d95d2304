package licensing

import (
	"github.com/ManuelReschke/LicenseFox/app/models"
	"github.com/ManuelReschke/LicenseFox/internal/pkg/env"
)

// VerificationMode decides what happens to an unknown domain on a license
// that already has domains.
type VerificationMode string

const (
	ModeVerifyOnly   VerificationMode = "verify-only"
	ModeAutoRegister VerificationMode = "auto-register"
)

// ModeResolver resolves the mode once per request.
type ModeResolver struct {
	// AutoRegister reports the runtime "auto register domains" setting.
	AutoRegister func() bool
	// DevMode forces auto-registration in development setups.
	DevMode func() bool
}

// NewModeResolver reads the settings snapshot and APP_ENV.
func NewModeResolver() *ModeResolver {
	return &ModeResolver{
		AutoRegister: func() bool {
			if models.GetLicenseSettings().IsAutoRegisterDomainsEnabled() {
				return true
			}
			return env.GetEnvBool("LICENSE_AUTO_REGISTER_DOMAINS", false)
		},
		DevMode: env.IsDev,
	}
}

func (r *ModeResolver) Resolve() VerificationMode {
	if r == nil {
		return ModeVerifyOnly
	}
	if r.AutoRegister != nil && r.AutoRegister() {
		return ModeAutoRegister
	}
	if r.DevMode != nil && r.DevMode() {
		return ModeAutoRegister
	}
	return ModeVerifyOnly
}
