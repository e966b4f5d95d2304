package controllers

import (
	"errors"
	"net"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/LicenseFox/internal/pkg/licensing"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("version", func(fl validator.FieldLevel) bool {
		return licensing.ValidVersion(fl.Field().String())
	})
	return v
}

// WithTrustedProxies lets c.IP() read header (CF-Connecting-IP,
// X-Forwarded-For, X-Real-IP) only for requests whose socket address is one
// of proxies (IPs or CIDRs). Without a header or proxies the socket address
// is the client address.
func WithTrustedProxies(cfg fiber.Config, header string, proxies []string) fiber.Config {
	cfg.EnableTrustedProxyCheck = true
	cfg.TrustedProxies = proxies
	cfg.ProxyHeader = ""
	if header != "" && len(proxies) > 0 {
		cfg.ProxyHeader = header
		cfg.EnableIPValidation = true
	}
	return cfg
}

// GetClientIP determines the client address. Forwarding headers are honored
// only as configured by WithTrustedProxies, so it is safe as a rate limit key.
func GetClientIP(c *fiber.Ctx) string {
	// a forwarded list starts with the client
	first, _, _ := strings.Cut(c.IP(), ",")
	if ip := cleanIP(first); ip != "" {
		return ip
	}
	return cleanIP(c.Context().RemoteIP().String())
}

// cleanIP returns the address in canonical form, unwrapping IPv4-mapped IPv6
// addresses (::ffff:192.168.1.1). Garbage yields "".
func cleanIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return ""
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}

// validationErrors flattens validator errors to field -> rule.
func validationErrors(err error) map[string]string {
	out := map[string]string{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["body"] = "invalid"
		return out
	}
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}
