package licensing

// Reason is the machine readable outcome code of a failed verification.
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonProductNotFound        Reason = "PRODUCT_NOT_FOUND"
	ReasonInvalidVerificationKey Reason = "INVALID_VERIFICATION_KEY"
	ReasonLicenseNotFound        Reason = "LICENSE_NOT_FOUND"
	ReasonLicenseSuspended       Reason = "LICENSE_SUSPENDED"
	ReasonLicenseExpired         Reason = "LICENSE_EXPIRED"
	ReasonLicenseInactive        Reason = "LICENSE_INACTIVE"
	ReasonDomainNotAuthorized    Reason = "DOMAIN_NOT_AUTHORIZED"
	ReasonDomainLimitExceeded    Reason = "DOMAIN_LIMIT_EXCEEDED"
	ReasonRateLimited            Reason = "RATE_LIMITED"
	ReasonInternalError          Reason = "INTERNAL_ERROR"
)

var reasonMessages = map[Reason]string{
	ReasonProductNotFound:        "Product not found",
	ReasonInvalidVerificationKey: "Invalid verification key",
	ReasonLicenseNotFound:        "License not found",
	ReasonLicenseSuspended:       "License is suspended",
	ReasonLicenseExpired:         "License has expired",
	ReasonLicenseInactive:        "License is not active",
	ReasonDomainNotAuthorized:    "Domain not authorized for this license",
	ReasonDomainLimitExceeded:    "License has reached its maximum domain limit",
	ReasonRateLimited:            "Too many verification attempts. Please try again later.",
	ReasonInternalError:          "Verification failed",
}

// Message returns the human readable text for the reason.
func (r Reason) Message() string {
	if msg, ok := reasonMessages[r]; ok {
		return msg
	}
	return ""
}

func (r Reason) String() string {
	return string(r)
}
