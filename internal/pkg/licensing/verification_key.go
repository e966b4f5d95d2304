package licensing

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"
)

// VerificationKey is hex(sha256(productID || productSlug || secret)), the
// key client installations embed to prove they ship the right product.
func VerificationKey(productID uint, productSlug, secret string) string {
	sum := sha256.Sum256([]byte(strconv.FormatUint(uint64(productID), 10) + productSlug + secret))
	return hex.EncodeToString(sum[:])
}

// CheckVerificationKey compares in constant time.
func CheckVerificationKey(given string, productID uint, productSlug, secret string) bool {
	expected := VerificationKey(productID, productSlug, secret)
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(given)), []byte(expected)) == 1
}
