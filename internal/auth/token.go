package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Prefixes of opaque tokens. They make leaked credentials greppable.
const (
	TokenPrefixCheckoutClientSecret = "ckd_cs_"
	TokenPrefixAccessToken          = "ckd_oat_"
	TokenPrefixRefreshToken         = "ckd_ort_"
	TokenPrefixAuthorizationCode    = "ckd_ac_"
	TokenPrefixClientID             = "ckd_oci_"
	TokenPrefixClientSecret         = "ckd_ocs_"
)

const tokenEntropyBytes = 32

// GenerateToken returns a random URL-safe token starting with prefix.
func GenerateToken(prefix string) (string, error) {
	b := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns the hex SHA-256 of a high-entropy token for storage.
// Tokens are random so a slow hash adds nothing and would prevent indexed lookup.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// CredentialCacheKey derives the auth cache key of a presented API key.
// The cache never sees the key itself.
func CredentialCacheKey(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:16])
}

// IsAccessToken reports whether s looks like an OAuth2 access token.
func IsAccessToken(s string) bool {
	return strings.HasPrefix(s, TokenPrefixAccessToken)
}

// VerifyPKCE checks an S256 code verifier against its challenge (RFC 7636).
func VerifyPKCE(verifier, challenge string) bool {
	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
