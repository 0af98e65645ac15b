package auth

import (
	"crypto/rsa"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// LoadVerificationKey parses a PEM-encoded RSA public key, reading it from
// path when inline material is empty. Returns (nil, nil) when neither source
// is set; the caller decides whether that is a configuration error.
func LoadVerificationKey(pemData, path string) (*rsa.PublicKey, error) {
	pemData = strings.TrimSpace(pemData)
	if pemData == "" && path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("auth: read verification key %s: %w", path, err)
		}
		pemData = strings.TrimSpace(string(raw))
	}
	if pemData == "" {
		return nil, nil
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemData))
	if err != nil {
		return nil, fmt.Errorf("auth: parse verification key: %w", err)
	}
	return key, nil
}
