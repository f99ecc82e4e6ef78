package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey derives a 32-byte purpose-bound key from secret using HKDF-SHA256.
func DeriveKey(secret []byte, context string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, nil, []byte(context))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}

// SignHMAC returns the lowercase hex HMAC-SHA256 of msg under key.
func SignHMAC(key, msg []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC reports whether sigHex is the HMAC-SHA256 of msg under key.
// The comparison runs in constant time over the decoded digest.
func VerifyHMAC(key, msg []byte, sigHex string) bool {
	got, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(sigHex)))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return hmac.Equal(got, mac.Sum(nil))
}

// ConstantTimeEqual compares two secrets without leaking where they differ.
// Lengths are not hidden.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// HashToken returns the SHA-256 hex hash of a bearer token.
func HashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

// RandomToken returns a URL-safe random token carrying n bytes of entropy.
func RandomToken(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
