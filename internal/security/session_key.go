package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// SessionKey names a provider session in local state: the hex SHA-256 of its
// refresh token. The raw token is never used as a key.
func SessionKey(refreshToken string) string {
	h := sha256.Sum256([]byte(refreshToken))
	return hex.EncodeToString(h[:])
}

// SessionKeyEqual reports whether refreshToken hashes to key, in constant time.
func SessionKeyEqual(refreshToken, key string) bool {
	return subtle.ConstantTimeCompare([]byte(SessionKey(refreshToken)), []byte(key)) == 1
}
