package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"
)

// GenerateSalt returns a hex-encoded random salt of the requested byte length.
func GenerateSalt(length int) (string, error) {
	buffer := make([]byte, length)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return hex.EncodeToString(buffer), nil
}

// GenerateNumericCode returns a random numeric code with the given number of
// digits, suitable for verification codes typed by a user.
func GenerateNumericCode(digits int) (string, error) {
	if digits <= 0 {
		digits = 6
	}

	var sb strings.Builder
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		sb.WriteByte(byte('0' + n.Int64()))
	}
	return sb.String(), nil
}

// HashWithSalt returns hex(SHA-256(value + salt)). Verification codes are
// stored only in this form; the plaintext code never touches storage.
func HashWithSalt(value, salt string) string {
	digest := sha256.Sum256([]byte(value + salt))
	return hex.EncodeToString(digest[:])
}

// HashEmail returns hex(SHA-256(normalized email)). Normalization lower-cases
// and trims the address so lookups are stable across clients.
func HashEmail(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	digest := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(digest[:])
}

// HashIP returns hex(SHA-256(ip)) so audit rows never hold raw addresses.
func HashIP(ip string) string {
	digest := sha256.Sum256([]byte(strings.TrimSpace(ip)))
	return hex.EncodeToString(digest[:])
}

// ConstantTimeEquals compares two hex digests without leaking a timing oracle.
func ConstantTimeEquals(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
