package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	keyPrefix  = "mtg"
	keyVersion = "v1"
	keyIDLen   = 8
	keyDataLen = 64
)

// ParseAPIKey extracts key_id and random_data from an API key.
// Format: mtg-v1-<key_id>-<random_data>, 8 and 64 lowercase hex chars.
func ParseAPIKey(key string) (keyID, randomData string, err error) {
	parts := strings.Split(key, "-")
	if len(parts) != 4 || parts[0] != keyPrefix || parts[1] != keyVersion {
		return "", "", ErrInvalidKeyFormat
	}

	keyID = parts[2]
	randomData = parts[3]
	if len(keyID) != keyIDLen || len(randomData) != keyDataLen {
		return "", "", ErrInvalidKeyFormat
	}
	for _, c := range keyID + randomData {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", "", ErrInvalidKeyFormat
		}
	}
	return keyID, randomData, nil
}

// ComputeHMAC computes HMAC-SHA256 of apiKey under secret.
func ComputeHMAC(secret []byte, apiKey string) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(apiKey))
	return h.Sum(nil)
}

// VerifyHMAC compares digests in constant time.
func VerifyHMAC(expectedHash, computedHash []byte) bool {
	return hmac.Equal(expectedHash, computedHash)
}

// FormatAPIKey constructs an API key from its components.
func FormatAPIKey(keyID, randomData string) string {
	return fmt.Sprintf("%s-%s-%s-%s", keyPrefix, keyVersion, keyID, randomData)
}

// GenerateAPIKey returns a fresh random key.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, keyIDLen/2+keyDataLen/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	raw := hex.EncodeToString(buf)
	return FormatAPIKey(raw[:keyIDLen], raw[keyIDLen:]), nil
}
