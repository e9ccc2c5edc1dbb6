package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	minTokenLength = 16
	// bcrypt ignores input past 72 bytes.
	maxTokenLength   = 72
	generatedTokenSz = 24
)

// ValidateToken checks minimal API token requirements.
func ValidateToken(token string) error {
	switch {
	case len(token) < minTokenLength:
		return fmt.Errorf("token must be at least %d characters", minTokenLength)
	case len(token) > maxTokenLength:
		return fmt.Errorf("token must be at most %d characters", maxTokenLength)
	case strings.TrimSpace(token) != token:
		return fmt.Errorf("token must not have surrounding whitespace")
	}
	return nil
}

// HashToken hashes one plaintext API token for the config file.
func HashToken(token string) (string, error) {
	if err := ValidateToken(token); err != nil {
		return "", err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifyToken reports whether candidate matches the bcrypt hash.
func VerifyToken(tokenHash, candidate string) bool {
	if strings.TrimSpace(tokenHash) == "" || candidate == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(candidate)) == nil
}

// GenerateToken returns a random hex token suitable for HashToken.
func GenerateToken() (string, error) {
	buf := make([]byte, generatedTokenSz)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
