package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// invitation and reset tokens
	secretTokenBytes = 24
	// random password behind an invited account's placeholder hash
	placeholderPasswordBytes = 12
)

// HashPassword creates a bcrypt hash of the password
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword compares in constant time; malformed hashes never match.
func VerifyPassword(hashedPassword, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}

// GenerateRandomToken returns n cryptographically random bytes, hex encoded.
func GenerateRandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// placeholderHash hashes a random password nobody knows, so an invited
// account cannot be logged into before the invitation is accepted.
func placeholderHash(cost int) (string, error) {
	secret, err := GenerateRandomToken(placeholderPasswordBytes)
	if err != nil {
		return "", err
	}
	return HashPassword(secret, cost)
}
