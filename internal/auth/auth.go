// Package auth verifies channel credentials: the per-channel shared secret and
// optional one-time admin tokens.
package auth

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrAuthDisabled    = errors.New("auth disabled")
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenReplayed   = errors.New("token already used")
	ErrChannelMismatch = errors.New("token issued for a different channel")
	ErrEmptySecret     = errors.New("secret is required")
)

// HashSecret returns a salted bcrypt hash of a channel secret.
func HashSecret(secret string) (string, error) {
	return HashSecretWithCost(secret, bcrypt.DefaultCost)
}

// HashSecretWithCost is HashSecret with an explicit work factor.
func HashSecretWithCost(secret string, cost int) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrEmptySecret
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifySecret reports whether secret matches the stored hash.
// The comparison is salted and constant-time with respect to the secret.
func VerifySecret(hash, secret string) bool {
	if hash == "" || secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
