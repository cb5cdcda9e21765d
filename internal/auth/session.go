// Package auth resolves the caller's session and decides admin visibility.
package auth

import (
	"crypto/rand"
	"errors"
	"math/big"
)

const (
	MinSessionIDLength = 6
	MaxSessionIDLength = 20
	// DefaultSessionIDLength is used when the caller does not ask for one.
	DefaultSessionIDLength = 12
)

const sessionAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// ErrInvalidSession marks a session id that is not 6..20 ASCII letters and digits.
var ErrInvalidSession = errors.New("invalid session id")

// IsValidSessionID reports whether s is 6..20 ASCII alphanumerics.
func IsValidSessionID(s string) bool {
	if len(s) < MinSessionIDLength || len(s) > MaxSessionIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

// GenerateSessionID returns a random alphanumeric id. length is clamped to
// [MinSessionIDLength, MaxSessionIDLength]; zero selects the default.
func GenerateSessionID(length int) (string, error) {
	switch {
	case length == 0:
		length = DefaultSessionIDLength
	case length < MinSessionIDLength:
		length = MinSessionIDLength
	case length > MaxSessionIDLength:
		length = MaxSessionIDLength
	}
	radix := big.NewInt(int64(len(sessionAlphabet)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, radix)
		if err != nil {
			return "", err
		}
		b[i] = sessionAlphabet[n.Int64()]
	}
	return string(b), nil
}

// Gate knows the configured admin session.
type Gate struct {
	adminID  string
	sessions SessionRegistry
}

func NewGate(adminID string, sessions SessionRegistry) *Gate {
	return &Gate{adminID: adminID, sessions: sessions}
}

// IsAdmin is exact equality with the configured admin id.
func (g *Gate) IsAdmin(sessionID string) bool {
	return g.adminID != "" && sessionID == g.adminID
}

// Identify validates sessionID and returns the resulting identity.
func (g *Gate) Identify(sessionID string) (Identity, error) {
	if !IsValidSessionID(sessionID) {
		return Identity{}, ErrInvalidSession
	}
	return Identity{SessionID: sessionID, IsAdmin: g.IsAdmin(sessionID)}, nil
}
