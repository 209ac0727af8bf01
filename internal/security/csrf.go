// Package security issues and verifies CSRF tokens bound to a session and an
// intention.
package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token intentions used by the admin.
const (
	IntentionDelete = "sonata.delete"
	IntentionBatch  = "sonata.batch"
)

// TokenField is the request parameter carrying the CSRF token.
const TokenField = "_sonata_csrf_token"

type csrfClaims struct {
	Session   string `json:"sid"`
	Intention string `json:"int"`
	jwt.RegisteredClaims
}

// CSRFManager signs tokens with HMAC-SHA256. A token is valid only for the
// session and intention it was issued for, until it expires.
type CSRFManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCSRFManager creates a manager. The secret must not be empty.
func NewCSRFManager(secret []byte, ttl time.Duration) (*CSRFManager, error) {
	if len(secret) == 0 {
		return nil, errors.New("security: csrf secret is empty")
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &CSRFManager{secret: secret, ttl: ttl, now: time.Now}, nil
}

// Token issues a token for the session and intention.
func (m *CSRFManager) Token(sessionID, intention string) (string, error) {
	now := m.now()
	claims := csrfClaims{
		Session:   sessionID,
		Intention: intention,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("security: sign csrf token: %w", err)
	}
	return signed, nil
}

// IsValid reports whether token was issued by this manager for the session
// and intention and has not expired.
func (m *CSRFManager) IsValid(sessionID, intention, token string) bool {
	if token == "" {
		return false
	}
	var claims csrfClaims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid {
		return false
	}
	return claims.Session == sessionID && claims.Intention == intention
}
