package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newManager(t *testing.T) *CSRFManager {
	t.Helper()
	m, err := NewCSRFManager([]byte("test-secret"), time.Hour)
	if err != nil {
		t.Fatalf("NewCSRFManager() error = %v", err)
	}
	return m
}

func TestNewCSRFManager_requiresSecret(t *testing.T) {
	if _, err := NewCSRFManager(nil, time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestCSRFManager_roundTrip(t *testing.T) {
	m := newManager(t)
	tok, err := m.Token("sess-1", IntentionDelete)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if !m.IsValid("sess-1", IntentionDelete, tok) {
		t.Error("token should be valid for its own session and intention")
	}
}

func TestCSRFManager_rejects(t *testing.T) {
	m := newManager(t)
	tok, _ := m.Token("sess-1", IntentionDelete)

	other, _ := NewCSRFManager([]byte("other-secret"), time.Hour)
	forged, _ := other.Token("sess-1", IntentionDelete)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sid": "sess-1", "int": IntentionDelete})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name, session, intention, token string
	}{
		{"empty token", "sess-1", IntentionDelete, ""},
		{"garbage", "sess-1", IntentionDelete, "not-a-token"},
		{"other session", "sess-2", IntentionDelete, tok},
		{"other intention", "sess-1", IntentionBatch, tok},
		{"other secret", "sess-1", IntentionDelete, forged},
		{"unsigned", "sess-1", IntentionDelete, unsigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if m.IsValid(tt.session, tt.intention, tt.token) {
				t.Error("IsValid() = true, want false")
			}
		})
	}
}

func TestCSRFManager_expiry(t *testing.T) {
	m := newManager(t)
	issued := time.Now()
	m.now = func() time.Time { return issued }
	tok, _ := m.Token("sess-1", IntentionBatch)

	m.now = func() time.Time { return issued.Add(2 * time.Hour) }
	if m.IsValid("sess-1", IntentionBatch, tok) {
		t.Error("expired token should be rejected")
	}
}
