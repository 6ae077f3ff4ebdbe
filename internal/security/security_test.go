package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSessionKey_Consistent(t *testing.T) {
	k1 := SessionKey("refresh-123")
	k2 := SessionKey("refresh-123")
	if k1 != k2 {
		t.Errorf("SessionKey not consistent: %q != %q", k1, k2)
	}
	if len(k1) != 64 {
		t.Errorf("key length = %d, want 64 (SHA-256 hex)", len(k1))
	}
	if SessionKey("refresh-124") == k1 {
		t.Error("SessionKey produced same key for different tokens")
	}
}

func TestSessionKeyEqual(t *testing.T) {
	key := SessionKey("correct")
	if !SessionKeyEqual("correct", key) {
		t.Error("SessionKeyEqual should match correct token")
	}
	if SessionKeyEqual("wrong", key) {
		t.Error("SessionKeyEqual should reject incorrect token")
	}
}

func signTest(t *testing.T, claims AccessClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("provider-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestDecodeAccessClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := signTest(t, AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "6f1c3c8e-4a57-4a43-9a53-0d8c7a4e2b11",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email:     "tenant@example.com",
		SessionID: "s-1",
		AAL:       AAL2,
		AMR:       []AMREntry{{Method: "password"}, {Method: "totp"}},
	})

	claims, err := DecodeAccessClaims(tok)
	if err != nil {
		t.Fatalf("DecodeAccessClaims: %v", err)
	}
	if claims.Subject != "6f1c3c8e-4a57-4a43-9a53-0d8c7a4e2b11" {
		t.Errorf("Subject = %q", claims.Subject)
	}
	if claims.AAL != AAL2 {
		t.Errorf("AAL = %q, want %q", claims.AAL, AAL2)
	}
	if !claims.HasMethod("totp") || claims.HasMethod("oauth") {
		t.Errorf("HasMethod mismatch for AMR %+v", claims.AMR)
	}
	if !claims.Expiry().Equal(exp) {
		t.Errorf("Expiry = %v, want %v", claims.Expiry(), exp)
	}
}

func TestDecodeAccessClaims_ExpiredStillDecodes(t *testing.T) {
	tok := signTest(t, AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	claims, err := DecodeAccessClaims(tok)
	if err != nil {
		t.Fatalf("DecodeAccessClaims: %v", err)
	}
	if !claims.Expiry().Before(time.Now()) {
		t.Error("Expiry should be in the past")
	}
}

func TestDecodeAccessClaims_Malformed(t *testing.T) {
	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := DecodeAccessClaims(tok); err != ErrInvalidToken {
			t.Errorf("DecodeAccessClaims(%q) err = %v, want ErrInvalidToken", tok, err)
		}
	}
}

func TestAccessClaims_NilSafe(t *testing.T) {
	var c *AccessClaims
	if !c.Expiry().IsZero() {
		t.Error("nil claims Expiry should be zero")
	}
	if c.HasMethod("totp") {
		t.Error("nil claims HasMethod should be false")
	}
}
