package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// newTestTokenService creates a TokenService with a fixed, known secret so
// tests are deterministic.
func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService("test-secret-at-least-16-chars!!", "")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// =========================================================================
// TOKEN SERVICE CONSTRUCTION TESTS
// =========================================================================

func TestNewTokenService_ShortSecret(t *testing.T) {
	_, err := NewTokenService("short", "")
	if err == nil {
		t.Fatal("NewTokenService() should reject secrets shorter than 16 chars")
	}
}

func TestNewTokenService_ValidSecret(t *testing.T) {
	_, err := NewTokenService("this-is-16-chars", "")
	if err != nil {
		t.Fatalf("NewTokenService() unexpected error for valid secret: %v", err)
	}
}

// =========================================================================
// VALIDATE TESTS
// =========================================================================

func TestValidate_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t)
	want := Identity{UserID: "user-abc-123", Email: "user@example.com"}

	token, err := ts.Issue(want, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Errorf("Issue() token doesn't look like a JWT: %q", token)
	}

	got, err := ts.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got != want {
		t.Errorf("Validate() = %+v, want %+v", got, want)
	}
}

func TestValidate_ExpiredToken(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Issue(Identity{UserID: "user-123"}, -1*time.Second)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := ts.Validate(token); err == nil {
		t.Fatal("Validate() should return an error for an expired token")
	}
}

func TestValidate_TamperedToken(t *testing.T) {
	ts := newTestTokenService(t)

	token, _ := ts.Issue(Identity{UserID: "user-123"}, time.Hour)
	tampered := token[:len(token)-3] + "xxx"

	if _, err := ts.Validate(tampered); err == nil {
		t.Fatal("Validate() should return an error for a tampered token")
	}
}

func TestValidate_WrongSecret(t *testing.T) {
	ts1, _ := NewTokenService("correct-secret-32-chars-long!!!!", "")
	ts2, _ := NewTokenService("wrong-secret-32-chars-long!!!!!!", "")

	token, _ := ts1.Issue(Identity{UserID: "user-123"}, time.Hour)

	if _, err := ts2.Validate(token); err == nil {
		t.Fatal("Validate() should fail when using a different secret")
	}
}

func TestValidate_WrongAudience(t *testing.T) {
	ts := newTestTokenService(t)

	// An anon key carries role/aud "anon" and no subject; it must never
	// pass as a signed-in user.
	c := jwt.MapClaims{
		"sub": "user-123",
		"aud": "anon",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(ts.secret)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	if _, err := ts.Validate(token); err == nil {
		t.Fatal("Validate() should reject tokens for another audience")
	}
}

func TestValidate_MissingSubject(t *testing.T) {
	ts := newTestTokenService(t)

	token, _ := ts.Issue(Identity{Email: "nobody@example.com"}, time.Hour)

	if _, err := ts.Validate(token); err == nil {
		t.Fatal("Validate() should reject tokens without a subject")
	}
}

func TestValidate_IssuerEnforced(t *testing.T) {
	secret := "shared-secret-for-issuer-tests!!"
	issuer, _ := NewTokenService(secret, "https://abc.supabase.co/auth/v1")
	other, _ := NewTokenService(secret, "https://evil.example/auth/v1")

	token, _ := other.Issue(Identity{UserID: "user-123"}, time.Hour)
	if _, err := issuer.Validate(token); err == nil {
		t.Fatal("Validate() should reject a token from another issuer")
	}

	good, _ := issuer.Issue(Identity{UserID: "user-123"}, time.Hour)
	if _, err := issuer.Validate(good); err != nil {
		t.Fatalf("Validate() with matching issuer error = %v", err)
	}
}

func TestValidate_EmptyToken(t *testing.T) {
	ts := newTestTokenService(t)

	if _, err := ts.Validate(""); err == nil {
		t.Fatal("Validate() should return an error for an empty string")
	}
}

func TestValidate_GarbageString(t *testing.T) {
	ts := newTestTokenService(t)

	if _, err := ts.Validate("not.a.jwt.token"); err == nil {
		t.Fatal("Validate() should return an error for a garbage string")
	}
}
