package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestState_SignIn(t *testing.T) {
	s := New()
	if s.Authenticated() || s.Token() != "" {
		t.Fatal("new session should be anonymous")
	}

	tok := signToken(t, Claims{ActorID: "cus_1", ActorType: "customer", Email: "a@b.co"})
	user, err := s.SignIn(tok)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if user.ID != "cus_1" || user.Email != "a@b.co" {
		t.Errorf("user = %+v", user)
	}
	if s.Token() != tok {
		t.Error("Token() should return the signed-in token")
	}

	s.Clear()
	if s.Authenticated() || s.Token() != "" {
		t.Error("Clear() should make the session anonymous")
	}
}

func TestState_SignInRejectsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"no subject", signToken(t, Claims{Email: "a@b.co"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			if _, err := s.SignIn(tt.token); err == nil {
				t.Error("SignIn() should fail")
			}
			if s.Authenticated() {
				t.Error("failed SignIn must not authenticate")
			}
		})
	}
}

func TestState_SubjectFallback(t *testing.T) {
	tok := signToken(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "cus_sub"}})

	user, err := New().SignIn(tok)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if user.ID != "cus_sub" {
		t.Errorf("ID = %q, want cus_sub", user.ID)
	}
}

func TestState_Expiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New()
	s.now = func() time.Time { return now }

	tok := signToken(t, Claims{
		ActorID:          "cus_1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
	})
	if _, err := s.SignIn(tok); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if !s.Authenticated() {
		t.Fatal("token should be live before expiry")
	}

	now = now.Add(time.Hour)
	if s.Authenticated() || s.Token() != "" {
		t.Error("expired token should read as anonymous")
	}
}

func TestState_OnClear(t *testing.T) {
	s := New()
	if _, err := s.SignIn(signToken(t, Claims{ActorID: "cus_01"})); err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	calls := 0
	s.OnClear(func() {
		calls++
		if s.Authenticated() {
			t.Error("hook ran before the token was dropped")
		}
	})

	s.Clear()
	s.Clear()
	if calls != 2 {
		t.Errorf("hook ran %d times, want 2", calls)
	}
}
