package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/punchamoorthee/hostelpay/internal/domain"
	"github.com/punchamoorthee/hostelpay/internal/store"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestSignAndParseActor(t *testing.T) {
	signer := NewJWTSigner("test-secret", 0)
	verifier := NewJWTVerifier("test-secret")

	now := time.Now().UTC()
	tok, exp, err := signer.SignActor(Actor{ID: "S1", Role: RoleStudent}, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !exp.Equal(now.Add(8 * time.Hour)) {
		t.Fatalf("expected 8h expiry, got %s", exp.Sub(now))
	}
	actor, err := verifier.ParseActor(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if actor.ID != "S1" || actor.Role != RoleStudent {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestParseActorRejectsExpiredAndForeign(t *testing.T) {
	verifier := NewJWTVerifier("test-secret")

	old, _, err := NewJWTSigner("test-secret", time.Hour).SignActor(Actor{ID: "S1", Role: RoleStudent}, time.Now().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifier.ParseActor(old); err == nil {
		t.Fatal("expired token accepted")
	}

	foreign, _, _ := NewJWTSigner("other-secret", 0).SignActor(Actor{ID: "S1", Role: RoleStudent}, time.Now())
	if _, err := verifier.ParseActor(foreign); err == nil {
		t.Fatal("token from another secret accepted")
	}

	noRole := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "S1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, _ := noRole.SignedString([]byte("test-secret"))
	if _, err := verifier.ParseActor(signed); err == nil {
		t.Fatal("token without role accepted")
	}
}

func TestRequireRoles(t *testing.T) {
	signer := NewJWTSigner("test-secret", 0)
	verifier := NewJWTVerifier("test-secret")
	var seen Actor
	h := RequireRoles(verifier, RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	adminTok, _, _ := signer.SignActor(Actor{ID: "admin", Role: RoleAdmin}, time.Now())
	studentTok, _, _ := signer.SignActor(Actor{ID: "S1", Role: RoleStudent}, time.Now())

	cases := []struct {
		header string
		want   int
	}{
		{"", http.StatusUnauthorized},
		{"Bearer garbage", http.StatusUnauthorized},
		{"Bearer " + studentTok, http.StatusForbidden},
		{"Bearer " + adminTok, http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("header %q: got %d want %d", tc.header, rec.Code, tc.want)
		}
	}
	if seen.ID != "admin" {
		t.Fatalf("actor not propagated: %+v", seen)
	}
}

func TestCanAccessStudent(t *testing.T) {
	if !(Actor{ID: "admin", Role: RoleAdmin}).CanAccessStudent("S1") {
		t.Fatal("admin should access any student")
	}
	if !(Actor{ID: "S1", Role: RoleStudent}).CanAccessStudent("S1") {
		t.Fatal("student should access self")
	}
	if (Actor{ID: "S2", Role: RoleStudent}).CanAccessStudent("S1") {
		t.Fatal("student must not access another student")
	}
}

func TestLoginService(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(nil)

	adminHash, err := HashPassword("admin@123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	st.EnsureAdmin(ctx, "admin", adminHash)
	st.CreateStudent(ctx, &domain.Student{StudentID: "S1"})
	s2Hash, _ := HashPassword("hunter2")
	st.CreateStudent(ctx, &domain.Student{StudentID: "S2", PasswordHash: s2Hash})

	login := NewLoginService(st, NewJWTSigner("test-secret", 0), fixedClock{now: time.Now()})
	verifier := NewJWTVerifier("test-secret")

	if _, err := login.AdminLogin(ctx, "admin", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid admin password, got %v", err)
	}
	if _, err := login.AdminLogin(ctx, "nobody", "admin@123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected unknown admin rejected, got %v", err)
	}
	if _, err := login.AdminLogin(ctx, "admin", "admin@123"); err != nil {
		t.Fatalf("admin login: %v", err)
	}

	// No password set: the student id doubles as the password.
	if _, err := login.StudentLogin(ctx, "S1", "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected fallback mismatch rejected, got %v", err)
	}
	if _, err := login.StudentLogin(ctx, "S1", "S1"); err != nil {
		t.Fatalf("fallback login: %v", err)
	}

	if _, err := login.StudentLogin(ctx, "S2", "S2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("fallback must not apply once a password is set, got %v", err)
	}
	tok, err := login.StudentLogin(ctx, "S2", "hunter2")
	if err != nil {
		t.Fatalf("student login: %v", err)
	}
	actor, err := verifier.ParseActor(tok)
	if err != nil || actor.ID != "S2" || actor.Role != RoleStudent {
		t.Fatalf("unexpected student token actor=%+v err=%v", actor, err)
	}
}
