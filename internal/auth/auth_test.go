package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sign(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func validClaims() Claims {
	var c Claims
	c.Subject = "u1"
	c.Email = "ada@example.com"
	c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	return c
}

func TestDisabledMode(t *testing.T) {
	v, err := NewVerifier(context.Background(), Config{Mode: ModeDisabled}, discardLogger())
	if err != nil || v != nil {
		t.Errorf("disabled mode = %v, %v; want nil verifier", v, err)
	}
}

func TestStaticToken(t *testing.T) {
	v, _ := NewVerifier(context.Background(), Config{Mode: ModeToken, Token: "s3cret", TokenUID: "admin"}, discardLogger())
	id, err := v.Verify(context.Background(), "s3cret")
	if err != nil || id.UID != "admin" {
		t.Errorf("Verify = %+v, %v", id, err)
	}
	if _, err := v.Verify(context.Background(), "nope"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong token err = %v", err)
	}
}

func TestJWT(t *testing.T) {
	secret := []byte("shared-secret")
	v, _ := NewVerifier(context.Background(), Config{Mode: ModeJWT, JWTSecret: string(secret)}, discardLogger())
	ctx := context.Background()

	id, err := v.Verify(ctx, sign(t, jwt.SigningMethodHS256, secret, validClaims()))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UID != "u1" || id.Email != "ada@example.com" || id.Anonymous {
		t.Errorf("identity = %+v", id)
	}

	anon := validClaims()
	anon.Firebase.SignInProvider = "anonymous"
	id, err = v.Verify(ctx, sign(t, jwt.SigningMethodHS256, secret, anon))
	if err != nil || !id.Anonymous {
		t.Errorf("anonymous identity = %+v, %v", id, err)
	}

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	if _, err := v.Verify(ctx, sign(t, jwt.SigningMethodHS256, secret, expired)); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired err = %v", err)
	}

	if _, err := v.Verify(ctx, sign(t, jwt.SigningMethodHS256, []byte("other"), validClaims())); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("bad signature err = %v", err)
	}

	if _, err := v.Verify(ctx, sign(t, jwt.SigningMethodHS384, secret, validClaims())); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("disallowed algorithm err = %v", err)
	}

	noSub := validClaims()
	noSub.Subject = ""
	if _, err := v.Verify(ctx, sign(t, jwt.SigningMethodHS256, secret, noSub)); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("missing subject err = %v", err)
	}
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	if FromContext(ctx) != nil {
		t.Error("empty context should have no identity")
	}
	ctx = WithIdentity(ctx, &Identity{UID: "u1"})
	if FromContext(ctx).UID != "u1" {
		t.Error("identity not carried")
	}
}
