// Package auth verifies bearer tokens and carries the caller's identity
// through request contexts.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Mode selects how bearer tokens are verified.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeToken    Mode = "token"
	ModeJWT      Mode = "jwt"
	ModeJWKS     Mode = "jwks"
)

// Identity is a verified caller.
type Identity struct {
	UID       string
	Email     string
	Anonymous bool
}

// Claims are the token claims read from identity-provider JWTs.
type Claims struct {
	jwt.RegisteredClaims
	Email    string `json:"email,omitempty"`
	Firebase struct {
		SignInProvider string `json:"sign_in_provider,omitempty"`
	} `json:"firebase,omitempty"`
}

// Config selects and parameterizes the verifier.
type Config struct {
	Mode      Mode
	Token     string
	TokenUID  string
	JWTSecret string
	JWKSURL   string
	Issuer    string
}

// Verifier turns a raw bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// NewVerifier builds the verifier for cfg.Mode. Disabled mode returns nil:
// every request is treated as carrying no identity.
func NewVerifier(ctx context.Context, cfg Config, logger *slog.Logger) (Verifier, error) {
	switch cfg.Mode {
	case ModeDisabled, "":
		return nil, nil
	case ModeToken:
		return &staticVerifier{token: cfg.Token, uid: cfg.TokenUID}, nil
	case ModeJWT:
		key := []byte(cfg.JWTSecret)
		return &jwtVerifier{
			keyfunc: func(*jwt.Token) (any, error) { return key, nil },
			methods: []string{"HS256"},
			issuer:  cfg.Issuer,
		}, nil
	case ModeJWKS:
		jwks, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURL})
		if err != nil {
			return nil, fmt.Errorf("auth: create JWKS client: %w", err)
		}
		logger.Info("JWT verifier initialized", slog.String("jwks_url", cfg.JWKSURL))
		return &jwtVerifier{
			keyfunc: jwks.Keyfunc,
			methods: []string{"RS256", "ES256"},
			issuer:  cfg.Issuer,
		}, nil
	default:
		return nil, fmt.Errorf("auth: unknown mode %q", cfg.Mode)
	}
}

type staticVerifier struct {
	token string
	uid   string
}

func (v *staticVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	if v.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(v.token)) != 1 {
		return nil, ErrInvalidToken
	}
	return &Identity{UID: v.uid}, nil
}

type jwtVerifier struct {
	keyfunc jwt.Keyfunc
	methods []string
	issuer  string
}

func (v *jwtVerifier) Verify(_ context.Context, raw string) (*Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods(v.methods), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, v.keyfunc, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &Identity{
		UID:       claims.Subject,
		Email:     claims.Email,
		Anonymous: claims.Firebase.SignInProvider == "anonymous",
	}, nil
}

type ctxKey struct{}

// WithIdentity returns ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the caller identity, or nil for unauthenticated calls.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(ctxKey{}).(*Identity)
	return id
}
