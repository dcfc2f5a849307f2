// Package auth turns bearer credentials into user identities
package auth

//go:generate mockgen -destination=mock/mock_verifier.go -package=authmock github.com/KirkDiggler/rpg-encounters/internal/auth Verifier

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/KirkDiggler/rpg-encounters/internal/errors"
	"github.com/KirkDiggler/rpg-encounters/internal/pkg/clock"
)

const minSecretLength = 32

// Identity is an authenticated caller. Token is the raw credential, forwarded to
// the character service on the caller's behalf.
type Identity struct {
	UserID string
	Token  string
}

// Verifier validates bearer tokens
type Verifier interface {
	// Verify returns the identity carried by token
	// Returns errors.Unauthenticated for missing, malformed, expired or foreign tokens
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Config contains configuration for the HS256 verifier and issuer
type Config struct {
	Secret string
	Issuer string
	// Leeway tolerated on exp/nbf (optional)
	Leeway time.Duration
	Clock  clock.Clock
}

// Validate validates the config
func (cfg *Config) Validate() error {
	if cfg == nil {
		return errors.InvalidArgument("config cannot be nil")
	}

	vb := errors.NewValidationBuilder()
	if len(cfg.Secret) < minSecretLength {
		vb.Fieldf("secret", "must be at least %d bytes", minSecretLength)
	}
	errors.ValidateRequired("issuer", cfg.Issuer, vb)
	return vb.Build()
}

type hmacVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
	clock  clock.Clock
}

// NewVerifier creates an HS256 verifier
func NewVerifier(cfg *Config) (Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := cfg.Clock
	if c == nil {
		c = clock.New()
	}

	return &hmacVerifier{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		leeway: cfg.Leeway,
		clock:  c,
	}, nil
}

func (v *hmacVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.Unauthenticated("bearer token is required")
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.clock.Now),
	)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnauthenticated, "invalid bearer token")
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.Unauthenticated("bearer token has no subject")
	}

	return &Identity{UserID: claims.Subject, Token: token}, nil
}

// Issuer signs development tokens. Production tokens come from the login service.
type Issuer struct {
	secret []byte
	issuer string
	clock  clock.Clock
}

// NewIssuer creates a token issuer sharing the verifier's config
func NewIssuer(cfg *Config) (*Issuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := cfg.Clock
	if c == nil {
		c = clock.New()
	}

	return &Issuer{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		clock:  c,
	}, nil
}

// Issue signs a token for userID valid for ttl
func (i *Issuer) Issue(userID string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.InvalidArgument("user ID cannot be empty")
	}
	if ttl <= 0 {
		return "", errors.InvalidArgument("ttl must be positive")
	}

	now := i.clock.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", errors.Wrapf(err, "failed to sign token")
	}
	return signed, nil
}

type identityKey struct{}

// WithIdentity stores the caller's identity on ctx
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by WithIdentity
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}
