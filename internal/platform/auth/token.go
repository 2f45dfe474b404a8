package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	domain "github.com/hangerworks/api/internal/domain"
)

const defaultIssuer = "hangerworks"

var (
	// ErrTokenExpired signals that the bearer token has expired.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals that the bearer token failed verification.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// Claims is the JWT payload issued by the identity service.
type Claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier turns a bearer token into an authenticated actor.
type TokenVerifier interface {
	VerifyToken(token string) (domain.Actor, error)
}

// HMACVerifier validates HS256-signed tokens with a shared secret.
type HMACVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// VerifierOption customises the verifier.
type VerifierOption func(*HMACVerifier)

// WithIssuer overrides the expected token issuer.
func WithIssuer(issuer string) VerifierOption {
	return func(v *HMACVerifier) {
		issuer = strings.TrimSpace(issuer)
		if issuer != "" {
			v.issuer = issuer
		}
	}
}

// WithClock injects a custom clock, primarily for tests.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *HMACVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewHMACVerifier constructs a verifier around the shared signing secret.
func NewHMACVerifier(secret []byte, opts ...VerifierOption) (*HMACVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: signing secret is required")
	}
	v := &HMACVerifier{
		secret: secret,
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// VerifyToken parses and validates the token and maps its claims to an actor.
func (v *HMACVerifier) VerifyToken(tokenStr string) (domain.Actor, error) {
	if v == nil || len(v.secret) == 0 {
		return domain.Actor{}, ErrTokenInvalid
	}

	// Time and issuer claims are checked by hand against the injected clock;
	// the parser only verifies the signature and algorithm.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	now := v.now()
	if exp := claims.ExpiresAt; exp != nil && !now.Before(exp.Time) {
		return domain.Actor{}, ErrTokenExpired
	}
	if nbf := claims.NotBefore; nbf != nil && now.Before(nbf.Time) {
		return domain.Actor{}, fmt.Errorf("%w: token not yet valid", ErrTokenInvalid)
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return domain.Actor{}, fmt.Errorf("%w: issuer mismatch, got %q", ErrTokenInvalid, claims.Issuer)
	}

	actor, err := actorFromClaims(claims)
	if err != nil {
		return domain.Actor{}, err
	}
	return actor, nil
}

func actorFromClaims(claims *Claims) (domain.Actor, error) {
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return domain.Actor{}, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	role, ok := parseRole(claims.Role)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, claims.Role)
	}

	return domain.Actor{
		ID:   subject,
		Name: strings.TrimSpace(claims.Name),
		Role: role,
	}, nil
}

func parseRole(raw string) (domain.Role, bool) {
	switch domain.Role(strings.ToLower(strings.TrimSpace(raw))) {
	case domain.RoleCustomer:
		return domain.RoleCustomer, true
	case domain.RoleSalesAdmin:
		return domain.RoleSalesAdmin, true
	case domain.RoleOperationsManager:
		return domain.RoleOperationsManager, true
	case domain.RoleProduction:
		return domain.RoleProduction, true
	default:
		return "", false
	}
}
