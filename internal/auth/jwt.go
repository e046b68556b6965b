// Package auth provides JWT token management for the operator and admin
// surfaces of the audit trail service.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scopes carried in the scope claim.
const (
	// ScopeAdmin authorizes the secret administration surface. Tokens
	// with this scope are issued to human operators only; the scope is
	// never reachable from end-user request paths.
	ScopeAdmin = "audit:admin"

	// ScopeRead authorizes the read-only verification/run surfaces.
	ScopeRead = "audit:read"
)

// AdminTokenExpiry is deliberately short: admin tokens are minted per
// operation by operator tooling.
const AdminTokenExpiry = 15 * time.Minute

// ReadTokenExpiry covers a dashboard session.
const ReadTokenExpiry = 12 * time.Hour

// Default leeway for token validation.
const DefaultLeeway = 30 * time.Second

// ErrInvalidToken is returned when token validation fails.
var ErrInvalidToken = errors.New("invalid token")

// ErrExpiredToken is returned when the token has expired.
var ErrExpiredToken = errors.New("token has expired")

// ErrEmptySubject is returned when the subject is empty.
var ErrEmptySubject = errors.New("subject cannot be empty")

// Claims represents custom JWT claims for the service.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// HasScope reports whether the claims grant the given scope. Admin
// implies read.
func (c *Claims) HasScope(scope string) bool {
	if c.Scope == scope {
		return true
	}
	return scope == ScopeRead && c.Scope == ScopeAdmin
}

// JWTService handles JWT token operations.
// Supports dual-key rotation: tokens are signed with currentSecret,
// but can be validated with either currentSecret or previousSecret.
type JWTService struct {
	currentSecret  []byte
	previousSecret []byte
	leeway         time.Duration
}

// NewJWTService creates a new JWTService with a single signing secret.
func NewJWTService(secret string) *JWTService {
	return &JWTService{
		currentSecret: []byte(secret),
		leeway:        DefaultLeeway,
	}
}

// NewJWTServiceWithRotation creates a JWTService with dual-key support
// for zero-downtime rotation. Tokens are always signed with
// currentSecret but validate against either secret. Pass an empty
// previousSecret when no rotation is in progress.
func NewJWTServiceWithRotation(currentSecret, previousSecret string) *JWTService {
	svc := &JWTService{
		currentSecret: []byte(currentSecret),
		leeway:        DefaultLeeway,
	}
	if previousSecret != "" {
		svc.previousSecret = []byte(previousSecret)
	}
	return svc
}

// GenerateToken creates a token for a subject with the given scope.
func (s *JWTService) GenerateToken(subject, scope string) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}

	expiry := ReadTokenExpiry
	if scope == ScopeAdmin {
		expiry = AdminTokenExpiry
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
		Scope: scope,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.currentSecret)
}

// ValidateToken parses and validates a JWT token, returning the claims if valid.
// Supports dual-key rotation: tries currentSecret first, then previousSecret if available.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return s.currentSecret, nil
	}, jwt.WithLeeway(s.leeway))

	if err == nil {
		claims, ok := token.Claims.(*Claims)
		if ok && token.Valid {
			return claims, nil
		}
		return nil, ErrInvalidToken
	}

	if s.previousSecret != nil {
		token, err = jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, ErrInvalidToken
			}
			return s.previousSecret, nil
		}, jwt.WithLeeway(s.leeway))

		if err == nil {
			claims, ok := token.Claims.(*Claims)
			if ok && token.Valid {
				return claims, nil
			}
		}
	}

	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrExpiredToken
	}
	return nil, ErrInvalidToken
}
