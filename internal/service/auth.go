package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gateward/gateward/internal/model"
	"github.com/gateward/gateward/internal/registry"
	"github.com/gateward/gateward/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotConfigured      = errors.New("service token not configured")
	ErrNotAnAdmin         = errors.New("identity is not an admin")
)

// ServiceTokenKey is the settings key holding the SHA-256 hash of the shared
// service token the collaborators authenticate with.
const ServiceTokenKey = "auth.service_token_hash"

// AuthService authenticates the two kinds of callers: trusted collaborators
// presenting the shared service token, and dashboard sessions presenting a
// JWT issued for an admin identity.
type AuthService struct {
	store     *store.Store
	registry  *registry.Registry
	jwtSecret []byte
}

// NewAuthService creates an AuthService.
func NewAuthService(st *store.Store, reg *registry.Registry, jwtSecret string) *AuthService {
	return &AuthService{
		store:     st,
		registry:  reg,
		jwtSecret: []byte(jwtSecret),
	}
}

// SessionPrincipal is the authenticated identity behind a dashboard session.
type SessionPrincipal struct {
	Identity string
	Role     model.Role
}

// ValidateServiceToken checks the presented raw token against the stored
// hash. Comparison is constant-time over the hex digests.
func (s *AuthService) ValidateServiceToken(ctx context.Context, rawToken string) error {
	stored, err := s.store.GetSetting(ctx, ServiceTokenKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotConfigured
		}
		return err
	}

	presented := HashToken(rawToken)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// SetServiceToken stores the hash of a new service token.
func (s *AuthService) SetServiceToken(ctx context.Context, rawToken string) error {
	return s.store.SetSetting(ctx, ServiceTokenKey, HashToken(rawToken))
}

// IssueSessionJWT creates a signed session token for an admin identity. The
// caller must already hold the service token; the identity must classify as
// an admin.
func (s *AuthService) IssueSessionJWT(ctx context.Context, identity string, ttl time.Duration) (string, error) {
	role, err := s.registry.Classify(ctx, identity)
	if err != nil {
		return "", err
	}
	if !role.IsAdmin() {
		return "", ErrNotAnAdmin
	}

	now := time.Now()
	claims := sessionClaims{
		Identity: identity,
		Role:     string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "gateward",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateSessionJWT verifies a session token and re-checks that the identity
// still holds an admin role, so a demotion invalidates live sessions.
func (s *AuthService) ValidateSessionJWT(ctx context.Context, tokenStr string) (*SessionPrincipal, error) {
	claims := &sessionClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}

	role, err := s.registry.Classify(ctx, claims.Identity)
	if err != nil {
		return nil, err
	}
	if !role.IsAdmin() {
		return nil, ErrNotAnAdmin
	}

	return &SessionPrincipal{Identity: claims.Identity, Role: role}, nil
}

type sessionClaims struct {
	Identity string `json:"identity"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// HashToken returns the hex-encoded SHA-256 hash of a raw token.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
