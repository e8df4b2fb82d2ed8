package auth

import (
	"errors"
	"fmt"
	"time"

	"telecom-keeper/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenType     = errors.New("auth: token_type mismatch")
	ErrMissingClaims = errors.New("auth: required claim missing")
)

// clockSkew is tolerated on exp, nbf and iat.
const clockSkew = 30 * time.Second

// Manager mints and verifies HS256 tokens scoped to a station.
type Manager struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 {
		return nil, errors.New("token ttls must be positive")
	}
	return &Manager{
		secret:     []byte(cfg.JWTSecret),
		issuer:     cfg.JWTIssuer,
		audience:   cfg.JWTAudience,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
	}, nil
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// IssuePair mints an access token carrying role and a role-less refresh token.
func (m *Manager) IssuePair(now time.Time, userID, stationID, role string) (TokenPair, error) {
	if userID == "" || stationID == "" || role == "" {
		return TokenPair{}, ErrMissingClaims
	}
	access, err := m.sign(Claims{UserID: userID, StationID: stationID, Role: role, TokenType: TokenTypeAccess}, now, m.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := m.sign(Claims{UserID: userID, StationID: stationID, TokenType: TokenTypeRefresh}, now, m.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Verify parses tokenString and checks signature, time claims, issuer and
// audience as evaluated at now, then the custom claims for the expected type.
func (m *Manager) Verify(tokenString string, expected TokenType, now time.Time) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(clockSkew),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	var claims Claims
	if _, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, &claims, m.key); err != nil {
		return Claims{}, err
	}

	if claims.TokenType != expected {
		return Claims{}, ErrTokenType
	}
	switch {
	case claims.UserID == "":
		return Claims{}, fmt.Errorf("%w: user_id", ErrMissingClaims)
	case claims.StationID == "":
		return Claims{}, fmt.Errorf("%w: station_id", ErrMissingClaims)
	case expected == TokenTypeAccess && claims.Role == "":
		return Claims{}, fmt.Errorf("%w: role", ErrMissingClaims)
	}
	return claims, nil
}

func (m *Manager) key(*jwt.Token) (any, error) { return m.secret, nil }

func (m *Manager) sign(c Claims, now time.Time, ttl time.Duration) (string, error) {
	c.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	if m.audience != "" {
		c.Audience = jwt.ClaimStrings{m.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
}
