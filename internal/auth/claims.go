package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for the control API.
// StationID scopes a token to one keeperd instance; rbac.RequireStation
// rejects tokens minted for another station.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	StationID string    `json:"station_id"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
