package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const TokenTypeAccess TokenType = "access"

// Claims is the token the host bridge mints for each forwarded request.
// Roles are the caller's roles on the host platform at minting time.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	Roles     []string  `json:"roles"`
	TokenType TokenType `json:"token_type"`
}
