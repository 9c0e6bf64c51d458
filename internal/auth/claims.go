package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess TokenType = "access"
)

// Claims are the only supported bearer claims shape for this service.
// Identity is issued upstream; this service only needs who the caller is
// and how to display them to the other participant.
type Claims struct {
	jwt.RegisteredClaims

	UserID      string    `json:"user_id"`
	DisplayName string    `json:"name,omitempty"`
	TokenType   TokenType `json:"token_type"`
}
