package rooms

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenTypeApp        = "app"
	tokenTypeManagement = "management"
	tokenVersion        = 2

	DefaultJoinTokenTTL = 24 * time.Hour
)

// JoinClaims is the payload of a client-facing join token.
type JoinClaims struct {
	jwt.RegisteredClaims

	AccessKey string `json:"access_key"`
	RoomID    string `json:"room_id"`
	UserID    string `json:"user_id"`
	Role      Role   `json:"role"`
	Name      string `json:"name,omitempty"`
	Type      string `json:"type"`
	Version   int    `json:"version"`
}

// TokenIssuer signs join tokens with the server-held room secret.
type TokenIssuer struct {
	accessKey string
	secret    []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewTokenIssuer generates a random process-local secret when secret is
// empty, which is only useful for mock rooms.
func NewTokenIssuer(accessKey, secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultJoinTokenTTL
	}
	key := []byte(secret)
	if len(key) == 0 {
		key = randomKey()
	}
	return &TokenIssuer{accessKey: accessKey, secret: key, ttl: ttl, now: time.Now}
}

func (i *TokenIssuer) Issue(req JoinTokenRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = i.ttl
	}
	now := i.now()
	claims := JoinClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		AccessKey: i.accessKey,
		RoomID:    req.RoomID,
		UserID:    req.UserID,
		Role:      req.Role,
		Name:      req.DisplayName,
		Type:      tokenTypeApp,
		Version:   tokenVersion,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify parses a join token. The provider does this on its side; the
// service uses it in tests and for local mock rooms.
func (i *TokenIssuer) Verify(token string) (JoinClaims, error) {
	var claims JoinClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	_, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		return JoinClaims{}, err
	}
	if claims.Type != tokenTypeApp {
		return JoinClaims{}, errors.New("rooms: not a join token")
	}
	return claims, nil
}

func randomKey() []byte {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand does not fail on supported platforms.
		panic(err)
	}
	return []byte(hex.EncodeToString(b))
}
