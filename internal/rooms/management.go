package rooms

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const DefaultManagementTTL = 24 * time.Hour

type managementClaims struct {
	jwt.RegisteredClaims

	AccessKey string `json:"access_key"`
	Type      string `json:"type"`
	Version   int    `json:"version"`
}

// ManagementCredential authenticates calls to the provider control API.
// The signed token is cached and re-signed once it gets within the refresh
// margin of its expiry. Safe for concurrent use.
type ManagementCredential struct {
	accessKey string
	secret    []byte
	ttl       time.Duration
	margin    time.Duration
	now       func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewManagementCredential(accessKey, secret string, ttl time.Duration) *ManagementCredential {
	if ttl <= 0 {
		ttl = DefaultManagementTTL
	}
	margin := ttl / 10
	if margin < time.Minute {
		margin = time.Minute
	}
	if margin >= ttl {
		margin = ttl / 2
	}
	return &ManagementCredential{
		accessKey: accessKey,
		secret:    []byte(secret),
		ttl:       ttl,
		margin:    margin,
		now:       time.Now,
	}
}

// Token returns the cached credential, signing a new one when needed.
func (m *ManagementCredential) Token() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.token != "" && now.Before(m.expiresAt.Add(-m.margin)) {
		return m.token, nil
	}

	exp := now.Add(m.ttl)
	claims := managementClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		AccessKey: m.accessKey,
		Type:      tokenTypeManagement,
		Version:   tokenVersion,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", err
	}
	m.token = tok
	m.expiresAt = exp
	return tok, nil
}
