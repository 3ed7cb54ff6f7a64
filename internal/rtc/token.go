package rtc

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenMinter issues the HS256 join tokens embedded in JoinCredentials.
// The provider validates them with the shared API secret.
type TokenMinter struct {
	apiKey string
	secret []byte
	ttl    time.Duration
}

func NewTokenMinter(apiKey, apiSecret string, ttl time.Duration) (*TokenMinter, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, errors.New("rtc api key and secret are required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TokenMinter{apiKey: apiKey, secret: []byte(apiSecret), ttl: ttl}, nil
}

// roomClaims carries the room grant inside the token.
type roomClaims struct {
	jwt.RegisteredClaims

	Room     string            `json:"room"`
	Grants   Permissions       `json:"grants"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Mint issues a join token for one identity in one room.
func (m *TokenMinter) Mint(now time.Time, identity, roomName string, perms Permissions, metadata map[string]string) (string, error) {
	if identity == "" || roomName == "" {
		return "", errors.New("identity and room name are required")
	}

	claims := roomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.apiKey,
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        uuid.NewString(),
		},
		Room:     roomName,
		Grants:   perms,
		Metadata: metadata,
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.secret)
}
