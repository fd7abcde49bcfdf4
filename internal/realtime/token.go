package realtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type serverClaims struct {
	Server bool `json:"server"`
	jwt.RegisteredClaims
}

type userClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// serverToken signs the short-lived credential used on every provider request.
func (c *Client) serverToken() (string, error) {
	now := c.now()
	claims := serverClaims{
		Server: true,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign server token: %w", err)
	}
	return signed, nil
}

// UserToken mints a client token for identity.
func (c *Client) UserToken(identity string) (string, time.Time, error) {
	if identity == "" {
		return "", time.Time{}, errors.New("identity is required")
	}
	now := c.now()
	expires := now.Add(c.userTokenTTL)
	claims := userClaims{
		UserID: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign user token: %w", err)
	}
	return signed, expires, nil
}

// APIKey is the public key clients pair with a user token.
func (c *Client) APIKey() string {
	return c.apiKey
}
