package broker

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// controlAuth guards the Control channel with a bearer JWT signed by the
// shared secret from BrokerConfig.ControlToken.
type controlAuth struct {
	secret []byte
}

func newControlAuth(secret string) *controlAuth {
	return &controlAuth{secret: []byte(secret)}
}

// Validate parses and verifies an HS256 token against the shared secret.
func (a *controlAuth) Validate(token string) error {
	if token == "" {
		return fmt.Errorf("missing control token")
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return fmt.Errorf("invalid control token: %w", err)
	}
	if !parsed.Valid {
		return fmt.Errorf("invalid control token")
	}
	return nil
}

// IssueControlToken mints a short-lived control token, used by
// Client.Control (and so by gardenctl) to authenticate admin-plane calls.
func IssueControlToken(secret string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   "hootenanny-control",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(secret))
}
