package transport

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/credentials"
)

const (
	authorizationHeader = "authorization"
	authScheme          = "Bearer"
)

// TokenCredentials presents a bearer token that can be replaced while the
// channel is in use. Nothing is presented while the token is empty.
type TokenCredentials struct {
	mu    sync.RWMutex
	token string
}

var _ credentials.PerRPCCredentials = (*TokenCredentials)(nil)

// NewTokenCredentials returns credentials presenting token.
func NewTokenCredentials(token string) *TokenCredentials {
	return &TokenCredentials{token: strings.TrimSpace(token)}
}

// SetToken replaces the token presented by subsequent requests.
func (c *TokenCredentials) SetToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

// Token returns the current token.
func (c *TokenCredentials) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *TokenCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	token := c.Token()
	if token == "" {
		return nil, nil
	}
	return map[string]string{authorizationHeader: authScheme + " " + token}, nil
}

// RequireTransportSecurity is false: local brokers commonly run plaintext
// with authorization enabled.
func (c *TokenCredentials) RequireTransportSecurity() bool { return false }

// LoadToken reads a JSON Web Token from path. A token that is already
// expired is still returned; the broker has the final say, but the mismatch
// is logged since it is the usual cause of Unauthenticated errors.
func LoadToken(path string, logger zerolog.Logger) (*Authentication, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("transport: read token %s: %w", path, err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return nil, fmt.Errorf("transport: token file %s is empty", path)
	}

	expiry, err := TokenExpiry(token)
	switch {
	case err != nil:
		logger.Warn().Err(err).Str("path", path).Msg("token is not a parseable JWT")
	case !expiry.IsZero() && expiry.Before(time.Now()):
		logger.Warn().Time("expired_at", expiry).Str("path", path).Msg("token already expired")
	}
	return &Authentication{Token: token}, nil
}

// TokenExpiry returns the "exp" claim of a JWT without verifying its
// signature. The zero time means the token carries no expiry.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("transport: parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("transport: token expiry: %w", err)
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}
