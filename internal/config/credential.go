package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/deepgram/chatrelay/pkg/logger"
)

// expiryWarning is how close to expiry a credential may be before startup warns about it
const expiryWarning = time.Hour

// CheckCredential inspects an upstream bearer token. Opaque tokens are accepted
// as-is. Tokens that look like a JWT have their exp claim read without signature
// verification (the relay does not hold the upstream signing key): an expired
// token is an error and one close to expiry is logged.
func CheckCredential(token string, now time.Time) error {
	if strings.Count(token, ".") != 2 {
		return nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		l := logger.For(logger.CONFIG)
		l.Debug().Err(err).Msg("Upstream token is not a parseable JWT, treating as opaque")
		return nil
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}

	if !exp.After(now) {
		return fmt.Errorf("UPSTREAM_TOKEN expired at %s", exp.UTC().Format(time.RFC3339))
	}

	if remaining := exp.Sub(now); remaining < expiryWarning {
		l := logger.For(logger.CONFIG)
		l.Warn().Dur("remaining", remaining).Time("expires_at", exp.Time).Msg("Upstream token expires soon")
	}

	return nil
}
