// Package auth issues and verifies bearer access tokens.
package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const (
	// Issuer is set on every access token.
	Issuer = "marketsense"
	// DefaultTokenTTL is the lifetime of tokens minted by the CLI.
	DefaultTokenTTL = 24 * time.Hour
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid access token")

// ClaimsMessage is the payload of an access token. The subject holds the
// user id.
type ClaimsMessage struct {
	jwt.RegisteredClaims
}

// GenerateAccessToken signs an HS256 token for userID.
func GenerateAccessToken(userID string, expiresAt time.Time, secret []byte) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id is required")
	}
	if len(secret) == 0 {
		return "", errors.New("secret is required")
	}
	claims := &ClaimsMessage{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign access token")
	}
	return token, nil
}

// ParseAccessToken verifies tokenString and returns the user id it names.
func ParseAccessToken(tokenString string, secret []byte) (string, error) {
	claims := &ClaimsMessage{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", errors.Wrap(ErrInvalidToken, err.Error())
	}
	if claims.Subject == "" {
		return "", errors.Wrap(ErrInvalidToken, "token has no subject")
	}
	return claims.Subject, nil
}

// ExtractBearerToken returns the token of an Authorization header value.
func ExtractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
