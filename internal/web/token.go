package web

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// userTokenCookie carries the signed user identity between requests.
	userTokenCookie = "__userToken"

	userTokenTTL = 30 * 24 * time.Hour
)

// ErrInvalidToken is returned for a missing, malformed, expired or
// wrongly-signed user token.
var ErrInvalidToken = errors.New("invalid or missing user token")

// issueUserToken signs a JWT whose subject is the Spotify user id.
func issueUserToken(secret []byte, userID string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(userTokenTTL)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing user token: %w", err)
	}
	return signed, nil
}

// parseUserToken verifies a user token and returns its subject.
func parseUserToken(secret []byte, tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
