package api

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// jwtWithExpiry signs a token for "core" that expires at exp.
func jwtWithExpiry(exp time.Time) (string, error) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "core",
		IssuedAt:  jwt.NewNumericDate(exp.Add(-time.Hour)),
		ExpiresAt: jwt.NewNumericDate(exp),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
}
