package client

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// jwtExpiry pulls the exp claim out of a bearer token when it happens to be
// a JWT. The signature is deliberately not verified: the token is the
// server's, we only want its self-declared lifetime. Opaque tokens return
// false.
func jwtExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
