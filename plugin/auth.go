package plugin

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// bearerTokenTTL bounds how long a minted bearer token remains acceptable,
// so a captured handshake header cannot be replayed indefinitely.
const bearerTokenTTL = 5 * time.Minute

// signBearerToken mints a short-lived HS256 JWT over the shared secret,
// the concrete form the "shared bearer token" of the wire contract takes
// on this side of the connection.
func signBearerToken(secret, subject string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(bearerTokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// verifyBearerToken reports whether presented is a JWT signed with secret
// and not expired. An empty secret or presented token is always rejected.
func verifyBearerToken(presented, secret string) bool {
	if presented == "" || secret == "" {
		return false
	}
	_, err := jwt.ParseWithClaims(presented, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("plugin: unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	return err == nil
}
