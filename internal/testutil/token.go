package testutil

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessToken signs an HS256 access token the way the identity service
// does: sub carries the user ID, role the user's role.
func AccessToken(tb testing.TB, secret string, userID uint64, role string, ttl time.Duration) string {
	tb.Helper()
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": role,
		"exp":  now.Add(ttl).Unix(),
		"iat":  now.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		tb.Fatalf("sign token: %v", err)
	}
	return signed
}

// Bearer returns the Authorization header value for AccessToken.
func Bearer(tb testing.TB, secret string, userID uint64, role string) string {
	tb.Helper()
	return "Bearer " + AccessToken(tb, secret, userID, role, time.Hour)
}
