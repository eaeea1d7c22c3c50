package middleware

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"
)

// ErrNoIdentity is returned by UserID when the request carries no usable
// subject claim.
var ErrNoIdentity = errors.New("invalid user_id in context")

// UserID returns the authenticated user stored by JWTAuth.  The sub claim
// may arrive as a JSON number or a decimal string.
func UserID(c echo.Context) (uint64, error) {
	switch t := c.Get(ContextUserID).(type) {
	case uint64:
		return t, nil
	case int:
		if t > 0 {
			return uint64(t), nil
		}
	case int64:
		if t > 0 {
			return uint64(t), nil
		}
	case float64:
		if t > 0 && t == float64(uint64(t)) {
			return uint64(t), nil
		}
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil && n > 0 {
			return n, nil
		}
	}
	return 0, ErrNoIdentity
}

// userKey is the rate limiter's view of the caller.
func userKey(c echo.Context) string {
	if id, err := UserID(c); err == nil {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
