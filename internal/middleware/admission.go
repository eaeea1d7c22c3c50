package middleware

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticketing-admission/internal/model"
	"github.com/iliyamo/ticketing-admission/internal/service"
)

// Admission headers and cookie.  A client that was admitted before sends
// the session back (cookie or header) so that a vanished record is reported
// as an eviction instead of silently re-queueing the user.
const (
	HeaderAdmissionExpires = "X-Admission-Expires"
	HeaderAdmissionSession = "X-Admission-Session"
	CookieAdmission        = "admission_session"
	ContextAdmission       = "admission"
)

// retryAfterStorage is sent with 503 answers when the store is down.
const retryAfterStorage = 5

// Admitter is the admission gate as seen by HTTP.
type Admitter interface {
	Admit(ctx context.Context, eventID, userID uint64) (service.Admission, error)
	Resume(ctx context.Context, eventID, userID uint64) (service.Admission, error)
}

// Admission guards routes under /events/:event_id.  Online callers proceed
// with the decision stored under ContextAdmission; waiting callers get 202
// with their queue position; evicted callers get 401 and must sign in
// again.  A storage failure fails closed with 503.
func Admission(gate Admitter, logger *slog.Logger) echo.MiddlewareFunc {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "admission-middleware")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			eventID, err := strconv.ParseUint(c.Param("event_id"), 10, 64)
			if err != nil || eventID == 0 {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
			}
			userID, err := UserID(c)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			}

			ctx := c.Request().Context()
			var a service.Admission
			if resuming(c, eventID) {
				a, err = gate.Resume(ctx, eventID, userID)
			} else {
				a, err = gate.Admit(ctx, eventID, userID)
			}
			if err != nil {
				if errors.Is(err, service.ErrStorageUnavailable) {
					logger.Warn("admission store unavailable", "event_id", eventID, "error", err)
					c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfterStorage))
					return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "admission temporarily unavailable"})
				}
				logger.Error("admission failed", "event_id", eventID, "error", err)
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "admission failed"})
			}

			switch a.Decision {
			case model.DecisionOnline:
				c.Response().Header().Set(HeaderAdmissionExpires, a.ExpectedEndTime.UTC().Format(time.RFC3339))
				c.SetCookie(&http.Cookie{
					Name:     CookieAdmission,
					Value:    strconv.FormatUint(eventID, 10),
					Path:     "/",
					Expires:  a.ExpectedEndTime,
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
				c.Set(ContextAdmission, a)
				return next(c)
			case model.DecisionWaiting:
				wait := int64(math.Ceil(a.EstimatedWait.Seconds()))
				c.Response().Header().Set("Retry-After", strconv.FormatInt(min(wait, 30), 10))
				return c.JSON(http.StatusAccepted, echo.Map{
					"status":                 "waiting",
					"position":               a.Position,
					"ahead":                  a.Ahead,
					"estimated_wait_seconds": wait,
				})
			default:
				c.SetCookie(&http.Cookie{Name: CookieAdmission, Value: "", Path: "/", MaxAge: -1})
				return c.JSON(http.StatusUnauthorized, echo.Map{"status": "evicted", "error": "admission expired, sign in again"})
			}
		}
	}
}

// resuming reports whether the client says it already holds an admission
// for eventID.
func resuming(c echo.Context, eventID uint64) bool {
	want := strconv.FormatUint(eventID, 10)
	if c.Request().Header.Get(HeaderAdmissionSession) == want {
		return true
	}
	if ck, err := c.Cookie(CookieAdmission); err == nil && ck.Value == want {
		return true
	}
	return false
}

// AdmissionFrom returns the decision stored by Admission.
func AdmissionFrom(c echo.Context) (service.Admission, bool) {
	a, ok := c.Get(ContextAdmission).(service.Admission)
	return a, ok
}
