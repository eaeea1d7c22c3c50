package handler

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticketing-admission/internal/database"
)

// Health is a liveness endpoint used by load balancers.  It returns a plain
// text "ok" with 200.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Ready reports 503 while the database does not answer, since every
// admission decision needs it.
func Ready(db *sql.DB) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := database.Ping(c.Request().Context(), db, 2*time.Second); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
	}
}
