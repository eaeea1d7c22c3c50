package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticketing-admission/internal/middleware"
	"github.com/iliyamo/ticketing-admission/internal/service"
)

// AdmissionService is what the admission endpoints need from the gate.
type AdmissionService interface {
	Leave(ctx context.Context, eventID, userID uint64) (bool, error)
	Configure(ctx context.Context, eventID uint64, capacity int, lease time.Duration) error
	Status(ctx context.Context, eventID uint64) (service.GateStatus, error)
}

// AdmissionHandler serves the admission endpoints of an event.
type AdmissionHandler struct {
	Gate   AdmissionService
	Logger *slog.Logger
}

// NewAdmissionHandler constructs an AdmissionHandler.
func NewAdmissionHandler(gate AdmissionService, logger *slog.Logger) *AdmissionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdmissionHandler{Gate: gate, Logger: logger.With("component", "admission-handler")}
}

// Check handles GET /v1/events/:event_id/admission.  The admission
// middleware has already decided; reaching the handler means the caller is
// online.
func (h *AdmissionHandler) Check(c echo.Context) error {
	a, ok := middleware.AdmissionFrom(c)
	if !ok {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "admission missing"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"status":     string(a.Decision),
		"event_id":   a.EventID,
		"expires_at": a.ExpectedEndTime.UTC().Format(time.RFC3339),
	})
}

// Leave handles DELETE /v1/events/:event_id/admission.  It frees the
// caller's slot or queue entry and answers 204 either way.
func (h *AdmissionHandler) Leave(c echo.Context) error {
	eventID, ok := parseID(c, "event_id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	userID, err := middleware.UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if _, err := h.Gate.Leave(c.Request().Context(), eventID, userID); err != nil {
		return fail(c, h.Logger, err)
	}
	c.SetCookie(&http.Cookie{Name: middleware.CookieAdmission, Value: "", Path: "/", MaxAge: -1})
	return c.NoContent(http.StatusNoContent)
}

type configureRequest struct {
	Capacity     int `json:"capacity"`
	LeaseSeconds int `json:"lease_seconds"`
}

// Configure handles PUT /v1/admin/events/:event_id/admission.
func (h *AdmissionHandler) Configure(c echo.Context) error {
	eventID, ok := parseID(c, "event_id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	var body configureRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	lease := time.Duration(body.LeaseSeconds) * time.Second
	if err := h.Gate.Configure(c.Request().Context(), eventID, body.Capacity, lease); err != nil {
		return fail(c, h.Logger, err)
	}
	h.Logger.Info("admission configured", "event_id", eventID, "capacity", body.Capacity, "lease", lease)
	return h.Status(c)
}

// Status handles GET /v1/admin/events/:event_id/admission.
func (h *AdmissionHandler) Status(c echo.Context) error {
	eventID, ok := parseID(c, "event_id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	st, err := h.Gate.Status(c.Request().Context(), eventID)
	if err != nil {
		return fail(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"event_id":      st.EventID,
		"capacity":      st.Capacity,
		"lease_seconds": int64(st.Lease / time.Second),
		"online":        st.Online,
		"waiting":       st.Waiting,
	})
}
