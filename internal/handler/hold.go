package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticketing-admission/internal/middleware"
	"github.com/iliyamo/ticketing-admission/internal/model"
	"github.com/iliyamo/ticketing-admission/internal/repository"
)

// HoldService is what the hold endpoints need from the reservation manager.
type HoldService interface {
	BeginHold(ctx context.Context, seatID, userID uint64, ttl time.Duration) (model.SeatHold, error)
	GetHold(ctx context.Context, holdID string) (model.SeatHold, error)
	ReleaseHold(ctx context.Context, holdID string) error
	CompleteHold(ctx context.Context, holdID string) error
	AttachHold(ctx context.Context, holdID string, orderID uint64) error
	MaxHoldTTL() time.Duration
}

// HoldHandler serves seat hold endpoints.  All routes sit behind JWTAuth
// and the admission middleware, and a caller may only touch their own holds.
type HoldHandler struct {
	Holds  HoldService
	Logger *slog.Logger
}

// NewHoldHandler constructs a HoldHandler.
func NewHoldHandler(holds HoldService, logger *slog.Logger) *HoldHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HoldHandler{Holds: holds, Logger: logger.With("component", "hold-handler")}
}

type holdResponse struct {
	HoldID    string  `json:"hold_id"`
	SeatID    uint64  `json:"seat_id"`
	Status    string  `json:"status"`
	OrderID   *uint64 `json:"order_id,omitempty"`
	ExpiresAt string  `json:"expires_at"`
}

func toHoldResponse(h model.SeatHold) holdResponse {
	return holdResponse{
		HoldID:    h.ID,
		SeatID:    h.SeatID,
		Status:    string(h.Status),
		OrderID:   h.OrderID,
		ExpiresAt: h.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

// Create handles POST /v1/events/:event_id/holds with {"seat_id": n,
// "ttl_seconds": n}.  ttl_seconds is optional and may not exceed the
// configured maximum hold.
func (h *HoldHandler) Create(c echo.Context) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		SeatID     uint64 `json:"seat_id"`
		TTLSeconds int    `json:"ttl_seconds"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.SeatID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seat_id is required"})
	}
	if body.TTLSeconds < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "ttl_seconds must not be negative"})
	}
	if maxSecs := int64(h.Holds.MaxHoldTTL() / time.Second); int64(body.TTLSeconds) > maxSecs {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "ttl_seconds must not exceed " + strconv.FormatInt(maxSecs, 10)})
	}
	hold, err := h.Holds.BeginHold(c.Request().Context(), body.SeatID, userID, time.Duration(body.TTLSeconds)*time.Second)
	if err != nil {
		return fail(c, h.Logger, err)
	}
	return c.JSON(http.StatusCreated, toHoldResponse(hold))
}

// owned loads the hold named in the path and checks it belongs to the
// caller.  On failure the response has already been written and ok is false.
func (h *HoldHandler) owned(c echo.Context) (hold model.SeatHold, ok bool, err error) {
	userID, err := middleware.UserID(c)
	if err != nil {
		return model.SeatHold{}, false, c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	hold, err = h.Holds.GetHold(c.Request().Context(), c.Param("hold_id"))
	if err != nil {
		return model.SeatHold{}, false, fail(c, h.Logger, err)
	}
	if hold.UserID != userID {
		return model.SeatHold{}, false, fail(c, h.Logger, repository.ErrForbidden)
	}
	return hold, true, nil
}

// Get handles GET /v1/events/:event_id/holds/:hold_id.
func (h *HoldHandler) Get(c echo.Context) error {
	hold, ok, err := h.owned(c)
	if !ok {
		return err
	}
	return c.JSON(http.StatusOK, toHoldResponse(hold))
}

// Release handles DELETE /v1/events/:event_id/holds/:hold_id.
func (h *HoldHandler) Release(c echo.Context) error {
	hold, ok, err := h.owned(c)
	if !ok {
		return err
	}
	if err := h.Holds.ReleaseHold(c.Request().Context(), hold.ID); err != nil {
		return fail(c, h.Logger, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Complete handles POST /v1/events/:event_id/holds/:hold_id/complete.
func (h *HoldHandler) Complete(c echo.Context) error {
	hold, ok, err := h.owned(c)
	if !ok {
		return err
	}
	if err := h.Holds.CompleteHold(c.Request().Context(), hold.ID); err != nil {
		return fail(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"hold_id": hold.ID, "status": string(model.HoldCompleted)})
}

// Attach handles POST /v1/events/:event_id/holds/:hold_id/order with
// {"order_id": n}.
func (h *HoldHandler) Attach(c echo.Context) error {
	hold, ok, err := h.owned(c)
	if !ok {
		return err
	}
	var body struct {
		OrderID uint64 `json:"order_id"`
	}
	if err := c.Bind(&body); err != nil || body.OrderID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "order_id is required"})
	}
	if err := h.Holds.AttachHold(c.Request().Context(), hold.ID, body.OrderID); err != nil {
		return fail(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"hold_id": hold.ID, "order_id": body.OrderID})
}
