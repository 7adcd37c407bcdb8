package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"parking-slots-backend/internal/apperr"
	"parking-slots-backend/internal/auth"
	"parking-slots-backend/internal/model"
	"parking-slots-backend/internal/parse"
	"parking-slots-backend/internal/reservation"
	"parking-slots-backend/internal/store"
)

type bookingRequest struct {
	SpaceID         string `json:"spaceId"`
	VehicleType     string `json:"vehicleType"`
	VehiclePlate    string `json:"vehiclePlate"`
	BookingDate     string `json:"bookingDate"`
	StartTime       string `json:"startTime"`
	EndTime         string `json:"endTime"`
	PaymentIntentID string `json:"paymentIntentId"`
}

// bindBooking decodes the body into a reservation request for the caller.
// It writes the error response itself and reports false on failure.
func (h *Handler) bindBooking(c *gin.Context) (reservation.Request, string, bool) {
	var body bookingRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return reservation.Request{}, "", false
	}
	window, err := parse.Window(body.BookingDate, body.StartTime, body.EndTime, h.bookings.Location())
	if err != nil {
		respondError(c, err)
		return reservation.Request{}, "", false
	}
	return reservation.Request{
		UserID:       auth.UserID(c),
		SpaceID:      body.SpaceID,
		VehicleType:  model.VehicleType(body.VehicleType),
		VehiclePlate: body.VehiclePlate,
		Window:       window,
	}, body.PaymentIntentID, true
}

// QuoteBooking prices a booking without reserving anything.
func (h *Handler) QuoteBooking(c *gin.Context) {
	req, _, ok := h.bindBooking(c)
	if !ok {
		return
	}
	q, err := h.bookings.Quote(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// CreatePaymentIntent prices a booking and opens a payment intent for it.
func (h *Handler) CreatePaymentIntent(c *gin.Context) {
	req, _, ok := h.bindBooking(c)
	if !ok {
		return
	}
	pq, err := h.bookings.CreatePaymentIntent(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pq)
}

// CreateBooking reserves a slot once its payment intent has succeeded.
func (h *Handler) CreateBooking(c *gin.Context) {
	req, intentID, ok := h.bindBooking(c)
	if !ok {
		return
	}
	b, err := h.bookings.ReserveWithPayment(c.Request.Context(), req, intentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// ListBookings returns the caller's booking history.
func (h *Handler) ListBookings(c *gin.Context) {
	bookings, err := h.bookings.History(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bookings)
}

// ListActiveBookings returns the caller's parked bookings for today.
func (h *Handler) ListActiveBookings(c *gin.Context) {
	bookings, err := h.bookings.ActiveBookings(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bookings)
}

// GetBooking returns one of the caller's bookings.
func (h *Handler) GetBooking(c *gin.Context) {
	b, err := h.bookings.Booking(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

type overtimeIntentRequest struct {
	OvertimeCharges float64 `json:"overtimeCharges"`
}

// CreateOvertimeIntent opens a payment intent for a booking's overtime.
func (h *Handler) CreateOvertimeIntent(c *gin.Context) {
	var body overtimeIntentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	q, err := h.bookings.CreateOvertimeIntent(c.Request.Context(), actor(c), c.Param("id"), body.OvertimeCharges)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

type checkoutRequest struct {
	OvertimeCharges float64 `json:"overtimeCharges"`
	PaymentIntentID string  `json:"paymentIntentId"`
}

// CheckoutBooking unparks the vehicle and completes the booking.
func (h *Handler) CheckoutBooking(c *gin.Context) {
	var body checkoutRequest
	// The body is optional: a checkout without overtime may send nothing.
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return
	}
	b, err := h.bookings.Checkout(c.Request.Context(), actor(c), c.Param("id"), reservation.CheckoutRequest{
		OvertimeCharges: body.OvertimeCharges,
		PaymentIntentID: body.PaymentIntentID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// CancelBooking cancels a confirmed booking and returns its slot.
func (h *Handler) CancelBooking(c *gin.Context) {
	b, err := h.bookings.Cancel(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

type releaseRequest struct {
	Reason model.BookingStatus `json:"reason"`
}

// ReleaseBooking moves any booking into a terminal state. Admin only.
func (h *Handler) ReleaseBooking(c *gin.Context) {
	var body releaseRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	if !body.Reason.Terminal() {
		respondError(c, apperr.Invalid("reason", "must be %q or %q", model.BookingCompleted, model.BookingCancelled))
		return
	}
	res, err := h.bookings.Release(c.Request.Context(), c.Param("id"), body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"booking":     res.Booking,
		"changed":     res.Changed,
		"poolMissing": res.PoolMissing,
	})
}

const (
	defaultAdminPage = 100
	maxAdminPage     = 500
)

type adminBookingsQuery struct {
	UserID  string `form:"userId"`
	SpaceID string `form:"spaceId"`
	Status  string `form:"status"`
	Paid    bool   `form:"paid"`
	Limit   int    `form:"limit"`
	Offset  int    `form:"offset"`
}

// ListAllBookings returns bookings of every user, optionally filtered. Admin only.
func (h *Handler) ListAllBookings(c *gin.Context) {
	var q adminBookingsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultAdminPage
	}
	if q.Limit > maxAdminPage {
		q.Limit = maxAdminPage
	}
	bookings, err := h.bookings.AllBookings(c.Request.Context(), store.BookingFilter{
		UserID:   q.UserID,
		SpaceID:  q.SpaceID,
		Status:   model.BookingStatus(q.Status),
		PaidOnly: q.Paid,
		Limit:    q.Limit,
		Offset:   q.Offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bookings)
}
