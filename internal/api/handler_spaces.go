package api

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"parking-slots-backend/internal/apperr"
	"parking-slots-backend/internal/model"
	"parking-slots-backend/internal/parse"
	"parking-slots-backend/internal/reservation"
)

const defaultNearbyRadius = 5000.0

// CreateSpace registers a new parking space.
func (h *Handler) CreateSpace(c *gin.Context) {
	var space model.ParkingSpace
	if err := c.ShouldBindJSON(&space); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.registry.Create(c.Request.Context(), &space); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, space)
}

// ListSpaces returns every registered space.
func (h *Handler) ListSpaces(c *gin.Context) {
	spaces, err := h.registry.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, spaces)
}

// GetSpace returns one space with its availability right now.
func (h *Handler) GetSpace(c *gin.Context) {
	space, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	avail, err := h.bookings.Availability(c.Request.Context(), space, model.Instant(h.bookings.Now()))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, avail)
}

type nearbySpace struct {
	*reservation.SpaceAvailability
	DistanceMeters float64 `json:"distanceMeters"`
}

// NearbySpaces lists active spaces within radius meters of lat/lng, each pool
// annotated with its effective availability for the requested window, or now.
func (h *Handler) NearbySpaces(c *gin.Context) {
	v := &apperr.ValidationError{}
	lat := queryFloat(c, v, "lat", nil)
	lng := queryFloat(c, v, "lng", nil)
	def := defaultNearbyRadius
	radius := queryFloat(c, v, "radius", &def)
	if err := v.OrNil(); err != nil {
		respondError(c, err)
		return
	}

	window, err := h.windowFromQuery(c)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	found, err := h.registry.FindNearby(ctx, lat, lng, radius)
	if err != nil {
		respondError(c, err)
		return
	}

	result := make([]nearbySpace, 0, len(found))
	for i := range found {
		avail, err := h.bookings.Availability(ctx, &found[i].ParkingSpace, window)
		if err != nil {
			respondError(c, err)
			return
		}
		result = append(result, nearbySpace{SpaceAvailability: avail, DistanceMeters: found[i].DistanceMeters})
	}
	c.JSON(http.StatusOK, result)
}

// GetAvailability reports effective availability of a space for a window.
// With a vehicleType it reports that single pool.
func (h *Handler) GetAvailability(c *gin.Context) {
	window, err := h.windowFromQuery(c)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	spaceID := c.Param("id")

	if raw := c.Query("vehicleType"); raw != "" {
		vt, ok := model.ParseVehicleType(raw)
		if !ok {
			respondError(c, apperr.Invalid("vehicleType", "%q is not a valid vehicle type", raw))
			return
		}
		available, err := h.bookings.EffectiveAvailability(ctx, spaceID, vt, window)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"spaceId":            spaceID,
			"vehicleType":        vt,
			"window":             window,
			"effectiveAvailable": available,
		})
		return
	}

	space, err := h.registry.Get(ctx, spaceID)
	if err != nil {
		respondError(c, err)
		return
	}
	avail, err := h.bookings.Availability(ctx, space, window)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, avail)
}

// DeleteSpace removes a space and its pools.
func (h *Handler) DeleteSpace(c *gin.Context) {
	if err := h.registry.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type setActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetSpaceActive opens or closes a space for new reservations.
func (h *Handler) SetSpaceActive(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.registry.SetActive(c.Request.Context(), c.Param("id"), *req.Active); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "active": *req.Active})
}

type resizePoolRequest struct {
	TotalSlots int `json:"totalSlots"`
}

// ResizePool changes the total slots of one vehicle type's pool.
func (h *Handler) ResizePool(c *gin.Context) {
	vt, ok := model.ParseVehicleType(c.Param("type"))
	if !ok {
		respondError(c, apperr.Invalid("vehicleType", "%q is not a valid vehicle type", c.Param("type")))
		return
	}
	var req resizePoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	pool, err := h.registry.ResizePool(c.Request.Context(), c.Param("id"), vt, req.TotalSlots)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pool)
}

// windowFromQuery reads date, startTime and endTime in the service's time zone.
// Without any of them the window is the current instant.
func (h *Handler) windowFromQuery(c *gin.Context) (model.TimeWindow, error) {
	date, start, end := c.Query("date"), c.Query("startTime"), c.Query("endTime")
	if date == "" && start == "" && end == "" {
		return model.Instant(h.bookings.Now()), nil
	}
	return parse.Window(date, start, end, h.bookings.Location())
}

// queryFloat parses a float query parameter into v's field list. A missing
// parameter falls back to def, or is an error when def is nil.
func queryFloat(c *gin.Context, v *apperr.ValidationError, key string, def *float64) float64 {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		if def == nil {
			v.Add(key, "is required")
			return 0
		}
		return *def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		v.Add(key, "must be a number")
		return 0
	}
	return f
}
