package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"parking-slots-backend/internal/apperr"
	"parking-slots-backend/internal/auth"
	"parking-slots-backend/internal/reconciler"
	"parking-slots-backend/internal/registry"
	"parking-slots-backend/internal/reservation"
	"parking-slots-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	registry   *registry.Registry
	bookings   *reservation.Service
	reconciler *reconciler.Reconciler
	store      store.Store
	webpush    *webpush.Options
}

// NewHandler creates a new API handler. rec may be nil when the process does
// not run the reconciler.
func NewHandler(reg *registry.Registry, bookings *reservation.Service, rec *reconciler.Reconciler, s store.Store, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		registry:   reg,
		bookings:   bookings,
		reconciler: rec,
		store:      s,
		webpush:    webpushOptions,
	}
}

// respondError renders a domain error with the status apperr assigns to it.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)

	var verr *apperr.ValidationError
	if errors.As(err, &verr) {
		c.JSON(status, gin.H{"error": "validation failed", "fields": verr.Fields})
		return
	}
	if status >= http.StatusInternalServerError {
		log.Printf("ERROR: %s %s: %v", c.Request.Method, c.FullPath(), err)
		if status == http.StatusInternalServerError {
			c.JSON(status, gin.H{"error": "internal server error"})
			return
		}
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func actor(c *gin.Context) reservation.Actor {
	return reservation.Actor{UserID: auth.UserID(c), Admin: auth.IsAdmin(c)}
}

// GetHealth reports liveness and when the reconciler last swept.
func (h *Handler) GetHealth(c *gin.Context) {
	resp := gin.H{"status": "ok", "time": h.bookings.Now()}
	if h.reconciler != nil {
		if last := h.reconciler.LastSweep(); !last.IsZero() {
			resp["lastSweep"] = last
		}
	}
	c.JSON(http.StatusOK, resp)
}

// RunReconciler runs one sweep, reminder pass and drift audit on demand.
func (h *Handler) RunReconciler(c *gin.Context) {
	if h.reconciler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reconciler is not configured"})
		return
	}
	if err := h.reconciler.RunOnce(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lastSweep": h.reconciler.LastSweep()})
}
