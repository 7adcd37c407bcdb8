package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"parking-slots-backend/config"
	"parking-slots-backend/internal/auth"
	"parking-slots-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg config.ServerConfig, h *Handler, verifier *auth.Verifier) *gin.Engine {
	r := gin.Default()

	limit := rate.Limit(cfg.RateLimitPerSec)
	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second

	// Public space reads are cached briefly; any successful write flushes them.
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	r.GET("/healthz", h.GetHealth)

	api := r.Group("/api")
	api.Use(mw.Invalidate(cacheStore))

	public := api.Group("")
	public.Use(mw.RateLimiter(limit, cfg.RateLimitBurst))
	{
		public.GET("/spaces", caching, h.ListSpaces)
		public.GET("/spaces/nearby", caching, h.NearbySpaces)
		public.GET("/spaces/:id", caching, h.GetSpace)
		public.GET("/spaces/:id/availability", caching, h.GetAvailability)
		public.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	// Authenticated callers are limited per user rather than per IP.
	private := api.Group("")
	private.Use(verifier.Authenticate(), mw.RateLimiter(limit, cfg.RateLimitBurst))
	{
		private.POST("/bookings/quote", h.QuoteBooking)
		private.POST("/bookings/intent", h.CreatePaymentIntent)
		private.POST("/bookings", h.CreateBooking)
		private.GET("/bookings", h.ListBookings)
		private.GET("/bookings/active", h.ListActiveBookings)
		private.GET("/bookings/:id", h.GetBooking)
		private.POST("/bookings/:id/overtime-intent", h.CreateOvertimeIntent)
		private.POST("/bookings/:id/checkout", h.CheckoutBooking)
		private.POST("/bookings/:id/cancel", h.CancelBooking)

		private.GET("/subscriptions", h.GetSubscriptions)
		private.PUT("/subscriptions", h.PutSubscription)
		private.DELETE("/subscriptions", h.DeleteSubscription)
	}

	admin := private.Group("")
	admin.Use(auth.RequireRole(auth.RoleAdmin))
	{
		admin.POST("/spaces", h.CreateSpace)
		admin.DELETE("/spaces/:id", h.DeleteSpace)
		admin.PATCH("/spaces/:id/active", h.SetSpaceActive)
		admin.PATCH("/spaces/:id/pools/:type", h.ResizePool)
		admin.POST("/bookings/:id/release", h.ReleaseBooking)
		admin.GET("/admin/bookings", h.ListAllBookings)
		admin.POST("/admin/reconcile", h.RunReconciler)
	}

	return r
}
