package api

import (
	stdhttp "net/http"

	"ticketbackend/internal/app"
	"ticketbackend/internal/domain"
	h "ticketbackend/internal/http/handlers"
	"ticketbackend/internal/http/middleware"
	"ticketbackend/internal/utils"

	"github.com/gin-gonic/gin"
)

func NewRouter(a *app.App) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logger(), gin.Recovery(), middleware.CORS(a.Config.CORS.AllowedOrigins))

	if err := r.SetTrustedProxies(nil); err != nil {
		utils.Log("", "http").WithError(err).Warn("failed to set trusted proxies")
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(stdhttp.StatusNotFound, gin.H{
			"success":    false,
			"message":    "route not found",
			"code":       domain.CodeNotFound,
			"path":       c.Request.URL.Path,
			"method":     c.Request.Method,
			"request_id": middleware.GetRequestID(c),
		})
	})

	hd := h.New(a)
	authed := middleware.RequireAuth(a.Tokens)
	userOnly := middleware.RequireRoles(domain.RoleUser)
	vendorOnly := middleware.RequireRoles(domain.RoleVendor)

	api := r.Group("/api")
	{
		api.GET("/health", hd.Health)
		api.GET("/db-check", hd.DBCheck)

		auth := api.Group("/auth")
		auth.POST("/login", hd.Login)
		auth.POST("/register", hd.Register)

		api.GET("/routes/:id", hd.GetRoute)

		bookings := api.Group("/bookings", authed)
		bookings.POST("", userOnly, hd.CreateBooking)
		bookings.GET("", hd.ListMyBookings)
		bookings.GET("/:id", hd.GetBooking)
		bookings.POST("/:id/cancel", hd.CancelBooking)
		bookings.GET("/:id/e-ticket", hd.GetETicket)
		bookings.GET("/:id/receipt", hd.GetReceipt)

		vendor := api.Group("/vendor", authed)
		vendor.POST("/routes", middleware.RequireRoles(domain.RoleVendor, domain.RoleAdmin), hd.CreateRoute)
		vendor.GET("/bookings", vendorOnly, hd.ListVendorBookings)
		vendor.PUT("/bookings/:id/accept", vendorOnly, hd.AcceptBooking)
		vendor.PUT("/bookings/:id/reject", vendorOnly, hd.RejectBooking)
		vendor.PUT("/bookings/:id/complete", vendorOnly, hd.CompleteBooking)

		admin := api.Group("/admin", authed, middleware.RequireRoles(domain.RoleAdmin))
		admin.PUT("/routes/:id/verification", hd.VerifyRoute)

		payments := api.Group("/payments")
		payments.POST("/update-payment-status", hd.UpdatePaymentStatus)
		payments.POST("/webhook", hd.PaymentWebhook)
		payments.POST("/create-checkout-session", authed, hd.CreateCheckoutSession)
		payments.POST("/refund", authed, userOnly, hd.RequestRefund)
		payments.GET("/history", authed, hd.PaymentHistory)
		payments.GET("/status/:bookingId", authed, hd.PaymentStatus)
		payments.GET("/export", authed, hd.ExportPayments)
	}

	return r
}
