package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/runclub-portal/internal/handler"
	"github.com/iliyamo/runclub-portal/internal/middleware"
)

// RegisterAdmin registers the back office under /v1/admin.  All routes
// require a valid JWT and an admins row for the caller.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, s *handler.StravaHandler, o Options) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(o.JWTSecret),
		middleware.RequireAdmin(o.Admins, a.Log),
	)

	// ---- Events ----
	g.GET("/events", a.ListEvents)
	g.POST("/events", a.CreateEvent)
	g.GET("/events/:id", a.GetEvent)
	g.PUT("/events/:id", a.UpdateEvent)
	g.POST("/events/:id/archive", a.ArchiveEvent)
	g.DELETE("/events/:id", a.DeleteEvent)
	g.GET("/events/:id/bookings", a.EventBookings)

	// ---- Members ----
	g.GET("/members", a.ListMembers)
	g.GET("/members/:id", a.GetMember)
	g.PUT("/members/:id", a.UpdateMember)
	g.DELETE("/members/:id", a.DeleteMember)

	// ---- Reviews ----
	g.GET("/reviews", a.ListReviews)
	g.PATCH("/reviews/:id", a.SetReviewStatus)
	g.DELETE("/reviews/:id", a.DeleteReview)

	// ---- Coupons ----
	g.GET("/coupons", a.ListCoupons)
	g.POST("/coupons", a.CreateCoupon)
	g.GET("/coupons/:id", a.GetCoupon)
	g.PUT("/coupons/:id", a.UpdateCoupon)
	g.DELETE("/coupons/:id", a.DeleteCoupon)
	g.GET("/coupons/:id/usages", a.CouponUsages)

	// ---- Check-in ----
	g.POST("/checkin", a.CheckIn)
	g.DELETE("/checkin/:ref", a.UndoCheckIn)

	// ---- Reconciliation ----
	g.POST("/reconcile/events/:id", a.ReconcileEvent)
	g.POST("/reconcile/members/:id", a.ReconcileMember)
	g.POST("/reconcile/emails", a.ReconcileEmails)
	g.POST("/reconcile/attendee-links", a.LinkAttendees)

	// ---- Jobs ----
	g.POST("/holds/expire", a.ExpireHolds)
	g.POST("/leaderboard/sync", s.SyncAll)
}
