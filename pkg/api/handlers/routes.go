package handlers

import (
	"github.com/labstack/echo/v4"
)

// Routes wires the handlers onto the /api/v1 group
type Routes struct {
	Access       *AccessHandler
	Stream       *StreamHandler
	Usage        *UsageHandler
	Subscription *SubscriptionHandler
	Billing      *BillingHandler

	Auth         echo.MiddlewareFunc
	OptionalAuth echo.MiddlewareFunc
	Admin        echo.MiddlewareFunc
	Metered      echo.MiddlewareFunc
}

// Register mounts every route. Metered may be nil.
func (r Routes) Register(v1 *echo.Group) {
	metered := []echo.MiddlewareFunc{r.Auth}
	if r.Metered != nil {
		metered = append(metered, r.Metered)
	}

	v1.GET("/access/route", r.Access.Route, r.OptionalAuth)

	v1.GET("/access", r.Access.Get, r.Auth)
	v1.POST("/access/refetch", r.Access.Refetch, r.Auth)
	v1.POST("/access/events", r.Access.Event, r.Auth)
	v1.POST("/auth/logout", r.Access.Logout, r.Auth)
	v1.POST("/subscription/cancel", r.Subscription.Cancel, r.Auth)
	if r.Stream != nil {
		v1.GET("/access/stream", r.Stream.Stream, r.Auth)
	}
	if r.Billing != nil {
		v1.POST("/billing/checkout", r.Billing.Checkout, r.Auth)
		v1.POST("/webhooks/stripe", r.Billing.Webhook)
	}

	v1.POST("/usage", r.Usage.Record, metered...)
	v1.POST("/generate", r.Usage.Generate, metered...)

	v1.POST("/admin/users/:id/subscription", r.Subscription.Grant, r.Auth, r.Admin)
}
