// Package http provides the HTTP server implementation for the management receiver.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/gogo/mgmt/internal/service"
	"github.com/xiaot623/gogo/mgmt/internal/transport/http/management"
)

// bodyLimit caps management request bodies.
const bodyLimit = "1M"

// NewServer creates and configures the management HTTP server.
func NewServer(svc *service.Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	// The audit origin is the peer address; forwarding headers are not trusted.
	e.IPExtractor = echo.ExtractIPDirect()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(bodyLimit))

	// Handlers
	h := management.NewHandler(svc)
	h.RegisterRoutes(e)

	return e
}
